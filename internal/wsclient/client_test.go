package wsclient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newTestWSPair(t *testing.T) (server, client *websocket.Conn) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	var serverConn *websocket.Conn
	ready := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		serverConn = conn
		close(ready)
	}))
	t.Cleanup(srv.Close)

	target := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(target, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { clientConn.Close() })
	<-ready
	t.Cleanup(func() { serverConn.Close() })
	return serverConn, clientConn
}

func TestWsURLRewritesHTTPToWS(t *testing.T) {
	got := wsURL("http://cloud.local:8010", "G1")
	want := "ws://cloud.local:8010/ws/gate/G1"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestWsURLRewritesHTTPSToWSS(t *testing.T) {
	got := wsURL("https://cloud.local", "G2")
	want := "wss://cloud.local/ws/gate/G2"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestWsURLRejectsUnparseableInput(t *testing.T) {
	got := wsURL("://bad", "G1")
	if got != "" {
		t.Fatalf("expected empty string for an unparseable cloud API, got %q", got)
	}
}

func TestNewClientStartsDisconnected(t *testing.T) {
	c := New("http://cloud.local", "G1")
	if c.Connected() {
		t.Fatalf("expected a fresh client to report disconnected")
	}
	if c.LastRTT() != 0 {
		t.Fatalf("expected zero LastRTT before any ping/pong, got %v", c.LastRTT())
	}
}

func TestSendSyncEventNestsPayloadUnderEvent(t *testing.T) {
	t.Parallel()
	serverConn, clientConn := newTestWSPair(t)
	c := &Client{conn: clientConn}

	c.SendSyncEvent("vehicle_in", map[string]interface{}{"plate": "ABC-123", "slot": "A1"})

	serverConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := serverConn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var top map[string]interface{}
	if err := json.Unmarshal(raw, &top); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if top["type"] != "sync_event" {
		t.Fatalf("expected top-level type sync_event, got %v", top["type"])
	}
	if _, flattened := top["plate"]; flattened {
		t.Fatalf("payload must be nested under \"event\", not flattened into the top-level frame: %+v", top)
	}
	event, ok := top["event"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected an \"event\" object, got %+v", top)
	}
	if event["type"] != "vehicle_in" || event["plate"] != "ABC-123" || event["slot"] != "A1" {
		t.Fatalf("unexpected nested event: %+v", event)
	}
}

func TestReadLoopComputesRTTFromEchoedPongTs(t *testing.T) {
	t.Parallel()
	serverConn, clientConn := newTestWSPair(t)
	c := &Client{conn: clientConn}

	done := make(chan struct{})
	go c.readLoop(clientConn, done)

	sentTs := time.Now().UnixMilli() - 50
	if err := serverConn.WriteJSON(map[string]interface{}{
		"type": "pong", "gate": "G1", "ts": sentTs, "server_ts": time.Now().UnixMilli(),
	}); err != nil {
		t.Fatalf("write pong: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if rtt := c.LastRTT(); rtt != 0 {
			if rtt < 30*time.Millisecond {
				t.Fatalf("expected RTT to reflect the ~50ms echoed ts gap, got %v", rtt)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected LastRTT to become non-zero after a pong frame echoing ts")
}
