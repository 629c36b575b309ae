package eventbus

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type fakeHeartbeatSink struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeHeartbeatSink) Heartbeat(_ context.Context, gateID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, gateID)
	return nil
}

func (f *fakeHeartbeatSink) callCount() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newTestHub(t *testing.T) (*fakeHeartbeatSink, *httptest.Server) {
	t.Helper()
	sink := &fakeHeartbeatSink{}
	hub := NewHub(sink, nil)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gateID := strings.TrimPrefix(r.URL.Path, "/ws/gate/")
		_ = hub.Serve(w, r, gateID)
	}))
	t.Cleanup(server.Close)
	return sink, server
}

func dialGate(t *testing.T, server *httptest.Server, gateID string) *websocket.Conn {
	t.Helper()
	target := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/gate/" + gateID
	conn, _, err := websocket.DefaultDialer.Dial(target, nil)
	if err != nil {
		t.Fatalf("dial gate %s: %v", gateID, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestDispatchHeartbeatUpdatesLastSyncAndRebroadcasts(t *testing.T) {
	t.Parallel()
	sink, server := newTestHub(t)
	g1 := dialGate(t, server, "G1")
	g2 := dialGate(t, server, "G2")
	time.Sleep(50 * time.Millisecond)

	if err := g1.WriteJSON(map[string]interface{}{"type": "heartbeat", "gate": "G1"}); err != nil {
		t.Fatalf("write heartbeat: %v", err)
	}

	g2.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := g2.ReadMessage()
	if err != nil {
		t.Fatalf("expected the other gate to receive the rebroadcast heartbeat: %v", err)
	}
	var got map[string]interface{}
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["type"] != "heartbeat" || got["gate"] != "G1" {
		t.Fatalf("unexpected rebroadcast frame: %+v", got)
	}

	if calls := sink.callCount(); len(calls) != 1 || calls[0] != "G1" {
		t.Fatalf("expected Heartbeat(G1) to be called once, got %+v", calls)
	}
}

func TestDispatchSyncEventRelaysEmbeddedEventUnwrapped(t *testing.T) {
	t.Parallel()
	sink, server := newTestHub(t)
	g1 := dialGate(t, server, "G1")
	g2 := dialGate(t, server, "G2")
	time.Sleep(50 * time.Millisecond)

	frame := map[string]interface{}{
		"type": "sync_event",
		"event": map[string]interface{}{
			"type":  "vehicle_in",
			"plate": "ABC-123",
		},
	}
	if err := g1.WriteJSON(frame); err != nil {
		t.Fatalf("write sync_event: %v", err)
	}

	g2.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := g2.ReadMessage()
	if err != nil {
		t.Fatalf("expected the other gate to receive the relayed event: %v", err)
	}
	var got map[string]interface{}
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["type"] != "vehicle_in" || got["plate"] != "ABC-123" {
		t.Fatalf("expected the embedded event relayed unwrapped, got %+v", got)
	}
	if calls := sink.callCount(); len(calls) != 0 {
		t.Fatalf("sync_event must not touch last_sync, got calls %+v", calls)
	}
}

func TestDispatchPingEchoesTsAndAddsServerTs(t *testing.T) {
	t.Parallel()
	_, server := newTestHub(t)
	g1 := dialGate(t, server, "G1")
	time.Sleep(20 * time.Millisecond)

	const sentTs = int64(1700000000000)
	if err := g1.WriteJSON(map[string]interface{}{"type": "ping", "gate": "G1", "ts": sentTs}); err != nil {
		t.Fatalf("write ping: %v", err)
	}

	g1.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := g1.ReadMessage()
	if err != nil {
		t.Fatalf("expected a pong reply: %v", err)
	}
	var got struct {
		Type     string `json:"type"`
		Gate     string `json:"gate"`
		Ts       int64  `json:"ts"`
		ServerTs int64  `json:"server_ts"`
	}
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Type != "pong" || got.Gate != "G1" || got.Ts != sentTs || got.ServerTs == 0 {
		t.Fatalf("unexpected pong frame: %+v", got)
	}
}
