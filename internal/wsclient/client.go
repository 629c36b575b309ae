// Package wsclient is the Gate-side half of the Event Bus: a reconnecting
// websocket client, grounded on original_source/gate-node/gate_ws.py's
// connect_ws/heartbeat/ping_loop.
package wsclient

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/meomeohuhu/ParkingDistributed/internal/eventbus"
)

const (
	reconnectDelay  = 3 * time.Second
	heartbeatPeriod = 4 * time.Second
	pingPeriod      = 4 * time.Second
)

// Client maintains one connection to the Cloud's /ws/gate/{gateid} and
// exposes the last observed round-trip time for GET /health.
type Client struct {
	cloudAPI string
	gateID   string

	mu      sync.Mutex
	conn    *websocket.Conn
	lastRTT time.Duration
}

func New(cloudAPI, gateID string) *Client {
	return &Client{cloudAPI: cloudAPI, gateID: gateID}
}

// LastRTT returns the most recently observed ping/pong round trip, zero if
// none yet recorded.
func (c *Client) LastRTT() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRTT
}

func wsURL(cloudAPI, gateID string) string {
	u, err := url.Parse(cloudAPI)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws/gate/" + gateID
	return u.String()
}

// Run connects, reconnecting every reconnectDelay on failure, until ctx is
// cancelled. Intended to be launched as a goroutine from cmd/gate.
func (c *Client) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		c.runOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (c *Client) runOnce(ctx context.Context) {
	target := wsURL(c.cloudAPI, c.gateID)
	if target == "" {
		return
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
	}()

	done := make(chan struct{})
	go c.readLoop(conn, done)

	heartbeat := time.NewTicker(heartbeatPeriod)
	defer heartbeat.Stop()
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-heartbeat.C:
			c.send(map[string]interface{}{"type": string(eventbus.KindHeartbeat), "gate": c.gateID})
		case <-ping.C:
			c.send(map[string]interface{}{
				"type": string(eventbus.KindPing),
				"gate": c.gateID,
				"ts":   time.Now().UnixMilli(),
			})
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		frame, err := eventbus.ParseFrame(raw)
		if err != nil {
			continue
		}
		if frame.Type == eventbus.KindPong && frame.Ts != 0 {
			c.mu.Lock()
			c.lastRTT = time.Duration(time.Now().UnixMilli()-frame.Ts) * time.Millisecond
			c.mu.Unlock()
		}
	}
}

// SendSyncEvent best-effort notifies the bus of a locally-applied mutation,
// matching spec.md §4.6's "best-effort emit sync_event on the bus" step. The
// payload is nested under "event" rather than flattened into the top-level
// frame, matching original_source/gate-node/gate_app.py's
// send_event({"type": "sync_event", "event": payload}).
func (c *Client) SendSyncEvent(eventType string, payload map[string]interface{}) {
	event := map[string]interface{}{"type": eventType}
	for k, v := range payload {
		event[k] = v
	}
	c.send(map[string]interface{}{
		"type":  string(eventbus.KindSyncEvent),
		"event": event,
	})
}

func (c *Client) send(v interface{}) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}
	_ = conn.WriteJSON(v)
}

// Connected reports whether a websocket session is currently established.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}
