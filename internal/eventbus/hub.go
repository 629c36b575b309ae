package eventbus

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	redis "github.com/go-redis/redis/v8"
)

const relayChannel = "parking:events"

// HeartbeatSink is the subset of the Mutation Engine the bus needs to touch
// last_sync when a gate's socket sends a heartbeat frame, without importing
// cloudcore (cloudcore.Engine already satisfies this by structural typing).
type HeartbeatSink interface {
	Heartbeat(ctx context.Context, gateID string) error
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub is the Cloud side of spec.md §4.4's Event Bus: one *Session per
// connected gate, fanned out to by Broadcast. Grounded on
// GrainArc-SouceMap's TrackHub, which pairs the same session map/mutex/
// broadcast shape for its own live-tracking websocket fan-out.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	heartbeats HeartbeatSink
	redis      *redis.Client
}

// NewHub constructs a Hub. redisClient may be nil, in which case Broadcast
// only fans out to local sessions (single Cloud replica deployments).
func NewHub(heartbeats HeartbeatSink, redisClient *redis.Client) *Hub {
	return &Hub{
		sessions:   make(map[string]*Session),
		heartbeats: heartbeats,
		redis:      redisClient,
	}
}

// Serve upgrades an incoming HTTP request to a websocket and pumps frames
// for gateID until the connection drops. Intended to be called directly
// from a gin handler at GET /ws/gate/:gateid.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, gateID string) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	sess := newSession(gateID, conn)
	h.register(sess)
	defer h.unregister(sess)

	for {
		raw, err := sess.ReadFrame()
		if err != nil {
			return nil
		}
		h.dispatch(r.Context(), sess, raw)
	}
}

func (h *Hub) register(sess *Session) {
	h.mu.Lock()
	if old, ok := h.sessions[sess.GateID]; ok {
		old.Close()
	}
	h.sessions[sess.GateID] = sess
	h.mu.Unlock()
}

func (h *Hub) unregister(sess *Session) {
	h.mu.Lock()
	if cur, ok := h.sessions[sess.GateID]; ok && cur == sess {
		delete(h.sessions, sess.GateID)
	}
	h.mu.Unlock()
}

func (h *Hub) dispatch(ctx context.Context, sess *Session, raw []byte) {
	frame, err := ParseFrame(raw)
	if err != nil {
		return
	}
	switch frame.Type {
	case KindHeartbeat:
		if h.heartbeats != nil {
			if err := h.heartbeats.Heartbeat(ctx, sess.GateID); err != nil {
				log.Printf("eventbus: heartbeat for gate %s: %v", sess.GateID, err)
			}
		}
		h.Broadcast(string(KindHeartbeat), map[string]interface{}{"gate": sess.GateID})
	case KindSyncEvent:
		if len(frame.Event) == 0 {
			return
		}
		var event map[string]interface{}
		if err := json.Unmarshal(frame.Event, &event); err != nil {
			return
		}
		h.broadcastFrame(event)
	case KindPing:
		sess.Send(buildFrame(KindPong, map[string]interface{}{
			"gate":      sess.GateID,
			"ts":        frame.Ts,
			"server_ts": time.Now().UnixMilli(),
		}))
	}
}

// Broadcast fans a message out to every connected gate, plus the redis
// relay channel when one is configured, so every Cloud replica's Hub
// re-broadcasts it to its own local sessions.
func (h *Hub) Broadcast(kind string, payload map[string]interface{}) {
	h.broadcastFrame(buildFrame(Kind(kind), payload))
}

// broadcastFrame fans an already-built frame out as-is, without wrapping it
// in another "type" envelope. Used both by Broadcast and by dispatch's
// sync_event relay, which re-broadcasts a gate's embedded "event" object
// verbatim (original_source/parking-cloud/cloud_ws.py's broadcast_all(evt)).
func (h *Hub) broadcastFrame(frame map[string]interface{}) {
	h.broadcastLocal(frame)
	h.publishRelay(frame)
}

func (h *Hub) broadcastLocal(frame map[string]interface{}) {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions))
	for _, sess := range h.sessions {
		targets = append(targets, sess)
	}
	h.mu.RUnlock()

	for _, sess := range targets {
		if err := sess.Send(frame); err != nil {
			h.unregister(sess)
		}
	}
}

func (h *Hub) publishRelay(frame map[string]interface{}) {
	if h.redis == nil {
		return
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	if err := h.redis.Publish(context.Background(), relayChannel, data).Err(); err != nil {
		log.Printf("eventbus: relay publish: %v", err)
	}
}

// RunRelay subscribes to the redis relay channel and re-broadcasts every
// message it receives to this replica's local sessions, until ctx is
// cancelled. No-op when the Hub was built without a redis client.
func (h *Hub) RunRelay(ctx context.Context) {
	if h.redis == nil {
		return
	}
	sub := h.redis.Subscribe(ctx, relayChannel)
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var frame map[string]interface{}
			if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
				continue
			}
			h.broadcastLocal(frame)
		}
	}
}

// SetHeartbeats wires the heartbeat sink after construction, breaking the
// construction-order cycle between Hub (a Broadcaster the Engine needs)
// and the Engine (the HeartbeatSink the Hub needs).
func (h *Hub) SetHeartbeats(sink HeartbeatSink) {
	h.heartbeats = sink
}

// GateOnline reports whether gateID currently holds an open session.
func (h *Hub) GateOnline(gateID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.sessions[gateID]
	return ok
}
