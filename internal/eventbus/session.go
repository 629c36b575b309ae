package eventbus

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Session wraps one gate's websocket connection. gorilla connections are
// not safe for concurrent writers, so every outbound write is guarded by
// its own mutex — grounded on GrainArc-SouceMap's TrackSession, which pairs
// a *websocket.Conn with a sync.RWMutex for the same reason.
type Session struct {
	GateID string
	conn   *websocket.Conn
	mu     sync.Mutex
}

func newSession(gateID string, conn *websocket.Conn) *Session {
	return &Session{GateID: gateID, conn: conn}
}

// Send writes one JSON frame. Callers that observe an error should evict
// the session from the Hub — the bus never retries a dropped send.
func (s *Session) Send(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// ReadFrame blocks for the next inbound text frame.
func (s *Session) ReadFrame() ([]byte, error) {
	_, raw, err := s.conn.ReadMessage()
	return raw, err
}

// Close closes the underlying connection.
func (s *Session) Close() error {
	return s.conn.Close()
}
