package ws

import (
	"encoding/json"
	"sync"
	"time"
)

// Conn is the subset of *websocket.Conn the hub uses. Tests substitute an
// in-memory implementation.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// session is one connected operator console. Writes are serialized through
// the session mutex because the fan-out goroutine and the read loop both
// touch the connection.
type session struct {
	id   string
	conn Conn
	mu   sync.Mutex
}

func (s *session) write(data []byte, messageType int, deadline time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(deadline))
	return s.conn.WriteMessage(messageType, data)
}

// inboundMessage is the operator command envelope. Value is decoded per
// command: set_mode carries a mode string, force_phase carries either a bare
// phase index or an object naming a specific intersection.
type inboundMessage struct {
	Command string          `json:"command"`
	Value   json.RawMessage `json:"value"`
}

type forcePhaseValue struct {
	Intersection string `json:"tls"`
	Phase        int    `json:"phase"`
}

type statusMessage struct {
	Status string `json:"status"`
}
