package hub

import (
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// WSSession adapts a websocket connection to the Session interface.
// Writes are serialized; gorilla connections allow only one concurrent
// writer.
type WSSession struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func NewWSSession(conn *websocket.Conn) *WSSession {
	return &WSSession{id: uuid.NewString(), conn: conn}
}

func (s *WSSession) ID() string {
	return s.id
}

func (s *WSSession) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

// Close closes the underlying connection.
func (s *WSSession) Close() error {
	return s.conn.Close()
}
