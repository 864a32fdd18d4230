package bridge

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
)

// Conn is the subset of *websocket.Conn the bridge needs. Tests substitute
// in-memory pipes.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// jsonConn serializes writes to a Conn. gorilla/websocket allows only one
// concurrent writer, and the bridge writes to each peer from more than one
// goroutine.
type jsonConn struct {
	mu   sync.Mutex
	conn Conn
}

func newJSONConn(c Conn) *jsonConn {
	return &jsonConn{conn: c}
}

func (c *jsonConn) writeJSON(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.writeRaw(raw)
}

func (c *jsonConn) writeRaw(raw []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, raw)
}

func (c *jsonConn) close() error {
	return c.conn.Close()
}
