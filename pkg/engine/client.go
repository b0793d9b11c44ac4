package engine

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	sendBuffer = 256
	writeWait  = 10 * time.Second
)

// client is one attached connection. The room loop owns its membership and
// is the only writer to send; the write pump drains send onto the socket.
type client struct {
	id       string
	username string
	color    string

	conn *websocket.Conn // nil for in-process clients in tests
	send chan []byte
}

func newClient(conn *websocket.Conn, username, color string) *client {
	return &client{
		id:       uuid.NewString(),
		username: username,
		color:    color,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
	}
}

// push enqueues a frame without blocking. It reports false when the buffer
// is full, which the room treats as a dead or stalled consumer.
func (c *client) push(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// writePump copies queued frames to the socket until send closes, then
// closes the socket which in turn unblocks the read loop.
func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}
