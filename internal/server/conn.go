package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsConn adapts a gorilla connection for stream.Session: JSON writes carry a deadline and
// Close sends a close frame before dropping the socket. Close may race with the writer.
type wsConn struct {
	*websocket.Conn
	writeTimeout time.Duration
	closeOnce    sync.Once
}

func newWSConn(conn *websocket.Conn, writeTimeout time.Duration) *wsConn {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &wsConn{Conn: conn, writeTimeout: writeTimeout}
}

func (c *wsConn) WriteJSON(v interface{}) error {
	if err := c.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.Conn.WriteJSON(v)
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
		_ = c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = c.Conn.Close()
	})
	return err
}
