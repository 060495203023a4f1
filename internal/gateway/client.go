package gateway

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/agentscope/internal/bus"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var errSlowConsumer = errors.New("send buffer full")

// client is one stream subscriber. Frames queue on a buffered channel; a
// consumer that cannot keep up overflows the buffer and is dropped rather
// than stalling the broadcast path.
type client struct {
	id   string
	conn *websocket.Conn
	send chan bus.Frame

	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, highWater int) *client {
	if highWater <= 0 {
		highWater = 1024
	}
	return &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan bus.Frame, highWater),
	}
}

// TrySend queues a frame without blocking. A full buffer returns an error,
// which ejects the client from the bus.
func (c *client) TrySend(frame bus.Frame) error {
	select {
	case c.send <- frame:
		return nil
	default:
		return errSlowConsumer
	}
}

// Close tears the connection down; safe to call more than once.
func (c *client) Close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// writePump drains the send queue to the socket and keeps the connection
// alive with pings.
func (c *client) writePump(onExit func()) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		onExit()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(frame); err != nil {
				slog.Debug("stream write failed", "id", c.id, "error", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes and discards client messages so control frames are
// processed, and detects disconnects.
func (c *client) readPump(onExit func()) {
	defer func() {
		onExit()
		c.conn.Close()
		slog.Info("stream client disconnected", "id", c.id)
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
