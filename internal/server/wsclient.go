package server

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Outbound queue depth per socket.
	sendQueueSize = 256
)

var errSendQueueFull = errors.New("send queue full")

// wsClient wraps one subscriber-side WebSocket: game, eval, lobby or live.
// It implements broadcast.Subscriber; the surface-specific handler owns the
// read loop.
type wsClient struct {
	id   string
	conn *websocket.Conn

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newWSClient(id string, conn *websocket.Conn) *wsClient {
	return &wsClient{
		id:   id,
		conn: conn,
		send: make(chan []byte, sendQueueSize),
		done: make(chan struct{}),
	}
}

func (c *wsClient) ID() string { return c.id }

// Send queues a frame without blocking. A full queue closes the socket: a
// subscriber that cannot keep up is dropped, not waited on.
func (c *wsClient) Send(data []byte) error {
	select {
	case <-c.done:
		return websocket.ErrCloseSent
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return websocket.ErrCloseSent
	default:
		c.Close()
		return errSendQueueFull
	}
}

// Close tears the socket down once.
func (c *wsClient) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// writePump drains the send queue onto the socket and keeps it alive with
// pings. Runs in its own goroutine per connection.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
