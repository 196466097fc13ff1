package server

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/huddle-rtc/huddle/internal/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024

	// Outbound buffer per connection. Send drops when it overflows rather
	// than stall a room broadcast.
	sendBufferSize = 128
)

// Client owns one accepted websocket connection: a read pump feeding the
// session coordinator and a write pump draining the send buffer.
type Client struct {
	log     *slog.Logger
	conn    *websocket.Conn
	session *Session
	dropped *atomic.Int64

	send      chan *protocol.Message
	closeOnce sync.Once
	closed    chan struct{}
}

func newClient(conn *websocket.Conn, log *slog.Logger, dropped *atomic.Int64) *Client {
	return &Client{
		log:     log,
		conn:    conn,
		dropped: dropped,
		send:    make(chan *protocol.Message, sendBufferSize),
		closed:  make(chan struct{}),
	}
}

// Send queues a message for the write pump. It never blocks; an overflowing
// or closed connection drops the message.
func (c *Client) Send(msg *protocol.Message) {
	select {
	case <-c.closed:
	case c.send <- msg:
	default:
		c.dropped.Add(1)
		c.log.Warn("send buffer full, dropping message", "type", msg.Type)
	}
}

// readPump reads messages from the connection and hands them to the session
// one at a time. On exit it runs the session's disconnect cleanup.
func (c *Client) readPump() {
	defer func() {
		c.session.Disconnect()
		c.close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg protocol.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("connection closed unexpectedly", "err", err)
			}
			return
		}
		c.session.HandleMessage(&msg)
	}
}

// writePump drains the send buffer and keeps the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
}
