package signaling

import (
	"log/slog"
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

	// Maximum message size allowed from peer. Capability and RTP parameter
	// blobs are a few KB; 64 KB leaves plenty of headroom.
	maxMessageSize = 64 * 1024

	// Outbound buffer per connection. Notifications to a peer that cannot
	// drain this fast are dropped rather than blocking the sender.
	sendBuffer = 256
)

// Conn wraps a single websocket connection (one peer). All writes go through
// a buffered channel drained by WritePump so that handler goroutines and the
// dispatcher never write to the socket concurrently.
type Conn struct {
	PeerID string

	sock   *websocket.Conn
	send   chan *Message
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

func NewConn(peerID string, sock *websocket.Conn, logger *slog.Logger) *Conn {
	return &Conn{
		PeerID: peerID,
		sock:   sock,
		send:   make(chan *Message, sendBuffer),
		done:   make(chan struct{}),
		logger: logger.With("peerId", peerID),
	}
}

// Send queues an outbound message. Delivery is fire-and-forget: if the
// connection is gone or its buffer is full the message is dropped; losing a
// notification only means the peer misses one flow, it never corrupts shared
// state.
func (c *Conn) Send(msg *Message) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		c.logger.Warn("dropping outbound message, send buffer full", "type", msg.Type)
	}
}

// Close makes both pumps wind down. Idempotent.
func (c *Conn) Close() {
	c.once.Do(func() {
		close(c.done)
		c.sock.Close()
	})
}

// ReadPump reads messages from the websocket and hands each one to the
// handler, strictly in arrival order. It runs in the per-connection
// goroutine; when it returns the peer is disconnected and all its state is
// torn down.
func (c *Conn) ReadPump(h *Handler) {
	defer func() {
		h.Disconnected()
		c.Close()
	}()

	c.sock.SetReadLimit(maxMessageSize)
	c.sock.SetReadDeadline(time.Now().Add(pongWait))
	c.sock.SetPongHandler(func(string) error {
		c.sock.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg Message
		if err := c.sock.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("read error", "error", err)
			}
			break
		}
		h.Handle(&msg)
	}
}

// WritePump drains the send channel onto the websocket and keeps the
// connection alive with periodic pings. There is at most one writer per
// connection: this goroutine.
func (c *Conn) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.sock.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteJSON(msg); err != nil {
				c.logger.Debug("write error", "error", err)
				return
			}

		case <-ticker.C:
			c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			c.sock.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
