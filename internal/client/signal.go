package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"gomeet/internal/signaling"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// ErrDisconnected is returned for requests that were still pending when the
// connection went away.
var ErrDisconnected = errors.New("signaling connection closed")

// SignalClient is the client end of the signaling socket. Each request
// carries a correlation id and resolves exactly one pending waiter when its
// response arrives; notifications are surfaced on a separate channel.
type SignalClient struct {
	conn   *websocket.Conn
	logger *slog.Logger

	nextID atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan *signaling.Message
	closed  bool

	notifications chan *signaling.Message
	outgoing      chan *signaling.Message
	done          chan struct{}
}

// DialSignal connects to the signaling server and starts the read and write
// pumps.
func DialSignal(serverURL string, logger *slog.Logger) (*SignalClient, error) {
	conn, _, err := websocket.DefaultDialer.Dial(serverURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	c := &SignalClient{
		conn:          conn,
		logger:        logger,
		pending:       make(map[uint64]chan *signaling.Message),
		notifications: make(chan *signaling.Message, 32),
		outgoing:      make(chan *signaling.Message, 16),
		done:          make(chan struct{}),
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readPump()
	go c.writePump()

	return c, nil
}

// Request sends one request and blocks until its response or disconnect.
// Responses arrive in request order, but correlation is by id so concurrent
// callers (the notification loop consumes flows asynchronously) each get
// their own answer.
func (c *SignalClient) Request(method string, payload any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	msg, err := signaling.NewRequest(id, method, payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", method, err)
	}

	ch := make(chan *signaling.Message, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrDisconnected
	}
	c.pending[id] = ch
	c.mu.Unlock()

	select {
	case c.outgoing <- msg:
	case <-c.done:
		c.forget(id)
		return nil, ErrDisconnected
	}

	select {
	case resp := <-ch:
		if resp.OK == nil || !*resp.OK {
			return nil, fmt.Errorf("%s: %s", method, resp.Error)
		}
		return resp.Data, nil
	case <-c.done:
		c.forget(id)
		return nil, ErrDisconnected
	}
}

// Notifications returns the channel of server pushes. It is closed when the
// connection goes away.
func (c *SignalClient) Notifications() <-chan *signaling.Message {
	return c.notifications
}

// Close drops the connection and releases every pending request.
func (c *SignalClient) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pending := c.pending
	c.pending = make(map[uint64]chan *signaling.Message)
	c.mu.Unlock()

	close(c.done)
	c.conn.Close()

	// Pending waiters see c.done closed; dropping the channels here just
	// guarantees nothing holds onto them.
	for range pending {
	}
}

func (c *SignalClient) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *SignalClient) readPump() {
	defer func() {
		c.Close()
		close(c.notifications)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		var msg signaling.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		if msg.Type == signaling.TypeResponse {
			c.mu.Lock()
			ch, ok := c.pending[msg.ID]
			delete(c.pending, msg.ID)
			c.mu.Unlock()
			if ok {
				ch <- &msg
			} else {
				c.logger.Warn("response with no pending request", "id", msg.ID)
			}
			continue
		}

		select {
		case c.notifications <- &msg:
		default:
			c.logger.Warn("dropping notification, buffer full", "type", msg.Type)
		}
	}
}

func (c *SignalClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
