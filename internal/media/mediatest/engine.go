// Package mediatest provides an in-memory media.Engine for tests: ids are
// deterministic, nothing touches the network, and failures can be injected
// per operation.
package mediatest

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"gomeet/internal/media"
)

// Canned capability blobs. The signaling core treats these as opaque, so any
// well-formed JSON will do.
var (
	RouterCapabilities = json.RawMessage(`{"codecs":["audio/opus","video/VP8"]}`)
	ClientCapabilities = json.RawMessage(`{"codecs":["audio/opus","video/VP8"]}`)
)

// Engine implements media.Engine entirely in memory.
type Engine struct {
	mu         sync.Mutex
	transports map[string]*Transport
	producers  map[string]*Producer
	nextID     int

	// Failure injection. Set before the operation under test.
	TransportErr error
	ConnectErr   error
	ProduceErr   error
	ConsumeErr   error
	DenyConsume  bool
}

func NewEngine() *Engine {
	return &Engine{
		transports: make(map[string]*Transport),
		producers:  make(map[string]*Producer),
	}
}

func (e *Engine) RouterRtpCapabilities() json.RawMessage {
	return RouterCapabilities
}

func (e *Engine) CanConsume(producerID string, rtpCapabilities json.RawMessage) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.DenyConsume || len(rtpCapabilities) == 0 {
		return false
	}
	p, ok := e.producers[producerID]
	return ok && !p.Closed()
}

func (e *Engine) CreateTransport() (media.Transport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.TransportErr != nil {
		return nil, e.TransportErr
	}
	e.nextID++
	t := &Transport{
		engine: e,
		id:     fmt.Sprintf("transport-%d", e.nextID),
	}
	e.transports[t.id] = t
	return t, nil
}

func (e *Engine) Close() error { return nil }

// Transport returns a previously created transport, for assertions.
func (e *Engine) Transport(id string) *Transport {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transports[id]
}

// Producer returns a previously created producer, for assertions.
func (e *Engine) Producer(id string) *Producer {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.producers[id]
}

func (e *Engine) allocID(prefix string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	return fmt.Sprintf("%s-%d", prefix, e.nextID)
}

// Transport implements media.Transport.
type Transport struct {
	engine *Engine
	id     string

	mu        sync.Mutex
	closed    bool
	connected bool
	producers []*Producer
	consumers []*Consumer
}

func (t *Transport) ID() string { return t.id }

func (t *Transport) Params() media.TransportParams {
	return media.TransportParams{
		ID:             t.id,
		IceParameters:  json.RawMessage(`{"usernameFragment":"` + t.id + `"}`),
		IceCandidates:  json.RawMessage(`[]`),
		DtlsParameters: json.RawMessage(`{"role":"auto"}`),
	}
}

func (t *Transport) Connect(dtlsParameters json.RawMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.engine.ConnectErr != nil {
		return t.engine.ConnectErr
	}
	if t.closed {
		return errors.New("transport closed")
	}
	t.connected = true
	return nil
}

func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *Transport) Produce(kind media.Kind, rtpParameters json.RawMessage) (media.Producer, error) {
	if t.engine.ProduceErr != nil {
		return nil, t.engine.ProduceErr
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, errors.New("transport closed")
	}
	t.mu.Unlock()

	p := &Producer{id: t.engine.allocID("producer"), kind: kind}

	t.mu.Lock()
	t.producers = append(t.producers, p)
	t.mu.Unlock()

	t.engine.mu.Lock()
	t.engine.producers[p.id] = p
	t.engine.mu.Unlock()
	return p, nil
}

func (t *Transport) Consume(producerID string, rtpCapabilities json.RawMessage) (media.Consumer, error) {
	if t.engine.ConsumeErr != nil {
		return nil, t.engine.ConsumeErr
	}

	t.engine.mu.Lock()
	producer, ok := t.engine.producers[producerID]
	t.engine.mu.Unlock()
	if !ok || producer.Closed() {
		return nil, errors.New("producer not found")
	}

	c := &Consumer{
		id:         t.engine.allocID("consumer"),
		producerID: producerID,
		kind:       producer.kind,
		paused:     true,
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, errors.New("transport closed")
	}
	t.consumers = append(t.consumers, c)
	return c, nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	// Cascade, the way the real engine does.
	for _, p := range t.producers {
		p.Close()
	}
	for _, c := range t.consumers {
		c.Close()
	}
	return nil
}

func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Producer implements media.Producer.
type Producer struct {
	id   string
	kind media.Kind

	mu     sync.Mutex
	closed bool
}

func (p *Producer) ID() string       { return p.id }
func (p *Producer) Kind() media.Kind { return p.kind }

func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *Producer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Consumer implements media.Consumer.
type Consumer struct {
	id         string
	producerID string
	kind       media.Kind

	mu     sync.Mutex
	paused bool
	closed bool
}

func (c *Consumer) ID() string                     { return c.id }
func (c *Consumer) Kind() media.Kind               { return c.kind }
func (c *Consumer) RtpParameters() json.RawMessage { return json.RawMessage(`{"mid":"0"}`) }
func (c *Consumer) Type() string                   { return "simple" }
func (c *Consumer) ProducerPaused() bool           { return false }

func (c *Consumer) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("consumer closed")
	}
	c.paused = false
	return nil
}

func (c *Consumer) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *Consumer) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
