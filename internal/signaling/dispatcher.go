package signaling

import (
	"log/slog"
	"sync"

	"gomeet/internal/registry"
)

// Sender is the outbound half of a connection, as seen by the dispatcher.
type Sender interface {
	Send(msg *Message)
}

// Dispatcher fans room-scoped events out to connections. Recipient sets are
// computed by the registry under its lock; by the time a push happens here a
// recipient may already be gone, in which case delivery is simply a no-op.
type Dispatcher struct {
	mu     sync.RWMutex
	conns  map[string]Sender
	logger *slog.Logger
}

func NewDispatcher(logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		conns:  make(map[string]Sender),
		logger: logger,
	}
}

func (d *Dispatcher) Register(peerID string, s Sender) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conns[peerID] = s
}

func (d *Dispatcher) Unregister(peerID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.conns, peerID)
}

// NewProducer tells every recipient that a flow became available.
func (d *Dispatcher) NewProducer(recipients []string, flow registry.Flow) {
	d.push(recipients, NewNotification(NotifyNewProducer, NewProducerNotification{
		ProducerID: flow.ProducerID,
		PeerID:     flow.PeerID,
		Kind:       flow.Kind,
	}))
}

// ProducerClosed tells every recipient that a flow went away, so they can
// drop the matching consumer.
func (d *Dispatcher) ProducerClosed(recipients []string, producerID, peerID string) {
	d.push(recipients, NewNotification(NotifyProducerClosed, ProducerClosedNotification{
		ProducerID: producerID,
		PeerID:     peerID,
	}))
}

// PeerClosed tells every recipient that a member disconnected.
func (d *Dispatcher) PeerClosed(recipients []string, peerID string) {
	d.push(recipients, NewNotification(NotifyPeerClosed, PeerClosedNotification{
		PeerID: peerID,
	}))
}

func (d *Dispatcher) push(recipients []string, msg *Message) {
	if len(recipients) == 0 {
		return
	}

	// Snapshot the target connections, then send outside the lock.
	targets := make([]Sender, 0, len(recipients))
	d.mu.RLock()
	for _, id := range recipients {
		if c, ok := d.conns[id]; ok {
			targets = append(targets, c)
		}
	}
	d.mu.RUnlock()

	for _, c := range targets {
		c.Send(msg)
	}
	d.logger.Debug("notification dispatched", "type", msg.Type, "recipients", len(targets))
}
