// Package registry is the authoritative in-memory record of peers, rooms and
// the media objects each peer owns. It knows nothing about websockets or the
// media engine's internals; it only enforces ownership and room membership
// invariants.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"gomeet/internal/media"
)

var (
	ErrPeerExists    = errors.New("peer already registered")
	ErrUnknownPeer   = errors.New("unknown peer")
	ErrAlreadyJoined = errors.New("peer already joined a room")
	ErrNotFound      = errors.New("not found")
	ErrDuplicateKind = errors.New("peer already produces this kind")
)

// Flow describes one remote producer a peer can consume.
type Flow struct {
	ProducerID string     `json:"producerId"`
	PeerID     string     `json:"peerId"`
	Kind       media.Kind `json:"kind"`
}

type peer struct {
	id         string
	roomID     string
	transports map[string]media.Transport
	producers  map[string]media.Producer
	consumers  map[string]media.Consumer
}

type room struct {
	id      string
	members map[string]*peer
}

// Registry holds all session state behind a single mutex. Every mutation and
// every cross-peer read (join snapshots, broadcast recipient sets) happens
// under it, which is what linearizes producer registration against joins: a
// producer registered before a join shows up in that join's snapshot, one
// registered after is announced to the joiner by broadcast instead. Never
// both, never neither. No media-engine call is ever made while holding the
// lock.
type Registry struct {
	mu     sync.Mutex
	peers  map[string]*peer
	rooms  map[string]*room
	logger *slog.Logger
}

func New(logger *slog.Logger) *Registry {
	return &Registry{
		peers:  make(map[string]*peer),
		rooms:  make(map[string]*room),
		logger: logger,
	}
}

// CreatePeer registers a freshly connected peer with no room and no media
// objects. Registering the same connection id twice is a programming error.
func (r *Registry) CreatePeer(peerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.peers[peerID]; ok {
		return fmt.Errorf("%w: %s", ErrPeerExists, peerID)
	}
	r.peers[peerID] = &peer{
		id:         peerID,
		transports: make(map[string]media.Transport),
		producers:  make(map[string]media.Producer),
		consumers:  make(map[string]media.Consumer),
	}
	r.logger.Debug("peer registered", "peerId", peerID)
	return nil
}

// JoinRoom adds the peer to the room (creating it on first join) and returns
// a snapshot of every flow currently produced by the room's other members,
// plus the peer's own already-registered flows and the members they must be
// announced to. Clients produce before they join, so those producers had no
// room to be broadcast into; announcing them here, atomically with the
// membership change, keeps every flow visible to every other member exactly
// once. A peer joins at most once per connection; a second join is a protocol
// violation, rejected without touching any state.
func (r *Registry) JoinRoom(peerID, roomID string) (snapshot, announce []Flow, recipients []string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[peerID]
	if !ok {
		return nil, nil, nil, fmt.Errorf("%w: %s", ErrUnknownPeer, peerID)
	}
	if p.roomID != "" {
		r.logger.Warn("double join rejected", "peerId", peerID, "roomId", roomID)
		return nil, nil, nil, ErrAlreadyJoined
	}

	rm, ok := r.rooms[roomID]
	if !ok {
		rm = &room{id: roomID, members: make(map[string]*peer)}
		r.rooms[roomID] = rm
		r.logger.Info("room created", "roomId", roomID)
	}

	snapshot = []Flow{}
	for _, member := range rm.members {
		recipients = append(recipients, member.id)
		for _, producer := range member.producers {
			snapshot = append(snapshot, Flow{
				ProducerID: producer.ID(),
				PeerID:     member.id,
				Kind:       producer.Kind(),
			})
		}
	}
	for _, producer := range p.producers {
		announce = append(announce, Flow{
			ProducerID: producer.ID(),
			PeerID:     peerID,
			Kind:       producer.Kind(),
		})
	}

	rm.members[peerID] = p
	p.roomID = roomID

	r.logger.Info("peer joined room", "peerId", peerID, "roomId", roomID, "members", len(rm.members))
	return snapshot, announce, recipients, nil
}

// AddTransport attaches a newly created transport to its owning peer.
func (r *Registry) AddTransport(peerID string, t media.Transport) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[peerID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, peerID)
	}
	p.transports[t.ID()] = t
	return nil
}

// Transport looks up a transport and enforces that it belongs to the caller.
// A transport owned by somebody else is indistinguishable from one that does
// not exist.
func (r *Registry) Transport(peerID, transportID string) (media.Transport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[peerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPeer, peerID)
	}
	t, ok := p.transports[transportID]
	if !ok {
		return nil, fmt.Errorf("transport %s: %w", transportID, ErrNotFound)
	}
	return t, nil
}

// AddProducer attaches a producer to its owner and returns the ids of the
// other members of the owner's room, computed atomically with the
// registration so the broadcast recipient set can never miss a concurrent
// joiner (nor include one that already got the flow in its join snapshot).
// A peer produces at most one flow per kind.
func (r *Registry) AddProducer(peerID string, producer media.Producer) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[peerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPeer, peerID)
	}
	for _, existing := range p.producers {
		if existing.Kind() == producer.Kind() {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateKind, producer.Kind())
		}
	}
	p.producers[producer.ID()] = producer

	r.logger.Debug("producer registered",
		"peerId", peerID, "producerId", producer.ID(), "kind", producer.Kind())
	return r.otherMembersLocked(p), nil
}

// RemoveProducer detaches one owned producer and returns it along with the
// broadcast recipient set, so the caller can close it and tell the room.
func (r *Registry) RemoveProducer(peerID, producerID string) (media.Producer, []string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[peerID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownPeer, peerID)
	}
	producer, ok := p.producers[producerID]
	if !ok {
		return nil, nil, fmt.Errorf("producer %s: %w", producerID, ErrNotFound)
	}
	delete(p.producers, producerID)
	return producer, r.otherMembersLocked(p), nil
}

// LookupProducer resolves a producer id across all peers, for consume
// requests. The existence check is atomic with the lookup: once the owning
// peer is removed the id resolves to nothing.
func (r *Registry) LookupProducer(producerID string) (media.Producer, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.peers {
		if producer, ok := p.producers[producerID]; ok {
			return producer, p.id, nil
		}
	}
	return nil, "", fmt.Errorf("producer %s: %w", producerID, ErrNotFound)
}

// AddConsumer attaches a consumer to its owning peer.
func (r *Registry) AddConsumer(peerID string, c media.Consumer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[peerID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, peerID)
	}
	p.consumers[c.ID()] = c
	return nil
}

// Consumer looks up an owned consumer.
func (r *Registry) Consumer(peerID, consumerID string) (media.Consumer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[peerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPeer, peerID)
	}
	c, ok := p.consumers[consumerID]
	if !ok {
		return nil, fmt.Errorf("consumer %s: %w", consumerID, ErrNotFound)
	}
	return c, nil
}

// RemovePeer deletes the peer, removes it from its room (deleting the room
// when it empties) and returns the peer's transports plus the remaining
// members, so the caller can cascade-close the media objects and notify the
// room, both outside the lock. Safe to call for a peer that never joined,
// and a no-op for an id that was already removed.
func (r *Registry) RemovePeer(peerID string) (roomID string, remaining []string, transports []media.Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[peerID]
	if !ok {
		return "", nil, nil
	}
	delete(r.peers, peerID)

	for _, t := range p.transports {
		transports = append(transports, t)
	}

	if p.roomID == "" {
		return "", nil, transports
	}

	rm := r.rooms[p.roomID]
	if rm == nil {
		return "", nil, transports
	}
	delete(rm.members, peerID)
	if len(rm.members) == 0 {
		delete(r.rooms, rm.id)
		r.logger.Info("room deleted", "roomId", rm.id)
	} else {
		for id := range rm.members {
			remaining = append(remaining, id)
		}
	}
	r.logger.Info("peer left room", "peerId", peerID, "roomId", p.roomID, "members", len(rm.members))
	return p.roomID, remaining, transports
}

// otherMembersLocked returns the ids of every member of p's room except p.
// Callers must hold r.mu. A peer that has not joined a room has no
// co-members and nothing to broadcast to.
func (r *Registry) otherMembersLocked(p *peer) []string {
	if p.roomID == "" {
		return nil
	}
	rm := r.rooms[p.roomID]
	if rm == nil {
		return nil
	}
	var ids []string
	for id := range rm.members {
		if id != p.id {
			ids = append(ids, id)
		}
	}
	return ids
}

// RoomStat is one row of the metrics endpoint.
type RoomStat struct {
	RoomID  string `json:"roomId"`
	Members int    `json:"members"`
}

// Stats returns a consistent snapshot of room occupancy.
func (r *Registry) Stats() (totalPeers int, rooms []RoomStat) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rooms = make([]RoomStat, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rooms = append(rooms, RoomStat{RoomID: rm.id, Members: len(rm.members)})
	}
	return len(r.peers), rooms
}
