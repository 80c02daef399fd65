package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"gomeet/internal/media"
	"gomeet/internal/registry"
	"gomeet/internal/signaling"
)

// State is the controller's session lifecycle position.
type State int

const (
	// StateIdle is the initial state; no media or room membership held.
	StateIdle State = iota
	// StateAwaitingMedia means capture devices are being acquired.
	StateAwaitingMedia
	// StateJoining covers the whole setup sequence from the capability fetch
	// through the initial consumes.
	StateJoining
	// StateActive is a fully joined session.
	StateActive
	// StateLeft is terminal.
	StateLeft
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingMedia:
		return "awaiting-media"
	case StateJoining:
		return "joining"
	case StateActive:
		return "active"
	case StateLeft:
		return "left"
	}
	return "unknown"
}

// Signaler is what the controller needs from the signaling connection.
// *SignalClient implements it.
type Signaler interface {
	Request(method string, payload any) (json.RawMessage, error)
	Notifications() <-chan *signaling.Message
	Close()
}

// RemoteFlow is one remote track this session receives.
type RemoteFlow struct {
	ProducerID string
	PeerID     string
	Kind       media.Kind
	ConsumerID string
}

// Controller drives one conference session: acquire media, run the join
// sequence, then track the room via server notifications until Leave.
type Controller struct {
	sig    Signaler
	dev    Device
	logger *slog.Logger

	mu            sync.Mutex
	state         State
	roomID        string
	sendTransport string
	recvTransport string
	flows         map[string]RemoteFlow
	onRoster      func([]RemoteFlow)

	loopDone chan struct{}
}

func NewController(sig Signaler, dev Device, logger *slog.Logger) *Controller {
	return &Controller{
		sig:      sig,
		dev:      dev,
		logger:   logger,
		state:    StateIdle,
		flows:    make(map[string]RemoteFlow),
		loopDone: make(chan struct{}),
	}
}

// OnRosterChange registers a callback fired whenever the set of received
// flows changes. Must be set before Join.
func (c *Controller) OnRosterChange(fn func([]RemoteFlow)) {
	c.mu.Lock()
	c.onRoster = fn
	c.mu.Unlock()
}

// State reports the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Flows returns the current roster of received flows, ordered by peer then
// producer id.
func (c *Controller) Flows() []RemoteFlow {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flowsLocked()
}

func (c *Controller) flowsLocked() []RemoteFlow {
	out := make([]RemoteFlow, 0, len(c.flows))
	for _, f := range c.flows {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PeerID != out[j].PeerID {
			return out[i].PeerID < out[j].PeerID
		}
		return out[i].ProducerID < out[j].ProducerID
	})
	return out
}

// Join runs the whole setup sequence for roomID. On any failure the session
// returns to idle with local media released, so the caller may retry.
func (c *Controller) Join(roomID string) error {
	if roomID == "" {
		return errors.New("room id must not be empty")
	}

	c.mu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("cannot join in state %s", state)
	}
	c.state = StateAwaitingMedia
	c.roomID = roomID
	c.mu.Unlock()

	if err := c.dev.Acquire(); err != nil {
		c.setState(StateIdle)
		return fmt.Errorf("acquire media: %w", err)
	}

	c.setState(StateJoining)
	if err := c.runJoinSequence(roomID); err != nil {
		c.dev.Release()
		c.setState(StateIdle)
		return err
	}

	c.setState(StateActive)
	go c.notificationLoop()
	return nil
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Controller) runJoinSequence(roomID string) error {
	data, err := c.sig.Request(signaling.MethodGetRouterRtpCapabilities, nil)
	if err != nil {
		return err
	}
	var caps signaling.RouterRtpCapabilitiesResponse
	if err := json.Unmarshal(data, &caps); err != nil {
		return fmt.Errorf("decode router capabilities: %w", err)
	}
	if err := c.dev.Load(caps.RouterRtpCapabilities); err != nil {
		return fmt.Errorf("load device: %w", err)
	}

	sendID, err := c.setupTransport(true)
	if err != nil {
		return err
	}
	recvID, err := c.setupTransport(false)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.sendTransport = sendID
	c.recvTransport = recvID
	c.mu.Unlock()

	for _, kind := range []media.Kind{media.KindVideo, media.KindAudio} {
		if err := c.produce(sendID, kind); err != nil {
			return err
		}
	}

	data, err = c.sig.Request(signaling.MethodJoinRoom, signaling.JoinRoomRequest{RoomID: roomID})
	if err != nil {
		return err
	}
	var joined signaling.JoinRoomResponse
	if err := json.Unmarshal(data, &joined); err != nil {
		return fmt.Errorf("decode join response: %w", err)
	}

	// Flows that vanish between the snapshot and our consume (producer or
	// peer already gone) are skipped, not fatal: the matching closed
	// notification follows and the session is still coherent without them.
	for _, flow := range joined.ProducerList {
		if err := c.consumeFlow(flow); err != nil {
			c.logger.Warn("initial consume failed, skipping flow",
				"producerId", flow.ProducerID, "peerId", flow.PeerID, "error", err)
		}
	}
	return nil
}

func (c *Controller) setupTransport(sender bool) (string, error) {
	data, err := c.sig.Request(signaling.MethodCreateWebRtcTransport,
		signaling.CreateWebRtcTransportRequest{Sender: sender})
	if err != nil {
		return "", err
	}
	var resp signaling.CreateWebRtcTransportResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("decode transport params: %w", err)
	}

	_, err = c.sig.Request(signaling.MethodConnectTransport, signaling.ConnectTransportRequest{
		TransportID:    resp.Params.ID,
		DtlsParameters: c.dev.DtlsParameters(),
	})
	if err != nil {
		return "", err
	}
	return resp.Params.ID, nil
}

func (c *Controller) produce(transportID string, kind media.Kind) error {
	rtp, err := c.dev.ProduceParameters(kind)
	if err != nil {
		return err
	}
	_, err = c.sig.Request(signaling.MethodProduce, signaling.ProduceRequest{
		TransportID:   transportID,
		Kind:          kind,
		RtpParameters: rtp,
	})
	return err
}

func (c *Controller) consumeFlow(flow registry.Flow) error {
	c.mu.Lock()
	recvID := c.recvTransport
	c.mu.Unlock()

	data, err := c.sig.Request(signaling.MethodConsume, signaling.ConsumeRequest{
		TransportID:     recvID,
		ProducerID:      flow.ProducerID,
		RtpCapabilities: c.dev.RtpCapabilities(),
	})
	if err != nil {
		return err
	}
	var resp signaling.ConsumeResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("decode consumer params: %w", err)
	}

	// Consumers start paused server-side so no packets race the client's
	// receive setup; resume once ready.
	if _, err := c.sig.Request(signaling.MethodResumeConsumer,
		signaling.ResumeConsumerRequest{ConsumerID: resp.Params.ID}); err != nil {
		return err
	}

	c.mu.Lock()
	c.flows[flow.ProducerID] = RemoteFlow{
		ProducerID: flow.ProducerID,
		PeerID:     flow.PeerID,
		Kind:       flow.Kind,
		ConsumerID: resp.Params.ID,
	}
	c.notifyRosterLocked()
	c.mu.Unlock()
	return nil
}

func (c *Controller) notifyRosterLocked() {
	if c.onRoster == nil {
		return
	}
	flows := c.flowsLocked()
	fn := c.onRoster
	go fn(flows)
}

func (c *Controller) notificationLoop() {
	defer close(c.loopDone)

	for msg := range c.sig.Notifications() {
		switch msg.Type {
		case signaling.NotifyNewProducer:
			var n signaling.NewProducerNotification
			if err := json.Unmarshal(msg.Data, &n); err != nil {
				c.logger.Warn("bad newProducer notification", "error", err)
				continue
			}
			// Consume asynchronously so a slow setup never blocks other
			// inbound notifications.
			go func() {
				if c.State() != StateActive {
					return
				}
				flow := registry.Flow{ProducerID: n.ProducerID, PeerID: n.PeerID, Kind: n.Kind}
				if err := c.consumeFlow(flow); err != nil {
					c.logger.Warn("consume of new producer failed",
						"producerId", n.ProducerID, "error", err)
				}
			}()

		case signaling.NotifyPeerClosed:
			var n signaling.PeerClosedNotification
			if err := json.Unmarshal(msg.Data, &n); err != nil {
				c.logger.Warn("bad peerClosed notification", "error", err)
				continue
			}
			c.mu.Lock()
			changed := false
			for id, f := range c.flows {
				if f.PeerID == n.PeerID {
					delete(c.flows, id)
					changed = true
				}
			}
			if changed {
				c.notifyRosterLocked()
			}
			c.mu.Unlock()

		case signaling.NotifyProducerClosed:
			var n signaling.ProducerClosedNotification
			if err := json.Unmarshal(msg.Data, &n); err != nil {
				c.logger.Warn("bad producerClosed notification", "error", err)
				continue
			}
			c.mu.Lock()
			if _, ok := c.flows[n.ProducerID]; ok {
				delete(c.flows, n.ProducerID)
				c.notifyRosterLocked()
			}
			c.mu.Unlock()

		default:
			c.logger.Debug("ignoring notification", "type", msg.Type)
		}
	}

	// The server saw the disconnect and already cleaned this session up.
	c.mu.Lock()
	if c.state == StateActive {
		c.state = StateLeft
	}
	c.mu.Unlock()
}

// Leave tears the session down: local media released, connection closed. The
// server observes the socket close and handles the room side.
func (c *Controller) Leave() {
	c.mu.Lock()
	if c.state == StateLeft {
		c.mu.Unlock()
		return
	}
	wasActive := c.state == StateActive
	c.state = StateLeft
	c.mu.Unlock()

	c.dev.Release()
	c.sig.Close()
	if wasActive {
		<-c.loopDone
	}
}
