package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"gomeet/internal/media"
	"gomeet/internal/registry"
)

// errCannotConsume is the wire-visible failure for consuming a producer that
// is unknown, already gone, or capability-incompatible.
var errCannotConsume = errors.New("cannot consume")

// Handler mediates every request from one connection: validate against the
// registry, call the media engine, update the registry, notify the room.
// Messages from one connection are handled serially (ReadPump calls Handle
// inline), so responses always leave in request order and per-peer state
// never sees two of this peer's requests at once.
type Handler struct {
	peerID string
	reg    *registry.Registry
	engine media.Engine
	disp   *Dispatcher
	conn   Sender
	logger *slog.Logger
}

func NewHandler(peerID string, reg *registry.Registry, engine media.Engine, disp *Dispatcher, conn Sender, logger *slog.Logger) *Handler {
	return &Handler{
		peerID: peerID,
		reg:    reg,
		engine: engine,
		disp:   disp,
		conn:   conn,
		logger: logger.With("peerId", peerID),
	}
}

// Handle processes one request and always produces exactly one response.
// Every failure is converted to a structured {ok:false, error} result; no
// fault ever escapes to tear down the connection.
func (h *Handler) Handle(msg *Message) {
	result, err := h.dispatch(msg)
	if err != nil {
		h.logger.Warn("request failed", "type", msg.Type, "error", err)
		h.conn.Send(errResponse(msg.ID, err))
		return
	}
	h.conn.Send(okResponse(msg.ID, result))
}

func (h *Handler) dispatch(msg *Message) (any, error) {
	switch msg.Type {
	case MethodGetRouterRtpCapabilities:
		return RouterRtpCapabilitiesResponse{
			RouterRtpCapabilities: h.engine.RouterRtpCapabilities(),
		}, nil

	case MethodJoinRoom:
		return h.joinRoom(msg.Data)

	case MethodCreateWebRtcTransport:
		return h.createTransport(msg.Data)

	case MethodConnectTransport:
		return nil, h.connectTransport(msg.Data)

	case MethodProduce:
		return h.produce(msg.Data)

	case MethodConsume:
		return h.consume(msg.Data)

	case MethodCloseProducer:
		return nil, h.closeProducer(msg.Data)

	case MethodResumeConsumer:
		return nil, h.resumeConsumer(msg.Data)

	default:
		return nil, fmt.Errorf("unsupported request type %q", msg.Type)
	}
}

func (h *Handler) joinRoom(data json.RawMessage) (any, error) {
	var req JoinRoomRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("invalid joinRoom payload: %w", err)
	}
	if req.RoomID == "" {
		return nil, errors.New("roomId must not be empty")
	}

	snapshot, announce, recipients, err := h.reg.JoinRoom(h.peerID, req.RoomID)
	if err != nil {
		return nil, err
	}

	// The peer produced before joining, so these flows were never broadcast.
	// Announce them to the members that predate the join; anyone joining
	// later sees them in its own snapshot instead.
	for _, flow := range announce {
		h.disp.NewProducer(recipients, flow)
	}
	return JoinRoomResponse{ProducerList: snapshot}, nil
}

func (h *Handler) createTransport(data json.RawMessage) (any, error) {
	var req CreateWebRtcTransportRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("invalid createWebRtcTransport payload: %w", err)
	}

	transport, err := h.engine.CreateTransport()
	if err != nil {
		return nil, err
	}
	if err := h.reg.AddTransport(h.peerID, transport); err != nil {
		transport.Close()
		return nil, err
	}

	h.logger.Debug("transport created", "transportId", transport.ID(), "sender", req.Sender)
	return CreateWebRtcTransportResponse{Params: transport.Params()}, nil
}

func (h *Handler) connectTransport(data json.RawMessage) error {
	var req ConnectTransportRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("invalid connectTransport payload: %w", err)
	}

	transport, err := h.reg.Transport(h.peerID, req.TransportID)
	if err != nil {
		return err
	}
	return transport.Connect(req.DtlsParameters)
}

func (h *Handler) produce(data json.RawMessage) (any, error) {
	var req ProduceRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("invalid produce payload: %w", err)
	}
	if !req.Kind.Valid() {
		return nil, fmt.Errorf("invalid media kind %q", req.Kind)
	}

	transport, err := h.reg.Transport(h.peerID, req.TransportID)
	if err != nil {
		return nil, err
	}

	producer, err := transport.Produce(req.Kind, req.RtpParameters)
	if err != nil {
		return nil, err
	}

	// Registration and the broadcast recipient set are one atomic step in
	// the registry, so a concurrently joining peer gets this flow exactly
	// once: in its snapshot or via this broadcast.
	recipients, err := h.reg.AddProducer(h.peerID, producer)
	if err != nil {
		producer.Close()
		return nil, err
	}
	h.disp.NewProducer(recipients, registry.Flow{
		ProducerID: producer.ID(),
		PeerID:     h.peerID,
		Kind:       producer.Kind(),
	})

	h.logger.Info("producer created", "producerId", producer.ID(), "kind", producer.Kind())
	return ProduceResponse{ID: producer.ID()}, nil
}

func (h *Handler) consume(data json.RawMessage) (any, error) {
	var req ConsumeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("invalid consume payload: %w", err)
	}

	// Existence first: a producer whose owner is gone resolves to nothing,
	// atomically with the owner's removal.
	if _, _, err := h.reg.LookupProducer(req.ProducerID); err != nil {
		return nil, errCannotConsume
	}
	if !h.engine.CanConsume(req.ProducerID, req.RtpCapabilities) {
		return nil, errCannotConsume
	}

	transport, err := h.reg.Transport(h.peerID, req.TransportID)
	if err != nil {
		return nil, err
	}

	consumer, err := transport.Consume(req.ProducerID, req.RtpCapabilities)
	if err != nil {
		return nil, err
	}
	if err := h.reg.AddConsumer(h.peerID, consumer); err != nil {
		consumer.Close()
		return nil, err
	}

	h.logger.Debug("consumer created",
		"consumerId", consumer.ID(), "producerId", req.ProducerID, "kind", consumer.Kind())
	return ConsumeResponse{Params: ConsumerParams{
		ID:             consumer.ID(),
		ProducerID:     req.ProducerID,
		Kind:           consumer.Kind(),
		RtpParameters:  consumer.RtpParameters(),
		Type:           consumer.Type(),
		ProducerPaused: consumer.ProducerPaused(),
	}}, nil
}

func (h *Handler) closeProducer(data json.RawMessage) error {
	var req CloseProducerRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("invalid closeProducer payload: %w", err)
	}

	producer, recipients, err := h.reg.RemoveProducer(h.peerID, req.ProducerID)
	if err != nil {
		return err
	}
	producer.Close()
	h.disp.ProducerClosed(recipients, req.ProducerID, h.peerID)

	h.logger.Info("producer closed", "producerId", req.ProducerID)
	return nil
}

func (h *Handler) resumeConsumer(data json.RawMessage) error {
	var req ResumeConsumerRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("invalid resumeConsumer payload: %w", err)
	}

	consumer, err := h.reg.Consumer(h.peerID, req.ConsumerID)
	if err != nil {
		return err
	}
	return consumer.Resume()
}

// Disconnected tears down everything the peer owned. Disconnection is the
// only cancellation signal in the protocol: the peer's transports are closed
// (cascading to producers and consumers) and the remaining room members are
// told exactly once that the peer is gone.
func (h *Handler) Disconnected() {
	h.disp.Unregister(h.peerID)

	roomID, remaining, transports := h.reg.RemovePeer(h.peerID)
	for _, t := range transports {
		t.Close()
	}
	if len(remaining) > 0 {
		h.disp.PeerClosed(remaining, h.peerID)
	}

	h.logger.Info("peer disconnected", "roomId", roomID, "remaining", len(remaining))
}
