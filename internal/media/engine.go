// Package media wraps the SFU media engine behind a small interface.
//
// The signaling core only decides when transports, producers and consumers
// are created and torn down; codec negotiation, ICE/DTLS and RTP forwarding
// all happen inside the engine. Everything the engine negotiates is carried
// through the core as opaque JSON so the protocol handler never has to
// understand RTP parameters it merely relays.
package media

import "encoding/json"

// Kind identifies a media flow type.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Valid reports whether k is one of the two flow kinds the engine accepts.
func (k Kind) Valid() bool {
	return k == KindAudio || k == KindVideo
}

// TransportParams is everything a client needs to complete the ICE+DTLS
// handshake against a server-side transport.
type TransportParams struct {
	ID             string          `json:"id"`
	IceParameters  json.RawMessage `json:"iceParameters,omitempty"`
	IceCandidates  json.RawMessage `json:"iceCandidates,omitempty"`
	DtlsParameters json.RawMessage `json:"dtlsParameters,omitempty"`
	SctpParameters json.RawMessage `json:"sctpParameters,omitempty"`
}

// Engine is one media worker plus one router, created at process start and
// alive for the process lifetime. Implementations must be safe for use from
// many connection goroutines at once.
type Engine interface {
	// RouterRtpCapabilities returns the router's negotiated capability set.
	RouterRtpCapabilities() json.RawMessage

	// CanConsume reports whether a peer with the given capabilities is able
	// to consume the identified producer. Unknown producer ids are simply
	// not consumable.
	CanConsume(producerID string, rtpCapabilities json.RawMessage) bool

	// CreateTransport allocates a new WebRTC transport on the router.
	CreateTransport() (Transport, error)

	// Close tears the worker down. Only called on process shutdown.
	Close() error
}

// Transport is a single directional network endpoint owned by one peer.
// Closing it cascade-closes every producer and consumer created on it.
type Transport interface {
	ID() string
	Params() TransportParams
	Connect(dtlsParameters json.RawMessage) error
	Produce(kind Kind, rtpParameters json.RawMessage) (Producer, error)
	// Consume creates a consumer in paused state; the client resumes it once
	// its local decoder is wired up.
	Consume(producerID string, rtpCapabilities json.RawMessage) (Consumer, error)
	Close() error
}

// Producer is one outbound media flow a peer sends into the SFU.
type Producer interface {
	ID() string
	Kind() Kind
	Close() error
}

// Consumer is one inbound media flow, sourced from another peer's producer.
type Consumer interface {
	ID() string
	Kind() Kind
	RtpParameters() json.RawMessage
	Type() string
	ProducerPaused() bool
	Resume() error
	Close() error
}
