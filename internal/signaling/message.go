package signaling

import (
	"encoding/json"

	"gomeet/internal/media"
	"gomeet/internal/registry"
)

// Message is the envelope for every frame on the signaling socket.
//
// Requests carry a client-assigned correlation id; the response echoes it
// with Type "response" and either OK plus Data or OK=false plus a non-empty
// Error. Server-to-client notifications carry no id and expect no reply.
type Message struct {
	ID    uint64          `json:"id,omitempty"`
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data,omitempty"`
	OK    *bool           `json:"ok,omitempty"`
	Error string          `json:"error,omitempty"`
}

// Request methods.
const (
	MethodGetRouterRtpCapabilities = "getRouterRtpCapabilities"
	MethodJoinRoom                 = "joinRoom"
	MethodCreateWebRtcTransport    = "createWebRtcTransport"
	MethodConnectTransport         = "connectTransport"
	MethodProduce                  = "produce"
	MethodConsume                  = "consume"
	MethodCloseProducer            = "closeProducer"
	MethodResumeConsumer           = "resumeConsumer"
)

// Response and notification types.
const (
	TypeResponse = "response"

	NotifyNewProducer    = "newProducer"
	NotifyPeerClosed     = "peerClosed"
	NotifyProducerClosed = "producerClosed"
)

type RouterRtpCapabilitiesResponse struct {
	RouterRtpCapabilities json.RawMessage `json:"routerRtpCapabilities"`
}

type JoinRoomRequest struct {
	RoomID string `json:"roomId"`
}

type JoinRoomResponse struct {
	ProducerList []registry.Flow `json:"producerList"`
}

type CreateWebRtcTransportRequest struct {
	// Sender marks the transport as send-only; the direction is fixed for
	// the transport's lifetime.
	Sender bool `json:"sender"`
}

type CreateWebRtcTransportResponse struct {
	Params media.TransportParams `json:"params"`
}

type ConnectTransportRequest struct {
	TransportID    string          `json:"transportId"`
	DtlsParameters json.RawMessage `json:"dtlsParameters"`
}

type ProduceRequest struct {
	TransportID   string          `json:"transportId"`
	Kind          media.Kind      `json:"kind"`
	RtpParameters json.RawMessage `json:"rtpParameters"`
}

type ProduceResponse struct {
	ID string `json:"id"`
}

type ConsumeRequest struct {
	TransportID     string          `json:"transportId"`
	ProducerID      string          `json:"producerId"`
	RtpCapabilities json.RawMessage `json:"rtpCapabilities"`
}

type ConsumeResponse struct {
	Params ConsumerParams `json:"params"`
}

// ConsumerParams mirrors what the consuming client needs to set up its
// receive side. The consumer starts paused; see MethodResumeConsumer.
type ConsumerParams struct {
	ID             string          `json:"id"`
	ProducerID     string          `json:"producerId"`
	Kind           media.Kind      `json:"kind"`
	RtpParameters  json.RawMessage `json:"rtpParameters"`
	Type           string          `json:"type"`
	ProducerPaused bool            `json:"producerPaused"`
}

type CloseProducerRequest struct {
	ProducerID string `json:"producerId"`
}

type ResumeConsumerRequest struct {
	ConsumerID string `json:"consumerId"`
}

type NewProducerNotification struct {
	ProducerID string     `json:"producerId"`
	PeerID     string     `json:"peerId"`
	Kind       media.Kind `json:"kind"`
}

type PeerClosedNotification struct {
	PeerID string `json:"peerId"`
}

type ProducerClosedNotification struct {
	ProducerID string `json:"producerId"`
	PeerID     string `json:"peerId"`
}

// NewRequest builds a request envelope, marshaling the payload.
func NewRequest(id uint64, method string, payload any) (*Message, error) {
	msg := &Message{ID: id, Type: method}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		msg.Data = data
	}
	return msg, nil
}

// NewNotification builds a server push. The notification payload types are
// fixed structs that cannot fail to marshal.
func NewNotification(kind string, payload any) *Message {
	data, _ := json.Marshal(payload)
	return &Message{Type: kind, Data: data}
}

func okResponse(id uint64, payload any) *Message {
	ok := true
	msg := &Message{ID: id, Type: TypeResponse, OK: &ok}
	if payload != nil {
		data, _ := json.Marshal(payload)
		msg.Data = data
	}
	return msg
}

func errResponse(id uint64, err error) *Message {
	ok := false
	reason := "internal error"
	if err != nil && err.Error() != "" {
		reason = err.Error()
	}
	return &Message{ID: id, Type: TypeResponse, OK: &ok, Error: reason}
}
