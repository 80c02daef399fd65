package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"gomeet/internal/media"
)

// Device abstracts the local media side of a session: capture devices,
// capability negotiation against the router and the parameters for the
// tracks this client sends.
type Device interface {
	// Acquire claims the local capture devices. It must succeed before any
	// signaling beyond the capability fetch happens.
	Acquire() error
	// Release frees whatever Acquire claimed. Safe to call when nothing is
	// held.
	Release()

	// Load primes the device with the router's RTP capabilities. Every later
	// call depends on a successful Load.
	Load(routerRtpCapabilities json.RawMessage) error
	// RtpCapabilities reports what this device can receive.
	RtpCapabilities() json.RawMessage
	// DtlsParameters returns the client half of the DTLS handshake.
	DtlsParameters() json.RawMessage
	// ProduceParameters returns the RTP parameters for the outgoing track of
	// the given kind.
	ProduceParameters(kind media.Kind) (json.RawMessage, error)
}

type rtpEncoding struct {
	Rid        string `json:"rid,omitempty"`
	MaxBitrate int    `json:"maxBitrate,omitempty"`
}

type rtpCodec struct {
	MimeType    string `json:"mimeType"`
	ClockRate   int    `json:"clockRate"`
	PayloadType int    `json:"payloadType"`
	Channels    int    `json:"channels,omitempty"`
}

type rtpParameters struct {
	Codecs    []rtpCodec    `json:"codecs"`
	Encodings []rtpEncoding `json:"encodings"`
}

// StaticDevice is a Device with fixed synthetic parameters: one VP8 video
// track with three simulcast layers and one opus audio track. It stands in
// for a real capture pipeline, which lives outside this module.
type StaticDevice struct {
	mu         sync.Mutex
	acquired   bool
	routerCaps json.RawMessage
}

func NewStaticDevice() *StaticDevice {
	return &StaticDevice{}
}

func (d *StaticDevice) Acquire() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.acquired {
		return errors.New("capture devices already acquired")
	}
	d.acquired = true
	return nil
}

func (d *StaticDevice) Release() {
	d.mu.Lock()
	d.acquired = false
	d.routerCaps = nil
	d.mu.Unlock()
}

func (d *StaticDevice) Load(routerRtpCapabilities json.RawMessage) error {
	if len(routerRtpCapabilities) == 0 {
		return errors.New("empty router rtp capabilities")
	}
	d.mu.Lock()
	d.routerCaps = routerRtpCapabilities
	d.mu.Unlock()
	return nil
}

// RtpCapabilities mirrors the router's capabilities: the synthetic device
// can receive anything the router can route.
func (d *StaticDevice) RtpCapabilities() json.RawMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.routerCaps
}

func (d *StaticDevice) DtlsParameters() json.RawMessage {
	return json.RawMessage(`{"role":"client","fingerprints":[{"algorithm":"sha-256","value":"0D:0A:6C:EC:3F:69:1F:1C:5C:9F:2A:67:2B:54:6C:4A:5E:8F:76:24:2C:9C:36:8E:41:91:0B:55:1A:AC:6E:8D"}]}`)
}

func (d *StaticDevice) ProduceParameters(kind media.Kind) (json.RawMessage, error) {
	var params rtpParameters
	switch kind {
	case media.KindVideo:
		params = rtpParameters{
			Codecs: []rtpCodec{{MimeType: "video/VP8", ClockRate: 90000, PayloadType: 96}},
			// Three simulcast layers with ascending bitrate caps; the router
			// picks the layer each receiver can afford.
			Encodings: []rtpEncoding{
				{Rid: "r0", MaxBitrate: 100000},
				{Rid: "r1", MaxBitrate: 300000},
				{Rid: "r2", MaxBitrate: 900000},
			},
		}
	case media.KindAudio:
		params = rtpParameters{
			Codecs:    []rtpCodec{{MimeType: "audio/opus", ClockRate: 48000, PayloadType: 111, Channels: 2}},
			Encodings: []rtpEncoding{{}},
		}
	default:
		return nil, fmt.Errorf("unknown media kind %q", kind)
	}
	return json.Marshal(params)
}
