package media

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	mediasoup "github.com/jiyeyuran/mediasoup-go/v2"
)

// EngineConfig carries the deployment-level knobs for the mediasoup worker
// and its single router.
type EngineConfig struct {
	// WorkerBin is the path to the mediasoup-worker executable. Empty means
	// the library's default lookup (MEDIASOUP_WORKER_BIN).
	WorkerBin string

	RtcMinPort uint16
	RtcMaxPort uint16

	// ListenIP is the local address transports bind to; AnnouncedIP is what
	// gets handed to clients in ICE candidates (the public address when the
	// server sits behind NAT).
	ListenIP    string
	AnnouncedIP string
}

type msoupEngine struct {
	worker *mediasoup.Worker
	router *mediasoup.Router
	caps   json.RawMessage
	cfg    EngineConfig
	logger *slog.Logger
}

// NewEngine spawns the mediasoup worker and creates the router on it. The
// router is fully ready before this returns, so connections accepted
// afterwards can never observe a not-yet-ready capability set.
//
// onDied is invoked if the worker process dies underneath us. That is
// unrecoverable: the router and every transport built on it are gone, so the
// caller is expected to terminate the process.
func NewEngine(cfg EngineConfig, logger *slog.Logger, onDied func()) (Engine, error) {
	worker, err := mediasoup.NewWorker(cfg.WorkerBin,
		func(s *mediasoup.WorkerSettings) {
			s.Logger = logger
		},
	)
	if err != nil {
		return nil, fmt.Errorf("create mediasoup worker: %w", err)
	}
	worker.OnClose(func(ctx context.Context) {
		if onDied != nil {
			onDied()
		}
	})

	router, err := worker.CreateRouter(&mediasoup.RouterOptions{
		MediaCodecs: defaultMediaCodecs(),
	})
	if err != nil {
		worker.Close()
		return nil, fmt.Errorf("create mediasoup router: %w", err)
	}

	caps, err := json.Marshal(router.RtpCapabilities())
	if err != nil {
		worker.Close()
		return nil, fmt.Errorf("encode router capabilities: %w", err)
	}

	logger.Info("media engine ready",
		"rtcMinPort", cfg.RtcMinPort, "rtcMaxPort", cfg.RtcMaxPort)

	return &msoupEngine{
		worker: worker,
		router: router,
		caps:   caps,
		cfg:    cfg,
		logger: logger,
	}, nil
}

// The codec set every participant negotiates against: Opus audio and VP8
// video, matching what browsers offer by default.
func defaultMediaCodecs() []*mediasoup.RtpCodecCapability {
	return []*mediasoup.RtpCodecCapability{
		{
			Kind:      mediasoup.MediaKindAudio,
			MimeType:  "audio/opus",
			ClockRate: 48000,
			Channels:  2,
		},
		{
			Kind:      mediasoup.MediaKindVideo,
			MimeType:  "video/VP8",
			ClockRate: 90000,
			Parameters: mediasoup.RtpCodecSpecificParameters{
				XGoogleStartBitrate: 1000,
			},
		},
	}
}

func (e *msoupEngine) RouterRtpCapabilities() json.RawMessage {
	return e.caps
}

func (e *msoupEngine) CanConsume(producerID string, rtpCapabilities json.RawMessage) bool {
	var caps mediasoup.RtpCapabilities
	if err := json.Unmarshal(rtpCapabilities, &caps); err != nil {
		return false
	}
	return e.router.CanConsume(producerID, &caps)
}

func (e *msoupEngine) CreateTransport() (Transport, error) {
	announced := e.cfg.AnnouncedIP
	if announced == "" {
		announced = e.cfg.ListenIP
	}

	transport, err := e.router.CreateWebRtcTransport(&mediasoup.WebRtcTransportOptions{
		ListenInfos: []mediasoup.TransportListenInfo{
			{
				Protocol:         mediasoup.TransportProtocolUDP,
				Ip:               e.cfg.ListenIP,
				AnnouncedAddress: announced,
				PortRange: mediasoup.TransportPortRange{
					Min: e.cfg.RtcMinPort,
					Max: e.cfg.RtcMaxPort,
				},
			},
			{
				Protocol:         mediasoup.TransportProtocolTCP,
				Ip:               e.cfg.ListenIP,
				AnnouncedAddress: announced,
				PortRange: mediasoup.TransportPortRange{
					Min: e.cfg.RtcMinPort,
					Max: e.cfg.RtcMaxPort,
				},
			},
		},
	})
	if err != nil {
		return nil, err
	}

	transport.OnDtlsStateChange(func(state mediasoup.DtlsState) {
		if state == "failed" || state == "closed" {
			e.logger.Warn("closing transport on dtls state change",
				"transportId", transport.Id(), "dtlsState", state)
			transport.Close()
		}
	})

	data := transport.Data().WebRtcTransportData

	return &msoupTransport{
		transport: transport,
		params: TransportParams{
			ID:             transport.Id(),
			IceParameters:  mustJSON(data.IceParameters),
			IceCandidates:  mustJSON(data.IceCandidates),
			DtlsParameters: mustJSON(data.DtlsParameters),
			SctpParameters: mustJSON(data.SctpParameters),
		},
	}, nil
}

func (e *msoupEngine) Close() error {
	e.worker.Close()
	return nil
}

type msoupTransport struct {
	transport *mediasoup.Transport
	params    TransportParams
}

func (t *msoupTransport) ID() string { return t.transport.Id() }

func (t *msoupTransport) Params() TransportParams { return t.params }

func (t *msoupTransport) Connect(dtlsParameters json.RawMessage) error {
	var dtls mediasoup.DtlsParameters
	if err := json.Unmarshal(dtlsParameters, &dtls); err != nil {
		return fmt.Errorf("decode dtls parameters: %w", err)
	}
	return t.transport.Connect(&mediasoup.TransportConnectOptions{
		DtlsParameters: &dtls,
	})
}

func (t *msoupTransport) Produce(kind Kind, rtpParameters json.RawMessage) (Producer, error) {
	var rtp mediasoup.RtpParameters
	if err := json.Unmarshal(rtpParameters, &rtp); err != nil {
		return nil, fmt.Errorf("decode rtp parameters: %w", err)
	}
	producer, err := t.transport.Produce(&mediasoup.ProducerOptions{
		Kind:          mediasoup.MediaKind(kind),
		RtpParameters: &rtp,
	})
	if err != nil {
		return nil, err
	}
	return &msoupProducer{producer}, nil
}

func (t *msoupTransport) Consume(producerID string, rtpCapabilities json.RawMessage) (Consumer, error) {
	var caps mediasoup.RtpCapabilities
	if err := json.Unmarshal(rtpCapabilities, &caps); err != nil {
		return nil, fmt.Errorf("decode rtp capabilities: %w", err)
	}
	consumer, err := t.transport.Consume(&mediasoup.ConsumerOptions{
		ProducerId:      producerID,
		RtpCapabilities: &caps,
		// Paused until the consuming client has wired up its decoder;
		// avoids RTP arriving before the remote end can associate the
		// stream.
		Paused: true,
	})
	if err != nil {
		return nil, err
	}
	return &msoupConsumer{
		consumer: consumer,
		rtp:      mustJSON(consumer.RtpParameters()),
	}, nil
}

func (t *msoupTransport) Close() error { return t.transport.Close() }

type msoupProducer struct {
	producer *mediasoup.Producer
}

func (p *msoupProducer) ID() string   { return p.producer.Id() }
func (p *msoupProducer) Kind() Kind   { return Kind(p.producer.Kind()) }
func (p *msoupProducer) Close() error { return p.producer.Close() }

type msoupConsumer struct {
	consumer *mediasoup.Consumer
	rtp      json.RawMessage
}

func (c *msoupConsumer) ID() string                     { return c.consumer.Id() }
func (c *msoupConsumer) Kind() Kind                     { return Kind(c.consumer.Kind()) }
func (c *msoupConsumer) RtpParameters() json.RawMessage { return c.rtp }
func (c *msoupConsumer) Type() string                   { return string(c.consumer.Type()) }
func (c *msoupConsumer) ProducerPaused() bool           { return c.consumer.ProducerPaused() }
func (c *msoupConsumer) Resume() error                  { return c.consumer.Resume() }
func (c *msoupConsumer) Close() error                   { return c.consumer.Close() }

func mustJSON(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
