package client

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gomeet/internal/media"
	"gomeet/internal/registry"
	"gomeet/internal/signaling"
)

// fakeSignaler scripts the server side of a session: canned responses per
// method, optional per-method failures and a channel to inject notifications.
type fakeSignaler struct {
	mu       sync.Mutex
	methods  []string
	nextID   int
	failOn   map[string]error
	snapshot []registry.Flow

	notifs    chan *signaling.Message
	closeOnce sync.Once
}

func newFakeSignaler() *fakeSignaler {
	return &fakeSignaler{
		failOn: make(map[string]error),
		notifs: make(chan *signaling.Message, 16),
	}
}

func (f *fakeSignaler) Request(method string, payload any) (json.RawMessage, error) {
	f.mu.Lock()
	f.methods = append(f.methods, method)
	f.nextID++
	id := f.nextID
	err := f.failOn[method]
	snapshot := f.snapshot
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}

	switch method {
	case signaling.MethodGetRouterRtpCapabilities:
		return json.Marshal(signaling.RouterRtpCapabilitiesResponse{
			RouterRtpCapabilities: json.RawMessage(`{"codecs":[]}`),
		})

	case signaling.MethodCreateWebRtcTransport:
		return json.Marshal(signaling.CreateWebRtcTransportResponse{
			Params: media.TransportParams{ID: fmt.Sprintf("transport-%d", id)},
		})

	case signaling.MethodProduce:
		return json.Marshal(signaling.ProduceResponse{ID: fmt.Sprintf("producer-%d", id)})

	case signaling.MethodJoinRoom:
		return json.Marshal(signaling.JoinRoomResponse{ProducerList: snapshot})

	case signaling.MethodConsume:
		raw, _ := json.Marshal(payload)
		var req signaling.ConsumeRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, err
		}
		return json.Marshal(signaling.ConsumeResponse{Params: signaling.ConsumerParams{
			ID:            fmt.Sprintf("consumer-%d", id),
			ProducerID:    req.ProducerID,
			Kind:          media.KindVideo,
			RtpParameters: json.RawMessage(`{}`),
			Type:          "simple",
		}})

	case signaling.MethodConnectTransport, signaling.MethodResumeConsumer:
		return nil, nil
	}
	return nil, fmt.Errorf("unexpected method %s", method)
}

func (f *fakeSignaler) Notifications() <-chan *signaling.Message {
	return f.notifs
}

func (f *fakeSignaler) Close() {
	f.closeOnce.Do(func() { close(f.notifs) })
}

func (f *fakeSignaler) calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.methods {
		if m == method {
			n++
		}
	}
	return n
}

func (f *fakeSignaler) notify(kind string, payload any) {
	f.notifs <- signaling.NewNotification(kind, payload)
}

func newTestController(sig *fakeSignaler) *Controller {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewController(sig, NewStaticDevice(), logger)
}

func TestJoinRunsFullSequence(t *testing.T) {
	sig := newFakeSignaler()
	sig.snapshot = []registry.Flow{
		{ProducerID: "remote-video", PeerID: "x", Kind: media.KindVideo},
		{ProducerID: "remote-audio", PeerID: "x", Kind: media.KindAudio},
	}
	ctrl := newTestController(sig)

	require.NoError(t, ctrl.Join("room"))
	assert.Equal(t, StateActive, ctrl.State())

	// Capability fetch, two transports each connected, two produces, the
	// join itself, then one consume+resume per snapshot flow.
	assert.Equal(t, 1, sig.calls(signaling.MethodGetRouterRtpCapabilities))
	assert.Equal(t, 2, sig.calls(signaling.MethodCreateWebRtcTransport))
	assert.Equal(t, 2, sig.calls(signaling.MethodConnectTransport))
	assert.Equal(t, 2, sig.calls(signaling.MethodProduce))
	assert.Equal(t, 1, sig.calls(signaling.MethodJoinRoom))
	assert.Equal(t, 2, sig.calls(signaling.MethodConsume))
	assert.Equal(t, 2, sig.calls(signaling.MethodResumeConsumer))

	flows := ctrl.Flows()
	require.Len(t, flows, 2)
	for _, f := range flows {
		assert.Equal(t, "x", f.PeerID)
		assert.NotEmpty(t, f.ConsumerID)
	}

	ctrl.Leave()
	assert.Equal(t, StateLeft, ctrl.State())
}

func TestJoinValidation(t *testing.T) {
	t.Run("empty room id", func(t *testing.T) {
		ctrl := newTestController(newFakeSignaler())
		require.Error(t, ctrl.Join(""))
		assert.Equal(t, StateIdle, ctrl.State())
	})

	t.Run("join twice", func(t *testing.T) {
		ctrl := newTestController(newFakeSignaler())
		require.NoError(t, ctrl.Join("room"))
		err := ctrl.Join("room")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cannot join in state active")
	})
}

func TestJoinFailureReturnsToIdle(t *testing.T) {
	sig := newFakeSignaler()
	sig.failOn[signaling.MethodProduce] = fmt.Errorf("produce: no video transport")
	ctrl := newTestController(sig)

	require.Error(t, ctrl.Join("room"))
	assert.Equal(t, StateIdle, ctrl.State())

	// Media was released on the way out, so a retry can re-acquire and the
	// session is joinable again.
	sig.mu.Lock()
	delete(sig.failOn, signaling.MethodProduce)
	sig.mu.Unlock()
	require.NoError(t, ctrl.Join("room"))
	assert.Equal(t, StateActive, ctrl.State())
}

func TestInitialConsumeFailureDegrades(t *testing.T) {
	sig := newFakeSignaler()
	sig.snapshot = []registry.Flow{
		{ProducerID: "remote-video", PeerID: "x", Kind: media.KindVideo},
	}
	sig.failOn[signaling.MethodConsume] = fmt.Errorf("consume: cannot consume")
	ctrl := newTestController(sig)

	require.NoError(t, ctrl.Join("room"))
	assert.Equal(t, StateActive, ctrl.State())
	assert.Empty(t, ctrl.Flows())
}

func TestNewProducerNotificationAddsFlow(t *testing.T) {
	sig := newFakeSignaler()
	ctrl := newTestController(sig)
	require.NoError(t, ctrl.Join("room"))

	sig.notify(signaling.NotifyNewProducer, signaling.NewProducerNotification{
		ProducerID: "late-video", PeerID: "y", Kind: media.KindVideo,
	})

	require.Eventually(t, func() bool {
		return len(ctrl.Flows()) == 1
	}, time.Second, 5*time.Millisecond)

	flow := ctrl.Flows()[0]
	assert.Equal(t, "late-video", flow.ProducerID)
	assert.Equal(t, "y", flow.PeerID)
	assert.Equal(t, 1, sig.calls(signaling.MethodResumeConsumer))
}

func TestPeerClosedDropsAllFlowsOfPeer(t *testing.T) {
	sig := newFakeSignaler()
	sig.snapshot = []registry.Flow{
		{ProducerID: "x-video", PeerID: "x", Kind: media.KindVideo},
		{ProducerID: "x-audio", PeerID: "x", Kind: media.KindAudio},
		{ProducerID: "y-video", PeerID: "y", Kind: media.KindVideo},
	}
	ctrl := newTestController(sig)
	require.NoError(t, ctrl.Join("room"))
	require.Len(t, ctrl.Flows(), 3)

	sig.notify(signaling.NotifyPeerClosed, signaling.PeerClosedNotification{PeerID: "x"})

	require.Eventually(t, func() bool {
		return len(ctrl.Flows()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "y", ctrl.Flows()[0].PeerID)
}

func TestProducerClosedDropsOneFlow(t *testing.T) {
	sig := newFakeSignaler()
	sig.snapshot = []registry.Flow{
		{ProducerID: "x-video", PeerID: "x", Kind: media.KindVideo},
		{ProducerID: "x-audio", PeerID: "x", Kind: media.KindAudio},
	}
	ctrl := newTestController(sig)
	require.NoError(t, ctrl.Join("room"))

	sig.notify(signaling.NotifyProducerClosed, signaling.ProducerClosedNotification{
		ProducerID: "x-video", PeerID: "x",
	})

	require.Eventually(t, func() bool {
		return len(ctrl.Flows()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "x-audio", ctrl.Flows()[0].ProducerID)
}

func TestDisconnectEndsSession(t *testing.T) {
	sig := newFakeSignaler()
	ctrl := newTestController(sig)
	require.NoError(t, ctrl.Join("room"))

	sig.Close()

	require.Eventually(t, func() bool {
		return ctrl.State() == StateLeft
	}, time.Second, 5*time.Millisecond)
}

func TestRosterCallback(t *testing.T) {
	sig := newFakeSignaler()
	sig.snapshot = []registry.Flow{
		{ProducerID: "x-video", PeerID: "x", Kind: media.KindVideo},
	}
	ctrl := newTestController(sig)

	var mu sync.Mutex
	var last []RemoteFlow
	ctrl.OnRosterChange(func(flows []RemoteFlow) {
		mu.Lock()
		last = flows
		mu.Unlock()
	})

	require.NoError(t, ctrl.Join("room"))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(last) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestStaticDevice(t *testing.T) {
	dev := NewStaticDevice()

	require.NoError(t, dev.Acquire())
	require.Error(t, dev.Acquire(), "double acquire")
	dev.Release()
	require.NoError(t, dev.Acquire())

	require.Error(t, dev.Load(nil))
	require.NoError(t, dev.Load(json.RawMessage(`{"codecs":[]}`)))
	assert.NotEmpty(t, dev.RtpCapabilities())
	assert.NotEmpty(t, dev.DtlsParameters())

	video, err := dev.ProduceParameters(media.KindVideo)
	require.NoError(t, err)
	var params rtpParameters
	require.NoError(t, json.Unmarshal(video, &params))
	require.Len(t, params.Encodings, 3)
	assert.Less(t, params.Encodings[0].MaxBitrate, params.Encodings[1].MaxBitrate)
	assert.Less(t, params.Encodings[1].MaxBitrate, params.Encodings[2].MaxBitrate)

	audio, err := dev.ProduceParameters(media.KindAudio)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(audio, &params))
	require.Len(t, params.Encodings, 1)

	_, err = dev.ProduceParameters(media.Kind("screen"))
	require.Error(t, err)
}

func TestRandomRoomID(t *testing.T) {
	seen := make(map[string]bool)
	for range 20 {
		id := RandomRoomID()
		require.NotEmpty(t, id)
		seen[id] = true
	}
	assert.Greater(t, len(seen), 1, "ids should vary")
}
