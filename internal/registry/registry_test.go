package registry

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gomeet/internal/media"
	"gomeet/internal/media/mediatest"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func produceOn(t *testing.T, engine *mediatest.Engine, kind media.Kind) media.Producer {
	t.Helper()
	transport, err := engine.CreateTransport()
	require.NoError(t, err)
	producer, err := transport.Produce(kind, nil)
	require.NoError(t, err)
	return producer
}

func TestCreatePeerRejectsDuplicate(t *testing.T) {
	reg := newTestRegistry(t)

	require.NoError(t, reg.CreatePeer("p1"))
	err := reg.CreatePeer("p1")
	require.ErrorIs(t, err, ErrPeerExists)
}

func TestJoinRoom(t *testing.T) {
	t.Run("first join creates the room", func(t *testing.T) {
		reg := newTestRegistry(t)
		require.NoError(t, reg.CreatePeer("p1"))

		snapshot, announce, recipients, err := reg.JoinRoom("p1", "room-a")
		require.NoError(t, err)
		assert.Empty(t, snapshot)
		assert.Empty(t, announce)
		assert.Empty(t, recipients)

		total, rooms := reg.Stats()
		assert.Equal(t, 1, total)
		require.Len(t, rooms, 1)
		assert.Equal(t, "room-a", rooms[0].RoomID)
		assert.Equal(t, 1, rooms[0].Members)
	})

	t.Run("double join is rejected without state change", func(t *testing.T) {
		reg := newTestRegistry(t)
		require.NoError(t, reg.CreatePeer("p1"))
		_, _, _, err := reg.JoinRoom("p1", "room-a")
		require.NoError(t, err)

		_, _, _, err = reg.JoinRoom("p1", "room-b")
		require.ErrorIs(t, err, ErrAlreadyJoined)

		_, rooms := reg.Stats()
		require.Len(t, rooms, 1)
		assert.Equal(t, "room-a", rooms[0].RoomID)
	})

	t.Run("unknown peer", func(t *testing.T) {
		reg := newTestRegistry(t)
		_, _, _, err := reg.JoinRoom("ghost", "room-a")
		require.ErrorIs(t, err, ErrUnknownPeer)
	})
}

func TestJoinSnapshotListsOtherMembersProducers(t *testing.T) {
	reg := newTestRegistry(t)
	engine := mediatest.NewEngine()

	require.NoError(t, reg.CreatePeer("a"))
	require.NoError(t, reg.CreatePeer("b"))
	_, _, _, err := reg.JoinRoom("a", "room")
	require.NoError(t, err)

	video := produceOn(t, engine, media.KindVideo)
	audio := produceOn(t, engine, media.KindAudio)
	_, err = reg.AddProducer("a", video)
	require.NoError(t, err)
	_, err = reg.AddProducer("a", audio)
	require.NoError(t, err)

	snapshot, announce, recipients, err := reg.JoinRoom("b", "room")
	require.NoError(t, err)
	require.Len(t, snapshot, 2)
	for _, f := range snapshot {
		assert.Equal(t, "a", f.PeerID)
	}
	assert.Empty(t, announce, "b has produced nothing yet")
	assert.Equal(t, []string{"a"}, recipients)

	// The joiner's own producers never appear in anyone's snapshot of
	// themselves.
	ownVideo := produceOn(t, engine, media.KindVideo)
	produceRecipients, err := reg.AddProducer("b", ownVideo)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, produceRecipients)
}

func TestJoinAnnouncesPreJoinProducers(t *testing.T) {
	reg := newTestRegistry(t)
	engine := mediatest.NewEngine()

	require.NoError(t, reg.CreatePeer("a"))
	require.NoError(t, reg.CreatePeer("b"))
	_, _, _, err := reg.JoinRoom("a", "room")
	require.NoError(t, err)

	// b produces before joining, the normal client order. Those flows had no
	// room to be broadcast into, so the join returns them for announcement.
	video := produceOn(t, engine, media.KindVideo)
	recipients, err := reg.AddProducer("b", video)
	require.NoError(t, err)
	assert.Empty(t, recipients)

	_, announce, joinRecipients, err := reg.JoinRoom("b", "room")
	require.NoError(t, err)
	require.Len(t, announce, 1)
	assert.Equal(t, video.ID(), announce[0].ProducerID)
	assert.Equal(t, "b", announce[0].PeerID)
	assert.Equal(t, []string{"a"}, joinRecipients)
}

func TestAddProducer(t *testing.T) {
	t.Run("one producer per kind", func(t *testing.T) {
		reg := newTestRegistry(t)
		engine := mediatest.NewEngine()
		require.NoError(t, reg.CreatePeer("a"))

		_, err := reg.AddProducer("a", produceOn(t, engine, media.KindVideo))
		require.NoError(t, err)

		_, err = reg.AddProducer("a", produceOn(t, engine, media.KindVideo))
		require.ErrorIs(t, err, ErrDuplicateKind)

		_, err = reg.AddProducer("a", produceOn(t, engine, media.KindAudio))
		require.NoError(t, err)
	})

	t.Run("no room means no recipients", func(t *testing.T) {
		reg := newTestRegistry(t)
		engine := mediatest.NewEngine()
		require.NoError(t, reg.CreatePeer("a"))

		recipients, err := reg.AddProducer("a", produceOn(t, engine, media.KindVideo))
		require.NoError(t, err)
		assert.Empty(t, recipients)
	})
}

func TestLookupProducer(t *testing.T) {
	reg := newTestRegistry(t)
	engine := mediatest.NewEngine()
	require.NoError(t, reg.CreatePeer("a"))

	producer := produceOn(t, engine, media.KindVideo)
	_, err := reg.AddProducer("a", producer)
	require.NoError(t, err)

	found, owner, err := reg.LookupProducer(producer.ID())
	require.NoError(t, err)
	assert.Equal(t, "a", owner)
	assert.Equal(t, producer.ID(), found.ID())

	// Once the owner is gone the id resolves to nothing.
	reg.RemovePeer("a")
	_, _, err = reg.LookupProducer(producer.ID())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestTransportOwnership(t *testing.T) {
	reg := newTestRegistry(t)
	engine := mediatest.NewEngine()
	require.NoError(t, reg.CreatePeer("a"))
	require.NoError(t, reg.CreatePeer("b"))

	transport, err := engine.CreateTransport()
	require.NoError(t, err)
	require.NoError(t, reg.AddTransport("a", transport))

	got, err := reg.Transport("a", transport.ID())
	require.NoError(t, err)
	assert.Equal(t, transport.ID(), got.ID())

	// Someone else's transport looks exactly like a missing one.
	_, err = reg.Transport("b", transport.ID())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRemovePeer(t *testing.T) {
	t.Run("returns transports and remaining members", func(t *testing.T) {
		reg := newTestRegistry(t)
		engine := mediatest.NewEngine()
		require.NoError(t, reg.CreatePeer("a"))
		require.NoError(t, reg.CreatePeer("b"))
		_, _, _, err := reg.JoinRoom("a", "room")
		require.NoError(t, err)
		_, _, _, err = reg.JoinRoom("b", "room")
		require.NoError(t, err)

		transport, err := engine.CreateTransport()
		require.NoError(t, err)
		require.NoError(t, reg.AddTransport("a", transport))

		roomID, remaining, transports := reg.RemovePeer("a")
		assert.Equal(t, "room", roomID)
		assert.Equal(t, []string{"b"}, remaining)
		require.Len(t, transports, 1)
	})

	t.Run("last member deletes the room", func(t *testing.T) {
		reg := newTestRegistry(t)
		require.NoError(t, reg.CreatePeer("a"))
		_, _, _, err := reg.JoinRoom("a", "room")
		require.NoError(t, err)

		_, remaining, _ := reg.RemovePeer("a")
		assert.Empty(t, remaining)

		total, rooms := reg.Stats()
		assert.Zero(t, total)
		assert.Empty(t, rooms)
	})

	t.Run("idempotent for unknown ids", func(t *testing.T) {
		reg := newTestRegistry(t)
		roomID, remaining, transports := reg.RemovePeer("ghost")
		assert.Empty(t, roomID)
		assert.Empty(t, remaining)
		assert.Empty(t, transports)
	})

	t.Run("peer that never joined a room", func(t *testing.T) {
		reg := newTestRegistry(t)
		require.NoError(t, reg.CreatePeer("a"))
		roomID, remaining, _ := reg.RemovePeer("a")
		assert.Empty(t, roomID)
		assert.Empty(t, remaining)
	})
}

func TestConsumerLifecycle(t *testing.T) {
	reg := newTestRegistry(t)
	engine := mediatest.NewEngine()
	require.NoError(t, reg.CreatePeer("a"))
	require.NoError(t, reg.CreatePeer("b"))

	producer := produceOn(t, engine, media.KindVideo)
	_, err := reg.AddProducer("a", producer)
	require.NoError(t, err)

	transport, err := engine.CreateTransport()
	require.NoError(t, err)
	require.NoError(t, reg.AddTransport("b", transport))
	consumer, err := transport.Consume(producer.ID(), mediatest.ClientCapabilities)
	require.NoError(t, err)
	require.NoError(t, reg.AddConsumer("b", consumer))

	got, err := reg.Consumer("b", consumer.ID())
	require.NoError(t, err)
	assert.Equal(t, consumer.ID(), got.ID())

	// Consumers are owned: the producing peer cannot see it.
	_, err = reg.Consumer("a", consumer.ID())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRemoveProducer(t *testing.T) {
	reg := newTestRegistry(t)
	engine := mediatest.NewEngine()
	require.NoError(t, reg.CreatePeer("a"))
	require.NoError(t, reg.CreatePeer("b"))
	_, _, _, err := reg.JoinRoom("a", "room")
	require.NoError(t, err)
	_, _, _, err = reg.JoinRoom("b", "room")
	require.NoError(t, err)

	producer := produceOn(t, engine, media.KindVideo)
	_, err = reg.AddProducer("a", producer)
	require.NoError(t, err)

	removed, recipients, err := reg.RemoveProducer("a", producer.ID())
	require.NoError(t, err)
	assert.Equal(t, producer.ID(), removed.ID())
	assert.Equal(t, []string{"b"}, recipients)

	_, _, err = reg.RemoveProducer("a", producer.ID())
	require.ErrorIs(t, err, ErrNotFound)
}
