package transport

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// helper: receive one event with a timeout so tests never hang
func recvEvent(t *testing.T, tr Transport, within time.Duration) Event {
	t.Helper()
	select {
	case ev, ok := <-tr.Events():
		if !ok {
			t.Fatalf("%s: event channel closed", tr.Name())
		}
		return ev
	case <-time.After(within):
		t.Fatalf("%s: timed out waiting for event", tr.Name())
		return Event{}
	}
}

func recvNoEvent(t *testing.T, tr Transport, within time.Duration) {
	t.Helper()
	select {
	case ev, ok := <-tr.Events():
		if !ok {
			return
		}
		t.Fatalf("%s: expected no event, got %+v", tr.Name(), ev)
	case <-time.After(within):
	}
}

// exerciseRoom runs the same conversation over any transport pair.
func exerciseRoom(t *testing.T, host, guest Transport, within time.Duration) {
	ctx := context.Background()

	require.NoError(t, host.Join(ctx, "room1"))
	require.NoError(t, guest.Join(ctx, "room1"))

	ev := recvEvent(t, host, within)
	assert.Equal(t, Event{Kind: EvJoined, Room: "room1", Sender: guest.Name()}, ev)
	ev = recvEvent(t, guest, within)
	assert.Equal(t, Event{Kind: EvJoined, Room: "room1", Sender: host.Name()}, ev)

	assert.Equal(t, []string{"guest", "host"}, host.Members("room1"))
	assert.Equal(t, []string{"guest", "host"}, guest.Members("room1"))

	require.NoError(t, guest.Send(ctx, "room1", "OR 33619968"))
	ev = recvEvent(t, host, within)
	assert.Equal(t, Event{Kind: EvMessage, Room: "room1", Sender: "guest", Text: "OR 33619968"}, ev)

	require.NoError(t, host.Kick(ctx, "room1", "guest"))
	ev = recvEvent(t, guest, within)
	assert.Equal(t, EvKicked, ev.Kind)
	assert.Equal(t, "guest", ev.Sender)
	assert.Equal(t, "host", ev.Text)

	require.NoError(t, guest.Leave(ctx, "room1"))
	ev = recvEvent(t, host, within)
	assert.Equal(t, Event{Kind: EvLeft, Room: "room1", Sender: "guest"}, ev)
	assert.ErrorIs(t, guest.Send(ctx, "room1", "R 1"), ErrNotJoined)

	require.NoError(t, host.Announce(ctx, "GAME x"))
	ev = recvEvent(t, guest, within)
	assert.Equal(t, EvAnnounce, ev.Kind)
	assert.Equal(t, "GAME x", ev.Text)
	recvNoEvent(t, host, 50*time.Millisecond)
}

func TestLoopback(t *testing.T) {
	bus := NewBus()
	host := bus.Connect("host")
	guest := bus.Connect("guest")
	defer host.Close()
	defer guest.Close()

	exerciseRoom(t, host, guest, 100*time.Millisecond)
}

func TestLoopbackCloseLeavesRooms(t *testing.T) {
	bus := NewBus()
	host := bus.Connect("host")
	guest := bus.Connect("guest")
	ctx := context.Background()
	require.NoError(t, host.Join(ctx, "r"))
	require.NoError(t, guest.Join(ctx, "r"))
	recvEvent(t, host, 100*time.Millisecond)

	require.NoError(t, guest.Close())
	ev := recvEvent(t, host, 100*time.Millisecond)
	assert.Equal(t, EvLeft, ev.Kind)
	assert.Equal(t, []string{"host"}, host.Members("r"))

	_, ok := <-guest.Events()
	assert.False(t, ok)
	assert.ErrorIs(t, guest.Join(ctx, "r"), ErrClosed)
}

func runNATS(t *testing.T) string {
	t.Helper()
	ns, err := server.NewServer(&server.Options{
		Host:   "127.0.0.1",
		Port:   server.RANDOM_PORT,
		NoLog:  true,
		NoSigs: true,
	})
	require.NoError(t, err)
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatalf("nats server not ready")
	}
	t.Cleanup(ns.Shutdown)
	return ns.ClientURL()
}

func TestNATS(t *testing.T) {
	url := runNATS(t)

	host, err := DialNATS(url, "host", "rts", zap.NewNop())
	require.NoError(t, err)
	defer host.Close()
	guest, err := DialNATS(url, "guest", "rts", zap.NewNop())
	require.NoError(t, err)
	defer guest.Close()

	exerciseRoom(t, host, guest, 2*time.Second)
}
