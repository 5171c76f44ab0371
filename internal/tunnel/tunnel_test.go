package tunnel

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParse(t *testing.T) {
	tn, err := Parse("203.0.113.5:50000;Germany;DE;Berlin Relay;0;12;200;2;52.52;13.40;2;310.5")
	require.NoError(t, err)

	assert.Equal(t, "203.0.113.5", tn.Address)
	assert.Equal(t, 50000, tn.Port)
	assert.Equal(t, "DE", tn.CountryCode)
	assert.Equal(t, "Berlin Relay", tn.Name)
	assert.False(t, tn.RequiresPassword)
	assert.Equal(t, 12, tn.Clients)
	assert.Equal(t, 200, tn.MaxClients)
	assert.True(t, tn.Official)
	assert.False(t, tn.Recommended)
	assert.InDelta(t, 13.40, tn.Longitude, 1e-9)
	assert.Equal(t, 2, tn.Version)
	assert.Equal(t, -1, tn.PingInMs)

	tn, err = Parse("203.0.113.6:50001;France;FR;Paris;1;0;100;1;48.8;2.3;2;0")
	require.NoError(t, err)
	assert.True(t, tn.Recommended)
	assert.True(t, tn.RequiresPassword)

	for _, bad := range []string{
		"",
		"203.0.113.5;Germany;DE;x;0;1;2;2;1;1;2;1",
		"203.0.113.5:x;Germany;DE;x;0;1;2;2;1;1;2;1",
		"203.0.113.5:1;Germany;DE;x;0;many;2;2;1;1;2;1",
		"203.0.113.5:1;Germany;DE;x;0;1;2;2;north;1;2;1",
		"203.0.113.5:1;Germany;DE;x;0;1;2;2;1;1;2",
	} {
		_, err := Parse(bad)
		assert.ErrorIs(t, err, ErrMalformed, bad)
	}
}

func TestRating(t *testing.T) {
	assert.Equal(t, math.MaxInt, Tunnel{PingInMs: -1, MaxClients: 10}.Rating())
	assert.Equal(t, math.MaxInt, Tunnel{PingInMs: 5, Clients: 10, MaxClients: 10}.Rating())
	assert.Equal(t, 40, Tunnel{PingInMs: 40, MaxClients: 10}.Rating())
	assert.Equal(t, 90, Tunnel{PingInMs: 40, Clients: 5, MaxClients: 10}.Rating())
}

func newCoordinator() *Coordinator {
	return NewCoordinator("", nil, zap.NewNop())
}

func TestAutoSelectAndPin(t *testing.T) {
	c := newCoordinator()
	c.SetTunnels([]Tunnel{
		{Address: "a", Port: 1, PingInMs: 80, MaxClients: 10},
		{Address: "b", Port: 1, PingInMs: 20, MaxClients: 10},
		{Address: "c", Port: 1, PingInMs: 5, Clients: 10, MaxClients: 10},
	})

	best, ok := c.AutoSelect()
	require.True(t, ok)
	assert.Equal(t, "b", best.Address)

	_, err := c.Pin("a", 1)
	require.NoError(t, err)
	best, _ = c.AutoSelect()
	assert.Equal(t, "a", best.Address, "pin wins over rating")

	_, err = c.Pin("zzz", 1)
	assert.ErrorIs(t, err, ErrUnknownTunnel)

	// the pinned tunnel fills up
	c.SetTunnels([]Tunnel{
		{Address: "a", Port: 1, PingInMs: 80, Clients: 10, MaxClients: 10},
		{Address: "b", Port: 1, PingInMs: 20, MaxClients: 10},
	})
	assert.Empty(t, c.Pinned())
	_, ok = c.Current()
	assert.False(t, ok, "full tunnel stays current")
	best, _ = c.AutoSelect()
	assert.Equal(t, "b", best.Address)
	cur, ok := c.Current()
	require.True(t, ok)
	assert.Equal(t, "b", cur.Address)

	_, _ = c.Pin("b", 1)
	c.SetTunnels([]Tunnel{{Address: "a", Port: 1, MaxClients: 10}})
	assert.Empty(t, c.Pinned(), "pinned tunnel left the list")
}

func TestFullCurrentTunnelIsReplaced(t *testing.T) {
	c := newCoordinator()
	c.SetTunnels([]Tunnel{
		{Address: "a", Port: 1, PingInMs: 10, MaxClients: 10},
		{Address: "b", Port: 1, PingInMs: 30, MaxClients: 10},
	})
	_, err := c.SetCurrent("a", 1)
	require.NoError(t, err)

	// still has room
	c.SetTunnels([]Tunnel{
		{Address: "a", Port: 1, Clients: 9, MaxClients: 10},
		{Address: "b", Port: 1, MaxClients: 10},
	})
	cur, ok := c.Current()
	require.True(t, ok)
	assert.Equal(t, "a", cur.Address)

	c.SetTunnels([]Tunnel{
		{Address: "a", Port: 1, Clients: 10, MaxClients: 10},
		{Address: "b", Port: 1, MaxClients: 10},
	})
	_, ok = c.Current()
	assert.False(t, ok)
	best, ok := c.AutoSelect()
	require.True(t, ok)
	assert.Equal(t, "b", best.Address)

	c.SetTunnels([]Tunnel{{Address: "a", Port: 1, MaxClients: 10}})
	_, ok = c.Current()
	assert.False(t, ok, "current tunnel left the list")
}

func TestSetCurrent(t *testing.T) {
	c := newCoordinator()
	c.SetTunnels([]Tunnel{{Address: "a", Port: 1}})

	_, ok := c.Current()
	assert.False(t, ok)

	_, err := c.SetCurrent("b", 1)
	assert.ErrorIs(t, err, ErrUnknownTunnel)

	tn, err := c.SetCurrent("a", 1)
	require.NoError(t, err)
	cur, ok := c.Current()
	require.True(t, ok)
	assert.Equal(t, tn, cur)

	_, err = c.RequestPorts(context.Background(), 2)
	require.Error(t, err)
}

// fakeTunnel serves /status and /request like a relay does.
func fakeTunnel(t *testing.T, ports []int) (*httptest.Server, string, int) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	})
	mux.HandleFunc("/request", func(w http.ResponseWriter, r *http.Request) {
		n, _ := strconv.Atoi(r.URL.Query().Get("clients"))
		out := ports
		if len(out) > n {
			out = out[:n]
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, "[")
		for i, p := range out {
			if i > 0 {
				fmt.Fprint(w, ",")
			}
			fmt.Fprint(w, p)
		}
		fmt.Fprint(w, "]")
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	host, portStr, err := net.SplitHostPort(ts.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return ts, host, port
}

func TestRefreshPingAndPorts(t *testing.T) {
	_, host, port := fakeTunnel(t, []int{50000, 50001, 50002})

	master := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "%s:%d;Local;LO;Local Relay;0;1;50;2;0;0;2;0\n", host, port)
		fmt.Fprint(w, "garbage line\n")
		fmt.Fprint(w, "127.0.0.1:1;Nowhere;NW;Dead;0;0;50;0;0;0;2;0\n")
	}))
	t.Cleanup(master.Close)

	c := NewCoordinator(master.URL, nil, zap.NewNop())
	require.NoError(t, c.Refresh(context.Background()))
	require.Len(t, c.Tunnels(), 2)

	require.NoError(t, c.PingAll(context.Background()))
	live, ok := c.Find(host, port)
	require.True(t, ok)
	assert.GreaterOrEqual(t, live.PingInMs, 0)
	dead, ok := c.Find("127.0.0.1", 1)
	require.True(t, ok)
	assert.Equal(t, -1, dead.PingInMs)

	// a refresh keeps measured pings
	require.NoError(t, c.Refresh(context.Background()))
	live, _ = c.Find(host, port)
	assert.GreaterOrEqual(t, live.PingInMs, 0)

	best, ok := c.AutoSelect()
	require.True(t, ok)
	assert.Equal(t, port, best.Port)

	res := c.PingCurrent(context.Background())
	require.NoError(t, res.Err)
	assert.GreaterOrEqual(t, res.PingInMs, 0)

	ports, err := c.RequestPorts(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, []int{50000, 50001}, ports)

	ports, err = c.RequestPorts(context.Background(), 4)
	assert.ErrorIs(t, err, ErrInsufficientPorts)
	assert.Len(t, ports, 3)
}
