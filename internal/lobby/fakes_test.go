package lobby

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/DoyleJ11/rts-lobby/internal/engine"
	"github.com/DoyleJ11/rts-lobby/internal/spawn"
	"github.com/DoyleJ11/rts-lobby/internal/storage"
	"github.com/DoyleJ11/rts-lobby/internal/tunnel"
)

// fakeCatalog keeps maps in memory. A map's data is "map:" followed by its
// hash, which is all Add needs to install a downloaded one.
type fakeCatalog struct {
	mu    sync.Mutex
	modes map[string]*engine.GameMode
	maps  map[string]*engine.Map
}

func newFakeCatalog(maps ...*engine.Map) *fakeCatalog {
	c := &fakeCatalog{
		modes: map[string]*engine.GameMode{"Battle": {Name: "Battle", UIName: "Standard Battle"}},
		maps:  make(map[string]*engine.Map),
	}
	for _, m := range maps {
		c.install(m)
	}
	return c
}

func (c *fakeCatalog) install(m *engine.Map) {
	c.maps[m.Hash] = m
	gm := c.modes["Battle"]
	gm.Maps = append(gm.Maps, m)
}

func (c *fakeCatalog) Find(hash string) *engine.Map {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maps[hash]
}

func (c *fakeCatalog) Data(hash string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.maps[hash] == nil {
		return nil, errors.New("no such map")
	}
	return []byte("map:" + hash), nil
}

func (c *fakeCatalog) Add(data []byte) (*engine.Map, error) {
	hash, ok := strings.CutPrefix(string(data), "map:")
	if !ok {
		return nil, errors.New("not a map")
	}
	m := islandMap()
	m.Hash, m.Name = hash, "Downloaded "+hash
	c.mu.Lock()
	defer c.mu.Unlock()
	c.install(m)
	return m, nil
}

func (c *fakeCatalog) GameMode(name string) *engine.GameMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.modes[name]
}

func (c *fakeCatalog) Select(mode, hash string) (*engine.GameMode, *engine.Map, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	gm := c.modes[mode]
	if gm == nil {
		return nil, nil, errors.New("unknown game mode")
	}
	m := gm.FindMap(hash)
	if m == nil {
		return nil, nil, errors.New("unknown map")
	}
	return gm, m, nil
}

type fakeTunnels struct {
	mu      sync.Mutex
	known   []tunnel.Tunnel
	current int
	// ports the tunnel hands out per request; 0 means one per player
	ports int
}

func newFakeTunnels() *fakeTunnels {
	return &fakeTunnels{
		known: []tunnel.Tunnel{
			{Address: "10.0.0.1", Port: 50000, Name: "Frankfurt"},
			{Address: "10.0.0.2", Port: 50000, Name: "Chicago"},
		},
	}
}

func (f *fakeTunnels) Current() (tunnel.Tunnel, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current < 0 {
		return tunnel.Tunnel{}, false
	}
	return f.known[f.current], true
}

func (f *fakeTunnels) find(address string, port int) (tunnel.Tunnel, error) {
	for i, t := range f.known {
		if t.Address == address && t.Port == port {
			f.current = i
			return t, nil
		}
	}
	return tunnel.Tunnel{}, tunnel.ErrUnknownTunnel
}

func (f *fakeTunnels) Pin(address string, port int) (tunnel.Tunnel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.find(address, port)
}

func (f *fakeTunnels) SetCurrent(address string, port int) (tunnel.Tunnel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.find(address, port)
}

func (f *fakeTunnels) PingCurrent(context.Context) tunnel.PingResult {
	t, ok := f.Current()
	if !ok {
		return tunnel.PingResult{Err: tunnel.ErrNoTunnel}
	}
	return tunnel.PingResult{Key: t.Key(), PingInMs: 42}
}

// use switches the current tunnel the way a tunnel list refresh does.
func (f *fakeTunnels) use(i int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = i
}

func (f *fakeTunnels) RequestPorts(_ context.Context, n int) ([]int, error) {
	f.mu.Lock()
	limit := f.ports
	f.mu.Unlock()
	if limit > 0 && limit < n {
		return nil, fmt.Errorf("got %d of %d: %w", limit, n, tunnel.ErrInsufficientPorts)
	}
	ports := make([]int, n)
	for i := range ports {
		ports[i] = 40000 + i
	}
	return ports, nil
}

type fakeGame struct {
	started chan spawn.Settings
	release chan error
}

func newFakeGame() *fakeGame {
	return &fakeGame{started: make(chan spawn.Settings, 4), release: make(chan error, 1)}
}

func (g *fakeGame) Run(ctx context.Context, s spawn.Settings) error {
	g.started <- s
	select {
	case err := <-g.release:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type fakeVerifier struct{ digest string }

func (v fakeVerifier) Digest(context.Context) (string, error) { return v.digest, nil }

type fakeHistory struct {
	mu        sync.Mutex
	matches   []storage.Match
	ended     []int
	downloads []storage.DownloadedMap
}

func (h *fakeHistory) GameIDTaken(context.Context, int) (bool, error) { return false, nil }

func (h *fakeHistory) RecordMatch(_ context.Context, m storage.Match) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.matches = append(h.matches, m)
	return nil
}

func (h *fakeHistory) EndMatch(_ context.Context, id int, _ time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ended = append(h.ended, id)
	return nil
}

func (h *fakeHistory) RecordDownload(_ context.Context, m storage.DownloadedMap) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.downloads = append(h.downloads, m)
	return nil
}

func (h *fakeHistory) counts() (matches, ended, downloads int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.matches), len(h.ended), len(h.downloads)
}

type fakeRepo struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newFakeRepo() *fakeRepo { return &fakeRepo{blobs: make(map[string][]byte)} }

func (r *fakeRepo) Download(_ context.Context, hash string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, ok := r.blobs[hash]
	if !ok {
		return nil, errors.New("404 not found")
	}
	return data, nil
}

func (r *fakeRepo) Upload(_ context.Context, hash string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blobs[hash] = data
	return nil
}
