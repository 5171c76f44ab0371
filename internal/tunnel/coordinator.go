package tunnel

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	pingConcurrency = 8
	requestTimeout  = 10 * time.Second
)

// PingResult is delivered to a lobby after it asked for the current
// tunnel's latency.
type PingResult struct {
	Key      string
	PingInMs int
	Err      error
}

// Coordinator is shared by every lobby in the process. Network work runs
// without the lock; results are applied under it.
type Coordinator struct {
	mu        sync.Mutex
	tunnels   []Tunnel
	current   string
	pinned    string
	masterURL string
	http      *http.Client
	log       *zap.Logger
}

func NewCoordinator(masterURL string, hc *http.Client, log *zap.Logger) *Coordinator {
	if hc == nil {
		hc = &http.Client{Timeout: requestTimeout}
	}
	return &Coordinator{masterURL: masterURL, http: hc, log: log}
}

// Refresh downloads the master list. Known ping values carry over.
func (c *Coordinator) Refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.masterURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("fetching tunnel list: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetching tunnel list: %s", resp.Status)
	}

	var list []Tunnel
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		t, err := Parse(line)
		if err != nil {
			c.log.Debug("skipping tunnel entry", zap.String("line", line), zap.Error(err))
			continue
		}
		list = append(list, t)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("reading tunnel list: %w", err)
	}
	c.SetTunnels(list)
	return nil
}

// SetTunnels replaces the list. A pinned tunnel that is gone or full is
// unpinned, and a current tunnel that is gone or full is dropped so the next
// AutoSelect replaces it.
func (c *Coordinator) SetTunnels(list []Tunnel) {
	c.mu.Lock()
	defer c.mu.Unlock()

	old := make(map[string]int, len(c.tunnels))
	for _, t := range c.tunnels {
		old[t.Key()] = t.PingInMs
	}
	for i := range list {
		if p, ok := old[list[i].Key()]; ok {
			list[i].PingInMs = p
		}
	}
	c.tunnels = list

	if c.pinned != "" {
		t, ok := c.findLocked(c.pinned)
		if !ok || t.Full() {
			c.log.Info("clearing pinned tunnel", zap.String("tunnel", c.pinned))
			c.pinned = ""
		}
	}
	if c.current != "" {
		t, ok := c.findLocked(c.current)
		if !ok || t.Full() {
			c.log.Info("dropping current tunnel", zap.String("tunnel", c.current))
			c.current = ""
		}
	}
}

func (c *Coordinator) Tunnels() []Tunnel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Tunnel(nil), c.tunnels...)
}

// PingAll measures every tunnel concurrently.
func (c *Coordinator) PingAll(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(pingConcurrency)
	for _, t := range c.Tunnels() {
		g.Go(func() error {
			ms, err := c.Ping(ctx, t)
			if err != nil {
				c.log.Debug("tunnel ping failed", zap.String("tunnel", t.Key()), zap.Error(err))
				ms = -1
			}
			c.applyPing(t.Key(), ms)
			return nil
		})
	}
	return g.Wait()
}

// Ping times one HTTP round trip to the tunnel.
func (c *Coordinator) Ping(ctx context.Context, t Tunnel) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	u := url.URL{Scheme: "http", Host: t.Key(), Path: "/status"}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return -1, err
	}
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return -1, err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	return int(time.Since(start).Milliseconds()), nil
}

// PingCurrent pings the selected tunnel and records the value.
func (c *Coordinator) PingCurrent(ctx context.Context) PingResult {
	t, ok := c.Current()
	if !ok {
		return PingResult{PingInMs: -1, Err: ErrNoTunnel}
	}
	ms, err := c.Ping(ctx, t)
	if err != nil {
		ms = -1
	}
	c.applyPing(t.Key(), ms)
	return PingResult{Key: t.Key(), PingInMs: ms, Err: err}
}

func (c *Coordinator) applyPing(key string, ms int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.tunnels {
		if c.tunnels[i].Key() == key {
			c.tunnels[i].PingInMs = ms
			return
		}
	}
}

// AutoSelect picks the pinned tunnel if there is a usable one, otherwise the
// lowest rated tunnel that isn't full.
func (c *Coordinator) AutoSelect() (Tunnel, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pinned != "" {
		if t, ok := c.findLocked(c.pinned); ok && !t.Full() {
			c.current = c.pinned
			return t, true
		}
		c.pinned = ""
	}

	best := -1
	for i, t := range c.tunnels {
		if t.Full() {
			continue
		}
		if best < 0 || t.Rating() < c.tunnels[best].Rating() {
			best = i
		}
	}
	if best < 0 {
		return Tunnel{}, false
	}
	c.current = c.tunnels[best].Key()
	return c.tunnels[best], true
}

// Pin selects a tunnel manually. It stays selected until it fills up or
// leaves the list.
func (c *Coordinator) Pin(address string, port int) (Tunnel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := Tunnel{Address: address, Port: port}.Key()
	t, ok := c.findLocked(key)
	if !ok {
		return Tunnel{}, fmt.Errorf("%s: %w", key, ErrUnknownTunnel)
	}
	c.pinned = key
	c.current = key
	return t, nil
}

func (c *Coordinator) Pinned() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pinned
}

// SetCurrent switches to a tunnel announced by the room host.
func (c *Coordinator) SetCurrent(address string, port int) (Tunnel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := Tunnel{Address: address, Port: port}.Key()
	t, ok := c.findLocked(key)
	if !ok {
		return Tunnel{}, fmt.Errorf("%s: %w", key, ErrUnknownTunnel)
	}
	c.current = key
	return t, nil
}

func (c *Coordinator) Current() (Tunnel, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == "" {
		return Tunnel{}, false
	}
	return c.findLocked(c.current)
}

func (c *Coordinator) Find(address string, port int) (Tunnel, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.findLocked(Tunnel{Address: address, Port: port}.Key())
}

func (c *Coordinator) findLocked(key string) (Tunnel, bool) {
	for _, t := range c.tunnels {
		if t.Key() == key {
			return t, true
		}
	}
	return Tunnel{}, false
}

// RequestPorts asks the current tunnel for one port per player.
func (c *Coordinator) RequestPorts(ctx context.Context, n int) ([]int, error) {
	t, ok := c.Current()
	if !ok {
		return nil, ErrNoTunnel
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	u := url.URL{
		Scheme:   "http",
		Host:     t.Key(),
		Path:     "/request",
		RawQuery: url.Values{"clients": {strconv.Itoa(n)}}.Encode(),
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting ports from %s: %w", t.Key(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("requesting ports from %s: %s", t.Key(), resp.Status)
	}

	var ports []int
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&ports); err != nil {
		return nil, fmt.Errorf("decoding ports from %s: %w", t.Key(), err)
	}
	if len(ports) < n {
		return ports, fmt.Errorf("got %d of %d: %w", len(ports), n, ErrInsufficientPorts)
	}
	return ports, nil
}
