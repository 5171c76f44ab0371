// Package lobby runs one room. A Lobby owns the room state and is driven by
// a single goroutine draining its inbox: transport events, local user
// actions, timer firings and results of background work all arrive there and
// are handled strictly in order.
package lobby

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/rts-lobby/internal/dispatch"
	"github.com/DoyleJ11/rts-lobby/internal/engine"
	"github.com/DoyleJ11/rts-lobby/internal/mapshare"
	"github.com/DoyleJ11/rts-lobby/internal/spawn"
	"github.com/DoyleJ11/rts-lobby/internal/storage"
	"github.com/DoyleJ11/rts-lobby/internal/transport"
	"github.com/DoyleJ11/rts-lobby/internal/tunnel"
)

const (
	inboxSize  = 64
	maxNotices = 50
)

type Msg interface{ isLobbyMsg() }

// Join registers an observer; it receives the current snapshot immediately
// and every later one.
type Join struct {
	ClientID string
	Outbox   chan Snapshot
}

func (Join) isLobbyMsg() {}

type Leave struct{ ClientID string }

func (Leave) isLobbyMsg() {}

type Shutdown struct{}

func (Shutdown) isLobbyMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isLobbyMsg() {}

// FromTransport carries an event of this lobby's room.
type FromTransport struct {
	Event transport.Event
}

func (FromTransport) isLobbyMsg() {}

// FromClient is a local user action. Reply, when set, receives the outcome.
type FromClient struct {
	Action Action
	Reply  chan error
}

func (FromClient) isLobbyMsg() {}

type background struct{ result any }

func (background) isLobbyMsg() {}

type advertTick struct{ gen int }

func (advertTick) isLobbyMsg() {}

// Snapshot is what observers see after every change.
type Snapshot struct {
	Version     int
	Room        string
	Local       string
	Role        string
	State       engine.State
	Notices     []string
	MapTransfer string
	Tunnel      string
}

type View struct {
	Snapshot
	NumClients int
}

// Transport is the part of a room connection a lobby uses. Joining is done
// by whoever creates the lobby.
type Transport interface {
	Send(ctx context.Context, room, message string) error
	Announce(ctx context.Context, message string) error
	Kick(ctx context.Context, room, member string) error
	Leave(ctx context.Context, room string) error
}

type Catalog interface {
	mapshare.Catalog
	GameMode(name string) *engine.GameMode
	Select(mode, hash string) (*engine.GameMode, *engine.Map, error)
}

type Tunnels interface {
	Current() (tunnel.Tunnel, bool)
	Pin(address string, port int) (tunnel.Tunnel, error)
	SetCurrent(address string, port int) (tunnel.Tunnel, error)
	PingCurrent(ctx context.Context) tunnel.PingResult
	RequestPorts(ctx context.Context, n int) ([]int, error)
}

type GameRunner interface {
	Run(ctx context.Context, settings spawn.Settings) error
}

// Verifier fingerprints the local game files.
type Verifier interface {
	Digest(ctx context.Context) (string, error)
}

type History interface {
	GameIDTaken(ctx context.Context, id int) (bool, error)
	RecordMatch(ctx context.Context, m storage.Match) error
	EndMatch(ctx context.Context, id int, endedAt time.Time) error
	RecordDownload(ctx context.Context, m storage.DownloadedMap) error
}

type Config struct {
	Room     string
	RoomName string
	Local    string
	// Host is the room owner. A lobby whose Local equals Host runs the host
	// role.
	Host string

	Rules       engine.Rules
	Options     engine.GameOptions
	PlayerLimit int
	GameMode    string
	MapHash     string

	ProtocolRevision string
	GameVersion      string
	Passworded       bool

	MapSharing        mapshare.Options
	AdvertDelay       time.Duration
	AdvertInterval    time.Duration
	AdvertAccelerated time.Duration
}

type Deps struct {
	Transport Transport
	Catalog   Catalog
	Tunnels   Tunnels
	Game      GameRunner
	Verifier  Verifier
	Repo      mapshare.Repository
	History   History
	Log       *zap.Logger
	Now       func() time.Time
}

type Lobby struct {
	inbox   chan Msg
	state   engine.State
	version int
	clients map[string]chan Snapshot
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	cfg     Config
	deps    Deps
	log     *zap.Logger
	role    role
	table   *dispatch.Table
	maps    *mapshare.Coordinator
	members map[string]bool
	notices []string
	dirty   bool
	closing bool

	digest        string
	gameRunning   bool
	tunnelBlocked bool
}

func New(parent context.Context, cfg Config, deps Deps) (*Lobby, error) {
	switch {
	case cfg.Room == "" || cfg.Local == "" || cfg.Host == "":
		return nil, errors.New("lobby: room, local and host names are required")
	case deps.Transport == nil || deps.Catalog == nil || deps.Tunnels == nil:
		return nil, errors.New("lobby: transport, catalog and tunnels are required")
	case deps.Game == nil || deps.Verifier == nil:
		return nil, errors.New("lobby: game runner and verifier are required")
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.PlayerLimit <= 0 || cfg.PlayerLimit > engine.MaxPlayers {
		cfg.PlayerLimit = engine.MaxPlayers
	}
	if deps.Repo == nil {
		cfg.MapSharing.Enabled = false
	}

	ctx, cancel := context.WithCancel(parent)
	l := &Lobby{
		inbox:   make(chan Msg, inboxSize),
		clients: make(map[string]chan Snapshot),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		cfg:     cfg,
		deps:    deps,
		log:     deps.Log.With(zap.String("room", cfg.Room)),
		members: map[string]bool{cfg.Local: true},
	}
	l.maps = mapshare.New(ctx, deps.Repo, deps.Catalog, cfg.MapSharing, l.post, l.log)
	l.table = dispatch.New(l.host, l.log)
	l.registerCommon()

	if cfg.Local == cfg.Host {
		h, err := newHostRole(l)
		if err != nil {
			cancel()
			return nil, err
		}
		l.role = h
	} else {
		l.role = newGuestRole(l)
	}
	l.role.register(l.table)

	l.background(func(ctx context.Context) any {
		d, err := deps.Verifier.Digest(ctx)
		return digestResult{hash: d, err: err}
	})
	l.background(func(ctx context.Context) any { return deps.Tunnels.PingCurrent(ctx) })

	go l.loop()
	return l, nil
}

func (l *Lobby) loop() {
	defer close(l.done)
	l.role.start()
	for {
		select {
		case <-l.ctx.Done():
			l.shutdown()
			return

		case m := <-l.inbox:
			switch msg := m.(type) {
			case Join:
				// Register client + send current snapshot immediately
				l.clients[msg.ClientID] = msg.Outbox
				msg.Outbox <- l.snapshot()

			case Leave:
				delete(l.clients, msg.ClientID)

			case GetState:
				msg.Reply <- View{Snapshot: l.snapshot(), NumClients: len(l.clients)}

			case Shutdown:
				l.shutdown()
				return

			case FromTransport:
				l.handleEvent(msg.Event)

			case FromClient:
				err := l.handleAction(msg.Action)
				if err != nil {
					l.log.Debug("action rejected", zap.String("action", string(msg.Action.Type)), zap.Error(err))
				}
				if msg.Reply != nil {
					msg.Reply <- err
				}

			case background:
				l.handleResult(msg.result)

			case advertTick:
				l.role.tick(msg.gen)
			}

			if l.dirty {
				l.dirty = false
				l.version++
				l.broadcast(l.snapshot())
			}
			if l.closing {
				l.shutdown()
				return
			}
		}
	}
}

func (l *Lobby) shutdown() {
	l.role.stop()
	for id, ch := range l.clients {
		close(ch) // Tell client no more snapshots
		delete(l.clients, id)
	}
	l.cancel()
}

func (l *Lobby) broadcast(snap Snapshot) {
	for id, ch := range l.clients {
		select {
		case ch <- snap:
			//ok
		default:
			// Client is slow/full - drop them.
			close(ch)
			delete(l.clients, id)
		}
	}
}

func (l *Lobby) snapshot() Snapshot {
	s := Snapshot{
		Version:     l.version,
		Room:        l.cfg.Room,
		Local:       l.cfg.Local,
		Role:        l.role.name(),
		State:       l.state.Clone(),
		Notices:     slices.Clone(l.notices),
		MapTransfer: l.maps.State(l.maps.Selected()).String(),
	}
	if t, ok := l.deps.Tunnels.Current(); ok {
		s.Tunnel = t.Key()
	}
	return s
}

// Inbox exposes the inbox so the hub, tests or the WS layer can send
// messages.
func (l *Lobby) Inbox() chan<- Msg { return l.inbox }

// Done is closed once the loop has exited.
func (l *Lobby) Done() <-chan struct{} { return l.done }

func (l *Lobby) Room() string { return l.cfg.Room }

// Deliver hands m to the loop unless the lobby is gone.
func (l *Lobby) Deliver(m Msg) bool {
	select {
	case l.inbox <- m:
		return true
	case <-l.done:
		return false
	}
}

func (l *Lobby) post(v any) {
	select {
	case l.inbox <- background{result: v}:
	case <-l.ctx.Done():
	}
}

// background runs fn off the loop and posts its result back.
func (l *Lobby) background(fn func(ctx context.Context) any) {
	go func() {
		l.post(fn(l.ctx))
	}()
}

func (l *Lobby) host() string { return l.cfg.Host }

func (l *Lobby) send(message string) {
	if err := l.deps.Transport.Send(l.ctx, l.cfg.Room, message); err != nil {
		l.log.Warn("sending message", zap.String("message", message), zap.Error(err))
	}
}

func (l *Lobby) notice(text string) {
	l.log.Info("notice", zap.String("text", text))
	l.notices = append(l.notices, text)
	if len(l.notices) > maxNotices {
		l.notices = l.notices[len(l.notices)-maxNotices:]
	}
	l.dirty = true
}

func (l *Lobby) emit(outs []mapshare.Out) {
	for _, o := range outs {
		if o.Message != "" {
			l.send(o.Message)
		}
		if o.Notice != "" {
			l.notice(o.Notice)
		}
	}
}

func (l *Lobby) setState(s engine.State) {
	l.state = s
	l.dirty = true
}

// apply runs cmd through the engine and keeps the new state on success.
func (l *Lobby) apply(cmd engine.Command) ([]engine.Event, error) {
	events, ns, err := engine.Apply(l.state, cmd)
	if err != nil {
		return nil, err
	}
	l.setState(ns)
	return events, nil
}

// applyLogged is apply for commands whose failure leaves nothing to undo.
func (l *Lobby) applyLogged(cmd engine.Command) {
	if _, err := l.apply(cmd); err != nil {
		l.log.Debug("command rejected", zap.String("command", string(cmd.Type)), zap.String("player", cmd.Player), zap.Error(err))
	}
}

// close leaves the room and ends the loop after the current message.
func (l *Lobby) close(reason string) {
	if reason != "" {
		l.notice(reason)
	}
	if err := l.deps.Transport.Leave(l.ctx, l.cfg.Room); err != nil && !errors.Is(err, transport.ErrNotJoined) {
		l.log.Warn("leaving room", zap.Error(err))
	}
	l.closing = true
}

func (l *Lobby) handleEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.EvMessage:
		l.table.Dispatch(ev.Sender, ev.Text)
	case transport.EvJoined:
		l.members[ev.Sender] = true
		l.role.memberJoined(ev.Sender)
	case transport.EvLeft:
		delete(l.members, ev.Sender)
		l.role.memberLeft(ev.Sender)
	case transport.EvKicked:
		if ev.Sender == l.cfg.Local && ev.Text == l.cfg.Host {
			l.close("You were kicked from the game.")
		}
	}
}

type digestResult struct {
	hash string
	err  error
}

type gameExited struct{ err error }

type filesChanged struct{}

func (l *Lobby) handleResult(v any) {
	switch r := v.(type) {
	case digestResult:
		if r.err != nil {
			l.log.Warn("hashing game files", zap.Error(r.err))
			return
		}
		l.digest = r.hash
		l.role.digestReady()

	case tunnel.PingResult:
		if r.Err != nil {
			l.log.Debug("tunnel ping failed", zap.Error(r.Err))
			return
		}
		if _, err := l.apply(engine.Command{Type: engine.CmdSetPing, Player: l.cfg.Local, Value: r.PingInMs}); err == nil {
			l.send(fmt.Sprintf("%s %d", TagTunnelPing, r.PingInMs))
		}

	case mapshare.DownloadResult:
		m, outs := l.maps.HandleDownload(r)
		l.emit(outs)
		if m != nil {
			l.role.mapDownloaded(m)
		}

	case mapshare.UploadResult:
		l.emit(l.maps.HandleUpload(r))

	case filesChanged:
		l.send(TagCheater)

	case gameExited:
		l.gameExited(r.err)

	default:
		l.role.result(v)
	}
}
