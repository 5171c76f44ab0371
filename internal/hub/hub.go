// Package hub keeps one lobby per room the local player is in, routes room
// traffic from the transport to them and collects game advertisements.
package hub

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/rts-lobby/internal/codec"
	"github.com/DoyleJ11/rts-lobby/internal/lobby"
	"github.com/DoyleJ11/rts-lobby/internal/transport"
)

var ErrUnknownRoom = errors.New("unknown room")
var ErrRoomClosed = errors.New("room is not accepting players")

const (
	joinTimeout = 10 * time.Second
	// adverts older than this are dropped from the game list
	gameTTL = 90 * time.Second
)

// Transport is the connection shared by every room of the process.
type Transport interface {
	lobby.Transport
	Name() string
	Join(ctx context.Context, room string) error
	Events() <-chan transport.Event
}

type HubMsg interface{ isHubMsg() }

// Result answers HostRoom and JoinRoom.
type Result struct {
	Lobby *lobby.Lobby
	Err   error
}

// HostRoom opens a room owned by the local player.
type HostRoom struct {
	Room     string
	Name     string
	GameMode string
	MapHash  string
	Reply    chan Result
}

// JoinRoom enters a room someone else advertised. Host may be left empty
// when the room is in the game list.
type JoinRoom struct {
	Room  string
	Host  string
	Reply chan Result
}

type GetLobby struct {
	Room  string
	Reply chan *lobby.Lobby
}

type RemoveLobby struct {
	Room string
}

type ListGames struct {
	Reply chan []Game
}

type ShutdownHub struct{}

type lobbyDone struct {
	room string
	lb   *lobby.Lobby
}

func (HostRoom) isHubMsg()    {}
func (JoinRoom) isHubMsg()    {}
func (GetLobby) isHubMsg()    {}
func (RemoveLobby) isHubMsg() {}
func (ListGames) isHubMsg()   {}
func (ShutdownHub) isHubMsg() {}
func (lobbyDone) isHubMsg()   {}

// Game is an advertised room.
type Game struct {
	codec.Advertisement
	Host   string    `json:"host"`
	SeenAt time.Time `json:"seen_at"`
}

type Hub struct {
	inbox   chan HubMsg
	lobbies map[string]*lobby.Lobby
	games   map[string]Game
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	transport Transport
	base      lobby.Config
	deps      lobby.Deps
	log       *zap.Logger
}

// NewHub starts the hub loop. base carries the settings every lobby shares;
// room, names, game mode and map are filled in per room.
func NewHub(parent context.Context, t Transport, base lobby.Config, deps lobby.Deps, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	deps.Transport = t
	deps.Log = log

	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:     make(chan HubMsg, 64),
		lobbies:   make(map[string]*lobby.Lobby),
		games:     make(map[string]Game),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		transport: t,
		base:      base,
		deps:      deps,
		log:       log,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) Done() <-chan struct{} { return h.done }

func (h *Hub) post(m HubMsg) {
	select {
	case h.inbox <- m:
	case <-h.ctx.Done():
	}
}

func (h *Hub) loop() {
	defer close(h.done)
	events := h.transport.Events()
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case ev, ok := <-events:
			if !ok {
				h.log.Warn("transport closed")
				h.shutdown()
				return
			}
			h.route(ev)

		case m := <-h.inbox:
			switch msg := m.(type) {
			case HostRoom:
				cfg := h.base
				cfg.Room = msg.Room
				cfg.RoomName = msg.Name
				cfg.Local = h.transport.Name()
				cfg.Host = cfg.Local
				if msg.GameMode != "" {
					cfg.GameMode = msg.GameMode
				}
				if msg.MapHash != "" {
					cfg.MapHash = msg.MapHash
				}
				lb, err := h.open(cfg)
				msg.Reply <- Result{Lobby: lb, Err: err}

			case JoinRoom:
				if lb := h.lobbies[msg.Room]; lb != nil {
					msg.Reply <- Result{Lobby: lb}
					break
				}
				host := msg.Host
				if g, ok := h.games[msg.Room]; ok {
					if g.Locked || g.Closed {
						msg.Reply <- Result{Err: ErrRoomClosed}
						break
					}
					if host == "" {
						host = g.Host
					}
				}
				if host == "" {
					msg.Reply <- Result{Err: ErrUnknownRoom}
					break
				}
				cfg := h.base
				cfg.Room = msg.Room
				cfg.Local = h.transport.Name()
				cfg.Host = host
				cfg.MapHash = ""
				lb, err := h.open(cfg)
				msg.Reply <- Result{Lobby: lb, Err: err}

			case GetLobby:
				msg.Reply <- h.lobbies[msg.Room] // May be nil

			case RemoveLobby:
				if lb := h.lobbies[msg.Room]; lb != nil {
					lb.Deliver(lobby.Shutdown{})
					h.leave(msg.Room)
					delete(h.lobbies, msg.Room)
				}

			case ListGames:
				msg.Reply <- h.listGames()

			case lobbyDone:
				if h.lobbies[msg.room] == msg.lb {
					delete(h.lobbies, msg.room)
					h.leave(msg.room)
				}

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

// open creates the lobby before joining so the join events reach it.
func (h *Hub) open(cfg lobby.Config) (*lobby.Lobby, error) {
	if lb := h.lobbies[cfg.Room]; lb != nil {
		return lb, nil
	}
	lb, err := lobby.New(h.ctx, cfg, h.deps)
	if err != nil {
		return nil, err
	}
	h.lobbies[cfg.Room] = lb

	ctx, cancel := context.WithTimeout(h.ctx, joinTimeout)
	defer cancel()
	if err := h.transport.Join(ctx, cfg.Room); err != nil {
		lb.Deliver(lobby.Shutdown{})
		delete(h.lobbies, cfg.Room)
		return nil, err
	}

	room := cfg.Room
	go func() {
		<-lb.Done()
		h.post(lobbyDone{room: room, lb: lb})
	}()
	h.log.Info("entered room", zap.String("room", room), zap.String("host", cfg.Host))
	return lb, nil
}

func (h *Hub) leave(room string) {
	ctx, cancel := context.WithTimeout(context.Background(), joinTimeout)
	defer cancel()
	if err := h.transport.Leave(ctx, room); err != nil && !errors.Is(err, transport.ErrNotJoined) {
		h.log.Warn("leaving room", zap.String("room", room), zap.Error(err))
	}
}

func (h *Hub) route(ev transport.Event) {
	if ev.Kind == transport.EvAnnounce {
		h.advert(ev)
		return
	}
	lb := h.lobbies[ev.Room]
	if lb == nil {
		return
	}
	lb.Deliver(lobby.FromTransport{Event: ev})
}

func (h *Hub) advert(ev transport.Event) {
	payload, ok := strings.CutPrefix(ev.Text, lobby.TagAdvertisement+" ")
	if !ok {
		return
	}
	a, err := codec.DecodeAdvertisement(payload)
	if err != nil {
		h.log.Debug("bad advertisement", zap.String("sender", ev.Sender), zap.Error(err))
		return
	}
	h.games[a.Room] = Game{Advertisement: a, Host: ev.Sender, SeenAt: h.deps.Now()}
}

func (h *Hub) listGames() []Game {
	now := h.deps.Now()
	out := make([]Game, 0, len(h.games))
	for room, g := range h.games {
		if now.Sub(g.SeenAt) > gameTTL {
			delete(h.games, room)
			continue
		}
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Room < out[j].Room })
	return out
}

func (h *Hub) shutdown() {
	for room, lb := range h.lobbies {
		lb.Deliver(lobby.Shutdown{})
		h.leave(room)
	}
	clear(h.lobbies)
	h.cancel()
}
