package lobby

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/rts-lobby/internal/codec"
	"github.com/DoyleJ11/rts-lobby/internal/dispatch"
	"github.com/DoyleJ11/rts-lobby/internal/engine"
	"github.com/DoyleJ11/rts-lobby/internal/mapshare"
	"github.com/DoyleJ11/rts-lobby/internal/storage"
)

const (
	defaultAdvertDelay       = 10 * time.Second
	defaultAdvertInterval    = 30 * time.Second
	defaultAdvertAccelerated = 10 * time.Second
	launchTimeout            = 15 * time.Second
	historyTimeout           = 5 * time.Second
)

// hostRole owns the authoritative state and broadcasts it.
type hostRole struct {
	l             *Lobby
	pendingHashes map[string]string
	launching     bool
	advertGen     int
	advertTimer   *time.Timer
	// tunnel last sent in CHTNL
	announced string
}

type launchReady struct {
	ports    []int
	portsErr error
	gameID   int
	idErr    error
}

func newHostRole(l *Lobby) (*hostRole, error) {
	cfg := &l.cfg
	if cfg.AdvertDelay <= 0 {
		cfg.AdvertDelay = defaultAdvertDelay
	}
	if cfg.AdvertInterval <= 0 {
		cfg.AdvertInterval = defaultAdvertInterval
	}
	if cfg.AdvertAccelerated <= 0 {
		cfg.AdvertAccelerated = defaultAdvertAccelerated
	}

	s := engine.NewState(cfg.Local, cfg.Rules)
	s.Options = cfg.Options
	s = s.Clone()
	s.PlayerLimit = cfg.PlayerLimit
	s.RandomSeed = rand.Int32()
	id, err := engine.GenerateGameID(l.deps.Now(), nil)
	if err != nil {
		return nil, err
	}
	s.UniqueGameID = id

	if cfg.MapHash != "" {
		gm, m, err := l.deps.Catalog.Select(cfg.GameMode, cfg.MapHash)
		if err != nil {
			return nil, fmt.Errorf("selecting initial map: %w", err)
		}
		engine.ChangeMap(&s, gm, m)
		l.maps.Select(m.Hash)
	}
	l.state = s

	return &hostRole{l: l, pendingHashes: make(map[string]string)}, nil
}

func (h *hostRole) name() string { return "host" }

func (h *hostRole) register(t *dispatch.Table) {
	t.RegisterInt(TagOptionsRequest, false, h.optionsRequest)
	t.RegisterInt(TagReadyRequest, false, h.readyRequest)
	t.RegisterString(TagFileHash, false, h.fileHash)
	t.RegisterString(mapshare.TagFail, false, h.mapFail)
	t.RegisterNone(mapshare.TagDisabled, false, h.mapsDisabled)
	if h.l.cfg.MapSharing.Enabled {
		t.RegisterString(mapshare.TagRequest, false, h.uploadRequest)
	}
}

func (h *hostRole) start() { h.scheduleAdvert(h.l.cfg.AdvertDelay) }

func (h *hostRole) stop() {
	if h.advertTimer != nil {
		h.advertTimer.Stop()
	}
}

// --- room traffic ---

func (h *hostRole) optionsRequest(sender string, v int) {
	if v < math.MinInt32 || v > math.MaxInt32 {
		return
	}
	side, color, start, team := codec.UnpackOptions(int32(v))
	_, err := h.l.apply(engine.Command{
		Type:   engine.CmdOptionsRequest,
		Player: sender,
		Side:   side,
		Color:  color,
		Start:  start,
		Team:   team,
	})
	if err != nil {
		h.l.log.Debug("dropping options request", zap.String("sender", sender), zap.Error(err))
		return
	}
	h.broadcastPlayers()
}

func (h *hostRole) readyRequest(sender string, v int) {
	if v < 0 || v > 2 || sender == h.l.cfg.Local {
		return
	}
	if _, err := h.l.apply(engine.Command{Type: engine.CmdReadyRequest, Player: sender, Value: v}); err != nil {
		return
	}
	h.broadcastPlayers()
}

// fileHash handles a guest's game file digest. Until our own digest is
// known the report is parked.
func (h *hostRole) fileHash(sender, hash string) {
	if h.l.digest == "" {
		h.pendingHashes[sender] = hash
		return
	}
	h.verify(sender, hash)
}

func (h *hostRole) verify(sender, hash string) {
	l := h.l
	if _, err := l.apply(engine.Command{Type: engine.CmdSetVerified, Player: sender, Flag: true}); err != nil {
		return
	}
	if hash != l.digest {
		l.notice(fmt.Sprintf("%s has modified game files! They could be cheating!", sender))
		l.send(dispatch.Format(TagCheaterName, sender))
	}
}

func (h *hostRole) digestReady() {
	for sender, hash := range h.pendingHashes {
		h.verify(sender, hash)
	}
	clear(h.pendingHashes)
}

func (h *hostRole) mapFail(sender, hash string) {
	h.l.emit(h.l.maps.HandleFail(sender, hash, false, true))
}

func (h *hostRole) mapsDisabled(sender string) {
	h.l.emit(h.l.maps.HandleDisabled(sender))
}

func (h *hostRole) uploadRequest(sender, hash string) {
	h.l.emit(h.l.maps.HandleUploadRequest(sender, hash))
}

func (h *hostRole) memberJoined(name string) {
	l := h.l
	s := l.state
	if err := engine.ValidName(name); err != nil {
		h.kick(name, err.Error())
		return
	}
	switch {
	case s.Phase == engine.PhaseInGame:
		h.kick(name, "game in progress")
		return
	case s.Locked:
		h.kick(name, "game locked")
		return
	case len(s.Players) >= s.PlayerLimit:
		h.kick(name, "player limit reached")
		return
	}
	if _, err := l.apply(engine.Command{Type: engine.CmdPlayerJoin, Player: name}); err != nil {
		h.kick(name, err.Error())
		return
	}
	l.notice(name + " joined the game.")

	h.broadcastGameOptions()
	h.broadcastPlayers()
	h.announceTunnel(true)
	if len(l.state.Players) >= l.state.PlayerLimit {
		h.setLocked(true)
	}
}

func (h *hostRole) memberLeft(name string) {
	l := h.l
	delete(h.pendingHashes, name)
	if _, err := l.apply(engine.Command{Type: engine.CmdPlayerLeave, Player: name}); err != nil {
		return
	}
	l.notice(name + " left the game.")
	h.broadcastPlayers()
	if l.state.Locked && l.state.Phase != engine.PhaseInGame {
		h.setLocked(false)
	}
}

func (h *hostRole) kick(name, why string) {
	h.l.log.Info("kicking player", zap.String("player", name), zap.String("reason", why))
	if err := h.l.deps.Transport.Kick(h.l.ctx, h.l.cfg.Room, name); err != nil {
		h.l.log.Warn("kick failed", zap.String("player", name), zap.Error(err))
	}
}

func (h *hostRole) broadcastPlayers() {
	h.l.send(dispatch.Format(TagPlayerOptions, codec.EncodePlayerOptions(h.l.state.Roster())))
}

func (h *hostRole) broadcastGameOptions() {
	h.l.send(dispatch.Format(TagGameOptions, codec.EncodeGameOptions(gameOptionsOf(h.l.state))))
}

// announceTunnel sends CHTNL for the current tunnel. Unless forced it only
// does so when the tunnel moved since the last announcement, which happens
// when a tunnel refresh replaces a full one.
func (h *hostRole) announceTunnel(force bool) {
	l := h.l
	t, ok := l.deps.Tunnels.Current()
	if !ok || (!force && t.Key() == h.announced) {
		return
	}
	if !force && h.announced != "" {
		l.notice("Tunnel changed to " + t.Name + ".")
		l.background(func(ctx context.Context) any { return l.deps.Tunnels.PingCurrent(ctx) })
	}
	h.announced = t.Key()
	l.send(dispatch.Format(TagChangeTunnel, codec.EncodeTunnel(t.Address, t.Port)))
}

func (h *hostRole) setLocked(locked bool) {
	if h.l.state.Locked == locked {
		return
	}
	if _, err := h.l.apply(engine.Command{Type: engine.CmdSetLocked, Flag: locked}); err != nil {
		return
	}
	h.scheduleAdvert(h.l.cfg.AdvertAccelerated)
}

// --- local actions ---

func (h *hostRole) act(a Action) error {
	l := h.l
	switch a.Type {
	case ActSetOptions:
		return h.changePlayers(engine.Command{Type: engine.CmdOptionsRequest, Player: l.cfg.Local,
			Side: a.Side, Color: a.Color, Start: a.Start, Team: a.Team})
	case ActSetAIOptions:
		return h.changePlayers(engine.Command{Type: engine.CmdSetAIOptions, Index: a.Index,
			Side: a.Side, Color: a.Color, Start: a.Start, Team: a.Team})
	case ActAddAI:
		return h.changePlayers(engine.Command{Type: engine.CmdAddAI, Value: a.Value})
	case ActRemoveAI:
		return h.changePlayers(engine.Command{Type: engine.CmdRemoveAI, Index: a.Index})
	case ActSetAILevel:
		return h.changePlayers(engine.Command{Type: engine.CmdSetAILevel, Index: a.Index, Value: a.Value})

	case ActSetCheckBox:
		return h.changeOptions(engine.Command{Type: engine.CmdSetCheckBox, Index: a.Index, Flag: a.Flag})
	case ActSetDropDown:
		return h.changeOptions(engine.Command{Type: engine.CmdSetDropDown, Index: a.Index, Value: a.Value})
	case ActChangeMap:
		gm, m, err := l.deps.Catalog.Select(a.Mode, a.Hash)
		if err != nil {
			return err
		}
		if err := h.changeOptions(engine.Command{Type: engine.CmdChangeMap, GameMode: gm, Map: m}); err != nil {
			return err
		}
		l.maps.Select(m.Hash)
		return nil
	case ActSetFrameSendRate:
		return h.changeOptions(engine.Command{Type: engine.CmdSetFrameSendRate, Value: a.Value})
	case ActSetMaxAhead:
		return h.changeOptions(engine.Command{Type: engine.CmdSetMaxAhead, Value: a.Value})
	case ActSetProtocol:
		return h.changeOptions(engine.Command{Type: engine.CmdSetProtocol, Value: a.Value})
	case ActSetRemoveStarts:
		return h.changeOptions(engine.Command{Type: engine.CmdSetRemoveStarts, Flag: a.Flag})

	case ActLock:
		h.setLocked(a.Flag)
		return nil
	case ActKick:
		if a.Player == l.cfg.Local {
			return ErrCannotKickSelf
		}
		if l.state.FindPlayer(a.Player) < 0 {
			return fmt.Errorf("%s: %w", a.Player, engine.ErrUnknownPlayer)
		}
		return l.deps.Transport.Kick(l.ctx, l.cfg.Room, a.Player)
	case ActLaunch:
		return h.launch()
	case ActChangeTunnel:
		t, err := l.deps.Tunnels.Pin(a.Address, a.Port)
		if err != nil {
			return err
		}
		h.announceTunnel(true)
		l.notice("Tunnel changed to " + t.Name + ".")
		l.background(func(ctx context.Context) any { return l.deps.Tunnels.PingCurrent(ctx) })
		return nil

	case ActReady, ActConfirmDownload:
		return ErrGuestOnly
	}
	return ErrUnknownAction
}

func (h *hostRole) changePlayers(cmd engine.Command) error {
	if _, err := h.l.apply(cmd); err != nil {
		return err
	}
	h.broadcastPlayers()
	return nil
}

// changeOptions applies a game option edit. Every edit resends the full
// option set and the roster, whose ready flags were just reset.
func (h *hostRole) changeOptions(cmd engine.Command) error {
	if _, err := h.l.apply(cmd); err != nil {
		return err
	}
	h.broadcastGameOptions()
	h.broadcastPlayers()
	return nil
}

// --- launch ---

func (h *hostRole) launch() error {
	l := h.l
	if h.launching {
		return ErrLaunchInProgress
	}
	if f := engine.CheckLaunch(l.state, l.cfg.Local); f != nil {
		h.launchFailed(f)
		return f
	}

	h.launching = true
	n := len(l.state.Players)
	l.background(func(ctx context.Context) any {
		ctx, cancel := context.WithTimeout(ctx, launchTimeout)
		defer cancel()
		var r launchReady
		if n > 1 {
			r.ports, r.portsErr = l.deps.Tunnels.RequestPorts(ctx, n)
			if r.portsErr != nil {
				return r
			}
		}
		r.gameID, r.idErr = engine.GenerateGameID(l.deps.Now(), h.gameIDTaken(ctx))
		return r
	})
	return nil
}

func (h *hostRole) gameIDTaken(ctx context.Context) func(int) bool {
	history := h.l.deps.History
	if history == nil {
		return nil
	}
	return func(id int) bool {
		taken, err := history.GameIDTaken(ctx, id)
		if err != nil {
			h.l.log.Warn("checking game id", zap.Int("game_id", id), zap.Error(err))
			return false
		}
		return taken
	}
}

func (h *hostRole) launchFailed(f *engine.LaunchFailure) {
	n, ok := noticeFor(f.Reason)
	if !ok {
		h.l.notice("Unable to launch game: no map selected.")
		return
	}
	h.l.notice(n.text(h.l.state, f.PlayerIndex))
	h.l.send(n.message(f.PlayerIndex))
}

func (h *hostRole) result(v any) {
	if r, ok := v.(launchReady); ok {
		h.launchReady(r)
	}
}

func (h *hostRole) launchReady(r launchReady) {
	l := h.l
	h.launching = false
	if r.portsErr != nil {
		l.log.Warn("requesting tunnel ports", zap.Error(r.portsErr))
		l.notice("The selected tunnel couldn't provide a port for every player. Try another tunnel.")
		return
	}
	if r.idErr != nil {
		l.notice("Unable to launch game: " + r.idErr.Error())
		return
	}
	// the room may have changed while ports were requested
	if f := engine.CheckLaunch(l.state, l.cfg.Local); f != nil {
		h.launchFailed(f)
		return
	}
	players := len(l.state.Players)
	if players > 1 && len(r.ports) < players {
		l.notice("The player list changed while the game was starting. Launch again.")
		return
	}

	ns := l.state.Clone()
	ns.UniqueGameID = r.gameID
	start := codec.Start{GameID: r.gameID}
	for i := range ns.Players {
		if players > 1 {
			ns.Players[i].Port = r.ports[i]
		}
		start.Players = append(start.Players, codec.StartEntry{Name: ns.Players[i].Name, Port: ns.Players[i].Port})
	}
	l.setState(ns)
	if players > 1 {
		l.send(dispatch.Format(TagStart, codec.EncodeStart(start)))
	}
	l.applyLogged(engine.Command{Type: engine.CmdGameStarted})
	h.recordMatch()
	h.advertise()
	l.startGame()
}

func (h *hostRole) recordMatch() {
	l := h.l
	if l.deps.History == nil {
		return
	}
	s := l.state
	m := storage.Match{
		GameID:    s.UniqueGameID,
		Room:      l.cfg.Room,
		Host:      l.cfg.Host,
		Seed:      s.RandomSeed,
		StartedAt: l.deps.Now(),
	}
	if s.Map != nil {
		m.MapHash, m.MapName = s.Map.Hash, s.Map.Name
	}
	if s.GameMode != nil {
		m.GameMode = s.GameMode.Name
	}
	for _, p := range s.Players {
		m.Players = append(m.Players, p.Name)
	}
	go func() {
		ctx, cancel := context.WithTimeout(l.ctx, historyTimeout)
		defer cancel()
		if err := l.deps.History.RecordMatch(ctx, m); err != nil {
			l.log.Warn("recording match", zap.Int("game_id", m.GameID), zap.Error(err))
		}
	}()
}

// gameExited prepares the room for the next match: new seed and game id,
// fresh broadcasts and an unlock if there is room again.
func (h *hostRole) gameExited() {
	l := h.l
	prev := l.state.UniqueGameID
	id, err := engine.GenerateGameID(l.deps.Now(), func(n int) bool { return n == prev })
	if err != nil {
		id = 0
	}
	l.applyLogged(engine.Command{Type: engine.CmdGameExited, Value: int(rand.Int32()), Index: id})
	h.broadcastGameOptions()
	h.broadcastPlayers()
	if l.state.Locked && len(l.state.Players) < l.state.PlayerLimit {
		h.setLocked(false)
	}

	if l.deps.History != nil {
		ended := l.deps.Now()
		go func() {
			ctx, cancel := context.WithTimeout(l.ctx, historyTimeout)
			defer cancel()
			if err := l.deps.History.EndMatch(ctx, prev, ended); err != nil {
				l.log.Warn("ending match", zap.Int("game_id", prev), zap.Error(err))
			}
		}()
	}
}

func (h *hostRole) mapDownloaded(*engine.Map) {}

// --- advertisement ---

// scheduleAdvert replaces the pending advertisement timer. Firings of older
// timers are recognized by their generation and dropped.
func (h *hostRole) scheduleAdvert(d time.Duration) {
	h.advertGen++
	gen := h.advertGen
	if h.advertTimer != nil {
		h.advertTimer.Stop()
	}
	l := h.l
	h.advertTimer = time.AfterFunc(d, func() {
		select {
		case l.inbox <- advertTick{gen: gen}:
		case <-l.ctx.Done():
		}
	})
}

func (h *hostRole) tick(gen int) {
	if gen != h.advertGen {
		return
	}
	h.announceTunnel(false)
	h.advertise()
	h.scheduleAdvert(h.l.cfg.AdvertInterval)
}

func (h *hostRole) advertise() {
	l := h.l
	s := l.state
	if s.Map == nil {
		return
	}
	a := codec.Advertisement{
		ProtocolRevision: l.cfg.ProtocolRevision,
		GameVersion:      l.cfg.GameVersion,
		PlayerLimit:      s.PlayerLimit,
		Room:             l.cfg.Room,
		RoomName:         l.cfg.RoomName,
		Locked:           s.Locked,
		Passworded:       l.cfg.Passworded,
		Closed:           s.Phase == engine.PhaseInGame,
		MapName:          s.Map.Name,
	}
	if s.GameMode != nil {
		a.GameMode = s.GameMode.Name
	}
	for _, p := range s.Players {
		a.Players = append(a.Players, p.Name)
	}
	if t, ok := l.deps.Tunnels.Current(); ok {
		a.TunnelAddress, a.TunnelPort = t.Address, t.Port
	}
	if err := l.deps.Transport.Announce(l.ctx, dispatch.Format(TagAdvertisement, codec.EncodeAdvertisement(a))); err != nil {
		l.log.Warn("advertising game", zap.Error(err))
	}
}
