package lobby

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/DoyleJ11/rts-lobby/internal/codec"
	"github.com/DoyleJ11/rts-lobby/internal/dispatch"
	"github.com/DoyleJ11/rts-lobby/internal/engine"
	"github.com/DoyleJ11/rts-lobby/internal/mapshare"
	"github.com/DoyleJ11/rts-lobby/internal/storage"
)

// guestRole mirrors what the host broadcasts and forwards requests to it.
type guestRole struct {
	l *Lobby

	// last GO payload, replayed once a missing map has been downloaded
	lastOptions *codec.GameOptions
	hashSent    bool
	hostGone    bool
}

func newGuestRole(l *Lobby) *guestRole {
	s := engine.NewState(l.cfg.Host, l.cfg.Rules)
	s.Options = l.cfg.Options
	s = s.Clone()
	s.PlayerLimit = l.cfg.PlayerLimit
	s.Players = append(s.Players, engine.NewPlayer(l.cfg.Local))
	l.state = s
	return &guestRole{l: l}
}

func (g *guestRole) name() string { return "guest" }

func (g *guestRole) register(t *dispatch.Table) {
	t.RegisterString(TagPlayerOptions, true, g.playerOptions)
	t.RegisterString(TagGameOptions, true, g.gameOptions)
	t.RegisterString(TagStart, true, g.startMatch)
	t.RegisterString(TagCheaterName, true, g.cheaterName)
	t.RegisterString(TagChangeTunnel, true, g.changeTunnel)
	t.RegisterString(mapshare.TagReady, true, g.mapReady)
	t.RegisterString(mapshare.TagFail, false, g.mapFail)
	t.RegisterNone(mapshare.TagDisabled, false, g.mapsDisabled)

	for _, n := range launchNotices {
		if n.indexed {
			t.RegisterInt(n.tag, true, func(_ string, idx int) {
				g.l.notice(n.text(g.l.state, idx))
			})
			continue
		}
		t.RegisterNone(n.tag, true, func(string) {
			g.l.notice(n.text(g.l.state, -1))
		})
	}
}

func (g *guestRole) start()     {}
func (g *guestRole) stop()      {}
func (g *guestRole) tick(int)   {}
func (g *guestRole) result(any) {}

// --- host broadcasts ---

// playerOptions replaces the roster with the host's. Humans we haven't seen
// join the room are left out; per-client fields the host doesn't send are
// carried over.
func (g *guestRole) playerOptions(_ string, payload string) {
	l := g.l
	roster, err := codec.DecodePlayerOptions(payload, codec.LimitsFor(l.cfg.Rules))
	if err != nil {
		l.log.Debug("dropping player options", zap.Error(err))
		return
	}

	prev := l.state
	ns := prev.Clone()
	ns.Players = nil
	ns.AIPlayers = nil
	for _, p := range roster {
		if p.IsAI {
			ns.AIPlayers = append(ns.AIPlayers, p)
			continue
		}
		if p.Name != l.cfg.Local && !l.members[p.Name] {
			continue
		}
		if i := prev.FindPlayer(p.Name); i >= 0 {
			old := prev.Players[i]
			p.Verified, p.Ping, p.IsInGame, p.Port = old.Verified, old.Ping, old.IsInGame, old.Port
		}
		ns.Players = append(ns.Players, p)
	}
	l.setState(ns)
}

func (g *guestRole) gameOptions(_ string, payload string) {
	l := g.l
	s := l.state
	opts, err := codec.DecodeGameOptions(payload, len(s.Options.CheckBoxes), len(s.Options.DropDowns))
	if errors.Is(err, codec.ErrVersionMismatch) {
		l.notice("The game host's game options don't match yours. You may be running a different version of the game.")
		return
	}
	if err != nil {
		l.log.Debug("dropping game options", zap.Error(err))
		return
	}
	g.lastOptions = &opts
	g.applyGameOptions(opts)
}

func (g *guestRole) applyGameOptions(opts codec.GameOptions) {
	l := g.l
	ns := l.state.Clone()
	for i, v := range opts.DropDowns {
		if v >= len(ns.Options.DropDowns[i].Items) {
			l.log.Debug("dropping game options", zap.Int("dropdown", i), zap.Int("value", v))
			return
		}
	}

	prevSelected := l.maps.Selected()
	gm := l.deps.Catalog.GameMode(opts.GameMode)
	m := l.deps.Catalog.Find(opts.MapHash)
	switch {
	case m == nil || gm == nil:
		ns.GameMode = gm
		ns.Map = nil
	case ns.Map == nil || ns.Map.Hash != m.Hash || ns.GameMode == nil || ns.GameMode.Name != gm.Name:
		engine.ChangeMap(&ns, gm, m)
	}

	for i, v := range opts.CheckBoxes {
		ns.Options.CheckBoxes[i].Checked = v
	}
	for i, v := range opts.DropDowns {
		ns.Options.DropDowns[i].Selected = v
	}
	ns.FrameSendRate = opts.FrameSendRate
	ns.MaxAhead = opts.MaxAhead
	ns.ProtocolVersion = opts.ProtocolVersion
	ns.RandomSeed = opts.RandomSeed
	ns.RemoveStartingLocations = opts.RemoveStartingLocations
	l.setState(ns)

	if m != nil {
		l.maps.Select(opts.MapHash)
		return
	}
	if opts.MapHash != prevSelected {
		l.emit(l.maps.Missing(opts.MapHash, opts.Official))
	}
}

func (g *guestRole) startMatch(_ string, payload string) {
	l := g.l
	if l.gameRunning {
		return
	}
	if l.tunnelBlocked {
		l.notice("The host started the game on a tunnel server you don't know. Ask the host to pick another tunnel.")
		return
	}
	st, err := codec.DecodeStart(payload)
	if err != nil {
		l.log.Debug("dropping start", zap.Error(err))
		return
	}

	ns := l.state.Clone()
	found := false
	for _, e := range st.Players {
		i := ns.FindPlayer(e.Name)
		if i < 0 {
			l.log.Info("start names an unknown player", zap.String("player", e.Name))
			return
		}
		ns.Players[i].Port = e.Port
		found = found || e.Name == l.cfg.Local
	}
	if !found {
		l.log.Info("start doesn't include us")
		return
	}
	ns.UniqueGameID = st.GameID
	l.setState(ns)
	l.applyLogged(engine.Command{Type: engine.CmdGameStarted})
	l.startGame()
}

func (g *guestRole) cheaterName(_ string, name string) {
	g.l.notice(fmt.Sprintf("%s has modified game files! They could be cheating!", name))
}

func (g *guestRole) changeTunnel(_ string, payload string) {
	l := g.l
	addr, port, err := codec.DecodeTunnel(payload)
	if err != nil {
		l.log.Debug("dropping tunnel change", zap.Error(err))
		return
	}
	if cur, ok := l.deps.Tunnels.Current(); ok && !l.tunnelBlocked && cur.Address == addr && cur.Port == port {
		return
	}
	t, err := l.deps.Tunnels.SetCurrent(addr, port)
	if err != nil {
		l.log.Info("host picked an unknown tunnel", zap.String("address", addr), zap.Int("port", port), zap.Error(err))
		l.tunnelBlocked = true
		l.notice("The host selected a tunnel server that isn't on your list. You can't start the game until the host picks another one.")
		return
	}
	l.tunnelBlocked = false
	l.notice("The host changed the tunnel server to " + t.Name + ".")
	l.background(func(ctx context.Context) any { return l.deps.Tunnels.PingCurrent(ctx) })
}

func (g *guestRole) mapReady(_ string, hash string) {
	g.l.emit(g.l.maps.HandleReady(hash, g.l.deps.Catalog.Find(hash) != nil))
}

func (g *guestRole) mapFail(sender, hash string) {
	g.l.emit(g.l.maps.HandleFail(sender, hash, sender == g.l.cfg.Host, false))
}

func (g *guestRole) mapsDisabled(sender string) {
	g.l.emit(g.l.maps.HandleDisabled(sender))
}

// --- membership ---

func (g *guestRole) memberJoined(name string) {
	if name == g.l.cfg.Host {
		g.sendHash()
		return
	}
	g.l.notice(name + " joined the game.")
}

func (g *guestRole) memberLeft(name string) {
	l := g.l
	if name == l.cfg.Host {
		if l.gameRunning {
			// keep the match alive, close once the game exits
			g.hostGone = true
			l.notice("The game host has left.")
			return
		}
		l.close("The game host has left the game. The game has been closed.")
		return
	}
	if _, err := l.apply(engine.Command{Type: engine.CmdPlayerLeave, Player: name}); err == nil {
		l.notice(name + " left the game.")
	}
}

// --- local actions ---

func (g *guestRole) act(a Action) error {
	l := g.l
	switch a.Type {
	case ActSetOptions:
		if err := codec.LimitsFor(l.cfg.Rules).Check(a.Side, a.Color, a.Start, a.Team); err != nil {
			return err
		}
		if err := engine.ValidateOptions(l.state, a.Side, a.Color, a.Start, a.Team); err != nil {
			return err
		}
		l.send(dispatch.FormatInt(TagOptionsRequest, int(codec.PackOptions(a.Side, a.Color, a.Start, a.Team))))
		return nil
	case ActReady:
		if l.state.Map == nil {
			return ErrNoMap
		}
		if a.Value < 0 || a.Value > 2 {
			return fmt.Errorf("ready %d: %w", a.Value, engine.ErrInvalidOptions)
		}
		l.send(dispatch.FormatInt(TagReadyRequest, a.Value))
		return nil
	case ActConfirmDownload:
		outs := l.maps.Confirm()
		if len(outs) == 0 {
			return ErrNoPendingDownload
		}
		l.emit(outs)
		return nil

	case ActSetAIOptions, ActAddAI, ActRemoveAI, ActSetAILevel,
		ActSetCheckBox, ActSetDropDown, ActChangeMap,
		ActSetFrameSendRate, ActSetMaxAhead, ActSetProtocol, ActSetRemoveStarts,
		ActLock, ActKick, ActLaunch, ActChangeTunnel:
		return ErrHostOnly
	}
	return ErrUnknownAction
}

// --- lifecycle hooks ---

func (g *guestRole) digestReady() { g.sendHash() }

// sendHash reports our file digest once we know it and the host is there to
// hear it.
func (g *guestRole) sendHash() {
	l := g.l
	if g.hashSent || l.digest == "" || !l.members[l.cfg.Host] {
		return
	}
	g.hashSent = true
	l.send(dispatch.Format(TagFileHash, l.digest))
}

func (g *guestRole) mapDownloaded(m *engine.Map) {
	l := g.l
	if g.lastOptions != nil {
		g.applyGameOptions(*g.lastOptions)
	}
	if l.deps.History == nil {
		return
	}
	rec := storage.DownloadedMap{Hash: m.Hash, Name: m.Name, DownloadedAt: l.deps.Now()}
	if data, err := l.deps.Catalog.Data(m.Hash); err == nil {
		rec.Size = len(data)
	}
	go func() {
		ctx, cancel := context.WithTimeout(l.ctx, historyTimeout)
		defer cancel()
		if err := l.deps.History.RecordDownload(ctx, rec); err != nil {
			l.log.Warn("recording map download", zap.String("hash", rec.Hash), zap.Error(err))
		}
	}()
}

func (g *guestRole) gameExited() {
	l := g.l
	l.applyLogged(engine.Command{Type: engine.CmdGameExited, Value: int(l.state.RandomSeed)})
	if g.hostGone {
		l.close("The game host has left the game. The game has been closed.")
	}
}
