package lobby

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/DoyleJ11/rts-lobby/internal/codec"
	"github.com/DoyleJ11/rts-lobby/internal/engine"
	"github.com/DoyleJ11/rts-lobby/internal/mapshare"
	"github.com/DoyleJ11/rts-lobby/internal/spawn"
	"github.com/DoyleJ11/rts-lobby/internal/transport"
)

const (
	testRoom = "#game-test"
	wait     = 2 * time.Second
	tick     = 10 * time.Millisecond
)

func testRules() engine.Rules {
	return engine.Rules{
		Sides:  []string{"Allies", "Soviet", "Yuri"},
		Colors: []string{"Gold", "Red", "Blue", "Green", "Orange", "Teal", "Purple", "Pink"},
		RandomSelectors: []engine.RandomSelector{
			{Name: "Random Allies or Soviet", Sides: []int{0, 1}},
		},
		RequireLock: true,
	}
}

func testOptions() engine.GameOptions {
	return engine.GameOptions{
		CheckBoxes: []engine.CheckBox{{Name: "Shroud"}, {Name: "Crates"}},
		DropDowns: []engine.DropDown{
			{Name: "Credits", Items: []string{"5000", "10000"}},
			{Name: "Tech", Items: []string{"1", "2", "3"}},
		},
	}
}

func islandMap() *engine.Map {
	return &engine.Map{
		Hash:       "ISLAND",
		Name:       "Test Island",
		MinPlayers: 2,
		MaxPlayers: 4,
		Official:   true,
		Waypoints:  []engine.Waypoint{{X: 10, Y: 10}, {X: 20, Y: 20}, {X: 30, Y: 30}, {X: 40, Y: 40}},
		GameModes:  []string{"Battle"},
	}
}

type peer struct {
	conn    *transport.Loopback
	lobby   *Lobby
	game    *fakeGame
	history *fakeHistory
}

// startPeer creates a lobby for name, pumps its transport events into it and
// joins the room. The host selects ISLAND.
func startPeer(t *testing.T, bus *transport.Bus, name, host string, cat *fakeCatalog, mutate func(*Config, *Deps)) *peer {
	t.Helper()
	p := &peer{conn: bus.Connect(name), game: newFakeGame(), history: &fakeHistory{}}
	cfg := Config{
		Room:              testRoom,
		RoomName:          "test game",
		Local:             name,
		Host:              host,
		Rules:             testRules(),
		Options:           testOptions(),
		GameMode:          "Battle",
		ProtocolRevision:  "0.1",
		GameVersion:       "1.0",
		AdvertDelay:       time.Hour,
		AdvertInterval:    time.Hour,
		AdvertAccelerated: time.Hour,
	}
	if name == host {
		cfg.MapHash = "ISLAND"
	}
	deps := Deps{
		Transport: p.conn,
		Catalog:   cat,
		Tunnels:   newFakeTunnels(),
		Game:      p.game,
		Verifier:  fakeVerifier{digest: "cafebabe"},
		History:   p.history,
	}
	if mutate != nil {
		mutate(&cfg, &deps)
	}

	l, err := New(context.Background(), cfg, deps)
	require.NoError(t, err)
	p.lobby = l
	go func() {
		for ev := range p.conn.Events() {
			if ev.Kind == transport.EvAnnounce {
				continue
			}
			if !l.Deliver(FromTransport{Event: ev}) {
				return
			}
		}
	}()
	require.NoError(t, p.conn.Join(context.Background(), testRoom))
	t.Cleanup(func() {
		l.Deliver(Shutdown{})
		<-l.Done()
		p.conn.Close()
	})
	return p
}

func startPair(t *testing.T, mutate func(*Config, *Deps)) (host, guest *peer) {
	t.Helper()
	bus := transport.NewBus()
	host = startPeer(t, bus, "host", "host", newFakeCatalog(islandMap()), mutate)
	guest = startPeer(t, bus, "guest", "host", newFakeCatalog(islandMap()), mutate)
	eventually(t, guest.lobby, func(v View) bool {
		return v.State.Map != nil && len(v.State.Players) == 2
	}, "guest never synced with host")
	return host, guest
}

func tryView(l *Lobby) (View, bool) {
	reply := make(chan View, 1)
	if !l.Deliver(GetState{Reply: reply}) {
		return View{}, false
	}
	select {
	case v := <-reply:
		return v, true
	case <-l.Done():
		return View{}, false
	case <-time.After(time.Second):
		return View{}, false
	}
}

func view(t *testing.T, l *Lobby) View {
	t.Helper()
	v, ok := tryView(l)
	require.True(t, ok, "lobby did not answer")
	return v
}

func eventually(t *testing.T, l *Lobby, cond func(View) bool, msg string) View {
	t.Helper()
	require.Eventually(t, func() bool {
		v, ok := tryView(l)
		return ok && cond(v)
	}, wait, tick, msg)
	return view(t, l)
}

func act(t *testing.T, l *Lobby, a Action) error {
	t.Helper()
	reply := make(chan error, 1)
	require.True(t, l.Deliver(FromClient{Action: a, Reply: reply}))
	select {
	case err := <-reply:
		return err
	case <-time.After(wait):
		t.Fatalf("timed out waiting for %s", a.Type)
		return nil
	}
}

func hasNotice(v View, prefix string) bool {
	for _, n := range v.Notices {
		if strings.HasPrefix(n, prefix) {
			return true
		}
	}
	return false
}

func player(v View, name string) engine.PlayerInfo {
	if i := v.State.FindPlayer(name); i >= 0 {
		return v.State.Players[i]
	}
	return engine.PlayerInfo{}
}

// expectEvent reads conn until an event matches.
func expectEvent(t *testing.T, conn *transport.Loopback, match func(transport.Event) bool) transport.Event {
	t.Helper()
	timeout := time.After(wait)
	for {
		select {
		case ev, ok := <-conn.Events():
			if !ok {
				t.Fatal("events closed")
			}
			if match(ev) {
				return ev
			}
		case <-timeout:
			t.Fatal("timed out waiting for event")
		}
	}
}

func expectMessage(t *testing.T, conn *transport.Loopback, contains string) string {
	t.Helper()
	ev := expectEvent(t, conn, func(ev transport.Event) bool {
		return ev.Kind == transport.EvMessage && strings.Contains(ev.Text, contains)
	})
	return ev.Text
}

func recvSnapshot(t *testing.T, ch <-chan Snapshot, within time.Duration) Snapshot {
	t.Helper()
	select {
	case snap, ok := <-ch:
		if !ok {
			t.Fatalf("client outbox closed unexpectedly")
		}
		return snap
	case <-time.After(within):
		t.Fatalf("timed out waiting for snapshot")
		return Snapshot{}
	}
}

func waitDone(t *testing.T, l *Lobby) {
	t.Helper()
	select {
	case <-l.Done():
	case <-time.After(wait):
		t.Fatal("lobby still running")
	}
}

func TestNewRequiresDeps(t *testing.T) {
	_, err := New(context.Background(), Config{Room: "r", Local: "a", Host: "a"}, Deps{})
	require.Error(t, err)
}

func TestHostSnapshotsAndVersion(t *testing.T) {
	bus := transport.NewBus()
	host := startPeer(t, bus, "host", "host", newFakeCatalog(islandMap()), nil)

	out := make(chan Snapshot, 16)
	host.lobby.Inbox() <- Join{ClientID: "c1", Outbox: out}
	first := recvSnapshot(t, out, wait)
	assert.Equal(t, "host", first.Role)
	require.NotNil(t, first.State.Map)
	assert.Equal(t, "ISLAND", first.State.Map.Hash)

	require.NoError(t, act(t, host.lobby, Action{Type: ActAddAI, Value: 2}))
	for {
		snap := recvSnapshot(t, out, wait)
		if len(snap.State.AIPlayers) == 1 {
			assert.Greater(t, snap.Version, first.Version)
			assert.Equal(t, "Hard AI", snap.State.AIPlayers[0].Name)
			break
		}
	}
}

func TestDropSlowClient(t *testing.T) {
	bus := transport.NewBus()
	host := startPeer(t, bus, "host", "host", newFakeCatalog(islandMap()), nil)

	out := make(chan Snapshot, 1)
	host.lobby.Inbox() <- Join{ClientID: "slow", Outbox: out}
	require.NoError(t, act(t, host.lobby, Action{Type: ActAddAI}))

	assert.Equal(t, 0, view(t, host.lobby).NumClients)
}

func TestHostAcceptsOptionsRequest(t *testing.T) {
	bus := transport.NewBus()
	host := startPeer(t, bus, "host", "host", newFakeCatalog(islandMap()), nil)

	bob := bus.Connect("Bob")
	defer bob.Close()
	require.NoError(t, bob.Join(context.Background(), testRoom))
	expectMessage(t, bob, "PO host;0;1;Bob;0;0;")

	// side 2 (the first faction), color 1
	require.NoError(t, bob.Send(context.Background(), testRoom, "OR 33619968"))
	got := expectMessage(t, bob, "Bob;33619968;")
	assert.Equal(t, "PO host;0;0;Bob;33619968;0;", got)

	v := view(t, host.lobby)
	assert.Equal(t, 2, player(v, "Bob").SideID)
	assert.Equal(t, 1, player(v, "Bob").ColorID)
}

func TestHostRejectsInvalidOptionsRequest(t *testing.T) {
	bus := transport.NewBus()
	host := startPeer(t, bus, "host", "host", newFakeCatalog(islandMap()), nil)

	bob := bus.Connect("Bob")
	defer bob.Close()
	require.NoError(t, bob.Join(context.Background(), testRoom))
	expectMessage(t, bob, "PO ")

	// color 9 doesn't exist
	require.NoError(t, bob.Send(context.Background(), testRoom, "OR "+strconv.Itoa(int(codec.PackOptions(2, 9, 0, 0)))))
	require.NoError(t, bob.Send(context.Background(), testRoom, "R 1"))
	expectMessage(t, bob, "Bob;0;1;")

	assert.Equal(t, 0, player(view(t, host.lobby), "Bob").ColorID)
}

func TestGameOptionsReachGuests(t *testing.T) {
	bus := transport.NewBus()
	host := startPeer(t, bus, "host", "host", newFakeCatalog(islandMap()), nil)
	guest := startPeer(t, bus, "guest", "host", newFakeCatalog(islandMap()), nil)
	spy := bus.Connect("spy")
	defer spy.Close()
	require.NoError(t, spy.Join(context.Background(), testRoom))

	require.NoError(t, act(t, host.lobby, Action{Type: ActSetCheckBox, Index: 0, Flag: true}))
	require.NoError(t, act(t, host.lobby, Action{Type: ActSetCheckBox, Index: 1, Flag: true}))
	require.NoError(t, act(t, host.lobby, Action{Type: ActSetDropDown, Index: 0, Value: 1}))
	expectMessage(t, spy, "GO 3;1;0;1;ISLAND;Battle;")

	v := eventually(t, guest.lobby, func(v View) bool {
		o := v.State.Options
		return o.CheckBoxes[0].Checked && o.CheckBoxes[1].Checked && o.DropDowns[0].Selected == 1
	}, "guest never saw the option change")
	assert.Equal(t, 0, v.State.Options.DropDowns[1].Selected)
	assert.Equal(t, view(t, host.lobby).State.RandomSeed, v.State.RandomSeed)

	err := act(t, host.lobby, Action{Type: ActSetDropDown, Index: 1, Value: 7})
	assert.ErrorIs(t, err, engine.ErrInvalidGameOption)
}

func TestGuestOptionsGoThroughHost(t *testing.T) {
	host, guest := startPair(t, nil)

	require.NoError(t, act(t, guest.lobby, Action{Type: ActSetOptions, Side: 3, Color: 2}))
	eventually(t, guest.lobby, func(v View) bool {
		p := player(v, "guest")
		return p.SideID == 3 && p.ColorID == 2
	}, "guest options not mirrored back")
	assert.Equal(t, 3, player(view(t, host.lobby), "guest").SideID)

	err := act(t, guest.lobby, Action{Type: ActSetOptions, Side: 99})
	assert.Error(t, err)
}

func TestOptionChangeResetsReady(t *testing.T) {
	host, guest := startPair(t, nil)

	require.NoError(t, act(t, guest.lobby, Action{Type: ActReady, Value: 1}))
	eventually(t, host.lobby, func(v View) bool { return player(v, "guest").Ready }, "guest never ready")

	require.NoError(t, act(t, host.lobby, Action{Type: ActSetFrameSendRate, Value: 4}))
	v := eventually(t, guest.lobby, func(v View) bool {
		return v.State.FrameSendRate == 4 && !player(v, "guest").Ready
	}, "ready flag survived an option change")
	assert.False(t, player(v, "guest").AutoReady)

	// auto-ready sticks
	require.NoError(t, act(t, guest.lobby, Action{Type: ActReady, Value: 2}))
	eventually(t, host.lobby, func(v View) bool { return player(v, "guest").AutoReady }, "auto ready never arrived")
	require.NoError(t, act(t, host.lobby, Action{Type: ActSetMaxAhead, Value: 2}))
	eventually(t, guest.lobby, func(v View) bool {
		return v.State.MaxAhead == 2 && player(v, "guest").Ready
	}, "auto ready was cleared")
}

func TestRoleRestrictions(t *testing.T) {
	host, guest := startPair(t, nil)

	assert.ErrorIs(t, act(t, guest.lobby, Action{Type: ActLock, Flag: true}), ErrHostOnly)
	assert.ErrorIs(t, act(t, guest.lobby, Action{Type: ActLaunch}), ErrHostOnly)
	assert.ErrorIs(t, act(t, host.lobby, Action{Type: ActReady, Value: 1}), ErrGuestOnly)
	assert.ErrorIs(t, act(t, host.lobby, Action{Type: "dance"}), ErrUnknownAction)
	assert.ErrorIs(t, act(t, host.lobby, Action{Type: ActKick, Player: "host"}), ErrCannotKickSelf)
	assert.ErrorIs(t, act(t, guest.lobby, Action{Type: ActConfirmDownload}), ErrNoPendingDownload)
}

func TestLaunchPreconditionsAndMatch(t *testing.T) {
	host, guest := startPair(t, nil)

	var f *engine.LaunchFailure
	err := act(t, host.lobby, Action{Type: ActLaunch})
	require.ErrorAs(t, err, &f)
	assert.Equal(t, engine.ReasonNotLocked, f.Reason)
	eventually(t, guest.lobby, func(v View) bool {
		return hasNotice(v, "The game needs to be locked")
	}, "guest never saw the lock notice")

	require.NoError(t, act(t, host.lobby, Action{Type: ActLock, Flag: true}))
	eventually(t, host.lobby, func(v View) bool { return player(v, "guest").Verified }, "guest never verified")

	err = act(t, host.lobby, Action{Type: ActLaunch})
	require.ErrorAs(t, err, &f)
	assert.Equal(t, engine.ReasonNotReady, f.Reason)
	eventually(t, guest.lobby, func(v View) bool {
		return hasNotice(v, "The host wants to start the game")
	}, "guest never saw the ready notice")

	require.NoError(t, act(t, guest.lobby, Action{Type: ActReady, Value: 1}))
	eventually(t, host.lobby, func(v View) bool { return player(v, "guest").Ready }, "guest never ready")
	require.NoError(t, act(t, host.lobby, Action{Type: ActLaunch}))

	var hs, gs spawn.Settings
	select {
	case hs = <-host.game.started:
	case <-time.After(wait):
		t.Fatal("host game never started")
	}
	select {
	case gs = <-guest.game.started:
	case <-time.After(wait):
		t.Fatal("guest game never started")
	}
	assert.Equal(t, hs.GameID, gs.GameID)
	assert.Equal(t, hs.Seed, gs.Seed)
	assert.Equal(t, "10.0.0.1", hs.TunnelAddress)
	require.Len(t, hs.Others, 1)
	assert.Equal(t, 40001, hs.Others[0].Port)
	require.Len(t, gs.Others, 1)
	assert.Equal(t, 40000, gs.Others[0].Port)
	assert.Equal(t, engine.PhaseInGame, view(t, guest.lobby).State.Phase)

	require.Eventually(t, func() bool {
		m, _, _ := host.history.counts()
		return m == 1
	}, wait, tick)

	host.game.release <- nil
	guest.game.release <- nil
	v := eventually(t, host.lobby, func(v View) bool {
		return v.State.Phase == engine.PhaseSetup && !player(v, "guest").IsInGame
	}, "room never returned to setup")
	assert.False(t, v.State.Locked)
	assert.NotEqual(t, hs.GameID, v.State.UniqueGameID)
	require.Eventually(t, func() bool {
		_, ended, _ := host.history.counts()
		return ended == 1
	}, wait, tick)
}

func TestKick(t *testing.T) {
	host, guest := startPair(t, nil)

	require.NoError(t, act(t, host.lobby, Action{Type: ActKick, Player: "guest"}))
	waitDone(t, guest.lobby)
	eventually(t, host.lobby, func(v View) bool { return len(v.State.Players) == 1 }, "kicked guest still listed")

	assert.ErrorIs(t, act(t, host.lobby, Action{Type: ActKick, Player: "nobody"}), engine.ErrUnknownPlayer)
}

func TestHostLeavingClosesRoom(t *testing.T) {
	host, guest := startPair(t, nil)

	require.NoError(t, act(t, host.lobby, Action{Type: ActLeave}))
	waitDone(t, host.lobby)
	waitDone(t, guest.lobby)
}

func TestFullRoomLocksAndKicks(t *testing.T) {
	bus := transport.NewBus()
	limit := func(cfg *Config, _ *Deps) { cfg.PlayerLimit = 2 }
	host := startPeer(t, bus, "host", "host", newFakeCatalog(islandMap()), limit)
	startPeer(t, bus, "guest", "host", newFakeCatalog(islandMap()), limit)
	eventually(t, host.lobby, func(v View) bool { return v.State.Locked }, "full room not locked")

	late := bus.Connect("late")
	defer late.Close()
	require.NoError(t, late.Join(context.Background(), testRoom))
	expectEvent(t, late, func(ev transport.Event) bool {
		return ev.Kind == transport.EvKicked && ev.Sender == "late"
	})
	assert.Len(t, view(t, host.lobby).State.Players, 2)
}

func TestDiceRoll(t *testing.T) {
	host, guest := startPair(t, nil)

	require.NoError(t, act(t, guest.lobby, Action{Type: ActRollDice, Dice: 2, Sides: 6}))
	eventually(t, host.lobby, func(v View) bool {
		return hasNotice(v, "guest rolled 2d6 and got ")
	}, "roll never reached the host")
	assert.True(t, hasNotice(view(t, guest.lobby), "You rolled 2d6"))

	assert.ErrorIs(t, act(t, guest.lobby, Action{Type: ActRollDice, Dice: 0, Sides: 6}), ErrInvalidDice)
	assert.ErrorIs(t, act(t, guest.lobby, Action{Type: ActRollDice, Dice: 1, Sides: 1}), ErrInvalidDice)
}

func TestChangeTunnel(t *testing.T) {
	host, guest := startPair(t, nil)

	require.NoError(t, act(t, host.lobby, Action{Type: ActChangeTunnel, Address: "10.0.0.2", Port: 50000}))
	eventually(t, guest.lobby, func(v View) bool { return v.Tunnel == "10.0.0.2:50000" }, "guest kept the old tunnel")

	assert.Error(t, act(t, host.lobby, Action{Type: ActChangeTunnel, Address: "192.0.2.1", Port: 1}))
}

func TestMapSharing(t *testing.T) {
	custom := islandMap()
	custom.Hash, custom.Name, custom.Official = "CUSTOM", "Custom Island", false

	repo := newFakeRepo()
	sharing := func(cfg *Config, deps *Deps) {
		cfg.MapSharing = mapshare.Options{Enabled: true, AutoDownload: true, Timeout: wait}
		deps.Repo = repo
	}

	bus := transport.NewBus()
	host := startPeer(t, bus, "host", "host", newFakeCatalog(islandMap(), custom), sharing)
	guest := startPeer(t, bus, "guest", "host", newFakeCatalog(islandMap()), sharing)
	eventually(t, guest.lobby, func(v View) bool { return v.State.Map != nil }, "guest never synced")

	require.NoError(t, act(t, host.lobby, Action{Type: ActChangeMap, Mode: "Battle", Hash: "CUSTOM"}))

	// the first download misses, the guest asks the host to upload, then
	// fetches it again after MAPOK
	v := eventually(t, guest.lobby, func(v View) bool {
		return v.State.Map != nil && v.State.Map.Hash == "CUSTOM"
	}, "guest never got the custom map")
	assert.Equal(t, mapshare.Complete.String(), v.MapTransfer)
	assert.True(t, hasNotice(view(t, host.lobby), "guest doesn't have the map Custom Island"))
	require.Eventually(t, func() bool {
		_, _, downloads := guest.history.counts()
		return downloads == 1
	}, wait, tick)

	err := act(t, guest.lobby, Action{Type: ActReady, Value: 1})
	assert.NoError(t, err)
}

func TestMissingOfficialMap(t *testing.T) {
	bus := transport.NewBus()
	host := startPeer(t, bus, "host", "host", newFakeCatalog(islandMap()), nil)
	guest := startPeer(t, bus, "guest", "host", newFakeCatalog(), nil)

	eventually(t, host.lobby, func(v View) bool {
		return hasNotice(v, "guest failed to download the map")
	}, "host never heard about the missing map")
	v := view(t, guest.lobby)
	assert.Nil(t, v.State.Map)
	assert.True(t, hasNotice(v, "The host selected an official map you don't have"))
	assert.True(t, errors.Is(act(t, guest.lobby, Action{Type: ActReady, Value: 1}), ErrNoMap))
}

func TestAdvertisement(t *testing.T) {
	bus := transport.NewBus()
	watcher := bus.Connect("watcher")
	defer watcher.Close()
	startPeer(t, bus, "host", "host", newFakeCatalog(islandMap()), func(cfg *Config, _ *Deps) {
		cfg.AdvertDelay = 10 * time.Millisecond
	})

	ev := expectEvent(t, watcher, func(ev transport.Event) bool { return ev.Kind == transport.EvAnnounce })
	payload, ok := strings.CutPrefix(ev.Text, TagAdvertisement+" ")
	require.True(t, ok)
	a, err := codec.DecodeAdvertisement(payload)
	require.NoError(t, err)
	assert.Equal(t, testRoom, a.Room)
	assert.Equal(t, "Test Island", a.MapName)
	assert.Equal(t, []string{"host"}, a.Players)
	assert.Equal(t, "10.0.0.1", a.TunnelAddress)
}

func TestInvalidNamesAreKicked(t *testing.T) {
	bus := transport.NewBus()
	host := startPeer(t, bus, "host", "host", newFakeCatalog(islandMap()), nil)

	for _, name := range []string{"2", "a;b", "-dash"} {
		conn := bus.Connect(name)
		require.NoError(t, conn.Join(context.Background(), testRoom))
		expectEvent(t, conn, func(ev transport.Event) bool {
			return ev.Kind == transport.EvKicked && ev.Sender == name
		})
		conn.Close()
	}
	assert.Len(t, view(t, host.lobby).State.Players, 1)
}

// readyToLaunch locks the room and readies the guest.
func readyToLaunch(t *testing.T, host, guest *peer) {
	t.Helper()
	require.NoError(t, act(t, host.lobby, Action{Type: ActLock, Flag: true}))
	eventually(t, host.lobby, func(v View) bool { return player(v, "guest").Verified }, "guest never verified")
	require.NoError(t, act(t, guest.lobby, Action{Type: ActReady, Value: 1}))
	eventually(t, host.lobby, func(v View) bool { return player(v, "guest").Ready }, "guest never ready")
}

func assertNotStarted(t *testing.T, g *fakeGame) {
	t.Helper()
	select {
	case <-g.started:
		t.Fatal("game started")
	default:
	}
}

// hostSays sends message to the room as the host.
func hostSays(t *testing.T, host *peer, message string) {
	t.Helper()
	require.NoError(t, host.conn.Send(context.Background(), testRoom, message))
}

func TestGuestDropsBadStart(t *testing.T) {
	host, guest := startPair(t, nil)

	unknown := codec.EncodeStart(codec.Start{GameID: 7, Players: []codec.StartEntry{
		{Name: "host", Port: 40000}, {Name: "guest", Port: 40001}, {Name: "ghost", Port: 40002},
	}})
	hostSays(t, host, TagStart+" "+unknown)
	hostSays(t, host, TagStart+" 7;host;0.0.0.0:40000;guest;0.0.0.0:port")
	hostSays(t, host, TagStart+" 7;host;0.0.0.0:40000;guest;0.0.0.0:70000")
	hostSays(t, host, TagCheaterName+" marker")
	v := eventually(t, guest.lobby, func(v View) bool {
		return hasNotice(v, "marker has modified game files")
	}, "guest never got past the bad starts")

	assertNotStarted(t, guest.game)
	assert.NotEqual(t, engine.PhaseInGame, v.State.Phase)
	assert.Zero(t, player(v, "guest").Port)

	hostSays(t, host, TagStart+" 7;host;0.0.0.0:40000;guest;0.0.0.0:40001")
	select {
	case s := <-guest.game.started:
		assert.Equal(t, 7, s.GameID)
	case <-time.After(wait):
		t.Fatal("guest game never started")
	}
}

func TestGuestSkipsAbsentPlayers(t *testing.T) {
	host, guest := startPair(t, nil)

	roster := []engine.PlayerInfo{
		{Name: "host"},
		{Name: "ghost", SideID: 3, Ready: true},
		{Name: "guest", SideID: 2, ColorID: 3},
	}
	hostSays(t, host, TagPlayerOptions+" "+codec.EncodePlayerOptions(roster))

	v := eventually(t, guest.lobby, func(v View) bool {
		return player(v, "guest").SideID == 2
	}, "guest never applied the roster")
	assert.Equal(t, 3, player(v, "guest").ColorID)
	assert.Len(t, v.State.Players, 2)
	assert.Negative(t, v.State.FindPlayer("ghost"))
}

func TestLaunchWithTooFewPorts(t *testing.T) {
	host, guest := startPair(t, func(cfg *Config, deps *Deps) {
		if cfg.Local == "host" {
			deps.Tunnels.(*fakeTunnels).ports = 1
		}
	})
	readyToLaunch(t, host, guest)

	require.NoError(t, act(t, host.lobby, Action{Type: ActLaunch}))
	v := eventually(t, host.lobby, func(v View) bool {
		return hasNotice(v, "The selected tunnel couldn't provide a port for every player")
	}, "host never reported the port shortage")
	assert.Equal(t, engine.PhaseLocked, v.State.Phase)
	assertNotStarted(t, host.game)
	assertNotStarted(t, guest.game)

	// a second attempt isn't blocked by the first
	assert.NoError(t, act(t, host.lobby, Action{Type: ActLaunch}))
}

func TestUnknownTunnelBlocksGuestLaunch(t *testing.T) {
	host, guest := startPair(t, nil)

	hostSays(t, host, TagChangeTunnel+" "+codec.EncodeTunnel("192.0.2.1", 1))
	eventually(t, guest.lobby, func(v View) bool {
		return hasNotice(v, "The host selected a tunnel server that isn't on your list")
	}, "guest accepted an unknown tunnel")

	hostSays(t, host, TagStart+" 7;host;0.0.0.0:40000;guest;0.0.0.0:40001")
	v := eventually(t, guest.lobby, func(v View) bool {
		return hasNotice(v, "The host started the game on a tunnel server you don't know")
	}, "guest never refused the start")
	assert.NotEqual(t, engine.PhaseInGame, v.State.Phase)
	assertNotStarted(t, guest.game)

	// picking a known tunnel again unblocks the guest
	hostSays(t, host, TagChangeTunnel+" "+codec.EncodeTunnel("10.0.0.1", 50000))
	eventually(t, guest.lobby, func(v View) bool {
		return hasNotice(v, "The host changed the tunnel server to Frankfurt")
	}, "guest stayed blocked")
}

func TestHostAnnouncesReplacedTunnel(t *testing.T) {
	var tunnels *fakeTunnels
	host, guest := startPair(t, func(cfg *Config, deps *Deps) {
		cfg.AdvertDelay = 10 * time.Millisecond
		cfg.AdvertInterval = 10 * time.Millisecond
		if cfg.Local == "host" {
			tunnels = deps.Tunnels.(*fakeTunnels)
		}
	})
	require.Equal(t, "10.0.0.1:50000", view(t, guest.lobby).Tunnel)

	// a refresh found Frankfurt full and moved to Chicago
	tunnels.use(1)
	eventually(t, guest.lobby, func(v View) bool { return v.Tunnel == "10.0.0.2:50000" }, "guest kept the full tunnel")
	assert.True(t, hasNotice(view(t, host.lobby), "Tunnel changed to Chicago."))
}

func TestApplyLoggedKeepsStateOnError(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := &Lobby{log: zap.New(core), state: engine.NewState("host", testRules())}

	l.applyLogged(engine.Command{Type: engine.CmdSetPing, Player: "nobody", Value: 30})
	assert.False(t, l.dirty)
	entries := logs.FilterMessage("command rejected").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "nobody", entries[0].ContextMap()["player"])

	l.applyLogged(engine.Command{Type: engine.CmdSetPing, Player: "host", Value: 30})
	assert.True(t, l.dirty)
	assert.Equal(t, 30, player(View{Snapshot: Snapshot{State: l.state}}, "host").Ping)
	assert.Equal(t, 1, logs.Len())
}
