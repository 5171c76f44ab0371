// Package spawn turns a launched room into the settings file the game
// executable reads on start.
package spawn

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/DoyleJ11/rts-lobby/internal/engine"
	"github.com/DoyleJ11/rts-lobby/internal/randomizer"
)

var ErrLocalPlayerMissing = errors.New("local player not in roster")

const (
	DefaultScenario = "spawnmap.ini"
	anyAddress      = "0.0.0.0"
)

type Other struct {
	Name        string
	Side        int
	Color       int
	IsSpectator bool
	Host        string
	Port        int
}

type AI struct {
	Level int
	Side  int
	Color int
}

// Settings mirrors the file section by section. Multi indexes are 1-based
// roster positions, humans first.
type Settings struct {
	Name          string
	Scenario      string
	UIGameMode    string
	UIMapName     string
	PlayerCount   int
	Side          int
	Color         int
	IsSpectator   bool
	Seed          int32
	GameID        int
	FrameSendRate int
	MaxAhead      int
	Protocol      int
	TunnelAddress string
	TunnelPort    int
	Options       map[string]string
	Others        []Other
	AIs           []AI
	Spawns        map[int]int
	Spectators    []int
	Alliances     map[int][]int
	Waypoints     map[int]engine.Waypoint
}

type Input struct {
	State         engine.State
	Result        randomizer.Result
	Local         string
	TunnelAddress string
	TunnelPort    int
}

// Build collects Settings for the local player from a room state and its
// randomized assignment.
func Build(in Input) (Settings, error) {
	s := in.State
	local := s.FindPlayer(in.Local)
	if local < 0 {
		return Settings{}, fmt.Errorf("%s: %w", in.Local, ErrLocalPlayerMissing)
	}
	roster := s.Roster()
	if len(in.Result.Houses) != len(roster) {
		return Settings{}, fmt.Errorf("randomized %d houses for %d slots", len(in.Result.Houses), len(roster))
	}

	me := in.Result.Houses[local]
	out := Settings{
		Name:          in.Local,
		Scenario:      DefaultScenario,
		PlayerCount:   len(s.Players),
		Side:          me.Side,
		Color:         me.Color,
		IsSpectator:   me.IsSpectator,
		Seed:          s.RandomSeed,
		GameID:        s.UniqueGameID,
		FrameSendRate: s.FrameSendRate,
		MaxAhead:      s.MaxAhead,
		Protocol:      s.ProtocolVersion,
		TunnelAddress: in.TunnelAddress,
		TunnelPort:    in.TunnelPort,
		Options:       make(map[string]string),
		Spawns:        make(map[int]int),
		Alliances:     make(map[int][]int),
		Waypoints:     make(map[int]engine.Waypoint),
	}
	if s.GameMode != nil {
		out.UIGameMode = s.GameMode.UIName
	}
	if s.Map != nil {
		out.UIMapName = s.Map.Name
		for _, a := range in.Result.Aliases {
			if a.Of >= 0 && a.Of < len(s.Map.Waypoints) {
				out.Waypoints[a.Waypoint] = s.Map.Waypoints[a.Of]
			}
		}
	}
	for _, cb := range s.Options.CheckBoxes {
		out.Options[cb.Name] = boolValue(cb.Checked)
	}
	for _, dd := range s.Options.DropDowns {
		out.Options[dd.Name] = strconv.Itoa(dd.Selected)
	}

	for i, p := range s.Players {
		h := in.Result.Houses[i]
		if i != local {
			out.Others = append(out.Others, Other{
				Name:        p.Name,
				Side:        h.Side,
				Color:       h.Color,
				IsSpectator: h.IsSpectator,
				Host:        anyAddress,
				Port:        p.Port,
			})
		}
		if h.IsSpectator {
			out.Spectators = append(out.Spectators, i+1)
		}
	}
	for i, ai := range s.AIPlayers {
		h := in.Result.Houses[len(s.Players)+i]
		out.AIs = append(out.AIs, AI{Level: ai.AILevel, Side: h.Side, Color: h.Color})
	}

	coop := s.Map.IsCoop()
	for i, p := range roster {
		h := in.Result.Houses[i]
		if h.Start >= 0 {
			out.Spawns[i+1] = h.Start
		}
		team := p.TeamID
		if coop {
			team = 1
		}
		if team == 0 || h.IsSpectator {
			continue
		}
		for j, q := range roster {
			qteam := q.TeamID
			if coop {
				qteam = 1
			}
			if j != i && qteam == team && !in.Result.Houses[j].IsSpectator {
				out.Alliances[i+1] = append(out.Alliances[i+1], j+1)
			}
		}
	}
	return out, nil
}

func boolValue(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

var allyKeys = [...]string{"HouseAllyOne", "HouseAllyTwo", "HouseAllyThree", "HouseAllyFour",
	"HouseAllyFive", "HouseAllySix", "HouseAllySeven"}

type iniWriter struct {
	w   *bufio.Writer
	err error
}

func (iw *iniWriter) section(name string) {
	if iw.err == nil {
		_, iw.err = fmt.Fprintf(iw.w, "[%s]\n", name)
	}
}

func (iw *iniWriter) kv(key string, value any) {
	if iw.err == nil {
		_, iw.err = fmt.Fprintf(iw.w, "%s=%v\n", key, value)
	}
}

func (iw *iniWriter) end() {
	if iw.err == nil {
		_, iw.err = iw.w.WriteString("\n")
	}
}

// Write renders s as INI. Sections and keys come out in a stable order.
func Write(w io.Writer, s Settings) error {
	iw := &iniWriter{w: bufio.NewWriter(w)}

	iw.section("Settings")
	iw.kv("Name", s.Name)
	iw.kv("Scenario", s.Scenario)
	iw.kv("UIGameMode", s.UIGameMode)
	iw.kv("UIMapName", s.UIMapName)
	iw.kv("PlayerCount", s.PlayerCount)
	iw.kv("Side", s.Side)
	iw.kv("IsSpectator", boolValue(s.IsSpectator))
	iw.kv("Color", s.Color)
	iw.kv("AIPlayers", len(s.AIs))
	iw.kv("Seed", s.Seed)
	iw.kv("GameID", s.GameID)
	iw.kv("FrameSendRate", s.FrameSendRate)
	iw.kv("MaxAhead", s.MaxAhead)
	iw.kv("Protocol", s.Protocol)
	keys := make([]string, 0, len(s.Options))
	for k := range s.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		iw.kv(k, s.Options[k])
	}
	iw.end()

	if s.TunnelAddress != "" {
		iw.section("Tunnel")
		iw.kv("Ip", s.TunnelAddress)
		iw.kv("Port", s.TunnelPort)
		iw.end()
	}

	for i, o := range s.Others {
		iw.section("Other" + strconv.Itoa(i+1))
		iw.kv("Name", o.Name)
		iw.kv("Side", o.Side)
		iw.kv("IsSpectator", boolValue(o.IsSpectator))
		iw.kv("Color", o.Color)
		iw.kv("Ip", o.Host)
		iw.kv("Port", o.Port)
		iw.end()
	}

	if len(s.AIs) > 0 {
		first := s.PlayerCount + 1
		for _, sec := range []struct {
			name  string
			value func(AI) int
		}{
			{"HouseHandicaps", func(a AI) int { return a.Level }},
			{"HouseCountries", func(a AI) int { return a.Side }},
			{"HouseColors", func(a AI) int { return a.Color }},
		} {
			iw.section(sec.name)
			for i, ai := range s.AIs {
				iw.kv("Multi"+strconv.Itoa(first+i), sec.value(ai))
			}
			iw.end()
		}
	}

	if len(s.Spectators) > 0 {
		iw.section("IsSpectator")
		for _, m := range s.Spectators {
			iw.kv("Multi"+strconv.Itoa(m), "Yes")
		}
		iw.end()
	}

	for _, m := range sortedKeys(s.Alliances) {
		iw.section("Multi" + strconv.Itoa(m) + "_Alliances")
		for i, ally := range s.Alliances[m] {
			if i >= len(allyKeys) {
				break
			}
			iw.kv(allyKeys[i], ally-1)
		}
		iw.end()
	}

	if len(s.Spawns) > 0 {
		iw.section("SpawnLocations")
		for _, m := range sortedKeys(s.Spawns) {
			iw.kv("Multi"+strconv.Itoa(m), s.Spawns[m])
		}
		iw.end()
	}

	if len(s.Waypoints) > 0 {
		iw.section("Waypoints")
		for _, w := range sortedKeys(s.Waypoints) {
			p := s.Waypoints[w]
			iw.kv(strconv.Itoa(w), strconv.Itoa(p.X)+","+strconv.Itoa(p.Y))
		}
		iw.end()
	}

	if iw.err != nil {
		return iw.err
	}
	return iw.w.Flush()
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// WriteFile replaces path atomically.
func WriteFile(path string, s Settings) error {
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, ".spawn-*.ini")
	if err != nil {
		return fmt.Errorf("creating spawn file: %w", err)
	}
	tmp := f.Name()
	if err := Write(f, s); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing spawn file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing spawn file: %w", err)
	}
	return nil
}
