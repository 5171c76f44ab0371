package engine

import (
	"fmt"
	"slices"
)

// Rules describes the factions and colors of the running game. Side ids on
// the wire are laid out as: 0 fully random, then one id per random selector,
// then one id per faction, then spectator.
type Rules struct {
	Sides           []string
	Colors          []string
	RandomSelectors []RandomSelector
	RequireLock     bool
}

type RandomSelector struct {
	Name  string
	Sides []int
}

func (r Rules) SideCount() int  { return len(r.Sides) }
func (r Rules) ColorCount() int { return len(r.Colors) }

// RandomSelectorCount includes the fully random entry at id 0.
func (r Rules) RandomSelectorCount() int { return 1 + len(r.RandomSelectors) }

func (r Rules) SpectatorSide() int { return r.SideCount() + r.RandomSelectorCount() }

// FactionIndex maps a side id to a zero-based faction index, or -1 when the
// id is random or spectator.
func (r Rules) FactionIndex(side int) int {
	f := side - r.RandomSelectorCount()
	if f < 0 || f >= r.SideCount() {
		return -1
	}
	return f
}

func (r Rules) FactionSide(faction int) int { return faction + r.RandomSelectorCount() }

type CoopInfo struct {
	DisallowedSides  []int
	DisallowedColors []int
}

type Waypoint struct {
	X int
	Y int
}

type Map struct {
	Hash              string
	Name              string
	MinPlayers        int
	MaxPlayers        int
	EnforceMaxPlayers bool
	Official          bool
	Coop              *CoopInfo
	Waypoints         []Waypoint
	GameModes         []string
	ForcedCheckBoxes  map[string]bool
	ForcedDropDowns   map[string]int
}

func (m *Map) IsCoop() bool { return m != nil && m.Coop != nil }

type GameMode struct {
	Name             string
	UIName           string
	Maps             []*Map
	ForcedCheckBoxes map[string]bool
	ForcedDropDowns  map[string]int
}

func (gm *GameMode) FindMap(hash string) *Map {
	if gm == nil {
		return nil
	}
	for _, m := range gm.Maps {
		if m.Hash == hash {
			return m
		}
	}
	return nil
}

type CheckBox struct {
	Name            string
	Checked         bool
	Default         bool
	Forced          bool
	DisallowedSides []int
}

type DropDown struct {
	Name     string
	Items    []string
	Selected int
	Default  int
	Forced   bool
}

type GameOptions struct {
	CheckBoxes []CheckBox
	DropDowns  []DropDown
}

// DisallowedSides returns one flag per faction. Coop maps and checked
// checkboxes both contribute.
func DisallowedSides(s State) []bool {
	out := make([]bool, s.Rules.SideCount())
	mark := func(idx []int) {
		for _, f := range idx {
			if f >= 0 && f < len(out) {
				out[f] = true
			}
		}
	}
	if s.Map.IsCoop() {
		mark(s.Map.Coop.DisallowedSides)
	}
	for _, cb := range s.Options.CheckBoxes {
		if cb.Checked {
			mark(cb.DisallowedSides)
		}
	}
	return out
}

// NormalizeSides moves every slot off a side that is no longer allowed and
// clears starting locations the map can't hold. Reports whether anything
// changed.
func NormalizeSides(s *State) bool {
	disallowed := DisallowedSides(*s)
	allowed := 0
	defaultSide := 0
	for f, d := range disallowed {
		if !d {
			allowed++
			defaultSide = s.Rules.FactionSide(f)
		}
	}
	if allowed != 1 {
		defaultSide = 0
	}

	// a selector with at most one allowed faction left is no longer random
	disabledSelector := make([]bool, len(s.Rules.RandomSelectors))
	for i, sel := range s.Rules.RandomSelectors {
		n := 0
		for _, f := range sel.Sides {
			if f >= 0 && f < len(disallowed) && disallowed[f] {
				n++
			}
		}
		disabledSelector[i] = n >= len(sel.Sides)-1
	}

	spectator := s.Rules.SpectatorSide()
	changed := false
	fix := func(p *PlayerInfo) {
		side := p.SideID
		switch {
		case side == 0 && allowed == 1:
			side = defaultSide
		case side >= 1 && side <= len(disabledSelector) && disabledSelector[side-1]:
			side = defaultSide
		case s.Rules.FactionIndex(side) >= 0 && disallowed[s.Rules.FactionIndex(side)]:
			side = defaultSide
		case side == spectator && (s.Map.IsCoop() || p.IsAI):
			side = defaultSide
		}
		if side != p.SideID {
			p.SideID = side
			changed = true
		}
		if p.SideID == spectator && p.StartingLocation != 0 {
			p.StartingLocation = 0
			changed = true
		}
		if s.Map != nil && p.StartingLocation > s.Map.MaxPlayers {
			p.StartingLocation = 0
			changed = true
		}
	}
	for i := range s.Players {
		fix(&s.Players[i])
	}
	for i := range s.AIPlayers {
		fix(&s.AIPlayers[i])
	}
	return changed
}

// ValidateOptions checks a requested side/color/start/team tuple the way the
// host does before accepting it.
func ValidateOptions(s State, side, color, start, team int) error {
	if side < 0 || side > s.Rules.SpectatorSide() {
		return fmt.Errorf("side %d: %w", side, ErrInvalidOptions)
	}
	if color < 0 || color > s.Rules.ColorCount() {
		return fmt.Errorf("color %d: %w", color, ErrInvalidOptions)
	}
	if team < 0 || team > MaxTeams {
		return fmt.Errorf("team %d: %w", team, ErrInvalidOptions)
	}
	maxStart := MaxPlayers
	if s.Map != nil {
		maxStart = s.Map.MaxPlayers
	}
	if start < 0 || start > maxStart {
		return fmt.Errorf("start %d: %w", start, ErrInvalidOptions)
	}

	if f := s.Rules.FactionIndex(side); f >= 0 && DisallowedSides(s)[f] {
		return fmt.Errorf("side %d disallowed: %w", side, ErrInvalidOptions)
	}
	if s.Map.IsCoop() {
		if side == s.Rules.SpectatorSide() {
			return fmt.Errorf("spectator on coop map: %w", ErrInvalidOptions)
		}
		if color > 0 && slices.Contains(s.Map.Coop.DisallowedColors, color-1) {
			return fmt.Errorf("color %d disallowed: %w", color, ErrInvalidOptions)
		}
	}
	return nil
}

// ChangeMap selects a new game mode and map and re-applies the options they
// force. Options that were forced before but aren't anymore go back to their
// defaults.
func ChangeMap(s *State, gm *GameMode, m *Map) {
	s.GameMode = gm
	s.Map = m

	for i := range s.Options.CheckBoxes {
		cb := &s.Options.CheckBoxes[i]
		if cb.Forced {
			cb.Checked = cb.Default
		}
		cb.Forced = false
		if v, ok := forcedBool(gm, m, cb.Name); ok {
			cb.Checked = v
			cb.Forced = true
		}
	}
	for i := range s.Options.DropDowns {
		dd := &s.Options.DropDowns[i]
		if dd.Forced {
			dd.Selected = dd.Default
		}
		dd.Forced = false
		if v, ok := forcedInt(gm, m, dd.Name); ok && v >= 0 && v < len(dd.Items) {
			dd.Selected = v
			dd.Forced = true
		}
	}

	NormalizeSides(s)
}

// map-forced values win over game-mode-forced ones
func forcedBool(gm *GameMode, m *Map, name string) (bool, bool) {
	if m != nil {
		if v, ok := m.ForcedCheckBoxes[name]; ok {
			return v, true
		}
	}
	if gm != nil {
		if v, ok := gm.ForcedCheckBoxes[name]; ok {
			return v, true
		}
	}
	return false, false
}

func forcedInt(gm *GameMode, m *Map, name string) (int, bool) {
	if m != nil {
		if v, ok := m.ForcedDropDowns[name]; ok {
			return v, true
		}
	}
	if gm != nil {
		if v, ok := gm.ForcedDropDowns[name]; ok {
			return v, true
		}
	}
	return 0, false
}
