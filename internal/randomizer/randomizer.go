// Package randomizer resolves random side, color and starting location
// selections into concrete spawn assignments. Every client runs it locally
// with the shared seed and gets the same result.
package randomizer

import (
	"math/rand/v2"
	"slices"

	"github.com/DoyleJ11/rts-lobby/internal/engine"
)

const maxWaypoints = engine.MaxPlayers

type Input struct {
	Roster                  []engine.PlayerInfo
	Rules                   engine.Rules
	Disallowed              []bool
	DisallowedColors        []int
	Waypoints               int
	Seed                    int32
	RemoveStartingLocations bool
}

// House is a resolved slot. Side and Color are zero-based, Start is the
// waypoint index the player spawns on and RealStart the location it
// selected. Spectators carry -1 everywhere.
type House struct {
	Side        int
	Color       int
	Start       int
	RealStart   int
	IsSpectator bool
}

// Alias is a synthetic waypoint placed on top of an occupied one.
type Alias struct {
	Waypoint int
	Of       int
}

type Result struct {
	Houses  []House
	Aliases []Alias
}

func newRand(seed int32) *rand.Rand {
	s := uint64(uint32(seed))
	return rand.New(rand.NewPCG(s, s^0x9e3779b97f4a7c15))
}

func Randomize(in Input) Result {
	rng := newRand(in.Seed)
	spectator := in.Rules.SpectatorSide()

	allowed := allowedFactions(in)
	colorPool := freeColors(in)

	waypoints := in.Waypoints
	if waypoints > maxWaypoints {
		waypoints = maxWaypoints
	}
	explicit := make([]int, len(in.Roster))
	claimed := make([]bool, maxWaypoints)
	for i, p := range in.Roster {
		start := p.StartingLocation
		if in.RemoveStartingLocations || p.SideID == spectator || start < 1 || start > waypoints {
			start = 0
		}
		explicit[i] = start
		if start > 0 {
			claimed[start-1] = true
		}
	}

	res := Result{Houses: make([]House, len(in.Roster))}
	used := make([]bool, maxWaypoints)

	for i, p := range in.Roster {
		if p.SideID == spectator && !p.IsAI {
			res.Houses[i] = House{Side: -1, Color: -1, Start: -1, RealStart: -1, IsSpectator: true}
			continue
		}

		h := House{Start: -1, RealStart: -1}
		h.Side = pickSide(rng, in.Rules, p.SideID, allowed)

		if p.ColorID > 0 {
			h.Color = p.ColorID - 1
		} else if len(colorPool) > 0 {
			j := rng.IntN(len(colorPool))
			h.Color = colorPool[j]
			colorPool = slices.Delete(colorPool, j, j+1)
		} else {
			h.Color = fallbackColor(in)
		}

		if explicit[i] > 0 {
			h.RealStart = explicit[i] - 1
			if !used[h.RealStart] {
				h.Start = h.RealStart
				used[h.Start] = true
			}
		} else {
			var free []int
			for w := 0; w < waypoints; w++ {
				if !claimed[w] && !used[w] {
					free = append(free, w)
				}
			}
			if len(free) > 0 {
				h.Start = free[rng.IntN(len(free))]
				h.RealStart = h.Start
				used[h.Start] = true
			}
		}
		res.Houses[i] = h
	}

	// players stacked on an already occupied location get an alias
	// waypoint copying its coordinates
	for i := range res.Houses {
		h := &res.Houses[i]
		if h.IsSpectator || h.Start >= 0 || h.RealStart < 0 {
			continue
		}
		for w := 0; w < maxWaypoints; w++ {
			if !used[w] && !claimed[w] {
				used[w] = true
				h.Start = w
				res.Aliases = append(res.Aliases, Alias{Waypoint: w, Of: h.RealStart})
				break
			}
		}
	}
	return res
}

func allowedFactions(in Input) []int {
	var out []int
	for f := 0; f < in.Rules.SideCount(); f++ {
		if f < len(in.Disallowed) && in.Disallowed[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

func pickSide(rng *rand.Rand, r engine.Rules, side int, allowed []int) int {
	if f := r.FactionIndex(side); f >= 0 {
		return f
	}
	pool := allowed
	if side >= 1 && side <= len(r.RandomSelectors) {
		var group []int
		for _, f := range r.RandomSelectors[side-1].Sides {
			if slices.Contains(allowed, f) {
				group = append(group, f)
			}
		}
		if len(group) > 0 {
			pool = group
		}
	}
	if len(pool) == 0 {
		return 0
	}
	return pool[rng.IntN(len(pool))]
}

func freeColors(in Input) []int {
	taken := make(map[int]bool)
	for _, p := range in.Roster {
		if p.ColorID > 0 {
			taken[p.ColorID-1] = true
		}
	}
	var out []int
	for c := 0; c < in.Rules.ColorCount(); c++ {
		if taken[c] || slices.Contains(in.DisallowedColors, c) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func fallbackColor(in Input) int {
	for c := 0; c < in.Rules.ColorCount(); c++ {
		if !slices.Contains(in.DisallowedColors, c) {
			return c
		}
	}
	return 0
}

// FromState gathers the randomizer input for the current lobby state.
func FromState(s engine.State) Input {
	in := Input{
		Roster:                  s.Roster(),
		Rules:                   s.Rules,
		Disallowed:              engine.DisallowedSides(s),
		Seed:                    s.RandomSeed,
		RemoveStartingLocations: s.RemoveStartingLocations,
	}
	if s.Map != nil {
		in.Waypoints = s.Map.MaxPlayers
		if s.Map.Coop != nil {
			in.DisallowedColors = s.Map.Coop.DisallowedColors
		}
	}
	return in
}
