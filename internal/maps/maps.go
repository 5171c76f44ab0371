// Package maps loads map files and keeps the catalog of game modes and maps
// a lobby can select.
package maps

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/DoyleJ11/rts-lobby/internal/engine"
)

var ErrInvalidMap = errors.New("invalid map file")

type mapFile struct {
	Name              string          `yaml:"name"`
	MinPlayers        int             `yaml:"min_players"`
	MaxPlayers        int             `yaml:"max_players"`
	EnforceMaxPlayers bool            `yaml:"enforce_max_players"`
	GameModes         []string        `yaml:"game_modes"`
	Waypoints         []waypoint      `yaml:"waypoints"`
	Coop              *coopFile       `yaml:"coop"`
	ForcedCheckBoxes  map[string]bool `yaml:"forced_checkboxes"`
	ForcedDropDowns   map[string]int  `yaml:"forced_dropdowns"`
}

type waypoint struct {
	X int `yaml:"x"`
	Y int `yaml:"y"`
}

type coopFile struct {
	DisallowedSides  []int `yaml:"disallowed_sides"`
	DisallowedColors []int `yaml:"disallowed_colors"`
}

// Hash is the content hash maps are identified by on the wire.
func Hash(data []byte) string {
	sum := sha1.Sum(data)
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// Parse builds a map from the raw file contents.
func Parse(data []byte, official bool) (*engine.Map, error) {
	var f mapFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMap, err)
	}
	if f.Name == "" {
		return nil, fmt.Errorf("%w: missing name", ErrInvalidMap)
	}
	if f.MaxPlayers < 1 || f.MaxPlayers > engine.MaxPlayers {
		return nil, fmt.Errorf("%w: max_players %d", ErrInvalidMap, f.MaxPlayers)
	}
	if f.MinPlayers < 0 || f.MinPlayers > f.MaxPlayers {
		return nil, fmt.Errorf("%w: min_players %d", ErrInvalidMap, f.MinPlayers)
	}
	if len(f.GameModes) == 0 {
		return nil, fmt.Errorf("%w: no game modes", ErrInvalidMap)
	}

	m := &engine.Map{
		Hash:              Hash(data),
		Name:              f.Name,
		MinPlayers:        f.MinPlayers,
		MaxPlayers:        f.MaxPlayers,
		EnforceMaxPlayers: f.EnforceMaxPlayers,
		Official:          official,
		GameModes:         f.GameModes,
		ForcedCheckBoxes:  f.ForcedCheckBoxes,
		ForcedDropDowns:   f.ForcedDropDowns,
	}
	for _, wp := range f.Waypoints {
		m.Waypoints = append(m.Waypoints, engine.Waypoint{X: wp.X, Y: wp.Y})
	}
	if f.Coop != nil {
		m.Coop = &engine.CoopInfo{
			DisallowedSides:  f.Coop.DisallowedSides,
			DisallowedColors: f.Coop.DisallowedColors,
		}
	}
	return m, nil
}

func LoadFile(path string, official bool) (*engine.Map, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading map file: %w", err)
	}
	m, err := Parse(data, official)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, data, nil
}
