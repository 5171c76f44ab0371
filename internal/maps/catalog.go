package maps

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/DoyleJ11/rts-lobby/internal/engine"
)

var ErrUnknownMap = errors.New("unknown map")
var ErrUnknownGameMode = errors.New("unknown game mode")

// ModeDef declares a game mode and the options it forces.
type ModeDef struct {
	Name             string          `yaml:"name"`
	UIName           string          `yaml:"ui_name"`
	ForcedCheckBoxes map[string]bool `yaml:"forced_checkboxes"`
	ForcedDropDowns  map[string]int  `yaml:"forced_dropdowns"`
}

type entry struct {
	m    *engine.Map
	data []byte
}

// Catalog is shared by every lobby of the process. Game modes are rebuilt
// on each change so pointers already held by a lobby state never mutate.
type Catalog struct {
	mu        sync.RWMutex
	defs      []ModeDef
	modes     map[string]*engine.GameMode
	byHash    map[string]entry
	customDir string
}

func NewCatalog(defs []ModeDef, customDir string) *Catalog {
	c := &Catalog{
		defs:      defs,
		modes:     make(map[string]*engine.GameMode),
		byHash:    make(map[string]entry),
		customDir: customDir,
	}
	c.rebuild()
	return c
}

// LoadDir reads every .yaml map below dir.
func (c *Catalog) LoadDir(dir string, official bool) error {
	files, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return err
	}
	sort.Strings(files)

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, path := range files {
		m, data, err := LoadFile(path, official)
		if err != nil {
			return err
		}
		c.byHash[m.Hash] = entry{m: m, data: data}
	}
	c.rebuild()
	return nil
}

// Add registers a custom map from its raw contents and, when the catalog has
// a custom directory, stores it there under its hash.
func (c *Catalog) Add(data []byte) (*engine.Map, error) {
	m, err := Parse(data, false)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.byHash[m.Hash]; ok {
		return e.m, nil
	}
	if c.customDir != "" {
		if err := os.MkdirAll(c.customDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating map dir: %w", err)
		}
		path := filepath.Join(c.customDir, m.Hash+".yaml")
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return nil, fmt.Errorf("writing map file: %w", err)
		}
	}
	c.byHash[m.Hash] = entry{m: m, data: data}
	c.rebuild()
	return m, nil
}

func (c *Catalog) Find(hash string) *engine.Map {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byHash[strings.ToUpper(hash)].m
}

// Data returns the raw file contents of a loaded map.
func (c *Catalog) Data(hash string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.byHash[strings.ToUpper(hash)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", hash, ErrUnknownMap)
	}
	return e.data, nil
}

func (c *Catalog) GameMode(name string) *engine.GameMode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.modes[name]
}

// Select resolves a game mode name and map hash pair.
func (c *Catalog) Select(mode, hash string) (*engine.GameMode, *engine.Map, error) {
	gm := c.GameMode(mode)
	if gm == nil {
		return nil, nil, fmt.Errorf("%s: %w", mode, ErrUnknownGameMode)
	}
	m := gm.FindMap(strings.ToUpper(hash))
	if m == nil {
		return gm, nil, fmt.Errorf("%s in %s: %w", hash, mode, ErrUnknownMap)
	}
	return gm, m, nil
}

func (c *Catalog) Modes() []*engine.GameMode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*engine.GameMode, 0, len(c.defs))
	for _, d := range c.defs {
		out = append(out, c.modes[d.Name])
	}
	return out
}

// callers hold mu
func (c *Catalog) rebuild() {
	hashes := make([]string, 0, len(c.byHash))
	for h := range c.byHash {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)

	modes := make(map[string]*engine.GameMode, len(c.defs))
	for _, d := range c.defs {
		gm := &engine.GameMode{
			Name:             d.Name,
			UIName:           d.UIName,
			ForcedCheckBoxes: d.ForcedCheckBoxes,
			ForcedDropDowns:  d.ForcedDropDowns,
		}
		if gm.UIName == "" {
			gm.UIName = d.Name
		}
		for _, h := range hashes {
			m := c.byHash[h].m
			for _, name := range m.GameModes {
				if name == d.Name {
					gm.Maps = append(gm.Maps, m)
					break
				}
			}
		}
		modes[d.Name] = gm
	}
	c.modes = modes
}
