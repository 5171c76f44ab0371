package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/DoyleJ11/rts-lobby/internal/engine"
	"github.com/DoyleJ11/rts-lobby/internal/maps"
)

// Config holds the client configuration
type Config struct {
	Player     PlayerConfig     `yaml:"player"`
	Transport  TransportConfig  `yaml:"transport"`
	Game       GameConfig       `yaml:"game"`
	Rules      RulesConfig      `yaml:"rules"`
	Maps       MapsConfig       `yaml:"maps"`
	MapSharing MapSharingConfig `yaml:"map_sharing"`
	Tunnel     TunnelConfig     `yaml:"tunnel"`
	Lobby      LobbyConfig      `yaml:"lobby"`
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	MapRepo    MapRepoConfig    `yaml:"map_repo"`
	Log        LogConfig        `yaml:"log"`
}

type PlayerConfig struct {
	Name string `yaml:"name"`
}

// TransportConfig points at the NATS server carrying room traffic
type TransportConfig struct {
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// GameConfig describes the local game installation
type GameConfig struct {
	Executable       string   `yaml:"executable"`
	Args             []string `yaml:"args"`
	Dir              string   `yaml:"dir"`
	SpawnFile        string   `yaml:"spawn_file"`
	VerifiedFiles    []string `yaml:"verified_files"`
	ProtocolRevision string   `yaml:"protocol_revision"`
	Version          string   `yaml:"version"`
}

type RandomSelectorConfig struct {
	Name  string `yaml:"name"`
	Sides []int  `yaml:"sides"`
}

type CheckBoxConfig struct {
	Name            string `yaml:"name"`
	Default         bool   `yaml:"default"`
	DisallowedSides []int  `yaml:"disallowed_sides"`
}

type DropDownConfig struct {
	Name    string   `yaml:"name"`
	Items   []string `yaml:"items"`
	Default int      `yaml:"default"`
}

// RulesConfig is the option registration. Every client in a room must
// carry the same lists or game option broadcasts won't decode.
type RulesConfig struct {
	Sides           []string               `yaml:"sides"`
	Colors          []string               `yaml:"colors"`
	RandomSelectors []RandomSelectorConfig `yaml:"random_selectors"`
	CheckBoxes      []CheckBoxConfig       `yaml:"checkboxes"`
	DropDowns       []DropDownConfig       `yaml:"dropdowns"`
	RequireLock     *bool                  `yaml:"require_lock"`
}

type MapsConfig struct {
	OfficialDir string         `yaml:"official_dir"`
	CustomDir   string         `yaml:"custom_dir"`
	GameModes   []maps.ModeDef `yaml:"game_modes"`
}

type MapSharingConfig struct {
	Enabled       bool          `yaml:"enabled"`
	AutoDownload  bool          `yaml:"auto_download"`
	RepositoryURL string        `yaml:"repository_url"`
	Timeout       time.Duration `yaml:"timeout"`
}

type TunnelConfig struct {
	MasterURL       string        `yaml:"master_url"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	Pinned          string        `yaml:"pinned"`
}

// LobbyConfig holds room defaults and advertisement timing
type LobbyConfig struct {
	PlayerLimit       int           `yaml:"player_limit"`
	AdvertDelay       time.Duration `yaml:"advert_delay"`
	AdvertInterval    time.Duration `yaml:"advert_interval"`
	AdvertAccelerated time.Duration `yaml:"advert_accelerated"`
}

// ServerConfig is the local control API
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	HTTPPort   int    `yaml:"http_port"`
}

// DatabaseConfig holds SQLite settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type MapRepoConfig struct {
	ListenAddr  string `yaml:"listen_addr"`
	DatabaseURL string `yaml:"database_url"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Load reads configuration from a YAML file, then applies environment
// overrides (optionally from envFile) and defaults.
func Load(path, envFile string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading env file: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	cfg.setDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("LOBBY_PLAYER_NAME"); v != "" {
		c.Player.Name = v
	}
	if v := os.Getenv("LOBBY_NATS_URL"); v != "" {
		c.Transport.NATSURL = v
	}
	if v := os.Getenv("LOBBY_TUNNEL_MASTER_URL"); v != "" {
		c.Tunnel.MasterURL = v
	}
	if v := os.Getenv("LOBBY_MAP_REPOSITORY_URL"); v != "" {
		c.MapSharing.RepositoryURL = v
	}
	if v := os.Getenv("LOBBY_DATABASE_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("LOBBY_HTTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("LOBBY_HTTP_PORT: %w", err)
		}
		c.Server.HTTPPort = port
	}
	if v := os.Getenv("MAPREPO_DATABASE_URL"); v != "" {
		c.MapRepo.DatabaseURL = v
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Transport.NATSURL == "" {
		c.Transport.NATSURL = "nats://127.0.0.1:4222"
	}
	if c.Transport.SubjectPrefix == "" {
		c.Transport.SubjectPrefix = "lobby"
	}
	if c.Game.SpawnFile == "" {
		c.Game.SpawnFile = "spawn.ini"
	}
	if c.Rules.RequireLock == nil {
		lock := true
		c.Rules.RequireLock = &lock
	}
	if c.MapSharing.Timeout == 0 {
		c.MapSharing.Timeout = time.Minute
	}
	if c.Tunnel.RefreshInterval == 0 {
		c.Tunnel.RefreshInterval = 5 * time.Minute
	}
	if c.Lobby.PlayerLimit == 0 {
		c.Lobby.PlayerLimit = engine.MaxPlayers
	}
	if c.Lobby.AdvertDelay == 0 {
		c.Lobby.AdvertDelay = 10 * time.Second
	}
	if c.Lobby.AdvertInterval == 0 {
		c.Lobby.AdvertInterval = 30 * time.Second
	}
	if c.Lobby.AdvertAccelerated == 0 {
		c.Lobby.AdvertAccelerated = 10 * time.Second
	}
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = "127.0.0.1"
	}
	if c.Server.HTTPPort == 0 {
		c.Server.HTTPPort = 8080
	}
	if c.Database.Path == "" {
		c.Database.Path = "lobby.db"
	}
	if c.MapRepo.ListenAddr == "" {
		c.MapRepo.ListenAddr = ":8090"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var err error
	if c.Player.Name == "" {
		err = multierr.Append(err, errors.New("player.name is required"))
	} else if nerr := engine.ValidName(c.Player.Name); nerr != nil {
		err = multierr.Append(err, fmt.Errorf("player.name: %w", nerr))
	}
	if len(c.Rules.Sides) == 0 {
		err = multierr.Append(err, errors.New("rules.sides must not be empty"))
	}
	if len(c.Rules.Colors) == 0 {
		err = multierr.Append(err, errors.New("rules.colors must not be empty"))
	}
	for _, sel := range c.Rules.RandomSelectors {
		for _, s := range sel.Sides {
			if s < 0 || s >= len(c.Rules.Sides) {
				err = multierr.Append(err, fmt.Errorf("random selector %q: side %d out of range", sel.Name, s))
			}
		}
	}
	for _, cb := range c.Rules.CheckBoxes {
		for _, s := range cb.DisallowedSides {
			if s < 0 || s >= len(c.Rules.Sides) {
				err = multierr.Append(err, fmt.Errorf("checkbox %q: side %d out of range", cb.Name, s))
			}
		}
	}
	for _, dd := range c.Rules.DropDowns {
		if dd.Default < 0 || dd.Default >= len(dd.Items) {
			err = multierr.Append(err, fmt.Errorf("dropdown %q: default %d out of range", dd.Name, dd.Default))
		}
	}
	if c.Lobby.PlayerLimit < 1 || c.Lobby.PlayerLimit > engine.MaxPlayers {
		err = multierr.Append(err, fmt.Errorf("lobby.player_limit must be between 1 and %d", engine.MaxPlayers))
	}
	if c.MapSharing.Enabled && c.MapSharing.RepositoryURL == "" {
		err = multierr.Append(err, errors.New("map_sharing.repository_url is required when sharing is enabled"))
	}
	return err
}

// EngineRules converts the registration into the engine's rule set.
func (c *Config) EngineRules() engine.Rules {
	r := engine.Rules{
		Sides:       c.Rules.Sides,
		Colors:      c.Rules.Colors,
		RequireLock: c.Rules.RequireLock != nil && *c.Rules.RequireLock,
	}
	for _, sel := range c.Rules.RandomSelectors {
		r.RandomSelectors = append(r.RandomSelectors, engine.RandomSelector{Name: sel.Name, Sides: sel.Sides})
	}
	return r
}

// GameOptions returns a fresh option set at default values.
func (c *Config) GameOptions() engine.GameOptions {
	var o engine.GameOptions
	for _, cb := range c.Rules.CheckBoxes {
		o.CheckBoxes = append(o.CheckBoxes, engine.CheckBox{
			Name:            cb.Name,
			Checked:         cb.Default,
			Default:         cb.Default,
			DisallowedSides: cb.DisallowedSides,
		})
	}
	for _, dd := range c.Rules.DropDowns {
		o.DropDowns = append(o.DropDowns, engine.DropDown{
			Name:     dd.Name,
			Items:    dd.Items,
			Selected: dd.Default,
			Default:  dd.Default,
		})
	}
	return o
}
