package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/DoyleJ11/rts-lobby/internal/engine"
)

const sample = `
player:
  name: host
rules:
  sides: [Allies, Soviet, Yuri]
  colors: [Gold, Red, Blue]
  random_selectors:
    - name: Not Yuri
      sides: [0, 1]
  checkboxes:
    - name: Short Game
      default: true
    - name: No Yuri
      disallowed_sides: [2]
  dropdowns:
    - name: Credits
      items: ["5000", "10000"]
      default: 1
lobby:
  advert_interval: 45s
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample), "")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "host", cfg.Player.Name)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.Transport.NATSURL)
	assert.Equal(t, 8, cfg.Lobby.PlayerLimit)
	assert.Equal(t, 10*time.Second, cfg.Lobby.AdvertDelay)
	assert.Equal(t, 45*time.Second, cfg.Lobby.AdvertInterval)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	require.NotNil(t, cfg.Rules.RequireLock)
	assert.True(t, *cfg.Rules.RequireLock)
}

func TestEnvOverrides(t *testing.T) {
	env := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(env, []byte("LOBBY_NATS_URL=nats://example:4222\n"), 0o644))
	t.Setenv("LOBBY_PLAYER_NAME", "renamed")
	t.Setenv("LOBBY_HTTP_PORT", "9000")
	t.Cleanup(func() { os.Unsetenv("LOBBY_NATS_URL") })

	cfg, err := Load(writeConfig(t, sample), env)
	require.NoError(t, err)
	assert.Equal(t, "renamed", cfg.Player.Name)
	assert.Equal(t, "nats://example:4222", cfg.Transport.NATSURL)
	assert.Equal(t, 9000, cfg.Server.HTTPPort)

	// a missing env file is not an error
	_, err = Load(writeConfig(t, sample), filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)
}

func TestEnvBadPort(t *testing.T) {
	t.Setenv("LOBBY_HTTP_PORT", "eighty")
	_, err := Load(writeConfig(t, sample), "")
	assert.Error(t, err)
}

func TestValidateCollectsEverything(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
rules:
  random_selectors:
    - name: Bad
      sides: [4]
map_sharing:
  enabled: true
`), "")
	require.NoError(t, err)

	errs := multierr.Errors(cfg.Validate())
	assert.Len(t, errs, 5)
}

func TestValidatePlayerName(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample), "")
	require.NoError(t, err)

	for _, name := range []string{"1host", "-host", "host;2", "host name", "averyveryverylongname"} {
		cfg.Player.Name = name
		err := cfg.Validate()
		assert.ErrorIs(t, err, engine.ErrInvalidName, name)
		assert.ErrorContains(t, err, "player.name", name)
	}

	cfg.Player.Name = "[GDI]host_2"
	assert.NoError(t, cfg.Validate())
}

func TestEngineRulesAndOptions(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample), "")
	require.NoError(t, err)

	r := cfg.EngineRules()
	assert.Equal(t, 3, r.SideCount())
	assert.Equal(t, 2, r.RandomSelectorCount())
	assert.Equal(t, 5, r.SpectatorSide())
	assert.True(t, r.RequireLock)

	o := cfg.GameOptions()
	require.Len(t, o.CheckBoxes, 2)
	assert.True(t, o.CheckBoxes[0].Checked)
	assert.Equal(t, []int{2}, o.CheckBoxes[1].DisallowedSides)
	require.Len(t, o.DropDowns, 1)
	assert.Equal(t, 1, o.DropDowns[0].Selected)
}
