package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigKeepsDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
[renderer]
backend = "software"
frames_in_flight = 3
`))
	require.NoError(t, err)
	assert.Equal(t, BackendSoftware, cfg.Renderer.Backend)
	assert.Equal(t, 3, cfg.Renderer.FramesInFlight)
	assert.Equal(t, DefaultConfig().Renderer.MaxSubmissionsInFlight, cfg.Renderer.MaxSubmissionsInFlight)
	assert.Equal(t, uint32(800), cfg.Window.Width)
	assert.Empty(t, cfg.Debug.CaptureDir)
}

func TestParseConfigRejectsInvalidValues(t *testing.T) {
	_, err := ParseConfig([]byte(`
[renderer]
backend = "metal"
`))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = ParseConfig([]byte(`
[renderer]
frames_in_flight = 0
`))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = ParseConfig([]byte(`renderer = [`))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestWatchConfigReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anima.toml")
	require.NoError(t, os.WriteFile(path, []byte("[log]\nlevel = \"info\"\n"), 0o644))

	reloaded := make(chan *Config, 4)
	stop, err := WatchConfig(path, func(cfg *Config) { reloaded <- cfg })
	require.NoError(t, err)
	defer stop()

	require.NoError(t, os.WriteFile(path, []byte("[log]\nlevel = \"warn\"\n"), 0o644))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, "warn", cfg.Log.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("configuration was not reloaded")
	}
}
