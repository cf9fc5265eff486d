package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/pelletier/go-toml/v2"
)

type BackendType string

const (
	BackendVulkan   BackendType = "vulkan"
	BackendSoftware BackendType = "software"
	BackendDummy    BackendType = "dummy"
)

type LogConfig struct {
	Level  string `toml:"level"`
	Prefix string `toml:"prefix"`
}

type WindowConfig struct {
	Title  string `toml:"title"`
	X      uint32 `toml:"x"`
	Y      uint32 `toml:"y"`
	Width  uint32 `toml:"width"`
	Height uint32 `toml:"height"`
}

type RendererConfig struct {
	Backend BackendType `toml:"backend"`
	// Number of resource pool slots cycled per thread.
	FramesInFlight int `toml:"frames_in_flight"`
	// Number of submissions the device queue accepts before Submit blocks.
	MaxSubmissionsInFlight int  `toml:"max_submissions_in_flight"`
	Validation             bool `toml:"validation"`
}

// DebugConfig enables debug captures. Captures are off while CaptureDir is
// empty.
type DebugConfig struct {
	CaptureDir string `toml:"capture_dir"`
}

type Config struct {
	Log      LogConfig      `toml:"log"`
	Window   WindowConfig   `toml:"window"`
	Renderer RendererConfig `toml:"renderer"`
	Debug    DebugConfig    `toml:"debug"`
}

func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "debug",
			Prefix: "GPU 🎞️ ",
		},
		Window: WindowConfig{
			Title:  "anima-gpu",
			X:      100,
			Y:      100,
			Width:  800,
			Height: 600,
		},
		Renderer: RendererConfig{
			Backend:                BackendVulkan,
			FramesInFlight:         2,
			MaxSubmissionsInFlight: 4,
			Validation:             true,
		},
	}
}

// LoadConfig reads a TOML configuration. Keys missing from the file keep
// their default values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, err
	}
	return ParseConfig(data)
}

func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Renderer.Backend {
	case BackendVulkan, BackendSoftware, BackendDummy:
	default:
		return fmt.Errorf("%w: unknown renderer backend %q", ErrInvalidConfig, c.Renderer.Backend)
	}
	if c.Renderer.FramesInFlight < 1 {
		return fmt.Errorf("%w: frames_in_flight must be at least 1", ErrInvalidConfig)
	}
	if c.Renderer.MaxSubmissionsInFlight < 1 {
		return fmt.Errorf("%w: max_submissions_in_flight must be at least 1", ErrInvalidConfig)
	}
	return nil
}

// Apply pushes the settings that can change at runtime into the engine.
func (c *Config) Apply() {
	SetLogLevel(c.Log.Level)
	if c.Log.Prefix != "" {
		SetLogPrefix(c.Log.Prefix)
	}
}

// WatchConfig reloads the configuration every time the file is written and
// hands the new value to onChange. Invalid files are logged and skipped. The
// returned function stops the watcher.
func WatchConfig(path string, onChange func(*Config)) (func() error, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Editors often replace the file, so the directory is watched instead.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case e, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(e.Name) != filepath.Clean(path) {
					continue
				}
				if e.Op&(fsnotify.Create|fsnotify.Write) == 0 {
					continue
				}
				cfg, err := LoadConfig(path)
				if err != nil {
					LogWarn("ignoring configuration change: %s", err)
					continue
				}
				LogInfo("configuration reloaded from %s", path)
				onChange(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				LogError(err.Error())
			case <-done:
				return
			}
		}
	}()

	return func() error {
		close(done)
		return watcher.Close()
	}, nil
}
