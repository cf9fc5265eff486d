/*
anima-gpu opens a window and presents frames through the render graph
orchestration layer on the backend named in the configuration.
*/
package main

import (
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spaghettifunk/anima-gpu/engine/core"
	"github.com/spaghettifunk/anima-gpu/engine/platform"
	"github.com/spaghettifunk/anima-gpu/engine/renderer"
)

const statsInterval = 5 * time.Second

func loadConfig(path string) *core.Config {
	cfg, err := core.LoadConfig(path)
	if errors.Is(err, core.ErrConfigNotFound) {
		core.LogWarn("%s, using defaults", err)
		return core.DefaultConfig()
	}
	if err != nil {
		core.LogFatal("failed to load configuration: %s", err)
	}
	return cfg
}

func main() {
	configPath := flag.String("config", "anima.toml", "path to the TOML configuration")
	backend := flag.String("backend", "", "override renderer.backend (vulkan, software, dummy)")
	frames := flag.Int("frames", 0, "exit after this many frames, 0 runs until the window closes")
	flag.Parse()

	cfg := loadConfig(*configPath)
	if *backend != "" {
		cfg.Renderer.Backend = core.BackendType(*backend)
		if err := cfg.Validate(); err != nil {
			core.LogFatal(err.Error())
		}
	}
	cfg.Apply()

	events := core.NewEventBus()
	defer events.Shutdown()

	quit := make(chan struct{}, 1)
	requestQuit := func() {
		select {
		case quit <- struct{}{}:
		default:
		}
	}
	events.Register(core.EVENT_CODE_APPLICATION_QUIT, "main", func(code core.SystemEventCode, sender, listener interface{}, data core.EventContext) bool {
		requestQuit()
		return true
	})
	events.Register(core.EVENT_CODE_CONFIG_RELOADED, "main", func(code core.SystemEventCode, sender, listener interface{}, data core.EventContext) bool {
		if reloaded, ok := data.Data.Any.(*core.Config); ok {
			reloaded.Apply()
		}
		return false
	})

	stopWatching, err := core.WatchConfig(*configPath, func(reloaded *core.Config) {
		var data core.EventContext
		data.Data.Any = reloaded
		events.Fire(core.EVENT_CODE_CONFIG_RELOADED, nil, data)
	})
	if err != nil {
		core.LogWarn("configuration hot reload disabled: %s", err)
	} else {
		defer stopWatching()
	}

	var p *platform.Platform
	var r *renderer.Renderer
	if cfg.Renderer.Backend == core.BackendVulkan {
		p = platform.New(events)
		if err := p.Startup(cfg.Window); err != nil {
			core.LogFatal("failed to start platform: %s", err)
		}
		defer p.Shutdown()
		r, err = renderer.New(cfg, p)
	} else {
		// A nil *Platform must not reach the interface parameter.
		r, err = renderer.New(cfg, nil)
	}
	if err != nil {
		core.LogFatal("failed to initialize renderer: %s", err)
	}
	r.RegisterEvents(events)

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	go func() {
		<-sigCh
		events.Fire(core.EVENT_CODE_APPLICATION_QUIT, nil, core.EventContext{})
	}()

	lastStats := time.Now()
	for frame := 1; ; frame++ {
		select {
		case <-quit:
			core.LogInfo("shutting down after %d frames", frame-1)
			if err := r.Shutdown(); err != nil {
				core.LogError(err.Error())
			}
			return
		default:
		}

		if p != nil {
			p.PumpMessages()
			if p.ShouldClose() {
				requestQuit()
				continue
			}
		}
		if err := r.DrawFrame(); err != nil {
			core.LogError("failed to draw frame: %s", err)
			requestQuit()
			continue
		}
		if *frames > 0 && frame >= *frames {
			requestQuit()
		}

		if time.Since(lastStats) >= statsInterval {
			lastStats = time.Now()
			totalKB, freeKB := r.MemoryStatistics()
			if m := r.Metrics(); m != nil {
				core.LogInfo("%.1f fps, %.2f ms/frame, %d/%d KB free", m.FPS(), m.FrameTime(), freeKB, totalKB)
			}
		}
	}
}
