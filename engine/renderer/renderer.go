// Package renderer is the frontend the application drives. It creates the
// configured backend and runs the main thread context through frames.
package renderer

import (
	"errors"
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-gpu/engine/core"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/dummy"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/gpu"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/software"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/vulkan"
)

// MainThread is the thread the renderer activates its context on.
const MainThread gpu.ThreadID = 1

var ErrNoWindow = errors.New("the vulkan backend needs a window")

// resizer is implemented by the presenters of every backend with a
// swapchain.
type resizer interface {
	gpu.Presenter
	Resize(extent vk.Extent2D) error
}

type Renderer struct {
	backendType core.BackendType
	clearColor  [4]float32

	// context is the capability set every backend provides; gpuContext is
	// set when the backend records render graphs.
	context    gpu.GraphicsContext
	gpuContext *gpu.Context
	device     *gpu.Device
	presenter  resizer
	close      func() error
}

// New creates the backend named by cfg.Renderer.Backend. window is only used
// by the vulkan backend.
func New(cfg *core.Config, window vulkan.Window) (*Renderer, error) {
	r := &Renderer{
		backendType: cfg.Renderer.Backend,
		clearColor:  [4]float32{0, 0, 0.2, 1},
	}

	switch cfg.Renderer.Backend {
	case core.BackendDummy:
		r.context = dummy.NewContext()
		r.close = func() error { return nil }
	case core.BackendSoftware:
		b, err := software.NewBackend(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create software backend: %w", err)
		}
		r.device, r.presenter, r.close = b.Device, b.Presenter, b.Close
	case core.BackendVulkan:
		if window == nil {
			return nil, ErrNoWindow
		}
		b, err := vulkan.NewBackend(cfg, window)
		if err != nil {
			return nil, fmt.Errorf("failed to create vulkan backend: %w", err)
		}
		r.device, r.presenter, r.close = b.Device, b.Presenter, b.Close
	default:
		return nil, fmt.Errorf("%w: unknown renderer backend %q", core.ErrInvalidConfig, cfg.Renderer.Backend)
	}

	if r.device != nil {
		r.gpuContext = gpu.NewContext(r.device, r.presenter, cfg.Debug)
		r.context = r.gpuContext
	}
	r.context.Activate(MainThread)
	core.LogInfo("renderer initialized with the %s backend", r.backendType)
	return r, nil
}

func (r *Renderer) Backend() core.BackendType {
	return r.backendType
}

// Context returns the recording context, nil for the dummy backend.
func (r *Renderer) Context() *gpu.Context {
	return r.gpuContext
}

func (r *Renderer) SetClearColor(color [4]float32) {
	r.clearColor = color
}

// DrawFrame clears the backbuffer and presents it. A frame booted by a
// swapchain recreation is not an error.
func (r *Renderer) DrawFrame() error {
	r.context.BeginFrame()
	defer r.context.EndFrame()

	if r.gpuContext == nil {
		return nil
	}
	r.context.DebugGroupBegin("Frame", 0)
	if r.gpuContext.HasActiveFramebuffer() {
		r.gpuContext.Clear(r.clearColor)
	}
	r.context.DebugGroupEnd()

	err := gpu.Present(r.device, MainThread, r.presenter)
	if errors.Is(err, core.ErrSwapchainBooting) {
		core.LogDebug("frame booted: %s", err)
		return nil
	}
	return err
}

// OnResize forwards a new window size to the swapchain.
func (r *Renderer) OnResize(width, height uint32) error {
	if r.presenter == nil {
		return nil
	}
	return r.presenter.Resize(vk.Extent2D{Width: width, Height: height})
}

func (r *Renderer) MemoryStatistics() (totalKB, freeKB int) {
	return r.context.MemoryStatistics()
}

// Metrics returns the frame metrics of the main context, nil for the dummy
// backend.
func (r *Renderer) Metrics() *core.FrameMetrics {
	if r.gpuContext == nil {
		return nil
	}
	return r.gpuContext.Metrics()
}

// RegisterEvents subscribes the renderer to window resizes.
func (r *Renderer) RegisterEvents(events *core.EventBus) {
	events.Register(core.EVENT_CODE_RESIZED, r, func(code core.SystemEventCode, sender, listener interface{}, data core.EventContext) bool {
		if err := r.OnResize(data.Data.U32[0], data.Data.U32[1]); err != nil {
			core.LogError("failed to resize swapchain: %s", err)
		}
		return false
	})
}

// Shutdown finishes outstanding work and tears the backend down.
func (r *Renderer) Shutdown() error {
	if r.gpuContext != nil {
		r.gpuContext.Finish()
	}
	r.context.Deactivate()
	if r.gpuContext != nil {
		r.gpuContext.Close()
	}
	return r.close()
}
