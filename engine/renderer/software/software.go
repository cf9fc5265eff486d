// Package software is a headless backend. It executes render graphs on the
// CPU against host memory images so the orchestration layer can run, and be
// tested, without a GPU.
package software

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-gpu/engine/core"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/gpu"
)

const defaultBudgetKB = 256 * 1024

// Backend bundles the software collaborators of a device.
type Backend struct {
	Allocator   *Allocator
	Descriptors *DescriptorAllocator
	Executor    *Executor
	Presenter   *Presenter
	Device      *gpu.Device
}

// NewBackend creates a device backed by the software executor and a
// presenter with a swapchain of the configured window size.
func NewBackend(cfg *core.Config) (*Backend, error) {
	allocator := NewAllocator(defaultBudgetKB)
	descriptors := NewDescriptorAllocator(descriptorPoolCapacity)
	executor := NewExecutor(allocator, descriptors, cfg.Renderer.MaxSubmissionsInFlight)
	device, err := gpu.NewDevice(cfg.Renderer, executor, allocator, descriptors)
	if err != nil {
		executor.Close()
		return nil, err
	}
	presenter, err := NewPresenter(allocator,
		vk.SurfaceFormat{Format: vk.FormatB8g8r8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear},
		vk.Extent2D{Width: cfg.Window.Width, Height: cfg.Window.Height},
	)
	if err != nil {
		device.Close()
		return nil, err
	}
	return &Backend{
		Allocator:   allocator,
		Descriptors: descriptors,
		Executor:    executor,
		Presenter:   presenter,
		Device:      device,
	}, nil
}

func (b *Backend) Close() error {
	err := b.Device.Close()
	b.Presenter.Close()
	return err
}
