package software

import (
	"fmt"
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-gpu/engine/core"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/gpu"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/graph"
)

const swapchainImageCount = 3

// Presenter is an in-memory swapchain. Its images live in the allocator so
// the executor can blit into them.
type Presenter struct {
	allocator *Allocator

	mu        sync.Mutex
	format    vk.SurfaceFormat
	extent    vk.Extent2D
	images    []graph.NativeImage
	index     int
	presented int
	last      graph.NativeImage
}

func NewPresenter(allocator *Allocator, format vk.SurfaceFormat, extent vk.Extent2D) (*Presenter, error) {
	p := &Presenter{
		allocator: allocator,
		format:    format,
	}
	if err := p.Resize(extent); err != nil {
		return nil, err
	}
	return p, nil
}

// Resize recreates the swapchain images at extent.
func (p *Presenter) Resize(extent vk.Extent2D) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, img := range p.images {
		p.allocator.FreeImage(img)
	}
	p.images = p.images[:0]
	for i := 0; i < swapchainImageCount; i++ {
		img, err := p.allocator.CreateImage(gpu.ImageDesc{
			Name:   fmt.Sprintf("swapchain-%d", i),
			Extent: extent,
			Format: p.format.Format,
			Usage:  vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageTransferDstBit),
			Layers: 1,
		})
		if err != nil {
			return fmt.Errorf("failed to create swapchain image: %w", err)
		}
		p.images = append(p.images, img)
	}
	p.extent = extent
	p.index = 0
	core.LogDebug("swapchain resized to %dx%d", extent.Width, extent.Height)
	return nil
}

func (p *Presenter) SwapchainFormat() (gpu.SwapchainFormat, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.images) == 0 {
		return gpu.SwapchainFormat{}, false
	}
	return gpu.SwapchainFormat{Format: p.format, Extent: p.extent}, true
}

// Present hands the next swapchain image to pre, presents it and calls post.
func (p *Presenter) Present(pre func(gpu.SwapchainData), post func()) error {
	p.mu.Lock()
	image := p.images[p.index]
	data := gpu.SwapchainData{
		Image:            image,
		Extent:           p.extent,
		Format:           p.format,
		AcquireSemaphore: vk.NullSemaphore,
		PresentSemaphore: vk.NullSemaphore,
		SubmissionFence:  vk.NullFence,
	}
	p.index = (p.index + 1) % len(p.images)
	p.mu.Unlock()

	pre(data)

	p.mu.Lock()
	p.presented++
	p.last = image
	p.mu.Unlock()

	post()
	return nil
}

// LastPresented returns the image handed to the most recent present.
func (p *Presenter) LastPresented() graph.NativeImage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

func (p *Presenter) Presented() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.presented
}

// Close frees the swapchain images.
func (p *Presenter) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, img := range p.images {
		p.allocator.FreeImage(img)
	}
	p.images = nil
}

var _ gpu.Presenter = (*Presenter)(nil)
var _ gpu.Executor = (*Executor)(nil)
var _ gpu.ImageAllocator = (*Allocator)(nil)
var _ gpu.MemoryReporter = (*Executor)(nil)
