package gpu

import (
	"context"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-gpu/engine/renderer/graph"
)

// SubmitSync carries the external synchronization primitives of a submission.
// Zero values mean "none".
type SubmitSync struct {
	WaitSemaphore   vk.Semaphore
	WaitStageMask   vk.PipelineStageFlags
	SignalSemaphore vk.Semaphore
	Fence           vk.Fence
}

// Completion resolves once the GPU has finished a submission.
type Completion interface {
	Wait(ctx context.Context) error
}

// Executor is the queue the device submits render graphs to. Graphs are
// executed in slice order and every node in append order. Handles in the
// nodes are resolved against resources before Submit returns; the graphs are
// recycled afterwards and must not be kept.
type Executor interface {
	Submit(graphs []*graph.RenderGraph, resources *graph.Resources, sync SubmitSync) (Completion, error)
	Close() error
}

// MemoryReporter is implemented by executors that can report device memory.
type MemoryReporter interface {
	MemoryStatistics() (totalKB, freeKB int)
}

type ImageDesc struct {
	Name   string
	Extent vk.Extent2D
	Format vk.Format
	Usage  vk.ImageUsageFlags
	Layers uint32
}

// ImageAllocator owns image storage.
type ImageAllocator interface {
	CreateImage(desc ImageDesc) (graph.NativeImage, error)
	FreeImage(native graph.NativeImage)
	// ReadImage returns the first layer as tightly packed RGBA float32 texels.
	ReadImage(native graph.NativeImage) (vk.Extent2D, []float32, error)
}

// DescriptorAllocator creates the descriptor pools of each resource pool slot
// and writes the bindings of allocated sets.
type DescriptorAllocator interface {
	NewDescriptorPool() (DescriptorPool, error)
	// UpdateDescriptorSets writes the bindings of every set in one batch.
	UpdateDescriptorSets(sets []graph.DescriptorSetSnapshot) error
}

// DescriptorPool hands out descriptor sets. Sets returned after the last
// Reset stay valid until the next Reset. A pool that cannot hold another set
// returns an error wrapping ErrDescriptorPoolFull.
type DescriptorPool interface {
	AllocateDescriptorSet(bindings []graph.Binding) (vk.DescriptorSet, error)
	Reset()
}

// SwapchainFormat is the presentation geometry a backbuffer must match.
type SwapchainFormat struct {
	Format vk.SurfaceFormat
	Extent vk.Extent2D
}

// Surface reports the current presentation geometry. ok is false when no
// swapchain exists yet.
type Surface interface {
	SwapchainFormat() (format SwapchainFormat, ok bool)
}

// SwapchainData is what the presentation layer hands to the pre present
// handler for the image it is about to present.
type SwapchainData struct {
	Image            graph.NativeImage
	Extent           vk.Extent2D
	Format           vk.SurfaceFormat
	AcquireSemaphore vk.Semaphore
	PresentSemaphore vk.Semaphore
	SubmissionFence  vk.Fence
}

// Presenter drives the swapchain. It calls pre before and post after its
// native present for every image.
type Presenter interface {
	Surface
	Present(pre func(SwapchainData), post func()) error
}
