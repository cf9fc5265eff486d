package vulkan

import (
	"fmt"
	"math"
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-gpu/engine/core"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/gpu"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/graph"
)

const maxFramesInFlight = 2

type VulkanSwapchain struct {
	ImageFormat vk.SurfaceFormat
	Extent      vk.Extent2D
	Handle      vk.Swapchain
	ImageCount  uint32
	Images      []vk.Image

	// Natives are the allocator handles of Images.
	Natives []graph.NativeImage
}

type VulkanSwapchainSupportInfo struct {
	Capabilities     vk.SurfaceCapabilities
	FormatCount      uint32
	Formats          []vk.SurfaceFormat
	PresentModeCount uint32
	PresentModes     []vk.PresentMode
}

func chooseSurfaceFormat(formats []vk.SurfaceFormat) vk.SurfaceFormat {
	for _, format := range formats {
		if format.Format == vk.FormatB8g8r8a8Unorm && format.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			return format
		}
	}
	return formats[0]
}

func choosePresentMode(modes []vk.PresentMode) vk.PresentMode {
	for _, mode := range modes {
		if mode == vk.PresentModeMailbox {
			return mode
		}
	}
	return vk.PresentModeFifo
}

// chooseExtent prefers the extent the surface dictates and clamps the
// requested one otherwise.
func chooseExtent(capabilities vk.SurfaceCapabilities, requested vk.Extent2D) vk.Extent2D {
	if capabilities.CurrentExtent.Width != math.MaxUint32 {
		return capabilities.CurrentExtent
	}
	low, high := capabilities.MinImageExtent, capabilities.MaxImageExtent
	return vk.Extent2D{
		Width:  core.Clamp(requested.Width, low.Width, high.Width),
		Height: core.Clamp(requested.Height, low.Height, high.Height),
	}
}

func SwapchainCreate(context *VulkanContext, allocator *ImageAllocator, extent vk.Extent2D, old vk.Swapchain) (*VulkanSwapchain, error) {
	device := context.Device
	support := &device.SwapchainSupport
	if err := DeviceQuerySwapchainSupport(device.PhysicalDevice, context.Surface, support); err != nil {
		return nil, err
	}
	if len(support.Formats) == 0 {
		return nil, fmt.Errorf("surface reports no formats")
	}

	swapchain := &VulkanSwapchain{
		ImageFormat: chooseSurfaceFormat(support.Formats),
		Extent:      chooseExtent(support.Capabilities, extent),
	}

	imageCount := support.Capabilities.MinImageCount + 1
	if support.Capabilities.MaxImageCount > 0 && imageCount > support.Capabilities.MaxImageCount {
		imageCount = support.Capabilities.MaxImageCount
	}

	createInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          context.Surface,
		MinImageCount:    imageCount,
		ImageFormat:      swapchain.ImageFormat.Format,
		ImageColorSpace:  swapchain.ImageFormat.ColorSpace,
		ImageExtent:      swapchain.Extent,
		ImageArrayLayers: 1,
		// Presentation blits into the image.
		ImageUsage:     vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageTransferDstBit),
		PreTransform:   support.Capabilities.CurrentTransform,
		CompositeAlpha: vk.CompositeAlphaOpaqueBit,
		PresentMode:    choosePresentMode(support.PresentModes),
		Clipped:        vk.True,
		OldSwapchain:   old,
	}
	if device.GraphicsQueueIndex != device.PresentQueueIndex {
		createInfo.ImageSharingMode = vk.SharingModeConcurrent
		createInfo.QueueFamilyIndexCount = 2
		createInfo.PQueueFamilyIndices = []uint32{
			uint32(device.GraphicsQueueIndex),
			uint32(device.PresentQueueIndex),
		}
	} else {
		createInfo.ImageSharingMode = vk.SharingModeExclusive
	}

	err := context.locks.SafeCall(SwapchainManagement, func() error {
		var handle vk.Swapchain
		if err := vkError("vkCreateSwapchainKHR", vk.CreateSwapchain(device.LogicalDevice, &createInfo, context.Allocator, &handle)); err != nil {
			return err
		}
		swapchain.Handle = handle

		if err := vkError("vkGetSwapchainImagesKHR", vk.GetSwapchainImages(device.LogicalDevice, handle, &swapchain.ImageCount, nil)); err != nil {
			return err
		}
		swapchain.Images = make([]vk.Image, swapchain.ImageCount)
		return vkError("vkGetSwapchainImagesKHR", vk.GetSwapchainImages(device.LogicalDevice, handle, &swapchain.ImageCount, swapchain.Images))
	})
	if err != nil {
		if swapchain.Handle != nil {
			vk.DestroySwapchain(device.LogicalDevice, swapchain.Handle, context.Allocator)
		}
		return nil, err
	}

	for i, image := range swapchain.Images {
		native := allocator.RegisterExternal(fmt.Sprintf("swapchain-%d", i), image, swapchain.Extent, swapchain.ImageFormat.Format)
		swapchain.Natives = append(swapchain.Natives, native)
	}

	core.LogInfo("Swapchain created: %d images, %dx%d", swapchain.ImageCount, swapchain.Extent.Width, swapchain.Extent.Height)
	return swapchain, nil
}

// SwapchainDestroy forgets the swapchain images and destroys the swapchain.
// The device must be idle.
func (vs *VulkanSwapchain) SwapchainDestroy(context *VulkanContext, allocator *ImageAllocator) {
	for _, native := range vs.Natives {
		allocator.FreeImage(native)
	}
	vs.Natives = nil
	vs.Images = nil
	if vs.Handle != nil {
		_ = context.locks.SafeCall(SwapchainManagement, func() error {
			vk.DestroySwapchain(context.Device.LogicalDevice, vs.Handle, context.Allocator)
			return nil
		})
		vs.Handle = nil
	}
}

// frameSync is the synchronization of one frame in flight.
type frameSync struct {
	acquire vk.Semaphore
	present vk.Semaphore
	fence   *VulkanFence
}

func newFrameSync(context *VulkanContext) (*frameSync, error) {
	createInfo := vk.SemaphoreCreateInfo{SType: vk.StructureTypeSemaphoreCreateInfo}
	f := &frameSync{}
	if err := vkError("vkCreateSemaphore", vk.CreateSemaphore(context.Device.LogicalDevice, &createInfo, context.Allocator, &f.acquire)); err != nil {
		return nil, err
	}
	if err := vkError("vkCreateSemaphore", vk.CreateSemaphore(context.Device.LogicalDevice, &createInfo, context.Allocator, &f.present)); err != nil {
		f.destroy(context)
		return nil, err
	}
	fence, err := NewFence(context, true)
	if err != nil {
		f.destroy(context)
		return nil, err
	}
	f.fence = fence
	return f, nil
}

func (f *frameSync) destroy(context *VulkanContext) {
	device := context.Device.LogicalDevice
	if f.acquire != vk.NullSemaphore {
		vk.DestroySemaphore(device, f.acquire, context.Allocator)
		f.acquire = vk.NullSemaphore
	}
	if f.present != vk.NullSemaphore {
		vk.DestroySemaphore(device, f.present, context.Allocator)
		f.present = vk.NullSemaphore
	}
	if f.fence != nil {
		f.fence.FenceDestroy(context)
		f.fence = nil
	}
}

// Presenter presents through a VkSwapchainKHR with two frames in flight.
type Presenter struct {
	context   *VulkanContext
	allocator *ImageAllocator

	mu        sync.Mutex
	swapchain *VulkanSwapchain
	extent    vk.Extent2D
	frames    [maxFramesInFlight]*frameSync
	frame     int
	resized   bool
}

func NewPresenter(context *VulkanContext, allocator *ImageAllocator, extent vk.Extent2D) (*Presenter, error) {
	p := &Presenter{
		context:   context,
		allocator: allocator,
		extent:    extent,
	}
	for i := range p.frames {
		f, err := newFrameSync(context)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.frames[i] = f
	}
	swapchain, err := SwapchainCreate(context, allocator, extent, nil)
	if err != nil {
		p.Close()
		return nil, err
	}
	p.swapchain = swapchain
	return p, nil
}

// recreate replaces the swapchain. Callers hold p.mu.
func (p *Presenter) recreate() error {
	if p.extent.Width == 0 || p.extent.Height == 0 {
		return nil
	}
	if err := vkError("vkDeviceWaitIdle", vk.DeviceWaitIdle(p.context.Device.LogicalDevice)); err != nil {
		return err
	}
	var old vk.Swapchain
	if p.swapchain != nil {
		old = p.swapchain.Handle
	}
	swapchain, err := SwapchainCreate(p.context, p.allocator, p.extent, old)
	if err != nil {
		return err
	}
	if p.swapchain != nil {
		p.swapchain.SwapchainDestroy(p.context, p.allocator)
	}
	p.swapchain = swapchain
	p.resized = false
	return nil
}

// Resize records the new window size. The swapchain is recreated on the next
// present.
func (p *Presenter) Resize(extent vk.Extent2D) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.extent = extent
	p.resized = true
	return nil
}

func (p *Presenter) SwapchainFormat() (gpu.SwapchainFormat, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.swapchain == nil {
		return gpu.SwapchainFormat{}, false
	}
	return gpu.SwapchainFormat{Format: p.swapchain.ImageFormat, Extent: p.swapchain.Extent}, true
}

// Present acquires the next swapchain image, hands it to pre, queues it for
// presentation and calls post. It returns core.ErrSwapchainBooting when the
// swapchain had to be recreated before an image could be acquired.
func (p *Presenter) Present(pre func(gpu.SwapchainData), post func()) error {
	p.mu.Lock()
	if p.resized {
		if err := p.recreate(); err != nil {
			p.mu.Unlock()
			return err
		}
	}
	if p.swapchain == nil || p.extent.Width == 0 || p.extent.Height == 0 {
		p.mu.Unlock()
		return core.ErrSwapchainBooting
	}
	frame := p.frames[p.frame]
	swapchain := p.swapchain
	device := p.context.Device

	if _, err := frame.fence.FenceWait(p.context, math.MaxUint64); err != nil {
		p.mu.Unlock()
		return err
	}

	var index uint32
	result := vk.AcquireNextImage(device.LogicalDevice, swapchain.Handle, math.MaxUint64, frame.acquire, vk.NullFence, &index)
	switch {
	case result == vk.ErrorOutOfDate:
		err := p.recreate()
		p.mu.Unlock()
		if err != nil {
			return err
		}
		return core.ErrSwapchainBooting
	case result != vk.Success && result != vk.Suboptimal:
		p.mu.Unlock()
		return vkError("vkAcquireNextImageKHR", result)
	}

	// The fence is only reset once an image is acquired, so a booted frame
	// never leaves it unsignaled.
	if err := frame.fence.FenceReset(p.context); err != nil {
		p.mu.Unlock()
		return err
	}
	p.mu.Unlock()

	pre(gpu.SwapchainData{
		Image:            swapchain.Natives[index],
		Extent:           swapchain.Extent,
		Format:           swapchain.ImageFormat,
		AcquireSemaphore: frame.acquire,
		PresentSemaphore: frame.present,
		SubmissionFence:  frame.fence.Handle,
	})

	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{frame.present},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{swapchain.Handle},
		PImageIndices:      []uint32{index},
	}
	return p.finishPresent(post, func() (vk.Result, error) {
		var result vk.Result
		err := p.context.locks.SafeQueueCall(uint32(device.PresentQueueIndex), func() error {
			result = vk.QueuePresent(device.PresentQueue, &presentInfo)
			return nil
		})
		return result, err
	})
}

// finishPresent queues the present and advances the frame. post runs on
// every path once pre has run.
func (p *Presenter) finishPresent(post func(), queuePresent func() (vk.Result, error)) error {
	defer post()

	result, err := queuePresent()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.frame = (p.frame + 1) % maxFramesInFlight
	switch {
	case err != nil:
		return err
	case result == vk.ErrorOutOfDate || result == vk.Suboptimal:
		return p.recreate()
	case result != vk.Success:
		return vkError("vkQueuePresentKHR", result)
	}
	return nil
}

// Close destroys the swapchain and the frame synchronization objects.
func (p *Presenter) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.context.Device != nil && p.context.Device.LogicalDevice != nil {
		vk.DeviceWaitIdle(p.context.Device.LogicalDevice)
	}
	if p.swapchain != nil {
		p.swapchain.SwapchainDestroy(p.context, p.allocator)
		p.swapchain = nil
	}
	for i, f := range p.frames {
		if f != nil {
			f.destroy(p.context)
			p.frames[i] = nil
		}
	}
}

var _ gpu.Presenter = (*Presenter)(nil)
