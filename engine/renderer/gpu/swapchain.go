package gpu

import (
	"context"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-gpu/engine/core"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/graph"
)

const backbufferUsage = vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageTransferSrcBit | vk.ImageUsageTransferDstBit | vk.ImageUsageSampledBit)

func sameSwapchainFormat(a, b SwapchainFormat) bool {
	return a.Format.Format == b.Format.Format &&
		a.Format.ColorSpace == b.Format.ColorSpace &&
		a.Extent.Width == b.Extent.Width &&
		a.Extent.Height == b.Extent.Height
}

// SyncBackbuffer matches the backbuffer to the presentation surface. When
// cycleResourcePool is set the next resource pool slot becomes current first.
// A changed format or extent replaces the surface texture of back_left and
// front_left.
func (c *Context) SyncBackbuffer(cycleResourcePool bool) {
	if c.surface == nil {
		return
	}
	if cycleResourcePool {
		c.resourcePool().Immediate.deactivate()
		next, err := c.threadData.ResourcePoolNext(context.Background(), c.device.timeline)
		if err != nil {
			core.LogError("failed to cycle resource pool: %s", err)
			return
		}
		next.Immediate.activate(c)
	}

	format, ok := c.surface.SwapchainFormat()
	if !ok {
		return
	}
	if c.hasSwapchain && sameSwapchainFormat(c.swapchainFormat, format) {
		return
	}

	if c.HasActiveFramebuffer() {
		c.DeactivateFramebuffer()
	}
	if c.surfaceTexture != nil {
		c.TextureFree(c.surfaceTexture)
		c.surfaceTexture = nil
	}
	tex, err := c.device.TextureCreate2D("back-left", format.Extent, format.Format.Format, backbufferUsage)
	if err != nil {
		core.LogError("failed to create backbuffer: %s", err)
		return
	}
	c.surfaceTexture = tex
	c.backLeft.AttachColor(0, tex)
	c.frontLeft.AttachColor(0, tex)
	c.backLeft.SetColorSpace(format.Format.ColorSpace)
	c.frontLeft.SetColorSpace(format.Format.ColorSpace)
	c.ActivateFramebuffer(c.backLeft)

	c.swapchainFormat = format
	c.hasSwapchain = true
	core.LogDebug("backbuffer resized to %dx%d", format.Extent.Width, format.Extent.Height)
}

// SurfaceTexture returns the texture backing back_left and front_left.
func (c *Context) SurfaceTexture() *Texture {
	return c.surfaceTexture
}

// SwapBuffersPre copies the active framebuffer into the swapchain image and
// submits everything recorded so far. The submission waits on the acquire
// semaphore and signals the present semaphore and fence.
func (c *Context) SwapBuffersPre(data SwapchainData) {
	core.Assert(!c.presentPending, ErrPresentOrder, "pre present called twice in a row")
	c.presentPending = true

	c.DebugGroupBegin("BackBuffer.Blit", 0)

	fb := c.activeFramebuffer
	core.Assert(fb != nil, ErrNoActiveFramebuffer, "presenting context %s", c.id)
	color := fb.ColorAttachment(0)
	core.Assert(color.IsValid(), ErrNoActiveFramebuffer, "framebuffer %s has no color attachment", fb.Name())

	// Swapchain images are only tracked while the blit is recorded.
	resources := c.device.resources
	swapchainImage := resources.AddImage(data.Image, 1, "SwapchainImage")

	fb.endRendering(c.renderGraph)
	c.FlushRenderGraph(FlushRenewRenderGraph, SubmitSync{})

	c.renderGraph.AddNode(graph.BlitImageNode{
		SrcImage: color.Handle,
		DstImage: swapchainImage,
		Region:   graph.FullImageBlit(color.Extent, data.Extent, true),
		Filter:   vk.FilterNearest,
	})
	c.DebugGroupEnd()
	c.uploadDescriptorSets()
	c.renderGraph.AddNode(graph.SynchronizationNode{
		Image:       swapchainImage,
		ImageLayout: vk.ImageLayoutPresentSrc,
		ImageAspect: vk.ImageAspectFlags(vk.ImageAspectColorBit),
	})
	c.FlushRenderGraph(FlushSubmit|FlushRenewRenderGraph, SubmitSync{
		WaitSemaphore:   data.AcquireSemaphore,
		WaitStageMask:   vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit | vk.PipelineStageTransferBit),
		SignalSemaphore: data.PresentSemaphore,
		Fence:           data.SubmissionFence,
	})

	resources.RemoveImage(data.Image)
}

// SwapBuffersPost runs after the platform presented the image: it cycles the
// resource pool and picks up surface changes.
func (c *Context) SwapBuffersPost() {
	core.Assert(c.presentPending, ErrPresentOrder, "post present without pre present")
	c.presentPending = false
	c.SyncBackbuffer(true)
}

// SwapBuffersPreCallback forwards to the context current on thread.
func SwapBuffersPreCallback(device *Device, thread ThreadID, data SwapchainData) {
	c := device.CurrentContext(thread)
	core.Assert(c != nil, ErrContextInactive, "no context on thread %d", thread)
	c.SwapBuffersPre(data)
}

// SwapBuffersPostCallback forwards to the context current on thread.
func SwapBuffersPostCallback(device *Device, thread ThreadID) {
	c := device.CurrentContext(thread)
	core.Assert(c != nil, ErrContextInactive, "no context on thread %d", thread)
	c.SwapBuffersPost()
}

// Present runs one present of p with the handlers of the context current on
// thread.
func Present(device *Device, thread ThreadID, p Presenter) error {
	return p.Present(
		func(data SwapchainData) { SwapBuffersPreCallback(device, thread, data) },
		func() { SwapBuffersPostCallback(device, thread) },
	)
}
