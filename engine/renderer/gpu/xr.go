package gpu

import (
	vk "github.com/goki/vulkan"
	"github.com/x448/float16"

	"github.com/spaghettifunk/anima-gpu/engine/core"
)

// AcquireFramebufferImage reads color attachment 0 of the active framebuffer
// as half float RGBA. Everything recorded so far is submitted and waited for
// first. Every acquire must be followed by a release.
func (c *Context) AcquireFramebufferImage() (vk.Extent2D, []uint16) {
	core.Assert(c.xrImage == nil, ErrFramebufferImageOrder, "image already acquired")
	fb := c.activeFramebuffer
	core.Assert(fb != nil, ErrNoActiveFramebuffer, "context %s", c.id)
	color := fb.ColorAttachment(0)
	core.Assert(color.IsValid(), ErrNoActiveFramebuffer, "%s has no color attachment", fb.Name())

	c.Finish()

	extent, texels, err := c.device.allocator.ReadImage(color.Native)
	if err != nil {
		core.LogError("failed to read %s: %s", color.Name, err)
		c.xrImage = []uint16{}
		return vk.Extent2D{}, c.xrImage
	}
	c.xrImage = make([]uint16, len(texels))
	for i, v := range texels {
		c.xrImage[i] = float16.Fromfloat32(v).Bits()
	}
	return extent, c.xrImage
}

// ReleaseFramebufferImage drops the image returned by the last acquire.
func (c *Context) ReleaseFramebufferImage() {
	core.Assert(c.xrImage != nil, ErrFramebufferImageOrder, "release without acquire")
	c.xrImage = nil
}

// AcquireFramebufferImageCallback forwards to the context current on thread.
func AcquireFramebufferImageCallback(device *Device, thread ThreadID) (vk.Extent2D, []uint16) {
	c := device.CurrentContext(thread)
	core.Assert(c != nil, ErrContextInactive, "no context on thread %d", thread)
	return c.AcquireFramebufferImage()
}

// ReleaseFramebufferImageCallback forwards to the context current on thread.
func ReleaseFramebufferImageCallback(device *Device, thread ThreadID) {
	c := device.CurrentContext(thread)
	core.Assert(c != nil, ErrContextInactive, "no context on thread %d", thread)
	c.ReleaseFramebufferImage()
}
