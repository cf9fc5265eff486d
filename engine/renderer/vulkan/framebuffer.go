package vulkan

import (
	"fmt"
	"strings"

	vk "github.com/goki/vulkan"
)

type VulkanFramebuffer struct {
	Handle      vk.Framebuffer
	Attachments []*VulkanImage
	Renderpass  *VulkanRenderpass
	Extent      vk.Extent2D
}

func FramebufferCreate(context *VulkanContext, renderpass *VulkanRenderpass, extent vk.Extent2D, attachments []*VulkanImage) (*VulkanFramebuffer, error) {
	views := make([]vk.ImageView, len(attachments))
	for i, image := range attachments {
		if image.View == nil {
			return nil, fmt.Errorf("image %s has no view and cannot be rendered to", image.Name)
		}
		views[i] = image.View
	}

	createInfo := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      renderpass.Handle,
		AttachmentCount: uint32(len(views)),
		PAttachments:    views,
		Width:           extent.Width,
		Height:          extent.Height,
		Layers:          1,
	}

	var handle vk.Framebuffer
	if err := vkError("vkCreateFramebuffer", vk.CreateFramebuffer(context.Device.LogicalDevice, &createInfo, context.Allocator, &handle)); err != nil {
		return nil, err
	}
	return &VulkanFramebuffer{
		Handle:      handle,
		Attachments: append([]*VulkanImage(nil), attachments...),
		Renderpass:  renderpass,
		Extent:      extent,
	}, nil
}

func (vfb *VulkanFramebuffer) Destroy(context *VulkanContext) {
	if vfb.Handle != nil {
		vk.DestroyFramebuffer(context.Device.LogicalDevice, vfb.Handle, context.Allocator)
		vfb.Handle = nil
	}
	vfb.Attachments = nil
	vfb.Renderpass = nil
}

// uses reports whether image is one of the attachments.
func (vfb *VulkanFramebuffer) uses(image *VulkanImage) bool {
	for _, a := range vfb.Attachments {
		if a == image {
			return true
		}
	}
	return false
}

// framebufferKey identifies a framebuffer by its attachments and extent.
func framebufferKey(attachments []*VulkanImage, extent vk.Extent2D) string {
	var b strings.Builder
	for _, a := range attachments {
		fmt.Fprintf(&b, "%p,", a)
	}
	fmt.Fprintf(&b, "%dx%d", extent.Width, extent.Height)
	return b.String()
}
