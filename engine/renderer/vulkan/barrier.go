package vulkan

import (
	vk "github.com/goki/vulkan"
)

// transitionImage records a full barrier moving image to layout. Without
// force nothing is recorded when the image is already in layout.
func transitionImage(cb *VulkanCommandBuffer, image *VulkanImage, layout vk.ImageLayout, force bool) {
	if image.Layout == layout && !force {
		return
	}
	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		SrcAccessMask:       vk.AccessFlags(vk.AccessMemoryWriteBit),
		DstAccessMask:       vk.AccessFlags(vk.AccessMemoryReadBit | vk.AccessMemoryWriteBit),
		OldLayout:           image.Layout,
		NewLayout:           layout,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               image.Handle,
		SubresourceRange:    image.subresourceRange(),
	}
	vk.CmdPipelineBarrier(
		cb.Handle,
		vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
		vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
		0,
		0, nil,
		0, nil,
		1, []vk.ImageMemoryBarrier{barrier},
	)
	image.Layout = layout
}
