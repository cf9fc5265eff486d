package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-gpu/engine/core"
)

type VulkanImage struct {
	Name   string
	Handle vk.Image
	Memory vk.DeviceMemory
	View   vk.ImageView
	Extent vk.Extent2D
	Format vk.Format
	Layers uint32
	Size   uint64
	// Layout the image will be in once every recorded command has executed.
	Layout vk.ImageLayout
	// External images belong to the swapchain and are never destroyed here.
	External bool
}

func (vi *VulkanImage) subresourceRange() vk.ImageSubresourceRange {
	return vk.ImageSubresourceRange{
		AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
		BaseMipLevel:   0,
		LevelCount:     1,
		BaseArrayLayer: 0,
		LayerCount:     vi.Layers,
	}
}

// ImageCreate creates a device local optimal tiling color image with a view
// over all of its layers.
func ImageCreate(context *VulkanContext, name string, extent vk.Extent2D, format vk.Format, usage vk.ImageUsageFlags, layers uint32) (*VulkanImage, error) {
	if layers == 0 {
		layers = 1
	}
	image := &VulkanImage{
		Name:   name,
		Extent: extent,
		Format: format,
		Layers: layers,
		Layout: vk.ImageLayoutUndefined,
	}

	imageCreateInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    format,
		Extent: vk.Extent3D{
			Width:  extent.Width,
			Height: extent.Height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   layers,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         usage | vk.ImageUsageFlags(vk.ImageUsageTransferSrcBit|vk.ImageUsageTransferDstBit),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}

	device := context.Device.LogicalDevice
	var handle vk.Image
	if err := vkError("vkCreateImage", vk.CreateImage(device, &imageCreateInfo, context.Allocator, &handle)); err != nil {
		return nil, fmt.Errorf("image %s: %w", name, err)
	}
	image.Handle = handle

	var requirements vk.MemoryRequirements
	vk.GetImageMemoryRequirements(device, handle, &requirements)
	requirements.Deref()

	memoryType := context.FindMemoryIndex(requirements.MemoryTypeBits, uint32(vk.MemoryPropertyDeviceLocalBit))
	if memoryType == -1 {
		image.ImageDestroy(context)
		return nil, fmt.Errorf("image %s: required memory type not found", name)
	}

	allocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  requirements.Size,
		MemoryTypeIndex: uint32(memoryType),
	}
	var memory vk.DeviceMemory
	if err := vkError("vkAllocateMemory", vk.AllocateMemory(device, &allocateInfo, context.Allocator, &memory)); err != nil {
		image.ImageDestroy(context)
		return nil, fmt.Errorf("image %s: %w", name, err)
	}
	image.Memory = memory
	image.Size = uint64(requirements.Size)

	if err := vkError("vkBindImageMemory", vk.BindImageMemory(device, handle, memory, 0)); err != nil {
		image.ImageDestroy(context)
		return nil, fmt.Errorf("image %s: %w", name, err)
	}

	viewType := vk.ImageViewType2d
	if layers > 1 {
		viewType = vk.ImageViewType2dArray
	}
	viewCreateInfo := vk.ImageViewCreateInfo{
		SType:            vk.StructureTypeImageViewCreateInfo,
		Image:            handle,
		ViewType:         viewType,
		Format:           format,
		SubresourceRange: image.subresourceRange(),
	}
	var view vk.ImageView
	if err := vkError("vkCreateImageView", vk.CreateImageView(device, &viewCreateInfo, context.Allocator, &view)); err != nil {
		image.ImageDestroy(context)
		return nil, fmt.Errorf("image %s: %w", name, err)
	}
	image.View = view

	core.LogDebug("image %s created (%dx%d, %d layers)", name, extent.Width, extent.Height, layers)
	return image, nil
}

func (vi *VulkanImage) ImageDestroy(context *VulkanContext) {
	device := context.Device.LogicalDevice
	if vi.View != nil {
		vk.DestroyImageView(device, vi.View, context.Allocator)
		vi.View = nil
	}
	if vi.External {
		return
	}
	if vi.Handle != nil {
		vk.DestroyImage(device, vi.Handle, context.Allocator)
		vi.Handle = nil
	}
	if vi.Memory != nil {
		vk.FreeMemory(device, vi.Memory, context.Allocator)
		vi.Memory = nil
	}
}
