package vulkan

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/x448/float16"

	"github.com/spaghettifunk/anima-gpu/engine/core"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/gpu"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/graph"
)

var (
	ErrUnknownImage      = errors.New("unknown image")
	ErrUnsupportedFormat = errors.New("unsupported image format")
)

// ImageAllocator owns the device images the render graphs refer to. The
// swapchain registers its images here too so the executor resolves both the
// same way.
type ImageAllocator struct {
	context *VulkanContext

	mu        sync.Mutex
	images    map[graph.NativeImage]*VulkanImage
	next      graph.NativeImage
	usedBytes uint64
	freeHooks []func(*VulkanImage)
}

func NewImageAllocator(context *VulkanContext) *ImageAllocator {
	return &ImageAllocator{
		context: context,
		images:  make(map[graph.NativeImage]*VulkanImage),
	}
}

// OnFree registers fn to run, under the allocator lock, before an image is
// destroyed or unregistered.
func (a *ImageAllocator) OnFree(fn func(*VulkanImage)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.freeHooks = append(a.freeHooks, fn)
}

func (a *ImageAllocator) CreateImage(desc gpu.ImageDesc) (graph.NativeImage, error) {
	var image *VulkanImage
	err := a.context.locks.SafeCall(ImageManagement, func() error {
		var err error
		image, err = ImageCreate(a.context, desc.Name, desc.Extent, desc.Format, desc.Usage, desc.Layers)
		return err
	})
	if err != nil {
		return 0, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.next++
	a.images[a.next] = image
	a.usedBytes += image.Size
	return a.next, nil
}

// RegisterExternal tracks an image owned by someone else, such as a
// swapchain image.
func (a *ImageAllocator) RegisterExternal(name string, handle vk.Image, extent vk.Extent2D, format vk.Format) graph.NativeImage {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.next++
	a.images[a.next] = &VulkanImage{
		Name:     name,
		Handle:   handle,
		Extent:   extent,
		Format:   format,
		Layers:   1,
		Layout:   vk.ImageLayoutUndefined,
		External: true,
	}
	return a.next
}

// FreeImage destroys an image. External images are only forgotten.
func (a *ImageAllocator) FreeImage(native graph.NativeImage) {
	a.mu.Lock()
	image, ok := a.images[native]
	if !ok {
		a.mu.Unlock()
		return
	}
	delete(a.images, native)
	for _, hook := range a.freeHooks {
		hook(image)
	}
	if !image.External {
		a.usedBytes -= image.Size
	}
	a.mu.Unlock()

	_ = a.context.locks.SafeCall(ImageManagement, func() error {
		image.ImageDestroy(a.context)
		return nil
	})
}

// Close destroys every image still owned by the allocator. The device must
// be idle.
func (a *ImageAllocator) Close() {
	a.mu.Lock()
	images := a.images
	a.images = make(map[graph.NativeImage]*VulkanImage)
	a.usedBytes = 0
	a.mu.Unlock()

	for native, image := range images {
		if !image.External {
			core.LogWarn("destroying leaked image %s (%d)", image.Name, native)
		}
		image.ImageDestroy(a.context)
	}
}

// Len returns the number of tracked images.
func (a *ImageAllocator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.images)
}

// with runs fn holding the allocator lock. The executor records whole graphs
// inside one call so layouts are tracked in submission order.
func (a *ImageAllocator) with(fn func(lookup func(graph.NativeImage) (*VulkanImage, bool))) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn(func(native graph.NativeImage) (*VulkanImage, bool) {
		image, ok := a.images[native]
		return image, ok
	})
}

// ReadImage copies the first layer back to host memory and decodes it into
// RGBA float32 texels.
func (a *ImageAllocator) ReadImage(native graph.NativeImage) (vk.Extent2D, []float32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	image, ok := a.images[native]
	if !ok {
		return vk.Extent2D{}, nil, fmt.Errorf("%w: %d", ErrUnknownImage, native)
	}
	texelSize, err := formatTexelSize(image.Format)
	if err != nil {
		return vk.Extent2D{}, nil, err
	}

	size := uint64(image.Extent.Width) * uint64(image.Extent.Height) * uint64(texelSize)
	staging, err := newHostBuffer(a.context, size, vk.BufferUsageFlags(vk.BufferUsageTransferDstBit))
	if err != nil {
		return vk.Extent2D{}, nil, err
	}
	defer staging.destroy(a.context)

	device := a.context.Device
	cb, err := AllocateAndBeginSingleUse(a.context, device.GraphicsCommandPool)
	if err != nil {
		return vk.Extent2D{}, nil, err
	}
	restore := image.Layout
	transitionImage(cb, image, vk.ImageLayoutTransferSrcOptimal, false)
	region := vk.BufferImageCopy{
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LayerCount: 1,
		},
		ImageExtent: vk.Extent3D{Width: image.Extent.Width, Height: image.Extent.Height, Depth: 1},
	}
	vk.CmdCopyImageToBuffer(cb.Handle, image.Handle, vk.ImageLayoutTransferSrcOptimal, staging.handle, 1, []vk.BufferImageCopy{region})
	if restore != vk.ImageLayoutUndefined {
		transitionImage(cb, image, restore, false)
	}
	if err := cb.EndSingleUse(a.context, device.GraphicsCommandPool, device.GraphicsQueue, uint32(device.GraphicsQueueIndex)); err != nil {
		return vk.Extent2D{}, nil, err
	}

	data, err := staging.read(a.context)
	if err != nil {
		return vk.Extent2D{}, nil, err
	}
	texels, err := decodeTexels(image.Format, data)
	if err != nil {
		return vk.Extent2D{}, nil, err
	}
	return image.Extent, texels, nil
}

// MemoryStatistics reports the device local heaps and what is left of them
// after the images of this allocator.
func (a *ImageAllocator) MemoryStatistics() (totalKB, freeKB int) {
	a.mu.Lock()
	used := a.usedBytes
	a.mu.Unlock()

	total := a.context.DeviceLocalMemory()
	free := uint64(0)
	if total > used {
		free = total - used
	}
	return int(total / 1024), int(free / 1024)
}

func formatTexelSize(format vk.Format) (int, error) {
	switch format {
	case vk.FormatB8g8r8a8Unorm, vk.FormatB8g8r8a8Srgb, vk.FormatR8g8b8a8Unorm, vk.FormatR8g8b8a8Srgb:
		return 4, nil
	case vk.FormatR16g16b16a16Sfloat:
		return 8, nil
	case vk.FormatR32g32b32a32Sfloat:
		return 16, nil
	}
	return 0, fmt.Errorf("%w: %d", ErrUnsupportedFormat, format)
}

// decodeTexels converts tightly packed texels of format into RGBA float32.
func decodeTexels(format vk.Format, data []byte) ([]float32, error) {
	texelSize, err := formatTexelSize(format)
	if err != nil {
		return nil, err
	}
	count := len(data) / texelSize
	out := make([]float32, 0, count*4)
	for i := 0; i < count; i++ {
		t := data[i*texelSize : (i+1)*texelSize]
		switch format {
		case vk.FormatB8g8r8a8Unorm, vk.FormatB8g8r8a8Srgb:
			out = append(out, unorm8(t[2]), unorm8(t[1]), unorm8(t[0]), unorm8(t[3]))
		case vk.FormatR8g8b8a8Unorm, vk.FormatR8g8b8a8Srgb:
			out = append(out, unorm8(t[0]), unorm8(t[1]), unorm8(t[2]), unorm8(t[3]))
		case vk.FormatR16g16b16a16Sfloat:
			for c := 0; c < 4; c++ {
				out = append(out, float16.Frombits(binary.LittleEndian.Uint16(t[c*2:])).Float32())
			}
		case vk.FormatR32g32b32a32Sfloat:
			for c := 0; c < 4; c++ {
				out = append(out, math.Float32frombits(binary.LittleEndian.Uint32(t[c*4:])))
			}
		}
	}
	return out, nil
}

func unorm8(v byte) float32 {
	return float32(v) / 255
}

// hostBuffer is a host visible, coherent buffer. It backs image readback and
// the vertices of immediate draws.
type hostBuffer struct {
	handle vk.Buffer
	memory vk.DeviceMemory
	size   uint64
}

func newHostBuffer(context *VulkanContext, size uint64, usage vk.BufferUsageFlags) (*hostBuffer, error) {
	device := context.Device.LogicalDevice
	createInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       usage,
		SharingMode: vk.SharingModeExclusive,
	}
	buffer := &hostBuffer{size: size}
	var handle vk.Buffer
	if err := vkError("vkCreateBuffer", vk.CreateBuffer(device, &createInfo, context.Allocator, &handle)); err != nil {
		return nil, err
	}
	buffer.handle = handle

	var requirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(device, handle, &requirements)
	requirements.Deref()
	memoryType := context.FindMemoryIndex(requirements.MemoryTypeBits, uint32(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit))
	if memoryType == -1 {
		buffer.destroy(context)
		return nil, errors.New("host buffer: required memory type not found")
	}

	allocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  requirements.Size,
		MemoryTypeIndex: uint32(memoryType),
	}
	var memory vk.DeviceMemory
	if err := vkError("vkAllocateMemory", vk.AllocateMemory(device, &allocateInfo, context.Allocator, &memory)); err != nil {
		buffer.destroy(context)
		return nil, err
	}
	buffer.memory = memory
	if err := vkError("vkBindBufferMemory", vk.BindBufferMemory(device, handle, memory, 0)); err != nil {
		buffer.destroy(context)
		return nil, err
	}
	return buffer, nil
}

// newVertexBuffer uploads vertices into a new host buffer.
func newVertexBuffer(context *VulkanContext, vertices []float32) (*hostBuffer, error) {
	data := encodeVertices(vertices)
	buffer, err := newHostBuffer(context, uint64(len(data)), vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit))
	if err != nil {
		return nil, err
	}
	if err := buffer.write(context, data); err != nil {
		buffer.destroy(context)
		return nil, err
	}
	return buffer, nil
}

// encodeVertices lays vertices out the way a vertex buffer expects them.
func encodeVertices(vertices []float32) []byte {
	data := make([]byte, 4*len(vertices))
	for i, v := range vertices {
		binary.LittleEndian.PutUint32(data[4*i:], math.Float32bits(v))
	}
	return data
}

func (b *hostBuffer) read(context *VulkanContext) ([]byte, error) {
	var ptr unsafe.Pointer
	if err := vkError("vkMapMemory", vk.MapMemory(context.Device.LogicalDevice, b.memory, 0, vk.DeviceSize(b.size), 0, &ptr)); err != nil {
		return nil, err
	}
	defer vk.UnmapMemory(context.Device.LogicalDevice, b.memory)
	return append([]byte(nil), unsafe.Slice((*byte)(ptr), b.size)...), nil
}

func (b *hostBuffer) write(context *VulkanContext, data []byte) error {
	var ptr unsafe.Pointer
	if err := vkError("vkMapMemory", vk.MapMemory(context.Device.LogicalDevice, b.memory, 0, vk.DeviceSize(b.size), 0, &ptr)); err != nil {
		return err
	}
	defer vk.UnmapMemory(context.Device.LogicalDevice, b.memory)
	copy(unsafe.Slice((*byte)(ptr), b.size), data)
	return nil
}

func (b *hostBuffer) destroy(context *VulkanContext) {
	device := context.Device.LogicalDevice
	if b.handle != nil {
		vk.DestroyBuffer(device, b.handle, context.Allocator)
		b.handle = nil
	}
	if b.memory != nil {
		vk.FreeMemory(device, b.memory, context.Allocator)
		b.memory = nil
	}
}
