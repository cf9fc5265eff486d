package software

import (
	"errors"
	"fmt"
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-gpu/engine/renderer/gpu"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/graph"
)

var (
	ErrUnknownImage = errors.New("unknown image")
	ErrEmptyImage   = errors.New("image has no texels")

	ErrDescriptorSetNotWritten = errors.New("descriptor set was never written")
)

// Image is an RGBA float32 image kept in host memory, whatever its declared
// format.
type Image struct {
	Desc   gpu.ImageDesc
	Layout vk.ImageLayout
	texels []float32
}

func (img *Image) texel(x, y int) []float32 {
	i := (y*int(img.Desc.Extent.Width) + x) * 4
	return img.texels[i : i+4]
}

// Allocator owns the images of the software backend.
type Allocator struct {
	mu       sync.Mutex
	images   map[graph.NativeImage]*Image
	next     graph.NativeImage
	used     int
	budgetKB int
}

// NewAllocator creates an allocator that reports budgetKB of device memory.
func NewAllocator(budgetKB int) *Allocator {
	return &Allocator{
		images:   make(map[graph.NativeImage]*Image),
		budgetKB: budgetKB,
	}
}

func (a *Allocator) CreateImage(desc gpu.ImageDesc) (graph.NativeImage, error) {
	if desc.Extent.Width == 0 || desc.Extent.Height == 0 {
		return 0, fmt.Errorf("image %s: %w", desc.Name, ErrEmptyImage)
	}
	if desc.Layers == 0 {
		desc.Layers = 1
	}
	n := int(desc.Extent.Width) * int(desc.Extent.Height) * int(desc.Layers) * 4

	a.mu.Lock()
	defer a.mu.Unlock()
	a.next++
	a.images[a.next] = &Image{
		Desc:   desc,
		Layout: vk.ImageLayoutUndefined,
		texels: make([]float32, n),
	}
	a.used += n * 4
	return a.next, nil
}

// FreeImage releases an image. Unknown images are ignored.
func (a *Allocator) FreeImage(native graph.NativeImage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	img, ok := a.images[native]
	if !ok {
		return
	}
	a.used -= len(img.texels) * 4
	delete(a.images, native)
}

func (a *Allocator) ReadImage(native graph.NativeImage) (vk.Extent2D, []float32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	img, ok := a.images[native]
	if !ok {
		return vk.Extent2D{}, nil, fmt.Errorf("image %d: %w", native, ErrUnknownImage)
	}
	n := int(img.Desc.Extent.Width) * int(img.Desc.Extent.Height) * 4
	return img.Desc.Extent, append([]float32(nil), img.texels[:n]...), nil
}

// WriteImage replaces the first layer of an image with texels.
func (a *Allocator) WriteImage(native graph.NativeImage, texels []float32) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	img, ok := a.images[native]
	if !ok {
		return fmt.Errorf("image %d: %w", native, ErrUnknownImage)
	}
	copy(img.texels, texels)
	return nil
}

// IsLive reports whether native has been created and not freed yet.
func (a *Allocator) IsLive(native graph.NativeImage) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.images[native]
	return ok
}

// Layout returns the layout the last synchronization left the image in.
func (a *Allocator) Layout(native graph.NativeImage) vk.ImageLayout {
	a.mu.Lock()
	defer a.mu.Unlock()
	if img, ok := a.images[native]; ok {
		return img.Layout
	}
	return vk.ImageLayoutUndefined
}

func (a *Allocator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.images)
}

// MemoryStatistics reports the budget and what is left of it.
func (a *Allocator) MemoryStatistics() (totalKB, freeKB int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	free := a.budgetKB - a.used/1024
	if free < 0 {
		free = 0
	}
	return a.budgetKB, free
}

// with runs fn with the image locked. fn is not called for unknown images.
func (a *Allocator) with(native graph.NativeImage, fn func(img *Image)) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	img, ok := a.images[native]
	if !ok {
		return false
	}
	fn(img)
	return true
}

// with2 runs fn with two images locked.
func (a *Allocator) with2(src, dst graph.NativeImage, fn func(src, dst *Image)) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.images[src]
	if !ok {
		return false
	}
	d, ok := a.images[dst]
	if !ok {
		return false
	}
	fn(s, d)
	return true
}
