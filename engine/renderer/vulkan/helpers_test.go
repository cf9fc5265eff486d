package vulkan

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"

	"github.com/spaghettifunk/anima-gpu/engine/renderer/graph"
)

func TestDecodeTexelsSwizzlesBGRA(t *testing.T) {
	texels, err := decodeTexels(vk.FormatB8g8r8a8Unorm, []byte{0, 51, 255, 255})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{1, 0.2, 0, 1}, texels, 1e-6)
}

func TestDecodeTexelsHalfFloat(t *testing.T) {
	data := make([]byte, 8)
	for i, v := range []float32{0.5, 1, 0.25, 1} {
		binary.LittleEndian.PutUint16(data[i*2:], float16.Fromfloat32(v).Bits())
	}
	texels, err := decodeTexels(vk.FormatR16g16b16a16Sfloat, data)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 1, 0.25, 1}, texels)
}

func TestDecodeTexelsFloat(t *testing.T) {
	data := make([]byte, 32)
	for i, v := range []float32{1, 2, 3, 4, 5, 6, 7, 8} {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	texels, err := decodeTexels(vk.FormatR32g32b32a32Sfloat, data)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6, 7, 8}, texels)
}

func TestDecodeTexelsUnsupportedFormat(t *testing.T) {
	_, err := decodeTexels(vk.FormatD32Sfloat, make([]byte, 4))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestFramebufferKeyDependsOnImagesAndExtent(t *testing.T) {
	a, b := &VulkanImage{Name: "a"}, &VulkanImage{Name: "b"}
	extent := vk.Extent2D{Width: 800, Height: 600}

	assert.Equal(t, framebufferKey([]*VulkanImage{a, b}, extent), framebufferKey([]*VulkanImage{a, b}, extent))
	assert.NotEqual(t, framebufferKey([]*VulkanImage{a, b}, extent), framebufferKey([]*VulkanImage{b, a}, extent))
	assert.NotEqual(t, framebufferKey([]*VulkanImage{a}, extent), framebufferKey([]*VulkanImage{a}, vk.Extent2D{Width: 1920, Height: 1080}))

	fb := &VulkanFramebuffer{Attachments: []*VulkanImage{a}}
	assert.True(t, fb.uses(a))
	assert.False(t, fb.uses(b))
}

func TestRenderpassKeyDependsOnFormats(t *testing.T) {
	rgba := renderpassKey([]vk.Format{vk.FormatR8g8b8a8Unorm})
	assert.Equal(t, rgba, renderpassKey([]vk.Format{vk.FormatR8g8b8a8Unorm}))
	assert.NotEqual(t, rgba, renderpassKey([]vk.Format{vk.FormatB8g8r8a8Unorm}))
	assert.NotEqual(t, rgba, renderpassKey([]vk.Format{vk.FormatR8g8b8a8Unorm, vk.FormatR8g8b8a8Unorm}))
}

func TestBindingSignature(t *testing.T) {
	sampled := []graph.Binding{{Location: 0, Type: graph.BindingTypeSampledImage, Resource: 7}}
	storage := []graph.Binding{{Location: 0, Type: graph.BindingTypeStorageImage, Resource: 7}}
	other := []graph.Binding{{Location: 0, Type: graph.BindingTypeSampledImage, Resource: 9}}

	assert.NotEqual(t, bindingSignature(sampled), bindingSignature(storage))
	// Layouts do not depend on the bound resource.
	assert.Equal(t, bindingSignature(sampled), bindingSignature(other))
}

func TestChooseSurfaceFormatAndPresentMode(t *testing.T) {
	preferred := vk.SurfaceFormat{Format: vk.FormatB8g8r8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear}
	fallback := vk.SurfaceFormat{Format: vk.FormatR8g8b8a8Srgb, ColorSpace: vk.ColorSpaceSrgbNonlinear}

	assert.Equal(t, preferred, chooseSurfaceFormat([]vk.SurfaceFormat{fallback, preferred}))
	assert.Equal(t, fallback, chooseSurfaceFormat([]vk.SurfaceFormat{fallback}))

	assert.Equal(t, vk.PresentModeMailbox, choosePresentMode([]vk.PresentMode{vk.PresentModeFifo, vk.PresentModeMailbox}))
	assert.Equal(t, vk.PresentModeFifo, choosePresentMode([]vk.PresentMode{vk.PresentModeImmediate}))
}

func TestChooseExtent(t *testing.T) {
	capabilities := vk.SurfaceCapabilities{
		CurrentExtent:  vk.Extent2D{Width: math.MaxUint32, Height: math.MaxUint32},
		MinImageExtent: vk.Extent2D{Width: 1, Height: 1},
		MaxImageExtent: vk.Extent2D{Width: 1024, Height: 1024},
	}
	assert.Equal(t, vk.Extent2D{Width: 1024, Height: 600}, chooseExtent(capabilities, vk.Extent2D{Width: 1920, Height: 600}))

	capabilities.CurrentExtent = vk.Extent2D{Width: 800, Height: 600}
	assert.Equal(t, vk.Extent2D{Width: 800, Height: 600}, chooseExtent(capabilities, vk.Extent2D{Width: 1920, Height: 1080}))
}

func TestFinishPresentAlwaysRunsPost(t *testing.T) {
	p := &Presenter{}
	posts := 0
	post := func() { posts++ }

	queueErr := errors.New("queue lost")
	err := p.finishPresent(post, func() (vk.Result, error) { return vk.Success, queueErr })
	assert.ErrorIs(t, err, queueErr)
	assert.Equal(t, 1, posts)
	assert.Equal(t, 1, p.frame)

	err = p.finishPresent(post, func() (vk.Result, error) { return vk.ErrorDeviceLost, nil })
	assert.ErrorContains(t, err, "VK_ERROR_DEVICE_LOST")
	assert.Equal(t, 2, posts)
	assert.Equal(t, 0, p.frame)

	require.NoError(t, p.finishPresent(post, func() (vk.Result, error) { return vk.Success, nil }))
	assert.Equal(t, 3, posts)
}

func TestEncodeVertices(t *testing.T) {
	data := encodeVertices([]float32{1, -0.5})
	require.Len(t, data, 8)
	assert.Equal(t, float32(1), math.Float32frombits(binary.LittleEndian.Uint32(data[0:])))
	assert.Equal(t, float32(-0.5), math.Float32frombits(binary.LittleEndian.Uint32(data[4:])))
}

func TestDescriptorWritesCoverImageBindings(t *testing.T) {
	var setStorage, viewStorage byte
	set := vk.DescriptorSet(unsafe.Pointer(&setStorage))
	view := vk.ImageView(unsafe.Pointer(&viewStorage))
	views := map[graph.Handle]vk.ImageView{5: view}
	lookup := func(h graph.Handle) (vk.ImageView, bool) {
		v, ok := views[h]
		return v, ok
	}

	writes := descriptorWrites([]graph.DescriptorSetSnapshot{
		{ID: 1, Bindings: []graph.Binding{{Location: 0, Type: graph.BindingTypeSampledImage, Resource: 5}}},
		{ID: 2, Set: set, Bindings: []graph.Binding{
			{Location: 0, Type: graph.BindingTypeSampledImage, Resource: 5},
			{Location: 1, Type: graph.BindingTypeUniformBuffer, Resource: 6},
			{Location: 2, Type: graph.BindingTypeStorageImage, Resource: 7},
		}},
	}, lookup)

	require.Len(t, writes, 1)
	assert.Equal(t, set, writes[0].DstSet)
	assert.Equal(t, uint32(0), writes[0].DstBinding)
	assert.Equal(t, vk.DescriptorTypeSampledImage, writes[0].DescriptorType)
	assert.Equal(t, view, writes[0].PImageInfo[0].ImageView)
}
