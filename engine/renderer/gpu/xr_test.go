package gpu_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"

	"github.com/spaghettifunk/anima-gpu/engine/renderer/gpu"
)

func TestFramebufferImageAcquireRelease(t *testing.T) {
	h := newHarness(t, nil)
	h.ctx.Activate(mainThread)

	h.ctx.Clear([4]float32{1, 0.5, 0, 1})
	extent, pixels := gpu.AcquireFramebufferImageCallback(h.backend.Device, mainThread)

	assert.Equal(t, uint32(800), extent.Width)
	assert.Equal(t, uint32(600), extent.Height)
	require.Len(t, pixels, 800*600*4)
	assert.Equal(t, float16.Fromfloat32(1).Bits(), pixels[0])
	assert.Equal(t, float16.Fromfloat32(0.5).Bits(), pixels[1])
	assert.Equal(t, uint16(0), pixels[2])
	assert.Equal(t, float16.Fromfloat32(1).Bits(), pixels[3])

	requireViolation(t, gpu.ErrFramebufferImageOrder, func() { h.ctx.AcquireFramebufferImage() })

	gpu.ReleaseFramebufferImageCallback(h.backend.Device, mainThread)
	requireViolation(t, gpu.ErrFramebufferImageOrder, func() { h.ctx.ReleaseFramebufferImage() })

	_, pixels = h.ctx.AcquireFramebufferImage()
	assert.NotEmpty(t, pixels)
	h.ctx.ReleaseFramebufferImage()
}
