package gpu_test

import (
	"context"
	"testing"
	"time"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-gpu/engine/core"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/gpu"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/graph"
)

func TestBackbufferFollowsSwapchainResize(t *testing.T) {
	h := newHarness(t, nil)
	h.ctx.Activate(mainThread)

	old := h.ctx.SurfaceTexture()
	require.NotNil(t, old)
	assert.Equal(t, uint32(800), old.Extent.Width)
	assert.Equal(t, uint32(600), old.Extent.Height)
	oldNative := old.Native

	require.NoError(t, h.backend.Presenter.Resize(vk.Extent2D{Width: 1920, Height: 1080}))
	h.ctx.SyncBackbuffer(false)

	tex := h.ctx.SurfaceTexture()
	require.NotSame(t, old, tex)
	assert.Equal(t, uint32(1920), tex.Extent.Width)
	assert.Equal(t, uint32(1080), tex.Extent.Height)
	assert.Same(t, tex, h.ctx.BackLeft().ColorAttachment(0))
	assert.Same(t, tex, h.ctx.FrontLeft().ColorAttachment(0))
	assert.Same(t, h.ctx.BackLeft(), h.ctx.ActiveFramebuffer())
	assert.Equal(t, uint32(1080), h.ctx.BackLeft().Extent().Height)

	// The next draw renders into the new attachment.
	h.ctx.ShaderBind(testShader())
	h.ctx.Draw(3, 1, 0, 0)
	nodes := h.ctx.RenderGraph().Nodes()
	begin := nodes[len(nodes)-2].(graph.BeginRenderingNode)
	assert.Equal(t, []graph.Handle{tex.Handle}, begin.ColorAttachments)
	assert.Equal(t, uint32(1920), begin.Extent.Width)

	// The old image is released once the work recorded before the resize is done.
	assert.True(t, h.backend.Allocator.IsLive(oldNative))
	h.ctx.BeginFrame()
	h.ctx.Finish()
	h.ctx.EndFrame()
	assert.False(t, h.backend.Allocator.IsLive(oldNative))

	// Nothing changes while the geometry stays the same.
	h.ctx.SyncBackbuffer(false)
	assert.Same(t, tex, h.ctx.SurfaceTexture())
}

func TestPresentDetectsResizeAfterPresenting(t *testing.T) {
	h := newHarness(t, nil)
	h.ctx.Activate(mainThread)

	h.present(t)
	require.NoError(t, h.backend.Presenter.Resize(vk.Extent2D{Width: 1920, Height: 1080}))
	h.present(t)

	assert.Equal(t, uint32(1920), h.ctx.SurfaceTexture().Extent.Width)
	assert.Equal(t, 2, h.backend.Presenter.Presented())
}

func TestPresentBlitsBackbufferIntoSwapchainImage(t *testing.T) {
	h := newHarness(t, nil)
	h.ctx.Activate(mainThread)
	device := h.backend.Device
	tracked := device.Resources().Len()

	h.ctx.BeginFrame()
	h.ctx.Clear([4]float32{1, 0, 0, 1})
	h.present(t)
	h.ctx.EndFrame()
	require.NoError(t, device.WaitIdle(context.Background()))

	image := h.backend.Presenter.LastPresented()
	_, texels, err := h.backend.Allocator.ReadImage(image)
	require.NoError(t, err)
	for i := 0; i < len(texels); i += 4 {
		require.Equal(t, []float32{1, 0, 0, 1}, texels[i:i+4])
	}
	assert.Equal(t, vk.ImageLayoutPresentSrc, h.backend.Allocator.Layout(image))

	// The swapchain image is only tracked while the blit is recorded.
	_, ok := device.Resources().HandleOf(image)
	assert.False(t, ok)
	assert.Equal(t, tracked, device.Resources().Len())

	executed := h.backend.Executor.Executed()
	last := executed[len(executed)-1]
	var blit *graph.BlitImageNode
	var syncIndex, blitIndex int
	for i, n := range last.Nodes {
		switch node := n.(type) {
		case graph.BlitImageNode:
			blit = &node
			blitIndex = i
		case graph.SynchronizationNode:
			syncIndex = i
			assert.Equal(t, vk.ImageLayoutPresentSrc, node.ImageLayout)
		}
	}
	require.NotNil(t, blit)
	assert.Less(t, blitIndex, syncIndex)
	assert.Equal(t, vk.FilterNearest, blit.Filter)
	assert.Equal(t, int32(600), blit.Region.SrcOffsets[0].Y)
	assert.Equal(t, int32(0), blit.Region.SrcOffsets[1].Y)
	assert.Equal(t, vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit|vk.PipelineStageTransferBit), last.Sync.WaitStageMask)
	assert.Equal(t, 1, last.CountNodes(graph.NodeTypeDebugGroupBegin))
	assert.Empty(t, h.ctx.DebugGroups())
}

func TestPrePresentMustAlternateWithPostPresent(t *testing.T) {
	h := newHarness(t, nil)
	h.ctx.Activate(mainThread)

	image, err := h.backend.Allocator.CreateImage(gpu.ImageDesc{
		Name:   "external",
		Extent: vk.Extent2D{Width: 800, Height: 600},
		Format: vk.FormatB8g8r8a8Unorm,
		Layers: 1,
	})
	require.NoError(t, err)
	data := gpu.SwapchainData{
		Image:            image,
		Extent:           vk.Extent2D{Width: 800, Height: 600},
		AcquireSemaphore: vk.NullSemaphore,
		PresentSemaphore: vk.NullSemaphore,
		SubmissionFence:  vk.NullFence,
	}

	requireViolation(t, gpu.ErrPresentOrder, func() { h.ctx.SwapBuffersPost() })

	h.ctx.SwapBuffersPre(data)
	requireViolation(t, gpu.ErrPresentOrder, func() { h.ctx.SwapBuffersPre(data) })
	h.ctx.SwapBuffersPost()
	requireViolation(t, gpu.ErrPresentOrder, func() { h.ctx.SwapBuffersPost() })

	h.ctx.SwapBuffersPre(data)
	h.ctx.SwapBuffersPost()
}

func TestPrePresentNeedsAColorAttachment(t *testing.T) {
	h := newHarness(t, nil)
	h.ctx.Activate(mainThread)
	h.ctx.ActivateFramebuffer(gpu.NewFramebuffer("empty"))

	image, err := h.backend.Allocator.CreateImage(gpu.ImageDesc{
		Name:   "external",
		Extent: vk.Extent2D{Width: 800, Height: 600},
		Format: vk.FormatB8g8r8a8Unorm,
		Layers: 1,
	})
	require.NoError(t, err)
	defer h.backend.Allocator.FreeImage(image)

	requireViolation(t, gpu.ErrNoActiveFramebuffer, func() {
		h.ctx.SwapBuffersPre(gpu.SwapchainData{Image: image, Extent: vk.Extent2D{Width: 800, Height: 600}})
	})
}

func TestSwapCallbacksNeedCurrentContext(t *testing.T) {
	h := newHarness(t, nil)
	requireViolation(t, gpu.ErrContextInactive, func() {
		gpu.SwapBuffersPostCallback(h.backend.Device, mainThread)
	})
	requireViolation(t, gpu.ErrContextInactive, func() {
		h.present(t)
	})
}

func TestResourcePoolRingCyclesPerFrame(t *testing.T) {
	h := newHarness(t, func(cfg *core.Config) {
		cfg.Renderer.FramesInFlight = 2
	})
	h.ctx.Activate(mainThread)

	var slots []*gpu.ResourcePool
	for i := 0; i < 3; i++ {
		h.ctx.BeginFrame()
		slots = append(slots, h.ctx.ResourcePool())
		h.present(t)
		h.ctx.EndFrame()
	}

	assert.Same(t, slots[0], slots[2])
	assert.NotSame(t, slots[0], slots[1])
	assert.Equal(t, 0, slots[0].Index())
	assert.Equal(t, 1, slots[1].Index())
}

func TestResourcePoolReuseWaitsForGPU(t *testing.T) {
	h := newHarness(t, func(cfg *core.Config) {
		cfg.Renderer.FramesInFlight = 2
	})
	h.ctx.Activate(mainThread)
	first := h.ctx.ResourcePool()

	h.backend.Executor.Pause()
	h.present(t)
	require.NotSame(t, first, h.ctx.ResourcePool())
	assert.NotZero(t, first.LastStamp())

	done := make(chan error, 1)
	go func() {
		done <- gpu.Present(h.backend.Device, mainThread, h.backend.Presenter)
	}()

	select {
	case <-done:
		t.Fatal("resource pool slot was reused while its submission was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	assert.False(t, h.backend.Device.Timeline().IsComplete(first.LastStamp()))

	h.backend.Executor.Resume()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("present did not finish after the GPU caught up")
	}
	assert.Same(t, first, h.ctx.ResourcePool())
}
