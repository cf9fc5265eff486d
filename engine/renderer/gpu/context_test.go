package gpu_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-gpu/engine/core"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/gpu"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/graph"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/software"
)

func TestSubmissionsAreStampedInOrder(t *testing.T) {
	h := newHarness(t, nil)
	h.ctx.Activate(mainThread)

	var prev uint64
	for i := 0; i < 5; i++ {
		sub := h.ctx.FlushRenderGraph(gpu.FlushSubmit|gpu.FlushRenewRenderGraph, gpu.SubmitSync{})
		require.True(t, sub.Submitted())
		assert.Greater(t, sub.Value, prev)
		prev = sub.Value
	}

	require.NoError(t, h.backend.Device.WaitIdle(context.Background()))
	assert.Equal(t, prev, h.backend.Device.Timeline().Completed())
}

func TestActivateTwiceIsRejected(t *testing.T) {
	h := newHarness(t, nil)
	h.ctx.Activate(mainThread)

	requireViolation(t, gpu.ErrContextActive, func() { h.ctx.Activate(2) })
	requireViolation(t, gpu.ErrContextActive, func() { h.ctx.Activate(mainThread) })
	assert.Equal(t, mainThread, h.ctx.Thread())
}

func TestConcurrentActivationHasOneWinner(t *testing.T) {
	h := newHarness(t, nil)

	var wins, rejections atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(thread gpu.ThreadID) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					rejections.Add(1)
				}
			}()
			h.ctx.Activate(thread)
			wins.Add(1)
		}(gpu.ThreadID(i + 1))
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(7), rejections.Load())
	assert.True(t, h.ctx.IsActive())
}

func TestThreadHoldsOneContext(t *testing.T) {
	h := newHarness(t, nil)
	h.ctx.Activate(mainThread)

	other := gpu.NewContext(h.backend.Device, nil, h.cfg.Debug)
	defer other.Close()
	requireViolation(t, gpu.ErrThreadBusy, func() { other.Activate(mainThread) })
	assert.False(t, other.IsActive())
	assert.Same(t, h.ctx, h.backend.Device.CurrentContext(mainThread))
}

func TestDeactivateRequiresActivate(t *testing.T) {
	h := newHarness(t, nil)
	requireViolation(t, gpu.ErrContextInactive, func() { h.ctx.Deactivate() })

	h.ctx.Activate(mainThread)
	h.ctx.Deactivate()
	assert.False(t, h.ctx.IsActive())
	assert.Nil(t, h.ctx.RenderGraph())
	assert.Nil(t, h.backend.Device.CurrentContext(mainThread))
}

func TestFlushContract(t *testing.T) {
	h := newHarness(t, nil)
	h.ctx.Activate(mainThread)

	requireViolation(t, gpu.ErrInvalidFlushFlags, func() {
		h.ctx.FlushRenderGraph(gpu.FlushWaitForCompletion, gpu.SubmitSync{})
	})

	sub := h.ctx.FlushRenderGraph(0, gpu.SubmitSync{})
	assert.False(t, sub.Submitted())
	assert.Nil(t, h.ctx.RenderGraph())
	requireViolation(t, gpu.ErrNoRenderGraph, func() { h.ctx.Flush() })
}

func TestUnsubmittedGraphHasNoSideEffects(t *testing.T) {
	h := newHarness(t, nil)
	h.ctx.Activate(mainThread)
	surface := h.ctx.SurfaceTexture()

	h.ctx.Clear([4]float32{1, 0, 0, 1})
	h.ctx.Flush()
	h.ctx.Clear([4]float32{0, 1, 0, 1})
	h.ctx.Flush()

	assert.Equal(t, 0, h.backend.Executor.Submissions())
	_, texels, err := h.backend.Allocator.ReadImage(surface.Native)
	require.NoError(t, err)
	for _, v := range texels {
		require.Zero(t, v)
	}

	// Tearing the device down abandons the queued graphs.
	h.ctx.Deactivate()
	require.NoError(t, h.backend.Device.Close())
	assert.Equal(t, 0, h.backend.Executor.Submissions())
	assert.Empty(t, h.backend.Executor.Executed())
}

func TestQueuedGraphsRunBeforeTheSubmittedOne(t *testing.T) {
	h := newHarness(t, nil)
	h.ctx.Activate(mainThread)

	h.ctx.Clear([4]float32{1, 0, 0, 1})
	h.ctx.Flush()
	h.ctx.DebugGroupBegin("last", 0)
	h.ctx.DebugGroupEnd()
	h.ctx.Finish()

	executed := h.backend.Executor.Executed()
	require.Len(t, executed, 2)
	assert.Equal(t, executed[0].Submission, executed[1].Submission)
	assert.Equal(t, 1, executed[0].CountNodes(graph.NodeTypeClearColorImage))
	assert.Equal(t, 0, executed[1].CountNodes(graph.NodeTypeClearColorImage))
	assert.Equal(t, 1, executed[1].CountNodes(graph.NodeTypeDebugGroupBegin))
}

func TestDebugGroupSurvivesRenewal(t *testing.T) {
	h := newHarness(t, nil)
	h.ctx.Activate(mainThread)

	h.ctx.DebugGroupBegin("outer", 0)
	h.ctx.DebugGroupBegin("inner", 1)
	h.ctx.FlushRenderGraph(gpu.FlushSubmit|gpu.FlushRenewRenderGraph, gpu.SubmitSync{})

	assert.Equal(t, []string{"outer", "inner"}, h.ctx.DebugGroups())
	assert.Equal(t, 2, h.ctx.RenderGraph().DebugGroupDepth())

	h.ctx.DebugGroupEnd()
	assert.Equal(t, []string{"outer"}, h.ctx.DebugGroups())
	assert.Equal(t, 1, h.ctx.RenderGraph().DebugGroupDepth())

	h.ctx.DebugGroupEnd()
	assert.Empty(t, h.ctx.DebugGroups())
	requireViolation(t, gpu.ErrDebugGroupUnbalanced, func() { h.ctx.DebugGroupEnd() })

	h.ctx.Finish()
	for _, e := range h.backend.Executor.Executed() {
		assert.Equal(t, e.CountNodes(graph.NodeTypeDebugGroupBegin), e.CountNodes(graph.NodeTypeDebugGroupEnd))
	}
}

func TestActivatingFramebufferEndsRenderingOfPrevious(t *testing.T) {
	h := newHarness(t, nil)
	h.ctx.Activate(mainThread)
	h.ctx.ShaderBind(testShader())

	target, err := h.backend.Device.TextureCreate2D("target", vk.Extent2D{Width: 64, Height: 64}, vk.FormatB8g8r8a8Unorm, vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit))
	require.NoError(t, err)
	offscreen := gpu.NewFramebuffer("offscreen")
	offscreen.AttachColor(0, target)

	a := h.ctx.ActiveFramebuffer()
	require.Same(t, h.ctx.BackLeft(), a)
	h.ctx.Draw(3, 1, 0, 0)
	require.True(t, a.IsRendering())

	h.ctx.ActivateFramebuffer(offscreen)
	assert.False(t, a.IsRendering())
	nodes := h.ctx.RenderGraph().Nodes()
	last := nodes[len(nodes)-1]
	require.Equal(t, graph.NodeTypeEndRendering, last.Type())
	assert.Equal(t, "back_left", last.(graph.EndRenderingNode).Framebuffer)

	h.ctx.Draw(3, 1, 0, 0)
	nodes = h.ctx.RenderGraph().Nodes()
	begin := nodes[len(nodes)-2]
	require.Equal(t, graph.NodeTypeBeginRendering, begin.Type())
	assert.Equal(t, "offscreen", begin.(graph.BeginRenderingNode).Framebuffer)
	assert.Equal(t, uint32(64), offscreen.Extent().Width)

	h.ctx.DeactivateFramebuffer()
	requireViolation(t, gpu.ErrNoActiveFramebuffer, func() { h.ctx.DeactivateFramebuffer() })
	h.ctx.TextureFree(target)
}

func TestPipelineDataIsSnapshotByValue(t *testing.T) {
	h := newHarness(t, nil)
	h.ctx.Activate(mainThread)

	shader := testShader()
	h.ctx.ShaderBind(shader)
	shader.SetConstants([]byte{1, 2, 3, 4})
	h.ctx.BindTexture(0, graph.BindingTypeSampledImage, h.ctx.SurfaceTexture())
	h.ctx.Draw(3, 1, 0, 0)

	other, err := h.backend.Device.TextureCreate2D("other", vk.Extent2D{Width: 4, Height: 4}, vk.FormatB8g8r8a8Unorm, vk.ImageUsageFlags(vk.ImageUsageSampledBit))
	require.NoError(t, err)
	defer h.ctx.TextureFree(other)
	shader.SetConstants([]byte{9, 9, 9, 9})
	h.ctx.BindTexture(0, graph.BindingTypeSampledImage, other)

	nodes := h.ctx.RenderGraph().Nodes()
	draw := nodes[len(nodes)-1].(graph.DrawNode)
	assert.Equal(t, []byte{1, 2, 3, 4}, draw.Pipeline.PushConstants)
	require.Len(t, draw.Pipeline.DescriptorSet.Bindings, 1)
	assert.Equal(t, h.ctx.SurfaceTexture().Handle, draw.Pipeline.DescriptorSet.Bindings[0].Resource)
	assert.Contains(t, draw.Pipeline.Access.Writes, h.ctx.SurfaceTexture().Handle)

	h.ctx.Flush()
	assert.Equal(t, 1, h.ctx.ResourcePool().DescriptorSets.Uploads())
}

func TestBindTextureRejectsUntrackedTextures(t *testing.T) {
	h := newHarness(t, nil)
	h.ctx.Activate(mainThread)
	h.ctx.ShaderBind(testShader())

	requireViolation(t, gpu.ErrUnknownTexture, func() {
		h.ctx.BindTexture(0, graph.BindingTypeSampledImage, &gpu.Texture{Handle: 99})
	})
	requireViolation(t, gpu.ErrUnknownTexture, func() {
		h.ctx.BindTexture(0, graph.BindingTypeSampledImage, nil)
	})
}

func TestDescriptorSetsAreWrittenBeforeExecution(t *testing.T) {
	h := newHarness(t, nil)
	h.ctx.Activate(mainThread)
	h.ctx.ShaderBind(testShader())
	h.ctx.BindTexture(0, graph.BindingTypeSampledImage, h.ctx.SurfaceTexture())

	h.ctx.Draw(3, 1, 0, 0)
	h.ctx.Draw(3, 1, 0, 0)
	h.ctx.Dispatch(1, 1, 1)
	assert.Equal(t, 3, h.ctx.ResourcePool().DescriptorSets.Pending())

	h.ctx.Finish()
	assert.Zero(t, h.ctx.ResourcePool().DescriptorSets.Pending())
	assert.Equal(t, 1, h.backend.Descriptors.Writes())
	assert.Empty(t, h.backend.Executor.Faults())

	executed := h.backend.Executor.Executed()
	last := executed[len(executed)-1]
	assert.Equal(t, 2, last.CountNodes(graph.NodeTypeDraw))
	assert.Equal(t, 1, last.CountNodes(graph.NodeTypeDispatch))
}

func TestDescriptorPoolsGrowWithinOneFrame(t *testing.T) {
	h := newHarness(t, nil)
	h.ctx.Activate(mainThread)
	h.ctx.ShaderBind(testShader())
	h.ctx.BindTexture(0, graph.BindingTypeSampledImage, h.ctx.SurfaceTexture())

	for i := 0; i < 300; i++ {
		h.ctx.Draw(3, 1, 0, 0)
	}
	pools := h.ctx.ResourcePool().DescriptorPools
	assert.Equal(t, 300, pools.Allocated())
	assert.Equal(t, 2, pools.Pools())

	h.ctx.Finish()
	assert.Empty(t, h.backend.Executor.Faults())
}

func TestPushConstantsStayInBufferWhenNotPushed(t *testing.T) {
	h := newHarness(t, nil)
	h.ctx.Activate(mainThread)

	shader := &gpu.Shader{Name: "ubo"}
	shader.SetConstants([]byte{1})
	h.ctx.ShaderBind(shader)
	h.ctx.Dispatch(1, 1, 1)

	nodes := h.ctx.RenderGraph().Nodes()
	dispatch := nodes[len(nodes)-1].(graph.DispatchNode)
	assert.Nil(t, dispatch.Pipeline.PushConstants)
	assert.True(t, dispatch.Pipeline.DescriptorSet.IsEmpty())
}

func TestDrawRequiresShader(t *testing.T) {
	h := newHarness(t, nil)
	h.ctx.Activate(mainThread)
	requireViolation(t, gpu.ErrNoShaderBound, func() { h.ctx.Draw(3, 1, 0, 0) })
}

func TestImmediateDrawRecordsIntoContext(t *testing.T) {
	h := newHarness(t, nil)
	h.ctx.Activate(mainThread)
	h.ctx.ShaderBind(testShader())

	im := h.ctx.Immediate()
	require.True(t, im.IsActive())
	triangle := []float32{
		0, 0, 0, 1,
		1, 0, 0, 1,
		0, 1, 0, 1,
	}
	im.Draw(triangle, 3)
	line := []float32{2, 2, 0, 1, 3, 3, 0, 1}
	im.Draw(line, 2)
	line[0] = 42
	assert.Equal(t, 5, im.Drawn())

	nodes := h.ctx.RenderGraph().Nodes()
	draw := nodes[len(nodes)-1].(graph.DrawNode)
	assert.Equal(t, uint32(2), draw.VertexCount)
	assert.Equal(t, uint32(4), draw.VertexStride)
	assert.Equal(t, []float32{2, 2, 0, 1, 3, 3, 0, 1}, draw.Vertices)

	h.ctx.Finish()
	assert.Empty(t, h.backend.Executor.Faults())
	assert.Equal(t, 5, h.backend.Executor.VerticesDrawn())

	executed := h.backend.Executor.Executed()
	var draws []graph.DrawNode
	for _, n := range executed[len(executed)-1].Nodes {
		if d, ok := n.(graph.DrawNode); ok {
			draws = append(draws, d)
		}
	}
	require.Len(t, draws, 2)
	assert.Equal(t, triangle, draws[0].Vertices)
	assert.Equal(t, []float32{2, 2, 0, 1, 3, 3, 0, 1}, draws[1].Vertices)

	h.ctx.Deactivate()
	assert.False(t, im.IsActive())
}

func TestDiscardedTextureOutlivesItsSubmission(t *testing.T) {
	h := newHarness(t, nil)
	h.ctx.Activate(mainThread)
	device := h.backend.Device

	tex, err := device.TextureCreate2D("transient", vk.Extent2D{Width: 4, Height: 4}, vk.FormatB8g8r8a8Unorm, vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit))
	require.NoError(t, err)
	native := tex.Native

	h.backend.Executor.Pause()
	h.ctx.TextureFree(tex)
	sub := h.ctx.FlushRenderGraph(gpu.FlushSubmit|gpu.FlushRenewRenderGraph, gpu.SubmitSync{})

	h.ctx.BeginFrame()
	h.ctx.EndFrame()
	assert.True(t, h.backend.Allocator.IsLive(native))
	assert.False(t, sub.Done())
	assert.Equal(t, 1, device.OrphanedResources())

	h.backend.Executor.Resume()
	require.NoError(t, sub.Wait(context.Background()))
	h.ctx.BeginFrame()
	h.ctx.EndFrame()
	assert.False(t, h.backend.Allocator.IsLive(native))
	_, ok := device.Resources().HandleOf(native)
	assert.False(t, ok)
	assert.Equal(t, 0, device.OrphanedResources())
}

func TestTextureFreedWithoutContextWaitsForNextSubmission(t *testing.T) {
	h := newHarness(t, nil)
	device := h.backend.Device

	tex, err := device.TextureCreate2D("orphan", vk.Extent2D{Width: 4, Height: 4}, vk.FormatB8g8r8a8Unorm, vk.ImageUsageFlags(vk.ImageUsageSampledBit))
	require.NoError(t, err)
	device.TextureFree(tex)

	assert.Equal(t, 0, device.OrphanedResourcesDestroy())
	assert.True(t, h.backend.Allocator.IsLive(tex.Native))

	h.ctx.Activate(mainThread)
	h.ctx.Finish()
	assert.Equal(t, 1, device.OrphanedResourcesDestroy())
	assert.False(t, tex.IsValid())
}

func TestMemoryStatistics(t *testing.T) {
	h := newHarness(t, nil)
	h.ctx.Activate(mainThread)

	total, free := h.ctx.MemoryStatistics()
	assert.Greater(t, total, 0)
	assert.Less(t, free, total)
}

type opaqueExecutor struct {
	inner *software.Executor
}

func (e opaqueExecutor) Submit(graphs []*graph.RenderGraph, resources *graph.Resources, sync gpu.SubmitSync) (gpu.Completion, error) {
	return e.inner.Submit(graphs, resources, sync)
}

func (e opaqueExecutor) Close() error {
	return e.inner.Close()
}

func TestMemoryStatisticsWithoutReporterAreZero(t *testing.T) {
	allocator := software.NewAllocator(1024)
	device, err := gpu.NewDevice(core.DefaultConfig().Renderer, opaqueExecutor{software.NewExecutor(allocator, nil, 4)}, allocator, nil)
	require.NoError(t, err)
	defer device.Close()

	ctx := gpu.NewContext(device, nil, core.DebugConfig{})
	total, free := ctx.MemoryStatistics()
	assert.Zero(t, total)
	assert.Zero(t, free)
}

func TestNewDeviceRequiresCollaborators(t *testing.T) {
	_, err := gpu.NewDevice(core.DefaultConfig().Renderer, nil, software.NewAllocator(1), nil)
	assert.ErrorIs(t, err, gpu.ErrNoExecutor)
}
