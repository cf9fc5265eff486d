package vulkan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-gpu/engine/core"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/gpu"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/graph"
)

var ErrNoPipeline = errors.New("node has no pipeline")

// submission is the completion of one vkQueueSubmit. Its command buffer,
// fence and vertex buffers are released the first time a wait succeeds.
type submission struct {
	executor *Executor
	cb       *VulkanCommandBuffer
	fence    *VulkanFence
	buffers  []*hostBuffer
	once     sync.Once
}

func (s *submission) Wait(ctx context.Context) error {
	if err := s.fence.FenceWaitContext(ctx, s.executor.context); err != nil {
		return err
	}
	s.once.Do(func() {
		// The command pool is only touched under the allocator lock.
		s.executor.allocator.with(func(func(graph.NativeImage) (*VulkanImage, bool)) {
			s.cb.Free(s.executor.context, s.executor.context.Device.GraphicsCommandPool)
		})
		s.fence.FenceDestroy(s.executor.context)
		for _, b := range s.buffers {
			b.destroy(s.executor.context)
		}
	})
	return nil
}

// Executor records render graphs into one primary command buffer per
// submission and submits them to the graphics queue.
type Executor struct {
	context   *VulkanContext
	allocator *ImageAllocator

	mu           sync.Mutex
	renderpasses map[string]*VulkanRenderpass
	framebuffers map[string]*VulkanFramebuffer
	submissions  uint64
}

func NewExecutor(context *VulkanContext, allocator *ImageAllocator) *Executor {
	e := &Executor{
		context:      context,
		allocator:    allocator,
		renderpasses: make(map[string]*VulkanRenderpass),
		framebuffers: make(map[string]*VulkanFramebuffer),
	}
	allocator.OnFree(e.forgetImage)
	return e
}

// Submit records graphs in order and queues them. Recording and the queue
// submission happen under the allocator lock, so the image layouts tracked
// while recording match the order the GPU executes in. The lock also guards
// the graphics command pool.
func (e *Executor) Submit(graphs []*graph.RenderGraph, resources *graph.Resources, sync gpu.SubmitSync) (gpu.Completion, error) {
	device := e.context.Device

	var (
		cb    *VulkanCommandBuffer
		fence *VulkanFence
		r     *recorder
		err   error
	)
	e.allocator.with(func(lookup func(graph.NativeImage) (*VulkanImage, bool)) {
		if cb, err = NewVulkanCommandBuffer(e.context, device.GraphicsCommandPool, true); err != nil {
			return
		}
		r = &recorder{executor: e, cb: cb, resources: resources, lookup: lookup}
		defer func() {
			if err != nil {
				cb.Free(e.context, device.GraphicsCommandPool)
				r.releaseBuffers()
			}
		}()
		if err = cb.Begin(true, false, false); err != nil {
			return
		}

		for _, g := range graphs {
			for _, n := range g.Nodes() {
				if err = r.record(n); err != nil {
					err = fmt.Errorf("%s node: %w", n.Type(), err)
					return
				}
			}
		}
		r.endRenderPass()
		if err = cb.End(); err != nil {
			return
		}
		if fence, err = NewFence(e.context, false); err != nil {
			return
		}
		if err = e.queueSubmit(cb, fence, sync); err != nil {
			fence.FenceDestroy(e.context)
		}
	})
	if err != nil {
		return nil, err
	}
	cb.UpdateSubmitted()

	e.mu.Lock()
	e.submissions++
	e.mu.Unlock()
	return &submission{executor: e, cb: cb, fence: fence, buffers: r.buffers}, nil
}

func (e *Executor) queueSubmit(cb *VulkanCommandBuffer, fence *VulkanFence, sync gpu.SubmitSync) error {
	device := e.context.Device
	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{cb.Handle},
	}
	if sync.WaitSemaphore != vk.NullSemaphore {
		submitInfo.WaitSemaphoreCount = 1
		submitInfo.PWaitSemaphores = []vk.Semaphore{sync.WaitSemaphore}
		submitInfo.PWaitDstStageMask = []vk.PipelineStageFlags{sync.WaitStageMask}
	}
	if sync.SignalSemaphore != vk.NullSemaphore {
		submitInfo.SignalSemaphoreCount = 1
		submitInfo.PSignalSemaphores = []vk.Semaphore{sync.SignalSemaphore}
	}

	return e.context.locks.SafeQueueCall(uint32(device.GraphicsQueueIndex), func() error {
		if err := vkError("vkQueueSubmit", vk.QueueSubmit(device.GraphicsQueue, 1, []vk.SubmitInfo{submitInfo}, fence.Handle)); err != nil {
			return err
		}
		// An empty submission signals the caller's fence once everything
		// queued before it has completed.
		if sync.Fence != vk.NullFence {
			return vkError("vkQueueSubmit", vk.QueueSubmit(device.GraphicsQueue, 0, nil, sync.Fence))
		}
		return nil
	})
}

// framebuffer returns a cached framebuffer over attachments, creating it and
// its render pass on first use.
func (e *Executor) framebuffer(attachments []*VulkanImage, extent vk.Extent2D) (*VulkanFramebuffer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := framebufferKey(attachments, extent)
	if fb, ok := e.framebuffers[key]; ok {
		return fb, nil
	}

	formats := make([]vk.Format, len(attachments))
	for i, a := range attachments {
		formats[i] = a.Format
	}
	rpKey := renderpassKey(formats)
	rp, ok := e.renderpasses[rpKey]
	if !ok {
		err := e.context.locks.SafeCall(RenderpassManagement, func() error {
			var err error
			rp, err = RenderpassCreate(e.context, formats)
			return err
		})
		if err != nil {
			return nil, err
		}
		e.renderpasses[rpKey] = rp
	}

	fb, err := FramebufferCreate(e.context, rp, extent, attachments)
	if err != nil {
		return nil, err
	}
	e.framebuffers[key] = fb
	return fb, nil
}

// forgetImage destroys the framebuffers that render into image. Images are
// only freed once their last submission has completed.
func (e *Executor) forgetImage(image *VulkanImage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for key, fb := range e.framebuffers {
		if fb.uses(image) {
			fb.Destroy(e.context)
			delete(e.framebuffers, key)
		}
	}
}

// Submissions returns the number of successful submissions.
func (e *Executor) Submissions() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.submissions
}

func (e *Executor) MemoryStatistics() (totalKB, freeKB int) {
	return e.allocator.MemoryStatistics()
}

// Close waits for the device to go idle and destroys the cached render
// passes and framebuffers.
func (e *Executor) Close() error {
	if err := vkError("vkDeviceWaitIdle", vk.DeviceWaitIdle(e.context.Device.LogicalDevice)); err != nil {
		core.LogError(err.Error())
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for key, fb := range e.framebuffers {
		fb.Destroy(e.context)
		delete(e.framebuffers, key)
	}
	for key, rp := range e.renderpasses {
		rp.RenderpassDestroy(e.context)
		delete(e.renderpasses, key)
	}
	return nil
}

type recorder struct {
	executor   *Executor
	cb         *VulkanCommandBuffer
	resources  *graph.Resources
	lookup     func(graph.NativeImage) (*VulkanImage, bool)
	renderpass *VulkanRenderpass
	buffers    []*hostBuffer
}

func (r *recorder) releaseBuffers() {
	for _, b := range r.buffers {
		b.destroy(r.executor.context)
	}
	r.buffers = nil
}

// bindVertices uploads the vertices an immediate draw carries and binds them
// at binding 0.
func (r *recorder) bindVertices(node graph.DrawNode) error {
	if err := node.ValidateVertices(); err != nil {
		return err
	}
	if len(node.Vertices) == 0 {
		return nil
	}
	buffer, err := newVertexBuffer(r.executor.context, node.Vertices)
	if err != nil {
		return err
	}
	r.buffers = append(r.buffers, buffer)
	vk.CmdBindVertexBuffers(r.cb.Handle, 0, 1, []vk.Buffer{buffer.handle}, []vk.DeviceSize{0})
	return nil
}

func (r *recorder) image(h graph.Handle) (*VulkanImage, error) {
	info, ok := r.resources.Lookup(h)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownImage, h)
	}
	image, ok := r.lookup(info.Native)
	if !ok {
		return nil, fmt.Errorf("%w: %s (%s)", ErrUnknownImage, h, info.Name)
	}
	return image, nil
}

func (r *recorder) endRenderPass() {
	if r.renderpass != nil {
		r.renderpass.RenderpassEnd(r.cb)
		r.renderpass = nil
	}
}

func (r *recorder) record(n graph.Node) error {
	switch node := n.(type) {
	case graph.ClearColorImageNode:
		r.endRenderPass()
		image, err := r.image(node.Image)
		if err != nil {
			return err
		}
		transitionImage(r.cb, image, vk.ImageLayoutTransferDstOptimal, false)
		var value vk.ClearColorValue
		*(*[4]float32)(unsafe.Pointer(&value)) = node.Color
		vk.CmdClearColorImage(r.cb.Handle, image.Handle, vk.ImageLayoutTransferDstOptimal, &value, 1, []vk.ImageSubresourceRange{image.subresourceRange()})

	case graph.BlitImageNode:
		r.endRenderPass()
		src, err := r.image(node.SrcImage)
		if err != nil {
			return err
		}
		dst, err := r.image(node.DstImage)
		if err != nil {
			return err
		}
		transitionImage(r.cb, src, vk.ImageLayoutTransferSrcOptimal, false)
		transitionImage(r.cb, dst, vk.ImageLayoutTransferDstOptimal, false)
		vk.CmdBlitImage(r.cb.Handle,
			src.Handle, vk.ImageLayoutTransferSrcOptimal,
			dst.Handle, vk.ImageLayoutTransferDstOptimal,
			1, []vk.ImageBlit{node.Region}, node.Filter)

	case graph.SynchronizationNode:
		r.endRenderPass()
		image, err := r.image(node.Image)
		if err != nil {
			return err
		}
		transitionImage(r.cb, image, node.ImageLayout, true)

	case graph.BeginRenderingNode:
		r.endRenderPass()
		attachments := make([]*VulkanImage, 0, len(node.ColorAttachments))
		for _, h := range node.ColorAttachments {
			image, err := r.image(h)
			if err != nil {
				return err
			}
			transitionImage(r.cb, image, vk.ImageLayoutColorAttachmentOptimal, false)
			attachments = append(attachments, image)
		}
		fb, err := r.executor.framebuffer(attachments, node.Extent)
		if err != nil {
			return err
		}
		fb.Renderpass.RenderpassBegin(r.cb, fb, node.Extent)
		r.renderpass = fb.Renderpass

	case graph.EndRenderingNode:
		r.endRenderPass()

	case graph.DrawNode:
		if err := r.bindPipeline(node.Pipeline); err != nil {
			return err
		}
		if err := r.bindVertices(node); err != nil {
			return err
		}
		vk.CmdDraw(r.cb.Handle, node.VertexCount, node.InstanceCount, node.FirstVertex, node.FirstInstance)

	case graph.DispatchNode:
		r.endRenderPass()
		// Storage access from compute shaders happens in the general layout.
		for _, handles := range [][]graph.Handle{node.Pipeline.Access.Reads, node.Pipeline.Access.Writes} {
			for _, h := range handles {
				if image, err := r.image(h); err == nil {
					transitionImage(r.cb, image, vk.ImageLayoutGeneral, false)
				}
			}
		}
		if err := r.bindPipeline(node.Pipeline); err != nil {
			return err
		}
		vk.CmdDispatch(r.cb.Handle, node.GroupCountX, node.GroupCountY, node.GroupCountZ)

	case graph.DebugGroupBeginNode, graph.DebugGroupEndNode:
		// Labels need VK_EXT_debug_utils, which the instance does not enable.
	}
	return nil
}

func (r *recorder) bindPipeline(pd graph.PipelineData) error {
	if pd.Pipeline == nil {
		return fmt.Errorf("%w: %s", ErrNoPipeline, pd.Name)
	}
	vk.CmdBindPipeline(r.cb.Handle, pd.BindPoint, pd.Pipeline)
	if pd.DescriptorSet.Set != nil {
		vk.CmdBindDescriptorSets(r.cb.Handle, pd.BindPoint, pd.PipelineLayout, 0, 1, []vk.DescriptorSet{pd.DescriptorSet.Set}, 0, nil)
	}
	if len(pd.PushConstants) > 0 {
		vk.CmdPushConstants(r.cb.Handle, pd.PipelineLayout, vk.ShaderStageFlags(vk.ShaderStageAll), 0, uint32(len(pd.PushConstants)), unsafe.Pointer(&pd.PushConstants[0]))
	}
	return nil
}

var _ gpu.Executor = (*Executor)(nil)
var _ gpu.MemoryReporter = (*Executor)(nil)
var _ gpu.ImageAllocator = (*ImageAllocator)(nil)
