package gpu

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/spaghettifunk/anima-gpu/engine/core"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/graph"
)

type FlushFlags uint8

const (
	// Hand the graph to the device queue.
	FlushSubmit FlushFlags = 1 << iota
	// Block until the submission has completed. Requires FlushSubmit.
	FlushWaitForCompletion
	// Open a new graph right away and replay the open debug groups on it.
	FlushRenewRenderGraph
)

func (f FlushFlags) Has(flag FlushFlags) bool {
	return f&flag == flag
}

// Context records GPU work for one window or offscreen target. It is active
// on at most one thread at a time and owns the render graph being recorded.
type Context struct {
	id      uuid.UUID
	device  *Device
	surface Surface
	debug   core.DebugConfig

	active     atomic.Bool
	thread     ThreadID
	threadData *ThreadData

	renderGraph *graph.RenderGraph
	debugStack  []string

	backLeft          *Framebuffer
	frontLeft         *Framebuffer
	activeFramebuffer *Framebuffer

	surfaceTexture  *Texture
	swapchainFormat SwapchainFormat
	hasSwapchain    bool

	shader  *Shader
	discard *DiscardPool

	presentPending bool
	xrImage        []uint16

	frameClock *core.Clock
	metrics    *core.FrameMetrics

	capture       *debugCapture
	captureScopes map[uuid.UUID]*CaptureScope
}

// NewContext creates an inactive context. surface may be nil for contexts
// that never present.
func NewContext(device *Device, surface Surface, debug core.DebugConfig) *Context {
	c := &Context{
		id:            uuid.New(),
		device:        device,
		surface:       surface,
		debug:         debug,
		backLeft:      NewFramebuffer("back_left"),
		frontLeft:     NewFramebuffer("front_left"),
		discard:       NewDiscardPool(),
		frameClock:    core.NewClock(),
		metrics:       core.NewFrameMetrics(),
		captureScopes: make(map[uuid.UUID]*CaptureScope),
	}
	c.activeFramebuffer = c.backLeft
	return c
}

func (c *Context) ID() uuid.UUID {
	return c.id
}

func (c *Context) Device() *Device {
	return c.device
}

func (c *Context) IsActive() bool {
	return c.active.Load()
}

// Thread returns the thread the context is active on.
func (c *Context) Thread() ThreadID {
	return c.thread
}

func (c *Context) Metrics() *core.FrameMetrics {
	return c.metrics
}

// RenderGraph returns the graph being recorded, or nil between a flush
// without renewal and the next activation.
func (c *Context) RenderGraph() *graph.RenderGraph {
	return c.renderGraph
}

func (c *Context) resourcePool() *ResourcePool {
	core.Assert(c.threadData != nil, ErrContextInactive, "context %s has no thread data", c.id)
	return c.threadData.ResourcePoolGet()
}

// ResourcePool returns the resource pool slot the context currently records
// with.
func (c *Context) ResourcePool() *ResourcePool {
	return c.resourcePool()
}

// Activate binds the context to thread. A context can only be active on one
// thread and a thread can only have one active context.
func (c *Context) Activate(thread ThreadID) {
	core.Assert(c.active.CompareAndSwap(false, true), ErrContextActive, "context %s", c.id)
	if !c.device.bindContext(thread, c) {
		c.active.Store(false)
		core.Assert(false, ErrThreadBusy, "thread %d", thread)
	}

	c.thread = thread
	c.threadData = c.device.CurrentThreadData(thread)
	if c.renderGraph == nil {
		c.openRenderGraph()
	}
	c.SyncBackbuffer(false)
	c.resourcePool().Immediate.activate(c)
	core.LogDebug("context %s activated on thread %d", c.id, thread)
}

// Deactivate finalizes the recorded work without submitting it and releases
// the thread.
func (c *Context) Deactivate() {
	core.Assert(c.active.Load(), ErrContextInactive, "context %s", c.id)

	if c.renderGraph != nil {
		c.FlushRenderGraph(0, SubmitSync{})
	}
	c.resourcePool().Immediate.deactivate()
	c.device.unbindContext(c.thread, c)
	c.threadData = nil
	c.active.Store(false)
	core.LogDebug("context %s deactivated on thread %d", c.id, c.thread)
}

func (c *Context) BeginFrame() {
	core.Assert(c.active.Load(), ErrContextInactive, "context %s", c.id)
	c.frameClock.Start()
}

// EndFrame reclaims orphaned resources whose submissions have completed.
func (c *Context) EndFrame() {
	core.Assert(c.active.Load(), ErrContextInactive, "context %s", c.id)
	c.device.OrphanedResourcesDestroy()
	c.frameClock.Update()
	c.metrics.Update(c.frameClock.Elapsed())
	c.frameClock.Stop()
}

// Flush finalizes the recorded work without submitting it.
func (c *Context) Flush() {
	c.FlushRenderGraph(FlushRenewRenderGraph, SubmitSync{})
}

// Finish submits the recorded work and waits for the GPU to complete it.
func (c *Context) Finish() {
	c.FlushRenderGraph(FlushSubmit|FlushWaitForCompletion|FlushRenewRenderGraph, SubmitSync{})
}

// uploadDescriptorSets writes the descriptor sets recorded since the last
// upload. It runs right before a graph leaves the context.
func (c *Context) uploadDescriptorSets() {
	pool := c.resourcePool()
	if err := pool.DescriptorSets.Upload(pool.DescriptorPools); err != nil {
		core.LogFatal("context %s: %s", c.id, err)
	}
}

func (c *Context) openRenderGraph() {
	c.renderGraph = c.device.renderGraphNew()
	for _, name := range c.debugStack {
		c.renderGraph.DebugGroupBegin(name, [4]float32{})
	}
}

// FlushRenderGraph closes the recorded graph and hands it to the device.
// Without FlushSubmit the graph runs at the front of the next submission and
// the returned Submission is zero.
func (c *Context) FlushRenderGraph(flags FlushFlags, sync SubmitSync) Submission {
	core.Assert(c.renderGraph != nil, ErrNoRenderGraph, "context %s", c.id)
	core.Assert(!flags.Has(FlushWaitForCompletion) || flags.Has(FlushSubmit), ErrInvalidFlushFlags, "flags %b", flags)

	if fb := c.activeFramebuffer; fb != nil && fb.IsRendering() {
		fb.endRendering(c.renderGraph)
	}
	pool := c.resourcePool()
	c.uploadDescriptorSets()

	g := c.renderGraph
	c.renderGraph = nil
	// Every graph is balanced on its own; open groups are replayed on renewal.
	for i := g.DebugGroupDepth(); i > 0; i-- {
		g.DebugGroupEnd()
	}
	c.captureRecord(g, flags.Has(FlushSubmit))

	var sub Submission
	if flags.Has(FlushSubmit) {
		sub = Submission{
			Value:    c.device.submitRenderGraph(g, pool, c.discard, sync),
			timeline: c.device.timeline,
		}
		c.captureStamp(sub.Value)
	} else {
		c.device.queueRenderGraph(g, pool, c.discard)
	}

	if flags.Has(FlushRenewRenderGraph) {
		c.openRenderGraph()
	}
	if flags.Has(FlushWaitForCompletion) {
		if err := sub.Wait(context.Background()); err != nil {
			core.LogError("failed to wait for submission %d: %s", sub.Value, err)
		}
	}
	return sub
}

// MemoryStatistics reports device memory in kilobytes. Zeros mean the device
// cannot tell.
func (c *Context) MemoryStatistics() (totalKB, freeKB int) {
	return c.device.MemoryStatistics()
}

// TextureFree retires tex once the work recorded so far has completed.
func (c *Context) TextureFree(tex *Texture) {
	if !tex.IsValid() {
		return
	}
	c.discard.DiscardTexture(tex, 0)
}

// Close drops the graph being recorded without executing it and hands the
// remaining discarded resources to the device.
func (c *Context) Close() {
	core.Assert(!c.active.Load(), ErrContextActive, "closing active context %s", c.id)
	if c.renderGraph != nil {
		c.device.renderGraphRecycle(c.renderGraph)
		c.renderGraph = nil
	}
	if c.surfaceTexture != nil {
		c.backLeft.AttachColor(0, nil)
		c.frontLeft.AttachColor(0, nil)
		c.discard.DiscardTexture(c.surfaceTexture, 0)
		c.surfaceTexture = nil
	}
	c.device.submitMu.Lock()
	c.discard.MoveTo(c.device.orphaned, c.device.timeline.Submitted()+1)
	c.device.submitMu.Unlock()
}
