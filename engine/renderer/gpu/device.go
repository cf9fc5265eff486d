package gpu

import (
	"context"
	"fmt"
	"sync"

	vk "github.com/goki/vulkan"
	"golang.org/x/sync/errgroup"

	"github.com/spaghettifunk/anima-gpu/engine/core"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/graph"
)

type pendingGraph struct {
	graph *graph.RenderGraph
	pool  *ResourcePool
}

type inflightSubmission struct {
	value      uint64
	completion Completion
}

// Device owns the queue, the timeline and the orphaned resource pool. It is
// the only place render graphs are submitted from and it keeps the per thread
// registry contexts look themselves up in.
type Device struct {
	framesInFlight int

	executor    Executor
	allocator   ImageAllocator
	descriptors DescriptorAllocator
	resources   *graph.Resources
	timeline    *Timeline

	// submitMu serializes the queue, the timeline reservations and the
	// orphaned pool so stamps enter the pool in order.
	submitMu sync.Mutex
	pending  []pendingGraph
	inflight chan inflightSubmission
	orphaned *DiscardPool
	closed   bool

	registryMu sync.Mutex
	threads    map[ThreadID]*ThreadData
	current    map[ThreadID]*Context

	graphsMu     sync.Mutex
	unusedGraphs []*graph.RenderGraph

	retire *errgroup.Group
}

func NewDevice(cfg core.RendererConfig, executor Executor, allocator ImageAllocator, descriptors DescriptorAllocator) (*Device, error) {
	if executor == nil {
		return nil, ErrNoExecutor
	}
	if allocator == nil {
		return nil, ErrNoAllocator
	}
	framesInFlight := core.Clamp(cfg.FramesInFlight, 1, 16)
	maxInFlight := core.Clamp(cfg.MaxSubmissionsInFlight, 1, 1024)

	d := &Device{
		framesInFlight: framesInFlight,
		executor:       executor,
		allocator:      allocator,
		descriptors:    descriptors,
		resources:      graph.NewResources(),
		timeline:       NewTimeline(),
		inflight:       make(chan inflightSubmission, maxInFlight),
		orphaned:       NewDiscardPool(),
		threads:        make(map[ThreadID]*ThreadData),
		current:        make(map[ThreadID]*Context),
	}

	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error {
		return d.retireSubmissions(ctx)
	})
	d.retire = g

	core.LogInfo("device created (frames in flight: %d, max submissions in flight: %d)", framesInFlight, maxInFlight)
	return d, nil
}

// retireSubmissions advances the timeline as submissions complete, in
// submission order.
func (d *Device) retireSubmissions(ctx context.Context) error {
	for sub := range d.inflight {
		if err := sub.completion.Wait(ctx); err != nil {
			core.LogFatal("submission %d failed: %s", sub.value, err)
			return fmt.Errorf("submission %d failed: %w", sub.value, err)
		}
		d.timeline.Complete(sub.value)
	}
	return nil
}

func (d *Device) Timeline() *Timeline {
	return d.timeline
}

func (d *Device) Resources() *graph.Resources {
	return d.resources
}

// renderGraphNew returns an empty graph, reusing a recycled one when
// possible.
func (d *Device) renderGraphNew() *graph.RenderGraph {
	d.graphsMu.Lock()
	defer d.graphsMu.Unlock()
	if n := len(d.unusedGraphs); n > 0 {
		g := d.unusedGraphs[n-1]
		d.unusedGraphs = d.unusedGraphs[:n-1]
		return g
	}
	return graph.New()
}

func (d *Device) renderGraphRecycle(g *graph.RenderGraph) {
	g.Reset()
	d.graphsMu.Lock()
	defer d.graphsMu.Unlock()
	d.unusedGraphs = append(d.unusedGraphs, g)
}

// queueRenderGraph keeps g for the next submission. Resources the context
// discarded may be freed once that submission completes.
func (d *Device) queueRenderGraph(g *graph.RenderGraph, pool *ResourcePool, discard *DiscardPool) {
	d.submitMu.Lock()
	defer d.submitMu.Unlock()
	core.Assert(!d.closed, ErrDeviceClosed, "")

	if g.IsEmpty() {
		d.renderGraphRecycle(g)
	} else {
		d.pending = append(d.pending, pendingGraph{graph: g, pool: pool})
	}
	discard.MoveTo(d.orphaned, d.timeline.Submitted()+1)
}

// submitRenderGraph submits the queued graphs followed by g as a single
// submission and returns the timeline value it signals. Blocks while the
// maximum number of submissions is in flight.
func (d *Device) submitRenderGraph(g *graph.RenderGraph, pool *ResourcePool, discard *DiscardPool, sync SubmitSync) uint64 {
	d.submitMu.Lock()
	defer d.submitMu.Unlock()
	core.Assert(!d.closed, ErrDeviceClosed, "")

	graphs := make([]*graph.RenderGraph, 0, len(d.pending)+1)
	value := d.timeline.Reserve()
	for _, p := range d.pending {
		p.graph.Close()
		p.pool.markUsed(value)
		graphs = append(graphs, p.graph)
	}
	g.Close()
	pool.markUsed(value)
	graphs = append(graphs, g)
	d.pending = d.pending[:0]

	completion, err := d.executor.Submit(graphs, d.resources, sync)
	if err != nil {
		core.LogFatal("failed to submit render graph %d: %s", value, err)
		return value
	}
	discard.MoveTo(d.orphaned, value)
	d.inflight <- inflightSubmission{value: value, completion: completion}

	for _, rg := range graphs {
		d.renderGraphRecycle(rg)
	}
	return value
}

// WaitIdle blocks until every submission made so far has completed.
func (d *Device) WaitIdle(ctx context.Context) error {
	return d.timeline.Wait(ctx, d.timeline.Submitted())
}

// TextureCreate2D allocates a single layer image and starts tracking it.
func (d *Device) TextureCreate2D(name string, extent vk.Extent2D, format vk.Format, usage vk.ImageUsageFlags) (*Texture, error) {
	native, err := d.allocator.CreateImage(ImageDesc{
		Name:   name,
		Extent: extent,
		Format: format,
		Usage:  usage,
		Layers: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create texture %s: %w", name, err)
	}
	return &Texture{
		Name:   name,
		Native: native,
		Handle: d.resources.AddImage(native, 1, name),
		Extent: extent,
		Format: format,
		Usage:  usage,
		Layers: 1,
	}, nil
}

// TextureFree retires a texture that no context is discarding. It is freed
// once every submission made so far, and the next one, have completed.
func (d *Device) TextureFree(tex *Texture) {
	if !tex.IsValid() {
		return
	}
	d.submitMu.Lock()
	defer d.submitMu.Unlock()
	d.orphaned.DiscardTexture(tex, d.timeline.Submitted()+1)
}

func (d *Device) destroyTexture(tex *Texture) {
	d.resources.RemoveImage(tex.Native)
	d.allocator.FreeImage(tex.Native)
	tex.Handle = graph.InvalidHandle
}

// OrphanedResourcesDestroy frees orphaned resources whose submissions have
// completed and returns how many were freed.
func (d *Device) OrphanedResourcesDestroy() int {
	return d.orphaned.Destroy(d.timeline.Completed(), d.destroyTexture)
}

// OrphanedResources returns the number of resources waiting for their
// submission to complete.
func (d *Device) OrphanedResources() int {
	return d.orphaned.Len()
}

// MemoryStatistics reports device memory in kilobytes, or zeros when the
// executor cannot tell.
func (d *Device) MemoryStatistics() (totalKB, freeKB int) {
	if r, ok := d.executor.(MemoryReporter); ok {
		return r.MemoryStatistics()
	}
	return 0, 0
}

// CurrentThreadData returns the state of thread, creating it on first use.
func (d *Device) CurrentThreadData(thread ThreadID) *ThreadData {
	d.registryMu.Lock()
	defer d.registryMu.Unlock()
	td, ok := d.threads[thread]
	if !ok {
		td = newThreadData(thread, d.framesInFlight, d.descriptors)
		d.threads[thread] = td
	}
	return td
}

// CurrentContext returns the context active on thread, or nil.
func (d *Device) CurrentContext(thread ThreadID) *Context {
	d.registryMu.Lock()
	defer d.registryMu.Unlock()
	return d.current[thread]
}

// bindContext makes ctx the current context of thread. It fails when another
// context is already current there.
func (d *Device) bindContext(thread ThreadID, ctx *Context) bool {
	d.registryMu.Lock()
	defer d.registryMu.Unlock()
	if cur, ok := d.current[thread]; ok && cur != ctx {
		return false
	}
	d.current[thread] = ctx
	return true
}

func (d *Device) unbindContext(thread ThreadID, ctx *Context) {
	d.registryMu.Lock()
	defer d.registryMu.Unlock()
	if d.current[thread] == ctx {
		delete(d.current, thread)
	}
}

// Close waits for all submitted work, drops graphs that were never
// submitted, frees every orphaned resource and closes the executor.
func (d *Device) Close() error {
	d.submitMu.Lock()
	if d.closed {
		d.submitMu.Unlock()
		return nil
	}
	d.closed = true
	for _, p := range d.pending {
		d.renderGraphRecycle(p.graph)
	}
	d.pending = nil
	close(d.inflight)
	d.submitMu.Unlock()

	err := d.retire.Wait()
	d.orphaned.Destroy(d.timeline.Submitted()+1, d.destroyTexture)

	d.registryMu.Lock()
	d.threads = make(map[ThreadID]*ThreadData)
	d.current = make(map[ThreadID]*Context)
	d.registryMu.Unlock()

	if cerr := d.executor.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("failed to close executor: %w", cerr)
	}
	core.LogInfo("device closed")
	return err
}
