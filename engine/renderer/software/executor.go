package software

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/spaghettifunk/anima-gpu/engine/core"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/gpu"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/graph"
)

// ExecutedGraph is the record of one graph run by the executor.
type ExecutedGraph struct {
	Submission int
	Nodes      []graph.Node
	Sync       gpu.SubmitSync
}

// CountNodes returns the number of nodes of type t.
func (e ExecutedGraph) CountNodes(t graph.NodeType) int {
	n := 0
	for _, node := range e.Nodes {
		if node.Type() == t {
			n++
		}
	}
	return n
}

type command struct {
	node    graph.Node
	natives map[graph.Handle]graph.NativeImage
}

type job struct {
	submission int
	graphs     [][]command
	sync       gpu.SubmitSync
	done       chan struct{}
}

func (j *job) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Executor runs render graphs on a worker goroutine against images of an
// Allocator. It can be paused to hold submissions back like a slow GPU.
// Nodes a GPU could not run are skipped and reported as faults.
type Executor struct {
	allocator   *Allocator
	descriptors *DescriptorAllocator
	jobs        chan *job
	wg          sync.WaitGroup

	mu          sync.Mutex
	resumed     *sync.Cond
	paused      bool
	submissions int
	executed    []ExecutedGraph
	vertices    int
	faults      []error
}

// NewExecutor creates an executor over allocator. When descriptors is not
// nil every descriptor set a node uses must have been written through it.
func NewExecutor(allocator *Allocator, descriptors *DescriptorAllocator, queueSize int) *Executor {
	e := &Executor{
		allocator:   allocator,
		descriptors: descriptors,
		jobs:        make(chan *job, core.Clamp(queueSize, 1, 1024)),
	}
	e.resumed = sync.NewCond(&e.mu)
	e.start()
	return e
}

func (e *Executor) start() {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for j := range e.jobs {
			e.mu.Lock()
			for e.paused {
				e.resumed.Wait()
			}
			e.mu.Unlock()

			e.run(j)
			close(j.done)
		}
	}()
}

// Submit resolves every handle the graphs use and queues them for execution.
func (e *Executor) Submit(graphs []*graph.RenderGraph, resources *graph.Resources, sync gpu.SubmitSync) (gpu.Completion, error) {
	e.mu.Lock()
	e.submissions++
	submission := e.submissions
	e.mu.Unlock()

	j := &job{
		submission: submission,
		graphs:     make([][]command, 0, len(graphs)),
		sync:       sync,
		done:       make(chan struct{}),
	}
	for _, g := range graphs {
		commands := make([]command, 0, g.Len())
		for _, n := range g.Nodes() {
			natives, err := resolve(n, resources)
			if err != nil {
				return nil, err
			}
			commands = append(commands, command{node: n, natives: natives})
		}
		j.graphs = append(j.graphs, commands)
	}
	e.jobs <- j
	return j, nil
}

func resolve(n graph.Node, resources *graph.Resources) (map[graph.Handle]graph.NativeImage, error) {
	var handles []graph.Handle
	switch node := n.(type) {
	case graph.BlitImageNode:
		handles = []graph.Handle{node.SrcImage, node.DstImage}
	case graph.ClearColorImageNode:
		handles = []graph.Handle{node.Image}
	case graph.SynchronizationNode:
		handles = []graph.Handle{node.Image}
	case graph.BeginRenderingNode:
		handles = node.ColorAttachments
	}
	natives := make(map[graph.Handle]graph.NativeImage, len(handles))
	for _, h := range handles {
		info, ok := resources.Lookup(h)
		if !ok {
			return nil, fmt.Errorf("%s node uses %s: %w", n.Type(), h, ErrUnknownImage)
		}
		natives[h] = info.Native
	}
	return natives, nil
}

func (e *Executor) run(j *job) {
	for _, commands := range j.graphs {
		record := ExecutedGraph{
			Submission: j.submission,
			Nodes:      make([]graph.Node, 0, len(commands)),
			Sync:       j.sync,
		}
		for _, cmd := range commands {
			e.execute(cmd)
			record.Nodes = append(record.Nodes, cmd.node)
		}
		e.mu.Lock()
		e.executed = append(e.executed, record)
		e.mu.Unlock()
	}
}

func (e *Executor) fault(err error) {
	core.LogError("%s", err)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.faults = append(e.faults, err)
}

// checkDescriptorSet fails when a node uses a set that was never written.
func (e *Executor) checkDescriptorSet(t graph.NodeType, pd graph.PipelineData) bool {
	if e.descriptors == nil || pd.DescriptorSet.ID == 0 {
		return true
	}
	if _, ok := e.descriptors.consume(pd.DescriptorSet.ID); !ok {
		e.fault(fmt.Errorf("%s node of %s: %w %d", t, pd.Name, ErrDescriptorSetNotWritten, pd.DescriptorSet.ID))
		return false
	}
	return true
}

func (e *Executor) execute(cmd command) {
	switch node := cmd.node.(type) {
	case graph.DrawNode:
		if !e.checkDescriptorSet(node.Type(), node.Pipeline) {
			return
		}
		if err := node.ValidateVertices(); err != nil {
			e.fault(fmt.Errorf("draw node of %s: %w", node.Pipeline.Name, err))
			return
		}
		if node.Vertices != nil {
			e.mu.Lock()
			e.vertices += int(node.VertexCount)
			e.mu.Unlock()
		}
	case graph.DispatchNode:
		e.checkDescriptorSet(node.Type(), node.Pipeline)
	case graph.ClearColorImageNode:
		e.allocator.with(cmd.natives[node.Image], func(img *Image) {
			for i := 0; i < len(img.texels); i += 4 {
				copy(img.texels[i:i+4], node.Color[:])
			}
		})
	case graph.BlitImageNode:
		ok := e.allocator.with2(cmd.natives[node.SrcImage], cmd.natives[node.DstImage], func(src, dst *Image) {
			blit(src, dst, node)
		})
		if !ok {
			core.LogWarn("blit %s -> %s skipped, image was freed", node.SrcImage, node.DstImage)
		}
	case graph.SynchronizationNode:
		e.allocator.with(cmd.natives[node.Image], func(img *Image) {
			img.Layout = node.ImageLayout
		})
	}
}

// blit copies the source region to the destination region with nearest
// filtering. A source region with swapped offsets mirrors the copy.
func blit(src, dst *Image, node graph.BlitImageNode) {
	s0, s1 := node.Region.SrcOffsets[0], node.Region.SrcOffsets[1]
	d0, d1 := node.Region.DstOffsets[0], node.Region.DstOffsets[1]
	dw, dh := d1.X-d0.X, d1.Y-d0.Y
	if dw == 0 || dh == 0 {
		return
	}
	sw, sh := int32(src.Desc.Extent.Width), int32(src.Desc.Extent.Height)
	tw, th := int32(dst.Desc.Extent.Width), int32(dst.Desc.Extent.Height)

	for y := d0.Y; y < d1.Y; y++ {
		if y < 0 || y >= th {
			continue
		}
		v := (float64(y-d0.Y) + 0.5) / float64(dh)
		sy := int32(math.Floor(float64(s0.Y) + v*float64(s1.Y-s0.Y)))
		sy = core.Clamp(sy, 0, sh-1)
		for x := d0.X; x < d1.X; x++ {
			if x < 0 || x >= tw {
				continue
			}
			u := (float64(x-d0.X) + 0.5) / float64(dw)
			sx := int32(math.Floor(float64(s0.X) + u*float64(s1.X-s0.X)))
			sx = core.Clamp(sx, 0, sw-1)
			copy(dst.texel(int(x), int(y)), src.texel(int(sx), int(sy)))
		}
	}
}

// Pause holds back execution of queued submissions until Resume.
func (e *Executor) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = true
}

func (e *Executor) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = false
	e.resumed.Broadcast()
}

// Executed returns the graphs run so far in execution order.
func (e *Executor) Executed() []ExecutedGraph {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]ExecutedGraph(nil), e.executed...)
}

// Faults returns the errors of the nodes that could not run.
func (e *Executor) Faults() []error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]error(nil), e.faults...)
}

// VerticesDrawn returns the number of vertices executed from immediate
// draws.
func (e *Executor) VerticesDrawn() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.vertices
}

// Submissions returns the number of Submit calls.
func (e *Executor) Submissions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.submissions
}

func (e *Executor) MemoryStatistics() (totalKB, freeKB int) {
	return e.allocator.MemoryStatistics()
}

// Close runs the queued submissions and stops the worker.
func (e *Executor) Close() error {
	e.Resume()
	close(e.jobs)
	e.wg.Wait()
	return nil
}
