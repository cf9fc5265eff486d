package graph

import (
	"errors"

	"github.com/spaghettifunk/anima-gpu/engine/core"
)

var (
	ErrGraphClosed        = errors.New("render graph is closed")
	ErrDebugGroupUnderrun = errors.New("debug group end without matching begin")
)

// RenderGraph is an append-only list of nodes recorded during one recording
// epoch. It is submitted as a whole or discarded as a whole; once closed no
// more nodes can be added until it is reset.
type RenderGraph struct {
	nodes      []Node
	workNodes  int
	debugDepth int
	closed     bool
}

func New() *RenderGraph {
	return &RenderGraph{
		nodes: make([]Node, 0, 64),
	}
}

func (g *RenderGraph) AddNode(n Node) {
	core.Assert(!g.closed, ErrGraphClosed, "adding %s node", n.Type())
	g.nodes = append(g.nodes, n)
	switch n.Type() {
	case NodeTypeDebugGroupBegin, NodeTypeDebugGroupEnd:
	default:
		g.workNodes++
	}
}

func (g *RenderGraph) DebugGroupBegin(name string, color [4]float32) {
	g.AddNode(DebugGroupBeginNode{Name: name, Color: color})
	g.debugDepth++
}

func (g *RenderGraph) DebugGroupEnd() {
	core.Assert(g.debugDepth > 0, ErrDebugGroupUnderrun, "")
	g.AddNode(DebugGroupEndNode{})
	g.debugDepth--
}

// DebugGroupDepth returns the number of debug groups that are open in this
// graph.
func (g *RenderGraph) DebugGroupDepth() int {
	return g.debugDepth
}

// Nodes returns the recorded nodes in append order. The slice must not be
// modified.
func (g *RenderGraph) Nodes() []Node {
	return g.nodes
}

func (g *RenderGraph) Len() int {
	return len(g.nodes)
}

// IsEmpty reports whether the graph holds no work. Debug group markers do not
// count as work.
func (g *RenderGraph) IsEmpty() bool {
	return g.workNodes == 0
}

// Close seals the graph. Submitted graphs are closed before they leave the
// recording context.
func (g *RenderGraph) Close() {
	g.closed = true
}

func (g *RenderGraph) IsClosed() bool {
	return g.closed
}

// Reset clears the graph so it can be reused for a new recording epoch.
func (g *RenderGraph) Reset() {
	for i := range g.nodes {
		g.nodes[i] = nil
	}
	g.nodes = g.nodes[:0]
	g.workNodes = 0
	g.debugDepth = 0
	g.closed = false
}

// CountNodes returns the number of nodes of the given type.
func (g *RenderGraph) CountNodes(t NodeType) int {
	n := 0
	for _, node := range g.nodes {
		if node.Type() == t {
			n++
		}
	}
	return n
}
