package graph

import (
	"errors"
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-gpu/engine/core"
)

func TestRenderGraphKeepsAppendOrder(t *testing.T) {
	g := New()
	g.AddNode(ClearColorImageNode{Image: 1})
	g.AddNode(DrawNode{VertexCount: 3})
	g.AddNode(SynchronizationNode{Image: 1, ImageLayout: vk.ImageLayoutPresentSrc})

	require.Equal(t, 3, g.Len())
	assert.Equal(t, NodeTypeClearColorImage, g.Nodes()[0].Type())
	assert.Equal(t, NodeTypeDraw, g.Nodes()[1].Type())
	assert.Equal(t, NodeTypeSynchronization, g.Nodes()[2].Type())
	assert.False(t, g.IsEmpty())
}

func TestRenderGraphDebugGroupsAreNotWork(t *testing.T) {
	g := New()
	g.DebugGroupBegin("outer", [4]float32{})
	g.DebugGroupBegin("inner", [4]float32{})
	assert.Equal(t, 2, g.DebugGroupDepth())
	g.DebugGroupEnd()

	assert.True(t, g.IsEmpty())
	assert.Equal(t, 1, g.DebugGroupDepth())
	assert.Equal(t, 2, g.CountNodes(NodeTypeDebugGroupBegin))
	assert.Equal(t, 1, g.CountNodes(NodeTypeDebugGroupEnd))
}

func TestRenderGraphRejectsNodesWhenClosed(t *testing.T) {
	g := New()
	g.Close()

	defer func() {
		r := recover()
		require.NotNil(t, r)
		err, ok := r.(*core.AssertionError)
		require.True(t, ok)
		assert.True(t, errors.Is(err, ErrGraphClosed))
	}()
	g.AddNode(DrawNode{})
}

func TestRenderGraphDebugGroupUnderrun(t *testing.T) {
	g := New()
	assert.Panics(t, func() { g.DebugGroupEnd() })
}

func TestRenderGraphReset(t *testing.T) {
	g := New()
	g.DebugGroupBegin("scope", [4]float32{})
	g.AddNode(DispatchNode{GroupCountX: 1, GroupCountY: 1, GroupCountZ: 1})
	g.Close()
	g.Reset()

	assert.Equal(t, 0, g.Len())
	assert.True(t, g.IsEmpty())
	assert.False(t, g.IsClosed())
	assert.Equal(t, 0, g.DebugGroupDepth())
}

func TestFullImageBlitFlipsSourceRows(t *testing.T) {
	src := vk.Extent2D{Width: 800, Height: 600}
	dst := vk.Extent2D{Width: 1024, Height: 768}

	region := FullImageBlit(src, dst, true)
	assert.Equal(t, int32(600), region.SrcOffsets[0].Y)
	assert.Equal(t, int32(0), region.SrcOffsets[1].Y)
	assert.Equal(t, int32(800), region.SrcOffsets[1].X)
	assert.Equal(t, int32(1024), region.DstOffsets[1].X)
	assert.Equal(t, int32(768), region.DstOffsets[1].Y)
	assert.Equal(t, uint32(1), region.SrcSubresource.LayerCount)

	straight := FullImageBlit(src, dst, false)
	assert.Equal(t, int32(0), straight.SrcOffsets[0].Y)
	assert.Equal(t, int32(600), straight.SrcOffsets[1].Y)
}

func TestNodeTypeString(t *testing.T) {
	assert.Equal(t, "blit_image", NodeTypeBlitImage.String())
	assert.Equal(t, "node_type(200)", NodeType(200).String())
}
