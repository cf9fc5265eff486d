package graph

import (
	"errors"
	"fmt"

	vk "github.com/goki/vulkan"
)

type NodeType uint8

const (
	NodeTypeDraw NodeType = iota
	NodeTypeDispatch
	NodeTypeBlitImage
	NodeTypeClearColorImage
	NodeTypeSynchronization
	NodeTypeBeginRendering
	NodeTypeEndRendering
	NodeTypeDebugGroupBegin
	NodeTypeDebugGroupEnd
)

var nodeTypeNames = []string{
	"draw",
	"dispatch",
	"blit_image",
	"clear_color_image",
	"synchronization",
	"begin_rendering",
	"end_rendering",
	"debug_group_begin",
	"debug_group_end",
}

func (t NodeType) String() string {
	if int(t) < len(nodeTypeNames) {
		return nodeTypeNames[t]
	}
	return fmt.Sprintf("node_type(%d)", t)
}

// Node is a single recorded operation. Nodes hold values only: nothing a node
// refers to may change after it has been added to a graph.
type Node interface {
	Type() NodeType
}

type DrawNode struct {
	Pipeline PipelineData
	// Vertices of an immediate draw, VertexStride floats each. Nil when the
	// pipeline sources its own vertex buffers.
	Vertices      []float32
	VertexStride  uint32
	VertexCount   uint32
	InstanceCount uint32
	FirstVertex   uint32
	FirstInstance uint32
}

func (DrawNode) Type() NodeType { return NodeTypeDraw }

var ErrShortVertices = errors.New("draw carries fewer vertices than it draws")

// ValidateVertices checks that a draw carrying vertices carries all of them.
func (n DrawNode) ValidateVertices() error {
	if n.Vertices == nil {
		return nil
	}
	if n.VertexStride == 0 || len(n.Vertices) < int(n.VertexCount*n.VertexStride) {
		return fmt.Errorf("%w: %d floats for %d vertices of stride %d", ErrShortVertices, len(n.Vertices), n.VertexCount, n.VertexStride)
	}
	return nil
}

type DispatchNode struct {
	Pipeline    PipelineData
	GroupCountX uint32
	GroupCountY uint32
	GroupCountZ uint32
}

func (DispatchNode) Type() NodeType { return NodeTypeDispatch }

type BlitImageNode struct {
	SrcImage Handle
	DstImage Handle
	Region   vk.ImageBlit
	Filter   vk.Filter
}

func (BlitImageNode) Type() NodeType { return NodeTypeBlitImage }

type ClearColorImageNode struct {
	Image Handle
	Color [4]float32
}

func (ClearColorImageNode) Type() NodeType { return NodeTypeClearColorImage }

// SynchronizationNode transitions an image to a layout, ordering every
// earlier access before any later one.
type SynchronizationNode struct {
	Image       Handle
	ImageLayout vk.ImageLayout
	ImageAspect vk.ImageAspectFlags
}

func (SynchronizationNode) Type() NodeType { return NodeTypeSynchronization }

type BeginRenderingNode struct {
	Framebuffer      string
	ColorAttachments []Handle
	Extent           vk.Extent2D
}

func (BeginRenderingNode) Type() NodeType { return NodeTypeBeginRendering }

type EndRenderingNode struct {
	Framebuffer string
}

func (EndRenderingNode) Type() NodeType { return NodeTypeEndRendering }

type DebugGroupBeginNode struct {
	Name  string
	Color [4]float32
}

func (DebugGroupBeginNode) Type() NodeType { return NodeTypeDebugGroupBegin }

type DebugGroupEndNode struct{}

func (DebugGroupEndNode) Type() NodeType { return NodeTypeDebugGroupEnd }

// FullImageBlit describes a single-layer color blit covering the whole source
// and destination. When flipY is set the source rows are read bottom-up, which
// converts between a bottom-left and a top-left origin.
func FullImageBlit(src, dst vk.Extent2D, flipY bool) vk.ImageBlit {
	subresource := vk.ImageSubresourceLayers{
		AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
		MipLevel:       0,
		BaseArrayLayer: 0,
		LayerCount:     1,
	}
	region := vk.ImageBlit{
		SrcSubresource: subresource,
		DstSubresource: subresource,
	}
	if flipY {
		region.SrcOffsets[0] = vk.Offset3D{X: 0, Y: int32(src.Height), Z: 0}
		region.SrcOffsets[1] = vk.Offset3D{X: int32(src.Width), Y: 0, Z: 1}
	} else {
		region.SrcOffsets[0] = vk.Offset3D{X: 0, Y: 0, Z: 0}
		region.SrcOffsets[1] = vk.Offset3D{X: int32(src.Width), Y: int32(src.Height), Z: 1}
	}
	region.DstOffsets[0] = vk.Offset3D{X: 0, Y: 0, Z: 0}
	region.DstOffsets[1] = vk.Offset3D{X: int32(dst.Width), Y: int32(dst.Height), Z: 1}
	return region
}
