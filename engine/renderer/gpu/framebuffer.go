package gpu

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-gpu/engine/renderer/graph"
)

const MaxColorAttachments = 8

// Framebuffer is a set of color attachments rendered to together. Its
// rendering sub state is opened by the first draw and must be closed before
// the attachments are read, blitted or presented.
type Framebuffer struct {
	name       string
	colors     [MaxColorAttachments]*Texture
	extent     vk.Extent2D
	colorSpace vk.ColorSpace
	rendering  bool
}

func NewFramebuffer(name string) *Framebuffer {
	return &Framebuffer{name: name}
}

func (fb *Framebuffer) Name() string {
	return fb.name
}

// AttachColor sets the color attachment in slot. A nil texture detaches it.
func (fb *Framebuffer) AttachColor(slot int, tex *Texture) {
	fb.colors[slot] = tex
	fb.updateSize()
}

func (fb *Framebuffer) ColorAttachment(slot int) *Texture {
	return fb.colors[slot]
}

func (fb *Framebuffer) Extent() vk.Extent2D {
	return fb.extent
}

func (fb *Framebuffer) ColorSpace() vk.ColorSpace {
	return fb.colorSpace
}

func (fb *Framebuffer) SetColorSpace(cs vk.ColorSpace) {
	fb.colorSpace = cs
}

func (fb *Framebuffer) IsRendering() bool {
	return fb.rendering
}

// updateSize takes the extent of the first attachment. Attachments are
// expected to agree.
func (fb *Framebuffer) updateSize() {
	fb.extent = vk.Extent2D{}
	for _, tex := range fb.colors {
		if tex != nil {
			fb.extent = tex.Extent
			return
		}
	}
}

func (fb *Framebuffer) colorHandles() []graph.Handle {
	handles := make([]graph.Handle, 0, 1)
	for _, tex := range fb.colors {
		if tex != nil {
			handles = append(handles, tex.Handle)
		}
	}
	return handles
}

func (fb *Framebuffer) beginRendering(g *graph.RenderGraph) {
	if fb.rendering {
		return
	}
	g.AddNode(graph.BeginRenderingNode{
		Framebuffer:      fb.name,
		ColorAttachments: fb.colorHandles(),
		Extent:           fb.extent,
	})
	fb.rendering = true
}

func (fb *Framebuffer) endRendering(g *graph.RenderGraph) {
	if !fb.rendering {
		return
	}
	g.AddNode(graph.EndRenderingNode{Framebuffer: fb.name})
	fb.rendering = false
}
