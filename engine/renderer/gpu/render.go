package gpu

import (
	"github.com/spaghettifunk/anima-gpu/engine/core"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/graph"
)

// ActivateFramebuffer makes fb the target of draw calls. The previously
// active framebuffer leaves its rendering state first.
func (c *Context) ActivateFramebuffer(fb *Framebuffer) {
	if c.activeFramebuffer != nil {
		c.DeactivateFramebuffer()
	}
	c.activeFramebuffer = fb
	fb.updateSize()
	fb.rendering = false
}

func (c *Context) DeactivateFramebuffer() {
	fb := c.activeFramebuffer
	core.Assert(fb != nil, ErrNoActiveFramebuffer, "context %s", c.id)
	if fb.IsRendering() {
		core.Assert(c.renderGraph != nil, ErrNoRenderGraph, "ending rendering of %s", fb.Name())
		fb.endRendering(c.renderGraph)
	}
	c.activeFramebuffer = nil
}

func (c *Context) ActiveFramebuffer() *Framebuffer {
	return c.activeFramebuffer
}

func (c *Context) HasActiveFramebuffer() bool {
	return c.activeFramebuffer != nil
}

func (c *Context) BackLeft() *Framebuffer {
	return c.backLeft
}

func (c *Context) FrontLeft() *Framebuffer {
	return c.frontLeft
}

// RenderingEnd closes the rendering state of the active framebuffer.
func (c *Context) RenderingEnd() {
	if fb := c.activeFramebuffer; fb != nil && c.renderGraph != nil {
		fb.endRendering(c.renderGraph)
	}
}

func (c *Context) ShaderBind(s *Shader) {
	c.shader = s
}

func (c *Context) ShaderUnbind() {
	c.shader = nil
}

func (c *Context) Shader() *Shader {
	return c.shader
}

// BindTexture attaches tex to a binding location of the bound shader.
func (c *Context) BindTexture(location uint32, bindingType graph.BindingType, tex *Texture) {
	valid := tex.IsValid()
	if valid {
		_, valid = c.device.resources.Lookup(tex.Handle)
	}
	core.Assert(valid, ErrUnknownTexture, "binding %d", location)
	c.resourcePool().DescriptorSets.Bind(location, bindingType, tex.Handle)
}

// updatePipelineData snapshots the bound shader, its constants and its
// descriptor set by value. writes are added to the access info.
func (c *Context) updatePipelineData(writes ...graph.Handle) graph.PipelineData {
	s := c.shader
	core.Assert(s != nil, ErrNoShaderBound, "context %s", c.id)

	pd := graph.PipelineData{
		Name:           s.Name,
		BindPoint:      s.BindPoint,
		PipelineLayout: s.PipelineLayout,
		Pipeline:       s.Pipeline,
	}
	if s.UsesPushConstants && len(s.constants) > 0 {
		pd.PushConstants = append([]byte(nil), s.constants...)
	}

	pool := c.resourcePool()
	if s.BindingCount > 0 {
		snapshot, err := pool.DescriptorSets.UpdateDescriptorSet(pool.DescriptorPools)
		if err != nil {
			core.LogFatal("shader %s: %s", s.Name, err)
		}
		pd.DescriptorSet = snapshot
	}
	pd.Access = pool.DescriptorSets.Access()
	pd.Access.Writes = append(pd.Access.Writes, writes...)
	return pd
}

func (c *Context) beginDraw() (*graph.RenderGraph, *Framebuffer) {
	core.Assert(c.active.Load(), ErrContextInactive, "context %s", c.id)
	core.Assert(c.renderGraph != nil, ErrNoRenderGraph, "context %s", c.id)
	fb := c.activeFramebuffer
	core.Assert(fb != nil, ErrNoActiveFramebuffer, "context %s", c.id)
	fb.beginRendering(c.renderGraph)
	return c.renderGraph, fb
}

// Draw records a draw into the active framebuffer with the bound shader.
func (c *Context) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	g, fb := c.beginDraw()
	g.AddNode(graph.DrawNode{
		Pipeline:      c.updatePipelineData(fb.colorHandles()...),
		VertexCount:   vertexCount,
		InstanceCount: instanceCount,
		FirstVertex:   firstVertex,
		FirstInstance: firstInstance,
	})
}

// recordImmediateDraw records a draw that carries its own vertices.
func (c *Context) recordImmediateDraw(vertices []float32, stride, vertexCount uint32) {
	g, fb := c.beginDraw()
	g.AddNode(graph.DrawNode{
		Pipeline:      c.updatePipelineData(fb.colorHandles()...),
		Vertices:      vertices,
		VertexStride:  stride,
		VertexCount:   vertexCount,
		InstanceCount: 1,
	})
}

// Immediate returns the immediate draw helper of the current resource pool
// slot.
func (c *Context) Immediate() *Immediate {
	return c.resourcePool().Immediate
}

// Dispatch records a compute dispatch with the bound shader. Dispatches are
// never recorded inside a rendering scope.
func (c *Context) Dispatch(groupCountX, groupCountY, groupCountZ uint32) {
	core.Assert(c.active.Load(), ErrContextInactive, "context %s", c.id)
	core.Assert(c.renderGraph != nil, ErrNoRenderGraph, "context %s", c.id)
	c.RenderingEnd()
	c.renderGraph.AddNode(graph.DispatchNode{
		Pipeline:    c.updatePipelineData(),
		GroupCountX: groupCountX,
		GroupCountY: groupCountY,
		GroupCountZ: groupCountZ,
	})
}

// Clear fills every color attachment of the active framebuffer.
func (c *Context) Clear(color [4]float32) {
	core.Assert(c.renderGraph != nil, ErrNoRenderGraph, "context %s", c.id)
	fb := c.activeFramebuffer
	core.Assert(fb != nil, ErrNoActiveFramebuffer, "context %s", c.id)
	fb.endRendering(c.renderGraph)
	for _, h := range fb.colorHandles() {
		c.renderGraph.AddNode(graph.ClearColorImageNode{Image: h, Color: color})
	}
}
