package gpu

import (
	"errors"

	"github.com/spaghettifunk/anima-gpu/engine/core"
)

var ErrImmediateInactive = errors.New("immediate draw helper is not active")

// immediateTarget is the context an immediate helper records into.
type immediateTarget interface {
	recordImmediateDraw(vertices []float32, stride, vertexCount uint32)
}

// Immediate records ad hoc draws whose vertices live in the scratch storage
// of one resource pool slot. Each draw node gets its own window of the
// scratch that is never written again, so nodes keep their vertices even
// after the slot is recycled.
type Immediate struct {
	target   immediateTarget
	vertices []float32
	stride   int
	drawn    int
}

// NewImmediate creates a helper for vertices of stride floats each.
func NewImmediate(stride int) *Immediate {
	if stride < 1 {
		stride = 1
	}
	return &Immediate{
		vertices: make([]float32, 0, 1024),
		stride:   stride,
	}
}

func (im *Immediate) activate(target immediateTarget) {
	im.target = target
}

func (im *Immediate) deactivate() {
	im.target = nil
}

func (im *Immediate) IsActive() bool {
	return im.target != nil
}

func (im *Immediate) Stride() int {
	return im.stride
}

// Draw copies vertexCount vertices into scratch storage and records a draw of
// them with the bound shader.
func (im *Immediate) Draw(vertices []float32, vertexCount uint32) {
	core.Assert(im.target != nil, ErrImmediateInactive, "")
	n := int(vertexCount) * im.stride
	core.Assert(len(vertices) >= n, core.ErrUnknown, "%d vertices need %d floats, got %d", vertexCount, n, len(vertices))

	start := len(im.vertices)
	if start+n > cap(im.vertices) {
		// Windows handed out earlier keep pointing at the old storage.
		im.vertices = make([]float32, 0, max(2*cap(im.vertices), n))
		start = 0
	}
	im.vertices = append(im.vertices, vertices[:n]...)
	im.drawn += int(vertexCount)
	im.target.recordImmediateDraw(im.vertices[start:start+n:start+n], uint32(im.stride), vertexCount)
}

// Drawn returns the number of vertices drawn since the slot was recycled.
func (im *Immediate) Drawn() int {
	return im.drawn
}

// reset runs when the slot is recycled. The scratch is replaced rather than
// rewound because nodes that were queued but not yet submitted may still
// refer to it.
func (im *Immediate) reset() {
	if len(im.vertices) > 0 {
		im.vertices = make([]float32, 0, cap(im.vertices))
	}
	im.drawn = 0
}
