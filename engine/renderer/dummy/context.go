// Package dummy provides the null backend used when no GPU is available.
// Every operation succeeds and returns empty values.
package dummy

import (
	"github.com/spaghettifunk/anima-gpu/engine/renderer/gpu"
)

type Context struct{}

func NewContext() *Context {
	return &Context{}
}

func (c *Context) Activate(thread gpu.ThreadID) {}

func (c *Context) Deactivate() {}

func (c *Context) BeginFrame() {}

func (c *Context) EndFrame() {}

func (c *Context) Flush() {}

func (c *Context) Finish() {}

func (c *Context) MemoryStatistics() (totalKB, freeKB int) {
	return 0, 0
}

func (c *Context) DebugGroupBegin(name string, index int) {}

func (c *Context) DebugGroupEnd() {}

func (c *Context) DebugCaptureBegin(title string) bool {
	return false
}

func (c *Context) DebugCaptureEnd() {}

func (c *Context) DebugCaptureScopeCreate(name string) *gpu.CaptureScope {
	return nil
}

func (c *Context) DebugCaptureScopeBegin(scope *gpu.CaptureScope) bool {
	return false
}

func (c *Context) DebugCaptureScopeEnd(scope *gpu.CaptureScope) {}

var _ gpu.GraphicsContext = (*Context)(nil)
