package gpu

// GraphicsContext is the capability set every backend context provides.
type GraphicsContext interface {
	Activate(thread ThreadID)
	Deactivate()
	BeginFrame()
	EndFrame()
	Flush()
	Finish()
	MemoryStatistics() (totalKB, freeKB int)
	DebugGroupBegin(name string, index int)
	DebugGroupEnd()
	DebugCaptureBegin(title string) bool
	DebugCaptureEnd()
	DebugCaptureScopeCreate(name string) *CaptureScope
	DebugCaptureScopeBegin(scope *CaptureScope) bool
	DebugCaptureScopeEnd(scope *CaptureScope)
}

var _ GraphicsContext = (*Context)(nil)
