package gpu

import "errors"

// Contract violations. They are raised through core.Assert and never returned.
var (
	ErrContextActive         = errors.New("context is already active")
	ErrContextInactive       = errors.New("context is not active")
	ErrThreadBusy            = errors.New("thread already has an active context")
	ErrNoRenderGraph         = errors.New("context has no open render graph")
	ErrNoActiveFramebuffer   = errors.New("no framebuffer is active")
	ErrInvalidFlushFlags     = errors.New("wait for completion requires submit")
	ErrPresentOrder          = errors.New("pre and post present must alternate")
	ErrDebugGroupUnbalanced  = errors.New("debug group end without matching begin")
	ErrFramebufferImageOrder = errors.New("framebuffer image acquire and release must alternate")
	ErrNoShaderBound         = errors.New("no shader is bound")
	ErrDeviceClosed          = errors.New("device is closed")
	ErrUnknownTexture        = errors.New("texture is not tracked by the device")
)

// Runtime errors returned to callers.
var (
	ErrNoExecutor  = errors.New("device has no executor")
	ErrNoAllocator = errors.New("device has no image allocator")
	// ErrDescriptorPoolFull is wrapped by descriptor pools that are out of
	// sets or descriptors.
	ErrDescriptorPoolFull = errors.New("descriptor pool is full")
)
