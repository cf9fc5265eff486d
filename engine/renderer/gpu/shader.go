package gpu

import (
	vk "github.com/goki/vulkan"
)

// Shader is the compiled pipeline state a context draws or dispatches with.
// Compilation happens elsewhere; only the handles are kept here.
type Shader struct {
	Name           string
	BindPoint      vk.PipelineBindPoint
	PipelineLayout vk.PipelineLayout
	Pipeline       vk.Pipeline
	// Number of resource bindings the shader declares.
	BindingCount int
	// Set when constants are pushed instead of stored in a uniform buffer.
	UsesPushConstants bool

	constants []byte
}

// SetConstants replaces the shader constants. The slice is copied.
func (s *Shader) SetConstants(data []byte) {
	s.constants = append(s.constants[:0], data...)
}

func (s *Shader) Constants() []byte {
	return s.constants
}
