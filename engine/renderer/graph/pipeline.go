package graph

import (
	vk "github.com/goki/vulkan"
)

type BindingType uint8

const (
	BindingTypeUniformBuffer BindingType = iota
	BindingTypeStorageBuffer
	BindingTypeSampledImage
	BindingTypeStorageImage
)

// Binding attaches a tracked resource to a shader binding location.
type Binding struct {
	Location uint32
	Type     BindingType
	Resource Handle
}

// DescriptorSetSnapshot is the uploaded state of a descriptor set at the time
// a node was recorded.
type DescriptorSetSnapshot struct {
	ID       uint64
	Set      vk.DescriptorSet
	Bindings []Binding
}

func (s DescriptorSetSnapshot) IsEmpty() bool {
	return s.ID == 0 && len(s.Bindings) == 0
}

// AccessInfo lists the resources a node reads and writes.
type AccessInfo struct {
	Reads  []Handle
	Writes []Handle
}

func (a *AccessInfo) Reset() {
	a.Reads = a.Reads[:0]
	a.Writes = a.Writes[:0]
}

// Clone returns a copy that shares no storage with a.
func (a AccessInfo) Clone() AccessInfo {
	return AccessInfo{
		Reads:  append([]Handle(nil), a.Reads...),
		Writes: append([]Handle(nil), a.Writes...),
	}
}

// PipelineData is the by-value snapshot of pipeline state captured into a
// draw or dispatch node.
type PipelineData struct {
	Name           string
	BindPoint      vk.PipelineBindPoint
	PipelineLayout vk.PipelineLayout
	Pipeline       vk.Pipeline
	// Nil when the shader keeps its constants in a uniform buffer.
	PushConstants []byte
	DescriptorSet DescriptorSetSnapshot
	Access        AccessInfo
}
