package gpu

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-gpu/engine/renderer/graph"
)

// Texture is a device image tracked by the resource tracker.
type Texture struct {
	Name   string
	Native graph.NativeImage
	Handle graph.Handle
	Extent vk.Extent2D
	Format vk.Format
	Usage  vk.ImageUsageFlags
	Layers uint32
}

func (t *Texture) IsValid() bool {
	return t != nil && t.Handle != graph.InvalidHandle
}
