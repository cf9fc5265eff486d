package vulkan

import (
	"fmt"
	"strings"
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-gpu/engine/core"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/gpu"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/graph"
)

const (
	descriptorPoolMaxSets      = 256
	descriptorPoolTypeCapacity = 1024
)

var descriptorTypes = map[graph.BindingType]vk.DescriptorType{
	graph.BindingTypeUniformBuffer: vk.DescriptorTypeUniformBuffer,
	graph.BindingTypeStorageBuffer: vk.DescriptorTypeStorageBuffer,
	graph.BindingTypeSampledImage:  vk.DescriptorTypeSampledImage,
	graph.BindingTypeStorageImage:  vk.DescriptorTypeStorageImage,
}

// DescriptorAllocator creates the vk.DescriptorPools of the resource pool
// slots. A slot asks for another pool when its current one is full. Set
// layouts are shared between the pools and keyed by binding signature.
type DescriptorAllocator struct {
	context   *VulkanContext
	allocator *ImageAllocator
	resources *graph.Resources

	mu      sync.Mutex
	layouts map[string]vk.DescriptorSetLayout
	pools   []*DescriptorPool
}

func NewDescriptorAllocator(context *VulkanContext, allocator *ImageAllocator) *DescriptorAllocator {
	return &DescriptorAllocator{
		context:   context,
		allocator: allocator,
		layouts:   make(map[string]vk.DescriptorSetLayout),
	}
}

// SetResources sets the table binding handles are resolved against.
func (a *DescriptorAllocator) SetResources(resources *graph.Resources) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resources = resources
}

func (a *DescriptorAllocator) NewDescriptorPool() (gpu.DescriptorPool, error) {
	sizes := make([]vk.DescriptorPoolSize, 0, len(descriptorTypes))
	for _, t := range descriptorTypes {
		sizes = append(sizes, vk.DescriptorPoolSize{Type: t, DescriptorCount: descriptorPoolTypeCapacity})
	}
	createInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       descriptorPoolMaxSets,
		PoolSizeCount: uint32(len(sizes)),
		PPoolSizes:    sizes,
	}
	var handle vk.DescriptorPool
	if err := vkError("vkCreateDescriptorPool", vk.CreateDescriptorPool(a.context.Device.LogicalDevice, &createInfo, a.context.Allocator, &handle)); err != nil {
		return nil, err
	}
	pool := &DescriptorPool{allocator: a, handle: handle}

	a.mu.Lock()
	a.pools = append(a.pools, pool)
	a.mu.Unlock()
	return pool, nil
}

func bindingSignature(bindings []graph.Binding) string {
	var b strings.Builder
	for _, binding := range bindings {
		fmt.Fprintf(&b, "%d:%d;", binding.Location, binding.Type)
	}
	return b.String()
}

func (a *DescriptorAllocator) layout(bindings []graph.Binding) (vk.DescriptorSetLayout, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := bindingSignature(bindings)
	if layout, ok := a.layouts[key]; ok {
		return layout, nil
	}

	layoutBindings := make([]vk.DescriptorSetLayoutBinding, len(bindings))
	for i, binding := range bindings {
		layoutBindings[i] = vk.DescriptorSetLayoutBinding{
			Binding:         binding.Location,
			DescriptorType:  descriptorTypes[binding.Type],
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageAll),
		}
	}
	createInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(layoutBindings)),
		PBindings:    layoutBindings,
	}
	var layout vk.DescriptorSetLayout
	if err := vkError("vkCreateDescriptorSetLayout", vk.CreateDescriptorSetLayout(a.context.Device.LogicalDevice, &createInfo, a.context.Allocator, &layout)); err != nil {
		return nil, err
	}
	a.layouts[key] = layout
	return layout, nil
}

// imageView resolves a binding to the view of its image.
func (a *DescriptorAllocator) imageView(h graph.Handle) (vk.ImageView, bool) {
	a.mu.Lock()
	resources := a.resources
	a.mu.Unlock()
	if resources == nil {
		return nil, false
	}
	info, ok := resources.Lookup(h)
	if !ok {
		return nil, false
	}
	var view vk.ImageView
	a.allocator.with(func(lookup func(graph.NativeImage) (*VulkanImage, bool)) {
		if image, ok := lookup(info.Native); ok {
			view = image.View
		}
	})
	return view, view != nil
}

// UpdateDescriptorSets writes the image bindings of sets with a single
// vkUpdateDescriptorSets call.
func (a *DescriptorAllocator) UpdateDescriptorSets(sets []graph.DescriptorSetSnapshot) error {
	writes := descriptorWrites(sets, a.imageView)
	if len(writes) > 0 {
		vk.UpdateDescriptorSets(a.context.Device.LogicalDevice, uint32(len(writes)), writes, 0, nil)
	}
	return nil
}

// descriptorWrites builds the writes for every image binding of sets. Buffer
// bindings and sets without a handle are skipped.
func descriptorWrites(sets []graph.DescriptorSetSnapshot, imageView func(graph.Handle) (vk.ImageView, bool)) []vk.WriteDescriptorSet {
	var writes []vk.WriteDescriptorSet
	for _, snapshot := range sets {
		if snapshot.Set == nil {
			continue
		}
		for _, binding := range snapshot.Bindings {
			switch binding.Type {
			case graph.BindingTypeSampledImage, graph.BindingTypeStorageImage:
				view, ok := imageView(binding.Resource)
				if !ok {
					core.LogWarn("binding %d: %s does not resolve to an image view", binding.Location, binding.Resource)
					continue
				}
				writes = append(writes, vk.WriteDescriptorSet{
					SType:           vk.StructureTypeWriteDescriptorSet,
					DstSet:          snapshot.Set,
					DstBinding:      binding.Location,
					DescriptorCount: 1,
					DescriptorType:  descriptorTypes[binding.Type],
					PImageInfo: []vk.DescriptorImageInfo{{
						ImageView:   view,
						ImageLayout: vk.ImageLayoutGeneral,
					}},
				})
			default:
				core.LogDebug("binding %d: buffer resources are written by their owner", binding.Location)
			}
		}
	}
	return writes
}

// Destroy releases every pool and layout. The device must be idle.
func (a *DescriptorAllocator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()
	device := a.context.Device.LogicalDevice
	for _, pool := range a.pools {
		vk.DestroyDescriptorPool(device, pool.handle, a.context.Allocator)
	}
	a.pools = nil
	for key, layout := range a.layouts {
		vk.DestroyDescriptorSetLayout(device, layout, a.context.Allocator)
		delete(a.layouts, key)
	}
}

// DescriptorPool belongs to a single resource pool slot, so it is never used
// from two threads at once.
type DescriptorPool struct {
	allocator *DescriptorAllocator
	handle    vk.DescriptorPool
}

// AllocateDescriptorSet allocates a set without writing it. The bindings are
// written by UpdateDescriptorSets before the set is used.
func (p *DescriptorPool) AllocateDescriptorSet(bindings []graph.Binding) (vk.DescriptorSet, error) {
	layout, err := p.allocator.layout(bindings)
	if err != nil {
		return nil, err
	}

	allocateInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     p.handle,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{layout},
	}
	var set vk.DescriptorSet
	result := vk.AllocateDescriptorSets(p.allocator.context.Device.LogicalDevice, &allocateInfo, &set)
	switch result {
	case vk.Success:
		return set, nil
	case vk.ErrorOutOfPoolMemory, vk.ErrorFragmentedPool:
		return nil, fmt.Errorf("%w: %s", gpu.ErrDescriptorPoolFull, VulkanResultString(result))
	}
	return nil, vkError("vkAllocateDescriptorSets", result)
}

// Reset returns every set allocated from the pool.
func (p *DescriptorPool) Reset() {
	device := p.allocator.context.Device.LogicalDevice
	if err := vkError("vkResetDescriptorPool", vk.ResetDescriptorPool(device, p.handle, 0)); err != nil {
		core.LogError(err.Error())
	}
}

var _ gpu.DescriptorAllocator = (*DescriptorAllocator)(nil)
