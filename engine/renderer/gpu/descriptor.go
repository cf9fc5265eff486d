package gpu

import (
	"errors"
	"fmt"
	"sync/atomic"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-gpu/engine/renderer/graph"
)

// DescriptorPools allocates the descriptor sets of one resource pool slot.
// When the current pool is full the next one is used, creating it on first
// use. Without an allocator sets are tracked by id only.
type DescriptorPools struct {
	allocator DescriptorAllocator
	pools     []DescriptorPool
	current   int
	allocated int
}

func NewDescriptorPools(allocator DescriptorAllocator) *DescriptorPools {
	return &DescriptorPools{allocator: allocator}
}

func (p *DescriptorPools) Allocate(bindings []graph.Binding) (vk.DescriptorSet, error) {
	var set vk.DescriptorSet
	if p.allocator == nil {
		p.allocated++
		return set, nil
	}
	for {
		fresh := false
		if p.current == len(p.pools) {
			pool, err := p.allocator.NewDescriptorPool()
			if err != nil {
				return set, fmt.Errorf("failed to create descriptor pool: %w", err)
			}
			p.pools = append(p.pools, pool)
			fresh = true
		}
		set, err := p.pools[p.current].AllocateDescriptorSet(bindings)
		switch {
		case err == nil:
			p.allocated++
			return set, nil
		case errors.Is(err, ErrDescriptorPoolFull) && !fresh:
			p.current++
		default:
			return set, fmt.Errorf("failed to allocate descriptor set: %w", err)
		}
	}
}

// Allocated returns the number of sets handed out since the last reset.
func (p *DescriptorPools) Allocated() int {
	return p.allocated
}

// Pools returns the number of pools created so far.
func (p *DescriptorPools) Pools() int {
	return len(p.pools)
}

// Reset returns the sets of every pool. The pools are kept for reuse.
func (p *DescriptorPools) Reset() {
	p.allocated = 0
	p.current = 0
	for _, pool := range p.pools {
		pool.Reset()
	}
}

// write batches the bindings of sets into the allocator.
func (p *DescriptorPools) write(sets []graph.DescriptorSetSnapshot) error {
	if p.allocator == nil || len(sets) == 0 {
		return nil
	}
	return p.allocator.UpdateDescriptorSets(sets)
}

// descriptorSetIDs numbers snapshots across every tracker so an id names one
// set device wide.
var descriptorSetIDs atomic.Uint64

// DescriptorSetTracker accumulates the resource bindings of the shader about
// to run. UpdateDescriptorSet allocates a set and freezes the bindings into a
// snapshot; Upload writes every pending snapshot right before the graph
// leaves the context.
type DescriptorSetTracker struct {
	bindings []graph.Binding
	access   graph.AccessInfo
	pending  []graph.DescriptorSetSnapshot
	uploads  int
}

func NewDescriptorSetTracker() *DescriptorSetTracker {
	return &DescriptorSetTracker{}
}

// Bind sets the resource at location, replacing any earlier binding there.
func (t *DescriptorSetTracker) Bind(location uint32, bindingType graph.BindingType, resource graph.Handle) {
	b := graph.Binding{Location: location, Type: bindingType, Resource: resource}
	for i := range t.bindings {
		if t.bindings[i].Location == location {
			t.bindings[i] = b
			t.rebuildAccess()
			return
		}
	}
	t.bindings = append(t.bindings, b)
	t.rebuildAccess()
}

func (t *DescriptorSetTracker) rebuildAccess() {
	t.access.Reset()
	for _, b := range t.bindings {
		switch b.Type {
		case graph.BindingTypeStorageBuffer, graph.BindingTypeStorageImage:
			t.access.Reads = append(t.access.Reads, b.Resource)
			t.access.Writes = append(t.access.Writes, b.Resource)
		default:
			t.access.Reads = append(t.access.Reads, b.Resource)
		}
	}
}

// Bindings returns the currently accumulated bindings.
func (t *DescriptorSetTracker) Bindings() []graph.Binding {
	return t.bindings
}

// Access returns a copy of the resources the current bindings read and write.
func (t *DescriptorSetTracker) Access() graph.AccessInfo {
	return t.access.Clone()
}

// UpdateDescriptorSet snapshots the current bindings by value. Later calls to
// Bind do not affect the returned snapshot. The set is written by the next
// Upload.
func (t *DescriptorSetTracker) UpdateDescriptorSet(pools *DescriptorPools) (graph.DescriptorSetSnapshot, error) {
	bindings := append([]graph.Binding(nil), t.bindings...)
	set, err := pools.Allocate(bindings)
	if err != nil {
		return graph.DescriptorSetSnapshot{}, err
	}
	snapshot := graph.DescriptorSetSnapshot{
		ID:       descriptorSetIDs.Add(1),
		Set:      set,
		Bindings: bindings,
	}
	t.pending = append(t.pending, snapshot)
	return snapshot, nil
}

// Upload writes the pending snapshots through pools in one batch. Uploading
// with nothing pending is a no-op.
func (t *DescriptorSetTracker) Upload(pools *DescriptorPools) error {
	if len(t.pending) == 0 {
		return nil
	}
	if err := pools.write(t.pending); err != nil {
		return fmt.Errorf("failed to write %d descriptor sets: %w", len(t.pending), err)
	}
	t.pending = t.pending[:0]
	t.uploads++
	return nil
}

// Pending returns the number of snapshots waiting for Upload.
func (t *DescriptorSetTracker) Pending() int {
	return len(t.pending)
}

// Uploads returns the number of batches written.
func (t *DescriptorSetTracker) Uploads() int {
	return t.uploads
}

// Reset drops all bindings and pending snapshots. Snapshot ids keep
// increasing.
func (t *DescriptorSetTracker) Reset() {
	t.bindings = t.bindings[:0]
	t.access.Reset()
	t.pending = t.pending[:0]
}
