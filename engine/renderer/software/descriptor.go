package software

import (
	"fmt"
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-gpu/engine/renderer/gpu"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/graph"
)

const descriptorPoolCapacity = 256

// DescriptorAllocator remembers the bindings written for every descriptor
// set until a node consumes them, so the executor can tell a set that was
// never written from one that was.
type DescriptorAllocator struct {
	capacity int

	mu      sync.Mutex
	pools   int
	writes  int
	written map[uint64][]graph.Binding
}

// NewDescriptorAllocator creates pools that hold capacity sets each.
func NewDescriptorAllocator(capacity int) *DescriptorAllocator {
	if capacity < 1 {
		capacity = 1
	}
	return &DescriptorAllocator{
		capacity: capacity,
		written:  make(map[uint64][]graph.Binding),
	}
}

func (a *DescriptorAllocator) NewDescriptorPool() (gpu.DescriptorPool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pools++
	return &descriptorPool{capacity: a.capacity}, nil
}

func (a *DescriptorAllocator) UpdateDescriptorSets(sets []graph.DescriptorSetSnapshot) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range sets {
		a.written[s.ID] = s.Bindings
	}
	a.writes++
	return nil
}

// consume returns the bindings written for set id and forgets them. Every
// set belongs to exactly one node.
func (a *DescriptorAllocator) consume(id uint64) ([]graph.Binding, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	bindings, ok := a.written[id]
	delete(a.written, id)
	return bindings, ok
}

// Pools returns the number of pools created.
func (a *DescriptorAllocator) Pools() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pools
}

// Writes returns the number of UpdateDescriptorSets batches.
func (a *DescriptorAllocator) Writes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.writes
}

type descriptorPool struct {
	capacity int
	used     int
}

func (p *descriptorPool) AllocateDescriptorSet([]graph.Binding) (vk.DescriptorSet, error) {
	if p.used == p.capacity {
		return nil, fmt.Errorf("%w: %d sets", gpu.ErrDescriptorPoolFull, p.capacity)
	}
	p.used++
	return nil, nil
}

func (p *descriptorPool) Reset() {
	p.used = 0
}
