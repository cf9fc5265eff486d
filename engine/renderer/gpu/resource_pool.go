package gpu

import (
	"context"

	"github.com/spaghettifunk/anima-gpu/engine/containers"
)

// ThreadID identifies the thread that activates a context. Goroutines have no
// identity of their own, so callers pick one per driving goroutine.
type ThreadID uint64

// ResourcePool bundles the transient objects recorded work depends on.
type ResourcePool struct {
	index           int
	Immediate       *Immediate
	DescriptorPools *DescriptorPools
	DescriptorSets  *DescriptorSetTracker
	lastStamp       uint64
}

func newResourcePool(index int, allocator DescriptorAllocator) *ResourcePool {
	return &ResourcePool{
		index:           index,
		Immediate:       NewImmediate(4),
		DescriptorPools: NewDescriptorPools(allocator),
		DescriptorSets:  NewDescriptorSetTracker(),
	}
}

func (p *ResourcePool) Index() int {
	return p.index
}

// LastStamp returns the timeline value of the last submission that used this
// slot.
func (p *ResourcePool) LastStamp() uint64 {
	return p.lastStamp
}

func (p *ResourcePool) markUsed(stamp uint64) {
	if stamp > p.lastStamp {
		p.lastStamp = stamp
	}
}

func (p *ResourcePool) reset() {
	p.Immediate.reset()
	p.DescriptorPools.Reset()
	p.DescriptorSets.Reset()
}

// ThreadData is the per thread state owned by the device: a ring of resource
// pools sized by the number of frames in flight.
type ThreadData struct {
	ID    ThreadID
	pools *containers.Ring[*ResourcePool]
}

func newThreadData(id ThreadID, framesInFlight int, allocator DescriptorAllocator) *ThreadData {
	return &ThreadData{
		ID: id,
		pools: containers.NewRing(framesInFlight, func(i int) *ResourcePool {
			return newResourcePool(i, allocator)
		}),
	}
}

// ResourcePoolGet returns the current slot.
func (td *ThreadData) ResourcePoolGet() *ResourcePool {
	return td.pools.Current()
}

func (td *ThreadData) ResourcePoolIndex() int {
	return td.pools.Index()
}

func (td *ThreadData) ResourcePoolSize() int {
	return td.pools.Size()
}

// ResourcePoolNext makes the next slot current. The slot is only reset and
// handed out once the timeline has completed the last submission that used
// it, so a CPU running more frames ahead than there are slots blocks here.
func (td *ThreadData) ResourcePoolNext(ctx context.Context, timeline *Timeline) (*ResourcePool, error) {
	next := td.pools.Peek()
	if err := timeline.Wait(ctx, next.lastStamp); err != nil {
		return nil, err
	}
	td.pools.Next()
	next.reset()
	return next, nil
}
