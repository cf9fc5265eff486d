package graph

import (
	"fmt"
	"sync"
)

// Handle identifies a resource tracked by the device. The zero Handle is
// never issued.
type Handle uint64

const InvalidHandle Handle = 0

func (h Handle) index() uint32      { return uint32(h&0xFFFFFFFF) - 1 }
func (h Handle) generation() uint32 { return uint32(h >> 32) }

func (h Handle) String() string {
	if h == InvalidHandle {
		return "handle(invalid)"
	}
	return fmt.Sprintf("handle(%d:%d)", h.index(), h.generation())
}

// NativeImage is the backend-side identity of an image. Backends map it to
// their own objects.
type NativeImage uint64

type ResourceInfo struct {
	Handle Handle
	Native NativeImage
	Layers uint32
	Name   string
}

type resourceSlot struct {
	info       ResourceInfo
	generation uint32
	used       bool
}

// Resources tracks the images that render graph nodes may refer to. Free
// slots are reused; the generation stored in the handle keeps a stale handle
// from resolving to the slot's new owner.
type Resources struct {
	mu      sync.RWMutex
	slots   []resourceSlot
	natives map[NativeImage]Handle
}

func NewResources() *Resources {
	return &Resources{
		slots:   make([]resourceSlot, 0, 100),
		natives: make(map[NativeImage]Handle),
	}
}

// AddImage starts tracking a native image. Adding an image twice returns the
// existing handle.
func (r *Resources) AddImage(native NativeImage, layers uint32, name string) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.natives[native]; ok {
		return h
	}

	index := -1
	for i := range r.slots {
		// Existing free spot. Take it.
		if !r.slots[i].used {
			index = i
			break
		}
	}
	// No existing free slots, push one.
	if index == -1 {
		r.slots = append(r.slots, resourceSlot{})
		index = len(r.slots) - 1
	}

	slot := &r.slots[index]
	slot.generation++
	slot.used = true
	h := Handle(uint64(slot.generation)<<32 | uint64(index+1))
	slot.info = ResourceInfo{
		Handle: h,
		Native: native,
		Layers: layers,
		Name:   name,
	}
	r.natives[native] = h
	return h
}

// RemoveImage stops tracking a native image. Unknown images are ignored.
func (r *Resources) RemoveImage(native NativeImage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.natives[native]
	if !ok {
		return
	}
	delete(r.natives, native)
	r.slots[h.index()].used = false
	r.slots[h.index()].info = ResourceInfo{}
}

// Lookup resolves a handle. Handles of removed images do not resolve.
func (r *Resources) Lookup(h Handle) (ResourceInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if h == InvalidHandle || int(h.index()) >= len(r.slots) {
		return ResourceInfo{}, false
	}
	slot := r.slots[h.index()]
	if !slot.used || slot.generation != h.generation() {
		return ResourceInfo{}, false
	}
	return slot.info, true
}

func (r *Resources) HandleOf(native NativeImage) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.natives[native]
	return h, ok
}

// Len returns the number of tracked images.
func (r *Resources) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.natives)
}
