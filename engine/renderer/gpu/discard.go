package gpu

import (
	"sync"

	"github.com/spaghettifunk/anima-gpu/engine/containers"
)

type discardEntry struct {
	texture *Texture
	stamp   uint64
}

// DiscardPool holds textures that may still be referenced by submitted work.
// Entries are kept in stamp order and released once the timeline has reached
// their stamp.
type DiscardPool struct {
	mu      sync.Mutex
	entries *containers.RingQueue[discardEntry]
}

func NewDiscardPool() *DiscardPool {
	return &DiscardPool{
		entries: containers.NewRingQueue[discardEntry](16),
	}
}

// DiscardTexture retires t. It may be freed once the timeline reaches stamp.
func (p *DiscardPool) DiscardTexture(t *Texture, stamp uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries.Enqueue(discardEntry{texture: t, stamp: stamp})
}

// MoveTo transfers every entry to dst, restamped with stamp. Callers must
// pass stamps that never decrease for a given destination.
func (p *DiscardPool) MoveTo(dst *DiscardPool, stamp uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.entries.IsEmpty() {
		return
	}
	dst.mu.Lock()
	defer dst.mu.Unlock()
	for {
		e, ok := p.entries.Dequeue()
		if !ok {
			return
		}
		e.stamp = stamp
		dst.entries.Enqueue(e)
	}
}

// Destroy frees the entries whose stamp has been completed and returns how
// many were freed. An entry is never freed before every older entry.
func (p *DiscardPool) Destroy(completed uint64, free func(*Texture)) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for {
		e, ok := p.entries.Peek()
		if !ok || e.stamp > completed {
			return n
		}
		p.entries.Dequeue()
		free(e.texture)
		n++
	}
}

func (p *DiscardPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.entries.Len()
}
