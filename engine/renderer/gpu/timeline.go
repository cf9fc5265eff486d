package gpu

import (
	"context"
	"errors"
	"sync"

	"github.com/spaghettifunk/anima-gpu/engine/core"
)

var ErrTimelineRegression = errors.New("timeline completion moved backwards")

// Timeline counts submissions. Every submission reserves the next value and
// the value is completed once the GPU has finished executing it.
type Timeline struct {
	mu        sync.Mutex
	submitted uint64
	completed uint64
	changed   chan struct{}
}

func NewTimeline() *Timeline {
	return &Timeline{changed: make(chan struct{})}
}

// Reserve returns the value the next submission signals.
func (t *Timeline) Reserve() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.submitted++
	return t.submitted
}

func (t *Timeline) Submitted() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.submitted
}

func (t *Timeline) Completed() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completed
}

func (t *Timeline) IsComplete(value uint64) bool {
	return t.Completed() >= value
}

// Complete marks every value up to and including value as finished.
func (t *Timeline) Complete(value uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	core.Assert(value >= t.completed, ErrTimelineRegression, "%d < %d", value, t.completed)
	if value == t.completed {
		return
	}
	t.completed = value
	close(t.changed)
	t.changed = make(chan struct{})
}

// Wait blocks until value is completed or ctx is done.
func (t *Timeline) Wait(ctx context.Context, value uint64) error {
	for {
		t.mu.Lock()
		if t.completed >= value {
			t.mu.Unlock()
			return nil
		}
		changed := t.changed
		t.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
