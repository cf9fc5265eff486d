package containers

// Ring is a fixed number of slots where exactly one is current. Advancing
// wraps around deterministically, so with n slots the slot that is current
// on cycle k is current again on cycle k+n.
type Ring[T any] struct {
	data  []T
	index int
}

// NewRing creates a ring of size slots, each filled by calling create with
// the slot index.
func NewRing[T any](size int, create func(index int) T) *Ring[T] {
	if size < 1 {
		size = 1
	}
	r := &Ring[T]{
		data: make([]T, size),
	}
	for i := range r.data {
		r.data[i] = create(i)
	}
	return r
}

// Current returns the value in the current slot.
func (r *Ring[T]) Current() T {
	return r.data[r.index]
}

// Index returns the position of the current slot.
func (r *Ring[T]) Index() int {
	return r.index
}

// Next makes the following slot current and returns it.
func (r *Ring[T]) Next() T {
	r.index = (r.index + 1) % len(r.data)
	return r.data[r.index]
}

// Peek returns the slot that Next would make current without advancing.
func (r *Ring[T]) Peek() T {
	return r.data[(r.index+1)%len(r.data)]
}

func (r *Ring[T]) Size() int {
	return len(r.data)
}

// RingQueue is a FIFO backed by a circular buffer. It doubles its capacity
// when full instead of rejecting values.
type RingQueue[T any] struct {
	data       []T
	readIndex  int
	writeIndex int
	count      int
}

// Create a new RingQueue
func NewRingQueue[T any](size int) *RingQueue[T] {
	if size < 1 {
		size = 1
	}
	return &RingQueue[T]{
		data: make([]T, size),
	}
}

// Enqueue adds an element to the queue
func (rq *RingQueue[T]) Enqueue(value T) {
	if rq.IsFull() {
		rq.grow()
	}
	rq.data[rq.writeIndex] = value
	rq.writeIndex = (rq.writeIndex + 1) % len(rq.data)
	rq.count++
}

// Dequeue removes and returns the front element in the queue
func (rq *RingQueue[T]) Dequeue() (T, bool) {
	var zero T
	if rq.IsEmpty() {
		return zero, false
	}
	value := rq.data[rq.readIndex]
	rq.data[rq.readIndex] = zero
	rq.readIndex = (rq.readIndex + 1) % len(rq.data)
	rq.count--
	return value, true
}

// Peek returns the front element without removing it
func (rq *RingQueue[T]) Peek() (T, bool) {
	if rq.IsEmpty() {
		var zero T
		return zero, false
	}
	return rq.data[rq.readIndex], true
}

func (rq *RingQueue[T]) Len() int {
	return rq.count
}

// IsEmpty checks if the queue is empty
func (rq *RingQueue[T]) IsEmpty() bool {
	return rq.count == 0
}

// IsFull checks if the queue is full
func (rq *RingQueue[T]) IsFull() bool {
	return rq.count == len(rq.data)
}

func (rq *RingQueue[T]) grow() {
	data := make([]T, len(rq.data)*2)
	for i := 0; i < rq.count; i++ {
		data[i] = rq.data[(rq.readIndex+i)%len(rq.data)]
	}
	rq.data = data
	rq.readIndex = 0
	rq.writeIndex = rq.count
}
