package containers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingWrapsDeterministically(t *testing.T) {
	r := NewRing(2, func(i int) *int { v := i; return &v })

	frame1 := r.Current()
	r.Next()
	r.Next()
	frame3 := r.Current()

	assert.Same(t, frame1, frame3)
	assert.Equal(t, 0, r.Index())
	assert.Equal(t, 1, *r.Peek())
}

func TestRingSizeIsAtLeastOne(t *testing.T) {
	r := NewRing(0, func(i int) int { return i })
	require.Equal(t, 1, r.Size())
	assert.Equal(t, 0, r.Next())
}

func TestRingQueueFIFOAndGrowth(t *testing.T) {
	q := NewRingQueue[int](2)
	for i := 0; i < 5; i++ {
		q.Enqueue(i)
	}
	require.Equal(t, 5, q.Len())

	front, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, 0, front)

	for i := 0; i < 5; i++ {
		v, ok := q.Dequeue()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	_, ok = q.Dequeue()
	assert.False(t, ok)
	assert.True(t, q.IsEmpty())
}

func TestRingQueueGrowAfterWrap(t *testing.T) {
	q := NewRingQueue[string](3)
	q.Enqueue("a")
	q.Enqueue("b")
	q.Dequeue()
	q.Enqueue("c")
	q.Enqueue("d")
	q.Enqueue("e")

	var got []string
	for !q.IsEmpty() {
		v, _ := q.Dequeue()
		got = append(got, v)
	}
	assert.Equal(t, []string{"b", "c", "d", "e"}, got)
}
