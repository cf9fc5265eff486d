package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResourcesAddImageIsIdempotent(t *testing.T) {
	r := NewResources()
	h1 := r.AddImage(42, 1, "swapchain")
	h2 := r.AddImage(42, 1, "swapchain")

	assert.Equal(t, h1, h2)
	assert.Equal(t, 1, r.Len())

	info, ok := r.Lookup(h1)
	require.True(t, ok)
	assert.Equal(t, NativeImage(42), info.Native)
	assert.Equal(t, "swapchain", info.Name)
}

func TestResourcesStaleHandleDoesNotResolve(t *testing.T) {
	r := NewResources()
	old := r.AddImage(1, 1, "a")
	r.RemoveImage(1)

	_, ok := r.Lookup(old)
	assert.False(t, ok)

	// The freed slot is reused with a new generation.
	fresh := r.AddImage(2, 1, "b")
	assert.NotEqual(t, old, fresh)
	_, ok = r.Lookup(old)
	assert.False(t, ok)

	info, ok := r.Lookup(fresh)
	require.True(t, ok)
	assert.Equal(t, NativeImage(2), info.Native)
}

func TestResourcesUnknownImages(t *testing.T) {
	r := NewResources()
	r.RemoveImage(99)

	_, ok := r.Lookup(InvalidHandle)
	assert.False(t, ok)
	_, ok = r.HandleOf(99)
	assert.False(t, ok)
	assert.Equal(t, "handle(invalid)", InvalidHandle.String())
}
