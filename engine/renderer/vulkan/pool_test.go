package vulkan

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSafeCallSerializesGroup(t *testing.T) {
	pool := NewVulkanLockPool()

	var wg sync.WaitGroup
	inside, maxInside := 0, 0
	var mu sync.Mutex
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = pool.SafeCall(ImageManagement, func() error {
				mu.Lock()
				inside++
				if inside > maxInside {
					maxInside = inside
				}
				mu.Unlock()

				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxInside)
}

func TestSafeQueueCallReturnsError(t *testing.T) {
	pool := NewVulkanLockPool()
	want := errors.New("submit failed")

	assert.ErrorIs(t, pool.SafeQueueCall(0, func() error { return want }), want)
	// The lock is released after an error.
	assert.NoError(t, pool.SafeQueueCall(0, func() error { return nil }))
}

func TestVulkanResultHelpers(t *testing.T) {
	assert.Equal(t, "VK_ERROR_OUT_OF_DATE_KHR", VulkanResultString(-1000001004))
	assert.True(t, VulkanResultIsSuccess(1))
	assert.False(t, VulkanResultIsSuccess(-4))
	assert.Equal(t, "abc\x00", VulkanSafeString("abc"))
	assert.Equal(t, 2, FindFirstZeroInByteArray([]byte{'a', 'b', 0, 'c'}))
	assert.Equal(t, 3, FindFirstZeroInByteArray([]byte("abc")))
}
