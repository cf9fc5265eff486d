package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventBusDeliversInRegistrationOrder(t *testing.T) {
	bus := NewEventBus()
	var order []string
	first := func(code SystemEventCode, sender, listener interface{}, data EventContext) bool {
		order = append(order, "first")
		return false
	}
	second := func(code SystemEventCode, sender, listener interface{}, data EventContext) bool {
		order = append(order, "second")
		return false
	}
	assert.True(t, bus.Register(EVENT_CODE_RESIZED, "a", first))
	assert.True(t, bus.Register(EVENT_CODE_RESIZED, "b", second))

	assert.False(t, bus.Fire(EVENT_CODE_RESIZED, nil, EventContext{}))
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestEventBusHandledEventStops(t *testing.T) {
	bus := NewEventBus()
	calls := 0
	handler := func(code SystemEventCode, sender, listener interface{}, data EventContext) bool {
		calls++
		return true
	}
	bus.Register(EVENT_CODE_APPLICATION_QUIT, "a", handler)
	bus.Register(EVENT_CODE_APPLICATION_QUIT, "b", handler)

	assert.True(t, bus.Fire(EVENT_CODE_APPLICATION_QUIT, nil, EventContext{}))
	assert.Equal(t, 1, calls)
}

func TestEventBusRejectsDuplicateListener(t *testing.T) {
	bus := NewEventBus()
	noop := func(SystemEventCode, interface{}, interface{}, EventContext) bool { return false }
	assert.True(t, bus.Register(EVENT_CODE_RESIZED, "a", noop))
	assert.False(t, bus.Register(EVENT_CODE_RESIZED, "a", noop))
	assert.True(t, bus.Register(EVENT_CODE_APPLICATION_QUIT, "a", noop))
}

func TestEventBusUnregister(t *testing.T) {
	bus := NewEventBus()
	var width uint32
	bus.Register(EVENT_CODE_RESIZED, "a", func(code SystemEventCode, sender, listener interface{}, data EventContext) bool {
		width = data.Data.U32[0]
		return true
	})

	var data EventContext
	data.Data.U32[0] = 1280
	assert.True(t, bus.Fire(EVENT_CODE_RESIZED, nil, data))
	assert.Equal(t, uint32(1280), width)

	assert.True(t, bus.Unregister(EVENT_CODE_RESIZED, "a"))
	assert.False(t, bus.Unregister(EVENT_CODE_RESIZED, "a"))
	assert.False(t, bus.Fire(EVENT_CODE_RESIZED, nil, data))
}
