package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFrameMetricsAverage(t *testing.T) {
	m := NewFrameMetrics()
	for i := 0; i < int(AVG_COUNT); i++ {
		m.Update(10 * time.Millisecond)
	}
	assert.InDelta(t, 10.0, m.FrameTime(), 1e-9)
	assert.Equal(t, uint64(AVG_COUNT), m.Frames())
}

func TestFrameMetricsFPS(t *testing.T) {
	m := NewFrameMetrics()
	for i := 0; i < 101; i++ {
		m.Update(10 * time.Millisecond)
	}
	assert.InDelta(t, 100.0, m.FPS(), 1)
}

func TestClamp(t *testing.T) {
	assert.Equal(t, uint32(5), Clamp(uint32(1), 5, 10))
	assert.Equal(t, uint32(10), Clamp(uint32(20), 5, 10))
	assert.Equal(t, 0.5, Clamp(0.5, 0.0, 1.0))
}

func TestClockElapsed(t *testing.T) {
	c := NewClock()
	c.Update()
	assert.Zero(t, c.Elapsed())

	c.Start()
	time.Sleep(time.Millisecond)
	c.Update()
	assert.Greater(t, c.Elapsed(), time.Duration(0))

	c.Stop()
	elapsed := c.Elapsed()
	c.Update()
	assert.Equal(t, elapsed, c.Elapsed())
}
