package gpu_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/tiff"

	"github.com/spaghettifunk/anima-gpu/engine/core"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/gpu"
)

func TestDebugCaptureWritesReportAndBackbuffer(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t, func(cfg *core.Config) {
		cfg.Debug.CaptureDir = dir
	})
	h.ctx.Activate(mainThread)

	require.True(t, h.ctx.DebugCaptureBegin("frame one"))
	assert.False(t, h.ctx.DebugCaptureBegin("frame two"))

	h.ctx.DebugGroupBegin("scene", 0)
	h.ctx.Clear([4]float32{0, 0, 1, 1})
	h.ctx.DebugGroupEnd()
	h.present(t)
	h.ctx.DebugCaptureEnd()
	assert.False(t, h.ctx.IsCapturing())

	reports, err := filepath.Glob(filepath.Join(dir, "frame_one-*.txt"))
	require.NoError(t, err)
	require.Len(t, reports, 1)
	report, err := os.ReadFile(reports[0])
	require.NoError(t, err)
	assert.Contains(t, string(report), `capture "frame one"`)
	assert.Contains(t, string(report), "clear_color_image: 1")
	assert.Contains(t, string(report), "blit_image: 1")

	images, err := filepath.Glob(filepath.Join(dir, "frame_one-*.tiff"))
	require.NoError(t, err)
	require.Len(t, images, 1)
	f, err := os.Open(images[0])
	require.NoError(t, err)
	defer f.Close()
	img, err := tiff.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 800, img.Bounds().Dx())
	assert.Equal(t, 600, img.Bounds().Dy())
	_, _, b, _ := img.At(0, 0).RGBA()
	assert.Equal(t, uint32(0xffff), b)
}

func TestDebugCaptureDisabledWithoutDirectory(t *testing.T) {
	h := newHarness(t, nil)
	h.ctx.Activate(mainThread)

	assert.False(t, h.ctx.DebugCaptureBegin("nothing"))
	h.ctx.DebugCaptureEnd()
	assert.False(t, h.ctx.IsCapturing())
}

func TestDebugCaptureScopes(t *testing.T) {
	h := newHarness(t, func(cfg *core.Config) {
		cfg.Debug.CaptureDir = t.TempDir()
	})
	h.ctx.Activate(mainThread)

	scope := h.ctx.DebugCaptureScopeCreate("draw-pass")
	other := h.ctx.DebugCaptureScopeCreate("compute-pass")
	assert.NotEqual(t, scope.ID, other.ID)

	assert.False(t, h.ctx.DebugCaptureScopeBegin(&gpu.CaptureScope{ID: uuid.New(), Name: "unknown"}))
	require.True(t, h.ctx.DebugCaptureScopeBegin(scope))
	assert.False(t, h.ctx.DebugCaptureScopeBegin(other))

	h.ctx.DebugCaptureScopeEnd(other)
	assert.True(t, h.ctx.IsCapturing())
	h.ctx.DebugCaptureScopeEnd(scope)
	assert.False(t, h.ctx.IsCapturing())
}
