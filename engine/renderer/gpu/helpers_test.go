package gpu_test

import (
	"errors"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-gpu/engine/core"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/gpu"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/software"
)

const mainThread gpu.ThreadID = 1

func TestMain(m *testing.M) {
	core.SetLogOutput(io.Discard)
	os.Exit(m.Run())
}

type harness struct {
	cfg     *core.Config
	backend *software.Backend
	ctx     *gpu.Context
}

func newHarness(t *testing.T, configure func(cfg *core.Config)) *harness {
	t.Helper()
	cfg := core.DefaultConfig()
	cfg.Renderer.Backend = core.BackendSoftware
	if configure != nil {
		configure(cfg)
	}
	backend, err := software.NewBackend(cfg)
	require.NoError(t, err)

	h := &harness{
		cfg:     cfg,
		backend: backend,
		ctx:     gpu.NewContext(backend.Device, backend.Presenter, cfg.Debug),
	}
	t.Cleanup(func() {
		backend.Executor.Resume()
		if h.ctx.IsActive() {
			h.ctx.Deactivate()
		}
		h.ctx.Close()
		require.NoError(t, backend.Close())
	})
	return h
}

func (h *harness) present(t *testing.T) {
	t.Helper()
	require.NoError(t, gpu.Present(h.backend.Device, mainThread, h.backend.Presenter))
}

func testShader() *gpu.Shader {
	return &gpu.Shader{
		Name:              "test",
		BindingCount:      1,
		UsesPushConstants: true,
	}
}

// requireViolation runs fn and requires it to break the contract want.
func requireViolation(t *testing.T, want error, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected contract violation %q", want)
		err, ok := r.(error)
		require.True(t, ok, "panic value %v is not an error", r)
		var ae *core.AssertionError
		require.True(t, errors.As(err, &ae))
		require.ErrorIs(t, err, want)
	}()
	fn()
}
