package gpu

import (
	"bufio"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/image/tiff"

	"github.com/spaghettifunk/anima-gpu/engine/core"
	"github.com/spaghettifunk/anima-gpu/engine/renderer/graph"
)

var debugGroupColors = [][4]float32{
	{1.0, 0.4, 0.4, 1.0},
	{0.4, 1.0, 0.4, 1.0},
	{0.4, 0.4, 1.0, 1.0},
	{1.0, 1.0, 0.4, 1.0},
}

// DebugGroupBegin opens a named debug group. Groups stay open across graph
// renewal until the matching DebugGroupEnd.
func (c *Context) DebugGroupBegin(name string, index int) {
	core.Assert(c.renderGraph != nil, ErrNoRenderGraph, "debug group %s", name)
	c.debugStack = append(c.debugStack, name)
	c.renderGraph.DebugGroupBegin(name, debugGroupColors[index%len(debugGroupColors)])
}

func (c *Context) DebugGroupEnd() {
	core.Assert(len(c.debugStack) > 0, ErrDebugGroupUnbalanced, "context %s", c.id)
	core.Assert(c.renderGraph != nil, ErrNoRenderGraph, "debug group %s", c.debugStack[len(c.debugStack)-1])
	c.debugStack = c.debugStack[:len(c.debugStack)-1]
	c.renderGraph.DebugGroupEnd()
}

// DebugGroups returns the names of the open debug groups, outermost first.
func (c *Context) DebugGroups() []string {
	return append([]string(nil), c.debugStack...)
}

// CaptureScope names a region of frames that can be captured on demand.
type CaptureScope struct {
	ID   uuid.UUID
	Name string
}

type captureEntry struct {
	stamp     uint64
	submitted bool
	groups    []string
	nodes     map[graph.NodeType]int
}

type debugCapture struct {
	id      uuid.UUID
	title   string
	scope   *CaptureScope
	started time.Time
	records []captureEntry
}

// DebugCaptureBegin starts recording a summary of every flush. It returns
// false when captures are disabled or one is already running.
func (c *Context) DebugCaptureBegin(title string) bool {
	return c.debugCaptureBegin(title, nil)
}

func (c *Context) debugCaptureBegin(title string, scope *CaptureScope) bool {
	if c.debug.CaptureDir == "" || c.capture != nil {
		return false
	}
	c.capture = &debugCapture{
		id:      uuid.New(),
		title:   title,
		scope:   scope,
		started: time.Now(),
	}
	core.LogInfo("debug capture %q started", title)
	return true
}

// DebugCaptureEnd submits outstanding work, then writes the capture report
// and a TIFF of the backbuffer into the capture directory.
func (c *Context) DebugCaptureEnd() {
	if c.capture == nil {
		return
	}
	if c.active.Load() && c.renderGraph != nil {
		c.Finish()
	}
	capture := c.capture
	c.capture = nil

	if err := c.writeCapture(capture); err != nil {
		core.LogError("failed to write debug capture %q: %s", capture.title, err)
		return
	}
	core.LogInfo("debug capture %q written (%d flushes)", capture.title, len(capture.records))
}

// DebugCaptureScopeCreate registers a named capture scope.
func (c *Context) DebugCaptureScopeCreate(name string) *CaptureScope {
	scope := &CaptureScope{ID: uuid.New(), Name: name}
	c.captureScopes[scope.ID] = scope
	return scope
}

// DebugCaptureScopeBegin starts a capture titled after scope. It returns false
// when the scope is unknown or no capture could be started.
func (c *Context) DebugCaptureScopeBegin(scope *CaptureScope) bool {
	if scope == nil || c.captureScopes[scope.ID] == nil {
		return false
	}
	return c.debugCaptureBegin(scope.Name, scope)
}

// DebugCaptureScopeEnd ends the capture started by scope.
func (c *Context) DebugCaptureScopeEnd(scope *CaptureScope) {
	if c.capture == nil || scope == nil || c.capture.scope != scope {
		return
	}
	c.DebugCaptureEnd()
}

func (c *Context) IsCapturing() bool {
	return c.capture != nil
}

func (c *Context) captureRecord(g *graph.RenderGraph, submitted bool) {
	if c.capture == nil {
		return
	}
	nodes := make(map[graph.NodeType]int)
	for _, n := range g.Nodes() {
		nodes[n.Type()]++
	}
	c.capture.records = append(c.capture.records, captureEntry{
		submitted: submitted,
		groups:    c.DebugGroups(),
		nodes:     nodes,
	})
}

func (c *Context) captureStamp(stamp uint64) {
	if c.capture == nil || len(c.capture.records) == 0 {
		return
	}
	c.capture.records[len(c.capture.records)-1].stamp = stamp
}

func captureFileName(capture *debugCapture, ext string) string {
	title := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, capture.title)
	return fmt.Sprintf("%s-%s.%s", title, capture.id, ext)
}

func (c *Context) writeCapture(capture *debugCapture) error {
	if err := os.MkdirAll(c.debug.CaptureDir, 0o755); err != nil {
		return fmt.Errorf("failed to create capture directory: %w", err)
	}

	report, err := os.Create(filepath.Join(c.debug.CaptureDir, captureFileName(capture, "txt")))
	if err != nil {
		return fmt.Errorf("failed to create capture report: %w", err)
	}
	defer report.Close()

	w := bufio.NewWriter(report)
	fmt.Fprintf(w, "capture %q (%s)\n", capture.title, capture.id)
	fmt.Fprintf(w, "context %s, started %s\n", c.id, capture.started.Format(time.RFC3339))
	for i, r := range capture.records {
		fmt.Fprintf(w, "flush %d: submitted=%t stamp=%d groups=[%s]\n", i, r.submitted, r.stamp, strings.Join(r.groups, "/"))
		for t := graph.NodeTypeDraw; t <= graph.NodeTypeDebugGroupEnd; t++ {
			if n := r.nodes[t]; n > 0 {
				fmt.Fprintf(w, "  %s: %d\n", t, n)
			}
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write capture report: %w", err)
	}

	if c.surfaceTexture == nil {
		return nil
	}
	return c.writeBackbuffer(filepath.Join(c.debug.CaptureDir, captureFileName(capture, "tiff")))
}

func (c *Context) writeBackbuffer(path string) error {
	extent, texels, err := c.device.allocator.ReadImage(c.surfaceTexture.Native)
	if err != nil {
		return fmt.Errorf("failed to read backbuffer: %w", err)
	}

	img := image.NewRGBA64(image.Rect(0, 0, int(extent.Width), int(extent.Height)))
	for y := 0; y < int(extent.Height); y++ {
		for x := 0; x < int(extent.Width); x++ {
			i := (y*int(extent.Width) + x) * 4
			if i+3 >= len(texels) {
				break
			}
			img.SetRGBA64(x, y, color.RGBA64{
				R: unorm16(texels[i]),
				G: unorm16(texels[i+1]),
				B: unorm16(texels[i+2]),
				A: unorm16(texels[i+3]),
			})
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create backbuffer image: %w", err)
	}
	defer f.Close()
	if err := tiff.Encode(f, img, &tiff.Options{Compression: tiff.Deflate}); err != nil {
		return fmt.Errorf("failed to encode backbuffer image: %w", err)
	}
	return nil
}

func unorm16(v float32) uint16 {
	return uint16(core.Clamp(v, 0, 1)*65535 + 0.5)
}
