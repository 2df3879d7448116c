// Package hud composites tracked entities and a themed overlay onto video
// frames. It only reads tracking state, apart from advancing the decorative
// rotation of each entity.
package hud

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math/rand/v2"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/image/draw"
	"golang.org/x/image/vector"

	"github.com/dj-oyu/vision-hud/internal/logger"
	"github.com/dj-oyu/vision-hud/internal/metrics"
	"github.com/dj-oyu/vision-hud/internal/tracker"
	"github.com/dj-oyu/vision-hud/pkg/types"
)

// Config holds compositor parameters.
type Config struct {
	Mode          Mode
	WrapColumns   int     // Character budget per description line
	DistanceScale float64 // Distance estimate is DistanceScale / box width
	RotationStep  float64 // Radians added to every entity per rendered frame
	JPEGQuality   int
}

// DefaultConfig returns the compositor defaults.
func DefaultConfig() Config {
	return Config{
		Mode:          ModeTactical,
		WrapColumns:   28,
		DistanceScale: 250,
		RotationStep:  0.05,
		JPEGQuality:   80,
	}
}

// View is the tracker surface the compositor needs.
type View interface {
	Snapshot() []tracker.Entity
	AdvanceRotation(delta float64)
}

// Surface is the overlay canvas sized to the video's native resolution.
type Surface struct {
	img *image.RGBA
}

// Resize recreates the canvas when the size changed and reports whether it did.
func (s *Surface) Resize(width, height int) bool {
	if width <= 0 || height <= 0 {
		return false
	}
	if s.img != nil && s.img.Rect.Dx() == width && s.img.Rect.Dy() == height {
		return false
	}
	s.img = image.NewRGBA(image.Rect(0, 0, width, height))
	return true
}

// Image returns the canvas, or nil before the first Resize.
func (s *Surface) Image() *image.RGBA {
	return s.img
}

// Compositor renders HUD frames. Render must be called from a single
// goroutine; SetMode and Mode are safe from anywhere.
type Compositor struct {
	cfg     Config
	mode    atomic.Int32
	metrics *metrics.Metrics

	surface Surface
	raster  *vector.Rasterizer
	rain    []rainDrop
	rng     *rand.Rand
	frames  uint64
}

// New creates a compositor. m may be nil.
func New(cfg Config, m *metrics.Metrics) *Compositor {
	if cfg.WrapColumns <= 0 {
		cfg.WrapColumns = 28
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = 80
	}
	if !cfg.Mode.Valid() {
		cfg.Mode = ModeTactical
	}
	c := &Compositor{
		cfg:     cfg,
		metrics: m,
		raster:  vector.NewRasterizer(0, 0),
		rng:     rand.New(rand.NewPCG(7, 11)),
	}
	c.mode.Store(int32(cfg.Mode))
	return c
}

// SetMode switches the visual theme from the next frame on.
func (c *Compositor) SetMode(m Mode) error {
	if !m.Valid() {
		return fmt.Errorf("invalid HUD mode %d", int(m))
	}
	if old := Mode(c.mode.Swap(int32(m))); old != m {
		logger.Info("HUD", "mode %s -> %s", old, m)
	}
	return nil
}

// Mode returns the active theme.
func (c *Compositor) Mode() Mode {
	return Mode(c.mode.Load())
}

// Render composites one HUD frame. The returned image is reused by the next
// call. ok is false when the frame has nothing to draw on.
func (c *Compositor) Render(frame *types.Frame, view View) (img *image.RGBA, ok bool) {
	start := time.Now()
	if frame.Empty() {
		if c.metrics != nil {
			c.metrics.FramesSkipped.Add(1)
		}
		return nil, false
	}

	if c.surface.Resize(frame.Width, frame.Height) {
		logger.Info("HUD", "surface resized to %dx%d", frame.Width, frame.Height)
		c.resetRain(frame.Width, frame.Height)
	}
	dst := c.surface.Image()
	draw.Draw(dst, dst.Bounds(), frame.Image, frame.Image.Bounds().Min, draw.Src)

	st := styles[c.Mode()]
	if st.background != nil {
		st.background(c, dst)
	}

	view.AdvanceRotation(c.cfg.RotationStep)
	for _, e := range view.Snapshot() {
		c.drawEntity(dst, st, e)
	}
	c.frames++

	if c.metrics != nil {
		c.metrics.FramesRendered.Add(1)
		c.metrics.UpdateRenderLatency(time.Since(start))
	}
	return dst, true
}

// RenderJPEG renders a frame and JPEG-encodes it.
func (c *Compositor) RenderJPEG(frame *types.Frame, view View) ([]byte, bool) {
	img, ok := c.Render(frame, view)
	if !ok {
		return nil, false
	}
	var buf bytes.Buffer
	buf.Grow(img.Rect.Dx() * img.Rect.Dy() / 8)
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: c.cfg.JPEGQuality}); err != nil {
		logger.Error("HUD", "jpeg encode failed: %v", err)
		return nil, false
	}
	return buf.Bytes(), true
}

var (
	bodyColor      = color.RGBA{235, 235, 235, 255}
	analyzingColor = color.RGBA{255, 200, 0, 255}
)

func (c *Compositor) drawEntity(dst *image.RGBA, st style, e tracker.Entity) {
	r := e.Smooth.Rect()
	if r.Empty() {
		return
	}
	col := st.color(e)
	st.indicator(dst, r, col)

	if st.reticle {
		cx, cy := e.Smooth.Center()
		radius := max(6, min(24, float64(min(r.Dx(), r.Dy()))/6))
		reticle(dst, c.raster, cx, cy, radius, e.Rotation, col)
	}

	a := c.annotate(e)
	x := r.Min.X
	y := r.Min.Y - 4
	if y-glyphH < 0 {
		y = r.Min.Y + glyphH + 2
	}
	labelText(dst, x, y, a.label, col)

	y = r.Max.Y + lineHeight
	labelText(dst, x, y, a.status, col)

	bc := color.Color(bodyColor)
	if a.analyzing {
		bc = analyzingColor
	}
	for _, line := range a.body {
		y += lineHeight
		labelText(dst, x, y, line, bc)
	}
}

type annotation struct {
	label     string
	status    string
	body      []string
	analyzing bool
}

// annotate builds the text drawn around an entity.
func (c *Compositor) annotate(e tracker.Entity) annotation {
	a := annotation{
		label: fmt.Sprintf("#%d %s %d%%", e.ID, strings.ToUpper(e.Label), int(e.Confidence*100+0.5)),
	}

	motion := "STATIC"
	if e.Moving {
		motion = "MOVING"
	}
	a.status = fmt.Sprintf("%s  %s  THREAT %s", motion, formatDistance(EstimateDistance(e.Smooth.W, c.cfg.DistanceScale)), TierOf(e.Threat))

	switch {
	case e.Analyzing:
		a.analyzing = true
		a.body = []string{"ANALYZING" + strings.Repeat(".", int(c.frames/10%4))}
	case e.Description != "":
		a.body = WrapText(e.Description, c.cfg.WrapColumns)
	}
	return a
}

// EstimateDistance is the inverse-width range estimate, 0 when unknown.
func EstimateDistance(width, scale float64) float64 {
	if width <= 0 || scale <= 0 {
		return 0
	}
	return scale / width
}

func formatDistance(d float64) string {
	if d <= 0 {
		return "RNG --"
	}
	return fmt.Sprintf("RNG %.1fm", d)
}
