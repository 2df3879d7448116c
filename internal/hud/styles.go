package hud

import (
	"image"
	"image/color"
	"math"

	"github.com/dj-oyu/vision-hud/internal/tracker"
)

// style is the per-mode draw strategy. Render looks it up once per frame.
type style struct {
	background func(c *Compositor, dst *image.RGBA)
	indicator  func(dst *image.RGBA, r image.Rectangle, col color.Color)
	color      func(e tracker.Entity) color.Color
	reticle    bool
}

var (
	tacticalGreen = color.RGBA{0, 255, 140, 255}
	matrixGreen   = color.RGBA{40, 255, 70, 255}
	depthCyan     = color.RGBA{0, 200, 255, 255}

	tierColors = map[ThreatTier]color.RGBA{
		TierLow:    {0, 220, 90, 255},
		TierMedium: {255, 180, 0, 255},
		TierHigh:   {255, 40, 40, 255},
	}
)

var styles = [modeCount]style{
	ModeTactical: {
		indicator: bracketIndicator,
		color:     fixedColor(tacticalGreen),
		reticle:   true,
	},
	ModeMatrix: {
		background: (*Compositor).drawRain,
		indicator:  rectIndicator,
		color:      fixedColor(matrixGreen),
	},
	ModeDepth: {
		background: (*Compositor).drawDotGrid,
		indicator:  bracketIndicator,
		color:      fixedColor(depthCyan),
		reticle:    true,
	},
	ModeThreat: {
		indicator: rectIndicator,
		color: func(e tracker.Entity) color.Color {
			return tierColors[TierOf(e.Threat)]
		},
	},
}

func fixedColor(c color.Color) func(tracker.Entity) color.Color {
	return func(tracker.Entity) color.Color { return c }
}

func bracketIndicator(dst *image.RGBA, r image.Rectangle, col color.Color) {
	brackets(dst, r, col, 2)
}

func rectIndicator(dst *image.RGBA, r image.Rectangle, col color.Color) {
	strokeRect(dst, r, col, 2)
}

const rainGlyphs = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ<>*+=#@$%"

const (
	rainColumnWidth = 12
	rainTrail       = 12
)

type rainDrop struct {
	head  float64 // row of the leading glyph
	speed float64 // rows per frame
}

func (c *Compositor) resetRain(width, height int) {
	cols := width / rainColumnWidth
	rows := float64(height / lineHeight)
	c.rain = make([]rainDrop, cols)
	for i := range c.rain {
		c.rain[i] = rainDrop{
			head:  -c.rng.Float64() * rows,
			speed: 0.3 + c.rng.Float64()*0.7,
		}
	}
}

// drawRain darkens the frame and draws columns of falling glyphs.
func (c *Compositor) drawRain(dst *image.RGBA) {
	b := dst.Bounds()
	fillRect(dst, b, color.NRGBA{0, 10, 0, 110})

	rows := float64(b.Dy()/lineHeight) + rainTrail
	for i := range c.rain {
		d := &c.rain[i]
		d.head += d.speed
		if d.head > rows {
			d.head = -c.rng.Float64() * 10
			d.speed = 0.3 + c.rng.Float64()*0.7
		}

		x := i * rainColumnWidth
		headRow := int(d.head)
		for k := range rainTrail {
			row := headRow - k
			if row < 0 {
				break
			}
			y := (row + 1) * lineHeight
			if y > b.Max.Y {
				continue
			}
			// Glyphs change slowly and differ per cell
			g := rainGlyphs[(i*31+row*17+int(c.frames/6))%len(rainGlyphs)]
			alpha := uint8(255 - k*255/rainTrail)
			col := color.NRGBA{40, 255, 70, alpha}
			if k == 0 {
				col = color.NRGBA{200, 255, 200, 255}
			}
			drawText(dst, x, y, string(g), col)
		}
	}
}

// drawDotGrid draws a dot lattice whose brightness ripples out from the centre.
func (c *Compositor) drawDotGrid(dst *image.RGBA) {
	const spacing = 24
	b := dst.Bounds()
	cx, cy := float64(b.Dx())/2, float64(b.Dy())/2
	phase := float64(c.frames) * 0.15

	for y := spacing / 2; y < b.Max.Y; y += spacing {
		for x := spacing / 2; x < b.Max.X; x += spacing {
			dist := math.Hypot(float64(x)-cx, float64(y)-cy)
			pulse := (math.Sin(phase-dist*0.03) + 1) / 2
			alpha := uint8(40 + pulse*140)
			fillRect(dst, image.Rect(x-1, y-1, x+1, y+1), color.NRGBA{0, 200, 255, alpha})
		}
	}
}
