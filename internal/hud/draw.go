package hud

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"
)

var face = basicfont.Face7x13

const (
	glyphW     = 7
	glyphH     = 13
	lineHeight = 14
)

var textBackground = color.NRGBA{0, 0, 0, 170}

func fillRect(dst *image.RGBA, r image.Rectangle, c color.Color) {
	r = r.Intersect(dst.Bounds())
	if r.Empty() {
		return
	}
	draw.Draw(dst, r, image.NewUniform(c), image.Point{}, draw.Over)
}

func strokeRect(dst *image.RGBA, r image.Rectangle, c color.Color, t int) {
	fillRect(dst, image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+t), c)
	fillRect(dst, image.Rect(r.Min.X, r.Max.Y-t, r.Max.X, r.Max.Y), c)
	fillRect(dst, image.Rect(r.Min.X, r.Min.Y, r.Min.X+t, r.Max.Y), c)
	fillRect(dst, image.Rect(r.Max.X-t, r.Min.Y, r.Max.X, r.Max.Y), c)
}

// brackets draws the four corners of r, each arm a quarter of the shorter side.
func brackets(dst *image.RGBA, r image.Rectangle, c color.Color, t int) {
	l := max(6, min(r.Dx(), r.Dy())/4)
	x0, y0, x1, y1 := r.Min.X, r.Min.Y, r.Max.X, r.Max.Y

	fillRect(dst, image.Rect(x0, y0, x0+l, y0+t), c)
	fillRect(dst, image.Rect(x0, y0, x0+t, y0+l), c)

	fillRect(dst, image.Rect(x1-l, y0, x1, y0+t), c)
	fillRect(dst, image.Rect(x1-t, y0, x1, y0+l), c)

	fillRect(dst, image.Rect(x0, y1-t, x0+l, y1), c)
	fillRect(dst, image.Rect(x0, y1-l, x0+t, y1), c)

	fillRect(dst, image.Rect(x1-l, y1-t, x1, y1), c)
	fillRect(dst, image.Rect(x1-t, y1-l, x1, y1), c)
}

func drawText(dst *image.RGBA, x, baseline int, s string, c color.Color) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(x, baseline),
	}
	d.DrawString(s)
}

func textWidth(s string) int {
	return font.MeasureString(face, s).Ceil()
}

// labelText draws s over a translucent backing box for legibility.
func labelText(dst *image.RGBA, x, baseline int, s string, c color.Color) {
	if s == "" {
		return
	}
	fillRect(dst, image.Rect(x-2, baseline-glyphH+2, x+textWidth(s)+2, baseline+3), textBackground)
	drawText(dst, x, baseline, s, c)
}

// reticle draws three inward-pointing wedges around (cx, cy), rotated by angle.
// z is reused between calls.
func reticle(dst *image.RGBA, z *vector.Rasterizer, cx, cy, radius, angle float64, c color.Color) {
	size := int(math.Ceil(radius*2)) + 2
	origin := image.Pt(int(cx-radius)-1, int(cy-radius)-1)
	area := image.Rectangle{Min: origin, Max: origin.Add(image.Pt(size, size))}
	// The rasterizer maps its origin to area.Min, so partial clipping would
	// shift the mask.
	if !area.In(dst.Bounds()) {
		return
	}

	z.Reset(size, size)
	lx, ly := cx-float64(origin.X), cy-float64(origin.Y)
	at := func(r, a float64) (float32, float32) {
		return float32(lx + r*math.Cos(a)), float32(ly + r*math.Sin(a))
	}
	for i := range 3 {
		a := angle + float64(i)*2*math.Pi/3
		tx, ty := at(radius*0.55, a)
		lx1, ly1 := at(radius, a-0.2)
		rx1, ry1 := at(radius, a+0.2)
		z.MoveTo(tx, ty)
		z.LineTo(lx1, ly1)
		z.LineTo(rx1, ry1)
		z.ClosePath()
	}
	z.Draw(dst, area, image.NewUniform(c), image.Point{})
}
