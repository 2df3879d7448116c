package types

import (
	"image"
	"time"
)

// Frame is one decoded video frame as delivered by a frame source.
type Frame struct {
	Image     image.Image // Decoded pixels; never modified after publication
	Timestamp time.Time   // Capture timestamp
	FrameNum  uint64      // Sequential frame number
	Width     int         // Native width
	Height    int         // Native height
}

// NewFrame wraps an image with its native size taken from the bounds.
func NewFrame(img image.Image, frameNum uint64, ts time.Time) *Frame {
	b := img.Bounds()
	return &Frame{
		Image:     img,
		Timestamp: ts,
		FrameNum:  frameNum,
		Width:     b.Dx(),
		Height:    b.Dy(),
	}
}

// Empty reports whether the frame has no drawable area.
func (f *Frame) Empty() bool {
	return f == nil || f.Image == nil || f.Width <= 0 || f.Height <= 0
}

// Box is an axis-aligned rectangle in frame pixel coordinates.
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Center returns the centre point of the box.
func (b Box) Center() (float64, float64) {
	return b.X + b.W/2, b.Y + b.H/2
}

// Rect converts the box to an integer rectangle.
func (b Box) Rect() image.Rectangle {
	return image.Rect(int(b.X), int(b.Y), int(b.X+b.W), int(b.Y+b.H))
}
