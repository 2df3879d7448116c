package enrich

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"

	"github.com/dj-oyu/vision-hud/pkg/types"
)

// ErrEmptyCrop is returned when the padded box does not intersect the frame.
var ErrEmptyCrop = errors.New("crop region outside frame")

// Crop cuts box plus padding pixels on every side out of src, clamped to the
// frame. Crops whose longer side exceeds maxSide are downscaled to it; a
// maxSide of 0 keeps the native size.
func Crop(src image.Image, box types.Box, padding, maxSide int) (image.Image, error) {
	r := image.Rect(
		int(box.X)-padding,
		int(box.Y)-padding,
		int(box.X+box.W)+padding,
		int(box.Y+box.H)+padding,
	).Intersect(src.Bounds())
	if r.Empty() {
		return nil, ErrEmptyCrop
	}

	w, h := r.Dx(), r.Dy()
	long := max(w, h)
	if maxSide <= 0 || long <= maxSide {
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.Copy(dst, image.Point{}, src, r, draw.Src, nil)
		return dst, nil
	}

	scale := float64(maxSide) / float64(long)
	dw := max(1, int(float64(w)*scale))
	dh := max(1, int(float64(h)*scale))
	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, r, draw.Src, nil)
	return dst, nil
}

// EncodeCrop JPEG-encodes img and returns it base64-encoded.
func EncodeCrop(img image.Image, quality int) (string, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return "", fmt.Errorf("encode crop: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
