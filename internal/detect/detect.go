// Package detect wraps an external object detector behind a bounded-rate,
// failure-absorbing adapter.
package detect

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dj-oyu/vision-hud/pkg/types"
)

// Candidate is one raw detection from a single detector call.
type Candidate struct {
	Box   types.Box
	Class string
	Score float64
}

// Detector is the black-box model boundary: given a frame, return boxes.
type Detector interface {
	Detect(ctx context.Context, frame *types.Frame) ([]Candidate, error)
}

// DetectorFunc adapts a plain function to the Detector interface.
type DetectorFunc func(ctx context.Context, frame *types.Frame) ([]Candidate, error)

// Detect calls f.
func (f DetectorFunc) Detect(ctx context.Context, frame *types.Frame) ([]Candidate, error) {
	return f(ctx, frame)
}

// wireCandidate is the JSON shape spoken by detector services:
// {"bbox":[x,y,w,h],"class":"person","score":0.91}
type wireCandidate struct {
	BBox  []float64 `json:"bbox"`
	Class string    `json:"class"`
	Score float64   `json:"score"`
}

// MarshalJSON encodes the candidate in the detector wire format.
func (c Candidate) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireCandidate{
		BBox:  []float64{c.Box.X, c.Box.Y, c.Box.W, c.Box.H},
		Class: c.Class,
		Score: c.Score,
	})
}

// UnmarshalJSON decodes the detector wire format.
func (c *Candidate) UnmarshalJSON(data []byte) error {
	var w wireCandidate
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if len(w.BBox) != 4 {
		return fmt.Errorf("bbox must have 4 elements, got %d", len(w.BBox))
	}
	*c = Candidate{
		Box:   types.Box{X: w.BBox[0], Y: w.BBox[1], W: w.BBox[2], H: w.BBox[3]},
		Class: w.Class,
		Score: w.Score,
	}
	return nil
}
