package tracker

import "github.com/dj-oyu/vision-hud/pkg/types"

// Lerp moves a toward b by factor f.
func Lerp(a, b, f float64) float64 {
	return a + (b-a)*f
}

// Smoother applies exponential interpolation of displayed geometry toward
// the raw detection. With Factor in (0, 1] every axis converges on a constant
// target without overshoot.
type Smoother struct {
	Factor float64
}

// Step returns smooth advanced one cycle toward raw.
func (s Smoother) Step(smooth, raw types.Box) types.Box {
	return types.Box{
		X: Lerp(smooth.X, raw.X, s.Factor),
		Y: Lerp(smooth.Y, raw.Y, s.Factor),
		W: Lerp(smooth.W, raw.W, s.Factor),
		H: Lerp(smooth.H, raw.H, s.Factor),
	}
}
