package tracker

import (
	"errors"
	"fmt"
)

// Config holds the tracker's association and lifecycle parameters.
type Config struct {
	TrackedClasses []string // Detector classes kept; everything else is dropped before matching
	MatchDistance  float64  // Max centre distance (px) between a detection and a smoothed entity

	InitialLife int // Life of a newly created entity
	LifeCap     int // Upper bound on life
	LifeGain    int // Life added per matched cycle
	LifeDecay   int // Life removed per unmatched cycle

	SmoothingFactor float64 // Lerp factor toward raw geometry per cycle, in (0, 1]

	MotionThreshold      float64 // Speed (px per cycle) above which an entity is moving
	MotionReferenceWidth float64 // When > 0 the threshold scales with width/MotionReferenceWidth

	ProfileLinkProbability float64 // Chance a new entity is tagged with a target profile
	MaxEntities            int     // Hard cap on resident entities; 0 means unbounded
}

// DefaultConfig returns the parameters the HUD was tuned with.
func DefaultConfig() Config {
	return Config{
		TrackedClasses:         []string{"person"},
		MatchDistance:          100,
		InitialLife:            5,
		LifeCap:                20,
		LifeGain:               1,
		LifeDecay:              1,
		SmoothingFactor:        0.2,
		MotionThreshold:        5,
		MotionReferenceWidth:   0,
		ProfileLinkProbability: 0.05,
		MaxEntities:            64,
	}
}

// Validate reports the first invalid parameter.
func (c Config) Validate() error {
	switch {
	case len(c.TrackedClasses) == 0:
		return errors.New("tracker: at least one tracked class is required")
	case c.MatchDistance <= 0:
		return fmt.Errorf("tracker: match distance must be positive, got %v", c.MatchDistance)
	case c.LifeCap < 1:
		return fmt.Errorf("tracker: life cap must be >= 1, got %d", c.LifeCap)
	case c.InitialLife < 1 || c.InitialLife > c.LifeCap:
		return fmt.Errorf("tracker: initial life must be in [1, %d], got %d", c.LifeCap, c.InitialLife)
	case c.LifeGain < 0:
		return fmt.Errorf("tracker: life gain must be >= 0, got %d", c.LifeGain)
	case c.LifeDecay < 1:
		return fmt.Errorf("tracker: life decay must be >= 1, got %d", c.LifeDecay)
	case c.SmoothingFactor <= 0 || c.SmoothingFactor > 1:
		return fmt.Errorf("tracker: smoothing factor must be in (0, 1], got %v", c.SmoothingFactor)
	case c.MotionThreshold < 0:
		return fmt.Errorf("tracker: motion threshold must be >= 0, got %v", c.MotionThreshold)
	case c.ProfileLinkProbability < 0 || c.ProfileLinkProbability > 1:
		return fmt.Errorf("tracker: profile link probability must be in [0, 1], got %v", c.ProfileLinkProbability)
	case c.MaxEntities < 0:
		return fmt.Errorf("tracker: max entities must be >= 0, got %d", c.MaxEntities)
	}
	return nil
}
