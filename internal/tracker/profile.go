package tracker

import "math/rand/v2"

// TargetProfile is a named registry entry a new entity may be tagged with.
type TargetProfile struct {
	ID          string `json:"id" mapstructure:"id"`
	Name        string `json:"name" mapstructure:"name"`
	ThreatLevel int    `json:"threat_level" mapstructure:"threatLevel"`
	Notes       string `json:"notes,omitempty" mapstructure:"notes"`
}

// ProfileRegistry is a read-only list of target profiles.
type ProfileRegistry struct {
	profiles []TargetProfile
}

// NewProfileRegistry copies profiles into a new registry.
func NewProfileRegistry(profiles []TargetProfile) *ProfileRegistry {
	cp := make([]TargetProfile, len(profiles))
	copy(cp, profiles)
	return &ProfileRegistry{profiles: cp}
}

// Len returns the number of profiles.
func (r *ProfileRegistry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.profiles)
}

// List returns a copy of the registry contents.
func (r *ProfileRegistry) List() []TargetProfile {
	if r == nil {
		return nil
	}
	cp := make([]TargetProfile, len(r.profiles))
	copy(cp, r.profiles)
	return cp
}

// pick returns a uniformly chosen profile. The pointer refers to the
// registry's own immutable entry.
func (r *ProfileRegistry) pick(rng *rand.Rand) *TargetProfile {
	if r.Len() == 0 {
		return nil
	}
	return &r.profiles[rng.IntN(len(r.profiles))]
}
