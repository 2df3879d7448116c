package hud

import (
	"fmt"
	"strings"
)

// Mode selects the HUD's visual theme. It never affects tracking.
type Mode int

const (
	ModeTactical Mode = iota // corner brackets, no background
	ModeMatrix               // character rain, full rectangles
	ModeDepth                // pulsing dot grid, brackets
	ModeThreat               // rectangles coloured by threat tier
	modeCount
)

var modeNames = [modeCount]string{
	ModeTactical: "tactical",
	ModeMatrix:   "matrix",
	ModeDepth:    "depth",
	ModeThreat:   "threat",
}

func (m Mode) String() string {
	if m < 0 || m >= modeCount {
		return fmt.Sprintf("Mode(%d)", int(m))
	}
	return modeNames[m]
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m >= 0 && m < modeCount
}

// ParseMode parses a mode name, case-insensitively.
func ParseMode(s string) (Mode, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for m, n := range modeNames {
		if n == name {
			return Mode(m), nil
		}
	}
	return 0, fmt.Errorf("unknown HUD mode %q (want one of %s)", s, strings.Join(modeNames[:], ", "))
}

// Modes lists every mode in display order.
func Modes() []Mode {
	out := make([]Mode, 0, modeCount)
	for m := range modeCount {
		out = append(out, m)
	}
	return out
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("invalid HUD mode %d", int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ThreatTier buckets the tracker's threat score for display.
type ThreatTier int

const (
	TierLow ThreatTier = iota
	TierMedium
	TierHigh
)

func (t ThreatTier) String() string {
	switch t {
	case TierHigh:
		return "HIGH"
	case TierMedium:
		return "MED"
	default:
		return "LOW"
	}
}

// TierOf maps a 0-100 threat score to a tier.
func TierOf(threat int) ThreatTier {
	switch {
	case threat >= 70:
		return TierHigh
	case threat >= 40:
		return TierMedium
	default:
		return TierLow
	}
}
