package tracker

import (
	"math"
	"time"

	"github.com/dj-oyu/vision-hud/pkg/types"
)

// State is the lifecycle state of a tracked entity.
//
//	NEW -> ACTIVE (matched) -> STALE (missed, life draining) -> ACTIVE | expired
//
// Expired entities are removed from the tracker, so no state value exists for them.
type State int

const (
	StateNew State = iota
	StateActive
	StateStale
)

var stateNames = map[State]string{
	StateNew:    "new",
	StateActive: "active",
	StateStale:  "stale",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText renders the state name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Entity is the tracker's persistent view of one subject. Values returned by
// the tracker are copies; only the tracker mutates the resident entity.
type Entity struct {
	ID int `json:"id"`

	Raw    types.Box `json:"raw"`    // Latest matched detection
	Smooth types.Box `json:"smooth"` // What the HUD draws

	Class      string  `json:"class"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`

	Life   int     `json:"life"`
	VX     float64 `json:"vx"`
	VY     float64 `json:"vy"`
	Moving bool    `json:"moving"`

	Profile *TargetProfile `json:"profile,omitempty"`
	Threat  int            `json:"threat"`

	Description string    `json:"description,omitempty"`
	DescribedAt time.Time `json:"described_at,omitempty"`
	Analyzing   bool      `json:"analyzing"`

	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	Rotation  float64   `json:"-"`

	State  State `json:"state"`
	Hits   int   `json:"hits"`
	Misses int   `json:"misses"`
}

// Speed is the magnitude of the last velocity estimate in px per cycle.
func (e Entity) Speed() float64 {
	return math.Hypot(e.VX, e.VY)
}

// Age is how long the entity has been resident at now.
func (e Entity) Age(now time.Time) time.Duration {
	return now.Sub(e.FirstSeen)
}

// HasDescription reports whether an enrichment result has been stored.
func (e Entity) HasDescription() bool {
	return !e.DescribedAt.IsZero()
}

func deriveThreat(e *Entity) int {
	threat := 10
	if e.Profile != nil {
		threat = e.Profile.ThreatLevel
	}
	if e.Moving {
		threat += 20
	}
	// Larger boxes are closer to the camera
	threat += int(math.Min(30, e.Raw.W/10))
	return max(0, min(100, threat))
}
