// Package tracker owns the canonical set of tracked entities. It associates
// per-frame detections with entities across time, ages out lost entities and
// smooths displayed geometry. The Tracker is the only writer; the enrichment
// scheduler and the HUD compositor read value snapshots and use a few narrow
// write methods.
package tracker

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/dj-oyu/vision-hud/internal/detect"
	"github.com/dj-oyu/vision-hud/internal/logger"
	"github.com/dj-oyu/vision-hud/internal/metrics"
)

// Tracker maintains identity continuity across detection batches.
type Tracker struct {
	mu sync.RWMutex

	cfg      Config
	classes  map[string]struct{}
	smoother Smoother
	profiles *ProfileRegistry
	rng      *rand.Rand
	metrics  *metrics.Metrics

	entities []*Entity // creation order
	byID     map[int]*Entity
	nextID   int
}

// Option customises a Tracker.
type Option func(*Tracker)

// WithRand sets the source used for profile linking.
func WithRand(r *rand.Rand) Option {
	return func(t *Tracker) { t.rng = r }
}

// WithMetrics publishes tracker counters to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

// New creates a tracker. profiles may be nil.
func New(cfg Config, profiles *ProfileRegistry, opts ...Option) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	classes := make(map[string]struct{}, len(cfg.TrackedClasses))
	for _, c := range cfg.TrackedClasses {
		classes[c] = struct{}{}
	}
	now := uint64(time.Now().UnixNano())
	t := &Tracker{
		cfg:      cfg,
		classes:  classes,
		smoother: Smoother{Factor: cfg.SmoothingFactor},
		profiles: profiles,
		rng:      rand.New(rand.NewPCG(now, now>>1)),
		byID:     make(map[int]*Entity),
		nextID:   1,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Config returns the tracker's parameters.
func (t *Tracker) Config() Config {
	return t.cfg
}

// Update runs one tracking cycle over a detection batch. The whole cycle
// happens under the write lock so readers never observe a partial update.
func (t *Tracker) Update(detections []detect.Candidate, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	prior := t.entities
	matched := make(map[int]bool, len(prior))
	var created []*Entity

	for _, det := range detections {
		if _, ok := t.classes[det.Class]; !ok {
			continue
		}

		if e := t.nearest(prior, matched, det); e != nil {
			matched[e.ID] = true
			t.applyMatch(e, det, now)
			continue
		}

		if t.cfg.MaxEntities > 0 && len(prior)+len(created) >= t.cfg.MaxEntities {
			logger.Debug("Tracker", "entity cap %d reached, dropping %s detection", t.cfg.MaxEntities, det.Class)
			continue
		}
		created = append(created, t.create(det, now))
	}

	survivors := make([]*Entity, 0, len(prior)+len(created))
	for _, e := range prior {
		if matched[e.ID] {
			survivors = append(survivors, e)
			continue
		}
		e.Life -= t.cfg.LifeDecay
		e.Misses++
		if e.Life <= 0 {
			delete(t.byID, e.ID)
			logger.Debug("Tracker", "entity %d expired after %d hits", e.ID, e.Hits)
			if t.metrics != nil {
				t.metrics.EntitiesExpired.Add(1)
			}
			continue
		}
		e.State = StateStale
		survivors = append(survivors, e)
	}
	survivors = append(survivors, created...)

	for _, e := range survivors {
		e.Smooth = t.smoother.Step(e.Smooth, e.Raw)
		e.Threat = deriveThreat(e)
	}
	t.entities = survivors

	if t.metrics != nil {
		t.metrics.TrackerCycles.Add(1)
		t.metrics.ActiveEntities.Store(uint64(len(survivors)))
	}
}

// nearest returns the closest unmatched live entity whose smoothed centre is
// strictly within MatchDistance of the detection centre. Equal distances keep
// the earlier entity.
func (t *Tracker) nearest(prior []*Entity, matched map[int]bool, det detect.Candidate) *Entity {
	dx, dy := det.Box.Center()
	var best *Entity
	bestDist := t.cfg.MatchDistance
	for _, e := range prior {
		if e.Life <= 0 || matched[e.ID] {
			continue
		}
		ex, ey := e.Smooth.Center()
		if d := math.Hypot(dx-ex, dy-ey); d < bestDist {
			best, bestDist = e, d
		}
	}
	return best
}

func (t *Tracker) applyMatch(e *Entity, det detect.Candidate, now time.Time) {
	e.VX = det.Box.X - e.Raw.X
	e.VY = det.Box.Y - e.Raw.Y
	e.Raw = det.Box
	e.Confidence = det.Score
	e.Moving = e.Speed() > t.motionThreshold(e)
	e.Life = min(e.Life+t.cfg.LifeGain, t.cfg.LifeCap)
	e.LastSeen = now
	e.State = StateActive
	e.Hits++
}

func (t *Tracker) motionThreshold(e *Entity) float64 {
	if t.cfg.MotionReferenceWidth > 0 && e.Raw.W > 0 {
		return t.cfg.MotionThreshold * e.Raw.W / t.cfg.MotionReferenceWidth
	}
	return t.cfg.MotionThreshold
}

func (t *Tracker) create(det detect.Candidate, now time.Time) *Entity {
	e := &Entity{
		ID:         t.nextID,
		Raw:        det.Box,
		Smooth:     det.Box,
		Class:      det.Class,
		Label:      det.Class,
		Confidence: det.Score,
		Life:       t.cfg.InitialLife,
		FirstSeen:  now,
		LastSeen:   now,
		State:      StateNew,
		Hits:       1,
	}
	t.nextID++

	if t.profiles.Len() > 0 && t.rng.Float64() < t.cfg.ProfileLinkProbability {
		e.Profile = t.profiles.pick(t.rng)
		e.Label = e.Profile.Name
		logger.Info("Tracker", "entity %d linked to profile %s", e.ID, e.Profile.ID)
	}

	t.byID[e.ID] = e
	logger.Debug("Tracker", "entity %d created (%s %.2f)", e.ID, e.Class, e.Confidence)
	if t.metrics != nil {
		t.metrics.EntitiesCreated.Add(1)
	}
	return e
}

// Snapshot returns copies of all resident entities in creation order.
func (t *Tracker) Snapshot() []Entity {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Entity, len(t.entities))
	for i, e := range t.entities {
		out[i] = *e
	}
	return out
}

// Get returns a copy of the entity with id.
func (t *Tracker) Get(id int) (Entity, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.byID[id]
	if !ok {
		return Entity{}, false
	}
	return *e, true
}

// Len returns the number of resident entities.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entities)
}

// Reset drops every entity. Ids keep increasing across resets.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entities = nil
	t.byID = make(map[int]*Entity)
	if t.metrics != nil {
		t.metrics.ActiveEntities.Store(0)
	}
}

// AdvanceRotation adds delta to every entity's decorative rotation. It is the
// only write the renderer performs.
func (t *Tracker) AdvanceRotation(delta float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, e := range t.entities {
		e.Rotation += delta
	}
}

// BeginAnalysis claims id for enrichment. It returns false when the entity is
// gone or already being analyzed.
func (t *Tracker) BeginAnalysis(id int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.byID[id]
	if !ok || e.Analyzing {
		return false
	}
	e.Analyzing = true
	return true
}

// CompleteAnalysis stores a description and releases the claim. It returns
// false when the entity no longer exists.
func (t *Tracker) CompleteAnalysis(id int, description string, at time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.byID[id]
	if !ok {
		return false
	}
	e.Description = description
	e.DescribedAt = at
	e.Analyzing = false
	return true
}

// AbortAnalysis releases the claim without writing a result.
func (t *Tracker) AbortAnalysis(id int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.byID[id]
	if !ok {
		return false
	}
	e.Analyzing = false
	return true
}
