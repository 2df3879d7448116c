package enrich

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dj-oyu/vision-hud/internal/logger"
	"github.com/dj-oyu/vision-hud/internal/metrics"
	"github.com/dj-oyu/vision-hud/internal/tracker"
	"github.com/dj-oyu/vision-hud/pkg/types"
)

// Config controls when entities are described.
type Config struct {
	Interval       time.Duration // Tick period
	StabilityLife  int           // Minimum life before an entity is worth describing
	MinAge         time.Duration // Minimum time since FirstSeen
	Cooldown       time.Duration // Minimum time between descriptions of one entity
	RequestTimeout time.Duration // Deadline for a single describe call
	CropPadding    int           // Pixels added around the raw box
	MaxCropSide    int           // Longer crop side is downscaled to this
	JPEGQuality    int
}

// DefaultConfig returns the scheduler defaults.
func DefaultConfig() Config {
	return Config{
		Interval:       time.Second,
		StabilityLife:  8,
		MinAge:         2 * time.Second,
		Cooldown:       60 * time.Second,
		RequestTimeout: 15 * time.Second,
		CropPadding:    20,
		MaxCropSide:    320,
		JPEGQuality:    85,
	}
}

// EntityStore is the part of the tracker the scheduler uses.
type EntityStore interface {
	Snapshot() []tracker.Entity
	BeginAnalysis(id int) bool
	CompleteAnalysis(id int, description string, at time.Time) bool
	AbortAnalysis(id int) bool
}

// FrameProvider returns the most recent video frame.
type FrameProvider interface {
	Latest() (*types.Frame, bool)
}

type task struct {
	cancel  context.CancelFunc
	started time.Time
}

// Scheduler periodically submits description requests for eligible
// entities. At most one task per entity id is outstanding.
type Scheduler struct {
	cfg       Config
	store     EntityStore
	frames    FrameProvider
	describer Describer
	metrics   *metrics.Metrics
	now       func() time.Time

	mu    sync.Mutex
	tasks map[int]*task
	wg    sync.WaitGroup
}

// NewScheduler creates a scheduler. m may be nil.
func NewScheduler(cfg Config, store EntityStore, frames FrameProvider, describer Describer, m *metrics.Metrics) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = 85
	}
	return &Scheduler{
		cfg:       cfg,
		store:     store,
		frames:    frames,
		describer: describer,
		metrics:   m,
		now:       time.Now,
		tasks:     make(map[int]*task),
	}
}

// Run ticks until ctx is cancelled. Requests already in flight keep running
// and land their results after Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	logger.Info("Enrich", "scheduler started (interval=%v cooldown=%v)", s.cfg.Interval, s.cfg.Cooldown)
	for {
		select {
		case <-ctx.Done():
			logger.Info("Enrich", "scheduler stopped (%d in flight)", s.InFlight())
			return nil
		case <-ticker.C:
			s.Tick(ctx, s.now())
		}
	}
}

// Tick runs one scheduling pass at now and returns the number of requests
// submitted.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) int {
	entities := s.store.Snapshot()
	s.cancelOrphans(entities)

	frame, ok := s.frames.Latest()
	if !ok || frame.Empty() {
		return 0
	}

	submitted := 0
	for _, e := range entities {
		if !s.eligible(e, now) {
			continue
		}
		if !s.store.BeginAnalysis(e.ID) {
			continue
		}

		crop, err := Crop(frame.Image, e.Raw, s.cfg.CropPadding, s.cfg.MaxCropSide)
		var encoded string
		if err == nil {
			encoded, err = EncodeCrop(crop, s.cfg.JPEGQuality)
		}
		if err != nil {
			logger.Debug("Enrich", "entity %d: %v", e.ID, err)
			s.store.AbortAnalysis(e.ID)
			continue
		}

		s.submit(ctx, e.ID, e.Label, encoded, now)
		submitted++
	}
	return submitted
}

func (s *Scheduler) eligible(e tracker.Entity, now time.Time) bool {
	if e.Analyzing || e.Life < s.cfg.StabilityLife {
		return false
	}
	if e.Age(now) < s.cfg.MinAge {
		return false
	}
	if e.HasDescription() && now.Sub(e.DescribedAt) < s.cfg.Cooldown {
		return false
	}
	s.mu.Lock()
	_, busy := s.tasks[e.ID]
	s.mu.Unlock()
	return !busy
}

// cancelOrphans cancels tasks whose entity is no longer tracked.
func (s *Scheduler) cancelOrphans(entities []tracker.Entity) {
	alive := make(map[int]struct{}, len(entities))
	for _, e := range entities {
		alive[e.ID] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.tasks {
		if _, ok := alive[id]; !ok {
			logger.Debug("Enrich", "entity %d expired, cancelling request started %v ago", id, time.Since(t.started).Round(time.Millisecond))
			t.cancel()
			delete(s.tasks, id)
		}
	}
}

func (s *Scheduler) submit(parent context.Context, id int, label, image string, now time.Time) {
	base, cancel := context.WithCancel(context.WithoutCancel(parent))
	ctx, stop := base, context.CancelFunc(func() {})
	if s.cfg.RequestTimeout > 0 {
		ctx, stop = context.WithTimeout(base, s.cfg.RequestTimeout)
	}

	t := &task{cancel: cancel, started: now}
	s.mu.Lock()
	s.tasks[id] = t
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.EnrichRequests.Add(1)
		s.metrics.EnrichInFlight.Add(1)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		defer stop()

		description, err := s.describer.Describe(ctx, image, label)
		s.finish(id, t, description, err)
	}()
}

func (s *Scheduler) finish(id int, t *task, description string, err error) {
	s.mu.Lock()
	if s.tasks[id] == t {
		delete(s.tasks, id)
	}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.EnrichInFlight.Add(-1)
	}

	if err != nil || description == "" {
		switch {
		case errors.Is(err, context.Canceled):
			logger.Debug("Enrich", "describe entity %d cancelled", id)
		case err != nil:
			logger.Warn("Enrich", "describe entity %d failed: %v", id, err)
			if s.metrics != nil {
				s.metrics.EnrichFailures.Add(1)
			}
		}
		if !s.store.AbortAnalysis(id) {
			s.discarded(id)
		}
		return
	}

	if !s.store.CompleteAnalysis(id, description, s.now()) {
		s.discarded(id)
		return
	}
	logger.Debug("Enrich", "entity %d described: %q", id, description)
}

func (s *Scheduler) discarded(id int) {
	logger.Debug("Enrich", "entity %d gone, result discarded", id)
	if s.metrics != nil {
		s.metrics.EnrichDiscarded.Add(1)
	}
}

// InFlight returns the number of outstanding requests.
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Wait blocks until every submitted request has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
