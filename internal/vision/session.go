// Package vision wires a camera stream through detection, tracking,
// enrichment and HUD rendering. A Session runs three independent loops over
// one shared tracker: detection+tracking, enrichment and rendering.
package vision

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dj-oyu/vision-hud/internal/camera"
	"github.com/dj-oyu/vision-hud/internal/detect"
	"github.com/dj-oyu/vision-hud/internal/enrich"
	"github.com/dj-oyu/vision-hud/internal/hud"
	"github.com/dj-oyu/vision-hud/internal/logger"
	"github.com/dj-oyu/vision-hud/internal/metrics"
	"github.com/dj-oyu/vision-hud/internal/tracker"
	"github.com/dj-oyu/vision-hud/pkg/types"
)

var (
	ErrRunning    = errors.New("vision: session already running")
	ErrNotRunning = errors.New("vision: session not running")
)

// Config holds the loop cadences and the per-component configs.
type Config struct {
	DetectInterval time.Duration
	RenderFPS      int

	Adapter detect.AdapterConfig
	Tracker tracker.Config
	Enrich  enrich.Config
	HUD     hud.Config
}

// DefaultConfig returns a 100ms detection cadence and 30fps rendering.
func DefaultConfig() Config {
	return Config{
		DetectInterval: 100 * time.Millisecond,
		RenderFPS:      30,
		Adapter:        detect.DefaultAdapterConfig(),
		Tracker:        tracker.DefaultConfig(),
		Enrich:         enrich.DefaultConfig(),
		HUD:            hud.DefaultConfig(),
	}
}

// SourceFactory opens a new media stream for each Start.
type SourceFactory func() (camera.Source, error)

// BatchSink receives every detection batch the tracker consumed.
type BatchSink interface {
	RecordBatch(ts time.Time, frameNum uint64, candidates []detect.Candidate)
}

// Deps are the external collaborators of a Session.
type Deps struct {
	NewSource SourceFactory
	Detector  detect.Detector
	Describer enrich.Describer // nil disables enrichment
	Profiles  *tracker.ProfileRegistry
	Metrics   *metrics.Metrics
}

// run is the state of one Start..Stop cycle.
type run struct {
	source  camera.Source
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
	started time.Time
}

// Session owns the vision pipeline.
type Session struct {
	cfg       Config
	newSource SourceFactory

	adapter    *detect.Adapter
	tracker    *tracker.Tracker
	scheduler  *enrich.Scheduler
	compositor *hud.Compositor
	frames     *frameFanout

	mu   sync.Mutex
	run  *run
	sink BatchSink

	batches atomic.Uint64
}

// New builds a stopped session.
func New(cfg Config, deps Deps) (*Session, error) {
	if deps.NewSource == nil {
		return nil, errors.New("vision: source factory is required")
	}
	if deps.Detector == nil {
		return nil, errors.New("vision: detector is required")
	}
	if cfg.DetectInterval <= 0 {
		cfg.DetectInterval = DefaultConfig().DetectInterval
	}
	if cfg.RenderFPS <= 0 {
		cfg.RenderFPS = DefaultConfig().RenderFPS
	}

	tr, err := tracker.New(cfg.Tracker, deps.Profiles, tracker.WithMetrics(deps.Metrics))
	if err != nil {
		return nil, fmt.Errorf("create tracker: %w", err)
	}

	s := &Session{
		cfg:        cfg,
		newSource:  deps.NewSource,
		adapter:    detect.NewAdapter(deps.Detector, cfg.Adapter, deps.Metrics),
		tracker:    tr,
		compositor: hud.New(cfg.HUD, deps.Metrics),
		frames:     newFrameFanout(),
	}
	if deps.Describer != nil {
		s.scheduler = enrich.NewScheduler(cfg.Enrich, tr, s, deps.Describer, deps.Metrics)
	}
	return s, nil
}

// Start opens the media stream and starts the loops. Entities from a
// previous run are dropped.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.run != nil {
		select {
		case <-s.run.done:
			// Previous run died on its own; allow a restart
			s.run.cancel()
			_ = s.run.source.Close()
		default:
			return ErrRunning
		}
	}

	src, err := s.newSource()
	if err != nil {
		return fmt.Errorf("open camera: %w", err)
	}

	s.tracker.Reset()
	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	r := &run{
		source:  src,
		cancel:  cancel,
		done:    make(chan struct{}),
		started: time.Now(),
	}

	g.Go(func() error {
		if err := src.Run(gctx); err != nil && !errors.Is(err, camera.ErrSourceClosed) {
			return fmt.Errorf("camera: %w", err)
		}
		return nil
	})
	g.Go(func() error { return s.detectLoop(gctx, src) })
	g.Go(func() error { return s.renderLoop(gctx, src) })
	if s.scheduler != nil {
		g.Go(func() error { return s.scheduler.Run(gctx) })
	}

	go func() {
		r.err = g.Wait()
		if r.err != nil {
			logger.Error("Vision", "session stopped with error: %v", r.err)
		}
		close(r.done)
	}()

	s.run = r
	logger.Info("Vision", "session started (detect=%v render=%dfps mode=%s)",
		s.cfg.DetectInterval, s.cfg.RenderFPS, s.compositor.Mode())
	return nil
}

// Stop halts detection and rendering, stops scheduling enrichment and
// releases the media stream. Enrichment requests already in flight finish
// on their own; results for entities that are gone by then are discarded.
func (s *Session) Stop() error {
	s.mu.Lock()
	r := s.run
	s.run = nil
	s.mu.Unlock()

	if r == nil {
		return ErrNotRunning
	}

	r.cancel()
	if err := r.source.Close(); err != nil {
		logger.Warn("Vision", "close camera: %v", err)
	}
	<-r.done
	logger.Info("Vision", "session stopped after %v", time.Since(r.started).Round(time.Second))
	return r.err
}

// Running reports whether the loops are active.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.run == nil {
		return false
	}
	select {
	case <-s.run.done:
		return false
	default:
		return true
	}
}

// Latest returns the current camera frame. It makes the session the frame
// provider of its enrichment scheduler.
func (s *Session) Latest() (*types.Frame, bool) {
	s.mu.Lock()
	r := s.run
	s.mu.Unlock()
	if r == nil {
		return nil, false
	}
	return r.source.Latest()
}

func (s *Session) detectLoop(ctx context.Context, src camera.Source) error {
	ticker := time.NewTicker(s.cfg.DetectInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			var (
				candidates []detect.Candidate
				frameNum   uint64
			)
			if frame, ok := src.Latest(); ok {
				var observed bool
				frameNum = frame.FrameNum
				candidates, observed = s.adapter.Detect(ctx, frame)
				if !observed {
					// Over the rate bound; entities keep their life
					continue
				}
			}
			s.tracker.Update(candidates, now)
			s.batches.Add(1)

			s.mu.Lock()
			sink := s.sink
			s.mu.Unlock()
			if sink != nil {
				sink.RecordBatch(now, frameNum, candidates)
			}
		}
	}
}

func (s *Session) renderLoop(ctx context.Context, src camera.Source) error {
	ticker := time.NewTicker(time.Second / time.Duration(s.cfg.RenderFPS))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			// Nobody is watching; skip compositing
			if s.frames.count() == 0 {
				continue
			}
			frame, _ := src.Latest()
			if data, ok := s.compositor.RenderJPEG(frame, s.tracker); ok {
				s.frames.broadcast(data)
			}
		}
	}
}

// Subscribe registers a consumer of rendered JPEG frames.
func (s *Session) Subscribe() (int, <-chan []byte) {
	return s.frames.subscribe()
}

// Unsubscribe removes a frame consumer and closes its channel.
func (s *Session) Unsubscribe(id int) {
	s.frames.unsubscribe(id)
}

// SetBatchSink installs (or, with nil, removes) the detection batch sink.
func (s *Session) SetBatchSink(sink BatchSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
}

// SetMode switches the HUD theme.
func (s *Session) SetMode(m hud.Mode) error {
	return s.compositor.SetMode(m)
}

// Mode returns the HUD theme.
func (s *Session) Mode() hud.Mode {
	return s.compositor.Mode()
}

// Tracker exposes the tracker for read access.
func (s *Session) Tracker() *tracker.Tracker {
	return s.tracker
}

// Entities returns a snapshot of the tracked entities.
func (s *Session) Entities() []tracker.Entity {
	return s.tracker.Snapshot()
}

// Stats is a point-in-time summary of the session.
type Stats struct {
	Running     bool      `json:"running"`
	StartedAt   time.Time `json:"started_at,omitzero"`
	Mode        hud.Mode  `json:"mode"`
	Entities    int       `json:"entities"`
	Batches     uint64    `json:"batches"`
	FrameNum    uint64    `json:"frame_number"`
	FrameWidth  int       `json:"frame_width"`
	FrameHeight int       `json:"frame_height"`
	Subscribers int       `json:"subscribers"`
	Enriching   int       `json:"enriching"`
}

// Stats returns a summary of the session.
func (s *Session) Stats() Stats {
	st := Stats{
		Running:     s.Running(),
		Mode:        s.Mode(),
		Entities:    s.tracker.Len(),
		Batches:     s.batches.Load(),
		Subscribers: s.frames.count(),
	}
	s.mu.Lock()
	if s.run != nil {
		st.StartedAt = s.run.started
	}
	s.mu.Unlock()
	if f, ok := s.Latest(); ok {
		st.FrameNum = f.FrameNum
		st.FrameWidth, st.FrameHeight = f.Width, f.Height
	}
	if s.scheduler != nil {
		st.Enriching = s.scheduler.InFlight()
	}
	return st
}
