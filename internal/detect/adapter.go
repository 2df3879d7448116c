package detect

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/dj-oyu/vision-hud/internal/logger"
	"github.com/dj-oyu/vision-hud/internal/metrics"
	"github.com/dj-oyu/vision-hud/pkg/types"
)

// AdapterConfig bounds how often the wrapped detector may be called.
type AdapterConfig struct {
	MaxRate float64       // Calls per second; <= 0 disables the bound
	Burst   int           // Calls allowed back to back
	Timeout time.Duration // Per-call deadline; 0 means none
}

// DefaultAdapterConfig leaves headroom over a 100ms detection cadence so
// ticker jitter does not starve the tracker.
func DefaultAdapterConfig() AdapterConfig {
	return AdapterConfig{
		MaxRate: 12,
		Burst:   2,
		Timeout: 500 * time.Millisecond,
	}
}

// Adapter calls a Detector at a bounded rate and never surfaces its failures.
// Detect is meant to be driven from a single detection loop.
type Adapter struct {
	detector Detector
	limiter  *rate.Limiter
	timeout  time.Duration
	metrics  *metrics.Metrics

	errorCount int
}

// NewAdapter wraps detector. m may be nil.
func NewAdapter(detector Detector, cfg AdapterConfig, m *metrics.Metrics) *Adapter {
	limit := rate.Inf
	if cfg.MaxRate > 0 {
		limit = rate.Limit(cfg.MaxRate)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &Adapter{
		detector: detector,
		limiter:  rate.NewLimiter(limit, burst),
		timeout:  cfg.Timeout,
		metrics:  m,
	}
}

// Detect returns the detector's candidates for frame. Detector errors and
// empty frames yield an empty batch. ok is false only when the rate bound
// refused the call; such a cycle carries no observation at all.
func (a *Adapter) Detect(ctx context.Context, frame *types.Frame) (candidates []Candidate, ok bool) {
	if frame.Empty() {
		return nil, true
	}
	if !a.limiter.Allow() {
		if a.metrics != nil {
			a.metrics.DetectorThrottled.Add(1)
		}
		return nil, false
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	start := time.Now()
	candidates, err := a.safeDetect(ctx, frame)
	if a.metrics != nil {
		a.metrics.UpdateDetectLatency(time.Since(start))
	}
	if err != nil {
		a.errorCount++
		if a.metrics != nil {
			a.metrics.DetectorErrors.Add(1)
		}
		// Log first error and then every 50th to keep a dead model quiet
		if a.errorCount == 1 || a.errorCount%50 == 0 {
			logger.Warn("Detector", "detect failed (count=%d): %v", a.errorCount, err)
		}
		return nil, true
	}
	if a.errorCount > 0 {
		logger.Info("Detector", "detector recovered after %d errors", a.errorCount)
		a.errorCount = 0
	}

	if a.metrics != nil {
		a.metrics.DetectionsIngested.Add(uint64(len(candidates)))
	}
	return candidates, true
}

func (a *Adapter) safeDetect(ctx context.Context, frame *types.Frame) (c []Candidate, err error) {
	defer func() {
		if r := recover(); r != nil {
			c, err = nil, panicError{r}
		}
	}()
	return a.detector.Detect(ctx, frame)
}

type panicError struct{ v any }

func (p panicError) Error() string {
	return fmt.Sprintf("detector panic: %v", p.v)
}
