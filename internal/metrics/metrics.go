package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Detection
	DetectionsIngested atomic.Uint64
	DetectorErrors     atomic.Uint64
	DetectorThrottled  atomic.Uint64
	DetectLatencyMs    atomic.Uint64

	// Tracking
	EntitiesCreated atomic.Uint64
	EntitiesExpired atomic.Uint64
	ActiveEntities  atomic.Uint64
	TrackerCycles   atomic.Uint64

	// Enrichment
	EnrichRequests  atomic.Uint64
	EnrichFailures  atomic.Uint64
	EnrichDiscarded atomic.Uint64 // Results that landed on an expired entity
	EnrichInFlight  atomic.Int64

	// Rendering
	FramesRendered  atomic.Uint64
	FramesSkipped   atomic.Uint64
	RenderLatencyMs atomic.Uint64

	// Clients
	MJPEGClients       atomic.Uint64
	SSEClients         atomic.Uint64
	WebRTCClients      atomic.Uint64
	TotalWebRTCClients atomic.Uint64

	// Recording state
	RecordingActive  atomic.Uint64 // 0 = inactive, 1 = active
	RecordingBatches atomic.Uint64
	RecordingBytes   atomic.Uint64

	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

type gauge struct {
	name string
	help string
	fn   func() float64
}

func (m *Metrics) registerPrometheusMetrics() {
	u := func(v *atomic.Uint64) func() float64 {
		return func() float64 { return float64(v.Load()) }
	}

	gauges := []gauge{
		{"vision_detections_ingested_total", "Total detection candidates returned by the detector", u(&m.DetectionsIngested)},
		{"vision_detector_errors_total", "Total detector calls that failed", u(&m.DetectorErrors)},
		{"vision_detector_throttled_total", "Total detector calls skipped by the rate bound", u(&m.DetectorThrottled)},
		{"vision_detect_latency_ms", "Latency of the last detector call in milliseconds", u(&m.DetectLatencyMs)},

		{"vision_entities_created_total", "Total tracked entities created", u(&m.EntitiesCreated)},
		{"vision_entities_expired_total", "Total tracked entities expired", u(&m.EntitiesExpired)},
		{"vision_entities_active", "Tracked entities currently resident", u(&m.ActiveEntities)},
		{"vision_tracker_cycles_total", "Total tracker update cycles", u(&m.TrackerCycles)},

		{"vision_enrich_requests_total", "Total description requests submitted", u(&m.EnrichRequests)},
		{"vision_enrich_failures_total", "Total description requests that failed or returned nothing", u(&m.EnrichFailures)},
		{"vision_enrich_discarded_total", "Total description results dropped because the entity expired", u(&m.EnrichDiscarded)},
		{"vision_enrich_in_flight", "Description requests currently outstanding", func() float64 { return float64(m.EnrichInFlight.Load()) }},

		{"vision_frames_rendered_total", "Total HUD frames composited", u(&m.FramesRendered)},
		{"vision_frames_skipped_total", "Total HUD frames skipped for lack of a drawable frame", u(&m.FramesSkipped)},
		{"vision_render_latency_ms", "Latency of the last HUD frame in milliseconds", u(&m.RenderLatencyMs)},

		{"vision_mjpeg_clients", "Connected MJPEG clients", u(&m.MJPEGClients)},
		{"vision_sse_clients", "Connected SSE clients", u(&m.SSEClients)},
		{"vision_webrtc_clients", "Connected WebRTC data channel clients", u(&m.WebRTCClients)},
		{"vision_webrtc_clients_total", "Total WebRTC clients connected", u(&m.TotalWebRTCClients)},

		{"vision_recording_active", "Recording active (0=inactive, 1=active)", u(&m.RecordingActive)},
		{"vision_recording_batches", "Detection batches written to the current recording", u(&m.RecordingBatches)},
		{"vision_recording_bytes", "Bytes written to the current recording", u(&m.RecordingBytes)},
	}

	for _, g := range gauges {
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: g.name, Help: g.help},
			g.fn,
		))
	}
}

// UpdateDetectLatency records the duration of the last detector call
func (m *Metrics) UpdateDetectLatency(d time.Duration) {
	m.DetectLatencyMs.Store(uint64(d.Milliseconds()))
}

// UpdateRenderLatency records the duration of the last composited frame
func (m *Metrics) UpdateRenderLatency(d time.Duration) {
	m.RenderLatencyMs.Store(uint64(d.Milliseconds()))
}

// Registry exposes the underlying registry (tests gather from it)
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
