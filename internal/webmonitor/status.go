package webmonitor

import (
	"github.com/dj-oyu/vision-hud/internal/recorder"
	"github.com/dj-oyu/vision-hud/internal/vision"
	"github.com/dj-oyu/vision-hud/internal/wire"
)

// ClientCounts holds connected client counts per transport.
type ClientCounts struct {
	MJPEG  uint64 `json:"mjpeg"`
	SSE    uint64 `json:"sse"`
	WebRTC int    `json:"webrtc"`
}

// PipelineCounters are cumulative pipeline counters.
type PipelineCounters struct {
	DetectionsIngested uint64 `json:"detections_ingested"`
	DetectorErrors     uint64 `json:"detector_errors"`
	DetectorThrottled  uint64 `json:"detector_throttled"`
	DetectLatencyMs    uint64 `json:"detect_latency_ms"`
	EntitiesCreated    uint64 `json:"entities_created"`
	EntitiesExpired    uint64 `json:"entities_expired"`
	EnrichRequests     uint64 `json:"enrich_requests"`
	EnrichFailures     uint64 `json:"enrich_failures"`
	EnrichDiscarded    uint64 `json:"enrich_discarded"`
	FramesRendered     uint64 `json:"frames_rendered"`
	FramesSkipped      uint64 `json:"frames_skipped"`
	RenderLatencyMs    uint64 `json:"render_latency_ms"`
}

// StatusEvent is the payload of /api/status and its stream.
type StatusEvent struct {
	Session   vision.Stats                 `json:"session"`
	Recording *recorder.RecordingStatus    `json:"recording,omitempty"`
	Clients   ClientCounts                 `json:"clients"`
	Peers     map[string]map[string]uint64 `json:"webrtc_peers,omitempty"`
	Pipeline  *PipelineCounters            `json:"pipeline,omitempty"`
	Timestamp float64                      `json:"timestamp"`
}

func (s *Server) buildStatus() StatusEvent {
	ev := StatusEvent{
		Session:   s.pipeline.Stats(),
		Timestamp: float64(s.now().UnixNano()) / 1e9,
	}
	if s.recorder != nil {
		st := s.recorder.GetStatus()
		ev.Recording = &st
	}
	if s.webrtc != nil {
		ev.Clients.WebRTC = s.webrtc.GetClientCount()
		ev.Peers = s.webrtc.GetClientStats()
	}
	if m := s.metrics; m != nil {
		ev.Clients.MJPEG = m.MJPEGClients.Load()
		ev.Clients.SSE = m.SSEClients.Load()
		ev.Pipeline = &PipelineCounters{
			DetectionsIngested: m.DetectionsIngested.Load(),
			DetectorErrors:     m.DetectorErrors.Load(),
			DetectorThrottled:  m.DetectorThrottled.Load(),
			DetectLatencyMs:    m.DetectLatencyMs.Load(),
			EntitiesCreated:    m.EntitiesCreated.Load(),
			EntitiesExpired:    m.EntitiesExpired.Load(),
			EnrichRequests:     m.EnrichRequests.Load(),
			EnrichFailures:     m.EnrichFailures.Load(),
			EnrichDiscarded:    m.EnrichDiscarded.Load(),
			FramesRendered:     m.FramesRendered.Load(),
			FramesSkipped:      m.FramesSkipped.Load(),
			RenderLatencyMs:    m.RenderLatencyMs.Load(),
		}
	}
	return ev
}

func (s *Server) statusEvent() (*wire.Event, error) {
	return wire.Encode(s.buildStatus())
}

func (s *Server) buildEntities() wire.EntitiesEvent {
	return wire.NewEntitiesEvent(s.pipeline.Entities(), s.pipeline.Mode(), s.now(), s.cfg.DistanceScale)
}

func (s *Server) entitiesEvent() (*wire.Event, error) {
	return wire.Encode(s.buildEntities())
}
