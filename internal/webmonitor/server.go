// Package webmonitor serves the HUD monitor: the composited MJPEG stream,
// entity and status event streams, and the control API.
package webmonitor

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dj-oyu/vision-hud/internal/hud"
	"github.com/dj-oyu/vision-hud/internal/logger"
	"github.com/dj-oyu/vision-hud/internal/metrics"
	"github.com/dj-oyu/vision-hud/internal/recorder"
	"github.com/dj-oyu/vision-hud/internal/tracker"
	"github.com/dj-oyu/vision-hud/internal/vision"
	"github.com/dj-oyu/vision-hud/internal/webrtc"
	"github.com/dj-oyu/vision-hud/internal/wire"
)

// Pipeline is the vision session surface the monitor controls.
type Pipeline interface {
	Start() error
	Stop() error
	Running() bool
	Mode() hud.Mode
	SetMode(hud.Mode) error
	Subscribe() (int, <-chan []byte)
	Unsubscribe(id int)
	Entities() []tracker.Entity
	Stats() vision.Stats
}

// Recorder captures detection batches on demand.
type Recorder interface {
	Start() error
	Stop() error
	GetStatus() recorder.RecordingStatus
}

// Signaler answers WebRTC offers and pushes entity frames to peers.
type Signaler interface {
	HandleOffer(offerJSON []byte) ([]byte, error)
	SendFrame(data []byte)
	GetClientCount() int
	GetClientStats() map[string]map[string]uint64
}

// Deps are the collaborators of a Server. Recorder, WebRTC, Profiles and
// Metrics are optional.
type Deps struct {
	Pipeline Pipeline
	Recorder Recorder
	WebRTC   Signaler
	Profiles *tracker.ProfileRegistry
	Metrics  *metrics.Metrics
}

// Server serves the web monitor endpoints.
type Server struct {
	cfg      Config
	pipeline Pipeline
	recorder Recorder
	webrtc   Signaler
	profiles *tracker.ProfileRegistry
	metrics  *metrics.Metrics
	now      func() time.Time

	entityBroadcaster *EventBroadcaster
	statusBroadcaster *EventBroadcaster
}

// NewServer returns a configured monitor server. Call Start to begin
// pushing events and Close to stop.
func NewServer(cfg Config, deps Deps) *Server {
	def := DefaultConfig()
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = def.StatusInterval
	}
	if cfg.EntityInterval <= 0 {
		cfg.EntityInterval = def.EntityInterval
	}
	if cfg.DistanceScale <= 0 {
		cfg.DistanceScale = def.DistanceScale
	}

	s := &Server{
		cfg:      cfg,
		pipeline: deps.Pipeline,
		recorder: deps.Recorder,
		webrtc:   deps.WebRTC,
		profiles: deps.Profiles,
		metrics:  deps.Metrics,
		now:      time.Now,
	}
	s.entityBroadcaster = NewEventBroadcaster("EntityBroadcaster", cfg.EntityInterval, s.entitiesEvent)
	s.statusBroadcaster = NewEventBroadcaster("StatusBroadcaster", cfg.StatusInterval, s.statusEvent)
	if s.webrtc != nil {
		s.entityBroadcaster.SetSink(
			func(ev *wire.Event) { s.webrtc.SendFrame(ev.Protobuf) },
			func() bool { return s.webrtc.GetClientCount() > 0 },
		)
	}
	return s
}

// Start launches the event broadcasters.
func (s *Server) Start() {
	s.entityBroadcaster.Start()
	s.statusBroadcaster.Start()
}

// Close stops the event broadcasters.
func (s *Server) Close() {
	s.entityBroadcaster.Stop()
	s.statusBroadcaster.Stop()
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIndex)
	if s.cfg.AssetsDir != "" {
		mux.Handle("/assets/", http.StripPrefix("/assets/", newAssetHandler(s.cfg.AssetsDir)))
	}
	mux.HandleFunc("/stream", s.handleStream)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/status/stream", s.handleStatusStream)
	mux.HandleFunc("/api/entities", s.handleEntities)
	mux.HandleFunc("/api/entities/stream", s.handleEntitiesStream)
	mux.HandleFunc("/api/mode", s.handleMode)
	mux.HandleFunc("/api/profiles", s.handleProfiles)
	mux.HandleFunc("/api/camera/start", s.handleCameraStart)
	mux.HandleFunc("/api/camera/stop", s.handleCameraStop)
	mux.HandleFunc("/api/recording/start", s.handleRecordingStart)
	mux.HandleFunc("/api/recording/stop", s.handleRecordingStop)
	mux.HandleFunc("/api/recording/status", s.handleRecordingStatus)
	mux.HandleFunc("/api/webrtc/offer", s.handleWebRTCOffer)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}

	return mux
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":  "ok",
		"running": s.pipeline.Running(),
	})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, frameCh := s.pipeline.Subscribe()
	defer s.pipeline.Unsubscribe(id)

	if s.metrics != nil {
		s.metrics.MJPEGClients.Add(1)
		defer s.metrics.MJPEGClients.Add(^uint64(0))
	}
	streamMJPEGFromChannel(w, r, frameCh)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.buildStatus())
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	s.streamEvents(w, r, s.statusBroadcaster, s.statusEvent)
}

func (s *Server) handleEntities(w http.ResponseWriter, r *http.Request) {
	if !wantsProtobuf(r) {
		writeJSON(w, s.buildEntities())
		return
	}
	event, err := s.entitiesEvent()
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/x-protobuf")
	_, _ = w.Write(event.Protobuf)
}

func (s *Server) handleEntitiesStream(w http.ResponseWriter, r *http.Request) {
	s.streamEvents(w, r, s.entityBroadcaster, s.entitiesEvent)
}

// streamEvents sends the current state right away, then follows the
// broadcaster.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request, b *EventBroadcaster, current func() (*wire.Event, error)) {
	id, eventCh := b.Subscribe()
	defer b.Unsubscribe(id)

	if s.metrics != nil {
		s.metrics.SSEClients.Add(1)
		defer s.metrics.SSEClients.Add(^uint64(0))
	}

	first, err := current()
	if err != nil {
		logger.Warn("SSE", "initial event: %v", err)
		first = nil
	}
	streamEventsFromChannel(w, r, eventCh, first, wantsProtobuf(r))
}

// wantsProtobuf reports whether the client prefers Protobuf.
func wantsProtobuf(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, s.modePayload())
	case http.MethodPost:
		var req struct {
			Mode string `json:"mode"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<10)).Decode(&req); err != nil {
			writeJSONWithStatus(w, map[string]any{"error": "Invalid mode request"}, http.StatusBadRequest)
			return
		}
		mode, err := hud.ParseMode(req.Mode)
		if err == nil {
			err = s.pipeline.SetMode(mode)
		}
		if err != nil {
			writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
			return
		}
		logger.Info("WebMonitor", "HUD mode switched to %s", mode)
		writeJSON(w, s.modePayload())
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) modePayload() map[string]any {
	modes := hud.Modes()
	names := make([]string, len(modes))
	for i, m := range modes {
		names[i] = m.String()
	}
	return map[string]any{
		"mode":  s.pipeline.Mode().String(),
		"modes": names,
	}
}

func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	profiles := []tracker.TargetProfile{}
	if s.profiles != nil {
		profiles = s.profiles.List()
	}
	writeJSON(w, map[string]any{"profiles": profiles})
}

func (s *Server) handleCameraStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.pipeline.Start(); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, vision.ErrRunning) {
			status = http.StatusConflict
		}
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, status)
		return
	}
	writeJSON(w, map[string]any{
		"status":     "running",
		"started_at": float64(s.now().Unix()),
	})
}

func (s *Server) handleCameraStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.pipeline.Stop(); err != nil {
		if errors.Is(err, vision.ErrNotRunning) {
			writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusConflict)
			return
		}
		// The session is stopped either way; report what ended it
		logger.Warn("WebMonitor", "session ended with error: %v", err)
	}
	writeJSON(w, map[string]any{
		"status":     "stopped",
		"stopped_at": float64(s.now().Unix()),
	})
}

func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.recorder == nil {
		writeJSONWithStatus(w, map[string]any{"error": "recording is not configured"}, http.StatusServiceUnavailable)
		return
	}

	if err := s.recorder.Start(); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}

	status := s.recorder.GetStatus()
	writeJSON(w, map[string]any{
		"status":     "recording",
		"file":       status.Filename,
		"session":    status.Session,
		"started_at": float64(status.StartTime.Unix()),
	})
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.recorder == nil {
		writeJSONWithStatus(w, map[string]any{"error": "recording is not configured"}, http.StatusServiceUnavailable)
		return
	}

	if err := s.recorder.Stop(); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}

	status := s.recorder.GetStatus()
	writeJSON(w, map[string]any{
		"status":     "stopped",
		"file":       status.Filename,
		"stats":      status,
		"stopped_at": float64(s.now().Unix()),
	})
}

func (s *Server) handleRecordingStatus(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		writeJSON(w, recorder.RecordingStatus{})
		return
	}
	writeJSON(w, s.recorder.GetStatus())
}

func (s *Server) handleWebRTCOffer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}
	if payload["sdp"] == nil || payload["type"] == nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}

	if s.webrtc == nil {
		writeJSONWithStatus(w, map[string]any{"error": "WebRTC is disabled"}, http.StatusServiceUnavailable)
		return
	}

	answer, err := s.webrtc.HandleOffer(body)
	if errors.Is(err, webrtc.ErrInvalidOffer) {
		logger.Debug("WebMonitor", "Rejected WebRTC offer: %v", err)
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, webrtc.ErrMaxClients) {
			status = http.StatusServiceUnavailable
		}
		logger.Warn("WebMonitor", "WebRTC offer failed: %v", err)
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(answer)
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Debug("WebMonitor", "write json: %v", err)
	}
}
