package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/dj-oyu/vision-hud/internal/camera"
	"github.com/dj-oyu/vision-hud/internal/config"
	"github.com/dj-oyu/vision-hud/internal/detect"
	"github.com/dj-oyu/vision-hud/internal/enrich"
	"github.com/dj-oyu/vision-hud/internal/hud"
	"github.com/dj-oyu/vision-hud/internal/logger"
	"github.com/dj-oyu/vision-hud/internal/metrics"
	"github.com/dj-oyu/vision-hud/internal/recorder"
	"github.com/dj-oyu/vision-hud/internal/tracker"
	"github.com/dj-oyu/vision-hud/internal/vision"
	"github.com/dj-oyu/vision-hud/internal/webmonitor"
	"github.com/dj-oyu/vision-hud/internal/webrtc"
)

// Server owns every long-lived component of the HUD service.
type Server struct {
	cfg        config.Config
	metrics    *metrics.Metrics
	session    *vision.Session
	recorder   *recorder.Recorder
	webrtc     *webrtc.Server
	monitor    *webmonitor.Server
	httpServer *http.Server
}

func main() {
	fs := pflag.NewFlagSet("vision-hud", pflag.ExitOnError)
	config.RegisterFlags(fs)
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.Load(fs)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize logger
	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	if cfg.Log.JSON {
		logger.InitJSON(level, os.Stderr)
	} else {
		logger.Init(level, os.Stderr, true)
	}

	logger.Info("Main", "Vision HUD starting...")
	logger.Info("Main", "Log level: %s", level)

	srv, err := NewServer(cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}
	if err := srv.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Main", "Shutting down...")
	if err := srv.Shutdown(); err != nil {
		logger.Error("Main", "Error during shutdown: %v", err)
	}
	logger.Info("Main", "Server stopped")
}

// NewServer wires the pipeline, recorder and HTTP surfaces from cfg.
func NewServer(cfg config.Config) (*Server, error) {
	m := metrics.New()
	profiles := tracker.NewProfileRegistry(cfg.Profiles)

	deps := vision.Deps{
		Profiles: profiles,
		Metrics:  m,
	}

	switch cfg.Camera.Source {
	case config.SourceMJPEG:
		mjpegCfg := cfg.MJPEGConfig()
		deps.NewSource = func() (camera.Source, error) {
			return camera.NewMJPEGSource(mjpegCfg), nil
		}
	default:
		scene := camera.NewSyntheticScene(cfg.SyntheticConfig())
		deps.NewSource = func() (camera.Source, error) {
			return scene.NewSource(), nil
		}
		deps.Detector = scene.Detector()
	}
	if cfg.Detector.URL != "" {
		deps.Detector = detect.NewHTTPDetector(cfg.Detector.URL, cfg.Detector.Timeout)
	}
	if deps.Detector == nil {
		return nil, errors.New("no detector configured for the camera source")
	}
	if cfg.Enrichment.URL != "" {
		deps.Describer = enrich.NewHTTPDescriber(cfg.Enrichment.URL, cfg.Enrichment.RequestTimeout)
	} else {
		logger.Info("Main", "Description service not configured, enrichment disabled")
	}

	session, err := vision.New(cfg.VisionConfig(), deps)
	if err != nil {
		return nil, fmt.Errorf("failed to create vision session: %w", err)
	}

	rec := recorder.NewRecorder(cfg.Recording.OutputDir, cfg.Recording.BufferSize, m)
	session.SetBatchSink(rec)

	srv := &Server{
		cfg:      cfg,
		metrics:  m,
		session:  session,
		recorder: rec,
	}

	monitorDeps := webmonitor.Deps{
		Pipeline: session,
		Recorder: rec,
		Profiles: profiles,
		Metrics:  m,
	}
	if cfg.Server.WebRTC.Enabled {
		srv.webrtc = webrtc.NewServer(cfg.Server.WebRTC.STUNServers, cfg.Server.WebRTC.MaxClients, m)
		monitorDeps.WebRTC = srv.webrtc
	}

	srv.monitor = webmonitor.NewServer(webmonitor.Config{
		Addr:           cfg.Server.Addr,
		AssetsDir:      cfg.Server.AssetsDir,
		StatusInterval: cfg.Server.StatusInterval,
		EntityInterval: cfg.Server.EntityInterval,
		DistanceScale:  cfg.HUD.DistanceScale,
	}, monitorDeps)

	srv.httpServer = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.monitor.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv, nil
}

// Start launches the broadcasters, the HTTP server and, when configured,
// the camera pipeline.
func (s *Server) Start() error {
	mode, err := hud.ParseMode(s.cfg.HUD.Mode)
	if err != nil {
		return err
	}
	if err := s.session.SetMode(mode); err != nil {
		return err
	}

	logger.Info("Main", "  Camera source: %s", s.cfg.Camera.Source)
	logger.Info("Main", "  HTTP server: %s", s.cfg.Server.Addr)
	logger.Info("Main", "  Recording path: %s", s.cfg.Recording.OutputDir)
	logger.Info("Main", "  WebRTC: %v", s.webrtc != nil)

	s.monitor.Start()

	go func() {
		logger.Info("Main", "Starting HTTP server on %s", s.cfg.Server.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Main", "HTTP server error: %v", err)
		}
	}()

	if s.cfg.Camera.Autostart {
		if err := s.session.Start(); err != nil {
			return fmt.Errorf("failed to start camera: %w", err)
		}
		logger.Info("Main", "Camera started (mode=%s)", mode)
	}
	return nil
}

// Shutdown stops HTTP first so no client restarts the pipeline, then the
// session, the recorder and the WebRTC peers.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	s.monitor.Close()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := s.session.Stop(); err != nil && !errors.Is(err, vision.ErrNotRunning) {
		errs = append(errs, fmt.Errorf("session stop: %w", err))
	}
	if err := s.recorder.Close(); err != nil {
		errs = append(errs, fmt.Errorf("recorder close: %w", err))
	}
	if s.webrtc != nil {
		if err := s.webrtc.Close(); err != nil {
			errs = append(errs, fmt.Errorf("webrtc close: %w", err))
		}
	}
	return errors.Join(errs...)
}
