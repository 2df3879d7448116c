package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/vision-hud/internal/hud"
	"github.com/dj-oyu/vision-hud/internal/tracker"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoad_DefaultValues(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 2*time.Second, cfg.Server.StatusInterval)
	assert.True(t, cfg.Server.WebRTC.Enabled)
	assert.Equal(t, SourceSynthetic, cfg.Camera.Source)
	assert.Equal(t, 100*time.Millisecond, cfg.Detector.Interval)
	assert.Equal(t, "tactical", cfg.HUD.Mode)
	assert.Equal(t, "./recordings", cfg.Recording.OutputDir)
	assert.Empty(t, cfg.Profiles)

	// Sections convert back to the owning packages' defaults
	assert.Equal(t, tracker.DefaultConfig(), cfg.TrackerConfig())
	assert.Equal(t, hud.DefaultConfig(), cfg.HUDConfig())
}

func TestLoad_WithValidConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vision-hud.yaml")
	doc := `
server:
  addr: ":9000"
hud:
  mode: matrix
  renderFps: 15
tracker:
  matchDistance: 80
  classes: [person, dog]
enrichment:
  url: http://describer:8000/describe
  cooldown: 30s
profiles:
  - id: p1
    name: GHOST
    threatLevel: 70
    notes: known courier
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	cfg, err := Load(newFlags(t, "--config", path))
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, hud.ModeMatrix, cfg.HUDConfig().Mode)
	assert.Equal(t, 15, cfg.VisionConfig().RenderFPS)
	assert.Equal(t, 80.0, cfg.TrackerConfig().MatchDistance)
	assert.Equal(t, []string{"person", "dog"}, cfg.TrackerConfig().TrackedClasses)
	assert.Equal(t, 30*time.Second, cfg.EnrichConfig().Cooldown)
	assert.Equal(t, "http://describer:8000/describe", cfg.Enrichment.URL)
	require.Len(t, cfg.Profiles, 1)
	assert.Equal(t, tracker.TargetProfile{ID: "p1", Name: "GHOST", ThreatLevel: 70, Notes: "known courier"}, cfg.Profiles[0])
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vision-hud.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"server": {"addr": ":7000"}, "hud": {"mode": "depth"}}`), 0644))

	t.Setenv("VISION_HUD_SERVER_ADDR", ":7100")
	t.Setenv("VISION_HUD_LOG_LEVEL", "debug")

	cfg, err := Load(newFlags(t, "--config", path, "--addr", ":7200"))
	require.NoError(t, err)

	assert.Equal(t, ":7200", cfg.Server.Addr, "flag beats env and file")
	assert.Equal(t, "debug", cfg.Log.Level, "env beats default")
	assert.Equal(t, "depth", cfg.HUD.Mode, "file beats default")
}

func TestLoad_UnsetFlagsKeepDefaults(t *testing.T) {
	cfg, err := Load(newFlags(t))
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.HUD.RenderFPS)
	assert.Equal(t, "tactical", cfg.HUD.Mode)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(newFlags(t, "--config", "/nonexistent/vision-hud.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestValidate(t *testing.T) {
	base, err := Load(nil)
	require.NoError(t, err)

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"unknown source", func(c *Config) { c.Camera.Source = "v4l2" }, "unknown camera.source"},
		{"mjpeg without url", func(c *Config) { c.Camera.Source = SourceMJPEG }, "camera.url"},
		{"mjpeg without detector", func(c *Config) {
			c.Camera.Source = SourceMJPEG
			c.Camera.URL = "http://cam/stream"
		}, "detector.url"},
		{"bad mode", func(c *Config) { c.HUD.Mode = "xray" }, "xray"},
		{"bad tracker", func(c *Config) { c.Tracker.SmoothingFactor = 0 }, "smoothing factor"},
		{"duplicate profile", func(c *Config) {
			c.Profiles = []tracker.TargetProfile{{ID: "a"}, {ID: "a"}}
		}, "duplicate profile"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
