// Package config loads the service configuration from defaults, an optional
// YAML/JSON file, VISION_HUD_* environment variables and command-line flags,
// in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dj-oyu/vision-hud/internal/camera"
	"github.com/dj-oyu/vision-hud/internal/detect"
	"github.com/dj-oyu/vision-hud/internal/enrich"
	"github.com/dj-oyu/vision-hud/internal/hud"
	"github.com/dj-oyu/vision-hud/internal/tracker"
	"github.com/dj-oyu/vision-hud/internal/vision"
)

// EnvPrefix is prepended to every environment override, e.g.
// VISION_HUD_SERVER_ADDR.
const EnvPrefix = "VISION_HUD"

// Camera source kinds.
const (
	SourceSynthetic = "synthetic"
	SourceMJPEG     = "mjpeg"
)

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

type WebRTCConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	STUNServers []string `mapstructure:"stunServers"`
	MaxClients  int      `mapstructure:"maxClients"`
}

type ServerConfig struct {
	Addr           string        `mapstructure:"addr"`
	AssetsDir      string        `mapstructure:"assetsDir"`
	StatusInterval time.Duration `mapstructure:"statusInterval"`
	EntityInterval time.Duration `mapstructure:"entityInterval"`
	WebRTC         WebRTCConfig  `mapstructure:"webrtc"`
}

type CameraConfig struct {
	Source            string        `mapstructure:"source"` // synthetic or mjpeg
	URL               string        `mapstructure:"url"`
	Autostart         bool          `mapstructure:"autostart"`
	ReconnectDelay    time.Duration `mapstructure:"reconnectDelay"`
	MaxReconnectDelay time.Duration `mapstructure:"maxReconnectDelay"`
	Width             int           `mapstructure:"width"`
	Height            int           `mapstructure:"height"`
	FPS               int           `mapstructure:"fps"`
	Figures           int           `mapstructure:"figures"`
}

type DetectorConfig struct {
	URL      string        `mapstructure:"url"` // Empty uses the synthetic scene's own detector
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
	MaxRate  float64       `mapstructure:"maxRate"`
	Burst    int           `mapstructure:"burst"`
}

type TrackerConfig struct {
	Classes                []string `mapstructure:"classes"`
	MatchDistance          float64  `mapstructure:"matchDistance"`
	InitialLife            int      `mapstructure:"initialLife"`
	LifeCap                int      `mapstructure:"lifeCap"`
	LifeGain               int      `mapstructure:"lifeGain"`
	LifeDecay              int      `mapstructure:"lifeDecay"`
	SmoothingFactor        float64  `mapstructure:"smoothingFactor"`
	MotionThreshold        float64  `mapstructure:"motionThreshold"`
	MotionReferenceWidth   float64  `mapstructure:"motionReferenceWidth"`
	ProfileLinkProbability float64  `mapstructure:"profileLinkProbability"`
	MaxEntities            int      `mapstructure:"maxEntities"`
}

type EnrichmentConfig struct {
	URL            string        `mapstructure:"url"` // Empty disables enrichment
	Interval       time.Duration `mapstructure:"interval"`
	StabilityLife  int           `mapstructure:"stabilityLife"`
	MinAge         time.Duration `mapstructure:"minAge"`
	Cooldown       time.Duration `mapstructure:"cooldown"`
	RequestTimeout time.Duration `mapstructure:"requestTimeout"`
	CropPadding    int           `mapstructure:"cropPadding"`
	MaxCropSide    int           `mapstructure:"maxCropSide"`
	JPEGQuality    int           `mapstructure:"jpegQuality"`
}

type HUDConfig struct {
	Mode          string  `mapstructure:"mode"`
	RenderFPS     int     `mapstructure:"renderFps"`
	WrapColumns   int     `mapstructure:"wrapColumns"`
	DistanceScale float64 `mapstructure:"distanceScale"`
	RotationStep  float64 `mapstructure:"rotationStep"`
	JPEGQuality   int     `mapstructure:"jpegQuality"`
}

type RecordingConfig struct {
	OutputDir  string `mapstructure:"outputDir"`
	BufferSize int    `mapstructure:"bufferSize"`
}

// Config is the complete service configuration.
type Config struct {
	Log        LogConfig               `mapstructure:"log"`
	Server     ServerConfig            `mapstructure:"server"`
	Camera     CameraConfig            `mapstructure:"camera"`
	Detector   DetectorConfig          `mapstructure:"detector"`
	Tracker    TrackerConfig           `mapstructure:"tracker"`
	Enrichment EnrichmentConfig        `mapstructure:"enrichment"`
	HUD        HUDConfig               `mapstructure:"hud"`
	Recording  RecordingConfig         `mapstructure:"recording"`
	Profiles   []tracker.TargetProfile `mapstructure:"profiles"`
}

// flagKeys maps command-line flags to config keys.
var flagKeys = map[string]string{
	"addr":          "server.addr",
	"assets":        "server.assetsDir",
	"webrtc":        "server.webrtc.enabled",
	"source":        "camera.source",
	"camera-url":    "camera.url",
	"autostart":     "camera.autostart",
	"detector-url":  "detector.url",
	"describer-url": "enrichment.url",
	"mode":          "hud.mode",
	"fps":           "hud.renderFps",
	"recordings":    "recording.outputDir",
	"log-level":     "log.level",
	"log-json":      "log.json",
}

// RegisterFlags defines the command-line overrides on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.StringP("config", "c", "", "Path to a YAML or JSON config file")
	fs.String("addr", ":8080", "HTTP listen address")
	fs.String("assets", "", "Directory served under /assets/")
	fs.Bool("webrtc", true, "Enable the WebRTC entity data channel")
	fs.String("source", SourceSynthetic, "Camera source: synthetic or mjpeg")
	fs.String("camera-url", "", "MJPEG stream URL (source=mjpeg)")
	fs.Bool("autostart", true, "Start the camera when the server starts")
	fs.String("detector-url", "", "Object detector endpoint (empty uses the synthetic detector)")
	fs.String("describer-url", "", "Description service endpoint (empty disables enrichment)")
	fs.String("mode", hud.ModeTactical.String(), "Initial HUD mode: "+strings.Join(modeNames(), ", "))
	fs.Int("fps", 30, "HUD render rate")
	fs.String("recordings", "./recordings", "Directory for detection recordings")
	fs.String("log-level", "info", "Log level: debug, info, warn, error")
	fs.Bool("log-json", false, "Emit JSON log lines")
}

func modeNames() []string {
	modes := hud.Modes()
	names := make([]string, len(modes))
	for i, m := range modes {
		names[i] = m.String()
	}
	return names
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.assetsDir", "")
	v.SetDefault("server.statusInterval", 2*time.Second)
	v.SetDefault("server.entityInterval", 100*time.Millisecond)
	v.SetDefault("server.webrtc.enabled", true)
	v.SetDefault("server.webrtc.stunServers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("server.webrtc.maxClients", 10)

	syn := camera.DefaultSyntheticConfig()
	v.SetDefault("camera.source", SourceSynthetic)
	v.SetDefault("camera.url", "")
	v.SetDefault("camera.autostart", true)
	v.SetDefault("camera.reconnectDelay", 500*time.Millisecond)
	v.SetDefault("camera.maxReconnectDelay", 10*time.Second)
	v.SetDefault("camera.width", syn.Width)
	v.SetDefault("camera.height", syn.Height)
	v.SetDefault("camera.fps", syn.FPS)
	v.SetDefault("camera.figures", syn.Figures)

	vis := vision.DefaultConfig()
	v.SetDefault("detector.url", "")
	v.SetDefault("detector.interval", vis.DetectInterval)
	v.SetDefault("detector.timeout", vis.Adapter.Timeout)
	v.SetDefault("detector.maxRate", vis.Adapter.MaxRate)
	v.SetDefault("detector.burst", vis.Adapter.Burst)

	tr := tracker.DefaultConfig()
	v.SetDefault("tracker.classes", tr.TrackedClasses)
	v.SetDefault("tracker.matchDistance", tr.MatchDistance)
	v.SetDefault("tracker.initialLife", tr.InitialLife)
	v.SetDefault("tracker.lifeCap", tr.LifeCap)
	v.SetDefault("tracker.lifeGain", tr.LifeGain)
	v.SetDefault("tracker.lifeDecay", tr.LifeDecay)
	v.SetDefault("tracker.smoothingFactor", tr.SmoothingFactor)
	v.SetDefault("tracker.motionThreshold", tr.MotionThreshold)
	v.SetDefault("tracker.motionReferenceWidth", tr.MotionReferenceWidth)
	v.SetDefault("tracker.profileLinkProbability", tr.ProfileLinkProbability)
	v.SetDefault("tracker.maxEntities", tr.MaxEntities)

	en := enrich.DefaultConfig()
	v.SetDefault("enrichment.url", "")
	v.SetDefault("enrichment.interval", en.Interval)
	v.SetDefault("enrichment.stabilityLife", en.StabilityLife)
	v.SetDefault("enrichment.minAge", en.MinAge)
	v.SetDefault("enrichment.cooldown", en.Cooldown)
	v.SetDefault("enrichment.requestTimeout", en.RequestTimeout)
	v.SetDefault("enrichment.cropPadding", en.CropPadding)
	v.SetDefault("enrichment.maxCropSide", en.MaxCropSide)
	v.SetDefault("enrichment.jpegQuality", en.JPEGQuality)

	h := hud.DefaultConfig()
	v.SetDefault("hud.mode", h.Mode.String())
	v.SetDefault("hud.renderFps", vis.RenderFPS)
	v.SetDefault("hud.wrapColumns", h.WrapColumns)
	v.SetDefault("hud.distanceScale", h.DistanceScale)
	v.SetDefault("hud.rotationStep", h.RotationStep)
	v.SetDefault("hud.jpegQuality", h.JPEGQuality)

	v.SetDefault("recording.outputDir", "./recordings")
	v.SetDefault("recording.bufferSize", 256)
}

// Load builds the configuration. fs may be nil; when it is not, it must
// have been populated by RegisterFlags and parsed. Only flags the user set
// override file and environment values.
func Load(fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var path string
	if fs != nil {
		path, _ = fs.GetString("config")
		for name, key := range flagKeys {
			f := fs.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that the owning packages would otherwise reject
// late.
func (c Config) Validate() error {
	switch c.Camera.Source {
	case SourceSynthetic:
	case SourceMJPEG:
		if c.Camera.URL == "" {
			return errors.New("config: camera.url is required for the mjpeg source")
		}
		if c.Detector.URL == "" {
			return errors.New("config: detector.url is required for the mjpeg source")
		}
	default:
		return fmt.Errorf("config: unknown camera.source %q", c.Camera.Source)
	}
	if _, err := hud.ParseMode(c.HUD.Mode); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := c.TrackerConfig().Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	seen := make(map[string]bool, len(c.Profiles))
	for _, p := range c.Profiles {
		if p.ID == "" {
			return errors.New("config: profile without id")
		}
		if seen[p.ID] {
			return fmt.Errorf("config: duplicate profile id %q", p.ID)
		}
		seen[p.ID] = true
	}
	return nil
}

// TrackerConfig converts the tracker section.
func (c Config) TrackerConfig() tracker.Config {
	t := c.Tracker
	return tracker.Config{
		TrackedClasses:         t.Classes,
		MatchDistance:          t.MatchDistance,
		InitialLife:            t.InitialLife,
		LifeCap:                t.LifeCap,
		LifeGain:               t.LifeGain,
		LifeDecay:              t.LifeDecay,
		SmoothingFactor:        t.SmoothingFactor,
		MotionThreshold:        t.MotionThreshold,
		MotionReferenceWidth:   t.MotionReferenceWidth,
		ProfileLinkProbability: t.ProfileLinkProbability,
		MaxEntities:            t.MaxEntities,
	}
}

// EnrichConfig converts the enrichment section.
func (c Config) EnrichConfig() enrich.Config {
	e := c.Enrichment
	return enrich.Config{
		Interval:       e.Interval,
		StabilityLife:  e.StabilityLife,
		MinAge:         e.MinAge,
		Cooldown:       e.Cooldown,
		RequestTimeout: e.RequestTimeout,
		CropPadding:    e.CropPadding,
		MaxCropSide:    e.MaxCropSide,
		JPEGQuality:    e.JPEGQuality,
	}
}

// HUDConfig converts the hud section. The mode was checked by Validate.
func (c Config) HUDConfig() hud.Config {
	mode, _ := hud.ParseMode(c.HUD.Mode)
	return hud.Config{
		Mode:          mode,
		WrapColumns:   c.HUD.WrapColumns,
		DistanceScale: c.HUD.DistanceScale,
		RotationStep:  c.HUD.RotationStep,
		JPEGQuality:   c.HUD.JPEGQuality,
	}
}

// VisionConfig assembles the session configuration.
func (c Config) VisionConfig() vision.Config {
	return vision.Config{
		DetectInterval: c.Detector.Interval,
		RenderFPS:      c.HUD.RenderFPS,
		Adapter: detect.AdapterConfig{
			MaxRate: c.Detector.MaxRate,
			Burst:   c.Detector.Burst,
			Timeout: c.Detector.Timeout,
		},
		Tracker: c.TrackerConfig(),
		Enrich:  c.EnrichConfig(),
		HUD:     c.HUDConfig(),
	}
}

// MJPEGConfig converts the camera section for an MJPEG source.
func (c Config) MJPEGConfig() camera.MJPEGConfig {
	return camera.MJPEGConfig{
		URL:               c.Camera.URL,
		ReconnectDelay:    c.Camera.ReconnectDelay,
		MaxReconnectDelay: c.Camera.MaxReconnectDelay,
	}
}

// SyntheticConfig converts the camera section for the synthetic scene.
func (c Config) SyntheticConfig() camera.SyntheticConfig {
	return camera.SyntheticConfig{
		Width:   c.Camera.Width,
		Height:  c.Camera.Height,
		FPS:     c.Camera.FPS,
		Figures: c.Camera.Figures,
	}
}
