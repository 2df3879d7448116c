package webmonitor

import (
	"time"
)

// Config defines the runtime configuration for the web monitor server.
type Config struct {
	Addr           string
	AssetsDir      string        // Optional directory served under /assets/
	StatusInterval time.Duration // Period of /api/status/stream events
	EntityInterval time.Duration // Period of entity snapshots pushed to SSE and WebRTC clients
	DistanceScale  float64       // Range estimate numerator, matching the HUD
}

// DefaultConfig returns the monitor defaults.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		StatusInterval: 2 * time.Second,
		EntityInterval: 100 * time.Millisecond,
		DistanceScale:  250,
	}
}
