package camera

import (
	"context"
	"image"
	"image/color"
	"math"
	"time"

	"golang.org/x/image/draw"

	"github.com/dj-oyu/vision-hud/internal/detect"
	"github.com/dj-oyu/vision-hud/pkg/types"
)

// SyntheticConfig configures a SyntheticScene.
type SyntheticConfig struct {
	Width   int
	Height  int
	FPS     int
	Figures int // Number of walking figures in the scene
}

// DefaultSyntheticConfig returns a VGA scene with two figures.
func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{Width: 640, Height: 480, FPS: 15, Figures: 2}
}

// SyntheticScene is a test scene of figures pacing across the frame. Figure
// positions are a pure function of time since the scene was created, so the
// scene's Detector reports exact boxes for any frame its sources produced.
type SyntheticScene struct {
	cfg   SyntheticConfig
	start time.Time
}

// NewSyntheticScene creates a scene.
func NewSyntheticScene(cfg SyntheticConfig) *SyntheticScene {
	def := DefaultSyntheticConfig()
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = def.Width, def.Height
	}
	if cfg.FPS <= 0 {
		cfg.FPS = def.FPS
	}
	if cfg.Figures < 0 {
		cfg.Figures = 0
	}
	return &SyntheticScene{cfg: cfg, start: time.Now()}
}

// NewSource returns a fresh stream of the scene.
func (sc *SyntheticScene) NewSource() *SyntheticSource {
	s := &SyntheticSource{scene: sc}
	s.init()
	return s
}

// Render draws the scene as it looks at ts.
func (sc *SyntheticScene) Render(ts time.Time) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, sc.cfg.Width, sc.cfg.Height))
	for y := 0; y < sc.cfg.Height; y++ {
		shade := uint8(20 + 40*y/sc.cfg.Height)
		draw.Draw(img, image.Rect(0, y, sc.cfg.Width, y+1), image.NewUniform(color.RGBA{shade, shade, shade + 10, 255}), image.Point{}, draw.Src)
	}
	for _, b := range sc.boxes(ts) {
		draw.Draw(img, b.Rect(), image.NewUniform(color.RGBA{190, 180, 160, 255}), image.Point{}, draw.Src)
	}
	return img
}

// boxes returns figure rectangles at ts. Figure i walks back and forth with
// its own period and lane.
func (sc *SyntheticScene) boxes(ts time.Time) []types.Box {
	t := ts.Sub(sc.start).Seconds()
	w := float64(sc.cfg.Width) / 10
	h := float64(sc.cfg.Height) / 3
	out := make([]types.Box, 0, sc.cfg.Figures)
	for i := range sc.cfg.Figures {
		period := 8.0 + 3*float64(i)
		phase := (math.Sin(2*math.Pi*t/period+float64(i)) + 1) / 2
		x := phase * (float64(sc.cfg.Width) - w)
		lane := float64(sc.cfg.Height)*0.15 + float64(i%3)*float64(sc.cfg.Height)*0.2
		out = append(out, types.Box{X: x, Y: lane, W: w, H: h})
	}
	return out
}

// Detector returns a detector that reports the scene's figures as people.
func (sc *SyntheticScene) Detector() detect.Detector {
	return detect.DetectorFunc(func(ctx context.Context, frame *types.Frame) ([]detect.Candidate, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		boxes := sc.boxes(frame.Timestamp)
		out := make([]detect.Candidate, len(boxes))
		for i, b := range boxes {
			out[i] = detect.Candidate{Box: b, Class: "person", Score: 0.92}
		}
		return out, nil
	})
}

// SyntheticSource streams a SyntheticScene at the scene's frame rate.
type SyntheticSource struct {
	latestFrame
	scene *SyntheticScene
}

// Run renders frames until ctx is done or the source is closed.
func (s *SyntheticSource) Run(ctx context.Context) error {
	if s.isClosed() {
		return ErrSourceClosed
	}
	ticker := time.NewTicker(time.Second / time.Duration(s.scene.cfg.FPS))
	defer ticker.Stop()

	s.emit(time.Now())
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.closed:
			return ErrSourceClosed
		case now := <-ticker.C:
			s.emit(now)
		}
	}
}

func (s *SyntheticSource) emit(ts time.Time) {
	s.publish(types.NewFrame(s.scene.Render(ts), s.nextSeq(), ts))
}

// Close stops the stream.
func (s *SyntheticSource) Close() error {
	s.close()
	return nil
}
