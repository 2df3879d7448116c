package hud

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/vision-hud/internal/detect"
	"github.com/dj-oyu/vision-hud/internal/metrics"
	"github.com/dj-oyu/vision-hud/internal/tracker"
	"github.com/dj-oyu/vision-hud/pkg/types"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func blackFrame(w, h int) *types.Frame {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xff
	}
	return types.NewFrame(img, 1, t0)
}

func person(x, y, w, h float64) detect.Candidate {
	return detect.Candidate{Box: types.Box{X: x, Y: y, W: w, H: h}, Class: "person", Score: 0.9}
}

func newTracker(t *testing.T) *tracker.Tracker {
	t.Helper()
	cfg := tracker.DefaultConfig()
	cfg.ProfileLinkProbability = 0
	tr, err := tracker.New(cfg, nil)
	require.NoError(t, err)
	return tr
}

func TestParseMode(t *testing.T) {
	for _, m := range Modes() {
		got, err := ParseMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}

	got, err := ParseMode("  Matrix ")
	require.NoError(t, err)
	assert.Equal(t, ModeMatrix, got)

	_, err = ParseMode("disco")
	assert.Error(t, err)
	assert.False(t, Mode(99).Valid())
}

func TestModeJSON(t *testing.T) {
	data, err := json.Marshal(map[string]Mode{"mode": ModeDepth})
	require.NoError(t, err)
	assert.JSONEq(t, `{"mode":"depth"}`, string(data))

	var out struct{ Mode Mode }
	require.NoError(t, json.Unmarshal([]byte(`{"Mode":"threat"}`), &out))
	assert.Equal(t, ModeThreat, out.Mode)
	assert.Error(t, json.Unmarshal([]byte(`{"Mode":"nope"}`), &out))
}

func TestWrapText(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		columns int
		want    []string
	}{
		{"empty", "   ", 10, nil},
		{"fits", "short text", 10, []string{"short text"}},
		{"breaks before exceeding", "the quick brown fox jumps", 10, []string{"the quick", "brown fox", "jumps"}},
		{"long word keeps own line", "a extraordinarily b", 5, []string{"a", "extraordinarily", "b"}},
		{"collapses whitespace", "one\n two\tthree", 40, []string{"one two three"}},
		{"no budget", "one two", 0, []string{"one two"}},
		{"counts runes not bytes", "café café café café café", 10, []string{"café café", "café café", "café"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, WrapText(tt.text, tt.columns))
		})
	}
}

func TestTierOf(t *testing.T) {
	assert.Equal(t, TierLow, TierOf(0))
	assert.Equal(t, TierLow, TierOf(39))
	assert.Equal(t, TierMedium, TierOf(40))
	assert.Equal(t, TierHigh, TierOf(70))
	assert.Equal(t, "MED", TierMedium.String())
}

func TestEstimateDistance(t *testing.T) {
	assert.InDelta(t, 5.0, EstimateDistance(50, 250), 1e-9)
	assert.InDelta(t, 2.5, EstimateDistance(100, 250), 1e-9)
	assert.Zero(t, EstimateDistance(0, 250))
}

func TestRenderSkipsEmptyFrame(t *testing.T) {
	m := metrics.New()
	c := New(DefaultConfig(), m)
	tr := newTracker(t)

	_, ok := c.Render(nil, tr)
	assert.False(t, ok)
	_, ok = c.Render(&types.Frame{Image: image.NewRGBA(image.Rect(0, 0, 0, 0))}, tr)
	assert.False(t, ok)

	assert.Equal(t, uint64(2), m.FramesSkipped.Load())
	assert.Zero(t, m.FramesRendered.Load())
}

func TestSurfaceFollowsFrameSize(t *testing.T) {
	c := New(DefaultConfig(), nil)
	tr := newTracker(t)

	img, ok := c.Render(blackFrame(320, 240), tr)
	require.True(t, ok)
	assert.Equal(t, image.Rect(0, 0, 320, 240), img.Bounds())

	img, ok = c.Render(blackFrame(640, 360), tr)
	require.True(t, ok)
	assert.Equal(t, image.Rect(0, 0, 640, 360), img.Bounds())

	var s Surface
	assert.False(t, s.Resize(0, 10))
	assert.Nil(t, s.Image())
	assert.True(t, s.Resize(10, 10))
	assert.False(t, s.Resize(10, 10))
}

func TestRenderDrawsSmoothedGeometry(t *testing.T) {
	tr := newTracker(t)
	tr.Update([]detect.Candidate{person(20, 20, 60, 60)}, t0)
	tr.Update([]detect.Candidate{person(60, 20, 60, 60)}, t0.Add(100*time.Millisecond))

	e, _ := tr.Get(1)
	require.InDelta(t, 28, e.Smooth.X, 1e-9)
	require.Equal(t, 60.0, e.Raw.X)

	c := New(DefaultConfig(), nil)
	img, ok := c.Render(blackFrame(320, 240), tr)
	require.True(t, ok)

	assert.Equal(t, tacticalGreen, img.RGBAAt(28, 20), "bracket at the smoothed corner")
	assert.Equal(t, color.RGBA{0, 0, 0, 255}, img.RGBAAt(119, 79), "nothing at the raw corner")
}

func TestModeSwitchLeavesTrackerUntouched(t *testing.T) {
	tr := newTracker(t)
	tr.Update([]detect.Candidate{person(20, 40, 60, 120), person(200, 40, 50, 100)}, t0)
	tr.CompleteAnalysis(1, "person carrying a large cardboard box", t0)
	require.True(t, tr.BeginAnalysis(2))

	c := New(DefaultConfig(), nil)
	frame := blackFrame(320, 240)
	before := tr.Snapshot()

	rendered := make(map[Mode][]byte)
	for _, m := range Modes() {
		require.NoError(t, c.SetMode(m))
		assert.Equal(t, m, c.Mode())
		img, ok := c.Render(frame, tr)
		require.True(t, ok)
		rendered[m] = bytes.Clone(img.Pix)
	}
	after := tr.Snapshot()

	if diff := cmp.Diff(before, after, cmpopts.IgnoreFields(tracker.Entity{}, "Rotation")); diff != "" {
		t.Fatalf("mode switch changed tracker state (-before +after):\n%s", diff)
	}
	assert.NotEqual(t, rendered[ModeTactical], rendered[ModeMatrix])
	assert.NotEqual(t, rendered[ModeTactical], rendered[ModeDepth])
	assert.NotEqual(t, rendered[ModeMatrix], rendered[ModeThreat])

	assert.Error(t, c.SetMode(Mode(-1)))
}

func TestRenderAdvancesRotation(t *testing.T) {
	tr := newTracker(t)
	tr.Update([]detect.Candidate{person(20, 40, 60, 120)}, t0)

	cfg := DefaultConfig()
	cfg.RotationStep = 0.25
	c := New(cfg, nil)
	for range 4 {
		c.Render(blackFrame(160, 200), tr)
	}
	e, _ := tr.Get(1)
	assert.InDelta(t, 1.0, e.Rotation, 1e-9)
}

func TestAnnotate(t *testing.T) {
	c := New(DefaultConfig(), nil)
	e := tracker.Entity{
		ID:          3,
		Label:       "person",
		Confidence:  0.873,
		Smooth:      types.Box{W: 50, H: 100},
		Moving:      true,
		Threat:      75,
		Description: "tall person in a grey jacket holding a phone",
	}

	a := c.annotate(e)
	assert.Equal(t, "#3 PERSON 87%", a.label)
	assert.Equal(t, "MOVING  RNG 5.0m  THREAT HIGH", a.status)
	assert.Equal(t, []string{"tall person in a grey jacket", "holding a phone"}, a.body)
	assert.False(t, a.analyzing)

	e.Analyzing = true
	a = c.annotate(e)
	assert.True(t, a.analyzing)
	require.Len(t, a.body, 1)
	assert.Contains(t, a.body[0], "ANALYZING")
}

func TestRenderJPEG(t *testing.T) {
	tr := newTracker(t)
	tr.Update([]detect.Candidate{person(20, 40, 60, 120)}, t0)

	cfg := DefaultConfig()
	cfg.Mode = ModeMatrix
	c := New(cfg, nil)
	data, ok := c.RenderJPEG(blackFrame(320, 240), tr)
	require.True(t, ok)

	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 320, 240), img.Bounds())
}
