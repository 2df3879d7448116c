package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h)), nil))
	return buf.Bytes()
}

func TestMJPEGSourceDecodesParts(t *testing.T) {
	frame := jpegBytes(t, 64, 48)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		flusher := w.(http.Flusher)
		for i := 0; i < 4; i++ {
			fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\n\r\n")
			_, _ = w.Write(frame)
			fmt.Fprintf(w, "\r\n")
			flusher.Flush()
		}
		<-r.Context().Done()
	}))
	defer server.Close()

	src := NewMJPEGSource(MJPEGConfig{URL: server.URL})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx) }()

	require.Eventually(t, func() bool { return src.FrameCount() >= 3 }, 2*time.Second, 10*time.Millisecond)
	f, ok := src.Latest()
	require.True(t, ok)
	assert.Equal(t, 64, f.Width)
	assert.Equal(t, 48, f.Height)

	cancel()
	assert.NoError(t, <-done)
}

func TestMJPEGSourceCloseReleasesStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	src := NewMJPEGSource(MJPEGConfig{URL: server.URL})
	done := make(chan error, 1)
	go func() { done <- src.Run(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, src.Close())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrSourceClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}
	assert.ErrorIs(t, src.Run(context.Background()), ErrSourceClosed)
}

func TestMJPEGSourceRejectsNonMultipart(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("hello"))
	}))
	defer server.Close()

	src := NewMJPEGSource(MJPEGConfig{URL: server.URL})
	err := src.stream(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a multipart stream")
}

func TestSyntheticSource(t *testing.T) {
	scene := NewSyntheticScene(SyntheticConfig{Width: 320, Height: 240, FPS: 50, Figures: 2})
	src := scene.NewSource()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = src.Run(ctx) }()

	require.Eventually(t, func() bool { _, ok := src.Latest(); return ok }, time.Second, 5*time.Millisecond)
	f, _ := src.Latest()
	assert.Equal(t, 320, f.Width)

	cands, err := scene.Detector().Detect(context.Background(), f)
	require.NoError(t, err)
	require.Len(t, cands, 2)
	for _, c := range cands {
		assert.Equal(t, "person", c.Class)
		assert.True(t, c.Box.Rect().In(image.Rect(0, 0, 320, 240)), "box %v inside frame", c.Box)

		// The figure is painted where the detector says it is
		cx, cy := c.Box.Center()
		r, _, _, _ := f.Image.At(int(cx), int(cy)).RGBA()
		assert.Equal(t, uint32(190)*0x101, r)
	}

	require.NoError(t, src.Close())
	assert.ErrorIs(t, src.Run(context.Background()), ErrSourceClosed)

	// A closed stream does not end the scene
	next := scene.NewSource()
	go func() { _ = next.Run(ctx) }()
	require.Eventually(t, func() bool { _, ok := next.Latest(); return ok }, time.Second, 5*time.Millisecond)
}
