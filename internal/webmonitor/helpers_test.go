package webmonitor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/vision-hud/internal/camera"
	"github.com/dj-oyu/vision-hud/internal/metrics"
	"github.com/dj-oyu/vision-hud/internal/recorder"
	"github.com/dj-oyu/vision-hud/internal/tracker"
	"github.com/dj-oyu/vision-hud/internal/vision"
	"github.com/dj-oyu/vision-hud/internal/webrtc"
)

const defaultRequestTimeout = 2 * time.Second

type testEnv struct {
	baseURL  string
	client   *http.Client
	session  *vision.Session
	recorder *recorder.Recorder
	metrics  *metrics.Metrics
	server   *Server
}

type envOptions struct {
	signaler  Signaler
	assetsDir string
	profiles  []tracker.TargetProfile
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()

	scene := camera.NewSyntheticScene(camera.SyntheticConfig{Width: 320, Height: 240, FPS: 50, Figures: 2})
	m := metrics.New()
	cfg := vision.DefaultConfig()
	cfg.DetectInterval = 10 * time.Millisecond
	cfg.RenderFPS = 50
	cfg.Adapter.MaxRate = 0

	profiles := tracker.NewProfileRegistry(opts.profiles)
	session, err := vision.New(cfg, vision.Deps{
		NewSource: func() (camera.Source, error) { return scene.NewSource(), nil },
		Detector:  scene.Detector(),
		Profiles:  profiles,
		Metrics:   m,
	})
	require.NoError(t, err)

	rec := recorder.NewRecorder(t.TempDir(), 64, m)
	session.SetBatchSink(rec)

	srv := NewServer(Config{
		AssetsDir:      opts.assetsDir,
		StatusInterval: 20 * time.Millisecond,
		EntityInterval: 20 * time.Millisecond,
	}, Deps{
		Pipeline: session,
		Recorder: rec,
		WebRTC:   opts.signaler,
		Profiles: profiles,
		Metrics:  m,
	})
	srv.Start()

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.CloseClientConnections()
		ts.Close()
		srv.Close()
		_ = rec.Close()
		_ = session.Stop()
	})

	return &testEnv{
		baseURL:  ts.URL,
		client:   &http.Client{Timeout: defaultRequestTimeout},
		session:  session,
		recorder: rec,
		metrics:  m,
		server:   srv,
	}
}

func (c *testEnv) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	return c.do(t, http.MethodGet, path, nil, nil)
}

func (c *testEnv) postJSON(t *testing.T, path string, payload any) (*http.Response, []byte) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return c.do(t, http.MethodPost, path, bytes.NewReader(data), map[string]string{"Content-Type": "application/json"})
}

func (c *testEnv) do(t *testing.T, method, path string, body io.Reader, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, c.baseURL+path, body)
	require.NoError(t, err, "build request")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	require.NoError(t, err, "request failed")
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err, "read response")
	_ = resp.Body.Close()
	return resp, data
}

func decodeJSONMap(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.Unmarshal(body, &payload), "decode %s", body)
	return payload
}

// readSSEEvents returns the data of the first n events on url.
func readSSEEvents(url string, accept string, n int, timeout time.Duration) ([]string, http.Header, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var events []string
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			events = append(events, data)
			if len(events) == n {
				return events, resp.Header, nil
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return events, resp.Header, fmt.Errorf("read sse: %w", err)
	}
	return events, resp.Header, fmt.Errorf("sse stream closed before %d events", n)
}

// fakeSignaler records frames and answers offers with a canned reply.
type fakeSignaler struct {
	mu      sync.Mutex
	clients int
	frames  [][]byte
	err     error
}

func (f *fakeSignaler) HandleOffer(offerJSON []byte) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	f.clients++
	f.mu.Unlock()
	return []byte(`{"type":"answer","sdp":"v=0"}`), nil
}

func (f *fakeSignaler) SendFrame(data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, data)
}

func (f *fakeSignaler) GetClientCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients
}

func (f *fakeSignaler) GetClientStats() map[string]map[string]uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := make(map[string]map[string]uint64, f.clients)
	for i := range f.clients {
		stats[fmt.Sprintf("peer-%d", i+1)] = map[string]uint64{
			"frames_sent":    uint64(len(f.frames)),
			"frames_dropped": 0,
		}
	}
	return stats
}

func (f *fakeSignaler) frameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

var _ Signaler = (*webrtc.Server)(nil)
