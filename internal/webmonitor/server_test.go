package webmonitor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/vision-hud/internal/hud"
	"github.com/dj-oyu/vision-hud/internal/tracker"
	"github.com/dj-oyu/vision-hud/internal/webrtc"
	"github.com/dj-oyu/vision-hud/internal/wire"
)

func TestIndex(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	resp, body := env.get(t, "/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	for _, needle := range []string{
		"<title>Vision HUD Monitor</title>",
		`src="/stream"`,
		"/api/entities/stream",
		"/api/status/stream",
		"/api/mode",
	} {
		assert.Contains(t, string(body), needle)
	}

	resp, _ = env.get(t, "/nope")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAssets(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hud.css"), []byte(":root { --accent: #0f8; }"), 0644))
	env := newTestEnv(t, envOptions{assetsDir: dir})

	resp, body := env.get(t, "/assets/hud.css")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/css")
	assert.Contains(t, string(body), ":root")

	resp, _ = env.get(t, "/assets/missing.js")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	resp, body := env.get(t, "/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	payload := decodeJSONMap(t, body)
	assert.Equal(t, "ok", payload["status"])
	assert.Equal(t, false, payload["running"])

	resp, body = env.get(t, "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "vision_entities_active")
}

func TestModeEndpoint(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	resp, body := env.get(t, "/api/mode")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	payload := decodeJSONMap(t, body)
	assert.Equal(t, "tactical", payload["mode"])
	assert.Equal(t, []any{"tactical", "matrix", "depth", "threat"}, payload["modes"])

	resp, body = env.postJSON(t, "/api/mode", map[string]any{"mode": "MATRIX"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "matrix", decodeJSONMap(t, body)["mode"])
	assert.Equal(t, hud.ModeMatrix, env.session.Mode())

	resp, body = env.postJSON(t, "/api/mode", map[string]any{"mode": "xray"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decodeJSONMap(t, body)["error"], "xray")
	assert.Equal(t, hud.ModeMatrix, env.session.Mode(), "rejected switch keeps the mode")

	resp, _ = env.do(t, http.MethodDelete, "/api/mode", nil, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestProfilesEndpoint(t *testing.T) {
	env := newTestEnv(t, envOptions{profiles: []tracker.TargetProfile{
		{ID: "p1", Name: "GHOST", ThreatLevel: 70},
	}})
	resp, body := env.get(t, "/api/profiles")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Profiles []tracker.TargetProfile `json:"profiles"`
	}
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Equal(t, []tracker.TargetProfile{{ID: "p1", Name: "GHOST", ThreatLevel: 70}}, payload.Profiles)
}

func TestCameraLifecycle(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	resp, _ := env.get(t, "/api/camera/start")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, body := env.postJSON(t, "/api/camera/start", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, "running", decodeJSONMap(t, body)["status"])
	assert.True(t, env.session.Running())

	resp, _ = env.postJSON(t, "/api/camera/start", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = env.postJSON(t, "/api/camera/stop", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "stopped", decodeJSONMap(t, body)["status"])

	resp, _ = env.postJSON(t, "/api/camera/stop", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestStatusPayload(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	require.NoError(t, env.session.Start())

	require.Eventually(t, func() bool { return env.session.Stats().Entities == 2 }, 2*time.Second, 10*time.Millisecond)

	resp, body := env.get(t, "/api/status")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	payload := decodeJSONMap(t, body)

	session, ok := payload["session"].(map[string]any)
	require.True(t, ok, "session section")
	assert.Equal(t, true, session["running"])
	assert.Equal(t, "tactical", session["mode"])
	assert.EqualValues(t, 320, session["frame_width"])

	recording, ok := payload["recording"].(map[string]any)
	require.True(t, ok, "recording section")
	assert.Equal(t, false, recording["recording"])

	pipeline, ok := payload["pipeline"].(map[string]any)
	require.True(t, ok, "pipeline section")
	assert.EqualValues(t, 2, pipeline["entities_created"])
	assert.IsType(t, float64(0), payload["timestamp"])
	assert.NotContains(t, payload, "webrtc_peers", "no peers without WebRTC")
}

func TestStatusReportsWebRTCPeers(t *testing.T) {
	sig := &fakeSignaler{}
	env := newTestEnv(t, envOptions{signaler: sig})

	resp, _ := env.postJSON(t, "/api/webrtc/offer", map[string]any{"type": "offer", "sdp": "v=0"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sig.SendFrame([]byte("snapshot"))

	resp, body := env.get(t, "/api/status")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	payload := decodeJSONMap(t, body)

	clients, ok := payload["clients"].(map[string]any)
	require.True(t, ok, "clients section")
	assert.EqualValues(t, 1, clients["webrtc"])

	peers, ok := payload["webrtc_peers"].(map[string]any)
	require.True(t, ok, "webrtc_peers section")
	peer, ok := peers["peer-1"].(map[string]any)
	require.True(t, ok)
	assert.GreaterOrEqual(t, peer["frames_sent"], float64(1))
	assert.EqualValues(t, 0, peer["frames_dropped"])
}

func TestEntitiesEndpoint(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	require.NoError(t, env.session.Start())
	require.Eventually(t, func() bool { return env.session.Stats().Entities == 2 }, 2*time.Second, 10*time.Millisecond)

	resp, body := env.get(t, "/api/entities")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ev wire.EntitiesEvent
	require.NoError(t, json.Unmarshal(body, &ev))
	require.Len(t, ev.Entities, 2)
	for _, e := range ev.Entities {
		assert.Equal(t, "person", e.Class)
		assert.Positive(t, e.Box.W)
		assert.Positive(t, e.Distance)
	}

	resp, body = env.do(t, http.MethodGet, "/api/entities", nil, map[string]string{"Accept": "application/x-protobuf"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-protobuf", resp.Header.Get("Content-Type"))
	fields, err := wire.DecodeProtobuf(body)
	require.NoError(t, err)
	assert.Len(t, fields["entities"], 2)
}

func TestEntitiesStreamJSON(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	require.NoError(t, env.session.Start())

	events, headers, err := readSSEEvents(env.baseURL+"/api/entities/stream", "", 3, 3*time.Second)
	require.NoError(t, err)
	assert.Contains(t, headers.Get("Content-Type"), "text/event-stream")
	assert.Equal(t, "application/json", headers.Get("X-Content-Format"))

	for _, data := range events {
		var ev wire.EntitiesEvent
		require.NoError(t, json.Unmarshal([]byte(data), &ev), data)
		assert.Equal(t, "tactical", ev.Mode)
	}
}

func TestEntitiesStreamProtobuf(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	require.NoError(t, env.session.Start())

	events, headers, err := readSSEEvents(env.baseURL+"/api/entities/stream", "application/protobuf", 2, 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "application/protobuf", headers.Get("X-Content-Format"))

	for _, data := range events {
		raw, err := base64.StdEncoding.DecodeString(data)
		require.NoError(t, err)
		fields, err := wire.DecodeProtobuf(raw)
		require.NoError(t, err)
		assert.Contains(t, fields, "entities")
	}
}

func TestStatusStream(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	events, _, err := readSSEEvents(env.baseURL+"/api/status/stream", "", 2, 3*time.Second)
	require.NoError(t, err)
	payload := decodeJSONMap(t, []byte(events[1]))
	assert.Contains(t, payload, "session")
	assert.Contains(t, payload, "clients")
}

func TestMJPEGStream(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	require.NoError(t, env.session.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.baseURL+"/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	contentType := resp.Header.Get("Content-Type")
	assert.Contains(t, contentType, "multipart/x-mixed-replace")
	assert.Contains(t, contentType, "boundary=frame")

	head := make([]byte, len("--frame\r\nContent-Type: image/jpeg\r\n\r\n"))
	_, err = io.ReadFull(resp.Body, head)
	require.NoError(t, err)
	assert.Equal(t, "--frame\r\nContent-Type: image/jpeg\r\n\r\n", string(head))

	require.Eventually(t, func() bool { return env.metrics.MJPEGClients.Load() == 1 }, time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return env.metrics.FramesRendered.Load() > 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestRecordingLifecycle(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	require.NoError(t, env.session.Start())

	resp, body := env.get(t, "/api/recording/status")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, decodeJSONMap(t, body)["recording"])

	resp, body = env.postJSON(t, "/api/recording/start", map[string]any{})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	startPayload := decodeJSONMap(t, body)
	assert.Equal(t, "recording", startPayload["status"])
	file, _ := startPayload["file"].(string)
	assert.True(t, strings.HasSuffix(file, ".ndjson"), file)
	assert.IsType(t, float64(0), startPayload["started_at"])

	resp, _ = env.postJSON(t, "/api/recording/start", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	require.Eventually(t, func() bool { return env.recorder.GetStatus().BatchCount >= 3 }, 2*time.Second, 10*time.Millisecond)

	resp, body = env.postJSON(t, "/api/recording/stop", map[string]any{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stopPayload := decodeJSONMap(t, body)
	assert.Equal(t, "stopped", stopPayload["status"])
	assert.Equal(t, file, stopPayload["file"])
	stats, ok := stopPayload["stats"].(map[string]any)
	require.True(t, ok)
	assert.GreaterOrEqual(t, stats["batch_count"], float64(3))

	resp, _ = env.postJSON(t, "/api/recording/stop", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebRTCOffer(t *testing.T) {
	t.Run("invalid", func(t *testing.T) {
		env := newTestEnv(t, envOptions{signaler: &fakeSignaler{}})
		resp, body := env.postJSON(t, "/api/webrtc/offer", map[string]any{})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "Invalid offer data", decodeJSONMap(t, body)["error"])
	})

	t.Run("malformed", func(t *testing.T) {
		sig := webrtc.NewServer(nil, 2, nil)
		t.Cleanup(func() { _ = sig.Close() })
		env := newTestEnv(t, envOptions{signaler: sig})

		for _, offer := range []map[string]any{
			{"type": "answer", "sdp": "v=0"},
			{"type": "bogus", "sdp": "v=0"},
			{"type": "offer", "sdp": "not an sdp"},
		} {
			resp, body := env.postJSON(t, "/api/webrtc/offer", offer)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode, offer)
			assert.Equal(t, "Invalid offer data", decodeJSONMap(t, body)["error"], offer)
		}
		assert.Zero(t, sig.GetClientCount())
	})

	t.Run("disabled", func(t *testing.T) {
		env := newTestEnv(t, envOptions{})
		resp, _ := env.postJSON(t, "/api/webrtc/offer", map[string]any{"type": "offer", "sdp": "v=0"})
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})

	t.Run("full", func(t *testing.T) {
		sig := &fakeSignaler{err: fmt.Errorf("%w (1)", webrtc.ErrMaxClients)}
		env := newTestEnv(t, envOptions{signaler: sig})
		resp, _ := env.postJSON(t, "/api/webrtc/offer", map[string]any{"type": "offer", "sdp": "v=0"})
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})

	t.Run("answer and entity frames", func(t *testing.T) {
		sig := &fakeSignaler{}
		env := newTestEnv(t, envOptions{signaler: sig})
		require.NoError(t, env.session.Start())

		resp, body := env.postJSON(t, "/api/webrtc/offer", map[string]any{"type": "offer", "sdp": "v=0"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "answer", decodeJSONMap(t, body)["type"])

		// Entity snapshots reach WebRTC peers without any SSE client
		require.Eventually(t, func() bool { return sig.frameCount() >= 2 }, 2*time.Second, 10*time.Millisecond)
		sig.mu.Lock()
		frame := sig.frames[0]
		sig.mu.Unlock()
		fields, err := wire.DecodeProtobuf(frame)
		require.NoError(t, err)
		assert.Contains(t, fields, "entities")
	})
}

func TestEventBroadcasterIdleWithoutListeners(t *testing.T) {
	calls := 0
	eb := NewEventBroadcaster("Test", time.Hour, func() (*wire.Event, error) {
		calls++
		return wire.Encode(map[string]any{"n": calls})
	})

	eb.tick()
	assert.Zero(t, calls, "nothing is built without subscribers")

	id, ch := eb.Subscribe()
	eb.tick()
	require.Equal(t, 1, calls)
	ev := <-ch
	assert.JSONEq(t, `{"n":1}`, string(ev.JSON))

	// Slow subscribers miss events instead of blocking
	eb.tick()
	eb.tick()
	eb.tick()
	assert.Len(t, ch, 2)

	eb.Unsubscribe(id)
	for range ch {
	}
	assert.Zero(t, eb.ClientCount())
}
