package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/jpeg"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dj-oyu/vision-hud/pkg/types"
)

// HTTPDetector posts JPEG frames to a detection service.
//
// Request:  POST {endpoint} with Content-Type image/jpeg
// Response: [{"bbox":[x,y,w,h],"class":"person","score":0.9}, ...]
type HTTPDetector struct {
	endpoint string
	quality  int
	client   *http.Client
}

// NewHTTPDetector creates a detector client for endpoint.
func NewHTTPDetector(endpoint string, timeout time.Duration) *HTTPDetector {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HTTPDetector{
		endpoint: strings.TrimRight(endpoint, "/"),
		quality:  80,
		client:   &http.Client{Timeout: timeout},
	}
}

// Detect encodes frame and asks the service for candidates.
func (d *HTTPDetector) Detect(ctx context.Context, frame *types.Frame) ([]Candidate, error) {
	if frame.Empty() {
		return nil, nil
	}

	var body bytes.Buffer
	if err := jpeg.Encode(&body, frame.Image, &jpeg.Options{Quality: d.quality}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detect request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("detect returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var candidates []Candidate
	if err := json.NewDecoder(resp.Body).Decode(&candidates); err != nil {
		return nil, fmt.Errorf("decode detections: %w", err)
	}
	return candidates, nil
}
