// Package enrich fetches text descriptions for stable tracked entities from an
// external model without blocking tracking or rendering.
package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Describer is the description-service boundary. image is a base64-encoded
// JPEG crop. An empty result means no description is available this time.
type Describer interface {
	Describe(ctx context.Context, image, label string) (string, error)
}

// DescriberFunc adapts a plain function to the Describer interface.
type DescriberFunc func(ctx context.Context, image, label string) (string, error)

// Describe calls f.
func (f DescriberFunc) Describe(ctx context.Context, image, label string) (string, error) {
	return f(ctx, image, label)
}

type describeRequest struct {
	Image string `json:"image"`
	Label string `json:"label"`
}

type describeResponse struct {
	Description *string `json:"description"`
}

// HTTPDescriber posts crops to a JSON description endpoint.
type HTTPDescriber struct {
	endpoint string
	client   *http.Client
}

// NewHTTPDescriber creates a describer for endpoint. timeout bounds each
// request in addition to the caller's context.
func NewHTTPDescriber(endpoint string, timeout time.Duration) *HTTPDescriber {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPDescriber{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// Describe sends {"image","label"} and returns the description, or "" when
// the service answers null.
func (d *HTTPDescriber) Describe(ctx context.Context, image, label string) (string, error) {
	body, err := json.Marshal(describeRequest{Image: image, Label: label})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("describe request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("describe service returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out describeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if out.Description == nil {
		return "", nil
	}
	return *out.Description, nil
}
