package camera

import (
	"context"
	"fmt"
	"image/jpeg"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/dj-oyu/vision-hud/internal/logger"
	"github.com/dj-oyu/vision-hud/pkg/types"
)

// MJPEGConfig configures an MJPEGSource.
type MJPEGConfig struct {
	URL               string
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
}

// MJPEGSource reads a multipart/x-mixed-replace JPEG stream over HTTP,
// reconnecting with backoff when the stream drops.
type MJPEGSource struct {
	latestFrame
	cfg    MJPEGConfig
	client *http.Client
}

// NewMJPEGSource creates a source for cfg.URL.
func NewMJPEGSource(cfg MJPEGConfig) *MJPEGSource {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 500 * time.Millisecond
	}
	if cfg.MaxReconnectDelay < cfg.ReconnectDelay {
		cfg.MaxReconnectDelay = 10 * time.Second
	}
	s := &MJPEGSource{
		cfg: cfg,
		// No client timeout: the body is an endless stream
		client: &http.Client{},
	}
	s.init()
	return s
}

// Run reads the stream until ctx is done or Close is called.
func (s *MJPEGSource) Run(ctx context.Context) error {
	if s.isClosed() {
		return ErrSourceClosed
	}
	ctx, cancel := s.bindClose(ctx)
	defer cancel()

	delay := s.cfg.ReconnectDelay
	for {
		start := time.Now()
		err := s.stream(ctx)
		if s.isClosed() {
			return ErrSourceClosed
		}
		if ctx.Err() != nil {
			return nil
		}
		// A stream that ran for a while resets the backoff
		if time.Since(start) > s.cfg.MaxReconnectDelay {
			delay = s.cfg.ReconnectDelay
		}
		logger.Warn("Camera", "mjpeg stream %s dropped: %v (retry in %v)", s.cfg.URL, err, delay)

		select {
		case <-ctx.Done():
			if s.isClosed() {
				return ErrSourceClosed
			}
			return nil
		case <-time.After(delay):
		}
		delay = min(delay*2, s.cfg.MaxReconnectDelay)
	}
}

func (s *MJPEGSource) stream(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return fmt.Errorf("parse content type: %w", err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") || params["boundary"] == "" {
		return fmt.Errorf("not a multipart stream: %s", mediaType)
	}

	logger.Info("Camera", "mjpeg stream connected: %s", s.cfg.URL)
	mr := multipart.NewReader(resp.Body, params["boundary"])
	decodeErrors := 0
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return io.ErrUnexpectedEOF
		}
		if err != nil {
			return fmt.Errorf("next part: %w", err)
		}

		// Publish before Close: draining the part waits for the next boundary
		img, err := jpeg.Decode(part)
		if err == nil {
			s.publish(types.NewFrame(img, s.nextSeq(), time.Now()))
		} else {
			decodeErrors++
			if decodeErrors == 1 || decodeErrors%100 == 0 {
				logger.Debug("Camera", "skipping undecodable part (count=%d): %v", decodeErrors, err)
			}
		}
		part.Close()
	}
}

// Close stops the stream.
func (s *MJPEGSource) Close() error {
	s.close()
	return nil
}
