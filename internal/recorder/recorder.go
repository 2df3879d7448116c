// Package recorder writes detection batches to newline-delimited JSON files
// so tracking runs can be replayed offline.
package recorder

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dj-oyu/vision-hud/internal/detect"
	"github.com/dj-oyu/vision-hud/internal/logger"
	"github.com/dj-oyu/vision-hud/internal/metrics"
)

var (
	ErrAlreadyRecording = errors.New("already recording")
	ErrNotRecording     = errors.New("not recording")
)

// Batch is one line of a recording: everything the detector reported for a
// single detection cycle.
type Batch struct {
	Session    string             `json:"session"`
	Seq        uint64             `json:"seq"`
	Timestamp  time.Time          `json:"ts"`
	FrameNum   uint64             `json:"frame"`
	Candidates []detect.Candidate `json:"candidates"`
}

// Recorder records detection batches to file
type Recorder struct {
	mu           sync.RWMutex
	file         *os.File
	out          *bufio.Writer
	filename     string
	basePath     string
	session      string
	recording    bool
	batchCount   uint64
	dropped      atomic.Uint64
	bytesWritten uint64
	startTime    time.Time
	batchChan    chan Batch
	bufferSize   int
	wg           sync.WaitGroup
	metrics      *metrics.Metrics
}

// NewRecorder creates a recorder writing under basePath. m may be nil.
func NewRecorder(basePath string, bufferSize int, m *metrics.Metrics) *Recorder {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Recorder{
		basePath:   basePath,
		bufferSize: bufferSize,
		metrics:    m,
	}
}

// Start starts recording to a new file
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return ErrAlreadyRecording
	}

	if err := os.MkdirAll(r.basePath, 0o755); err != nil {
		return fmt.Errorf("failed to create recording dir: %w", err)
	}

	session := uuid.NewString()
	timestamp := time.Now().Format("20060102_150405")
	filename := fmt.Sprintf("detections_%s_%s.ndjson", timestamp, session[:8])

	file, err := os.Create(filepath.Join(r.basePath, filename))
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	r.file = file
	r.out = bufio.NewWriter(file)
	r.filename = filename
	r.session = session
	r.recording = true
	r.batchCount = 0
	r.dropped.Store(0)
	r.bytesWritten = 0
	r.startTime = time.Now()
	r.batchChan = make(chan Batch, r.bufferSize)

	r.wg.Add(1)
	go r.writeBatches(r.batchChan)

	if r.metrics != nil {
		r.metrics.RecordingActive.Store(1)
	}
	logger.Info("Recorder", "Recording started: %s (session %s)", filename, session)
	return nil
}

// Stop stops recording once every queued batch is on disk
func (r *Recorder) Stop() error {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return ErrNotRecording
	}
	r.recording = false
	close(r.batchChan)
	r.mu.Unlock()

	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RecordingActive.Store(0)
	}
	if r.file == nil {
		return nil
	}
	defer func() { r.file = nil }()

	if err := r.out.Flush(); err != nil {
		r.file.Close()
		return fmt.Errorf("failed to flush file: %w", err)
	}
	if err := r.file.Sync(); err != nil {
		r.file.Close()
		return fmt.Errorf("failed to sync file: %w", err)
	}
	if err := r.file.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	logger.Info("Recorder", "Recording stopped: %s (%d batches, %d dropped)", r.filename, r.batchCount, r.dropped.Load())
	return nil
}

// RecordBatch queues a detection batch (non-blocking). Batches are dropped
// when the writer falls behind.
func (r *Recorder) RecordBatch(ts time.Time, frameNum uint64, candidates []detect.Candidate) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.recording {
		return
	}

	b := Batch{
		Session:    r.session,
		Timestamp:  ts,
		FrameNum:   frameNum,
		Candidates: append([]detect.Candidate(nil), candidates...),
	}
	select {
	case r.batchChan <- b:
	default:
		// Channel full, drop batch
		r.dropped.Add(1)
	}
}

// writeBatches drains ch until Stop closes it
func (r *Recorder) writeBatches(ch <-chan Batch) {
	defer r.wg.Done()
	for b := range ch {
		r.writeBatch(b)
	}
}

func (r *Recorder) writeBatch(b Batch) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.out == nil {
		return
	}
	b.Seq = r.batchCount
	if b.Candidates == nil {
		b.Candidates = []detect.Candidate{}
	}
	line, err := json.Marshal(b)
	if err != nil {
		logger.Warn("Recorder", "encode batch: %v", err)
		return
	}
	line = append(line, '\n')

	n, err := r.out.Write(line)
	if err != nil {
		logger.Warn("Recorder", "write batch: %v", err)
		return
	}
	r.bytesWritten += uint64(n)
	r.batchCount++
	if r.metrics != nil {
		r.metrics.RecordingBatches.Add(1)
		r.metrics.RecordingBytes.Add(uint64(n))
	}
}

// IsRecording returns true if currently recording
func (r *Recorder) IsRecording() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recording
}

// GetStatus returns the current recording status
func (r *Recorder) GetStatus() RecordingStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var duration time.Duration
	if r.recording {
		duration = time.Since(r.startTime)
	}

	return RecordingStatus{
		Recording:    r.recording,
		Session:      r.session,
		Filename:     r.filename,
		BatchCount:   r.batchCount,
		Dropped:      r.dropped.Load(),
		BytesWritten: r.bytesWritten,
		DurationMs:   duration.Milliseconds(),
		StartTime:    r.startTime,
	}
}

// Close stops an active recording
func (r *Recorder) Close() error {
	if err := r.Stop(); err != nil && !errors.Is(err, ErrNotRecording) {
		return err
	}
	return nil
}

// RecordingStatus holds the current recording status
type RecordingStatus struct {
	Recording    bool      `json:"recording"`
	Session      string    `json:"session,omitempty"`
	Filename     string    `json:"filename"`
	BatchCount   uint64    `json:"batch_count"`
	Dropped      uint64    `json:"dropped"`
	BytesWritten uint64    `json:"bytes_written"`
	DurationMs   int64     `json:"duration_ms"`
	StartTime    time.Time `json:"start_time"`
}

// ReadBatches decodes every batch in a recording.
func ReadBatches(r io.Reader) ([]Batch, error) {
	dec := json.NewDecoder(r)
	var out []Batch
	for {
		var b Batch
		err := dec.Decode(&b)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("batch %d: %w", len(out), err)
		}
		out = append(out, b)
	}
}
