// Package camera provides the media streams the vision pipeline reads frames
// from. A Source runs until its context is cancelled or it is closed, and
// always exposes the most recent decoded frame.
package camera

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/dj-oyu/vision-hud/pkg/types"
)

// ErrSourceClosed is returned by Run after Close.
var ErrSourceClosed = errors.New("camera: source closed")

// Source is a media stream of decoded frames.
type Source interface {
	// Run produces frames until ctx is done or the source is closed.
	Run(ctx context.Context) error
	// Latest returns the most recent frame, if any arrived yet.
	Latest() (*types.Frame, bool)
	// Close releases the stream. Run returns ErrSourceClosed afterwards.
	Close() error
}

// latestFrame is the single-slot frame store shared by source implementations.
type latestFrame struct {
	frame atomic.Pointer[types.Frame]
	seq   atomic.Uint64

	closeOnce sync.Once
	closed    chan struct{}
}

func (l *latestFrame) init() {
	l.closed = make(chan struct{})
}

func (l *latestFrame) publish(f *types.Frame) {
	l.frame.Store(f)
}

func (l *latestFrame) nextSeq() uint64 {
	return l.seq.Add(1)
}

// Latest returns the most recent frame.
func (l *latestFrame) Latest() (*types.Frame, bool) {
	f := l.frame.Load()
	return f, f != nil
}

// FrameCount returns how many frames have been published.
func (l *latestFrame) FrameCount() uint64 {
	return l.seq.Load()
}

func (l *latestFrame) close() {
	l.closeOnce.Do(func() { close(l.closed) })
}

func (l *latestFrame) isClosed() bool {
	select {
	case <-l.closed:
		return true
	default:
		return false
	}
}

// bindClose returns a context cancelled when either ctx is done or the source
// is closed.
func (l *latestFrame) bindClose(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-l.closed:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
