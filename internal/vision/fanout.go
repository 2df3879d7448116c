package vision

import (
	"sync"

	"github.com/dj-oyu/vision-hud/internal/logger"
)

// frameFanout distributes rendered JPEG frames to subscribers. Slow
// subscribers miss frames instead of blocking the render loop.
type frameFanout struct {
	mu      sync.Mutex
	clients map[int]chan []byte
	nextID  int
}

func newFrameFanout() *frameFanout {
	return &frameFanout{clients: make(map[int]chan []byte)}
}

func (f *frameFanout) subscribe() (int, <-chan []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID
	f.nextID++
	ch := make(chan []byte, 2) // Buffer 2 frames to avoid blocking
	f.clients[id] = ch

	logger.Debug("Fanout", "Client #%d subscribed (total clients: %d)", id, len(f.clients))
	return id, ch
}

func (f *frameFanout) unsubscribe(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if ch, ok := f.clients[id]; ok {
		close(ch)
		delete(f.clients, id)
		logger.Debug("Fanout", "Client #%d unsubscribed (remaining clients: %d)", id, len(f.clients))
		if len(f.clients) == 0 {
			logger.Info("Fanout", "No clients remaining - rendering will be skipped")
		}
	}
}

func (f *frameFanout) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

func (f *frameFanout) broadcast(data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, ch := range f.clients {
		select {
		case ch <- data:
		default:
			// Client too slow, skip this frame for it
		}
	}
}
