package webmonitor

import (
	"sync"
	"time"

	"github.com/dj-oyu/vision-hud/internal/logger"
	"github.com/dj-oyu/vision-hud/internal/wire"
)

// EventBroadcaster periodically builds a pre-serialized event and fans it
// out to subscribers. Events are only built while someone is listening.
type EventBroadcaster struct {
	name     string
	mu       sync.Mutex
	clients  map[int]chan *wire.Event // Channel carries pre-serialized data
	nextID   int
	stop     chan struct{}
	stopped  bool
	interval time.Duration

	produce func() (*wire.Event, error)

	// Optional extra consumer outside the SSE client set
	sink       func(*wire.Event)
	sinkActive func() bool

	idleCount int
}

// NewEventBroadcaster creates a broadcaster that calls produce every interval.
func NewEventBroadcaster(name string, interval time.Duration, produce func() (*wire.Event, error)) *EventBroadcaster {
	return &EventBroadcaster{
		name:     name,
		clients:  make(map[int]chan *wire.Event),
		stop:     make(chan struct{}),
		interval: interval,
		produce:  produce,
	}
}

// SetSink forwards every produced event to fn while active reports true.
// It must be called before Start.
func (eb *EventBroadcaster) SetSink(fn func(*wire.Event), active func() bool) {
	eb.sink = fn
	eb.sinkActive = active
}

// Subscribe adds a new client and returns a channel for receiving events.
func (eb *EventBroadcaster) Subscribe() (int, <-chan *wire.Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	id := eb.nextID
	eb.nextID++
	ch := make(chan *wire.Event, 2) // Buffer 2 events to avoid blocking
	eb.clients[id] = ch

	logger.Debug(eb.name, "Client #%d subscribed (total clients: %d)", id, len(eb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (eb *EventBroadcaster) Unsubscribe(id int) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if ch, ok := eb.clients[id]; ok {
		close(ch)
		delete(eb.clients, id)
		logger.Debug(eb.name, "Client #%d unsubscribed (remaining clients: %d)", id, len(eb.clients))
	}
}

// ClientCount returns the number of subscribers.
func (eb *EventBroadcaster) ClientCount() int {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	return len(eb.clients)
}

// Start begins the event loop.
func (eb *EventBroadcaster) Start() {
	go eb.run()
}

// Stop halts the broadcaster.
func (eb *EventBroadcaster) Stop() {
	eb.mu.Lock()
	if !eb.stopped {
		close(eb.stop)
		eb.stopped = true
	}
	eb.mu.Unlock()
}

func (eb *EventBroadcaster) run() {
	logger.Info(eb.name, "Starting event broadcaster (interval=%v)...", eb.interval)
	ticker := time.NewTicker(eb.interval)
	defer ticker.Stop()

	for {
		select {
		case <-eb.stop:
			return
		case <-ticker.C:
			eb.tick()
		}
	}
}

func (eb *EventBroadcaster) tick() {
	sinkActive := eb.sink != nil && (eb.sinkActive == nil || eb.sinkActive())
	if eb.ClientCount() == 0 && !sinkActive {
		eb.idleCount++
		if eb.idleCount%100 == 0 {
			logger.Debug(eb.name, "No clients connected (idle for %d cycles)", eb.idleCount)
		}
		return
	}
	eb.idleCount = 0

	event, err := eb.produce()
	if err != nil {
		logger.Error(eb.name, "serialize event: %v", err)
		return
	}
	eb.broadcast(event)
	if sinkActive {
		eb.sink(event)
	}
}

func (eb *EventBroadcaster) broadcast(event *wire.Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for _, ch := range eb.clients {
		select {
		case ch <- event:
		default:
			// Client too slow, skip this event for this client
		}
	}
}
