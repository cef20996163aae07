package webmonitor

import (
	"sync"

	"github.com/dj-oyu/wefit/rep-counter/internal/logger"
	"github.com/dj-oyu/wefit/rep-counter/internal/metrics"
)

// FrameBroadcaster manages fanout of JPEG frames to multiple clients.
type FrameBroadcaster struct {
	mu      sync.Mutex
	clients map[int]chan []byte
	nextID  int
	metrics *metrics.Metrics
	closed  bool
}

// NewFrameBroadcaster creates a frame fanout. m may be nil.
func NewFrameBroadcaster(m *metrics.Metrics) *FrameBroadcaster {
	return &FrameBroadcaster{
		clients: make(map[int]chan []byte),
		metrics: m,
	}
}

// Subscribe adds a new client and returns a channel for receiving frames.
func (fb *FrameBroadcaster) Subscribe() (int, <-chan []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	id := fb.nextID
	fb.nextID++
	ch := make(chan []byte, 2) // Buffer 2 frames to avoid blocking
	if fb.closed {
		close(ch)
		return id, ch
	}
	fb.clients[id] = ch
	if fb.metrics != nil {
		fb.metrics.StreamClients.Store(uint64(len(fb.clients)))
	}

	logger.Debug("FrameBroadcaster", "Client #%d subscribed (total clients: %d)", id, len(fb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (fb *FrameBroadcaster) Unsubscribe(id int) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if ch, ok := fb.clients[id]; ok {
		close(ch)
		delete(fb.clients, id)
		if fb.metrics != nil {
			fb.metrics.StreamClients.Store(uint64(len(fb.clients)))
		}
		logger.Debug("FrameBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(fb.clients))
	}
}

// ClientCount returns the number of subscribers.
func (fb *FrameBroadcaster) ClientCount() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return len(fb.clients)
}

// Publish hands a frame to every client without blocking. Slow clients
// miss the frame. It returns the number of clients that received it.
func (fb *FrameBroadcaster) Publish(data []byte) int {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	delivered := 0
	for _, ch := range fb.clients {
		select {
		case ch <- data:
			delivered++
		default:
			if fb.metrics != nil {
				fb.metrics.FramesDropped.Add(1)
			}
		}
	}
	if fb.metrics != nil && delivered > 0 {
		fb.metrics.FramesPublished.Add(1)
	}
	return delivered
}

// Close disconnects every client. Later subscribers get a closed channel.
func (fb *FrameBroadcaster) Close() {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if fb.closed {
		return
	}
	fb.closed = true
	for id, ch := range fb.clients {
		close(ch)
		delete(fb.clients, id)
	}
	if fb.metrics != nil {
		fb.metrics.StreamClients.Store(0)
	}
}

// SerializedEvent holds an event pre-serialized in both wire formats.
type SerializedEvent struct {
	JSONData     []byte // Pre-serialized JSON
	ProtobufData []byte // Pre-serialized Protobuf (base64 encoded for SSE)
}

// StatusBroadcaster fans session status events out to SSE and data channel
// subscribers. New subscribers immediately receive the latest event.
type StatusBroadcaster struct {
	mu      sync.Mutex
	clients map[int]chan *SerializedEvent
	nextID  int
	latest  *SerializedEvent
	metrics *metrics.Metrics
	closed  bool
}

// NewStatusBroadcaster creates a status fanout. m may be nil.
func NewStatusBroadcaster(m *metrics.Metrics) *StatusBroadcaster {
	return &StatusBroadcaster{
		clients: make(map[int]chan *SerializedEvent),
		metrics: m,
	}
}

// Subscribe adds a new client and returns a channel for receiving events.
func (sb *StatusBroadcaster) Subscribe() (int, <-chan *SerializedEvent) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	id := sb.nextID
	sb.nextID++
	ch := make(chan *SerializedEvent, 4)
	if sb.closed {
		close(ch)
		return id, ch
	}
	if sb.latest != nil {
		ch <- sb.latest
	}
	sb.clients[id] = ch
	if sb.metrics != nil {
		sb.metrics.StatusClients.Store(uint64(len(sb.clients)))
	}

	logger.Debug("StatusBroadcaster", "Client #%d subscribed (total clients: %d)", id, len(sb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (sb *StatusBroadcaster) Unsubscribe(id int) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if ch, ok := sb.clients[id]; ok {
		close(ch)
		delete(sb.clients, id)
		if sb.metrics != nil {
			sb.metrics.StatusClients.Store(uint64(len(sb.clients)))
		}
		logger.Debug("StatusBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(sb.clients))
	}
}

// Latest returns the last published event, or nil.
func (sb *StatusBroadcaster) Latest() *SerializedEvent {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.latest
}

// Publish records event as the latest and hands it to every client
// without blocking.
func (sb *StatusBroadcaster) Publish(event *SerializedEvent) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	sb.latest = event
	for _, ch := range sb.clients {
		select {
		case ch <- event:
		default:
		}
	}
}

// Close disconnects every client.
func (sb *StatusBroadcaster) Close() {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if sb.closed {
		return
	}
	sb.closed = true
	for id, ch := range sb.clients {
		close(ch)
		delete(sb.clients, id)
	}
	if sb.metrics != nil {
		sb.metrics.StatusClients.Store(0)
	}
}
