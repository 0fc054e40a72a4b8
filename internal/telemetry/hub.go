package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Project-GrADyS/uav-api/internal/config"
	"github.com/Project-GrADyS/uav-api/internal/logging"
)

// Event types published on the hub.
const (
	EventReady     = "ready"
	EventArmed     = "armed"
	EventMode      = "mode"
	EventCommand   = "command"
	EventFault     = "fault"
	EventHeartbeat = "heartbeat"
)

// Event is one server-sent event.
type Event struct {
	ID   int64          `json:"id,omitempty"`
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// client is one SSE subscriber.
type client struct {
	id     string
	writer http.ResponseWriter
	ctx    context.Context
	cancel context.CancelFunc
	events chan Event
	mu     sync.Mutex // guards writer
}

// Hub fans vehicle events out to SSE subscribers and keeps a ring buffer
// for Last-Event-ID replay.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	nextID  atomic.Int64
	buffer  *EventBuffer

	cfg      config.TimingConfig
	snapshot func() Summary
	logger   *slog.Logger

	heartbeatTicker *time.Ticker
	stopHeartbeat   chan struct{}

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewHub creates a hub. snapshot, when non-nil, fills the ready event sent
// to every new subscriber.
func NewHub(cfg config.TimingConfig, snapshot func() Summary, logger *slog.Logger) *Hub {
	size := cfg.EventBufferSize
	if size <= 0 {
		size = 50
	}
	return &Hub{
		clients:  make(map[string]*client),
		buffer:   NewEventBuffer(size),
		cfg:      cfg,
		snapshot: snapshot,
		logger:   logging.OrDiscard(logger),
		done:     make(chan struct{}),
	}
}

// Subscribe streams events to w until the request context ends or the hub
// stops. Events newer than the Last-Event-ID header are replayed first.
func (h *Hub) Subscribe(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	var lastEventID int64
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			lastEventID = id
		}
	}

	clientCtx, cancel := context.WithCancel(ctx)
	c := &client{
		id:     uuid.NewString(),
		writer: w,
		ctx:    clientCtx,
		cancel: cancel,
		events: make(chan Event, 100),
	}

	h.mu.Lock()
	select {
	case <-h.done:
		h.mu.Unlock()
		cancel()
		return fmt.Errorf("hub stopped")
	default:
	}
	h.clients[c.id] = c
	if h.heartbeatTicker == nil {
		h.startHeartbeat()
	}
	h.mu.Unlock()
	defer h.unregister(c.id)

	if err := h.send(c, h.readyEvent()); err != nil {
		return fmt.Errorf("failed to send ready event: %w", err)
	}

	if lastEventID > 0 {
		for _, event := range h.buffer.EventsAfter(lastEventID) {
			if err := h.send(c, event); err != nil {
				return fmt.Errorf("failed to replay events: %w", err)
			}
		}
	}

	h.logger.Debug("sse client subscribed", "client", c.id, "lastEventId", lastEventID)
	for {
		select {
		case <-c.ctx.Done():
			return nil
		case <-h.done:
			return nil
		case event := <-c.events:
			if err := h.send(c, event); err != nil {
				return nil
			}
		}
	}
}

// Publish assigns the next event id, buffers the event and offers it to
// every subscriber without blocking. A client whose queue is full misses the
// event and can recover it through Last-Event-ID replay.
func (h *Hub) Publish(event Event) {
	select {
	case <-h.done:
		return
	default:
	}

	if event.ID == 0 {
		event.ID = h.nextID.Add(1)
	}
	if event.Type != EventHeartbeat {
		h.buffer.Add(event)
	}

	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.events <- event:
		default:
			h.logger.Debug("dropped event for slow client", "client", c.id, "type", event.Type)
		}
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) readyEvent() Event {
	data := map[string]any{}
	if h.snapshot != nil {
		data["snapshot"] = h.snapshot()
	}
	return Event{ID: h.nextID.Add(1), Type: EventReady, Data: data}
}

// send writes one event in SSE framing and flushes it.
func (h *Hub) send(c *client, event Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	if event.ID > 0 {
		if _, err := fmt.Fprintf(c.writer, "id: %d\n", event.ID); err != nil {
			return fmt.Errorf("failed to write event ID: %w", err)
		}
	}
	if _, err := fmt.Fprintf(c.writer, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	if flusher, ok := c.writer.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}

func (h *Hub) unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[id]
	if !ok {
		return
	}
	c.cancel()
	delete(h.clients, id)

	if len(h.clients) == 0 && h.heartbeatTicker != nil {
		h.heartbeatTicker.Stop()
		h.heartbeatTicker = nil
		close(h.stopHeartbeat)
		h.stopHeartbeat = nil
	}
}

// startHeartbeat starts the heartbeat goroutine. Caller holds h.mu.
func (h *Hub) startHeartbeat() {
	h.heartbeatTicker = time.NewTicker(h.cfg.HeartbeatInterval)
	h.stopHeartbeat = make(chan struct{})

	ticker := h.heartbeatTicker
	stop := h.stopHeartbeat

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for {
			select {
			case <-ticker.C:
				h.Publish(Event{
					Type: EventHeartbeat,
					Data: map[string]any{"ts": time.Now().UTC().Format(time.RFC3339)},
				})
			case <-stop:
				return
			case <-h.done:
				return
			}
		}
	}()
}

// Stop disconnects every subscriber and stops the heartbeat. Safe to call
// more than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)

		h.mu.Lock()
		for _, c := range h.clients {
			c.cancel()
		}
		if h.heartbeatTicker != nil {
			h.heartbeatTicker.Stop()
			h.heartbeatTicker = nil
		}
		h.mu.Unlock()

		h.wg.Wait()
	})
}

// EventBuffer is a fixed-capacity ring of recent events.
type EventBuffer struct {
	mu       sync.RWMutex
	events   []Event
	capacity int
}

// NewEventBuffer creates a buffer holding at most capacity events.
func NewEventBuffer(capacity int) *EventBuffer {
	return &EventBuffer{
		events:   make([]Event, 0, capacity),
		capacity: capacity,
	}
}

// Add appends an event, evicting the oldest when full.
func (b *EventBuffer) Add(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events = append(b.events, event)
	if len(b.events) > b.capacity {
		b.events = b.events[1:]
	}
}

// EventsAfter returns buffered events with an id greater than lastID.
func (b *EventBuffer) EventsAfter(lastID int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var result []Event
	for _, event := range b.events {
		if event.ID > lastID {
			result = append(result, event)
		}
	}
	return result
}

// Size returns the number of buffered events.
func (b *EventBuffer) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.events)
}
