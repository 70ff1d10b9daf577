// Package events fans dispatch lifecycle notifications out to API stream
// clients and keeps a short replay window for reconnects.
package events

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/mattjoyce/busdispatch/internal/metrics"
)

// Event is one dispatch lifecycle notification, e.g. "unit.reported".
type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// Matches reports whether the event type starts with prefix. An empty
// prefix matches everything.
func (e Event) Matches(prefix string) bool {
	return prefix == "" || strings.HasPrefix(e.Type, prefix)
}

type subscriber struct {
	ch     chan Event
	prefix string
}

// Hub is an in-memory pub/sub over a fixed replay window.
// It satisfies dispatch.Publisher.
type Hub struct {
	mu      sync.Mutex
	lastID  int64
	window  []Event
	head    int
	count   int
	subs    map[int]subscriber
	nextSub int
	dropped uint64
}

// NewHub keeps the newest window events for replay; window <= 0 means 256.
func NewHub(window int) *Hub {
	if window <= 0 {
		window = 256
	}
	return &Hub{
		window: make([]Event, window),
		subs:   make(map[int]subscriber),
	}
}

// Publish records an event and offers it to every matching subscriber. It
// never blocks; a subscriber with a full buffer misses the event.
func (h *Hub) Publish(eventType string, data any) {
	payload := json.RawMessage(`{}`)
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastID++
	ev := Event{ID: h.lastID, Type: eventType, At: time.Now().UTC(), Data: payload}
	h.remember(ev)

	for _, sub := range h.subs {
		if !ev.Matches(sub.prefix) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			h.dropped++
			metrics.EventsDropped.Inc()
		}
	}
}

// Subscribe returns a live stream of events whose type starts with
// typePrefix, and the func that ends it. Cancel closes the stream and is
// safe to call twice.
func (h *Hub) Subscribe(typePrefix string) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSub
	h.nextSub++
	sub := subscriber{ch: make(chan Event, 64), prefix: typePrefix}
	h.subs[id] = sub

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub.ch)
		}
	}
	return sub.ch, cancel
}

// SnapshotSince returns remembered events with ID > lastID whose type starts
// with typePrefix, oldest first.
func (h *Hub) SnapshotSince(lastID int64, typePrefix string) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, h.count)
	for i := range h.count {
		ev := h.window[(h.head+i)%len(h.window)]
		if ev.ID > lastID && ev.Matches(typePrefix) {
			out = append(out, ev)
		}
	}
	return out
}

// Subscribers is the number of live streams.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped is the number of deliveries skipped because a subscriber lagged.
func (h *Hub) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

func (h *Hub) remember(ev Event) {
	if h.count < len(h.window) {
		h.window[(h.head+h.count)%len(h.window)] = ev
		h.count++
		return
	}
	h.window[h.head] = ev
	h.head = (h.head + 1) % len(h.window)
}
