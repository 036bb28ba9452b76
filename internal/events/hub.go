// Package events fans job lifecycle notifications out to live subscribers
// and keeps the most recent ones for clients that connect late.
package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultCapacity is the replay buffer size used when none is given.
const DefaultCapacity = 256

// subscriberBuffer is the channel depth of each subscriber.
const subscriberBuffer = 64

type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// Hub is an in-memory pub/sub with a ring buffer for replay.
type Hub struct {
	nextID  atomic.Int64
	dropped atomic.Int64

	mu   sync.Mutex
	ring []Event
	head int
	size int

	subs    map[uint64]chan Event
	nextSub uint64
}

func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Hub{
		ring: make([]Event, capacity),
		subs: make(map[uint64]chan Event),
	}
}

// Publish records an event and delivers it to every subscriber. Payloads
// that fail to marshal are published as an empty object. A subscriber
// whose buffer is full misses the event.
func (h *Hub) Publish(eventType string, data any) {
	payload := json.RawMessage("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ev := Event{
		ID:   h.nextID.Add(1),
		Type: eventType,
		At:   time.Now().UTC(),
		Data: payload,
	}
	h.push(ev)
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe registers a subscriber. The returned func unsubscribes and
// closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSub
	h.nextSub++
	ch := make(chan Event, subscriberBuffer)
	h.subs[id] = ch

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
	}
}

// Since returns buffered events with ID greater than lastID, oldest first.
func (h *Hub) Since(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, h.size)
	for i := 0; i < h.size; i++ {
		ev := h.ring[(h.head+i)%len(h.ring)]
		if ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}

// Subscribers returns the number of live subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped returns how many deliveries were skipped for slow subscribers.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

func (h *Hub) push(ev Event) {
	if h.size < len(h.ring) {
		h.ring[(h.head+h.size)%len(h.ring)] = ev
		h.size++
		return
	}
	h.ring[h.head] = ev
	h.head = (h.head + 1) % len(h.ring)
}
