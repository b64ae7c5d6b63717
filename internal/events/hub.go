// Package events fans shell state changes out to connected clients.
package events

import (
	"log/slog"
	"sync"
	"time"
)

// Event types published by shell components.
const (
	TypeLog        = "log"
	TypeLogCleared = "log_cleared"
	TypeNotice     = "notice"
	TypeSession    = "session"
	TypeModule     = "module"
	TypeSurface    = "surface"
	TypeRegion     = "region"
	TypeSlot       = "slot"
	TypeSnapshot   = "snapshot"
)

// Event is one message pushed to subscribers.
type Event struct {
	ID     int64     `json:"id"`
	Type   string    `json:"type"`
	Source string    `json:"source,omitempty"`
	Data   any       `json:"data,omitempty"`
	At     time.Time `json:"at"`
}

// Publisher is implemented by anything that accepts events.
type Publisher interface {
	Publish(eventType, source string, data any)
}

// Nop discards events.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(string, string, any) {}

// OrNop returns p, or Nop when p is nil.
func OrNop(p Publisher) Publisher {
	if p == nil {
		return Nop{}
	}
	return p
}

// DefaultQueueLen is the per-subscriber channel buffer.
const DefaultQueueLen = 64

// DefaultBacklog is the number of events retained for replay when none is given.
const DefaultBacklog = 256

// Hub fans events out to subscribers and retains a bounded backlog for replay.
type Hub struct {
	mu       sync.RWMutex
	subs     map[string]chan Event
	backlog  []Event
	maxLog   int
	queueLen int
	nextID   int64
	now      func() time.Time
}

// NewHub creates a hub retaining up to backlog events.
func NewHub(backlog int) *Hub {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	return &Hub{
		subs:     make(map[string]chan Event),
		maxLog:   backlog,
		queueLen: DefaultQueueLen,
		now:      time.Now,
	}
}

// Publish implements Publisher. Slow subscribers drop events instead of blocking.
// Publishing on a nil hub discards the event.
func (h *Hub) Publish(eventType, source string, data any) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	ev := Event{ID: h.nextID, Type: eventType, Source: source, Data: data, At: h.now()}
	h.backlog = append(h.backlog, ev)
	if len(h.backlog) > h.maxLog {
		h.backlog = h.backlog[len(h.backlog)-h.maxLog:]
	}

	// Sends never block, so holding the lock keeps Subscribe from closing a channel mid-send.
	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			slog.Warn("Event subscriber queue full, dropping event", "subscriber", id, "type", eventType)
		}
	}
}

// Subscribe registers a subscriber. A previous subscription with the same id is replaced.
func (h *Hub) Subscribe(id string) <-chan Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, ok := h.subs[id]; ok {
		close(existing)
	}
	ch := make(chan Event, h.queueLen)
	h.subs[id] = ch
	slog.Info("Event subscriber registered", "subscriber", id)
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.subs[id]; ok {
		close(ch)
		delete(h.subs, id)
		slog.Info("Event subscriber unregistered", "subscriber", id)
	}
}

// Since returns retained events with an id greater than afterID.
func (h *Hub) Since(afterID int64) []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var missed []Event
	for _, ev := range h.backlog {
		if ev.ID > afterID {
			missed = append(missed, ev)
		}
	}
	return missed
}

// Subscribers returns the number of registered subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
