// Package push provides an optional WebSocket stream of session
// activity events. Polling remains the baseline transport; the stream
// is a strict superset and carries no delivery guarantee.
package push

import (
	"log/slog"
	"sync"
)

// Event describes new activity on a session.
type Event struct {
	Type         string `json:"type"`
	SessionID    string `json:"session_id"`
	MessageCount int    `json:"message_count"`
	UnreadCount  int    `json:"unread_count"`
	SenderType   string `json:"sender_type"`
}

const subscriberBuffer = 16

// Hub fans session activity events out to subscribers. A slow
// subscriber loses events rather than blocking the publisher.
type Hub struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a new subscriber. The returned cancel function
// removes the subscription and closes the channel.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber without blocking.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			slog.Debug("push subscriber lagging, event dropped", "session_id", ev.SessionID)
		}
	}
}

// Len returns the number of active subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
