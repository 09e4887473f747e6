package httpapi

import (
	"sync"
)

// Event is a realtime notification sent to subscribers.
type Event struct {
	UserID string
	Event  string
	Data   any
}

// Hub fans insert notifications out to SSE subscribers. Subscribers
// registered with an empty user id receive every event.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[string]map[chan Event]struct{}),
	}
}

// Subscribe registers a subscriber and returns its channel and a cleanup
// function that must be called when the subscriber goes away.
func (h *Hub) Subscribe(userID string) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, 16)
	if h.subscribers[userID] == nil {
		h.subscribers[userID] = make(map[chan Event]struct{})
	}
	h.subscribers[userID][ch] = struct{}{}

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subscribers[userID], ch)
			close(ch)
			if len(h.subscribers[userID]) == 0 {
				delete(h.subscribers, userID)
			}
		})
	}
	return ch, cleanup
}

// Publish delivers event to the subscribers of its user and to the
// subscribers of all users. Full subscriber buffers drop the event.
func (h *Hub) Publish(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	send := func(subs map[chan Event]struct{}) {
		for ch := range subs {
			select {
			case ch <- event:
			default:
			}
		}
	}
	if event.UserID != "" {
		send(h.subscribers[event.UserID])
	}
	send(h.subscribers[""])
}

// TotalSubscribers returns the number of active subscribers.
func (h *Hub) TotalSubscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := 0
	for _, subs := range h.subscribers {
		total += len(subs)
	}
	return total
}
