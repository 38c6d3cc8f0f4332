package events

import (
	"log"
	"sync"
)

// Event types published over a job's event stream.
const (
	TypeJobCreated = "job_created"
	TypeProgress   = "progress"
	TypeCompleted  = "completed"
)

// Event is one server-sent message: a type discriminator plus its payload.
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// subscriberBuffer bounds the per-subscriber queue so a slow client drops
// events instead of blocking the aggregator.
const subscriberBuffer = 16

// Subscription is a live event stream for one job. The channel is closed
// when the job completes or the subscription is evicted.
type Subscription struct {
	C chan Event

	mu     sync.Mutex
	closed bool
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.C)
	}
}

// send delivers one event without blocking. It reports whether the event
// was accepted; a full buffer or a closed subscription drops it.
func (s *Subscription) send(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.C <- ev:
		return true
	default:
		return false
	}
}

// Hub fans job lifecycle events out to at most one subscriber per job.
// Events are best-effort: with no subscriber registered they are dropped,
// and a subscriber that connects late will not see earlier events. Clients
// reconcile by fetching the job status on connect.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]*Subscription

	// onDrop, if set, is invoked when an event is discarded because the
	// subscriber's buffer is full.
	onDrop func()
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{subs: make(map[string]*Subscription)}
}

// SetDropCallback registers a hook called whenever an event is dropped on a
// full subscriber buffer.
func (h *Hub) SetDropCallback(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onDrop = fn
}

// Subscribe registers a stream for the job. A prior subscriber for the same
// job is evicted and its channel closed.
func (h *Hub) Subscribe(jobID string) *Subscription {
	sub := &Subscription{C: make(chan Event, subscriberBuffer)}

	h.mu.Lock()
	prior := h.subs[jobID]
	h.subs[jobID] = sub
	h.mu.Unlock()

	if prior != nil {
		prior.close()
	}
	return sub
}

// Unsubscribe removes the subscription if it is still the job's current one.
// Called when the HTTP connection goes away.
func (h *Hub) Unsubscribe(jobID string, sub *Subscription) {
	h.mu.Lock()
	if h.subs[jobID] == sub {
		delete(h.subs, jobID)
	}
	h.mu.Unlock()
	sub.close()
}

// Publish sends one event to the job's subscriber, if any. Absent
// subscribers are not an error; the event is dropped.
func (h *Hub) Publish(jobID, eventType string, payload interface{}) {
	h.mu.RLock()
	sub := h.subs[jobID]
	onDrop := h.onDrop
	h.mu.RUnlock()

	if sub == nil {
		return
	}

	if !sub.send(Event{Type: eventType, Payload: payload}) {
		log.Printf("job_id=%s: subscriber unavailable, dropping %s event", jobID, eventType)
		if onDrop != nil {
			onDrop()
		}
	}
}

// Complete closes the job's stream cleanly and removes it.
func (h *Hub) Complete(jobID string) {
	h.mu.Lock()
	sub := h.subs[jobID]
	delete(h.subs, jobID)
	h.mu.Unlock()

	if sub != nil {
		sub.close()
	}
}
