package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/concretepros/directory-api/internal/model"
)

// Publisher accepts job events for delivery to push subscribers
type Publisher interface {
	Publish(ev model.JobEvent)
}

// Subscription receives events for one job, or for every job when JobID is empty
type Subscription struct {
	JobID string
	C     <-chan model.JobEvent

	send chan model.JobEvent
}

// Hub fans job events out to SSE and WebSocket subscribers
type Hub struct {
	// Subscriptions grouped by job ID; "" holds the all-jobs subscribers
	subs map[string]map[*Subscription]bool

	broadcast chan model.JobEvent

	mu sync.RWMutex
}

const (
	broadcastBuffer    = 256
	subscriptionBuffer = 64
)

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		subs:      make(map[string]map[*Subscription]bool),
		broadcast: make(chan model.JobEvent, broadcastBuffer),
	}
}

// Run delivers published events until ctx is done
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case ev := <-h.broadcast:
			h.deliver(ev)
		}
	}
}

// Subscribe registers a subscriber for jobID ("" for all jobs)
func (h *Hub) Subscribe(jobID string) *Subscription {
	ch := make(chan model.JobEvent, subscriptionBuffer)
	sub := &Subscription{JobID: jobID, C: ch, send: ch}

	h.mu.Lock()
	if h.subs[jobID] == nil {
		h.subs[jobID] = make(map[*Subscription]bool)
	}
	h.subs[jobID][sub] = true
	h.mu.Unlock()

	log.Debug().Str("job_id", jobID).Msg("subscriber registered")
	return sub
}

// Unsubscribe removes a subscriber and closes its channel. Safe to call twice.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remove(sub)
}

// Publish queues an event without blocking the caller
func (h *Hub) Publish(ev model.JobEvent) {
	select {
	case h.broadcast <- ev:
	default:
		log.Warn().Str("job_id", ev.JobID).Str("event", ev.Type).Msg("event hub full, dropping event")
	}
}

// SubscriberCount returns the number of subscribers for jobID
func (h *Hub) SubscriberCount(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[jobID])
}

func (h *Hub) deliver(ev model.JobEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, key := range []string{ev.JobID, ""} {
		for sub := range h.subs[key] {
			select {
			case sub.send <- ev:
			default:
				// slow subscriber; it reconnects and gets a fresh snapshot
				log.Warn().Str("job_id", key).Msg("dropping slow subscriber")
				h.remove(sub)
			}
		}
	}
}

// remove must be called with h.mu held
func (h *Hub) remove(sub *Subscription) {
	subs, ok := h.subs[sub.JobID]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	close(sub.send)
	if len(subs) == 0 {
		delete(h.subs, sub.JobID)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, subs := range h.subs {
		for sub := range subs {
			h.remove(sub)
		}
	}
}
