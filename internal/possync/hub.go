// Package possync implements the position sync engine: a dual-source
// reconciler that merges a push websocket feed with a periodic REST poll,
// maintains the authoritative in-memory position map, and fans changes out
// to realtime subscribers.
package possync

import (
	"strings"
	"sync"

	"github.com/pivox/tradingV3/internal/metrics"
	"github.com/pivox/tradingV3/internal/position"
)

// Event is what the hub publishes to subscribers.
type Event struct {
	Type      string             `json:"type"`
	Seq       uint64             `json:"seq"`
	Position  *position.Position `json:"position"`
	Previous  *position.Position `json:"previous,omitempty"`
	Timestamp string             `json:"timestamp"`
}

// Filter matches a subset of positions; a nil/empty dimension matches
// everything.
//
// There is deliberately no user-identity dimension here. The original
// realtime.py carries a SubscriptionFilter.user_id and a matching
// RealtimeHub.publish(user_id=...) parameter, but no call site in
// service.py ever passes one, and PositionUpdate has no user field to
// compare against — the dimension was already dead in the system this
// was grounded on.
type Filter struct {
	Symbols  []string
	Statuses []string
	Sides    []string
}

func (f Filter) Matches(symbol string, status position.Status, side position.Side) bool {
	if len(f.Symbols) > 0 && !containsFold(f.Symbols, symbol) {
		return false
	}
	if len(f.Statuses) > 0 && !containsFold(f.Statuses, string(status)) {
		return false
	}
	if len(f.Sides) > 0 && !containsFold(f.Sides, string(side)) {
		return false
	}
	return true
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}

// subscriber is one registered queue plus the filter gating it.
type subscriber struct {
	id     uint64
	queue  chan Event
	filter Filter
}

// Handle is returned by Hub.Subscribe; Events arrives the bounded queue and
// Close unsubscribes.
type Handle struct {
	id     uint64
	Events <-chan Event
	hub    *Hub
}

func (h *Handle) Close() { h.hub.unsubscribe(h.id) }

const subscriberQueueSize = 100

// Hub fans position events out to bounded per-subscriber queues, dropping
// (never blocking) on overflow — adapted from the teacher's market data
// Publisher: a lock held only long enough to snapshot the subscriber list,
// then a non-blocking send per queue.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[uint64]*subscriber
	nextID      uint64

	dropMu    sync.Mutex
	dropCount uint64
}

func NewHub() *Hub {
	return &Hub{subscribers: make(map[uint64]*subscriber)}
}

func (h *Hub) Subscribe(filter Filter) *Handle {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	ch := make(chan Event, subscriberQueueSize)
	h.subscribers[id] = &subscriber{id: id, queue: ch, filter: filter}
	h.mu.Unlock()

	return &Handle{id: id, Events: ch, hub: h}
}

func (h *Hub) unsubscribe(id uint64) {
	h.mu.Lock()
	sub, ok := h.subscribers[id]
	delete(h.subscribers, id)
	h.mu.Unlock()
	if !ok {
		return
	}
	for {
		select {
		case <-sub.queue:
		default:
			return
		}
	}
}

// Publish delivers ev to every matching subscriber without blocking; a full
// queue is skipped and counted as a drop.
func (h *Hub) Publish(ev Event, symbol string, status position.Status, side position.Side) {
	h.mu.RLock()
	subs := make([]*subscriber, 0, len(h.subscribers))
	for _, s := range h.subscribers {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	dropped := 0
	for _, s := range subs {
		if !s.filter.Matches(symbol, status, side) {
			continue
		}
		select {
		case s.queue <- ev:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		h.dropMu.Lock()
		h.dropCount += uint64(dropped)
		h.dropMu.Unlock()
		metrics.PossyncSubscriberDropsTotal.Add(float64(dropped))
	}
	metrics.PossyncEventsPublishedTotal.WithLabelValues(ev.Type).Inc()
}

// DropCount returns the cumulative number of messages dropped because a
// subscriber's queue was full.
func (h *Hub) DropCount() uint64 {
	h.dropMu.Lock()
	defer h.dropMu.Unlock()
	return h.dropCount
}

// SubscriberCount reports the number of currently registered subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
