// Package notify fans accepted count changes out to in-process watchers,
// such as streaming HTTP clients.
package notify

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxpert/headcount/broker"
)

// defaultChangeBufferSize is the buffer size for change channels.
// Watchers that can't keep up will have changes dropped (non-blocking send).
const defaultChangeBufferSize = 16

// Change is a value accepted by a subscriber
type Change struct {
	Topic string    `json:"topic"`
	Value int64     `json:"value"`
	At    time.Time `json:"at"`
}

// Filter selects topics for a watcher. Empty matches every topic.
// Topics are MQTT-style filters.
type Filter struct {
	Topics []string
}

// subscription represents a single watcher.
type subscription struct {
	id      uint64
	filter  Filter
	ch      chan Change
	closed  atomic.Bool
	dropped atomic.Uint64
}

// matches checks if the topic matches this subscription's filter.
// Filters may use MQTT wildcards ("people/+", "people/#").
func (s *subscription) matches(topic string) bool {
	if len(s.filter.Topics) == 0 {
		return true
	}

	for _, t := range s.filter.Topics {
		if broker.TopicMatches(t, topic) {
			return true
		}
	}
	return false
}

// close closes the subscription channel if not already closed.
func (s *subscription) close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}

// Hub is a thread-safe notification hub for changes.
type Hub struct {
	mu            sync.RWMutex
	subscriptions map[uint64]*subscription
	closed        bool
	nextID        atomic.Uint64
}

// NewHub creates a new change notification hub.
func NewHub() *Hub {
	return &Hub{
		subscriptions: make(map[uint64]*subscription),
	}
}

// Signal sends a change to all matching watchers (non-blocking).
func (h *Hub) Signal(change Change) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscriptions {
		if !sub.matches(change.Topic) {
			continue
		}

		// Non-blocking send - drop if buffer full
		select {
		case sub.ch <- change:
		default:
			sub.dropped.Add(1)
		}
	}
}

// Subscribe creates a new subscription and returns the change channel and cancel function.
// The returned channel is buffered. If the watcher cannot keep up, changes are
// dropped by Signal(). The cancel function is idempotent and closes the channel.
func (h *Hub) Subscribe(filter Filter) (<-chan Change, func()) {
	sub := &subscription{
		id:     h.nextID.Add(1),
		filter: filter,
		ch:     make(chan Change, defaultChangeBufferSize),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.close()
		return sub.ch, func() {}
	}
	h.subscriptions[sub.id] = sub
	h.mu.Unlock()

	cancel := func() {
		h.unsubscribe(sub.id)
	}

	return sub.ch, cancel
}

// Watchers returns the number of active subscriptions.
func (h *Hub) Watchers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscriptions)
}

// Close cancels every subscription. Later Subscribe calls get a closed
// channel.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := h.subscriptions
	h.subscriptions = make(map[uint64]*subscription)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

// unsubscribe removes a subscription and closes its channel.
func (h *Hub) unsubscribe(id uint64) {
	h.mu.Lock()
	sub, ok := h.subscriptions[id]
	if ok {
		delete(h.subscriptions, id)
	}
	h.mu.Unlock()

	if ok {
		sub.close()
	}
}
