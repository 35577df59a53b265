// Package events fans out execution lifecycle and output events to live
// observers (WebSocket clients, the CLI's follow mode).
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// SubscriberChannelBufferSize is the buffer size for subscriber channels
const SubscriberChannelBufferSize = 100

// Type names an event on the wire.
type Type string

const (
	StatusChanged  Type = "status_changed"
	OutputAppended Type = "output_appended"
)

// Event is one live notification about an execution.
type Event struct {
	Type        Type      `json:"type"`
	ExecutionID int64     `json:"execution_id"`
	Status      string    `json:"status,omitempty"`
	Output      string    `json:"output,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Status builds a status_changed event.
func Status(executionID int64, status string) Event {
	return Event{Type: StatusChanged, ExecutionID: executionID, Status: status, Timestamp: time.Now()}
}

// Output builds an output_appended event.
func Output(executionID int64, text string) Event {
	return Event{Type: OutputAppended, ExecutionID: executionID, Output: text, Timestamp: time.Now()}
}

// Publisher accepts events. Implementations must not block the caller.
type Publisher interface {
	Publish(Event)
}

// Discard drops every event.
type Discard struct{}

// Publish implements Publisher.
func (Discard) Publish(Event) {}

// Hub broadcasts events to subscribers without blocking publishers.
// A subscriber whose buffer is full when an event arrives is evicted: its
// channel is closed and it receives nothing further. Every event a
// subscriber does receive arrives in publish order with none skipped, so
// an observer whose channel closes while the hub is still open has to
// re-read the execution from the ledger.
type Hub struct {
	mu sync.RWMutex
	// subscriber channel -> execution filter, 0 for every execution
	subscribers map[chan Event]int64
	closed      bool
	evicted     atomic.Uint64
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{subscribers: make(map[chan Event]int64)}
}

// Subscribe registers a new buffered subscriber channel for every execution.
// The hub closes the channel on Unsubscribe, eviction or Close.
func (h *Hub) Subscribe() <-chan Event {
	return h.SubscribeExecution(0)
}

// SubscribeExecution registers a subscriber that only receives events of
// executionID. An id of 0 subscribes to every execution.
func (h *Hub) SubscribeExecution(executionID int64) <-chan Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, SubscriberChannelBufferSize)
	if h.closed {
		close(ch)
		return ch
	}
	h.subscribers[ch] = executionID
	return ch
}

// Unsubscribe removes and closes a subscriber channel. Unknown or already
// evicted channels are ignored.
func (h *Hub) Unsubscribe(sub <-chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subscribers {
		if ch == sub {
			delete(h.subscribers, ch)
			close(ch)
			return
		}
	}
}

// Publish sends ev to every matching subscriber using non-blocking sends.
// Events from a single goroutine reach each subscriber in publish order.
func (h *Hub) Publish(ev Event) {
	// Eviction and delivery share the write lock so no later event can
	// slip into a channel after one was refused.
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch, filter := range h.subscribers {
		if filter != 0 && filter != ev.ExecutionID {
			continue
		}
		select {
		case ch <- ev:
		default:
			delete(h.subscribers, ch)
			close(ch)
			h.evicted.Add(1)
		}
	}
}

// Evicted reports how many subscribers were disconnected for falling behind.
func (h *Hub) Evicted() uint64 {
	return h.evicted.Load()
}

// Subscribers reports the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Closed reports whether Close has been called. A subscriber whose channel
// closed while the hub is open was evicted.
func (h *Hub) Closed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed
}

// Close closes every subscriber channel; later subscriptions receive a closed channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subscribers {
		close(ch)
	}
	h.subscribers = make(map[chan Event]int64)
}
