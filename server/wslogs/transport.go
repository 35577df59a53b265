package wslogs

import (
	"sync"
	"sync/atomic"
)

// Transport hands log batches to registered client channels
type Transport struct {
	clients map[string]chan<- *Batch
	mu      sync.RWMutex
	dropped atomic.Uint64
}

// NewTransport creates a new WebSocket log transport
func NewTransport() *Transport {
	return &Transport{
		clients: make(map[string]chan<- *Batch),
	}
}

// RegisterClient registers a client to receive log batches.
// The channel should be buffered; a full channel loses the batch.
func (t *Transport) RegisterClient(id string, ch chan<- *Batch) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clients[id] = ch
}

// UnregisterClient removes a client from receiving log batches
func (t *Transport) UnregisterClient(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.clients, id)
}

// SendBatch sends a log batch to all registered clients without blocking
func (t *Transport) SendBatch(batch *Batch) {
	if batch == nil || len(batch.Messages) == 0 {
		return
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, ch := range t.clients {
		select {
		case ch <- batch:
		default:
			t.dropped.Add(1)
		}
	}
}

// ClientCount returns the number of registered clients
func (t *Transport) ClientCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.clients)
}

// Dropped reports batches lost to full client channels
func (t *Transport) Dropped() uint64 {
	return t.dropped.Load()
}
