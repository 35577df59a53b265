package wslogs

import (
	"sync"
	"time"
)

// MaxPendingMessages caps the batch between flushes; older entries are
// discarded first when nobody flushes.
const MaxPendingMessages = 1000

// Batcher collects log messages between flushes
type Batcher struct {
	messages  []Message
	transport *Transport
	mu        sync.Mutex
}

// NewBatcher creates a batcher sending to transport
func NewBatcher(transport *Transport) *Batcher {
	return &Batcher{
		messages:  make([]Message, 0, 32),
		transport: transport,
	}
}

// Append adds a log message to the batch
func (b *Batcher) Append(msg Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.messages) >= MaxPendingMessages {
		b.messages = append(b.messages[:0], b.messages[1:]...)
	}
	b.messages = append(b.messages, msg)
}

// Flush sends all collected messages as one batch and clears the buffer.
// Nothing is sent when the batch is empty.
func (b *Batcher) Flush() {
	b.mu.Lock()
	if len(b.messages) == 0 {
		b.mu.Unlock()
		return
	}
	batch := &Batch{
		Messages:  b.messages,
		Timestamp: time.Now(),
	}
	// clients keep the sent slice, so start a fresh one
	b.messages = make([]Message, 0, cap(b.messages))
	b.mu.Unlock()

	b.transport.SendBatch(batch)
}

// Count returns the number of messages currently in the batch
func (b *Batcher) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages)
}
