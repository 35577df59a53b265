package runner

import (
	"strings"
	"sync"
)

// mailbox is an unbounded FIFO of stdin text for one execution.
// Producers never block; the owning worker drains it when ready fires.
type mailbox struct {
	mu    sync.Mutex
	items []string
	ready chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{ready: make(chan struct{}, 1)}
}

func (m *mailbox) push(text string) {
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}

	m.mu.Lock()
	m.items = append(m.items, text)
	m.mu.Unlock()

	select {
	case m.ready <- struct{}{}:
	default:
	}
}

func (m *mailbox) drain() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.items
	m.items = nil
	return items
}
