package runner

import (
	"io"
	"os/exec"
	"sort"
	"sync"
)

// handle is a live child process
type handle struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	pid   int
}

// registry maps execution ids to live processes and input mailboxes
type registry struct {
	mu        sync.RWMutex
	handles   map[int64]*handle
	mailboxes map[int64]*mailbox
}

func newRegistry() *registry {
	return &registry{
		handles:   make(map[int64]*handle),
		mailboxes: make(map[int64]*mailbox),
	}
}

func (r *registry) addMailbox(id int64, mb *mailbox) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mailboxes[id] = mb
}

func (r *registry) mailbox(id int64) (*mailbox, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mb, ok := r.mailboxes[id]
	return mb, ok
}

func (r *registry) addHandle(id int64, h *handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles[id] = h
}

func (r *registry) handle(id int64) (*handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[id]
	return h, ok
}

// removeMailbox stops accepting input for id; the handle stays until the
// process has been reaped
func (r *registry) removeMailbox(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.mailboxes, id)
}

// remove forgets both the handle and the mailbox of id
func (r *registry) remove(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, id)
	delete(r.mailboxes, id)
}

func (r *registry) ids() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]int64, 0, len(r.handles))
	for id := range r.handles {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
