package progress

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Tracker is a registry of in-flight request handles keyed by request id
type Tracker struct {
	mu      sync.RWMutex
	handles map[string]*Handle
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{handles: make(map[string]*Handle)}
}

// NewID returns a fresh request id
func NewID() string {
	return uuid.NewString()
}

// Register creates a pending handle. An empty id is replaced with a new
// one; registering an id that is still tracked returns the existing handle.
func (t *Tracker) Register(id string) *Handle {
	if id == "" {
		id = NewID()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if h, ok := t.handles[id]; ok {
		return h
	}
	h := newHandle(id)
	t.handles[id] = h
	return h
}

// Lookup returns the handle for id
func (t *Tracker) Lookup(id string) (*Handle, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.handles[id]
	return h, ok
}

// Cancel requests cancellation of id. It reports false for unknown or
// finished requests.
func (t *Tracker) Cancel(id string) bool {
	h, ok := t.Lookup(id)
	if !ok {
		return false
	}
	return h.Cancel()
}

// Remove forgets id
func (t *Tracker) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.handles, id)
}

// Active returns the ids of requests that have not ended, oldest first
func (t *Tracker) Active() []string {
	t.mu.RLock()
	hs := make([]*Handle, 0, len(t.handles))
	for _, h := range t.handles {
		if !h.State().Terminal() {
			hs = append(hs, h)
		}
	}
	t.mu.RUnlock()

	sort.Slice(hs, func(i, j int) bool { return hs[i].created.Before(hs[j].created) })
	ids := make([]string, len(hs))
	for i, h := range hs {
		ids[i] = h.id
	}
	return ids
}

// Len returns the number of tracked handles
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.handles)
}
