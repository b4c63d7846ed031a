// Package progress tracks the completion and cancellation of long running
// reconstructions.
package progress

import (
	"math"
	"sync"
	"time"
)

// State is the lifecycle stage of a request
type State int

const (
	Pending State = iota
	Running
	Completed
	Cancelled
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether no further transitions are possible
func (s State) Terminal() bool {
	return s == Completed || s == Cancelled || s == Failed
}

type waiter struct {
	percent float64
	ch      chan struct{}
}

// Handle is the caller's view of one request. Percent only ever grows, and
// the state moves Pending -> Running -> Completed|Cancelled|Failed; other
// transitions are ignored.
type Handle struct {
	id      string
	created time.Time

	mu        sync.Mutex
	state     State
	percent   float64
	cancelled bool
	err       error
	waiters   []waiter

	cancelCh chan struct{}
	done     chan struct{}
}

func newHandle(id string) *Handle {
	return &Handle{
		id:       id,
		created:  time.Now(),
		cancelCh: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// ID returns the request id
func (h *Handle) ID() string { return h.id }

// Created returns when the handle was registered
func (h *Handle) Created() time.Time { return h.created }

// State returns the current lifecycle stage
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Percent returns the completion percentage in [0, 100]
func (h *Handle) Percent() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.percent
}

// Start moves a pending request to running
func (h *Handle) Start() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != Pending {
		return false
	}
	h.state = Running
	return true
}

// Update records progress. Values are clamped to [0, 100]; a value lower
// than the current percentage is ignored. When a computation restarts
// after its leader was cancelled, the handle holds the earlier percentage
// until the new run passes it, so Reached never fires twice for the same
// threshold.
func (h *Handle) Update(percent float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state.Terminal() {
		return
	}
	h.advance(percent)
}

func (h *Handle) advance(percent float64) {
	switch {
	case percent > 100:
		percent = 100
	case percent < 0 || math.IsNaN(percent):
		percent = 0
	}
	if percent <= h.percent {
		return
	}
	h.percent = percent

	kept := h.waiters[:0]
	for _, w := range h.waiters {
		if w.percent <= percent {
			close(w.ch)
			continue
		}
		kept = append(kept, w)
	}
	h.waiters = kept
}

// Reached returns a channel closed once progress reaches percent or the
// request ends, whichever comes first
func (h *Handle) Reached(percent float64) <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan struct{})
	if h.percent >= percent || h.state.Terminal() {
		close(ch)
		return ch
	}
	h.waiters = append(h.waiters, waiter{percent: percent, ch: ch})
	return ch
}

// Cancel requests cancellation. It returns false once the request has ended.
func (h *Handle) Cancel() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state.Terminal() {
		return false
	}
	if !h.cancelled {
		h.cancelled = true
		close(h.cancelCh)
	}
	return true
}

// IsCancelled reports whether cancellation was requested
func (h *Handle) IsCancelled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelled
}

// Cancelled returns a channel closed when cancellation is requested
func (h *Handle) Cancelled() <-chan struct{} { return h.cancelCh }

// Done returns a channel closed when the request reaches a terminal state
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the error the request ended with, nil while running or on success
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Complete marks the request finished at 100%
func (h *Handle) Complete() bool {
	return h.finish(Completed, nil)
}

// Abort marks the request cancelled with the given cause
func (h *Handle) Abort(err error) bool {
	return h.finish(Cancelled, err)
}

// Fail marks the request failed
func (h *Handle) Fail(err error) bool {
	return h.finish(Failed, err)
}

func (h *Handle) finish(state State, err error) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state.Terminal() {
		return false
	}
	if state == Completed {
		h.advance(100)
	}
	h.state = state
	h.err = err
	for _, w := range h.waiters {
		close(w.ch)
	}
	h.waiters = nil
	close(h.done)
	return true
}
