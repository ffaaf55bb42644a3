// Package access implements the FIFO-fair mutual-exclusion guard that arbitrates
// concurrent user tasks racing to read or write the same socket. A stream owns two
// independent Access cells (one per direction, per spec.md §4.2) so reads and writes
// make progress in parallel while same-direction callers serialize.
package access

import "sync"

// Access is a FIFO mutual-exclusion cell with cooperative suspension: a contended
// Grant parks the calling goroutine on a private channel instead of spinning, and
// Release hands the hold directly to the next waiter in enqueue order.
type Access struct {
	mu      sync.Mutex
	held    bool
	waiters []chan struct{}
}

// New returns a free Access cell.
func New() *Access {
	return &Access{}
}

// Grant acquires the access. If the cell is uncontended, Grant returns immediately.
// Otherwise the calling goroutine is appended to the FIFO wait queue and blocks until
// the current holder releases directly to it. Grant is infallible: this layer does
// not support cancelling a waiting task (spec.md §4.2, §5).
func (a *Access) Grant() *Release {
	a.mu.Lock()
	if !a.held {
		a.held = true
		a.mu.Unlock()
		return &Release{a: a}
	}
	wake := make(chan struct{})
	a.waiters = append(a.waiters, wake)
	a.mu.Unlock()

	<-wake
	return &Release{a: a}
}

// Release hands the access back. Release must be called from the same goroutine's
// logical thread of control as the matching Grant, exactly once.
type Release struct {
	a    *Access
	done bool
}

// Release frees the cell, waking the head of the FIFO wait queue if one is present.
// Calling Release more than once is a no-op.
func (r *Release) Release() {
	if r.done {
		return
	}
	r.done = true

	a := r.a
	a.mu.Lock()
	if len(a.waiters) == 0 {
		a.held = false
		a.mu.Unlock()
		return
	}
	next := a.waiters[0]
	a.waiters = a.waiters[1:]
	a.mu.Unlock()

	// Synchronous handoff: held stays true the whole time, the next waiter becomes
	// the holder the instant it wakes.
	close(next)
}
