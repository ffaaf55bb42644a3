// Package refcount implements the cheap atomic reference count shared by clones of one
// cloneable handle (TcpWatcher, UdpWatcher): exactly one Drop call, the one that takes
// the count to zero, reports "final" and triggers the underlying close.
package refcount

import "go.uber.org/atomic"

// Refcount is an atomic counter starting at 1 (the original holder).
type Refcount struct {
	n atomic.Int64
}

// New returns a Refcount for a freshly created (not yet cloned) handle.
func New() *Refcount {
	rc := &Refcount{}
	rc.n.Store(1)
	return rc
}

// Clone registers one more holder.
func (rc *Refcount) Clone() {
	rc.n.Inc()
}

// Drop removes one holder and reports whether it was the last one. Only the call for
// which final is true may close the underlying kernel handle; every other call must
// leave it open.
func (rc *Refcount) Drop() (final bool) {
	return rc.n.Dec() == 0
}

// Count returns the current number of live holders, for diagnostics and tests.
func (rc *Refcount) Count() int64 {
	return rc.n.Load()
}
