// Package bridge implements the suspension bridge: the mechanism by which a blocking
// user task is parked, an asynchronous completion is matched back to exactly that
// task by a continuation, and the task is resumed once the completion fires.
//
// The original architecture (spec.md §4.3) stores a raw pointer to a stack-allocated
// continuation in a C callback's user-data slot; there is no cgo boundary in this
// port, so a Ctx's "address" is simply the *Ctx value itself, captured by the closure
// that will eventually call Wake. The one invariant the original cares about — every
// wait is paired with exactly one wakeup, and the continuation's storage survives
// until the wakeup completes — is kept and made mechanically checkable: Wake uses a
// sync.Once internally and panics (a fatal assertion, matching spec.md §5's treatment
// of ECANCELED) if it is ever invoked twice.
package bridge

import (
	"sync"

	"github.com/taskio/taskio/internal/reactor"
)

// Ctx is a task-local continuation parameterized on the result type it carries.
type Ctx[T any] struct {
	ch   chan T
	once sync.Once
}

// NewCtx allocates a continuation with room for exactly one result.
func NewCtx[T any]() *Ctx[T] {
	return &Ctx[T]{ch: make(chan T, 1)}
}

// WaitUntilWokenAfter parks the calling goroutine on ctx, runs setup (which must
// arrange, synchronously or asynchronously, for ctx.Wake to eventually be called
// exactly once), and returns the value delivered by that Wake call. setup is run only
// after ctx's channel exists, so a completion that races ahead of the parking
// goroutine can never be missed.
func WaitUntilWokenAfter[T any](ctx *Ctx[T], setup func(*Ctx[T])) T {
	setup(ctx)
	return <-ctx.ch
}

// Wake delivers v and satisfies exactly one WaitUntilWokenAfter. A second call on the
// same Ctx is a programmer error — it means some completion path fired twice for one
// logical operation — and is treated as a fatal assertion rather than silently
// ignored or corrupting a future, unrelated wait.
func (c *Ctx[T]) Wake(v T) {
	delivered := false
	c.once.Do(func() {
		c.ch <- v
		delivered = true
	})
	if !delivered {
		panic("bridge: Ctx woken more than once")
	}
}

// Submit runs work on a dedicated goroutine (standing in for the native reactor
// performing a non-blocking syscall off its own loop thread) and delivers its result
// back onto home's loop goroutine before waking the caller — i.e. the "callback" that
// stores the result and wakes the task is, as spec.md §4.3 requires, executed on the
// handle's home reactor thread. Submit does not itself fire the homing missile:
// callers are expected to have already called Home.FireHomingMissile (and, where
// applicable, acquired the relevant Access) before calling Submit, matching the
// fire-missile-then-grant-then-submit ordering of spec.md §2's data flow.
func Submit[T any](home reactor.Home, work func() T) T {
	ctx := NewCtx[T]()
	return WaitUntilWokenAfter(ctx, func(c *Ctx[T]) {
		go func() {
			v := work()
			home.Reactor().Go(func() { c.Wake(v) })
		}()
	})
}
