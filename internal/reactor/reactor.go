// Package reactor implements the reference event-loop collaborator that the rest of
// this module homes handles onto. Every Reactor owns exactly one goroutine ("the loop
// goroutine"); the only way to touch state that belongs to a Reactor is to submit a
// closure through Run or Go, which the loop goroutine then executes in submission
// order. This is the same shape as a single-threaded gnet/libuv event loop, minus the
// actual epoll machinery, which is explicitly out of scope for this module (spec.md
// §1 lists "the reactor itself" as an external collaborator).
package reactor

import (
	"sync"

	"go.uber.org/zap"
)

// Reactor is a single-goroutine task queue. Submitting work onto a Reactor from any
// goroutine is always safe; the work itself only ever runs on the loop goroutine.
type Reactor struct {
	name   string
	tasks  chan func()
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
	logger *zap.Logger
}

// New starts a Reactor's loop goroutine and returns a handle to it. The logger may be
// nil, in which case log lines are dropped.
func New(name string, logger *zap.Logger) *Reactor {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Reactor{
		name:   name,
		tasks:  make(chan func(), 256),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger,
	}
	go r.loop()
	return r
}

func (r *Reactor) loop() {
	defer close(r.done)
	for {
		select {
		case fn := <-r.tasks:
			fn()
		case <-r.stop:
			r.drain()
			return
		}
	}
}

// drain runs any tasks that were already queued at the moment Stop was called, so a
// Run in flight from another goroutine is never silently dropped.
func (r *Reactor) drain() {
	for {
		select {
		case fn := <-r.tasks:
			fn()
		default:
			return
		}
	}
}

// Run submits fn onto the loop goroutine and blocks the calling goroutine until fn
// returns. This is the "homing missile": it is the only primitive by which code
// running on a foreign goroutine gets its work executed on this Reactor's thread of
// control.
func (r *Reactor) Run(fn func()) {
	result := make(chan struct{})
	r.tasks <- func() {
		defer close(result)
		fn()
	}
	<-result
}

// RunSched is Run, but also hands fn this Reactor, for callers that need to schedule
// further reactor-thread-only work (e.g. an accept loop) without blocking the
// original caller on it.
func (r *Reactor) RunSched(fn func(*Reactor)) {
	r.Run(func() { fn(r) })
}

// Go schedules fn to run on the loop goroutine without waiting for it to finish. Used
// to deliver an async completion "callback" onto its home reactor's thread.
func (r *Reactor) Go(fn func()) {
	select {
	case r.tasks <- fn:
	case <-r.stop:
		r.logger.Warn("reactor: dropped task submitted after Stop", zap.String("reactor", r.name))
	}
}

// Name returns the reactor's identity, used only for logging.
func (r *Reactor) Name() string { return r.name }

// Logger returns the reactor's logger, so homed components can log without threading
// a separate logger reference through every constructor.
func (r *Reactor) Logger() *zap.Logger { return r.logger }

// Stop requests the loop goroutine to drain its queue and exit, then waits for it to
// do so. Stop is idempotent.
func (r *Reactor) Stop() {
	r.once.Do(func() { close(r.stop) })
	<-r.done
}
