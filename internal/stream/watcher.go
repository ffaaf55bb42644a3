// Package stream implements the StreamWatcher read/write state machine of spec.md
// §4.4, generalized over any stream-shaped native handle so the same code drives both
// TCP and Unix-domain pipe streams.
package stream

import (
	"io"

	"github.com/taskio/taskio/internal/neterr"
)

// Handle is the native stream operations a Watcher drives. Concrete TCP/pipe handles
// (net.TCPConn, net.UnixConn) already satisfy this shape.
type Handle interface {
	Read(b []byte) (int, error)
	Write(b []byte) (int, error)
	CloseWrite() error
	Close() error
}

type direction int

const (
	idle direction = iota
	active
	closingDir
)

// Watcher tracks the Idle/Reading/Writing/Closing states of spec.md §4.4. It assumes
// the caller already holds the relevant read or write Access cell before calling in
// (those cells are owned by the protocol-specific watcher — TcpWatcher/PipeWatcher —
// not by this type, per spec.md §3); Watcher's own bookkeeping exists to assert the
// "at most one Reading/Writing concurrently" invariant, not to arbitrate it.
type Watcher struct {
	h Handle

	rstate direction
	wstate direction
}

// New wraps h in a fresh, Idle Watcher.
func New(h Handle) *Watcher {
	return &Watcher{h: h}
}

// Read performs one read into buf and returns the bytes read.
//
// The original's Idle -> Reading -> alloc_cb -> read_cb -> Idle pipeline models a
// non-blocking native reactor that may invoke its completion with nread == 0
// ("no data yet", stay in Reading) any number of times before a real completion.
// Go's net.Conn.Read already blocks internally until real data, an error, or EOF is
// available — it can never legitimately return (0, nil) — so there is no equivalent
// "spurious zero-read" branch to reproduce here; one call to the native Read either
// completes the Reading activation or fails it.
func (w *Watcher) Read(buf []byte) (int, error) {
	w.enter(&w.rstate)
	defer w.leave(&w.rstate)

	n, err := w.h.Read(buf)
	if err != nil {
		if err == io.EOF {
			return 0, &neterr.Error{Kind: neterr.EOF, Name: "EOF", Cause: err}
		}
		return 0, neterr.FromNetError(err)
	}
	return n, nil
}

// Write performs one write of the entire buffer. The reactor is assumed to perform
// any fragmentation needed, so Write completes atomically from the caller's view.
func (w *Watcher) Write(buf []byte) (int, error) {
	w.enter(&w.wstate)
	defer w.leave(&w.wstate)

	n, err := w.h.Write(buf)
	if err != nil {
		return n, neterr.FromNetError(err)
	}
	return n, nil
}

// CloseWrite issues a shutdown of the write half. It contends for the same direction
// slot as Write, so — as in the original — it naturally serializes after any pending
// write on this watcher.
func (w *Watcher) CloseWrite() error {
	w.enter(&w.wstate)
	defer w.leave(&w.wstate)

	if err := w.h.CloseWrite(); err != nil {
		return neterr.FromNetError(err)
	}
	return nil
}

// Close performs the full, synchronous close. It is only ever called from the home
// reactor (by the owning TcpWatcher/PipeWatcher's Drop path). That path does not take
// the outer Access cells, so a read or write still in flight on the handle fails once
// the handle is closed.
func (w *Watcher) Close() error {
	w.rstate = closingDir
	w.wstate = closingDir
	if err := w.h.Close(); err != nil {
		return neterr.FromNetError(err)
	}
	return nil
}

func (w *Watcher) enter(d *direction) {
	if *d != idle {
		panic("stream: concurrent activation of the same direction — an Access cell is missing upstream")
	}
	*d = active
}

func (w *Watcher) leave(d *direction) {
	*d = idle
}
