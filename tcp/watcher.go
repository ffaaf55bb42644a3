// Package tcp implements the TCP trio of spec.md §4.5: Watcher (a connected stream),
// Listener (bound, not yet listening), and Acceptor (listening, delivering accepted
// connections). Grounded on the teacher's adapter/tcp.go: the same Start/Stop lifecycle
// shape and channel-fed accept pipeline, generalized from wrapping a gnet-backed
// engine to implementing homing, per-direction access arbitration, and the suspension
// bridge directly.
package tcp

import (
	"net"
	"time"

	"github.com/taskio/taskio/internal/access"
	"github.com/taskio/taskio/internal/bridge"
	"github.com/taskio/taskio/internal/neterr"
	"github.com/taskio/taskio/internal/reactor"
	"github.com/taskio/taskio/internal/refcount"
	"github.com/taskio/taskio/internal/sockaddr"
	"github.com/taskio/taskio/internal/stream"
	"go.uber.org/zap"
)

// Watcher is a connected TCP stream homed on one Reactor. Cloning a Watcher shares
// its home, its refcount, its two Access cells, and its underlying stream.Watcher —
// it never duplicates the kernel socket (spec.md §3, §4.5).
type Watcher struct {
	home Home

	rc          *refcount.Refcount
	readAccess  *access.Access
	writeAccess *access.Access

	conn *net.TCPConn
	sw   *stream.Watcher
}

// Home is the reactor.Home type, re-exported so callers in this package's tests don't
// need to import internal/reactor directly.
type Home = reactor.Home

type tcpHandle struct{ c *net.TCPConn }

func (h tcpHandle) Read(b []byte) (int, error)  { return h.c.Read(b) }
func (h tcpHandle) Write(b []byte) (int, error) { return h.c.Write(b) }
func (h tcpHandle) CloseWrite() error           { return h.c.CloseWrite() }
func (h tcpHandle) Close() error                { return h.c.Close() }

// Connect dials addr from the given reactor. Creation is synchronous up to this
// point; the dial itself migrates to and runs on the home reactor, matching spec.md
// §3's "creation is synchronous on the caller's thread, then migrates home to perform
// init/bind/connect" lifecycle. A non-zero connect status (here: any dial error)
// returns a translated error and leaves no resources behind.
func Connect(r *reactor.Reactor, addr string) (*Watcher, error) {
	home := reactor.NewHome(r)
	raddr, err := sockaddr.ResolveTCP(addr)
	if err != nil {
		return nil, neterr.FromNetError(err)
	}

	w := &Watcher{
		home:        home,
		rc:          refcount.New(),
		readAccess:  access.New(),
		writeAccess: access.New(),
	}

	var dialErr error
	w.home.FireHomingMissile(func() {})
	result := bridge.Submit(w.home, func() error {
		conn, dErr := net.DialTCP("tcp", nil, raddr)
		if dErr != nil {
			dialErr = dErr
			return dErr
		}
		w.conn = conn
		w.sw = stream.New(tcpHandle{conn})
		return nil
	})
	if result != nil {
		return nil, neterr.FromNetError(dialErr)
	}
	return w, nil
}

func newAccepted(home Home, conn *net.TCPConn) *Watcher {
	return &Watcher{
		home:        home,
		rc:          refcount.New(),
		readAccess:  access.New(),
		writeAccess: access.New(),
		conn:        conn,
		sw:          stream.New(tcpHandle{conn}),
	}
}

// Read performs one blocking read into buf, serialized against any other read in
// flight on this Watcher or any of its clones.
func (w *Watcher) Read(buf []byte) (int, error) {
	w.home.FireHomingMissile(func() {})
	rel := w.readAccess.Grant()
	defer rel.Release()

	type result struct {
		n   int
		err error
	}
	res := bridge.Submit(w.home, func() result {
		n, err := w.sw.Read(buf)
		return result{n, err}
	})
	return res.n, res.err
}

// Write performs one blocking write of the entire buffer, serialized against any
// other write in flight on this Watcher or any of its clones.
func (w *Watcher) Write(buf []byte) (int, error) {
	w.home.FireHomingMissile(func() {})
	rel := w.writeAccess.Grant()
	defer rel.Release()

	type result struct {
		n   int
		err error
	}
	res := bridge.Submit(w.home, func() result {
		n, err := w.sw.Write(buf)
		return result{n, err}
	})
	return res.n, res.err
}

// CloseWrite half-closes the write direction. It contends for the write Access cell,
// so it serializes naturally after any write already in flight (spec.md §4.4, §9).
func (w *Watcher) CloseWrite() error {
	w.home.FireHomingMissile(func() {})
	rel := w.writeAccess.Grant()
	defer rel.Release()

	return bridge.Submit(w.home, func() error { return w.sw.CloseWrite() })
}

// SocketName returns the local address of the connection.
func (w *Watcher) SocketName() (net.Addr, error) {
	var addr net.Addr
	w.home.FireHomingMissile(func() { addr = w.conn.LocalAddr() })
	return addr, nil
}

// PeerName returns the remote address of the connection.
func (w *Watcher) PeerName() (net.Addr, error) {
	var addr net.Addr
	w.home.FireHomingMissile(func() { addr = w.conn.RemoteAddr() })
	return addr, nil
}

// NoDelay enables or disables Nagle's algorithm (TCP_NODELAY).
func (w *Watcher) NoDelay(enable bool) error {
	var err error
	w.home.FireHomingMissile(func() { err = w.conn.SetNoDelay(enable) })
	return neterr.FromNetError(err)
}

// ControlCongestion re-enables Nagle's algorithm (nodelay off), restoring the kernel's
// usual congestion-friendly coalescing of small writes.
func (w *Watcher) ControlCongestion() error {
	return w.NoDelay(false)
}

// Keepalive enables TCP keepalive probing with the given probe interval.
func (w *Watcher) Keepalive(delay time.Duration) error {
	var err error
	w.home.FireHomingMissile(func() {
		if err = w.conn.SetKeepAlive(true); err != nil {
			return
		}
		err = w.conn.SetKeepAlivePeriod(delay)
	})
	return neterr.FromNetError(err)
}

// Letdie disables TCP keepalive probing.
func (w *Watcher) Letdie() error {
	var err error
	w.home.FireHomingMissile(func() { err = w.conn.SetKeepAlive(false) })
	return neterr.FromNetError(err)
}

// Clone returns a new Watcher sharing this one's home, refcount, Access cells, and
// underlying socket. A read on one clone and a write on another make concurrent
// progress; two concurrent reads (or writes) across any clones still serialize.
func (w *Watcher) Clone() *Watcher {
	w.rc.Clone()
	return &Watcher{
		home:        w.home,
		rc:          w.rc,
		readAccess:  w.readAccess,
		writeAccess: w.writeAccess,
		conn:        w.conn,
		sw:          w.sw,
	}
}

// Close drops this clone's hold on the socket. Only the call that takes the refcount
// to zero actually closes the kernel handle; it does so synchronously on the home
// reactor, so Close never returns before the native close completes (spec.md §3, §5).
// Close errors are intentionally not propagated to the caller past the final holder
// (spec.md §7's "Drop errors are silent"); they are only logged.
func (w *Watcher) Close() error {
	if !w.rc.Drop() {
		return nil
	}
	var err error
	w.home.FireHomingMissile(func() {
		err = w.sw.Close()
	})
	if err != nil {
		w.home.Reactor().Logger().Warn("tcp: close failed", zap.Error(err))
	}
	return nil
}
