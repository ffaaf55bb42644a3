//go:build unix

package pipe

import (
	"net"

	"github.com/taskio/taskio/internal/neterr"
	"github.com/taskio/taskio/internal/reactor"
	"github.com/taskio/taskio/internal/sockaddr"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type incomingConn struct {
	w   *Watcher
	err error
}

// Listener is bound but not yet accepting connections (spec.md §4.8). net.ListenUnix
// in Bind already puts the socket into the listening state.
type Listener struct {
	home Home
	ln   *net.UnixListener
	ipc  bool
}

// Bind creates the Unix-domain socket at path, registering it with the given reactor.
func Bind(r *reactor.Reactor, path string, ipc bool) (*Listener, error) {
	home := reactor.NewHome(r)
	laddr, err := sockaddr.ResolveUnix(path)
	if err != nil {
		return nil, neterr.FromNetError(err)
	}

	l := &Listener{home: home, ipc: ipc}
	var bindErr error
	home.FireHomingMissile(func() {
		ln, lErr := net.ListenUnix("unix", laddr)
		if lErr != nil {
			bindErr = lErr
			return
		}
		l.ln = ln
	})
	if bindErr != nil {
		return nil, neterr.FromNetError(bindErr)
	}
	return l, nil
}

// Acceptor is a Listener that has started accepting connections.
type Acceptor struct {
	ln *Listener

	incoming chan incomingConn
	closing  chan struct{}
	done     chan struct{}
}

// Listen transfers ownership of the Listener into a new Acceptor and begins
// accepting into a queue of capacity listenBacklog, mirroring tcp.Listener.Listen.
// listenBacklog is not passed to listen(2); the kernel backlog is net.ListenUnix's
// default.
func (l *Listener) Listen() (*Acceptor, error) {
	a := &Acceptor{
		ln:       l,
		incoming: make(chan incomingConn, listenBacklog),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}

	l.home.FireHomingMissileSched(func(r *reactor.Reactor) {
		r.Go(a.acceptLoop)
	})
	return a, nil
}

func (a *Acceptor) acceptLoop() {
	go a.acceptOne()
}

func (a *Acceptor) acceptOne() {
	conn, err := a.ln.ln.AcceptUnix()
	select {
	case <-a.closing:
		if conn != nil {
			conn.Close()
		}
		close(a.done)
		return
	default:
	}

	if err != nil {
		a.incoming <- incomingConn{err: err}
		a.ln.home.Reactor().Go(a.acceptLoop)
		return
	}

	w := newAccepted(a.ln.home, conn, a.ln.ipc)
	a.incoming <- incomingConn{w: w}
	a.ln.home.Reactor().Go(a.acceptLoop)
}

// Accept blocks the calling task by receiving from the incoming queue.
func (a *Acceptor) Accept() (*Watcher, error) {
	ic, ok := <-a.incoming
	if !ok {
		return nil, neterr.FromNetError(&net.OpError{Op: "accept", Err: net.ErrClosed})
	}
	if ic.err != nil {
		return nil, neterr.FromNetError(ic.err)
	}
	return ic.w, nil
}

// SocketName returns the path the listener is bound to.
func (a *Acceptor) SocketName() (net.Addr, error) {
	var addr net.Addr
	a.ln.home.FireHomingMissile(func() { addr = a.ln.ln.Addr() })
	return addr, nil
}

// Close stops accepting and closes the listener, blocking until the accept loop has
// actually stopped — the same symmetric discipline as tcp.Acceptor.Close (see
// SPEC_FULL.md's disposition of spec.md §9's first Open Question). Connections
// accepted but never claimed via Accept are drained and closed, and any accept errors
// still sitting in the queue are combined with the listener's own close error.
func (a *Acceptor) Close() error {
	close(a.closing)
	var err error
	a.ln.home.FireHomingMissile(func() {
		err = a.ln.ln.Close()
	})
	<-a.done
	close(a.incoming)
	for ic := range a.incoming {
		switch {
		case ic.w != nil:
			ic.w.Close()
		case ic.err != nil:
			err = multierr.Append(err, ic.err)
		}
	}
	if err != nil {
		a.ln.home.Reactor().Logger().Warn("pipe: listener close failed", zap.Error(err))
	}
	return nil
}
