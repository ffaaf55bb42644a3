package tcp

import (
	"net"

	"github.com/taskio/taskio/internal/neterr"
	"github.com/taskio/taskio/internal/reactor"
	"github.com/taskio/taskio/internal/sockaddr"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// listenBacklog is the capacity of an Acceptor's incoming queue: up to this many
// accepted connections can wait there for Accept. It is not passed to listen(2); the
// kernel backlog is whatever net.ListenTCP uses by default. It is not configurable.
const listenBacklog = 128

// incomingConn is what the accept loop pushes onto a Listener's queue: either a
// freshly wrapped Watcher, or the error observed while accepting, so a background
// accept failure surfaces on the next call to Accept (spec.md §7).
type incomingConn struct {
	w   *Watcher
	err error
}

// Listener is bound (spec.md §4.5's TcpListener) but not yet accepting connections.
type Listener struct {
	home Home
	ln   *net.TCPListener
}

// Bind allocates and binds a TCP listener on the given reactor. net.ListenTCP also
// puts the socket into the listening state, so the kernel queues incoming connections
// from here on; none is accepted until Listen starts the accept loop.
func Bind(r *reactor.Reactor, addr string) (*Listener, error) {
	home := reactor.NewHome(r)
	laddr, err := sockaddr.ResolveTCP(addr)
	if err != nil {
		return nil, neterr.FromNetError(err)
	}

	l := &Listener{home: home}
	var bindErr error
	home.FireHomingMissile(func() {
		ln, lErr := net.ListenTCP("tcp", laddr)
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

// Acceptor is a Listener that has started accepting connections (spec.md §4.5's
// TcpAcceptor). Structurally it just owns the Listener it was built from.
type Acceptor struct {
	ln *Listener

	incoming chan incomingConn
	closing  chan struct{}
	done     chan struct{}

	simultaneous bool
}

// Listen transfers ownership of the Listener into a new Acceptor and begins
// accepting into a queue of capacity listenBacklog. Each accepted connection is
// wrapped as a Watcher bound to the same home reactor and pushed onto the Acceptor's
// incoming queue; a failed accept pushes its error instead, so the next Accept call
// surfaces it (spec.md §7).
//
// Grounded on the teacher's adapter/tcp.go TCPListener.AsyncStart, which pumps
// gnet-delivered connections through a buffered `pipeline chan net.Conn` fed from
// OnConnect; this generalizes that channel-as-accept-queue shape to home-reactor
// bookkeeping and typed (Watcher, error) delivery instead of gnet's engine callback.
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

// acceptLoop runs on the home reactor's loop goroutine's behalf (scheduled via Go, not
// Run, so it never blocks the loop itself for longer than a single accept). Each
// iteration off-loads the blocking Accept syscall to its own goroutine and resumes
// the loop once that one connection has landed, keeping with this module's rule that
// only coordination — never blocking I/O — happens directly on a reactor submission.
func (a *Acceptor) acceptLoop() {
	go a.acceptOne()
}

func (a *Acceptor) acceptOne() {
	conn, err := a.ln.ln.AcceptTCP()
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

	w := newAccepted(a.ln.home, conn)
	a.incoming <- incomingConn{w: w}
	a.ln.home.Reactor().Go(a.acceptLoop)
}

// Accept blocks the calling task by receiving from the incoming queue. Receiving
// itself needs no homing (spec.md §4.5): only the handle it hands back is bound to
// the home reactor.
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

// AcceptSimultaneously sets the Acceptor's simultaneous-accept flag. Nothing in this
// package reads the flag, so accepting behaves the same whether it is set or not, on
// every platform. Kept as a symmetrical pair with DontAcceptSimultaneously per
// spec.md §4.5/§6.
func (a *Acceptor) AcceptSimultaneously() {
	a.simultaneous = true
}

// DontAcceptSimultaneously is the inverse of AcceptSimultaneously.
func (a *Acceptor) DontAcceptSimultaneously() {
	a.simultaneous = false
}

// SocketName returns the address the listener is bound to.
func (a *Acceptor) SocketName() (net.Addr, error) {
	var addr net.Addr
	a.ln.home.FireHomingMissile(func() { addr = a.ln.ln.Addr() })
	return addr, nil
}

// Close stops accepting and closes the underlying listener. Per SPEC_FULL.md's
// disposition of spec.md §9's first Open Question, Close blocks the calling goroutine
// until the accept loop has actually stopped, symmetrically with the pipe listener —
// so that, as spec.md §8 scenario 7 requires, a subsequent Bind on the same address in
// the same process succeeds once Close returns. Any connections that were accepted but
// never claimed via Accept are drained from the queue and closed too, so Close never
// leaks a kernel socket even if the caller stops accepting mid-backlog.
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
		a.ln.home.Reactor().Logger().Warn("tcp: listener close failed", zap.Error(err))
	}
	return nil
}
