//go:build unix

// Package pipe implements the named-pipe / Unix-domain analogue of the TCP trio
// (spec.md §4.8): Watcher, Listener, and Acceptor built on net.UnixConn/net.UnixListener
// using the stream (SOCK_STREAM) Unix-domain socket, which is this port's portable
// stand-in for a native named pipe — Go's os.Pipe is unidirectional and anonymous and
// so has no analogue of bind/listen/accept/connect by path, while a Unix-domain stream
// socket has exactly the shape spec.md describes.
package pipe

import (
	"fmt"
	"net"
	"os"

	"github.com/taskio/taskio/internal/access"
	"github.com/taskio/taskio/internal/bridge"
	"github.com/taskio/taskio/internal/neterr"
	"github.com/taskio/taskio/internal/reactor"
	"github.com/taskio/taskio/internal/refcount"
	"github.com/taskio/taskio/internal/sockaddr"
	"github.com/taskio/taskio/internal/stream"
	"go.uber.org/zap"
)

// Home re-exports reactor.Home.
type Home = reactor.Home

const listenBacklog = 128

type pipeHandle struct{ c *net.UnixConn }

func (h pipeHandle) Read(b []byte) (int, error)  { return h.c.Read(b) }
func (h pipeHandle) Write(b []byte) (int, error) { return h.c.Write(b) }
func (h pipeHandle) CloseWrite() error           { return h.c.CloseWrite() }
func (h pipeHandle) Close() error                { return h.c.Close() }

// Watcher is a connected pipe stream homed on one Reactor, structurally identical to
// tcp.Watcher.
type Watcher struct {
	home Home

	rc          *refcount.Refcount
	readAccess  *access.Access
	writeAccess *access.Access

	conn *net.UnixConn
	sw   *stream.Watcher

	ipc bool
}

// Connect dials the pipe at path. ipc marks whether the underlying handle may be used
// for handle passing; per spec.md §4.8 it is threaded through at allocation time but
// not otherwise exposed.
func Connect(r *reactor.Reactor, path string, ipc bool) (*Watcher, error) {
	home := reactor.NewHome(r)
	raddr, err := sockaddr.ResolveUnix(path)
	if err != nil {
		return nil, neterr.FromNetError(err)
	}

	w := &Watcher{
		home:        home,
		rc:          refcount.New(),
		readAccess:  access.New(),
		writeAccess: access.New(),
		ipc:         ipc,
	}

	var dialErr error
	home.FireHomingMissile(func() {})
	res := bridge.Submit(home, func() error {
		conn, cErr := net.DialUnix("unix", nil, raddr)
		if cErr != nil {
			dialErr = cErr
			return cErr
		}
		w.conn = conn
		w.sw = stream.New(pipeHandle{conn})
		return nil
	})
	if res != nil {
		return nil, neterr.FromNetError(dialErr)
	}
	return w, nil
}

// Open wraps an already-open native fd as a Watcher, homed on r. This is the analogue
// of original_source/src/librustuv/pipe.rs's PipeWatcher::open: a pipe handle inherited
// from a parent process or received over an IPC channel, rather than dialed by path
// (spec.md §6 lists "open(fd)" alongside "connect(path)" as mandatory API surface).
// The fd is taken over by the resulting Watcher; the caller must not use it again.
func Open(r *reactor.Reactor, fd int, ipc bool) (*Watcher, error) {
	home := reactor.NewHome(r)

	w := &Watcher{
		home:        home,
		rc:          refcount.New(),
		readAccess:  access.New(),
		writeAccess: access.New(),
		ipc:         ipc,
	}

	var openErr error
	home.FireHomingMissile(func() {
		f := os.NewFile(uintptr(fd), fmt.Sprintf("pipe-fd-%d", fd))
		conn, cErr := net.FileConn(f)
		f.Close()
		if cErr != nil {
			openErr = cErr
			return
		}
		uconn, ok := conn.(*net.UnixConn)
		if !ok {
			openErr = fmt.Errorf("pipe: fd %d is not a Unix-domain stream socket", fd)
			conn.Close()
			return
		}
		w.conn = uconn
		w.sw = stream.New(pipeHandle{uconn})
	})
	if openErr != nil {
		return nil, neterr.FromNetError(openErr)
	}
	return w, nil
}

func newAccepted(home Home, conn *net.UnixConn, ipc bool) *Watcher {
	return &Watcher{
		home:        home,
		rc:          refcount.New(),
		readAccess:  access.New(),
		writeAccess: access.New(),
		conn:        conn,
		sw:          stream.New(pipeHandle{conn}),
		ipc:         ipc,
	}
}

// Read performs one blocking read into buf.
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

// Write performs one blocking write of the entire buffer.
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

// Clone shares this Watcher's home, refcount, Access cells, and underlying socket.
func (w *Watcher) Clone() *Watcher {
	w.rc.Clone()
	return &Watcher{
		home:        w.home,
		rc:          w.rc,
		readAccess:  w.readAccess,
		writeAccess: w.writeAccess,
		conn:        w.conn,
		sw:          w.sw,
		ipc:         w.ipc,
	}
}

// Close drops this clone's hold on the socket, closing it on the final Drop.
func (w *Watcher) Close() error {
	if !w.rc.Drop() {
		return nil
	}
	var err error
	w.home.FireHomingMissile(func() { err = w.sw.Close() })
	if err != nil {
		w.home.Reactor().Logger().Warn("pipe: close failed", zap.Error(err))
	}
	return nil
}
