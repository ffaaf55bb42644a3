//go:build unix

// Package rawsocket implements RawSocketWatcher (spec.md §4.7): a non-blocking raw
// socket polled by the reactor, with user-space recvfrom/sendto performed once the
// poll indicates readiness. Raw sockets bypass the stream abstractions entirely —
// there is no protocol-agnostic recv/send on a generic reactor handle, so the poll
// indirection stands in for it (spec.md §9).
package rawsocket

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/taskio/taskio/internal/bridge"
	"github.com/taskio/taskio/internal/neterr"
	"github.com/taskio/taskio/internal/reactor"
	"github.com/taskio/taskio/internal/sockaddr"
	"go.uber.org/zap"
)

// Home re-exports reactor.Home.
type Home = reactor.Home

// Protocol is the abstract protocol identifier RawSocketWatcher.New derives
// (domain, type, protocol) from, per spec.md §4.7.
type Protocol int

const (
	ProtocolICMP4 Protocol = iota
	ProtocolICMP6
)

func (p Protocol) socketParams() (domain, typ, proto int) {
	switch p {
	case ProtocolICMP6:
		return unix.AF_INET6, unix.SOCK_RAW, unix.IPPROTO_ICMPV6
	default:
		return unix.AF_INET, unix.SOCK_RAW, unix.IPPROTO_ICMP
	}
}

// Watcher is a non-cloneable raw socket homed on one Reactor.
type Watcher struct {
	home Home
	fd   int
}

// New creates the native OS socket for protocol, sets it non-blocking, and registers
// it with the home reactor. Non-blocking mode is mandatory (spec.md §4.7): it is the
// entire reason for the poll indirection below.
func New(r *reactor.Reactor, protocol Protocol) (*Watcher, error) {
	home := reactor.NewHome(r)
	domain, typ, proto := protocol.socketParams()

	w := &Watcher{home: home}
	var createErr error
	home.FireHomingMissile(func() {
		fd, err := unix.Socket(domain, typ, proto)
		if err != nil {
			createErr = err
			return
		}
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(fd)
			createErr = err
			return
		}
		w.fd = fd
	})
	if createErr != nil {
		return nil, neterr.FromErrno(toErrno(createErr))
	}
	return w, nil
}

type recvResult struct {
	n    int
	addr unix.Sockaddr
	err  error
}

// RecvFrom polls the fd for readability on the goroutine bridge.Submit starts; once the
// fd is readable, it performs exactly one non-blocking recvfrom into buf. A poll error
// is returned without a recvfrom. The peer is
// reported as a sockaddr.NetworkAddress (spec.md §6's "symbolic NetworkAddress for the
// raw-socket path") rather than a bare net.Addr, since a raw socket's sockaddr carries
// an address family the stream/datagram paths never need to surface.
func (w *Watcher) RecvFrom(buf []byte) (int, sockaddr.NetworkAddress, error) {
	w.home.FireHomingMissile(func() {})

	res := bridge.Submit(w.home, func() recvResult {
		if err := w.pollFor(unix.POLLIN); err != nil {
			return recvResult{err: err}
		}
		n, from, err := unix.Recvfrom(w.fd, buf, 0)
		return recvResult{n: n, addr: from, err: err}
	})

	if res.err != nil {
		return 0, sockaddr.NetworkAddress{}, neterr.FromErrno(toErrno(res.err))
	}
	return res.n, sockaddrToNetworkAddress(res.addr), nil
}

type sendResult struct {
	n   int
	err error
}

// SendTo starts a poll for writability; once ready, it performs exactly one
// non-blocking sendto of the entire contents of buf.
func (w *Watcher) SendTo(buf []byte, addr net.Addr) (int, error) {
	w.home.FireHomingMissile(func() {})

	sa, err := netAddrToSockaddr(addr)
	if err != nil {
		return 0, err
	}

	res := bridge.Submit(w.home, func() sendResult {
		if pollErr := w.pollFor(unix.POLLOUT); pollErr != nil {
			return sendResult{err: pollErr}
		}
		sErr := unix.Sendto(w.fd, buf, 0, sa)
		if sErr != nil {
			return sendResult{err: sErr}
		}
		return sendResult{n: len(buf)}
	})
	if res.err != nil {
		return 0, neterr.FromErrno(toErrno(res.err))
	}
	return res.n, nil
}

// pollFor blocks (on the goroutine bridge.Submit spawned, never on the reactor's own
// loop goroutine) until the raw fd is ready for the given event mask or returns an
// error.
func (w *Watcher) pollFor(events int16) error {
	fds := []unix.PollFd{{Fd: int32(w.fd), Events: events}}
	for {
		n, err := unix.Poll(fds, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		if n > 0 && fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
			return syscall.ECONNRESET
		}
		return nil
	}
}

// Close releases the native socket. Per spec.md §7, drop errors are silent — the
// handle closes regardless — matching tcp.Watcher/udp.Watcher/pipe.Watcher's Close.
func (w *Watcher) Close() error {
	var err error
	w.home.FireHomingMissile(func() { err = unix.Close(w.fd) })
	if err != nil {
		w.home.Reactor().Logger().Warn("rawsocket: close failed", zap.Error(err))
	}
	return nil
}

func toErrno(err error) syscall.Errno {
	if errno, ok := err.(syscall.Errno); ok {
		return errno
	}
	return syscall.EIO
}

func sockaddrToNetworkAddress(sa unix.Sockaddr) sockaddr.NetworkAddress {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return sockaddr.NetworkAddress{Family: unix.AF_INET, Addr: &net.IPAddr{IP: net.IP(v.Addr[:])}}
	case *unix.SockaddrInet6:
		return sockaddr.NetworkAddress{Family: unix.AF_INET6, Addr: &net.IPAddr{IP: net.IP(v.Addr[:])}}
	default:
		return sockaddr.NetworkAddress{}
	}
}

func netAddrToSockaddr(addr net.Addr) (unix.Sockaddr, error) {
	var ipStr string
	switch v := addr.(type) {
	case *net.IPAddr:
		ipStr = v.IP.String()
	case *net.UDPAddr:
		ipStr = v.IP.String()
	default:
		return nil, &neterr.Error{Kind: neterr.Other, Cause: errUnsupportedAddr{addr}}
	}
	ip := net.ParseIP(ipStr)
	if ip4 := ip.To4(); ip4 != nil {
		var b [4]byte
		copy(b[:], ip4)
		return &unix.SockaddrInet4{Addr: b}, nil
	}
	ip6 := ip.To16()
	if ip6 == nil {
		return nil, &neterr.Error{Kind: neterr.Other, Cause: errUnsupportedAddr{addr}}
	}
	var b [16]byte
	copy(b[:], ip6)
	return &unix.SockaddrInet6{Addr: b}, nil
}

type errUnsupportedAddr struct{ addr net.Addr }

func (e errUnsupportedAddr) Error() string { return "rawsocket: unsupported address type" }
