package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// MaxDatagram bounds every receive buffer used by the engine. A transsip
// datagram is HeaderSize plus one fixed-size codec payload, far below it.
const MaxDatagram = 1500

// ListenSignaling binds the signaling socket that receives inbound call
// requests. Path MTU discovery is disabled on it.
func ListenSignaling(ctx context.Context, address string) (*net.UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(network, _ string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				setDontFragment(network, int(fd))
			})
		},
	}

	pc, err := lc.ListenPacket(ctx, "udp", address)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", address, err)
	}

	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, ErrNotUDP
	}

	logrus.WithFields(logrus.Fields{
		"function":   "ListenSignaling",
		"local_addr": conn.LocalAddr().String(),
	}).Info("Signaling socket bound")

	return conn, nil
}

// DialPeer resolves host:port with any address family and returns a UDP
// socket connected to the first address that accepts a connect. Keep-alive
// is set and path MTU discovery disabled.
func DialPeer(ctx context.Context, host, port string) (*net.UDPConn, error) {
	d := net.Dialer{
		Control: func(network, _ string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				setKeepAlive(int(fd))
				setDontFragment(network, int(fd))
			})
		},
	}

	target := net.JoinHostPort(host, port)
	c, err := d.DialContext(ctx, "udp", target)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}

	conn, ok := c.(*net.UDPConn)
	if !ok {
		c.Close()
		return nil, ErrNotUDP
	}

	logrus.WithFields(logrus.Fields{
		"function":    "DialPeer",
		"target":      target,
		"local_addr":  conn.LocalAddr().String(),
		"remote_addr": conn.RemoteAddr().String(),
	}).Debug("Peer socket connected")

	return conn, nil
}

// FD returns the descriptor behind c for use in poll sets. The descriptor
// stays valid until c is closed.
func FD(c syscall.Conn) (int, error) {
	raw, err := c.SyscallConn()
	if err != nil {
		return -1, err
	}

	fd := -1
	if err := raw.Control(func(f uintptr) { fd = int(f) }); err != nil {
		return -1, err
	}
	return fd, nil
}

// Peek copies the next datagram queued on conn into buf without consuming
// it. It never blocks; with nothing queued it returns unix.EAGAIN.
func Peek(conn *net.UDPConn, buf []byte) (int, netip.AddrPort, error) {
	return peek(conn, buf, false)
}

// PeekWait is Peek that waits for a datagram until the read deadline of
// conn passes.
func PeekWait(conn *net.UDPConn, buf []byte) (int, netip.AddrPort, error) {
	return peek(conn, buf, true)
}

func peek(conn *net.UDPConn, buf []byte, wait bool) (int, netip.AddrPort, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return 0, netip.AddrPort{}, err
	}

	var (
		n       int
		from    unix.Sockaddr
		peekErr error
	)
	err = raw.Read(func(fd uintptr) bool {
		n, from, peekErr = unix.Recvfrom(int(fd), buf, unix.MSG_PEEK|unix.MSG_DONTWAIT)
		// Returning false parks the goroutine until fd is readable again.
		return !wait || !IsWouldBlock(peekErr)
	})
	if err != nil {
		return 0, netip.AddrPort{}, err
	}
	if peekErr != nil {
		return 0, netip.AddrPort{}, peekErr
	}

	return n, sockaddrToAddrPort(from), nil
}

func sockaddrToAddrPort(sa unix.Sockaddr) netip.AddrPort {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(a.Addr), uint16(a.Port))
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(a.Addr).Unmap(), uint16(a.Port))
	}
	return netip.AddrPort{}
}

// ReadDatagram consumes one datagram from conn. The caller has already seen
// the socket readable; grace bounds the wait if that readiness was spurious.
func ReadDatagram(conn *net.UDPConn, buf []byte, grace time.Duration) (int, netip.AddrPort, error) {
	if err := conn.SetReadDeadline(time.Now().Add(grace)); err != nil {
		return 0, netip.AddrPort{}, err
	}

	n, from, err := conn.ReadFromUDPAddrPort(buf)
	if err != nil {
		return 0, netip.AddrPort{}, err
	}
	return n, Canonical(from), nil
}

// Send writes b to peer. Connected sockets ignore peer and use their fixed
// remote address.
func Send(conn *net.UDPConn, peer netip.AddrPort, b []byte) error {
	if conn.RemoteAddr() != nil {
		_, err := conn.Write(b)
		return err
	}
	_, err := conn.WriteToUDPAddrPort(b, peer)
	return err
}

// SendHeader encodes h and sends it to peer.
func SendHeader(conn *net.UDPConn, peer netip.AddrPort, h Header) error {
	return Send(conn, peer, h.Marshal())
}

// Canonical strips IPv4-in-IPv6 mapping so addresses seen on dual-stack and
// IPv4 sockets compare equal.
func Canonical(ap netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}

// AddrPortOf converts a UDP net.Addr into its canonical netip form.
func AddrPortOf(addr net.Addr) netip.AddrPort {
	if ua, ok := addr.(*net.UDPAddr); ok {
		return Canonical(ua.AddrPort())
	}
	ap, err := netip.ParseAddrPort(addr.String())
	if err != nil {
		return netip.AddrPort{}
	}
	return Canonical(ap)
}

// SameAddr reports whether a and b name the same transport endpoint.
func SameAddr(a, b netip.AddrPort) bool {
	return Canonical(a) == Canonical(b)
}

// IsTimeout reports whether err is a deadline expiry.
func IsTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// IsWouldBlock reports whether err means no datagram was queued.
func IsWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}
