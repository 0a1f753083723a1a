package transport

import (
	"context"
	"net"
	"net/netip"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listenLoopback(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := ListenSignaling(context.Background(), "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestPeek_DoesNotConsume(t *testing.T) {
	conn := listenLoopback(t)
	sender := listenLoopback(t)

	require.NoError(t, SendHeader(sender, AddrPortOf(conn.LocalAddr()), RingHeader))

	buf := make([]byte, MaxDatagram)
	require.Eventually(t, func() bool {
		n, _, err := Peek(conn, buf)
		return err == nil && n == HeaderSize
	}, time.Second, 5*time.Millisecond)

	n, from, err := Peek(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, HeaderSize, n)
	assert.Equal(t, AddrPortOf(sender.LocalAddr()), from)

	n, from, err = ReadDatagram(conn, buf, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, HeaderSize, n)
	assert.Equal(t, AddrPortOf(sender.LocalAddr()), from)

	_, _, err = Peek(conn, buf)
	assert.True(t, IsWouldBlock(err), "queue should be empty, got %v", err)
}

func TestPeekWait(t *testing.T) {
	conn := listenLoopback(t)
	sender := listenLoopback(t)
	buf := make([]byte, MaxDatagram)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(20*time.Millisecond)))
	_, _, err := PeekWait(conn, buf)
	assert.True(t, IsTimeout(err), "expected deadline expiry, got %v", err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	go func() {
		time.Sleep(20 * time.Millisecond)
		SendHeader(sender, AddrPortOf(conn.LocalAddr()), AcceptHeader)
	}()
	n, from, err := PeekWait(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, HeaderSize, n)
	assert.Equal(t, AddrPortOf(sender.LocalAddr()), from)
	require.NoError(t, conn.SetReadDeadline(time.Time{}))

	// Still queued.
	_, from, err = ReadDatagram(conn, buf, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, AddrPortOf(sender.LocalAddr()), from)
}

func TestReadDatagram_Timeout(t *testing.T) {
	conn := listenLoopback(t)

	_, _, err := ReadDatagram(conn, make([]byte, MaxDatagram), 10*time.Millisecond)
	assert.True(t, IsTimeout(err))
}

func TestDialPeer_ConnectedSend(t *testing.T) {
	peer := listenLoopback(t)
	port := AddrPortOf(peer.LocalAddr()).Port()

	conn, err := DialPeer(context.Background(), "127.0.0.1", strconv.Itoa(int(port)))
	require.NoError(t, err)
	defer conn.Close()

	// The peer argument is ignored on a connected socket.
	require.NoError(t, SendHeader(conn, netip.AddrPort{}, FinHeader))

	buf := make([]byte, MaxDatagram)
	n, from, err := ReadDatagram(peer, buf, time.Second)
	require.NoError(t, err)
	assert.Equal(t, AddrPortOf(conn.LocalAddr()), from)

	h, err := ParseHeader(buf[:n])
	require.NoError(t, err)
	assert.True(t, h.Fin)
}

func TestFD(t *testing.T) {
	conn := listenLoopback(t)
	fd, err := FD(conn)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, fd, 0)
}

func TestSameAddr_MappedIPv4(t *testing.T) {
	plain := netip.MustParseAddrPort("192.0.2.1:30111")
	mapped := netip.MustParseAddrPort("[::ffff:192.0.2.1]:30111")

	assert.True(t, SameAddr(plain, mapped))
	assert.False(t, SameAddr(plain, netip.MustParseAddrPort("192.0.2.1:30112")))
}
