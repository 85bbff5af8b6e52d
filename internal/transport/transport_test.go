package transport

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/portscope/internal/packet"
	"github.com/anstrom/portscope/internal/probe"
)

var loopback = netip.MustParseAddr("127.0.0.1")

// closedTCPPort returns a loopback port with nothing listening on it.
func closedTCPPort(t *testing.T) uint16 {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return uint16(port)
}

func listenTCP(t *testing.T) uint16 {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()
	return uint16(l.Addr().(*net.TCPAddr).Port)
}

func TestDialerOpenAndClosed(t *testing.T) {
	d := NewDialer()
	defer d.Close()

	open := listenTCP(t)
	resp, err := d.Exchange(context.Background(), probe.Request{Target: loopback, Port: open, Technique: probe.Connect})
	require.NoError(t, err)
	assert.Equal(t, probe.SynAck, resp.Kind)
	assert.NotZero(t, resp.LocalPort)
	assert.NoError(t, d.Reset(probe.Request{}, resp))

	resp, err = d.Exchange(context.Background(), probe.Request{Target: loopback, Port: closedTCPPort(t), Technique: probe.Connect})
	require.NoError(t, err)
	assert.Equal(t, probe.Rst, resp.Kind)
	assert.Equal(t, probe.Closed, probe.Classify(probe.Connect, resp))
}

func TestDialerCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewDialer().Exchange(ctx, probe.Request{Target: loopback, Port: 1, Technique: probe.Connect})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDialResponse(t *testing.T) {
	wrap := func(errno syscall.Errno) error {
		return &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", errno)}
	}

	tests := []struct {
		name string
		err  error
		kind probe.ResponseKind
		code uint8
	}{
		{"refused", wrap(syscall.ECONNREFUSED), probe.Rst, 0},
		{"host unreachable", wrap(syscall.EHOSTUNREACH), probe.ICMPUnreachable, packet.CodeHostUnreachable},
		{"net unreachable", wrap(syscall.ENETUNREACH), probe.ICMPUnreachable, packet.CodeNetUnreachable},
		{"os timeout", wrap(syscall.ETIMEDOUT), probe.NoResponse, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := dialResponse(tt.err)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, resp.Kind)
			assert.Equal(t, tt.code, resp.ICMPCode)
		})
	}

	other := fmt.Errorf("dial: %w", syscall.EMFILE)
	_, err := dialResponse(other)
	assert.ErrorIs(t, err, syscall.EMFILE)
}

func udpServer(t *testing.T, reply bool) uint16 {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	go func() {
		buf := make([]byte, 1500)
		for {
			n, addr, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			if reply {
				_, _ = conn.WriteToUDP(append([]byte("echo:"), buf[:n]...), addr)
			}
		}
	}()
	return uint16(conn.LocalAddr().(*net.UDPAddr).Port)
}

func closedUDPPort(t *testing.T) uint16 {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	port := conn.LocalAddr().(*net.UDPAddr).Port
	require.NoError(t, conn.Close())
	return uint16(port)
}

func TestUDPExchange(t *testing.T) {
	u, err := NewUDP(loopback, false, 16, nil)
	require.NoError(t, err)
	defer u.Close()

	t.Run("reply is data", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		resp, err := u.Exchange(ctx, probe.Request{Target: loopback, Port: udpServer(t, true), Technique: probe.UDP, Payload: []byte("hi")})
		require.NoError(t, err)
		assert.Equal(t, probe.Data, resp.Kind)
		assert.Equal(t, []byte("echo:hi"), resp.Payload)
		assert.Equal(t, probe.Open, probe.Classify(probe.UDP, resp))
	})

	t.Run("closed port is port unreachable", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		resp, err := u.Exchange(ctx, probe.Request{Target: loopback, Port: closedUDPPort(t), Technique: probe.UDP})
		require.NoError(t, err)
		assert.Equal(t, probe.ICMPUnreachable, resp.Kind)
		assert.Equal(t, packet.CodePortUnreachable, resp.ICMPCode)
		assert.Equal(t, probe.Closed, probe.Classify(probe.UDP, resp))
	})

	t.Run("silent port waits for the deadline", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		_, err := u.Exchange(ctx, probe.Request{Target: loopback, Port: udpServer(t, false), Technique: probe.UDP})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestLocalAddrFor(t *testing.T) {
	addr, err := LocalAddrFor(loopback)
	require.NoError(t, err)
	assert.Equal(t, loopback, addr)
}

func TestOpen(t *testing.T) {
	s, err := Open(probe.Connect, loopback, 10, false, nil)
	require.NoError(t, err)
	assert.IsType(t, &Dialer{}, s)
	assert.NoError(t, s.Close())

	s, err = Open(probe.UDP, loopback, 10, false, nil)
	require.NoError(t, err)
	assert.IsType(t, &UDP{}, s)
	assert.NoError(t, s.Close())

	_, err = Open(probe.Technique(0), loopback, 10, false, nil)
	assert.Error(t, err)
}

func TestRawLoopback(t *testing.T) {
	if !CanOpenRawSockets() {
		t.Skip("raw sockets require elevated privileges")
	}
	r, err := NewRaw(loopback, 8, nil)
	if err != nil {
		t.Skipf("raw transport unavailable: %v", err)
	}
	defer r.Close()

	ctx := context.Background()
	open := listenTCP(t)
	req := probe.Request{Target: loopback, Port: open, Technique: probe.Syn, Timeout: time.Second}
	out := probe.Run(ctx, r, req, nil)
	assert.Equal(t, probe.Open, out.State)

	req.Port = closedTCPPort(t)
	out = probe.Run(ctx, r, req, nil)
	assert.Equal(t, probe.Closed, out.State)

	req.Technique = probe.Null
	out = probe.Run(ctx, r, req, nil)
	assert.Equal(t, probe.Closed, out.State)

	assert.NoError(t, r.Close())
	assert.NoError(t, r.Close(), "close is idempotent")
}
