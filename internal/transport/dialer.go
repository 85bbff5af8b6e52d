package transport

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"syscall"

	"github.com/anstrom/portscope/internal/packet"
	"github.com/anstrom/portscope/internal/probe"
)

// Dialer is the connect-scan transport. The OS performs the handshake and
// its outcome is translated into the same responses a raw probe would see.
type Dialer struct {
	dialer net.Dialer
}

// NewDialer returns a connect-scan transport.
func NewDialer() *Dialer {
	return &Dialer{}
}

// Exchange attempts a full TCP connection to the request's target.
func (d *Dialer) Exchange(ctx context.Context, req probe.Request) (probe.Response, error) {
	addr := netip.AddrPortFrom(req.Target.Unmap(), req.Port).String()
	conn, err := d.dialer.DialContext(ctx, "tcp", addr)
	if err == nil {
		resp := probe.Response{Kind: probe.SynAck, Flags: packet.FlagSYN | packet.FlagACK}
		if tcp, ok := conn.(*net.TCPConn); ok {
			resp.LocalPort = uint16(tcp.LocalAddr().(*net.TCPAddr).Port)
			// Abort rather than linger in TIME_WAIT.
			_ = tcp.SetLinger(0)
		}
		_ = conn.Close()
		return resp, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return probe.Response{}, ctxErr
	}
	return dialResponse(err)
}

// Reset is a no-op; the connection was already closed.
func (d *Dialer) Reset(probe.Request, probe.Response) error {
	return nil
}

func dialResponse(err error) (probe.Response, error) {
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return probe.Response{Kind: probe.Rst, Flags: packet.FlagRST | packet.FlagACK}, nil
	case errors.Is(err, syscall.EHOSTUNREACH):
		return unreachableResponse(packet.CodeHostUnreachable), nil
	case errors.Is(err, syscall.ENETUNREACH):
		return unreachableResponse(packet.CodeNetUnreachable), nil
	case errors.Is(err, syscall.ETIMEDOUT):
		return probe.Response{Kind: probe.NoResponse}, nil
	}
	return probe.Response{}, err
}

func unreachableResponse(code uint8) probe.Response {
	return probe.Response{
		Kind:     probe.ICMPUnreachable,
		ICMPType: packet.ICMPv4DestUnreachable,
		ICMPCode: code,
	}
}

// Close is a no-op; the dialer holds no shared sockets.
func (d *Dialer) Close() error {
	return nil
}
