package transport

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync"
	"syscall"

	"golang.org/x/net/icmp"

	scanerrors "github.com/anstrom/portscope/internal/errors"
	"github.com/anstrom/portscope/internal/logging"
	"github.com/anstrom/portscope/internal/packet"
	"github.com/anstrom/portscope/internal/probe"
)

const udpReadBufSize = 4096

// UDP is the UDP-scan transport. Each probe uses its own connected socket,
// so the kernel reports ICMP port-unreachable as ECONNREFUSED on that
// socket. With raw privilege an ICMP listener additionally catches the
// other unreachable codes, matched by the probe's local port.
type UDP struct {
	table  *Table
	icmp   *icmp.PacketConn
	logger *logging.Logger

	loop      sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// NewUDP creates a UDP transport for target. listenICMP requires raw-socket
// capability.
func NewUDP(target netip.Addr, listenICMP bool, capacity int, logger *logging.Logger) (*UDP, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	target = target.Unmap()
	u := &UDP{logger: logger.WithComponent("udp_transport").WithTarget(target.String())}
	if !listenICMP {
		return u, nil
	}

	network, wildcard := "ip4:icmp", "0.0.0.0"
	v6 := target.Is6()
	if v6 {
		network, wildcard = "ip6:ipv6-icmp", "::"
	}
	conn, err := icmp.ListenPacket(network, wildcard)
	if err != nil {
		return nil, scanerrors.ErrSocket(target.String(), "open icmp listener", err)
	}

	u.icmp = conn
	u.table = NewTable(capacity)
	u.loop.Add(1)
	go func() {
		defer u.loop.Done()
		readUnreachable(conn, v6, func(ev event) {
			u.table.DeliverUnreachable(ev.icmpType, ev.code, ev.quote)
		})
	}()
	return u, nil
}

type udpRead struct {
	payload []byte
	err     error
}

// Exchange sends req.Payload in one datagram and waits for a reply, an
// unreachable report or the context to end.
func (u *UDP) Exchange(ctx context.Context, req probe.Request) (probe.Response, error) {
	raddr := net.UDPAddrFromAddrPort(netip.AddrPortFrom(req.Target.Unmap(), req.Port))
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return probe.Response{}, err
	}
	defer conn.Close()

	localPort := uint16(conn.LocalAddr().(*net.UDPAddr).Port)

	var icmpDone <-chan probe.Response
	if u.table != nil {
		res, err := u.table.ReserveLocal(req.Target, req.Port, localPort)
		if err != nil {
			return probe.Response{}, err
		}
		defer u.table.Release(res)
		icmpDone = res.Done
	}

	if _, err := conn.Write(req.Payload); err != nil {
		if errors.Is(err, syscall.ECONNREFUSED) {
			return portUnreachable(localPort), nil
		}
		return probe.Response{}, err
	}

	reads := make(chan udpRead, 1)
	go func() {
		buf := make([]byte, udpReadBufSize)
		n, err := conn.Read(buf)
		reads <- udpRead{payload: buf[:n], err: err}
	}()

	for {
		select {
		case r := <-reads:
			switch {
			case r.err == nil:
				return probe.Response{Kind: probe.Data, Payload: r.payload, LocalPort: localPort}, nil
			case errors.Is(r.err, syscall.ECONNREFUSED):
				return portUnreachable(localPort), nil
			}
			// Any other read error leaves the ICMP listener or the
			// deadline to decide.
			reads = nil
		case resp := <-icmpDone:
			return resp, nil
		case <-ctx.Done():
			return probe.Response{}, ctx.Err()
		}
	}
}

// Reset is a no-op for UDP.
func (u *UDP) Reset(probe.Request, probe.Response) error {
	return nil
}

// Close stops the ICMP listener, if any.
func (u *UDP) Close() error {
	u.closeOnce.Do(func() {
		if u.icmp != nil {
			u.closeErr = u.icmp.Close()
			u.loop.Wait()
		}
	})
	return u.closeErr
}

func portUnreachable(localPort uint16) probe.Response {
	resp := unreachableResponse(packet.CodePortUnreachable)
	resp.LocalPort = localPort
	return resp
}
