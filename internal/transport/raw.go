package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv6"

	scanerrors "github.com/anstrom/portscope/internal/errors"
	"github.com/anstrom/portscope/internal/logging"
	"github.com/anstrom/portscope/internal/packet"
	"github.com/anstrom/portscope/internal/probe"
)

const (
	probeWindow = 1024
	probeTTL    = 64
	readBufSize = 65535
)

// event is one parsed inbound packet handed from a reader to the demux loop.
type event struct {
	src      netip.Addr
	tcp      packet.TCPHeader
	isICMP   bool
	icmpType uint8
	code     uint8
	quote    packet.Quote
}

// Raw is the transport for the SYN, FIN, Xmas and Null techniques. It owns
// one raw TCP socket and one ICMP listener for the target's address family.
type Raw struct {
	target  netip.Addr
	source  netip.Addr
	v6      bool
	hdrincl bool

	tcp   *net.IPConn
	icmp  *icmp.PacketConn
	table *Table

	logger *logging.Logger
	events chan event
	ipID   atomic.Uint32

	readers   sync.WaitGroup
	demux     sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// NewRaw opens the raw sockets used to probe target. capacity is the
// largest number of probes that will be outstanding at once.
func NewRaw(target netip.Addr, capacity int, logger *logging.Logger) (*Raw, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	target = target.Unmap()
	host := target.String()

	source, err := LocalAddrFor(target)
	if err != nil {
		return nil, scanerrors.ErrSocket(host, "select source address", err)
	}

	r := &Raw{
		target: target,
		source: source,
		v6:     target.Is6(),
		table:  NewTable(capacity),
		logger: logger.WithComponent("raw_transport").WithTarget(host),
		events: make(chan event, 256),
	}

	tcpNet, icmpNet, wildcard := "ip4:tcp", "ip4:icmp", "0.0.0.0"
	if r.v6 {
		tcpNet, icmpNet, wildcard = "ip6:tcp", "ip6:ipv6-icmp", "::"
	}

	pc, err := net.ListenPacket(tcpNet, wildcard)
	if err != nil {
		return nil, scanerrors.ErrSocket(host, "open raw tcp socket", err)
	}
	r.tcp = pc.(*net.IPConn)

	if !r.v6 {
		if r.hdrincl, err = setHeaderInclude(r.tcp); err != nil {
			_ = r.tcp.Close()
			return nil, scanerrors.ErrSocket(host, "set IP_HDRINCL", err)
		}
	}

	if r.icmp, err = icmp.ListenPacket(icmpNet, wildcard); err != nil {
		_ = r.tcp.Close()
		return nil, scanerrors.ErrSocket(host, "open icmp listener", err)
	}
	if r.v6 {
		var f ipv6.ICMPFilter
		f.SetAll(true)
		f.Accept(ipv6.ICMPTypeDestinationUnreachable)
		if err := r.icmp.IPv6PacketConn().SetICMPFilter(&f); err != nil {
			r.logger.Debug("ICMPv6 filter not applied", "error", err)
		}
	}

	r.readers.Add(2)
	go r.readTCP()
	go r.readICMP()
	r.demux.Add(1)
	go r.demuxLoop()
	go func() {
		r.readers.Wait()
		close(r.events)
	}()

	r.logger.Debug("Raw transport opened",
		"source", source.String(),
		"header_include", r.hdrincl,
		"source_port_base", r.table.Base())
	return r, nil
}

// Exchange sends one probe segment and waits for its correlated reply.
func (r *Raw) Exchange(ctx context.Context, req probe.Request) (probe.Response, error) {
	res, err := r.table.Reserve(req.Target, req.Port)
	if err != nil {
		return probe.Response{}, err
	}
	defer r.table.Release(res)

	h := packet.TCPHeader{
		SrcPort: res.SrcPort,
		DstPort: req.Port,
		Seq:     res.Seq,
		Flags:   req.Technique.TCPFlags(),
		Window:  probeWindow,
	}
	if err := r.send(req.Target, &h); err != nil {
		return probe.Response{}, err
	}

	select {
	case resp := <-res.Done:
		return resp, nil
	case <-ctx.Done():
		return probe.Response{}, ctx.Err()
	}
}

// Reset answers a SYN/ACK with RST so the target drops the half-open
// connection.
func (r *Raw) Reset(req probe.Request, resp probe.Response) error {
	h := packet.TCPHeader{
		SrcPort: resp.LocalPort,
		DstPort: req.Port,
		Seq:     resp.Ack,
		Flags:   packet.FlagRST,
	}
	return r.send(req.Target, &h)
}

func (r *Raw) send(dst netip.Addr, h *packet.TCPHeader) error {
	dst = dst.Unmap()
	seg, err := packet.MarshalTCP(h, r.source, dst, nil)
	if err != nil {
		return err
	}

	out := seg
	if r.hdrincl {
		ip := packet.IPv4Header{
			ID:       uint16(r.ipID.Add(1)),
			TTL:      probeTTL,
			Protocol: packet.ProtocolTCP,
			Src:      r.source,
			Dst:      dst,
		}
		if out, err = packet.MarshalIPv4(&ip, seg); err != nil {
			return err
		}
	}

	if _, err := r.tcp.WriteTo(out, &net.IPAddr{IP: dst.AsSlice()}); err != nil {
		return fmt.Errorf("send probe to %s:%d: %w", dst, h.DstPort, err)
	}
	return nil
}

func (r *Raw) readTCP() {
	defer r.readers.Done()
	buf := make([]byte, readBufSize)
	for {
		n, addr, err := r.tcp.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}
		ipAddr, ok := addr.(*net.IPAddr)
		if !ok {
			continue
		}
		src, ok := netip.AddrFromSlice(ipAddr.IP)
		if !ok {
			continue
		}
		h, _, err := packet.ParseTCP(buf[:n])
		if err != nil {
			continue
		}
		r.events <- event{src: src.Unmap(), tcp: h}
	}
}

func (r *Raw) readICMP() {
	defer r.readers.Done()
	readUnreachable(r.icmp, r.v6, func(ev event) { r.events <- ev })
}

func (r *Raw) demuxLoop() {
	defer r.demux.Done()
	var dropped uint64
	for ev := range r.events {
		var matched bool
		if ev.isICMP {
			matched = r.table.DeliverUnreachable(ev.icmpType, ev.code, ev.quote)
		} else {
			matched = r.table.DeliverTCP(ev.src, ev.tcp)
		}
		if !matched {
			dropped++
		}
	}
	r.logger.Debug("Raw transport demux stopped", "unmatched_packets", dropped)
}

// Close closes both sockets and waits for the receive loops to exit.
func (r *Raw) Close() error {
	r.closeOnce.Do(func() {
		r.closeErr = errors.Join(r.tcp.Close(), r.icmp.Close())
		r.demux.Wait()
	})
	return r.closeErr
}

// readUnreachable reads ICMP messages until conn is closed and passes every
// destination-unreachable message to deliver.
func readUnreachable(conn *icmp.PacketConn, v6 bool, deliver func(event)) {
	buf := make([]byte, readBufSize)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}
		icmpType := packet.ICMPv4DestUnreachable
		if v6 {
			icmpType = packet.ICMPv6DestUnreachable
		}
		code, q, err := packet.ParseUnreachable(buf[:n], v6)
		if err != nil {
			continue
		}
		deliver(event{isICMP: true, icmpType: icmpType, code: code, quote: q})
	}
}
