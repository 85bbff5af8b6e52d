// Package transport implements the probe transports: a raw-socket
// transport for the SYN and stealth techniques, an OS dialer for connect
// scans and a UDP transport. Raw and UDP transports share a demultiplexing
// table that routes inbound packets to the probe waiting for them.
package transport

import (
	"errors"
	"math/rand/v2"
	"net/netip"
	"sync"

	"github.com/anstrom/portscope/internal/packet"
	"github.com/anstrom/portscope/internal/probe"
)

const (
	// MaxSlots bounds the number of outstanding probes per table.
	MaxSlots = 16384

	ephemeralLow = 32768
)

// ErrTableFull is returned by Reserve when every slot is in use.
var ErrTableFull = errors.New("transport: no free probe slots")

// Reservation identifies one outstanding probe. Done receives at most one
// response.
type Reservation struct {
	ID      uint16
	SrcPort uint16
	Seq     uint32
	Done    <-chan probe.Response
}

type slot struct {
	inUse     bool
	dst       netip.Addr
	port      uint16
	seq       uint32
	localPort uint16
	done      chan probe.Response
}

// Table is an arena of probe slots indexed by a compact id. The id is
// carried in the source port of outbound probes as base+id, so inbound
// replies map back to their slot without hashing. Reservations take the
// write lock, lookups from the receive loop take the read lock.
type Table struct {
	mu     sync.RWMutex
	base   uint16
	slots  []slot
	free   []uint16
	byPort map[uint16]uint16
}

// NewTable creates a table with room for capacity concurrent probes and a
// randomly chosen source port base.
func NewTable(capacity int) *Table {
	if capacity < 1 {
		capacity = 1
	}
	if capacity > MaxSlots {
		capacity = MaxSlots
	}
	span := 65536 - ephemeralLow - capacity
	base := uint16(ephemeralLow + rand.IntN(span))
	return newTableWithBase(capacity, base)
}

func newTableWithBase(capacity int, base uint16) *Table {
	t := &Table{
		base:   base,
		slots:  make([]slot, capacity),
		free:   make([]uint16, capacity),
		byPort: make(map[uint16]uint16),
	}
	// Hand out low ids first.
	for i := range t.free {
		t.free[i] = uint16(capacity - 1 - i)
	}
	return t
}

// Base returns the first source port used by the table.
func (t *Table) Base() uint16 { return t.base }

// Reserve allocates a slot for a probe to dst:port.
func (t *Table) Reserve(dst netip.Addr, port uint16) (Reservation, error) {
	return t.reserve(dst, port, 0)
}

// ReserveLocal allocates a slot for a probe whose source port was chosen by
// the OS. Replies are matched by localPort instead of the slot id.
func (t *Table) ReserveLocal(dst netip.Addr, port, localPort uint16) (Reservation, error) {
	return t.reserve(dst, port, localPort)
}

func (t *Table) reserve(dst netip.Addr, port, localPort uint16) (Reservation, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.free) == 0 {
		return Reservation{}, ErrTableFull
	}
	id := t.free[len(t.free)-1]
	t.free = t.free[:len(t.free)-1]

	done := make(chan probe.Response, 1)
	t.slots[id] = slot{
		inUse:     true,
		dst:       dst.Unmap(),
		port:      port,
		seq:       rand.Uint32(),
		localPort: localPort,
		done:      done,
	}
	if localPort != 0 {
		t.byPort[localPort] = id
	}

	return Reservation{
		ID:      id,
		SrcPort: t.base + id,
		Seq:     t.slots[id].seq,
		Done:    done,
	}, nil
}

// Release frees the slot held by r. Late replies for it are dropped.
func (t *Table) Release(r Reservation) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if int(r.ID) >= len(t.slots) || !t.slots[r.ID].inUse {
		return
	}
	if lp := t.slots[r.ID].localPort; lp != 0 {
		delete(t.byPort, lp)
	}
	t.slots[r.ID] = slot{}
	t.free = append(t.free, r.ID)
}

// Outstanding returns the number of reserved slots.
func (t *Table) Outstanding() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.slots) - len(t.free)
}

// DeliverTCP routes a TCP segment received from src to its probe. It
// reports whether a slot matched.
func (t *Table) DeliverTCP(src netip.Addr, h packet.TCPHeader) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.lookupByID(h.DstPort)
	if !ok || s.dst != src.Unmap() || s.port != h.SrcPort {
		return false
	}
	if h.Has(packet.FlagACK) && h.Ack != s.seq && h.Ack != s.seq+1 {
		return false
	}

	resp := probe.Response{
		Kind:      probe.Other,
		Flags:     h.Flags,
		Seq:       h.Seq,
		Ack:       h.Ack,
		LocalPort: h.DstPort,
	}
	switch {
	case h.Has(packet.FlagRST):
		resp.Kind = probe.Rst
	case h.Has(packet.FlagSYN | packet.FlagACK):
		resp.Kind = probe.SynAck
	}
	complete(s, resp)
	return true
}

// DeliverUnreachable routes an ICMP destination-unreachable message whose
// quoted datagram is q. code is in ICMPv4 space.
func (t *Table) DeliverUnreachable(icmpType, code uint8, q packet.Quote) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var (
		s  *slot
		ok bool
	)
	switch q.Protocol {
	case packet.ProtocolTCP:
		s, ok = t.lookupByID(q.SrcPort)
		if ok && q.Seq != s.seq {
			return false
		}
	case packet.ProtocolUDP:
		var id uint16
		if id, ok = t.byPort[q.SrcPort]; ok {
			s = &t.slots[id]
		}
	default:
		return false
	}
	if !ok || s.dst != q.Dst.Unmap() || s.port != q.DstPort {
		return false
	}

	complete(s, probe.Response{
		Kind:      probe.ICMPUnreachable,
		ICMPType:  icmpType,
		ICMPCode:  code,
		LocalPort: q.SrcPort,
	})
	return true
}

func (t *Table) lookupByID(srcPort uint16) (*slot, bool) {
	id := int(srcPort) - int(t.base)
	if id < 0 || id >= len(t.slots) || !t.slots[id].inUse {
		return nil, false
	}
	return &t.slots[id], true
}

// complete publishes resp unless the slot already has a response.
func complete(s *slot, resp probe.Response) {
	select {
	case s.done <- resp:
	default:
	}
}
