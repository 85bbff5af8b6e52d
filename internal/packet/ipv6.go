package packet

import (
	"encoding/binary"
	"fmt"
	"math"
	"net/netip"
)

// IPv6Header is a decoded IPv6 fixed header. Extension headers are not
// walked; NextHeader names whatever follows the fixed header.
type IPv6Header struct {
	TrafficClass uint8
	FlowLabel    uint32
	PayloadLen   uint16
	NextHeader   uint8
	HopLimit     uint8
	Src          netip.Addr
	Dst          netip.Addr
}

// MarshalIPv6 encodes h followed by payload, setting PayloadLen.
func MarshalIPv6(h *IPv6Header, payload []byte) ([]byte, error) {
	if !h.Src.Is6() || h.Src.Is4In6() || !h.Dst.Is6() || h.Dst.Is4In6() {
		return nil, ErrAddressFamily
	}
	if len(payload) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: ipv6 payload of %d bytes", ErrMalformed, len(payload))
	}

	b := make([]byte, IPv6HeaderLen+len(payload))
	h.PayloadLen = uint16(len(payload))
	binary.BigEndian.PutUint32(b[0:4], 6<<28|uint32(h.TrafficClass)<<20|h.FlowLabel&0xfffff)
	binary.BigEndian.PutUint16(b[4:6], h.PayloadLen)
	b[6] = h.NextHeader
	b[7] = h.HopLimit
	src, dst := h.Src.As16(), h.Dst.As16()
	copy(b[8:24], src[:])
	copy(b[24:40], dst[:])
	copy(b[IPv6HeaderLen:], payload)
	return b, nil
}

// ParseIPv6 decodes an IPv6 datagram. The payload is bounded by PayloadLen
// and by len(b).
func ParseIPv6(b []byte) (IPv6Header, []byte, error) {
	if len(b) < IPv6HeaderLen {
		return IPv6Header{}, nil, ErrTruncated
	}
	word := binary.BigEndian.Uint32(b[0:4])
	if v := word >> 28; v != 6 {
		return IPv6Header{}, nil, fmt.Errorf("%w: ip version %d", ErrMalformed, v)
	}

	h := IPv6Header{
		TrafficClass: uint8(word >> 20),
		FlowLabel:    word & 0xfffff,
		PayloadLen:   binary.BigEndian.Uint16(b[4:6]),
		NextHeader:   b[6],
		HopLimit:     b[7],
		Src:          netip.AddrFrom16([16]byte(b[8:24])),
		Dst:          netip.AddrFrom16([16]byte(b[24:40])),
	}
	end := IPv6HeaderLen + int(h.PayloadLen)
	if end > len(b) {
		end = len(b)
	}
	return h, b[IPv6HeaderLen:end], nil
}
