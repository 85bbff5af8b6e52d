package packet

import (
	"encoding/binary"
	"fmt"
	"math"
	"net/netip"
)

// IPv4 flag bits as carried in the top three bits of the fragment field.
const (
	IPv4DontFragment  uint8 = 0x2
	IPv4MoreFragments uint8 = 0x1
)

// IPv4Header is a decoded IPv4 header.
type IPv4Header struct {
	TOS        uint8
	TotalLen   uint16
	ID         uint16
	Flags      uint8
	FragOffset uint16
	TTL        uint8
	Protocol   uint8
	Checksum   uint16
	Src        netip.Addr
	Dst        netip.Addr
	Options    []byte
}

// Len returns the encoded header length in bytes.
func (h *IPv4Header) Len() int {
	return IPv4HeaderLen + (len(h.Options)+3)&^3
}

// MarshalIPv4 encodes h followed by payload, setting TotalLen and the
// header checksum.
func MarshalIPv4(h *IPv4Header, payload []byte) ([]byte, error) {
	if !h.Src.Unmap().Is4() || !h.Dst.Unmap().Is4() {
		return nil, ErrAddressFamily
	}
	hdrLen := h.Len()
	if hdrLen > 60 {
		return nil, fmt.Errorf("%w: ipv4 options exceed 40 bytes", ErrMalformed)
	}
	total := hdrLen + len(payload)
	if total > math.MaxUint16 {
		return nil, fmt.Errorf("%w: ipv4 datagram of %d bytes", ErrMalformed, total)
	}

	b := make([]byte, total)
	h.TotalLen = uint16(total)
	b[0] = 4<<4 | uint8(hdrLen/4)
	b[1] = h.TOS
	binary.BigEndian.PutUint16(b[2:4], h.TotalLen)
	binary.BigEndian.PutUint16(b[4:6], h.ID)
	binary.BigEndian.PutUint16(b[6:8], uint16(h.Flags&0x7)<<13|h.FragOffset&0x1fff)
	b[8] = h.TTL
	b[9] = h.Protocol
	src, dst := h.Src.Unmap().As4(), h.Dst.Unmap().As4()
	copy(b[12:16], src[:])
	copy(b[16:20], dst[:])
	copy(b[IPv4HeaderLen:hdrLen], h.Options)

	h.Checksum = Checksum(b[:hdrLen])
	binary.BigEndian.PutUint16(b[10:12], h.Checksum)
	copy(b[hdrLen:], payload)
	return b, nil
}

// ParseIPv4 decodes an IPv4 datagram. The payload is bounded by TotalLen
// and by len(b), so a datagram quoted inside an ICMP error yields whatever
// part of its payload was quoted.
func ParseIPv4(b []byte) (IPv4Header, []byte, error) {
	if len(b) < IPv4HeaderLen {
		return IPv4Header{}, nil, ErrTruncated
	}
	if v := b[0] >> 4; v != 4 {
		return IPv4Header{}, nil, fmt.Errorf("%w: ip version %d", ErrMalformed, v)
	}
	hdrLen := int(b[0]&0x0f) * 4
	if hdrLen < IPv4HeaderLen {
		return IPv4Header{}, nil, fmt.Errorf("%w: ipv4 ihl %d", ErrMalformed, hdrLen/4)
	}
	if len(b) < hdrLen {
		return IPv4Header{}, nil, ErrTruncated
	}

	frag := binary.BigEndian.Uint16(b[6:8])
	h := IPv4Header{
		TOS:        b[1],
		TotalLen:   binary.BigEndian.Uint16(b[2:4]),
		ID:         binary.BigEndian.Uint16(b[4:6]),
		Flags:      uint8(frag >> 13),
		FragOffset: frag & 0x1fff,
		TTL:        b[8],
		Protocol:   b[9],
		Checksum:   binary.BigEndian.Uint16(b[10:12]),
		Src:        netip.AddrFrom4([4]byte(b[12:16])),
		Dst:        netip.AddrFrom4([4]byte(b[16:20])),
	}
	if hdrLen > IPv4HeaderLen {
		h.Options = b[IPv4HeaderLen:hdrLen]
	}

	end := int(h.TotalLen)
	if end < hdrLen {
		return IPv4Header{}, nil, fmt.Errorf("%w: ipv4 total length %d", ErrMalformed, h.TotalLen)
	}
	if end > len(b) {
		end = len(b)
	}
	return h, b[hdrLen:end], nil
}
