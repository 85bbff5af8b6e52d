package packet

import (
	"encoding/binary"
	"net/netip"
)

// Checksum returns the Internet checksum (RFC 1071) of the concatenation of
// chunks: the one's complement of the one's-complement sum of 16-bit words.
// An odd trailing byte is treated as the high byte of a final word.
func Checksum(chunks ...[]byte) uint16 {
	var s summer
	for _, c := range chunks {
		s.write(c)
	}
	return s.fold()
}

// TransportChecksum computes a TCP, UDP or ICMPv6 checksum over the IPv4 or
// IPv6 pseudo-header for src and dst followed by segment. The checksum field
// inside segment must be zero, or the result is zero for a valid segment.
func TransportChecksum(src, dst netip.Addr, proto uint8, segment []byte) (uint16, error) {
	pseudo, err := pseudoHeader(src, dst, proto, len(segment))
	if err != nil {
		return 0, err
	}
	return Checksum(pseudo, segment), nil
}

// VerifyTransportChecksum reports whether segment carries a valid checksum.
func VerifyTransportChecksum(src, dst netip.Addr, proto uint8, segment []byte) bool {
	sum, err := TransportChecksum(src, dst, proto, segment)
	return err == nil && sum == 0
}

func pseudoHeader(src, dst netip.Addr, proto uint8, length int) ([]byte, error) {
	src, dst = src.Unmap(), dst.Unmap()
	switch {
	case src.Is4() && dst.Is4():
		b := make([]byte, 12)
		s, d := src.As4(), dst.As4()
		copy(b[0:4], s[:])
		copy(b[4:8], d[:])
		b[9] = proto
		binary.BigEndian.PutUint16(b[10:12], uint16(length))
		return b, nil
	case src.Is6() && dst.Is6():
		b := make([]byte, 40)
		s, d := src.As16(), dst.As16()
		copy(b[0:16], s[:])
		copy(b[16:32], d[:])
		binary.BigEndian.PutUint32(b[32:36], uint32(length))
		b[39] = proto
		return b, nil
	default:
		return nil, ErrAddressFamily
	}
}

// summer accumulates 16-bit words across chunk boundaries.
type summer struct {
	sum uint32
	odd bool
	hi  byte
}

func (s *summer) write(b []byte) {
	if s.odd && len(b) > 0 {
		s.sum += uint32(s.hi)<<8 | uint32(b[0])
		s.odd = false
		b = b[1:]
	}
	for len(b) >= 2 {
		s.sum += uint32(b[0])<<8 | uint32(b[1])
		b = b[2:]
	}
	if len(b) == 1 {
		s.hi = b[0]
		s.odd = true
	}
}

func (s *summer) fold() uint16 {
	sum := s.sum
	if s.odd {
		sum += uint32(s.hi) << 8
	}
	for sum>>16 != 0 {
		sum = sum&0xffff + sum>>16
	}
	return ^uint16(sum)
}
