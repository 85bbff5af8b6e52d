package packet

import (
	"encoding/binary"
	"fmt"
	"math"
	"net/netip"
)

// UDPHeader is a decoded UDP header.
type UDPHeader struct {
	SrcPort  uint16
	DstPort  uint16
	Length   uint16
	Checksum uint16
}

// MarshalUDP encodes h followed by payload, setting Length and Checksum.
// A computed checksum of zero is sent as 0xffff.
func MarshalUDP(h *UDPHeader, src, dst netip.Addr, payload []byte) ([]byte, error) {
	total := UDPHeaderLen + len(payload)
	if total > math.MaxUint16 {
		return nil, fmt.Errorf("%w: udp datagram of %d bytes", ErrMalformed, total)
	}

	b := make([]byte, total)
	h.Length = uint16(total)
	binary.BigEndian.PutUint16(b[0:2], h.SrcPort)
	binary.BigEndian.PutUint16(b[2:4], h.DstPort)
	binary.BigEndian.PutUint16(b[4:6], h.Length)
	copy(b[UDPHeaderLen:], payload)

	sum, err := TransportChecksum(src, dst, ProtocolUDP, b)
	if err != nil {
		return nil, err
	}
	if sum == 0 {
		sum = 0xffff
	}
	binary.BigEndian.PutUint16(b[6:8], sum)
	h.Checksum = sum
	return b, nil
}

// ParseUDP decodes a UDP datagram. The payload is bounded by the Length
// field when it is shorter than b, and aliases b.
func ParseUDP(b []byte) (UDPHeader, []byte, error) {
	if len(b) < UDPHeaderLen {
		return UDPHeader{}, nil, ErrTruncated
	}
	h := UDPHeader{
		SrcPort:  binary.BigEndian.Uint16(b[0:2]),
		DstPort:  binary.BigEndian.Uint16(b[2:4]),
		Length:   binary.BigEndian.Uint16(b[4:6]),
		Checksum: binary.BigEndian.Uint16(b[6:8]),
	}
	if h.Length < UDPHeaderLen {
		return UDPHeader{}, nil, fmt.Errorf("%w: udp length %d", ErrMalformed, h.Length)
	}
	end := int(h.Length)
	if end > len(b) {
		end = len(b)
	}
	return h, b[UDPHeaderLen:end], nil
}
