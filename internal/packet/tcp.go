package packet

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"strings"
)

// TCPHeader is a decoded TCP header. Options are padded to a 4-byte
// boundary when encoded; the data offset is derived from their length.
type TCPHeader struct {
	SrcPort  uint16
	DstPort  uint16
	Seq      uint32
	Ack      uint32
	Flags    uint8
	Window   uint16
	Checksum uint16
	Urgent   uint16
	Options  []byte
}

// Len returns the encoded header length in bytes.
func (h *TCPHeader) Len() int {
	return TCPHeaderLen + (len(h.Options)+3)&^3
}

// Has reports whether every bit in flags is set.
func (h *TCPHeader) Has(flags uint8) bool {
	return h.Flags&flags == flags
}

// MarshalTCP encodes h followed by payload and fills h.Checksum using the
// pseudo-header for src and dst.
func MarshalTCP(h *TCPHeader, src, dst netip.Addr, payload []byte) ([]byte, error) {
	hdrLen := h.Len()
	if hdrLen > 60 {
		return nil, fmt.Errorf("%w: tcp options exceed 40 bytes", ErrMalformed)
	}

	b := make([]byte, hdrLen+len(payload))
	binary.BigEndian.PutUint16(b[0:2], h.SrcPort)
	binary.BigEndian.PutUint16(b[2:4], h.DstPort)
	binary.BigEndian.PutUint32(b[4:8], h.Seq)
	binary.BigEndian.PutUint32(b[8:12], h.Ack)
	b[12] = uint8(hdrLen/4) << 4
	b[13] = h.Flags
	binary.BigEndian.PutUint16(b[14:16], h.Window)
	binary.BigEndian.PutUint16(b[18:20], h.Urgent)
	copy(b[TCPHeaderLen:], h.Options)
	copy(b[hdrLen:], payload)

	sum, err := TransportChecksum(src, dst, ProtocolTCP, b)
	if err != nil {
		return nil, err
	}
	binary.BigEndian.PutUint16(b[16:18], sum)
	h.Checksum = sum
	return b, nil
}

// ParseTCP decodes a TCP segment. The returned options and payload alias b.
func ParseTCP(b []byte) (TCPHeader, []byte, error) {
	if len(b) < TCPHeaderLen {
		return TCPHeader{}, nil, ErrTruncated
	}
	hdrLen := int(b[12]>>4) * 4
	if hdrLen < TCPHeaderLen {
		return TCPHeader{}, nil, fmt.Errorf("%w: tcp data offset %d", ErrMalformed, hdrLen/4)
	}
	if len(b) < hdrLen {
		return TCPHeader{}, nil, ErrTruncated
	}

	h := TCPHeader{
		SrcPort:  binary.BigEndian.Uint16(b[0:2]),
		DstPort:  binary.BigEndian.Uint16(b[2:4]),
		Seq:      binary.BigEndian.Uint32(b[4:8]),
		Ack:      binary.BigEndian.Uint32(b[8:12]),
		Flags:    b[13],
		Window:   binary.BigEndian.Uint16(b[14:16]),
		Checksum: binary.BigEndian.Uint16(b[16:18]),
		Urgent:   binary.BigEndian.Uint16(b[18:20]),
	}
	if hdrLen > TCPHeaderLen {
		h.Options = b[TCPHeaderLen:hdrLen]
	}
	return h, b[hdrLen:], nil
}

// FlagString renders flags nmap-style, e.g. "SA" for SYN+ACK.
func FlagString(flags uint8) string {
	if flags == 0 {
		return "none"
	}
	names := []struct {
		bit  uint8
		name byte
	}{
		{FlagCWR, 'C'}, {FlagECE, 'E'}, {FlagURG, 'U'}, {FlagACK, 'A'},
		{FlagPSH, 'P'}, {FlagRST, 'R'}, {FlagSYN, 'S'}, {FlagFIN, 'F'},
	}
	var b strings.Builder
	for _, n := range names {
		if flags&n.bit != 0 {
			b.WriteByte(n.name)
		}
	}
	return b.String()
}
