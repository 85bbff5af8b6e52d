package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
)

// ICMP message types.
const (
	ICMPv4EchoReply       uint8 = 0
	ICMPv4DestUnreachable uint8 = 3
	ICMPv4Echo            uint8 = 8
	ICMPv4TimeExceeded    uint8 = 11

	ICMPv6DestUnreachable uint8 = 1
	ICMPv6EchoRequest     uint8 = 128
	ICMPv6EchoReply       uint8 = 129
)

// ICMPv4 destination unreachable codes. ICMPv6 codes are normalized into
// this space by NormalizeICMPv6Code.
const (
	CodeNetUnreachable      uint8 = 0
	CodeHostUnreachable     uint8 = 1
	CodeProtocolUnreachable uint8 = 2
	CodePortUnreachable     uint8 = 3
	CodeFragmentationNeeded uint8 = 4
	CodeNetProhibited       uint8 = 9
	CodeHostProhibited      uint8 = 10
	CodeAdminProhibited     uint8 = 13
)

// ICMPv6 destination unreachable codes (RFC 4443).
const (
	CodeV6NoRoute          uint8 = 0
	CodeV6AdminProhibited  uint8 = 1
	CodeV6BeyondScope      uint8 = 2
	CodeV6AddrUnreachable  uint8 = 3
	CodeV6PortUnreachable  uint8 = 4
	CodeV6SourcePolicyFail uint8 = 5
	CodeV6RejectRoute      uint8 = 6
)

// ErrNotUnreachable is returned by ParseUnreachable for any other ICMP type.
var ErrNotUnreachable = errors.New("packet: not a destination unreachable message")

// ICMPMessage is a decoded ICMP message. Rest holds the four bytes after
// the checksum (identifier and sequence for echo, unused for errors).
type ICMPMessage struct {
	Type     uint8
	Code     uint8
	Checksum uint16
	Rest     uint32
	Body     []byte
}

// MarshalICMPv4 encodes m and fills its checksum over the message.
func MarshalICMPv4(m *ICMPMessage) []byte {
	b := m.encode()
	m.Checksum = Checksum(b)
	binary.BigEndian.PutUint16(b[2:4], m.Checksum)
	return b
}

// MarshalICMPv6 encodes m and fills its checksum over the IPv6
// pseudo-header for src and dst.
func MarshalICMPv6(m *ICMPMessage, src, dst netip.Addr) ([]byte, error) {
	b := m.encode()
	sum, err := TransportChecksum(src, dst, ProtocolICMPv6, b)
	if err != nil {
		return nil, err
	}
	m.Checksum = sum
	binary.BigEndian.PutUint16(b[2:4], sum)
	return b, nil
}

func (m *ICMPMessage) encode() []byte {
	b := make([]byte, ICMPHeaderLen+len(m.Body))
	b[0] = m.Type
	b[1] = m.Code
	binary.BigEndian.PutUint32(b[4:8], m.Rest)
	copy(b[ICMPHeaderLen:], m.Body)
	return b
}

// ParseICMP decodes an ICMPv4 or ICMPv6 message. Body aliases b.
func ParseICMP(b []byte) (ICMPMessage, error) {
	if len(b) < ICMPHeaderLen {
		return ICMPMessage{}, ErrTruncated
	}
	return ICMPMessage{
		Type:     b[0],
		Code:     b[1],
		Checksum: binary.BigEndian.Uint16(b[2:4]),
		Rest:     binary.BigEndian.Uint32(b[4:8]),
		Body:     b[ICMPHeaderLen:],
	}, nil
}

// NormalizeICMPv6Code maps an ICMPv6 destination unreachable code onto the
// equivalent ICMPv4 code.
func NormalizeICMPv6Code(code uint8) uint8 {
	switch code {
	case CodeV6NoRoute, CodeV6BeyondScope, CodeV6RejectRoute:
		return CodeNetUnreachable
	case CodeV6AdminProhibited, CodeV6SourcePolicyFail:
		return CodeAdminProhibited
	case CodeV6AddrUnreachable:
		return CodeHostUnreachable
	case CodeV6PortUnreachable:
		return CodePortUnreachable
	default:
		return code
	}
}

// Quote is the part of the offending datagram carried in an ICMP error:
// the original IP header and the first eight bytes of its transport header.
type Quote struct {
	Protocol uint8
	Src      netip.Addr
	Dst      netip.Addr
	SrcPort  uint16
	DstPort  uint16
	// Seq is the quoted TCP sequence number; zero for other protocols.
	Seq uint32
}

// ParseUnreachable decodes a destination unreachable message and the
// datagram it quotes. The returned code is in ICMPv4 space for both
// families.
func ParseUnreachable(b []byte, v6 bool) (uint8, Quote, error) {
	msg, err := ParseICMP(b)
	if err != nil {
		return 0, Quote{}, err
	}

	var (
		q         Quote
		transport []byte
		code      = msg.Code
	)
	if v6 {
		if msg.Type != ICMPv6DestUnreachable {
			return 0, Quote{}, ErrNotUnreachable
		}
		code = NormalizeICMPv6Code(msg.Code)
		ip, payload, err := ParseIPv6(msg.Body)
		if err != nil {
			return 0, Quote{}, fmt.Errorf("quoted datagram: %w", err)
		}
		q.Protocol, q.Src, q.Dst, transport = ip.NextHeader, ip.Src, ip.Dst, payload
	} else {
		if msg.Type != ICMPv4DestUnreachable {
			return 0, Quote{}, ErrNotUnreachable
		}
		ip, payload, err := ParseIPv4(msg.Body)
		if err != nil {
			return 0, Quote{}, fmt.Errorf("quoted datagram: %w", err)
		}
		q.Protocol, q.Src, q.Dst, transport = ip.Protocol, ip.Src, ip.Dst, payload
	}

	if len(transport) < 8 {
		return 0, Quote{}, ErrTruncated
	}
	q.SrcPort = binary.BigEndian.Uint16(transport[0:2])
	q.DstPort = binary.BigEndian.Uint16(transport[2:4])
	if q.Protocol == ProtocolTCP {
		q.Seq = binary.BigEndian.Uint32(transport[4:8])
	}
	return code, q, nil
}
