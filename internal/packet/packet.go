// Package packet encodes and decodes the IPv4, IPv6, TCP, UDP and ICMP
// headers used by raw-socket probes, and computes their checksums.
//
// Encoders write network byte order into freshly allocated buffers and fill
// in length and checksum fields. Decoders never allocate for payloads: the
// returned slices alias the input.
package packet

import "errors"

// TCP flag bits.
const (
	FlagFIN uint8 = 0x01
	FlagSYN uint8 = 0x02
	FlagRST uint8 = 0x04
	FlagPSH uint8 = 0x08
	FlagACK uint8 = 0x10
	FlagURG uint8 = 0x20
	FlagECE uint8 = 0x40
	FlagCWR uint8 = 0x80
)

// IP protocol numbers.
const (
	ProtocolICMP   uint8 = 1
	ProtocolTCP    uint8 = 6
	ProtocolUDP    uint8 = 17
	ProtocolICMPv6 uint8 = 58
)

// Fixed header sizes in bytes.
const (
	IPv4HeaderLen = 20
	IPv6HeaderLen = 40
	TCPHeaderLen  = 20
	UDPHeaderLen  = 8
	ICMPHeaderLen = 8
)

var (
	// ErrTruncated is returned when a buffer is shorter than the header it
	// claims to hold.
	ErrTruncated = errors.New("packet: truncated")
	// ErrMalformed is returned for headers with impossible field values.
	ErrMalformed = errors.New("packet: malformed header")
	// ErrAddressFamily is returned when source and destination differ in
	// family or are invalid.
	ErrAddressFamily = errors.New("packet: address family mismatch")
)
