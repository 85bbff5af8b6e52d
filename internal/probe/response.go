package probe

import (
	"net/netip"
	"time"

	"github.com/anstrom/portscope/internal/packet"
)

// ResponseKind tags the raw signal observed for one probe.
type ResponseKind uint8

const (
	NoResponse ResponseKind = iota
	SynAck
	Rst
	ICMPUnreachable
	// Data is an application payload received on a UDP probe socket.
	Data
	// Other is any TCP segment that is neither SYN/ACK nor RST.
	Other
)

func (k ResponseKind) String() string {
	switch k {
	case NoResponse:
		return "no-response"
	case SynAck:
		return "syn-ack"
	case Rst:
		return "rst"
	case ICMPUnreachable:
		return "icmp-unreachable"
	case Data:
		return "data"
	case Other:
		return "other"
	}
	return "unknown"
}

// Request is one unit of scheduled work. Payload is only used by UDP.
type Request struct {
	Target    netip.Addr
	Port      uint16
	Technique Technique
	Timeout   time.Duration
	Payload   []byte
}

// Response is what a transport observed for a request. ICMPCode is always
// expressed in the ICMPv4 destination-unreachable code space.
type Response struct {
	Kind      ResponseKind
	Flags     uint8
	ICMPType  uint8
	ICMPCode  uint8
	Seq       uint32
	Ack       uint32
	LocalPort uint16
	Payload   []byte
}

// Reasons attached to results.
const (
	ReasonSynAck          = "syn-ack"
	ReasonReset           = "reset"
	ReasonNoResponse      = "no-response"
	ReasonPortUnreach     = "port-unreach"
	ReasonHostUnreach     = "host-unreach"
	ReasonNetUnreach      = "net-unreach"
	ReasonProtoUnreach    = "proto-unreach"
	ReasonAdminProhibited = "admin-prohibited"
	ReasonUDPResponse     = "udp-response"
	ReasonUnexpected      = "unexpected"
	ReasonSendError       = "send-error"
)

// Reason renders a short explanation of r.
func Reason(r Response) string {
	switch r.Kind {
	case NoResponse:
		return ReasonNoResponse
	case SynAck:
		return ReasonSynAck
	case Rst:
		return ReasonReset
	case ICMPUnreachable:
		switch r.ICMPCode {
		case packet.CodePortUnreachable:
			return ReasonPortUnreach
		case packet.CodeHostUnreachable:
			return ReasonHostUnreach
		case packet.CodeNetUnreachable:
			return ReasonNetUnreach
		case packet.CodeProtocolUnreachable:
			return ReasonProtoUnreach
		case packet.CodeNetProhibited, packet.CodeHostProhibited, packet.CodeAdminProhibited:
			return ReasonAdminProhibited
		}
		return ReasonUnexpected
	case Data:
		return ReasonUDPResponse
	}
	return ReasonUnexpected
}
