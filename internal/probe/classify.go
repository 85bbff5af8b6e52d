package probe

import "github.com/anstrom/portscope/internal/packet"

// Classify turns the response observed for technique t into a port state.
func Classify(t Technique, r Response) PortState {
	switch t {
	case Connect:
		return classifyConnect(r)
	case Syn:
		return classifySyn(r)
	case Fin, Xmas, Null:
		return classifyStealth(r)
	case UDP:
		return classifyUDP(r)
	}
	return Filtered
}

// classifyConnect reads the outcome of an OS handshake. The dialer reports
// a completed handshake as SynAck and a refusal as Rst.
func classifyConnect(r Response) PortState {
	switch r.Kind {
	case SynAck:
		return Open
	case Rst:
		return Closed
	}
	return Filtered
}

func classifySyn(r Response) PortState {
	switch r.Kind {
	case SynAck:
		return Open
	case Rst:
		return Closed
	}
	return Filtered
}

// classifyStealth applies RFC 793 semantics: a closed port answers an
// unsolicited segment with RST, an open port stays silent.
func classifyStealth(r Response) PortState {
	switch r.Kind {
	case Rst:
		return Closed
	case NoResponse:
		return OpenOrFiltered
	}
	return Filtered
}

func classifyUDP(r Response) PortState {
	switch r.Kind {
	case NoResponse:
		return OpenOrFiltered
	case Data:
		return Open
	case ICMPUnreachable:
		if r.ICMPCode == packet.CodePortUnreachable {
			return Closed
		}
	}
	return Filtered
}
