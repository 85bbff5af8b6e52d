package probe

import "fmt"

// PortState is the final classification of a probed port.
type PortState uint8

const (
	Open PortState = iota + 1
	Closed
	Filtered
	// OpenOrFiltered is reported when the technique cannot tell an open
	// port from a silently dropping firewall.
	OpenOrFiltered
)

func (s PortState) String() string {
	switch s {
	case Open:
		return "open"
	case Closed:
		return "closed"
	case Filtered:
		return "filtered"
	case OpenOrFiltered:
		return "open|filtered"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// ParsePortState is the inverse of PortState.String.
func ParsePortState(s string) (PortState, error) {
	switch s {
	case "open":
		return Open, nil
	case "closed":
		return Closed, nil
	case "filtered":
		return Filtered, nil
	case "open|filtered":
		return OpenOrFiltered, nil
	}
	return 0, fmt.Errorf("unknown port state %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (s PortState) MarshalText() ([]byte, error) {
	if s < Open || s > OpenOrFiltered {
		return nil, fmt.Errorf("invalid port state %d", uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *PortState) UnmarshalText(b []byte) error {
	v, err := ParsePortState(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Phase is a step of the per-probe state machine.
type Phase uint8

const (
	PhaseSent Phase = iota + 1
	PhaseAwaitingResponse
	PhaseClassified
	// PhaseAbandoned ends a probe cancelled before it could be classified.
	PhaseAbandoned
)

func (p Phase) String() string {
	switch p {
	case PhaseSent:
		return "sent"
	case PhaseAwaitingResponse:
		return "awaiting-response"
	case PhaseClassified:
		return "classified"
	case PhaseAbandoned:
		return "abandoned"
	}
	return "unknown"
}
