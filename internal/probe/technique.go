// Package probe defines the six probing techniques, the per-port state
// machine that drives one probe, and the rules that turn a transport-level
// response into a port state.
package probe

import (
	"fmt"
	"strings"

	"github.com/anstrom/portscope/internal/packet"
)

// Technique is the closed set of probing techniques.
type Technique uint8

const (
	Connect Technique = iota + 1
	Syn
	Fin
	Xmas
	Null
	UDP
)

// Techniques lists every technique in declaration order.
var Techniques = []Technique{Connect, Syn, Fin, Xmas, Null, UDP}

// Protocol is the transport protocol a technique probes.
type Protocol string

const (
	ProtocolTCP Protocol = "tcp"
	ProtocolUDP Protocol = "udp"
)

// ParseTechnique maps a technique name to a Technique. "tcp" is accepted as
// an alias for connect.
func ParseTechnique(s string) (Technique, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "connect", "tcp":
		return Connect, nil
	case "syn":
		return Syn, nil
	case "fin":
		return Fin, nil
	case "xmas":
		return Xmas, nil
	case "null":
		return Null, nil
	case "udp":
		return UDP, nil
	}
	return 0, fmt.Errorf("unknown scan technique %q", s)
}

func (t Technique) String() string {
	switch t {
	case Connect:
		return "connect"
	case Syn:
		return "syn"
	case Fin:
		return "fin"
	case Xmas:
		return "xmas"
	case Null:
		return "null"
	case UDP:
		return "udp"
	}
	return fmt.Sprintf("technique(%d)", uint8(t))
}

// Valid reports whether t is one of the declared techniques.
func (t Technique) Valid() bool {
	return t >= Connect && t <= UDP
}

// MarshalText implements encoding.TextMarshaler.
func (t Technique) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid technique %d", uint8(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Technique) UnmarshalText(b []byte) error {
	v, err := ParseTechnique(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Protocol returns the transport protocol probed by t.
func (t Technique) Protocol() Protocol {
	if t == UDP {
		return ProtocolUDP
	}
	return ProtocolTCP
}

// RequiresRawSocket reports whether t needs raw-socket capability. Connect
// and UDP go through the OS stack.
func (t Technique) RequiresRawSocket() bool {
	switch t {
	case Syn, Fin, Xmas, Null:
		return true
	}
	return false
}

// TCPFlags returns the flags set on outbound probe segments.
func (t Technique) TCPFlags() uint8 {
	switch t {
	case Syn:
		return packet.FlagSYN
	case Fin:
		return packet.FlagFIN
	case Xmas:
		return packet.FlagFIN | packet.FlagPSH | packet.FlagURG
	}
	return 0
}
