package transport

import (
	"fmt"
	"net/netip"

	"github.com/anstrom/portscope/internal/logging"
	"github.com/anstrom/portscope/internal/probe"
)

// Session is a transport bound to one scan session.
type Session interface {
	probe.Transport
	Close() error
}

// Open returns the transport for technique against target. privileged
// reports raw-socket capability, which the UDP transport uses for its
// ICMP listener.
func Open(technique probe.Technique, target netip.Addr, capacity int, privileged bool, logger *logging.Logger) (Session, error) {
	switch technique {
	case probe.Connect:
		return NewDialer(), nil
	case probe.UDP:
		u, err := NewUDP(target, privileged, capacity, logger)
		if err != nil {
			return nil, err
		}
		return u, nil
	case probe.Syn, probe.Fin, probe.Xmas, probe.Null:
		r, err := NewRaw(target, capacity, logger)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
	return nil, fmt.Errorf("no transport for technique %s", technique)
}
