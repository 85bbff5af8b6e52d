// Package portspec parses port specifications such as "22,80,1000-1010" or
// "T:100" into an ascending, deduplicated list of ports.
//
// Tokens are separated by commas and may be a single port, an inclusive
// range "A-B", or a top-N sentinel "T:N" (also "top:N") that expands to the
// N most common ports from a built-in table. Ports are 1..65535.
package portspec

import (
	stderrors "errors"
	"fmt"
	"math/bits"
	"strconv"
	"strings"

	"github.com/anstrom/portscope/internal/errors"
)

const maxPort = 65535

// PortSpec is an immutable, ascending, duplicate-free set of ports.
type PortSpec struct {
	ports []uint16
}

// Parse parses spec, resolving top-N sentinels against the TCP table.
func Parse(spec string) (PortSpec, error) {
	return parse(spec, topTCP)
}

// ParseUDP parses spec, resolving top-N sentinels against the UDP table.
func ParseUDP(spec string) (PortSpec, error) {
	return parse(spec, topUDP)
}

// Top returns the n most common TCP ports. n is clamped to the table size.
func Top(n int) PortSpec {
	return FromPorts(topN(topTCP, n)...)
}

// TopUDP returns the n most common UDP ports. n is clamped to the table size.
func TopUDP(n int) PortSpec {
	return FromPorts(topN(topUDP, n)...)
}

// FromPorts builds a PortSpec from arbitrary ports, dropping port 0 and
// duplicates.
func FromPorts(ports ...uint16) PortSpec {
	var set bitset
	for _, p := range ports {
		if p != 0 {
			set.add(p)
		}
	}
	return PortSpec{ports: set.sorted()}
}

// Ports returns a copy of the ports in ascending order.
func (s PortSpec) Ports() []uint16 {
	out := make([]uint16, len(s.ports))
	copy(out, s.ports)
	return out
}

// Len returns the number of ports.
func (s PortSpec) Len() int { return len(s.ports) }

// IsEmpty reports whether the spec holds no ports.
func (s PortSpec) IsEmpty() bool { return len(s.ports) == 0 }

// Contains reports whether port is part of the spec.
func (s PortSpec) Contains(port uint16) bool {
	lo, hi := 0, len(s.ports)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		switch {
		case s.ports[mid] == port:
			return true
		case s.ports[mid] < port:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return false
}

// String renders the spec compactly, folding consecutive ports into ranges.
func (s PortSpec) String() string {
	var b strings.Builder
	for i := 0; i < len(s.ports); {
		j := i
		for j+1 < len(s.ports) && s.ports[j+1] == s.ports[j]+1 {
			j++
		}
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(int(s.ports[i])))
		if j > i {
			b.WriteByte('-')
			b.WriteString(strconv.Itoa(int(s.ports[j])))
		}
		i = j + 1
	}
	return b.String()
}

func parse(spec string, table []uint16) (PortSpec, error) {
	if strings.TrimSpace(spec) == "" {
		return PortSpec{}, errors.ErrInvalidPortSpec(spec, "empty port specification")
	}

	var set bitset
	for _, raw := range strings.Split(spec, ",") {
		token := strings.TrimSpace(raw)
		if token == "" {
			return PortSpec{}, errors.ErrInvalidPortSpec(spec, "empty token in port specification")
		}

		if n, ok, err := parseTop(token); ok {
			if err != nil {
				return PortSpec{}, errors.ErrInvalidPortSpec(spec, err.Error()).WithContext("token", token)
			}
			for _, p := range topN(table, n) {
				set.add(p)
			}
			continue
		}

		lo, hi, err := parseRange(token)
		if err != nil {
			return PortSpec{}, errors.ErrInvalidPortSpec(spec, err.Error()).WithContext("token", token)
		}
		for p := lo; p <= hi; p++ {
			set.add(uint16(p))
		}
	}

	return PortSpec{ports: set.sorted()}, nil
}

// parseTop recognizes "T:N" and "top:N". ok is false when token is not a
// top-N sentinel at all.
func parseTop(token string) (n int, ok bool, err error) {
	idx := strings.IndexByte(token, ':')
	if idx < 0 {
		return 0, false, nil
	}
	prefix := strings.ToLower(token[:idx])
	if prefix != "t" && prefix != "top" {
		return 0, true, fmt.Errorf("unknown port selector %q", token[:idx])
	}
	v, err := strconv.Atoi(token[idx+1:])
	if err != nil {
		return 0, true, fmt.Errorf("top-N count %q is not a number", token[idx+1:])
	}
	if v < 1 {
		return 0, true, fmt.Errorf("top-N count must be positive, got %d", v)
	}
	return v, true, nil
}

func parseRange(token string) (lo, hi int, err error) {
	start, end, isRange := strings.Cut(token, "-")
	if lo, err = parsePort(strings.TrimSpace(start)); err != nil {
		return 0, 0, err
	}
	if !isRange {
		return lo, lo, nil
	}
	if hi, err = parsePort(strings.TrimSpace(end)); err != nil {
		return 0, 0, err
	}
	if lo > hi {
		return 0, 0, fmt.Errorf("range %s is inverted", token)
	}
	return lo, hi, nil
}

func parsePort(s string) (int, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		if stderrors.Is(err, strconv.ErrRange) {
			return 0, fmt.Errorf("port %s exceeds %d", s, maxPort)
		}
		return 0, fmt.Errorf("port %q is not a number", s)
	}
	if v > maxPort {
		return 0, fmt.Errorf("port %d exceeds %d", v, maxPort)
	}
	if v == 0 {
		return 0, fmt.Errorf("port 0 is reserved")
	}
	return int(v), nil
}

func topN(table []uint16, n int) []uint16 {
	if n > len(table) {
		n = len(table)
	}
	if n < 0 {
		n = 0
	}
	return table[:n]
}

// bitset marks ports 0..65535.
type bitset [(maxPort + 1) / 64]uint64

func (b *bitset) add(p uint16) { b[p>>6] |= 1 << (p & 63) }

func (b *bitset) sorted() []uint16 {
	var out []uint16
	for word, set := range b {
		for set != 0 {
			bit := bits.TrailingZeros64(set)
			out = append(out, uint16(word<<6|bit))
			set &^= 1 << bit
		}
	}
	return out
}
