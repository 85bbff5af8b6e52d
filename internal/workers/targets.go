package workers

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/anstrom/portscope/internal/errors"
)

// MaxTargets caps how many addresses a batch may expand to.
const MaxTargets = 4096

// ExpandTargets turns target arguments into a list of scan targets.
// Hostnames and single addresses pass through, CIDR prefixes expand to
// their host addresses. IPv4 prefixes shorter than /31 skip the network
// and broadcast addresses. Duplicates are dropped and input order kept.
func ExpandTargets(args []string, limit int) ([]string, error) {
	if limit <= 0 || limit > MaxTargets {
		limit = MaxTargets
	}

	seen := make(map[string]struct{}, len(args))
	var targets []string
	add := func(t string) error {
		if _, dup := seen[t]; dup {
			return nil
		}
		if len(targets) >= limit {
			return errors.NewScanError(errors.CodeValidation,
				fmt.Sprintf("targets expand to more than %d addresses", limit))
		}
		seen[t] = struct{}{}
		targets = append(targets, t)
		return nil
	}

	for _, arg := range args {
		arg = strings.TrimSpace(arg)
		if arg == "" {
			continue
		}
		if !strings.Contains(arg, "/") {
			if err := add(arg); err != nil {
				return nil, err
			}
			continue
		}

		prefix, err := netip.ParsePrefix(arg)
		if err != nil {
			return nil, errors.NewScanError(errors.CodeValidation,
				fmt.Sprintf("invalid CIDR or IP address: %s", arg))
		}
		prefix = prefix.Masked()

		first, last := prefix.Addr(), lastAddr(prefix)
		if prefix.Addr().Is4() && prefix.Bits() < 31 {
			first, last = first.Next(), last.Prev()
		}
		for a := first; a.IsValid() && a.Compare(last) <= 0; a = a.Next() {
			if err := add(a.String()); err != nil {
				return nil, err
			}
		}
	}

	if len(targets) == 0 {
		return nil, errors.NewScanError(errors.CodeValidation, "no targets specified")
	}
	return targets, nil
}

// lastAddr returns the highest address covered by a masked prefix.
func lastAddr(p netip.Prefix) netip.Addr {
	b := p.Addr().AsSlice()
	bits := p.Bits()
	for i := range b {
		hostBits := len(b)*8 - bits - (len(b)-1-i)*8
		switch {
		case hostBits >= 8:
			b[i] = 0xff
		case hostBits > 0:
			b[i] |= byte(1<<hostBits) - 1
		}
	}
	a, _ := netip.AddrFromSlice(b)
	return a
}
