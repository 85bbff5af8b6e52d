package scanning

import (
	"cmp"
	"slices"

	"github.com/anstrom/portscope/internal/probe"
)

// ChangeKind classifies one entry of a Diff.
type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeRemoved ChangeKind = "removed"
	ChangeChanged ChangeKind = "changed"
)

// Change is a port whose result differs between two sessions. Before is
// zero for added ports and After is zero for removed ones.
type Change struct {
	Port     uint16          `json:"port" yaml:"port"`
	Protocol probe.Protocol  `json:"protocol" yaml:"protocol"`
	Kind     ChangeKind      `json:"kind" yaml:"kind"`
	Before   probe.PortState `json:"before,omitempty" yaml:"before,omitempty"`
	After    probe.PortState `json:"after,omitempty" yaml:"after,omitempty"`
}

type portKey struct {
	protocol probe.Protocol
	port     uint16
}

// Diff compares the results of two sessions port by port. Ports with the
// same state in both are omitted. The result is sorted by port.
func Diff(before, after *ScanSession) []Change {
	prev := make(map[portKey]probe.PortState, len(before.Results))
	for _, r := range before.Results {
		prev[portKey{r.Protocol, r.Port}] = r.State
	}

	var changes []Change
	for _, r := range after.Results {
		k := portKey{r.Protocol, r.Port}
		old, ok := prev[k]
		delete(prev, k)
		switch {
		case !ok:
			changes = append(changes, Change{Port: r.Port, Protocol: r.Protocol, Kind: ChangeAdded, After: r.State})
		case old != r.State:
			changes = append(changes, Change{Port: r.Port, Protocol: r.Protocol, Kind: ChangeChanged, Before: old, After: r.State})
		}
	}
	for k, state := range prev {
		changes = append(changes, Change{Port: k.port, Protocol: k.protocol, Kind: ChangeRemoved, Before: state})
	}

	slices.SortFunc(changes, func(a, b Change) int {
		if c := cmp.Compare(a.Port, b.Port); c != 0 {
			return c
		}
		return cmp.Compare(a.Protocol, b.Protocol)
	})
	return changes
}
