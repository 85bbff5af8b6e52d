package scanning

import (
	"fmt"
	"net/netip"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/anstrom/portscope/internal/errors"
	"github.com/anstrom/portscope/internal/probe"
)

// SchemaVersion is the version of the serialized ScanSession form.
const SchemaVersion = 1

const (
	DefaultConcurrency = 100
	DefaultTimeout     = time.Second
	DefaultPorts       = "1-1024"

	maxConcurrency = 65535
)

// Status is the terminal status of a session.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// ScanTarget is the resolved destination of a session.
type ScanTarget struct {
	IP       netip.Addr `json:"ip" yaml:"ip"`
	Hostname string     `json:"hostname,omitempty" yaml:"hostname,omitempty"`
}

// String returns "hostname (ip)" or the bare IP.
func (t ScanTarget) String() string {
	if t.Hostname != "" {
		return fmt.Sprintf("%s (%s)", t.Hostname, t.IP)
	}
	return t.IP.String()
}

// PortResult is the classification of one port.
type PortResult struct {
	Port          uint16          `json:"port" yaml:"port"`
	Protocol      probe.Protocol  `json:"protocol" yaml:"protocol"`
	State         probe.PortState `json:"state" yaml:"state"`
	Technique     probe.Technique `json:"technique" yaml:"technique"`
	Reason        string          `json:"reason,omitempty" yaml:"reason,omitempty"`
	ProbeDuration time.Duration   `json:"probe_duration" yaml:"probe_duration"`
}

// ScanSession is the frozen outcome of one scan. Results hold at most one
// entry per port in ascending order. Ports that were never classified
// because the scan was cancelled are listed in Cancelled, so
// PortsCompleted+len(Cancelled) always equals PortsRequested.
type ScanSession struct {
	SchemaVersion  int             `json:"schema_version" yaml:"schema_version"`
	ID             uuid.UUID       `json:"id" yaml:"id"`
	Status         Status          `json:"status" yaml:"status"`
	Target         ScanTarget      `json:"target" yaml:"target"`
	Technique      probe.Technique `json:"technique" yaml:"technique"`
	Results        []PortResult    `json:"results" yaml:"results"`
	Cancelled      []uint16        `json:"cancelled" yaml:"cancelled"`
	StartedAt      time.Time       `json:"started_at" yaml:"started_at"`
	FinishedAt     time.Time       `json:"finished_at" yaml:"finished_at"`
	PortsRequested int             `json:"ports_requested" yaml:"ports_requested"`
	PortsCompleted int             `json:"ports_completed" yaml:"ports_completed"`
}

// Result returns the result for port.
func (s *ScanSession) Result(port uint16) (PortResult, bool) {
	i, ok := slices.BinarySearchFunc(s.Results, port, func(r PortResult, p uint16) int {
		return int(r.Port) - int(p)
	})
	if !ok {
		return PortResult{}, false
	}
	return s.Results[i], true
}

// PortsIn returns the ports classified as state, ascending.
func (s *ScanSession) PortsIn(state probe.PortState) []uint16 {
	var ports []uint16
	for _, r := range s.Results {
		if r.State == state {
			ports = append(ports, r.Port)
		}
	}
	return ports
}

// OpenPorts returns the ports classified Open.
func (s *ScanSession) OpenPorts() []uint16 {
	return s.PortsIn(probe.Open)
}

// StateCounts tallies results by state.
func (s *ScanSession) StateCounts() map[probe.PortState]int {
	counts := make(map[probe.PortState]int, 4)
	for _, r := range s.Results {
		counts[r.State]++
	}
	return counts
}

// Duration is the wall-clock time the session took.
func (s *ScanSession) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// ScanConfig describes one scan session.
type ScanConfig struct {
	// Target is a hostname or IP literal.
	Target string
	// Hostname overrides the display name recorded in the session.
	Hostname string
	// Ports is a port specification such as "22,80,1000-1010" or "T:100".
	Ports       string
	Technique   probe.Technique
	Concurrency int
	Timeout     time.Duration
	// GracePeriod bounds how long in-flight probes may drain after
	// cancellation. Zero means Timeout.
	GracePeriod time.Duration
	// UDPPayloads sends protocol-specific datagrams to well-known UDP ports.
	UDPPayloads bool
}

func (c ScanConfig) withDefaults() ScanConfig {
	if c.Ports == "" {
		c.Ports = DefaultPorts
	}
	if c.Technique == 0 {
		c.Technique = probe.Connect
	}
	if c.Concurrency == 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.GracePeriod == 0 {
		c.GracePeriod = c.Timeout
	}
	return c
}

// Validate checks the configuration for values the engine cannot use.
func (c ScanConfig) Validate() error {
	switch {
	case c.Target == "":
		return errors.NewScanError(errors.CodeValidation, "no target specified")
	case !c.Technique.Valid():
		return errors.NewScanError(errors.CodeValidation,
			fmt.Sprintf("invalid technique %s", c.Technique))
	case c.Concurrency < 1 || c.Concurrency > maxConcurrency:
		return errors.NewScanError(errors.CodeValidation,
			fmt.Sprintf("concurrency must be between 1 and %d, got %d", maxConcurrency, c.Concurrency))
	case c.Timeout <= 0:
		return errors.NewScanError(errors.CodeValidation,
			fmt.Sprintf("timeout must be positive, got %s", c.Timeout))
	case c.GracePeriod < 0:
		return errors.NewScanError(errors.CodeValidation,
			fmt.Sprintf("grace period must not be negative, got %s", c.GracePeriod))
	}
	return nil
}
