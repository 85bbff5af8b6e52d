package db

import (
	"database/sql/driver"
	"fmt"
	"net/netip"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/anstrom/portscope/internal/probe"
	"github.com/anstrom/portscope/internal/scanning"
)

// IPAddr wraps netip.Addr to implement PostgreSQL INET type.
type IPAddr struct {
	netip.Addr
}

// Scan implements sql.Scanner for PostgreSQL INET type.
func (ip *IPAddr) Scan(value interface{}) error {
	if value == nil {
		ip.Addr = netip.Addr{}
		return nil
	}

	var s string
	switch v := value.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("cannot scan %T into IPAddr", value)
	}

	// INET columns render host addresses with a /32 or /128 suffix in some
	// drivers.
	if p, err := netip.ParsePrefix(s); err == nil {
		ip.Addr = p.Addr()
		return nil
	}
	parsed, err := netip.ParseAddr(s)
	if err != nil {
		return fmt.Errorf("failed to parse IP address: %s", s)
	}
	ip.Addr = parsed
	return nil
}

// Value implements driver.Valuer for PostgreSQL INET type.
func (ip IPAddr) Value() (driver.Value, error) {
	if !ip.IsValid() {
		return nil, nil
	}
	return ip.Addr.String(), nil
}

// sessionRow is one row of scan_sessions.
type sessionRow struct {
	ID             uuid.UUID     `db:"id"`
	SchemaVersion  int           `db:"schema_version"`
	Status         string        `db:"status"`
	TargetIP       IPAddr        `db:"target_ip"`
	Hostname       string        `db:"hostname"`
	Technique      string        `db:"technique"`
	CancelledPorts pq.Int64Array `db:"cancelled_ports"`
	PortsRequested int           `db:"ports_requested"`
	PortsCompleted int           `db:"ports_completed"`
	StartedAt      time.Time     `db:"started_at"`
	FinishedAt     time.Time     `db:"finished_at"`
}

// resultRow is one row of port_results.
type resultRow struct {
	SessionID       uuid.UUID `db:"session_id"`
	Port            int       `db:"port"`
	Protocol        string    `db:"protocol"`
	State           string    `db:"state"`
	Technique       string    `db:"technique"`
	Reason          string    `db:"reason"`
	ProbeDurationUS int64     `db:"probe_duration_us"`
}

// SessionSummary is a session without its per-port results.
type SessionSummary struct {
	ID             uuid.UUID `db:"id" json:"id"`
	Status         string    `db:"status" json:"status"`
	TargetIP       IPAddr    `db:"target_ip" json:"target_ip"`
	Hostname       string    `db:"hostname" json:"hostname,omitempty"`
	Technique      string    `db:"technique" json:"technique"`
	PortsRequested int       `db:"ports_requested" json:"ports_requested"`
	PortsCompleted int       `db:"ports_completed" json:"ports_completed"`
	OpenPorts      int       `db:"open_ports" json:"open_ports"`
	StartedAt      time.Time `db:"started_at" json:"started_at"`
	FinishedAt     time.Time `db:"finished_at" json:"finished_at"`
}

func newSessionRow(s *scanning.ScanSession) sessionRow {
	cancelled := make(pq.Int64Array, len(s.Cancelled))
	for i, p := range s.Cancelled {
		cancelled[i] = int64(p)
	}
	return sessionRow{
		ID:             s.ID,
		SchemaVersion:  s.SchemaVersion,
		Status:         string(s.Status),
		TargetIP:       IPAddr{s.Target.IP},
		Hostname:       s.Target.Hostname,
		Technique:      s.Technique.String(),
		CancelledPorts: cancelled,
		PortsRequested: s.PortsRequested,
		PortsCompleted: s.PortsCompleted,
		StartedAt:      s.StartedAt,
		FinishedAt:     s.FinishedAt,
	}
}

func newResultRows(id uuid.UUID, results []scanning.PortResult) []resultRow {
	rows := make([]resultRow, len(results))
	for i, r := range results {
		rows[i] = resultRow{
			SessionID:       id,
			Port:            int(r.Port),
			Protocol:        string(r.Protocol),
			State:           r.State.String(),
			Technique:       r.Technique.String(),
			Reason:          r.Reason,
			ProbeDurationUS: r.ProbeDuration.Microseconds(),
		}
	}
	return rows
}

// toSession rebuilds a frozen session from its stored rows.
func (r sessionRow) toSession(results []resultRow) (*scanning.ScanSession, error) {
	technique, err := probe.ParseTechnique(r.Technique)
	if err != nil {
		return nil, err
	}

	s := &scanning.ScanSession{
		SchemaVersion:  r.SchemaVersion,
		ID:             r.ID,
		Status:         scanning.Status(r.Status),
		Target:         scanning.ScanTarget{IP: r.TargetIP.Addr, Hostname: r.Hostname},
		Technique:      technique,
		Results:        make([]scanning.PortResult, 0, len(results)),
		Cancelled:      make([]uint16, 0, len(r.CancelledPorts)),
		StartedAt:      r.StartedAt,
		FinishedAt:     r.FinishedAt,
		PortsRequested: r.PortsRequested,
		PortsCompleted: r.PortsCompleted,
	}
	for _, p := range r.CancelledPorts {
		s.Cancelled = append(s.Cancelled, uint16(p))
	}

	for _, row := range results {
		state, err := probe.ParsePortState(row.State)
		if err != nil {
			return nil, err
		}
		tech, err := probe.ParseTechnique(row.Technique)
		if err != nil {
			return nil, err
		}
		s.Results = append(s.Results, scanning.PortResult{
			Port:          uint16(row.Port),
			Protocol:      probe.Protocol(row.Protocol),
			State:         state,
			Technique:     tech,
			Reason:        row.Reason,
			ProbeDuration: time.Duration(row.ProbeDurationUS) * time.Microsecond,
		})
	}
	return s, nil
}
