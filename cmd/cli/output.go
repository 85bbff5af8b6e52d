package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/anstrom/portscope/internal/db"
	"github.com/anstrom/portscope/internal/probe"
	"github.com/anstrom/portscope/internal/scanning"
	"github.com/anstrom/portscope/internal/services"
)

const (
	formatTable = "table"
	formatJSON  = "json"

	maxBannerColumn = 48
)

// scanReport is the JSON document printed for one scanned target.
type scanReport struct {
	Session  *scanning.ScanSession  `json:"session"`
	Services []services.ServiceInfo `json:"services,omitempty"`
}

func validateFormat(format string) error {
	switch format {
	case formatTable, formatJSON:
		return nil
	}
	return fmt.Errorf("unknown output format %q (expected %s or %s)", format, formatTable, formatJSON)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// renderSession prints a session summary followed by every port that is
// not closed. Closed ports are only counted.
func renderSession(w io.Writer, s *scanning.ScanSession, svcs []services.ServiceInfo) {
	fmt.Fprintf(w, "Scan %s of %s using %s\n", s.ID, s.Target, s.Technique)
	fmt.Fprintf(w, "Status: %s, %d of %d ports classified in %s\n",
		s.Status, s.PortsCompleted, s.PortsRequested, s.Duration().Round(time.Millisecond))

	names := make(map[string]string, len(svcs))
	for _, svc := range svcs {
		names[portLabel(svc.Port, svc.Protocol)] = svc.Name
	}

	counts := s.StateCounts()
	switch {
	case len(s.Results) == 0:
		fmt.Fprintln(w, "No ports were classified")
	case counts[probe.Closed] == len(s.Results):
		fmt.Fprintf(w, "All %d scanned ports are closed\n", len(s.Results))
	default:
		table := tablewriter.NewWriter(w)
		table.Header("Port", "State", "Service", "Reason")
		for _, r := range s.Results {
			if r.State == probe.Closed {
				continue
			}
			label := portLabel(r.Port, r.Protocol)
			name, ok := names[label]
			if !ok {
				name = services.DefaultName(r.Port, r.Protocol)
			}
			_ = table.Append([]string{label, r.State.String(), name, r.Reason})
		}
		_ = table.Render()
		if closed := counts[probe.Closed]; closed > 0 {
			fmt.Fprintf(w, "%d closed ports not shown\n", closed)
		}
	}

	if len(s.Cancelled) > 0 {
		fmt.Fprintf(w, "%d ports were not scanned before cancellation\n", len(s.Cancelled))
	}

	if len(svcs) > 0 {
		fmt.Fprintln(w)
		renderServices(w, svcs)
	}
}

func renderServices(w io.Writer, svcs []services.ServiceInfo) {
	table := tablewriter.NewWriter(w)
	table.Header("Port", "Service", "Product", "Version", "TLS", "Banner")
	for _, svc := range svcs {
		_ = table.Append([]string{
			portLabel(svc.Port, svc.Protocol),
			svc.Name,
			svc.Product,
			svc.Version,
			tlsSummary(svc.TLS),
			truncate(svc.Banner, maxBannerColumn),
		})
	}
	_ = table.Render()
}

func tlsSummary(info *services.TLSInfo) string {
	if info == nil {
		return ""
	}
	if len(info.Errors) > 0 && info.Version == "" {
		return "error: " + info.Errors[0]
	}
	parts := []string{info.Version}
	if cert := info.Certificate; cert != nil {
		parts = append(parts, cert.Subject)
		if cert.Expired {
			parts = append(parts, "expired")
		} else {
			parts = append(parts, "expires in "+strconv.Itoa(cert.DaysUntilExpiry)+"d")
		}
	}
	return strings.Join(parts, ", ")
}

func renderChanges(w io.Writer, before, after *scanning.ScanSession, changes []scanning.Change) {
	fmt.Fprintf(w, "Comparing %s (%s) with %s (%s)\n",
		before.ID, before.StartedAt.Format(time.RFC3339), after.ID, after.StartedAt.Format(time.RFC3339))
	if len(changes) == 0 {
		fmt.Fprintln(w, "No changes")
		return
	}

	table := tablewriter.NewWriter(w)
	table.Header("Port", "Change", "Before", "After")
	for _, c := range changes {
		_ = table.Append([]string{
			portLabel(c.Port, c.Protocol),
			string(c.Kind),
			stateOrDash(c.Before),
			stateOrDash(c.After),
		})
	}
	_ = table.Render()
}

func renderMigrations(w io.Writer, statuses []db.MigrationStatus) {
	table := tablewriter.NewWriter(w)
	table.Header("Migration", "Applied", "Applied At", "Modified")
	for _, st := range statuses {
		appliedAt := "-"
		if st.Applied {
			appliedAt = st.AppliedAt.Format(time.RFC3339)
		}
		_ = table.Append([]string{
			st.Name,
			strconv.FormatBool(st.Applied),
			appliedAt,
			strconv.FormatBool(st.Modified),
		})
	}
	_ = table.Render()
}

func portLabel(port uint16, protocol probe.Protocol) string {
	return strconv.Itoa(int(port)) + "/" + string(protocol)
}

func stateOrDash(s probe.PortState) string {
	if s == 0 {
		return "-"
	}
	return s.String()
}

func truncate(s string, n int) string {
	r := []rune(strings.Join(strings.Fields(s), " "))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n-3]) + "..."
}
