package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/anstrom/portscope/internal/db"
	"github.com/anstrom/portscope/internal/probe"
	"github.com/anstrom/portscope/internal/scanning"
	"github.com/anstrom/portscope/internal/services"
)

func TestRenderSession(t *testing.T) {
	s := sessionWith(map[uint16]probe.PortState{
		22: probe.Open, 23: probe.Closed, 53: probe.Filtered, 443: probe.Open,
	}, time.Now())
	s.Target.Hostname = "edge.example"
	s.Cancelled = []uint16{444, 445}
	s.PortsRequested += 2

	svcs := []services.ServiceInfo{
		{
			Port:           22,
			Protocol:       probe.ProtocolTCP,
			Identification: services.Identification{Name: "ssh", Product: "OpenSSH", Version: "9.6p1"},
			Banner:         "SSH-2.0-OpenSSH_9.6p1 Ubuntu-3ubuntu13",
		},
		{
			Port:           443,
			Protocol:       probe.ProtocolTCP,
			Identification: services.Identification{Name: "https"},
			TLS: &services.TLSInfo{
				Port:        443,
				Version:     "TLS 1.3",
				Certificate: &services.CertificateInfo{Subject: "CN=edge.example", DaysUntilExpiry: 42},
			},
		},
	}

	var buf bytes.Buffer
	renderSession(&buf, s, svcs)
	out := buf.String()

	assert.Contains(t, out, "edge.example (192.0.2.40)")
	assert.Contains(t, out, "22/tcp")
	assert.Contains(t, out, "53/tcp")
	assert.Contains(t, out, "filtered")
	assert.NotContains(t, out, "23/tcp")
	assert.Contains(t, out, "1 closed ports not shown")
	assert.Contains(t, out, "2 ports were not scanned before cancellation")
	assert.Contains(t, out, "OpenSSH")
	assert.Contains(t, out, "TLS 1.3, CN=edge.example, expires in 42d")
}

func TestRenderSessionAllClosed(t *testing.T) {
	s := sessionWith(map[uint16]probe.PortState{1: probe.Closed, 2: probe.Closed}, time.Now())

	var buf bytes.Buffer
	renderSession(&buf, s, nil)
	assert.Contains(t, buf.String(), "All 2 scanned ports are closed")
}

func TestTLSSummary(t *testing.T) {
	assert.Empty(t, tlsSummary(nil))
	assert.Equal(t, "error: handshake failed", tlsSummary(&services.TLSInfo{Errors: []string{"handshake failed"}}))
	assert.Equal(t, "TLS 1.2, CN=old, expired", tlsSummary(&services.TLSInfo{
		Version:     "TLS 1.2",
		Certificate: &services.CertificateInfo{Subject: "CN=old", Expired: true},
	}))
}

func TestRenderChangesNone(t *testing.T) {
	s := sessionWith(nil, time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC))

	var buf bytes.Buffer
	renderChanges(&buf, s, s, scanning.Diff(s, s))
	assert.Contains(t, buf.String(), "2026-10-01T00:00:00Z")
	assert.Contains(t, buf.String(), "No changes")
}

func TestRenderMigrations(t *testing.T) {
	applied := time.Date(2026, 9, 30, 8, 0, 0, 0, time.UTC)

	var buf bytes.Buffer
	renderMigrations(&buf, []db.MigrationStatus{
		{Name: "001_initial_schema", Applied: true, AppliedAt: applied},
		{Name: "002_result_reasons"},
	})
	out := buf.String()
	assert.Contains(t, out, "001_initial_schema")
	assert.Contains(t, out, "2026-09-30T08:00:00Z")
	assert.Contains(t, out, "002_result_reasons")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "a b c", truncate("a\r\nb\tc", 10))
	long := strings.Repeat("x", 60)
	got := truncate(long, maxBannerColumn)
	assert.Len(t, got, maxBannerColumn)
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestValidateFormat(t *testing.T) {
	assert.NoError(t, validateFormat(formatTable))
	assert.NoError(t, validateFormat(formatJSON))
	assert.Error(t, validateFormat("xml"))
}
