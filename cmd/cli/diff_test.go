package cli

import (
	"encoding/json"
	"maps"
	"net/netip"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/portscope/internal/probe"
	"github.com/anstrom/portscope/internal/scanning"
)

func sessionWith(states map[uint16]probe.PortState, started time.Time) *scanning.ScanSession {
	s := &scanning.ScanSession{
		SchemaVersion: scanning.SchemaVersion,
		ID:            uuid.New(),
		Status:        scanning.StatusCompleted,
		Target:        scanning.ScanTarget{IP: netip.MustParseAddr("192.0.2.40")},
		Technique:     probe.Connect,
		Cancelled:     []uint16{},
		StartedAt:     started,
		FinishedAt:    started.Add(time.Second),
	}
	for _, port := range slices.Sorted(maps.Keys(states)) {
		state := states[port]
		s.Results = append(s.Results, scanning.PortResult{
			Port: port, Protocol: probe.ProtocolTCP, State: state, Technique: probe.Connect,
		})
	}
	s.PortsRequested = len(s.Results)
	s.PortsCompleted = len(s.Results)
	return s
}

func writeSessions(t *testing.T) (string, string, *scanning.ScanSession, *scanning.ScanSession) {
	t.Helper()
	start := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	before := sessionWith(map[uint16]probe.PortState{
		22: probe.Open, 80: probe.Open, 443: probe.Closed,
	}, start)
	after := sessionWith(map[uint16]probe.PortState{
		22: probe.Open, 443: probe.Open, 8080: probe.Open,
	}, start.Add(24*time.Hour))

	dir := t.TempDir()
	beforePath := filepath.Join(dir, "before.json")
	afterPath := filepath.Join(dir, "after.yaml")
	require.NoError(t, scanning.WriteFile(beforePath, before))
	require.NoError(t, scanning.WriteFile(afterPath, after))
	return beforePath, afterPath, before, after
}

func TestDiffCommandJSON(t *testing.T) {
	cfgPath := writeConfig(t, testConfigYAML)
	beforePath, afterPath, before, after := writeSessions(t)

	stdout, _, err := executeCommand(t, "diff", "--config", cfgPath, "--format", "json", beforePath, afterPath)
	require.NoError(t, err)

	var result diffResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &result))
	assert.Equal(t, before.ID, result.Before)
	assert.Equal(t, after.ID, result.After)
	assert.Equal(t, []scanning.Change{
		{Port: 80, Protocol: probe.ProtocolTCP, Kind: scanning.ChangeRemoved, Before: probe.Open},
		{Port: 443, Protocol: probe.ProtocolTCP, Kind: scanning.ChangeChanged, Before: probe.Closed, After: probe.Open},
		{Port: 8080, Protocol: probe.ProtocolTCP, Kind: scanning.ChangeAdded, After: probe.Open},
	}, result.Changes)
}

func TestDiffCommandTable(t *testing.T) {
	cfgPath := writeConfig(t, testConfigYAML)
	beforePath, afterPath, _, _ := writeSessions(t)

	stdout, _, err := executeCommand(t, "diff", "--config", cfgPath, beforePath, afterPath)
	require.NoError(t, err)
	assert.Contains(t, stdout, "80/tcp")
	assert.Contains(t, stdout, "removed")
	assert.Contains(t, stdout, "443/tcp")
	assert.Contains(t, stdout, "changed")
	assert.Contains(t, stdout, "added")

	stdout, _, err = executeCommand(t, "diff", "--config", cfgPath, beforePath, beforePath)
	require.NoError(t, err)
	assert.Contains(t, stdout, "No changes")
}

func TestDiffCommandErrors(t *testing.T) {
	cfgPath := writeConfig(t, testConfigYAML)
	beforePath, _, _, _ := writeSessions(t)

	_, _, err := executeCommand(t, "diff", "--config", cfgPath, beforePath, filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.json")

	_, _, err = executeCommand(t, "diff", "--config", cfgPath, "--db", "not-a-uuid", uuid.NewString())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid session id")

	_, _, err = executeCommand(t, "diff", "--config", cfgPath, beforePath)
	require.Error(t, err)
}
