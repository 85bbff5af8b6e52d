package scanning

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/portscope/internal/errors"
	"github.com/anstrom/portscope/internal/probe"
)

func sampleSession() *ScanSession {
	start := time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC)
	return &ScanSession{
		SchemaVersion: SchemaVersion,
		ID:            uuid.MustParse("5b0c3a6e-6f6a-4d8e-9d1e-1f2a3b4c5d6e"),
		Status:        StatusCancelled,
		Target:        ScanTarget{IP: mustAddr("198.51.100.20"), Hostname: "edge.example"},
		Technique:     probe.Fin,
		Results: []PortResult{
			{Port: 22, Protocol: probe.ProtocolTCP, State: probe.Closed, Technique: probe.Fin,
				Reason: probe.ReasonReset, ProbeDuration: 3 * time.Millisecond},
			{Port: 80, Protocol: probe.ProtocolTCP, State: probe.OpenOrFiltered, Technique: probe.Fin,
				Reason: probe.ReasonNoResponse, ProbeDuration: time.Second},
		},
		Cancelled:      []uint16{443, 8443},
		StartedAt:      start,
		FinishedAt:     start.Add(2 * time.Second),
		PortsRequested: 4,
		PortsCompleted: 2,
	}
}

func TestJSONRoundTrip(t *testing.T) {
	s := sampleSession()

	data, err := Marshal(s)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.EqualValues(t, 1, raw["schema_version"])
	assert.Equal(t, "fin", raw["technique"])
	assert.Equal(t, "cancelled", raw["status"])
	results := raw["results"].([]any)
	assert.Equal(t, "open|filtered", results[1].(map[string]any)["state"])

	got, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestYAMLRoundTrip(t *testing.T) {
	s := sampleSession()

	data, err := MarshalYAML(s)
	require.NoError(t, err)
	assert.Contains(t, string(data), "schema_version: 1")
	assert.Contains(t, string(data), "open|filtered")

	got, err := UnmarshalYAML(data)
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestUnknownSchemaVersionRejected(t *testing.T) {
	s := sampleSession()
	s.SchemaVersion = 2

	data, err := Marshal(s)
	require.NoError(t, err)
	_, err = Unmarshal(data)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeValidation))

	data, err = MarshalYAML(s)
	require.NoError(t, err)
	_, err = UnmarshalYAML(data)
	require.Error(t, err)

	_, err = Unmarshal([]byte(`{"results": []}`))
	assert.Error(t, err, "missing schema_version")
}

func TestUnmarshalRejectsBadState(t *testing.T) {
	_, err := Unmarshal([]byte(`{"schema_version":1,"results":[{"port":1,"state":"ajar"}]}`))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeValidation))
}

func TestFileRoundTripByExtension(t *testing.T) {
	dir := t.TempDir()
	s := sampleSession()

	for _, name := range []string{"session.json", "session.yaml", "session.YML"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, WriteFile(path, s))

			got, err := ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, s, got)
		})
	}

	data, err := os.ReadFile(filepath.Join(dir, "session.yaml"))
	require.NoError(t, err)
	assert.NotEqual(t, byte('{'), data[0])

	_, err = ReadFile(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
