package cli

import (
	"bytes"
	"context"
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/anstrom/portscope/internal/config"
	"github.com/anstrom/portscope/internal/logging"
	"github.com/anstrom/portscope/internal/metrics"
	"github.com/anstrom/portscope/internal/probe"
	"github.com/anstrom/portscope/internal/scanning"
)

// openPortsTransport answers SYN/ACK on its ports and RST elsewhere.
type openPortsTransport map[uint16]bool

func (t openPortsTransport) Exchange(_ context.Context, req probe.Request) (probe.Response, error) {
	if t[req.Port] {
		return probe.Response{Kind: probe.SynAck}, nil
	}
	return probe.Response{Kind: probe.Rst}, nil
}

func (openPortsTransport) Reset(probe.Request, probe.Response) error { return nil }

func (openPortsTransport) Close() error { return nil }

type literalResolver struct{}

func (literalResolver) Resolve(_ context.Context, target string) (netip.Addr, error) {
	return netip.ParseAddr(target)
}

// useFakeEngine makes the scan command probe a fake transport with the
// given ports open.
func useFakeEngine(t *testing.T, open ...uint16) {
	t.Helper()
	ports := openPortsTransport{}
	for _, p := range open {
		ports[p] = true
	}

	orig := newEngine
	newEngine = func(*config.Config, *logging.Logger, *metrics.PrometheusMetrics) *scanning.Engine {
		return scanning.NewEngine(
			scanning.WithLogger(logging.Discard()),
			scanning.WithResolver(literalResolver{}),
			scanning.WithPrivilegeProbe(func() bool { return false }),
			scanning.WithTransportFactory(func(probe.Technique, netip.Addr, int, bool) (scanning.Transport, error) {
				return ports, nil
			}),
		)
	}
	t.Cleanup(func() { newEngine = orig })
}

func resetFlags() {
	cfgFile, verbose = "", false

	scanPorts, scanTechnique, scanHostname = "", "", ""
	scanConcurrency, scanParallel, scanRetries = 0, 0, 0
	scanTimeout, scanGrace = 0, 0
	scanServiceDetection, scanBanner, scanTLS = false, false, false
	scanOutput, scanFormat, scanStore = "", formatTable, false

	diffFromDB, diffFormat = false, formatTable
	serveHost, servePort = "", 0
}

// writeConfig writes a config file into a temporary directory.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const testConfigYAML = `
scanning:
  default_ports: "20-25"
  timeout: 1s
  grace_period: 20ms
logging:
  level: error
`

// executeCommand runs the root command with args and returns stdout and
// stderr.
func executeCommand(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	resetFlags()

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}
