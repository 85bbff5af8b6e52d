package services

import (
	"context"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/portscope/internal/logging"
	"github.com/anstrom/portscope/internal/probe"
	"github.com/anstrom/portscope/internal/scanning"
)

func detectSession() *scanning.ScanSession {
	tcp := func(port uint16, state probe.PortState) scanning.PortResult {
		return scanning.PortResult{Port: port, Protocol: probe.ProtocolTCP, State: state, Technique: probe.Connect}
	}
	return &scanning.ScanSession{
		Target: scanning.ScanTarget{IP: netip.MustParseAddr("192.0.2.50"), Hostname: "host.example"},
		Results: []scanning.PortResult{
			tcp(22, probe.Open),
			tcp(80, probe.Closed),
			tcp(443, probe.Open),
			tcp(6379, probe.Open),
			{Port: 53, Protocol: probe.ProtocolUDP, State: probe.Open, Technique: probe.UDP},
			{Port: 123, Protocol: probe.ProtocolUDP, State: probe.OpenOrFiltered, Technique: probe.UDP},
		},
	}
}

type recorder struct {
	mu         sync.Mutex
	grabbed    []uint16
	inspected  []uint16
	serverName string
}

func newTestDetector(opts Options, rec *recorder, banners map[uint16]string) *Detector {
	d := NewDetector(opts, logging.Discard())
	d.grab = func(_ context.Context, addr netip.AddrPort, _ time.Duration) (string, error) {
		rec.mu.Lock()
		rec.grabbed = append(rec.grabbed, addr.Port())
		rec.mu.Unlock()
		return banners[addr.Port()], nil
	}
	d.inspect = func(_ context.Context, addr netip.AddrPort, serverName string, _ time.Duration) TLSInfo {
		rec.mu.Lock()
		rec.inspected = append(rec.inspected, addr.Port())
		rec.serverName = serverName
		rec.mu.Unlock()
		return TLSInfo{Port: addr.Port(), Version: "TLS 1.3", ChainLength: 2}
	}
	return d
}

func TestDetectBannersAndTLS(t *testing.T) {
	rec := &recorder{}
	d := newTestDetector(Options{GrabBanners: true, InspectTLS: true, Concurrency: 2}, rec, map[uint16]string{
		22:   "SSH-2.0-OpenSSH_9.6",
		6379: "+PONG",
	})

	got := d.Detect(context.Background(), detectSession())
	require.Len(t, got, 4)

	assert.Equal(t, uint16(22), got[0].Port)
	assert.Equal(t, "ssh", got[0].Name)
	assert.Equal(t, "OpenSSH", got[0].Product)
	assert.Equal(t, "SSH-2.0-OpenSSH_9.6", got[0].Banner)

	assert.Equal(t, uint16(443), got[1].Port)
	assert.Equal(t, "https", got[1].Name)
	require.NotNil(t, got[1].TLS)
	assert.Equal(t, "TLS 1.3", got[1].TLS.Version)
	assert.Empty(t, got[1].Banner)

	assert.Equal(t, uint16(6379), got[2].Port)
	assert.Equal(t, "redis", got[2].Name)

	assert.Equal(t, uint16(53), got[3].Port)
	assert.Equal(t, probe.ProtocolUDP, got[3].Protocol)
	assert.Equal(t, "dns", got[3].Name)

	assert.ElementsMatch(t, []uint16{22, 6379}, rec.grabbed)
	assert.Equal(t, []uint16{443}, rec.inspected)
	assert.Equal(t, "host.example", rec.serverName)
}

func TestDetectNamesOnly(t *testing.T) {
	rec := &recorder{}
	d := newTestDetector(Options{}, rec, nil)

	got := d.Detect(context.Background(), detectSession())
	require.Len(t, got, 4)
	for _, s := range got {
		assert.Empty(t, s.Banner)
		assert.Nil(t, s.TLS)
	}
	assert.Equal(t, "redis", got[2].Name)
	assert.Empty(t, rec.grabbed)
	assert.Empty(t, rec.inspected)
}

func TestDetectNoOpenPorts(t *testing.T) {
	d := NewDetector(Options{GrabBanners: true}, logging.Discard())
	got := d.Detect(context.Background(), &scanning.ScanSession{})
	assert.Empty(t, got)
}

func TestNewDetectorDefaults(t *testing.T) {
	d := NewDetector(Options{}, nil)
	assert.Equal(t, DefaultTimeout, d.opts.Timeout)
	assert.Equal(t, DefaultConcurrency, d.opts.Concurrency)
}
