package services

import (
	"context"
	"net/netip"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/anstrom/portscope/internal/logging"
	"github.com/anstrom/portscope/internal/probe"
	"github.com/anstrom/portscope/internal/scanning"
)

const (
	DefaultTimeout     = 2 * time.Second
	DefaultConcurrency = 20
)

// ServiceInfo describes the service found on one open port.
type ServiceInfo struct {
	Port     uint16         `json:"port"`
	Protocol probe.Protocol `json:"protocol"`
	Identification
	Banner string   `json:"banner,omitempty"`
	TLS    *TLSInfo `json:"tls,omitempty"`
}

// Options controls a detection run.
type Options struct {
	// GrabBanners connects to each open TCP port and reads its greeting.
	GrabBanners bool
	// InspectTLS performs a handshake on open ports listed in TLSPorts.
	InspectTLS  bool
	Timeout     time.Duration
	Concurrency int
}

// Detector identifies services on the open ports of a session.
type Detector struct {
	opts   Options
	logger *logging.Logger

	grab    func(ctx context.Context, addr netip.AddrPort, timeout time.Duration) (string, error)
	inspect func(ctx context.Context, addr netip.AddrPort, serverName string, timeout time.Duration) TLSInfo
}

// NewDetector creates a detector. Zero timeout and concurrency select the
// defaults.
func NewDetector(opts Options, logger *logging.Logger) *Detector {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Detector{
		opts:    opts,
		logger:  logger.WithComponent("services"),
		grab:    GrabBanner,
		inspect: InspectTLS,
	}
}

// Detect runs after a scan has finished and never touches the session.
// UDP ports get their default names only. The result is sorted by
// protocol and port.
func (d *Detector) Detect(ctx context.Context, session *scanning.ScanSession) []ServiceInfo {
	var open []scanning.PortResult
	for _, r := range session.Results {
		if r.State == probe.Open {
			open = append(open, r)
		}
	}

	addr := session.Target.IP
	serverName := session.Target.Hostname
	logger := d.logger.WithTarget(addr.String())

	results := make([]ServiceInfo, len(open))
	sem := semaphore.NewWeighted(int64(d.opts.Concurrency))
	var wg sync.WaitGroup

	for i, r := range open {
		results[i] = ServiceInfo{
			Port:           r.Port,
			Protocol:       r.Protocol,
			Identification: Identification{Name: DefaultName(r.Port, r.Protocol)},
		}
		if r.Protocol != probe.ProtocolTCP {
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(info *ServiceInfo) {
			defer wg.Done()
			defer sem.Release(1)
			d.detectTCP(ctx, logger, netip.AddrPortFrom(addr, info.Port), serverName, info)
		}(&results[i])
	}
	wg.Wait()

	slices.SortFunc(results, func(a, b ServiceInfo) int {
		if a.Protocol != b.Protocol {
			if a.Protocol < b.Protocol {
				return -1
			}
			return 1
		}
		return int(a.Port) - int(b.Port)
	})
	return results
}

func (d *Detector) detectTCP(ctx context.Context, logger *logging.Logger, addr netip.AddrPort, serverName string, info *ServiceInfo) {
	isTLS := TLSPorts[addr.Port()]

	if d.opts.InspectTLS && isTLS {
		tlsInfo := d.inspect(ctx, addr, serverName, d.opts.Timeout)
		info.TLS = &tlsInfo
		if len(tlsInfo.Errors) > 0 {
			logger.DebugProbe("TLS inspection failed", addr.Port(), "errors", tlsInfo.Errors)
		}
	}

	// A TLS port never greets in clear text.
	if !d.opts.GrabBanners || isTLS {
		return
	}
	banner, err := d.grab(ctx, addr, d.opts.Timeout)
	if err != nil {
		logger.DebugProbe("Banner grab failed", addr.Port(), "error", err)
		return
	}
	info.Banner = banner
	info.Identification = Identify(addr.Port(), banner)
}
