// Package resolve turns a scan target into an IP address, either through
// the system resolver or by querying a configured DNS server directly.
package resolve

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/anstrom/portscope/internal/errors"
)

const defaultTimeout = 5 * time.Second

// Config selects the resolution strategy.
type Config struct {
	// Server is a DNS server as host:port. Empty uses the system resolver.
	Server     string
	Timeout    time.Duration
	PreferIPv6 bool
}

// Resolver resolves hostnames to a single address.
type Resolver struct {
	cfg    Config
	client *dns.Client
	system *net.Resolver
}

// New creates a resolver.
func New(cfg Config) *Resolver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Resolver{
		cfg:    cfg,
		client: &dns.Client{Net: "udp", Timeout: cfg.Timeout},
		system: net.DefaultResolver,
	}
}

// Resolve returns the address for target. IP literals are returned as
// is. Failures are TargetUnresolvable errors.
func (r *Resolver) Resolve(ctx context.Context, target string) (netip.Addr, error) {
	host := strings.TrimSpace(target)
	if host == "" {
		return netip.Addr{}, errors.ErrTargetUnresolvable(target, fmt.Errorf("empty target"))
	}
	if addr, err := netip.ParseAddr(strings.Trim(host, "[]")); err == nil {
		return addr.Unmap(), nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	var (
		addrs []netip.Addr
		err   error
	)
	if r.cfg.Server != "" {
		addrs, err = r.lookupServer(ctx, host)
	} else {
		addrs, err = r.system.LookupNetIP(ctx, "ip", host)
	}
	if err != nil {
		return netip.Addr{}, errors.ErrTargetUnresolvable(target, err)
	}

	if addr, ok := r.pick(addrs); ok {
		return addr, nil
	}
	return netip.Addr{}, errors.ErrTargetUnresolvable(target, fmt.Errorf("no addresses for %s", host))
}

func (r *Resolver) pick(addrs []netip.Addr) (netip.Addr, bool) {
	var fallback netip.Addr
	for _, a := range addrs {
		a = a.Unmap()
		if a.Is6() == r.cfg.PreferIPv6 {
			return a, true
		}
		if !fallback.IsValid() {
			fallback = a
		}
	}
	return fallback, fallback.IsValid()
}

func (r *Resolver) lookupServer(ctx context.Context, host string) ([]netip.Addr, error) {
	types := []uint16{dns.TypeA, dns.TypeAAAA}
	if r.cfg.PreferIPv6 {
		types = []uint16{dns.TypeAAAA, dns.TypeA}
	}

	var (
		addrs   []netip.Addr
		lastErr error
	)
	for _, qtype := range types {
		found, err := r.query(ctx, host, qtype)
		if err != nil {
			lastErr = err
			continue
		}
		addrs = append(addrs, found...)
	}
	if len(addrs) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return addrs, nil
}

func (r *Resolver) query(ctx context.Context, host string, qtype uint16) ([]netip.Addr, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), qtype)

	resp, _, err := r.client.ExchangeContext(ctx, m, r.cfg.Server)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", r.cfg.Server, err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("%s lookup for %s: %s", dns.TypeToString[qtype], host, dns.RcodeToString[resp.Rcode])
	}

	var addrs []netip.Addr
	for _, rr := range resp.Answer {
		var ip net.IP
		switch v := rr.(type) {
		case *dns.A:
			ip = v.A
		case *dns.AAAA:
			ip = v.AAAA
		default:
			continue
		}
		if a, ok := netip.AddrFromSlice(ip); ok {
			addrs = append(addrs, a.Unmap())
		}
	}
	return addrs, nil
}
