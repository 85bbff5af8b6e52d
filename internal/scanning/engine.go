package scanning

import (
	"context"
	stderrors "errors"
	"net/netip"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/anstrom/portscope/internal/errors"
	"github.com/anstrom/portscope/internal/logging"
	"github.com/anstrom/portscope/internal/payloads"
	"github.com/anstrom/portscope/internal/portspec"
	"github.com/anstrom/portscope/internal/probe"
	"github.com/anstrom/portscope/internal/resolve"
	"github.com/anstrom/portscope/internal/transport"
)

// Transport is a probe transport bound to one session.
type Transport interface {
	probe.Transport
	Close() error
}

// TransportFactory opens the transport for a session. capacity is the
// maximum number of concurrent probes and privileged the result of the
// session's privilege check.
type TransportFactory func(technique probe.Technique, target netip.Addr, capacity int, privileged bool) (Transport, error)

// Resolver resolves a scan target to an address.
type Resolver interface {
	Resolve(ctx context.Context, target string) (netip.Addr, error)
}

// Engine runs scan sessions.
type Engine struct {
	transports TransportFactory
	privileged func() bool
	resolver   Resolver
	payloadFor func(port uint16) []byte
	logger     *logging.Logger
	metrics    MetricsRecorder
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithTransportFactory replaces the OS transports.
func WithTransportFactory(f TransportFactory) EngineOption {
	return func(e *Engine) { e.transports = f }
}

// WithPrivilegeProbe replaces the raw-socket capability check.
func WithPrivilegeProbe(f func() bool) EngineOption {
	return func(e *Engine) { e.privileged = f }
}

// WithResolver replaces the system resolver.
func WithResolver(r Resolver) EngineOption {
	return func(e *Engine) { e.resolver = r }
}

// WithLogger sets the engine logger.
func WithLogger(l *logging.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) EngineOption {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// NewEngine creates an engine using the OS transports, the system resolver
// and the process's real privileges unless overridden.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		privileged: transport.CanOpenRawSockets,
		resolver:   resolve.New(resolve.Config{}),
		payloadFor: payloads.For,
		logger:     logging.Default(),
		metrics:    nopMetrics{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.transports == nil {
		e.transports = e.openTransport
	}
	return e
}

func (e *Engine) openTransport(technique probe.Technique, target netip.Addr, capacity int, privileged bool) (Transport, error) {
	return transport.Open(technique, target, capacity, privileged, e.logger)
}

type runOptions struct {
	id       uuid.UUID
	progress func(PortResult)
	observe  probe.Observer
	grace    time.Duration
}

// RunOption configures a single Run.
type RunOption func(*runOptions)

// WithSessionID fixes the session id instead of generating one.
func WithSessionID(id uuid.UUID) RunOption {
	return func(o *runOptions) { o.id = id }
}

// WithProgress registers a hook called for every accepted result. It runs
// on the aggregator goroutine and must not block.
func WithProgress(f func(PortResult)) RunOption {
	return func(o *runOptions) { o.progress = f }
}

// WithObserver registers a hook for every probe phase transition.
func WithObserver(f probe.Observer) RunOption {
	return func(o *runOptions) { o.observe = f }
}

// WithGracePeriod overrides the configured cancellation grace period.
func WithGracePeriod(d time.Duration) RunOption {
	return func(o *runOptions) { o.grace = d }
}

// Run executes one scan session. Session-level failures are returned
// before any probe is sent: InvalidPortSpec, PermissionDenied,
// TargetUnresolvable or SocketError. A cancelled scan is not an error; the
// session comes back with status cancelled and the unscanned ports listed.
func (e *Engine) Run(ctx context.Context, cfg ScanConfig, opts ...RunOption) (*ScanSession, error) {
	cfg = cfg.withDefaults()
	ro := runOptions{id: uuid.New(), grace: cfg.GracePeriod}
	for _, opt := range opts {
		opt(&ro)
	}

	technique := cfg.Technique.String()
	logger := e.logger.WithComponent("engine").
		WithSessionID(ro.id.String()).
		WithTechnique(technique)

	fail := func(err error) (*ScanSession, error) {
		e.metrics.IncrementScanErrors(technique, string(errors.GetCode(err)))
		logger.ErrorScan("Scan aborted", cfg.Target, err)
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return fail(err)
	}

	parse := portspec.Parse
	if cfg.Technique == probe.UDP {
		parse = portspec.ParseUDP
	}
	spec, err := parse(cfg.Ports)
	if err != nil {
		return fail(err)
	}

	privileged := e.privileged()
	if cfg.Technique.RequiresRawSocket() && !privileged {
		return fail(errors.ErrPermissionDenied(technique))
	}

	addr, err := e.resolver.Resolve(ctx, cfg.Target)
	if err != nil {
		if !errors.IsCode(err, errors.CodeTargetUnresolvable) {
			err = errors.ErrTargetUnresolvable(cfg.Target, err)
		}
		return fail(err)
	}

	capacity := min(cfg.Concurrency, spec.Len())
	tr, err := e.transports(cfg.Technique, addr, capacity, privileged)
	if err != nil {
		var scanErr *errors.ScanError
		if !stderrors.As(err, &scanErr) {
			err = errors.ErrSocket(addr.String(), "open transport", err)
		}
		return fail(err)
	}
	defer func() {
		if err := tr.Close(); err != nil {
			logger.Warn("Failed to close transport", "error", err)
		}
	}()

	hostname := cfg.Hostname
	if hostname == "" {
		if _, err := netip.ParseAddr(strings.Trim(cfg.Target, "[]")); err != nil {
			hostname = cfg.Target
		}
	}

	session := &ScanSession{
		SchemaVersion:  SchemaVersion,
		ID:             ro.id,
		Target:         ScanTarget{IP: addr, Hostname: hostname},
		Technique:      cfg.Technique,
		StartedAt:      time.Now().UTC(),
		PortsRequested: spec.Len(),
	}

	reqs := make([]probe.Request, 0, spec.Len())
	for _, port := range spec.Ports() {
		req := probe.Request{Target: addr, Port: port, Technique: cfg.Technique, Timeout: cfg.Timeout}
		if cfg.Technique == probe.UDP && cfg.UDPPayloads {
			req.Payload = e.payloadFor(port)
		}
		reqs = append(reqs, req)
	}

	logger.InfoScan("Scan started", cfg.Target,
		"address", addr.String(),
		"ports", spec.Len(),
		"concurrency", cfg.Concurrency,
		"timeout", cfg.Timeout)
	e.metrics.ScanStarted()
	defer e.metrics.ScanFinished()

	agg := newAggregator(session, len(reqs), ro.progress)
	agg.start()

	sched := &scheduler{
		concurrency: cfg.Concurrency,
		grace:       ro.grace,
		observe:     ro.observe,
		logger:      logger,
		metrics:     e.metrics,
	}
	sched.run(ctx, tr, reqs, agg.in)
	close(agg.in)

	session = agg.finalize(time.Now().UTC())
	status := session.Status

	e.metrics.IncrementScansTotal(technique, string(status))
	e.metrics.RecordScanDuration(technique, session.Duration())
	if n := len(session.Cancelled); n > 0 {
		e.metrics.AddPortsCancelled(technique, n)
	}

	counts := session.StateCounts()
	logger.InfoScan("Scan finished", cfg.Target,
		"address", addr.String(),
		"status", status,
		"duration", session.Duration(),
		"open", counts[probe.Open],
		"closed", counts[probe.Closed],
		"filtered", counts[probe.Filtered],
		"open_filtered", counts[probe.OpenOrFiltered],
		"cancelled", len(session.Cancelled))
	return session, nil
}

// RunScan scans target with a default engine.
func RunScan(ctx context.Context, target, portSpec string, technique probe.Technique,
	concurrency int, timeout time.Duration, hostname string) (*ScanSession, error) {
	return NewEngine().Run(ctx, ScanConfig{
		Target:      target,
		Hostname:    hostname,
		Ports:       portSpec,
		Technique:   technique,
		Concurrency: concurrency,
		Timeout:     timeout,
		UDPPayloads: true,
	})
}
