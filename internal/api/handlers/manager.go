package handlers

import (
	"context"
	stderrors "errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/anstrom/portscope/internal/errors"
	"github.com/anstrom/portscope/internal/logging"
	"github.com/anstrom/portscope/internal/portspec"
	"github.com/anstrom/portscope/internal/probe"
	"github.com/anstrom/portscope/internal/scanning"
	"github.com/anstrom/portscope/internal/services"
)

const (
	defaultMaxHistory = 256
	saveTimeout       = 10 * time.Second
)

// ErrTooManyScans is returned by Start when every scan slot is taken.
var ErrTooManyScans = stderrors.New("too many concurrent scans")

// RunStatus is the lifecycle state of a scan started through the API.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunCancelled RunStatus = "cancelled"
	RunFailed    RunStatus = "failed"
)

// Runner runs one scan session. *scanning.Engine satisfies it.
type Runner interface {
	Run(ctx context.Context, cfg scanning.ScanConfig, opts ...scanning.RunOption) (*scanning.ScanSession, error)
}

// SessionStore persists finished sessions. *db.SessionRepository
// satisfies it.
type SessionStore interface {
	Save(ctx context.Context, s *scanning.ScanSession) error
	Get(ctx context.Context, id uuid.UUID) (*scanning.ScanSession, error)
}

// Detector identifies services on the open ports of a finished session.
// *services.Detector satisfies it.
type Detector interface {
	Detect(ctx context.Context, session *scanning.ScanSession) []services.ServiceInfo
}

// ScanRequest is the body of POST /scans.
type ScanRequest struct {
	Target      string `json:"target" validate:"required,max=253"`
	Hostname    string `json:"hostname,omitempty" validate:"omitempty,max=253"`
	Ports       string `json:"ports,omitempty" validate:"omitempty,max=4096"`
	Technique   string `json:"technique,omitempty" validate:"omitempty,oneof=connect tcp syn fin xmas null udp"`
	Concurrency int    `json:"concurrency,omitempty" validate:"omitempty,min=1,max=65535"`
	TimeoutMS   int    `json:"timeout_ms,omitempty" validate:"omitempty,min=1,max=60000"`
	UDPPayloads *bool  `json:"udp_payloads,omitempty"`
	Services    bool   `json:"services,omitempty"`
}

// ScanInfo describes a scan started through the API. Session is set once
// the scan has finished and the caller asked for it.
type ScanInfo struct {
	ID             uuid.UUID              `json:"id"`
	Status         RunStatus              `json:"status"`
	Target         string                 `json:"target"`
	Technique      probe.Technique        `json:"technique"`
	PortsRequested int                    `json:"ports_requested"`
	PortsCompleted int                    `json:"ports_completed"`
	StartedAt      time.Time              `json:"started_at"`
	FinishedAt     *time.Time             `json:"finished_at,omitempty"`
	Error          string                 `json:"error,omitempty"`
	Session        *scanning.ScanSession  `json:"session,omitempty"`
	Services       []services.ServiceInfo `json:"services,omitempty"`
}

// scanRun tracks one running or finished scan. Results accumulate in
// arrival order; changed is closed and replaced on every update so that
// streams can wait for new results without missing any.
type scanRun struct {
	id             uuid.UUID
	target         string
	technique      probe.Technique
	portsRequested int
	startedAt      time.Time
	detect         bool
	cancel         context.CancelFunc
	done           chan struct{}

	mu         sync.Mutex
	results    []scanning.PortResult
	changed    chan struct{}
	status     RunStatus
	finishedAt time.Time
	session    *scanning.ScanSession
	services   []services.ServiceInfo
	err        error
}

func (r *scanRun) record(res scanning.PortResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.results = append(r.results, res)
	close(r.changed)
	r.changed = make(chan struct{})
}

func (r *scanRun) finish(session *scanning.ScanSession, svc []services.ServiceInfo, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.finishedAt = time.Now().UTC()
	r.err = err
	r.session = session
	r.services = svc
	switch {
	case err != nil:
		r.status = RunFailed
	case session.Status == scanning.StatusCancelled:
		r.status = RunCancelled
	default:
		r.status = RunCompleted
	}
	close(r.changed)
	close(r.done)
}

// snapshot returns the results recorded after the first from, a channel
// closed on the next update, and whether the run has finished.
func (r *scanRun) snapshot(from int) ([]scanning.PortResult, <-chan struct{}, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var fresh []scanning.PortResult
	if from < len(r.results) {
		fresh = slices.Clone(r.results[from:])
	}
	return fresh, r.changed, r.status != RunRunning
}

func (r *scanRun) finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

func (r *scanRun) info(withSession bool) *ScanInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	info := &ScanInfo{
		ID:             r.id,
		Status:         r.status,
		Target:         r.target,
		Technique:      r.technique,
		PortsRequested: r.portsRequested,
		PortsCompleted: len(r.results),
		StartedAt:      r.startedAt,
	}
	if r.status != RunRunning {
		finished := r.finishedAt
		info.FinishedAt = &finished
	}
	if r.err != nil {
		info.Error = r.err.Error()
	}
	if r.session != nil {
		info.PortsCompleted = r.session.PortsCompleted
		if withSession {
			info.Session = r.session
			info.Services = r.services
		}
	}
	return info
}

func infoFromSession(s *scanning.ScanSession) *ScanInfo {
	status := RunCompleted
	if s.Status == scanning.StatusCancelled {
		status = RunCancelled
	}
	finished := s.FinishedAt
	target := s.Target.Hostname
	if target == "" {
		target = s.Target.IP.String()
	}
	return &ScanInfo{
		ID:             s.ID,
		Status:         status,
		Target:         target,
		Technique:      s.Technique,
		PortsRequested: s.PortsRequested,
		PortsCompleted: s.PortsCompleted,
		StartedAt:      s.StartedAt,
		FinishedAt:     &finished,
		Session:        s,
	}
}

// ManagerOption configures a ScanManager.
type ManagerOption func(*ScanManager)

// WithStore persists finished sessions and serves older ones.
func WithStore(store SessionStore) ManagerOption {
	return func(m *ScanManager) { m.store = store }
}

// WithDetector enables service detection for requests that ask for it.
func WithDetector(d Detector) ManagerOption {
	return func(m *ScanManager) { m.detector = d }
}

// WithDefaults sets the scan settings used when a request omits them.
func WithDefaults(cfg scanning.ScanConfig) ManagerOption {
	return func(m *ScanManager) { m.defaults = cfg }
}

// WithHistory bounds how many finished scans are kept in memory.
func WithHistory(n int) ManagerOption {
	return func(m *ScanManager) {
		if n > 0 {
			m.maxHistory = n
		}
	}
}

// WithManagerLogger sets the logger.
func WithManagerLogger(l *logging.Logger) ManagerOption {
	return func(m *ScanManager) {
		if l != nil {
			m.logger = l
		}
	}
}

// ScanManager starts scans in the background and tracks them until they
// are evicted from its history.
type ScanManager struct {
	runner     Runner
	limiter    scanning.SessionLimiter
	store      SessionStore
	detector   Detector
	defaults   scanning.ScanConfig
	maxHistory int
	logger     *logging.Logger
	validate   *validator.Validate

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.RWMutex
	runs  map[uuid.UUID]*scanRun
	order []uuid.UUID
}

// NewScanManager creates a manager that runs scans with runner, at most
// as many at once as limiter allows.
func NewScanManager(runner Runner, limiter scanning.SessionLimiter, opts ...ManagerOption) *ScanManager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &ScanManager{
		runner:     runner,
		limiter:    limiter,
		maxHistory: defaultMaxHistory,
		logger:     logging.Default(),
		validate:   newRequestValidator(),
		ctx:        ctx,
		cancel:     cancel,
		runs:       make(map[uuid.UUID]*scanRun),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.WithComponent("scan-manager")
	return m
}

func newRequestValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks a request and turns it into an engine configuration.
// It also returns the number of ports the scan will probe.
func (m *ScanManager) Validate(req ScanRequest) (scanning.ScanConfig, int, error) {
	if err := m.validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if stderrors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return scanning.ScanConfig{}, 0, errors.NewScanError(errors.CodeValidation,
				fmt.Sprintf("%s failed %q validation", fe.Field(), fe.Tag()))
		}
		return scanning.ScanConfig{}, 0, errors.WrapScanError(errors.CodeValidation, "invalid scan request", err)
	}

	cfg := m.defaults
	cfg.Target = strings.TrimSpace(req.Target)
	cfg.Hostname = req.Hostname
	if req.Ports != "" {
		cfg.Ports = req.Ports
	}
	if req.Technique != "" {
		technique, err := probe.ParseTechnique(req.Technique)
		if err != nil {
			return scanning.ScanConfig{}, 0, errors.WrapScanError(errors.CodeValidation, "invalid technique", err)
		}
		cfg.Technique = technique
	}
	if req.Concurrency > 0 {
		cfg.Concurrency = req.Concurrency
	}
	if req.TimeoutMS > 0 {
		cfg.Timeout = time.Duration(req.TimeoutMS) * time.Millisecond
	}
	if req.UDPPayloads != nil {
		cfg.UDPPayloads = *req.UDPPayloads
	}
	if cfg.Ports == "" {
		cfg.Ports = scanning.DefaultPorts
	}
	if cfg.Technique == 0 {
		cfg.Technique = probe.Connect
	}

	parse := portspec.Parse
	if cfg.Technique == probe.UDP {
		parse = portspec.ParseUDP
	}
	spec, err := parse(cfg.Ports)
	if err != nil {
		return scanning.ScanConfig{}, 0, err
	}
	return cfg, spec.Len(), nil
}

// Start validates req and launches the scan in the background.
func (m *ScanManager) Start(req ScanRequest) (*ScanInfo, error) {
	cfg, ports, err := m.Validate(req)
	if err != nil {
		return nil, err
	}
	if m.ctx.Err() != nil {
		return nil, errors.NewScanError(errors.CodeCanceled, "scan manager is shutting down")
	}

	id := uuid.New()
	if !m.limiter.TryAcquire(id.String()) {
		return nil, ErrTooManyScans
	}

	ctx, cancel := context.WithCancel(m.ctx)
	run := &scanRun{
		id:             id,
		target:         cfg.Target,
		technique:      cfg.Technique,
		portsRequested: ports,
		startedAt:      time.Now().UTC(),
		detect:         req.Services,
		cancel:         cancel,
		done:           make(chan struct{}),
		changed:        make(chan struct{}),
		status:         RunRunning,
	}

	m.mu.Lock()
	m.runs[id] = run
	m.order = append(m.order, id)
	m.evictLocked()
	m.mu.Unlock()

	m.logger.InfoScan("Scan accepted", cfg.Target,
		"session_id", id.String(),
		"technique", cfg.Technique.String(),
		"ports", ports)

	m.wg.Add(1)
	go m.execute(ctx, run, cfg)

	return run.info(false), nil
}

func (m *ScanManager) execute(ctx context.Context, run *scanRun, cfg scanning.ScanConfig) {
	defer m.wg.Done()

	session, found, err := m.scan(ctx, run, cfg)

	// The slot is free before waiters observe the outcome.
	m.limiter.Release(run.id.String())
	run.cancel()
	run.finish(session, found, err)
}

func (m *ScanManager) scan(ctx context.Context, run *scanRun, cfg scanning.ScanConfig) (*scanning.ScanSession, []services.ServiceInfo, error) {
	session, err := m.runner.Run(ctx, cfg,
		scanning.WithSessionID(run.id),
		scanning.WithProgress(run.record))
	if err != nil {
		m.logger.ErrorScan("Scan failed", cfg.Target, err, "session_id", run.id.String())
		return nil, nil, err
	}

	var found []services.ServiceInfo
	if run.detect && m.detector != nil && ctx.Err() == nil {
		found = m.detector.Detect(ctx, session)
	}

	if m.store != nil {
		saveCtx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()
		if err := m.store.Save(saveCtx, session); err != nil {
			m.logger.ErrorScan("Failed to store session", cfg.Target, err, "session_id", run.id.String())
		}
	}
	return session, found, nil
}

// evictLocked drops the oldest finished runs beyond the history bound.
func (m *ScanManager) evictLocked() {
	excess := len(m.order) - m.maxHistory
	if excess <= 0 {
		return
	}
	kept := m.order[:0]
	for _, id := range m.order {
		if excess > 0 && m.runs[id].finished() {
			delete(m.runs, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
}

func (m *ScanManager) lookup(id uuid.UUID) (*scanRun, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, ok := m.runs[id]
	return run, ok
}

// Get returns the scan with the given id, falling back to the store for
// scans no longer held in memory.
func (m *ScanManager) Get(ctx context.Context, id uuid.UUID) (*ScanInfo, error) {
	if run, ok := m.lookup(id); ok {
		return run.info(true), nil
	}
	if m.store != nil {
		session, err := m.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return infoFromSession(session), nil
	}
	return nil, errors.ErrNotFound("scan", id.String())
}

// List returns the scans held in memory, newest first.
func (m *ScanManager) List() []*ScanInfo {
	m.mu.RLock()
	runs := make([]*scanRun, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		runs = append(runs, m.runs[m.order[i]])
	}
	m.mu.RUnlock()

	out := make([]*ScanInfo, 0, len(runs))
	for _, run := range runs {
		out = append(out, run.info(false))
	}
	return out
}

// Cancel stops a running scan. The scan finishes with status cancelled
// once in-flight probes have drained.
func (m *ScanManager) Cancel(id uuid.UUID) (*ScanInfo, error) {
	run, ok := m.lookup(id)
	if !ok {
		return nil, errors.ErrNotFound("scan", id.String())
	}
	if run.finished() {
		return nil, errors.NewScanError(errors.CodeConflict, "scan "+id.String()+" has already finished")
	}
	run.cancel()
	m.logger.InfoScan("Scan cancellation requested", run.target, "session_id", id.String())
	return run.info(false), nil
}

// Wait blocks until the scan finishes or ctx is done.
func (m *ScanManager) Wait(ctx context.Context, id uuid.UUID) (*ScanInfo, error) {
	run, ok := m.lookup(id)
	if !ok {
		return nil, errors.ErrNotFound("scan", id.String())
	}
	select {
	case <-run.done:
		return run.info(true), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Session returns the frozen session of a finished scan.
func (m *ScanManager) Session(ctx context.Context, id uuid.UUID) (*scanning.ScanSession, error) {
	if run, ok := m.lookup(id); ok {
		info := run.info(true)
		switch {
		case info.Status == RunRunning:
			return nil, errors.NewScanError(errors.CodeConflict, "scan "+id.String()+" is still running")
		case info.Session == nil:
			return nil, errors.NewScanError(errors.CodeConflict, "scan "+id.String()+" failed: "+info.Error)
		}
		return info.Session, nil
	}
	if m.store != nil {
		return m.store.Get(ctx, id)
	}
	return nil, errors.ErrNotFound("scan", id.String())
}

// Active returns the number of scans currently running.
func (m *ScanManager) Active() int {
	return m.limiter.Active()
}

// Shutdown cancels every running scan and waits for them to finish.
func (m *ScanManager) Shutdown(ctx context.Context) error {
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.WrapScanError(errors.CodeTimeout, "timed out waiting for scans to stop", ctx.Err())
	}
}
