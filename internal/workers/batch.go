package workers

import (
	"context"
	"strconv"
	"time"

	"github.com/anstrom/portscope/internal/logging"
	"github.com/anstrom/portscope/internal/scanning"
)

// Runner runs one scan session. *scanning.Engine satisfies it.
type Runner interface {
	Run(ctx context.Context, cfg scanning.ScanConfig, opts ...scanning.RunOption) (*scanning.ScanSession, error)
}

// ScanJob scans one target.
type ScanJob struct {
	id      string
	index   int
	cfg     scanning.ScanConfig
	runner  Runner
	opts    []scanning.RunOption
	session *scanning.ScanSession
}

// NewScanJob creates a job that scans cfg.Target with runner.
func NewScanJob(id string, cfg scanning.ScanConfig, runner Runner, opts ...scanning.RunOption) *ScanJob {
	return &ScanJob{id: id, cfg: cfg, runner: runner, opts: opts}
}

// Execute implements the Job interface.
func (j *ScanJob) Execute(ctx context.Context) error {
	session, err := j.runner.Run(ctx, j.cfg, j.opts...)
	if err != nil {
		return err
	}
	j.session = session
	return nil
}

// ID implements the Job interface.
func (j *ScanJob) ID() string {
	return j.id
}

// Type implements the Job interface.
func (j *ScanJob) Type() string {
	return "scan"
}

// Target returns the scanned target.
func (j *ScanJob) Target() string {
	return j.cfg.Target
}

// Session returns the session produced by the job, or nil if it failed.
// It is safe to call once the job's Result has been received.
func (j *ScanJob) Session() *scanning.ScanSession {
	return j.session
}

// TargetResult is the outcome of scanning one target of a batch.
type TargetResult struct {
	Target  string
	Session *scanning.ScanSession
	Err     error
}

// BatchOptions configures ScanTargets.
type BatchOptions struct {
	// Parallel is the number of targets scanned at once.
	Parallel int
	// Retries re-runs a target whose session failed with a non-fatal
	// error. Probes inside a session are never retried.
	Retries    int
	RetryDelay time.Duration
	Logger     *logging.Logger
	Metrics    MetricsRecorder
	// OnResult is called for every finished target, in completion order.
	OnResult func(TargetResult)
}

// ScanTargets scans every target with the same configuration, Parallel at
// a time. Cancelling ctx cancels running sessions, which still return
// their partial results. The returned slice follows the order of targets.
func ScanTargets(ctx context.Context, runner Runner, targets []string, cfg scanning.ScanConfig, opts BatchOptions) []TargetResult {
	cfgPool := DefaultConfig()
	if opts.Parallel > 0 {
		cfgPool.Size = opts.Parallel
	}
	cfgPool.QueueSize = len(targets)
	cfgPool.MaxRetries = opts.Retries
	if opts.RetryDelay > 0 {
		cfgPool.RetryDelay = opts.RetryDelay
	}
	cfgPool.ShutdownTimeout = 0

	poolOpts := []Option{WithMetrics(opts.Metrics)}
	if opts.Logger != nil {
		poolOpts = append(poolOpts, WithLogger(opts.Logger))
	}
	pool := New(cfgPool, poolOpts...)
	pool.Start()
	stop := context.AfterFunc(ctx, pool.Stop)
	defer stop()

	results := make([]TargetResult, len(targets))
	for i, target := range targets {
		c := cfg
		c.Target = target
		job := NewScanJob("target-"+strconv.Itoa(i), c, runner)
		job.index = i
		if err := pool.Submit(job); err != nil {
			results[i] = TargetResult{Target: target, Err: err}
		}
	}

	go func() { _ = pool.Shutdown() }()

	for r := range pool.Results() {
		job := r.Job.(*ScanJob)
		tr := TargetResult{Target: job.Target(), Session: job.Session(), Err: r.Error}
		results[job.index] = tr
		if opts.OnResult != nil {
			opts.OnResult(tr)
		}
	}
	return results
}
