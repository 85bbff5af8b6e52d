// Package workers runs batch jobs on a fixed pool of goroutines. The batch
// scanner uses it to scan several targets at once, one session per job.
package workers

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anstrom/portscope/internal/errors"
	"github.com/anstrom/portscope/internal/logging"
)

// Job represents a unit of work to be executed by a worker.
type Job interface {
	// Execute performs the job and returns an error if it fails.
	Execute(ctx context.Context) error
	// ID returns a unique identifier for the job.
	ID() string
	// Type returns the job type for metrics and logging.
	Type() string
}

// Result represents the result of executing a job.
type Result struct {
	Job      Job
	Error    error
	Duration time.Duration
	Retries  int
}

// MetricsRecorder receives pool metrics. *metrics.PrometheusMetrics
// satisfies it.
type MetricsRecorder interface {
	RecordJob(jobType, status string, duration time.Duration)
	SetWorkers(count int)
}

type nopMetrics struct{}

func (nopMetrics) RecordJob(string, string, time.Duration) {}
func (nopMetrics) SetWorkers(int)                          {}

// Config holds configuration for the worker pool.
type Config struct {
	// Size is the number of worker goroutines to create.
	Size int
	// QueueSize is the maximum number of jobs that can be queued.
	QueueSize int
	// MaxRetries is the maximum number of retries for failed jobs. Fatal
	// errors are never retried.
	MaxRetries int
	// RetryDelay is the delay between retries.
	RetryDelay time.Duration
	// ShutdownTimeout bounds how long Shutdown waits for queued jobs before
	// cancelling the ones still running.
	ShutdownTimeout time.Duration
	// RateLimit is the maximum number of jobs started per second (0 = no limit).
	RateLimit int
}

// DefaultConfig returns a default worker pool configuration.
func DefaultConfig() Config {
	return Config{
		Size:            4,
		QueueSize:       256,
		MaxRetries:      0,
		RetryDelay:      time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the pool logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(p *Pool) {
		if m != nil {
			p.metrics = m
		}
	}
}

// Pool manages a pool of worker goroutines for concurrent job execution.
type Pool struct {
	config      Config
	jobs        chan Job
	results     chan Result
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	rateLimiter *time.Ticker
	logger      *logging.Logger
	metrics     MetricsRecorder

	mu        sync.RWMutex // guards closing jobs against Submit
	closed    bool
	startOnce sync.Once
	stopOnce  sync.Once
	running   atomic.Int32
}

// New creates a new worker pool with the given configuration.
func New(config Config, opts ...Option) *Pool {
	if config.Size <= 0 {
		config.Size = 1
	}
	if config.QueueSize < 0 {
		config.QueueSize = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	pool := &Pool{
		config:  config,
		jobs:    make(chan Job, config.QueueSize),
		results: make(chan Result, config.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
		logger:  logging.Default(),
		metrics: nopMetrics{},
	}
	for _, opt := range opts {
		opt(pool)
	}
	pool.logger = pool.logger.WithComponent("workers")

	if config.RateLimit > 0 {
		pool.rateLimiter = time.NewTicker(time.Second / time.Duration(config.RateLimit))
	}
	return pool
}

// Start begins the worker pool operations.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		p.logger.Info("Starting worker pool",
			"worker_count", p.config.Size,
			"queue_size", p.config.QueueSize,
			"rate_limit", p.config.RateLimit)

		for i := 0; i < p.config.Size; i++ {
			p.wg.Add(1)
			go p.work(i)
		}
		p.metrics.SetWorkers(p.config.Size)
	})
}

// Submit adds a job to the worker pool queue. It fails when the queue is
// full or the pool is shutting down.
func (p *Pool) Submit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return errors.NewScanError(errors.CodeCanceled, "worker pool is shut down")
	}

	select {
	case p.jobs <- job:
		p.logger.Debug("Job submitted to worker pool",
			"job_id", job.ID(),
			"job_type", job.Type())
		return nil
	default:
		return errors.NewScanError(errors.CodeConflict, "job queue is full")
	}
}

// Results returns the channel of job results. It is closed once the pool
// has shut down and every worker has exited. Workers block on it, so the
// caller must drain it.
func (p *Pool) Results() <-chan Result {
	return p.results
}

// Running returns the number of jobs executing right now.
func (p *Pool) Running() int {
	return int(p.running.Load())
}

// Shutdown stops accepting jobs, lets the queue drain and waits for the
// workers. Jobs still running after ShutdownTimeout are cancelled.
func (p *Pool) Shutdown() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	p.logger.Info("Shutting down worker pool")

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var err error
	if p.config.ShutdownTimeout > 0 {
		timer := time.NewTimer(p.config.ShutdownTimeout)
		select {
		case <-done:
			timer.Stop()
		case <-timer.C:
			p.logger.Warn("Worker pool shutdown timeout, cancelling running jobs")
			err = fmt.Errorf("worker pool shutdown timed out after %s", p.config.ShutdownTimeout)
			p.Stop()
			<-done
		}
	} else {
		<-done
	}

	p.Stop()
	close(p.results)
	if p.rateLimiter != nil {
		p.rateLimiter.Stop()
	}
	p.metrics.SetWorkers(0)
	p.logger.Info("Worker pool shutdown completed")
	return err
}

// Stop cancels running jobs. Queued jobs that have not started yet are
// reported with a cancellation error. Shutdown must still be called to
// release the workers.
func (p *Pool) Stop() {
	p.stopOnce.Do(p.cancel)
}

func (p *Pool) work(id int) {
	defer p.wg.Done()

	p.logger.Debug("Worker started", "worker_id", id)
	defer p.logger.Debug("Worker stopped", "worker_id", id)

	for job := range p.jobs {
		p.publish(p.execute(id, job))
	}
}

// publish hands a result to the consumer.
func (p *Pool) publish(r Result) {
	p.results <- r
}

// execute runs one job with retry logic.
func (p *Pool) execute(workerID int, job Job) Result {
	res := Result{Job: job}

	if err := p.ctx.Err(); err != nil {
		res.Error = errors.WrapScanError(errors.CodeCanceled, "job cancelled before start", err)
		p.metrics.RecordJob(job.Type(), "cancelled", 0)
		return res
	}

	if p.rateLimiter != nil {
		select {
		case <-p.rateLimiter.C:
		case <-p.ctx.Done():
			res.Error = errors.WrapScanError(errors.CodeCanceled, "job cancelled before start", p.ctx.Err())
			p.metrics.RecordJob(job.Type(), "cancelled", 0)
			return res
		}
	}

	p.running.Add(1)
	defer p.running.Add(-1)

	start := time.Now()
	for attempt := 0; ; attempt++ {
		err := job.Execute(p.ctx)
		res.Duration = time.Since(start)
		res.Retries = attempt

		if err == nil {
			res.Error = nil
			p.metrics.RecordJob(job.Type(), "success", res.Duration)
			p.logger.Debug("Job completed successfully",
				"job_id", job.ID(),
				"job_type", job.Type(),
				"duration", res.Duration,
				"worker_id", workerID,
				"retries", attempt)
			return res
		}

		res.Error = err
		if attempt >= p.config.MaxRetries || errors.IsFatal(err) || p.ctx.Err() != nil {
			break
		}

		p.logger.Debug("Job failed, retrying",
			"job_id", job.ID(),
			"job_type", job.Type(),
			"attempt", attempt+1,
			"max_retries", p.config.MaxRetries,
			"error", err)

		select {
		case <-time.After(p.config.RetryDelay):
		case <-p.ctx.Done():
			p.metrics.RecordJob(job.Type(), "error", res.Duration)
			return res
		}
	}

	p.metrics.RecordJob(job.Type(), "error", res.Duration)
	p.logger.Error("Job failed",
		"job_id", job.ID(),
		"job_type", job.Type(),
		"retries", res.Retries,
		"error", res.Error,
		"worker_id", workerID)
	return res
}
