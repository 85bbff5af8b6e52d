// Package metrics provides Prometheus-based metrics collection for portscope.
// Every collector is registered on a private registry so tests can build
// isolated instances, while the process shares one through GetGlobalMetrics.
package metrics

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	// Namespace for all portscope metrics
	namespace = "portscope"

	// Subsystems
	subsystemProbe    = "probe"
	subsystemScan     = "scan"
	subsystemBatch    = "batch"
	subsystemDatabase = "database"
	subsystemSystem   = "system"
	subsystemAPI      = "api"
)

// PrometheusMetrics holds all Prometheus metric collectors
type PrometheusMetrics struct {
	// Probe metrics
	probesTotal    *prometheus.CounterVec
	probeDuration  *prometheus.HistogramVec
	probesInFlight prometheus.Gauge

	// Scan metrics
	scansTotal     *prometheus.CounterVec
	scanDuration   *prometheus.HistogramVec
	scanErrors     *prometheus.CounterVec
	portsCancelled *prometheus.CounterVec
	activeScans    prometheus.Gauge

	// Batch metrics
	jobsTotal   *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	workers     prometheus.Gauge

	// Database metrics
	dbQueries       *prometheus.CounterVec
	dbQueryDuration *prometheus.HistogramVec

	// API metrics
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	// System metrics
	memoryUsage prometheus.Gauge
	goroutines  prometheus.Gauge
	uptime      prometheus.Gauge

	startTime  time.Time
	lastUpdate time.Time
	mu         sync.RWMutex
	registry   *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance with all collectors
func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	pm := &PrometheusMetrics{
		startTime: time.Now(),
		registry:  registry,
	}

	pm.initProbeMetrics()
	pm.initScanMetrics()
	pm.initBatchMetrics()
	pm.initDatabaseMetrics()
	pm.initAPIMetrics()
	pm.initSystemMetrics()

	pm.registerMetrics()

	// Register standard Go and process collectors for runtime visibility
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return pm
}

func (pm *PrometheusMetrics) initProbeMetrics() {
	pm.probesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "total",
			Help:      "Total number of classified probes by technique and port state",
		},
		[]string{"technique", "state"},
	)

	pm.probeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "duration_seconds",
			Help:      "Time from send to classification for a single probe",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		},
		[]string{"technique"},
	)

	pm.probesInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "in_flight",
			Help:      "Number of probes currently awaiting a response",
		},
	)
}

func (pm *PrometheusMetrics) initScanMetrics() {
	pm.scansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "total",
			Help:      "Total number of scan sessions by technique and status",
		},
		[]string{"technique", "status"},
	)

	pm.scanDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "duration_seconds",
			Help:      "Duration of scan sessions in seconds",
			Buckets:   []float64{0.1, 0.5, 1.0, 5.0, 10.0, 30.0, 60.0, 300.0, 600.0},
		},
		[]string{"technique"},
	)

	pm.scanErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "errors_total",
			Help:      "Total number of session-level scan errors by technique and error code",
		},
		[]string{"technique", "error_type"},
	)

	pm.portsCancelled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "ports_cancelled_total",
			Help:      "Total number of requested ports left unscanned by cancellation",
		},
		[]string{"technique"},
	)

	pm.activeScans = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "active",
			Help:      "Number of currently running scan sessions",
		},
	)
}

func (pm *PrometheusMetrics) initBatchMetrics() {
	pm.jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemBatch,
			Name:      "jobs_total",
			Help:      "Total number of batch jobs by type and status",
		},
		[]string{"job_type", "status"},
	)

	pm.jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemBatch,
			Name:      "job_duration_seconds",
			Help:      "Duration of batch jobs in seconds",
			Buckets:   []float64{0.1, 0.5, 1.0, 5.0, 10.0, 30.0, 60.0, 300.0},
		},
		[]string{"job_type"},
	)

	pm.workers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemBatch,
			Name:      "workers",
			Help:      "Number of running batch workers",
		},
	)
}

func (pm *PrometheusMetrics) initDatabaseMetrics() {
	pm.dbQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemDatabase,
			Name:      "queries_total",
			Help:      "Total number of database queries by operation and status",
		},
		[]string{"operation", "status"},
	)

	pm.dbQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemDatabase,
			Name:      "query_duration_seconds",
			Help:      "Duration of database queries in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		},
		[]string{"operation"},
	)
}

func (pm *PrometheusMetrics) initAPIMetrics() {
	pm.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path and status",
		},
		[]string{"method", "path", "status"},
	)

	pm.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0},
		},
		[]string{"method", "path"},
	)
}

func (pm *PrometheusMetrics) initSystemMetrics() {
	pm.memoryUsage = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "memory_bytes",
			Help:      "Current memory usage in bytes",
		},
	)

	pm.goroutines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	pm.uptime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "uptime_seconds",
			Help:      "Application uptime in seconds",
		},
	)
}

func (pm *PrometheusMetrics) registerMetrics() {
	pm.registry.MustRegister(
		pm.probesTotal,
		pm.probeDuration,
		pm.probesInFlight,

		pm.scansTotal,
		pm.scanDuration,
		pm.scanErrors,
		pm.portsCancelled,
		pm.activeScans,

		pm.jobsTotal,
		pm.jobDuration,
		pm.workers,

		pm.dbQueries,
		pm.dbQueryDuration,

		pm.httpRequests,
		pm.httpDuration,

		pm.memoryUsage,
		pm.goroutines,
		pm.uptime,
	)
}

// GetRegistry returns the Prometheus registry for HTTP handler
func (pm *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return pm.registry
}

// Probe Metrics Methods

// RecordProbe counts one classified probe and observes its duration.
func (pm *PrometheusMetrics) RecordProbe(technique, state string, duration time.Duration) {
	pm.probesTotal.WithLabelValues(technique, state).Inc()
	pm.probeDuration.WithLabelValues(technique).Observe(duration.Seconds())
}

// ProbeStarted marks a probe as awaiting a response.
func (pm *PrometheusMetrics) ProbeStarted() {
	pm.probesInFlight.Inc()
}

// ProbeFinished marks a probe as no longer in flight.
func (pm *PrometheusMetrics) ProbeFinished() {
	pm.probesInFlight.Dec()
}

// Scan Metrics Methods

// IncrementScansTotal increments the total scan counter
func (pm *PrometheusMetrics) IncrementScansTotal(technique, status string) {
	pm.scansTotal.WithLabelValues(technique, status).Inc()
}

// RecordScanDuration records a scan duration
func (pm *PrometheusMetrics) RecordScanDuration(technique string, duration time.Duration) {
	pm.scanDuration.WithLabelValues(technique).Observe(duration.Seconds())
}

// IncrementScanErrors increments scan error counter
func (pm *PrometheusMetrics) IncrementScanErrors(technique, errorType string) {
	pm.scanErrors.WithLabelValues(technique, errorType).Inc()
}

// AddPortsCancelled counts ports abandoned by cancellation.
func (pm *PrometheusMetrics) AddPortsCancelled(technique string, count int) {
	pm.portsCancelled.WithLabelValues(technique).Add(float64(count))
}

// ScanStarted increments the active scans gauge.
func (pm *PrometheusMetrics) ScanStarted() {
	pm.activeScans.Inc()
}

// ScanFinished decrements the active scans gauge.
func (pm *PrometheusMetrics) ScanFinished() {
	pm.activeScans.Dec()
}

// Batch Metrics Methods

// RecordJob counts a finished batch job and observes its duration.
func (pm *PrometheusMetrics) RecordJob(jobType, status string, duration time.Duration) {
	pm.jobsTotal.WithLabelValues(jobType, status).Inc()
	pm.jobDuration.WithLabelValues(jobType).Observe(duration.Seconds())
}

// SetWorkers sets the number of running batch workers.
func (pm *PrometheusMetrics) SetWorkers(count int) {
	pm.workers.Set(float64(count))
}

// Database Metrics Methods

// RecordDatabaseQuery records the status and duration of one query.
func (pm *PrometheusMetrics) RecordDatabaseQuery(operation string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	pm.dbQueries.WithLabelValues(operation, status).Inc()
	pm.dbQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// API Metrics Methods

// IncrementHTTPRequests increments HTTP request counter
func (pm *PrometheusMetrics) IncrementHTTPRequests(method, path, status string) {
	pm.httpRequests.WithLabelValues(method, path, status).Inc()
}

// RecordHTTPDuration records HTTP request duration
func (pm *PrometheusMetrics) RecordHTTPDuration(method, path string, duration time.Duration) {
	pm.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// System Metrics Methods

// UpdateSystemMetrics updates all system metrics with current values
func (pm *PrometheusMetrics) UpdateSystemMetrics() {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	pm.memoryUsage.Set(float64(memStats.Alloc))
	pm.goroutines.Set(float64(runtime.NumGoroutine()))
	pm.uptime.Set(time.Since(pm.startTime).Seconds())

	pm.lastUpdate = time.Now()
}

// GetUptime returns the application uptime
func (pm *PrometheusMetrics) GetUptime() time.Duration {
	return time.Since(pm.startTime)
}

// GetLastUpdate returns the last metrics update time
func (pm *PrometheusMetrics) GetLastUpdate() time.Time {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.lastUpdate
}

// StartPeriodicUpdates updates system metrics every interval until ctx is done.
func (pm *PrometheusMetrics) StartPeriodicUpdates(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pm.UpdateSystemMetrics()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pm.UpdateSystemMetrics()
		}
	}
}

// Global instance for easy access
var globalMetrics *PrometheusMetrics
var metricsOnce sync.Once

// GetGlobalMetrics returns the global Prometheus metrics instance
func GetGlobalMetrics() *PrometheusMetrics {
	metricsOnce.Do(func() {
		globalMetrics = NewPrometheusMetrics()
	})
	return globalMetrics
}
