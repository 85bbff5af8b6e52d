package scanning

import "time"

// MetricsRecorder receives engine metrics. *metrics.PrometheusMetrics
// satisfies it.
type MetricsRecorder interface {
	RecordProbe(technique, state string, duration time.Duration)
	ProbeStarted()
	ProbeFinished()
	IncrementScansTotal(technique, status string)
	RecordScanDuration(technique string, duration time.Duration)
	IncrementScanErrors(technique, errorType string)
	AddPortsCancelled(technique string, count int)
	ScanStarted()
	ScanFinished()
}

type nopMetrics struct{}

func (nopMetrics) RecordProbe(string, string, time.Duration) {}
func (nopMetrics) ProbeStarted()                             {}
func (nopMetrics) ProbeFinished()                            {}
func (nopMetrics) IncrementScansTotal(string, string)        {}
func (nopMetrics) RecordScanDuration(string, time.Duration)  {}
func (nopMetrics) IncrementScanErrors(string, string)        {}
func (nopMetrics) AddPortsCancelled(string, int)             {}
func (nopMetrics) ScanStarted()                              {}
func (nopMetrics) ScanFinished()                             {}
