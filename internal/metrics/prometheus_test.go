package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusMetrics_HTTPHandlerServes(t *testing.T) {
	pm := NewPrometheusMetrics()
	pm.UpdateSystemMetrics()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	handler := promhttp.HandlerFor(pm.GetRegistry(), promhttp.HandlerOpts{})
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "portscope_system_uptime_seconds") {
		t.Fatalf("expected uptime metric in output")
	}
}

func TestPrometheusMetrics_ProbeMetrics(t *testing.T) {
	pm := NewPrometheusMetrics()

	pm.RecordProbe("syn", "open", 3*time.Millisecond)
	pm.RecordProbe("syn", "closed", time.Millisecond)
	pm.RecordProbe("syn", "open", 2*time.Millisecond)

	if count := testutil.CollectAndCount(pm.probesTotal); count != 2 {
		t.Errorf("expected 2 label combinations, got %d", count)
	}
	if got := testutil.ToFloat64(pm.probesTotal.WithLabelValues("syn", "open")); got != 2 {
		t.Errorf("expected 2 open syn probes, got %v", got)
	}

	pm.ProbeStarted()
	pm.ProbeStarted()
	pm.ProbeFinished()
	if got := testutil.ToFloat64(pm.probesInFlight); got != 1 {
		t.Errorf("expected 1 probe in flight, got %v", got)
	}
}

func TestPrometheusMetrics_ScanMetrics(t *testing.T) {
	pm := NewPrometheusMetrics()

	pm.IncrementScansTotal("connect", "completed")
	pm.IncrementScansTotal("udp", "cancelled")
	pm.RecordScanDuration("connect", 2*time.Second)
	pm.IncrementScanErrors("fin", "PERMISSION_DENIED")
	pm.AddPortsCancelled("udp", 12)

	if count := testutil.CollectAndCount(pm.scansTotal); count != 2 {
		t.Errorf("expected 2 label combinations, got %d", count)
	}
	if got := testutil.ToFloat64(pm.portsCancelled.WithLabelValues("udp")); got != 12 {
		t.Errorf("expected 12 cancelled ports, got %v", got)
	}

	pm.ScanStarted()
	pm.ScanFinished()
	if got := testutil.ToFloat64(pm.activeScans); got != 0 {
		t.Errorf("expected no active scans, got %v", got)
	}
}

func TestPrometheusMetrics_BatchAndDatabase(t *testing.T) {
	pm := NewPrometheusMetrics()

	pm.RecordJob("scan", "success", time.Second)
	pm.RecordJob("scan", "error", time.Second)
	pm.SetWorkers(4)
	pm.RecordDatabaseQuery("save_session", 5*time.Millisecond, true)
	pm.RecordDatabaseQuery("save_session", 5*time.Millisecond, false)

	if count := testutil.CollectAndCount(pm.jobsTotal); count != 2 {
		t.Errorf("expected 2 job label combinations, got %d", count)
	}
	if got := testutil.ToFloat64(pm.workers); got != 4 {
		t.Errorf("expected 4 workers, got %v", got)
	}
	if count := testutil.CollectAndCount(pm.dbQueries); count != 2 {
		t.Errorf("expected success and error query series, got %d", count)
	}
}

func TestPrometheusMetrics_APIMetrics(t *testing.T) {
	pm := NewPrometheusMetrics()

	pm.IncrementHTTPRequests("GET", "/api/v1/scans", "200")
	pm.IncrementHTTPRequests("POST", "/api/v1/scans", "202")
	pm.RecordHTTPDuration("GET", "/api/v1/scans", 10*time.Millisecond)

	if count := testutil.CollectAndCount(pm.httpRequests); count != 2 {
		t.Errorf("expected 2 endpoint/status combinations, got %d", count)
	}
}

func TestPrometheusMetrics_StartPeriodicUpdates(t *testing.T) {
	pm := NewPrometheusMetrics()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		pm.StartPeriodicUpdates(ctx, 20*time.Millisecond)
		close(done)
	}()
	<-done

	if pm.GetLastUpdate().IsZero() {
		t.Error("expected system metrics to be updated at least once")
	}
}

func TestPrometheusMetrics_GlobalInstance(t *testing.T) {
	if GetGlobalMetrics() != GetGlobalMetrics() {
		t.Error("GetGlobalMetrics should return same instance")
	}
}
