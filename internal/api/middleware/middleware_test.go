package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/portscope/internal/logging"
)

type httpCall struct {
	method, path, status string
}

type recordingMetrics struct {
	mu        sync.Mutex
	requests  []httpCall
	durations int
}

func (m *recordingMetrics) IncrementHTTPRequests(method, path, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, httpCall{method, path, status})
}

func (m *recordingMetrics) RecordHTTPDuration(string, string, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.durations++
}

func okHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func TestRequestID(t *testing.T) {
	var seen string
	handler := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r)
		_, ok := r.Context().Value(StartTimeKey).(time.Time)
		assert.True(t, ok)
	}))

	t.Run("generates an id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
		assert.Len(t, seen, 36)
		assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
	})

	t.Run("reuses a valid id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
		req.Header.Set(RequestIDHeader, "trace-123.a_b")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, "trace-123.a_b", seen)
		assert.Equal(t, "trace-123.a_b", rec.Header().Get(RequestIDHeader))
	})

	t.Run("replaces an invalid id", func(t *testing.T) {
		for _, bad := range []string{"has space", "<script>", strings.Repeat("a", 65)} {
			req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			req.Header.Set(RequestIDHeader, bad)
			handler.ServeHTTP(httptest.NewRecorder(), req)
			assert.NotEqual(t, bad, seen)
			assert.Len(t, seen, 36)
		}
	})
}

func TestGetRequestIDWithoutMiddleware(t *testing.T) {
	assert.Equal(t, "unknown", GetRequestID(httptest.NewRequest(http.MethodGet, "/", http.NoBody)))
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithWriter(logging.Config{Level: logging.LevelInfo, Format: logging.FormatJSON}, &buf)

	handler := RequestID()(Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	})))

	req := httptest.NewRequest(http.MethodGet, "/brew", http.NoBody)
	req.RemoteAddr = "198.51.100.4:5555"
	handler.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	assert.Contains(t, out, `"msg":"HTTP request completed"`)
	assert.Contains(t, out, `"status_code":418`)
	assert.Contains(t, out, `"response_size":15`)
	assert.Contains(t, out, `"path":"/brew"`)
	assert.Contains(t, out, `"remote_addr":"198.51.100.4"`)
}

func TestMetricsUsesRouteTemplate(t *testing.T) {
	recorder := &recordingMetrics{}
	router := mux.NewRouter()
	router.Use(Metrics(recorder))
	router.HandleFunc("/scans/{id}", okHandler).Methods(http.MethodGet)

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/scans/abc", http.NoBody))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/scans/def", http.NoBody))

	assert.Equal(t, []httpCall{
		{"GET", "/scans/{id}", "200"},
		{"GET", "/scans/{id}", "200"},
	}, recorder.requests)
	assert.Equal(t, 2, recorder.durations)

	// Outside a router there is no route to label by.
	Metrics(recorder)(http.HandlerFunc(okHandler)).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", http.NoBody))
	assert.Equal(t, "unmatched", recorder.requests[2].path)
}

func TestRecovery(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithWriter(logging.Config{Level: logging.LevelInfo, Format: logging.FormatText}, &buf)

	handler := Recovery(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	require.NotPanics(t, func() {
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, buf.String(), "boom")
}

func TestCORS(t *testing.T) {
	handler := CORS([]string{"https://ui.example"}, []string{"Content-Type"}, []string{"GET", "POST"})(http.HandlerFunc(okHandler))

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/scans", http.NoBody)
		req.Header.Set("Origin", "https://ui.example")
		req.Header.Set("Access-Control-Request-Method", "POST")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "https://ui.example", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("simple request", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/scans", http.NoBody)
		req.Header.Set("Origin", "https://ui.example")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, "https://ui.example", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, http.CanonicalHeaderKey(RequestIDHeader), rec.Header().Get("Access-Control-Expose-Headers"))
	})

	t.Run("foreign origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/scans", http.NoBody)
		req.Header.Set("Origin", "https://evil.example")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestContentType(t *testing.T) {
	handler := ContentType()(http.HandlerFunc(okHandler))

	tests := []struct {
		method      string
		contentType string
		status      int
	}{
		{http.MethodGet, "text/plain", http.StatusOK},
		{http.MethodPost, "", http.StatusOK},
		{http.MethodPost, "application/json", http.StatusOK},
		{http.MethodPost, "application/json; charset=utf-8", http.StatusOK},
		{http.MethodPost, "text/plain", http.StatusUnsupportedMediaType},
		{http.MethodPut, "application/xml", http.StatusUnsupportedMediaType},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.contentType, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/", strings.NewReader("{}"))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded for", map[string]string{"X-Forwarded-For": "203.0.113.1, 10.0.0.1"}, "10.0.0.2:1", "203.0.113.1"},
		{"real ip", map[string]string{"X-Real-IP": "203.0.113.2"}, "10.0.0.2:1", "203.0.113.2"},
		{"remote addr", nil, "192.0.2.3:8080", "192.0.2.3"},
		{"remote without port", nil, "192.0.2.4", "192.0.2.4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, getClientIP(req))
		})
	}
}
