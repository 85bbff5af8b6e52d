package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"
)

const healthCheckTimeout = 5 * time.Second

// Build information, set once at startup.
var (
	buildVersion = "dev"
	buildCommit  = "unknown"
	buildTime    = "unknown"
)

// SetBuildInfo records the version reported by the version endpoint.
func SetBuildInfo(version, commit, date string) {
	if version != "" {
		buildVersion = version
	}
	if commit != "" {
		buildCommit = commit
	}
	if date != "" {
		buildTime = date
	}
}

// Pinger checks a dependency. *db.DB satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// LimiterStats reports scan slot usage. *scanning.FixedSessionLimiter
// satisfies it.
type LimiterStats interface {
	Stats() map[string]interface{}
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]string      `json:"checks"`
	Scans     map[string]interface{} `json:"scans,omitempty"`
}

// VersionResponse represents the version endpoint response.
type VersionResponse struct {
	Version   string    `json:"version"`
	Commit    string    `json:"commit"`
	BuildTime string    `json:"build_time"`
	GoVersion string    `json:"go_version"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthHandler serves health and version information.
type HealthHandler struct {
	database  Pinger
	limiter   LimiterStats
	startTime time.Time
}

// NewHealthHandler creates a health handler. database may be nil when
// persistence is disabled.
func NewHealthHandler(database Pinger, limiter LimiterStats) *HealthHandler {
	return &HealthHandler{
		database:  database,
		limiter:   limiter,
		startTime: time.Now(),
	}
}

// Health reports 200 when every configured dependency answers and 503
// otherwise.
//
// @Summary Health check
// @Tags System
// @Produce json
// @Success 200 {object} HealthResponse
// @Failure 503 {object} HealthResponse
// @Router /health [get]
// @ID getHealth
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Checks:    make(map[string]string),
	}

	if h.database != nil {
		if err := h.database.Ping(ctx); err != nil {
			response.Status = "unhealthy"
			response.Checks["database"] = "failed: " + err.Error()
		} else {
			response.Checks["database"] = "ok"
		}
	} else {
		response.Checks["database"] = "not configured"
	}

	if h.limiter != nil {
		response.Scans = h.limiter.Stats()
	}

	statusCode := http.StatusOK
	if response.Status != "healthy" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, r, statusCode, response)
}

// Version reports build information.
//
// @Summary Version
// @Tags System
// @Produce json
// @Success 200 {object} VersionResponse
// @Router /version [get]
// @ID getVersion
func (h *HealthHandler) Version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, VersionResponse{
		Version:   buildVersion,
		Commit:    buildCommit,
		BuildTime: buildTime,
		GoVersion: runtime.Version(),
		Timestamp: time.Now().UTC(),
	})
}
