package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/anstrom/portscope/internal/api/middleware"
	"github.com/anstrom/portscope/internal/logging"
	"github.com/anstrom/portscope/internal/scanning"
)

// ScanListResponse is the body of GET /scans.
type ScanListResponse struct {
	Scans []*ScanInfo `json:"scans"`
	Count int         `json:"count"`
}

// DiffResponse is the body of GET /scans/{id}/diff/{other}.
type DiffResponse struct {
	Before  uuid.UUID         `json:"before"`
	After   uuid.UUID         `json:"after"`
	Changes []scanning.Change `json:"changes"`
}

// ScanHandler handles scan related API endpoints.
type ScanHandler struct {
	manager        *ScanManager
	logger         *logging.Logger
	maxRequestSize int64
}

// NewScanHandler creates a new scan handler.
func NewScanHandler(manager *ScanManager, logger *logging.Logger, maxRequestSize int64) *ScanHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &ScanHandler{
		manager:        manager,
		logger:         logger.WithComponent("scan-handler"),
		maxRequestSize: maxRequestSize,
	}
}

func (h *ScanHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorAPI("Scan request failed", err,
			"request_id", middleware.GetRequestID(r),
			"path", r.URL.Path)
	}
	writeError(w, r, status, err)
}

// CreateScan starts a scan and returns 202 with its id.
//
// @Summary Start scan
// @Description Start a port scan of one target in the background
// @Tags Scans
// @Accept json
// @Produce json
// @Param scan body ScanRequest true "Scan request"
// @Success 202 {object} ScanInfo
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Router /scans [post]
// @ID createScan
func (h *ScanHandler) CreateScan(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if err := parseJSON(w, r, &req, h.maxRequestSize); err != nil {
		h.fail(w, r, err)
		return
	}

	info, err := h.manager.Start(req)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/v1/scans/"+info.ID.String())
	writeJSON(w, r, http.StatusAccepted, info)
}

// ListScans returns running and recently finished scans, optionally
// filtered by ?status=.
//
// @Summary List scans
// @Tags Scans
// @Produce json
// @Param status query string false "Filter by status" Enums(running, completed, cancelled, failed)
// @Success 200 {object} ScanListResponse
// @Router /scans [get]
// @ID listScans
func (h *ScanHandler) ListScans(w http.ResponseWriter, r *http.Request) {
	scans := h.manager.List()
	if status := RunStatus(r.URL.Query().Get("status")); status != "" {
		filtered := scans[:0]
		for _, s := range scans {
			if s.Status == status {
				filtered = append(filtered, s)
			}
		}
		scans = filtered
	}

	writeJSON(w, r, http.StatusOK, ScanListResponse{Scans: scans, Count: len(scans)})
}

// GetScan returns the status of a scan, including the frozen session once
// it has finished.
//
// @Summary Get scan
// @Tags Scans
// @Produce json
// @Param id path string true "Scan ID" format(uuid)
// @Success 200 {object} ScanInfo
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /scans/{id} [get]
// @ID getScan
func (h *ScanHandler) GetScan(w http.ResponseWriter, r *http.Request) {
	id, err := extractUUIDFromPath(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	info, err := h.manager.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, info)
}

// CancelScan cancels a running scan.
//
// @Summary Cancel scan
// @Description Cancel a running scan; the ports classified so far are kept
// @Tags Scans
// @Produce json
// @Param id path string true "Scan ID" format(uuid)
// @Success 202 {object} ScanInfo
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /scans/{id} [delete]
// @ID cancelScan
func (h *ScanHandler) CancelScan(w http.ResponseWriter, r *http.Request) {
	id, err := extractUUIDFromPath(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	info, err := h.manager.Cancel(id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusAccepted, info)
}

// DiffScans compares two finished sessions.
//
// @Summary Diff scans
// @Description Compare the port states of two finished scans
// @Tags Scans
// @Produce json
// @Param id path string true "Earlier scan ID" format(uuid)
// @Param other path string true "Later scan ID" format(uuid)
// @Success 200 {object} DiffResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /scans/{id}/diff/{other} [get]
// @ID diffScans
func (h *ScanHandler) DiffScans(w http.ResponseWriter, r *http.Request) {
	id, err := extractUUIDFromPath(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	other, err := extractUUIDFromPath(r, "other")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	before, err := h.manager.Session(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	after, err := h.manager.Session(r.Context(), other)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	changes := scanning.Diff(before, after)
	if changes == nil {
		changes = []scanning.Change{}
	}
	writeJSON(w, r, http.StatusOK, DiffResponse{Before: id, After: other, Changes: changes})
}
