// Package handlers provides HTTP request handlers for the portscope API.
// This file contains common utilities shared across all handlers.
package handlers

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/anstrom/portscope/internal/api/middleware"
	"github.com/anstrom/portscope/internal/errors"
	"github.com/anstrom/portscope/internal/logging"
)

// DefaultMaxRequestSize bounds JSON request bodies when no limit is configured.
const DefaultMaxRequestSize = 1 << 20

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      string    `json:"code,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, r *http.Request, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already sent, so only log.
		logging.Error("Failed to encode JSON response",
			"request_id", middleware.GetRequestID(r),
			"error", err)
	}
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, r *http.Request, statusCode int, err error) {
	response := ErrorResponse{
		Error:     http.StatusText(statusCode),
		Message:   err.Error(),
		Timestamp: time.Now().UTC(),
		RequestID: middleware.GetRequestID(r),
	}
	if code := errors.GetCode(err); code != errors.CodeUnknown {
		response.Code = string(code)
	}

	writeJSON(w, r, statusCode, response)
}

// writeCodedError picks the status code from the error code carried by err.
func writeCodedError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, statusForError(err), err)
}

// statusForError maps error codes to HTTP status codes.
func statusForError(err error) int {
	if stderrors.Is(err, ErrTooManyScans) {
		return http.StatusTooManyRequests
	}
	switch errors.GetCode(err) {
	case errors.CodeValidation, errors.CodeInvalidPortSpec, errors.CodeConfiguration:
		return http.StatusBadRequest
	case errors.CodeNotFound:
		return http.StatusNotFound
	case errors.CodeConflict:
		return http.StatusConflict
	case errors.CodePermissionDenied:
		return http.StatusForbidden
	case errors.CodeTargetUnresolvable:
		return http.StatusUnprocessableEntity
	case errors.CodeCanceled, errors.CodeDatabaseConnection:
		return http.StatusServiceUnavailable
	case errors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// parseJSON parses a JSON request body of at most maxSize bytes into dest.
func parseJSON(w http.ResponseWriter, r *http.Request, dest interface{}, maxSize int64) error {
	if r.Body == nil || r.Body == http.NoBody {
		return errors.NewScanError(errors.CodeValidation, "request body is empty")
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxRequestSize
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dest); err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			return errors.NewScanError(errors.CodeValidation,
				fmt.Sprintf("request body too large (max %d bytes)", maxSize))
		}
		return errors.WrapScanError(errors.CodeValidation, "invalid JSON", err)
	}
	return nil
}

// extractUUIDFromPath extracts a UUID from the named URL path parameter.
func extractUUIDFromPath(r *http.Request, key string) (uuid.UUID, error) {
	idStr, exists := mux.Vars(r)[key]
	if !exists {
		return uuid.Nil, errors.NewScanError(errors.CodeValidation, key+" not provided")
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, errors.NewScanError(errors.CodeValidation, "invalid "+key+": "+idStr)
	}
	return id, nil
}
