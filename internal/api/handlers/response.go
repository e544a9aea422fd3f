package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Harshitk-cp/leandeep/internal/service"
)

// maxBodyBytes bounds request bodies; text length is validated separately.
const maxBodyBytes = 4 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// writeServiceError maps service errors to statuses. Unknown errors are
// reported as fallback without leaking their text.
func writeServiceError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, service.ErrThresholdOutOfRange),
		errors.Is(err, service.ErrTextEmpty),
		errors.Is(err, service.ErrTextTooLong),
		errors.Is(err, service.ErrNoMessages),
		errors.Is(err, service.ErrTooManyMessages),
		errors.Is(err, service.ErrInvalidLayer),
		errors.Is(err, service.ErrBatchEmpty),
		errors.Is(err, service.ErrBatchTooLarge),
		errors.Is(err, service.ErrInvalidPage):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrAnalysisNotFound),
		errors.Is(err, service.ErrMarkerNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrStoreDisabled):
		writeError(w, http.StatusNotImplemented, err.Error())
	case errors.Is(err, service.ErrRegistryNoSource):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "analysis timed out")
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		writeError(w, http.StatusInternalServerError, fallback)
	}
}
