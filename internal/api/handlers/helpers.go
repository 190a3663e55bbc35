package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Von-Base-Enterprises/core-nexus-sub001/internal/domain"
	"github.com/Von-Base-Enterprises/core-nexus-sub001/internal/metrics"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeDomainError maps an error kind to its HTTP status and stable code.
func writeDomainError(w http.ResponseWriter, err error) {
	code := domain.ErrorCode(err)
	metrics.ErrorsTotal.WithLabelValues(code).Inc()

	status := statusForError(err)
	if status == http.StatusServiceUnavailable && errors.Is(err, domain.ErrOverloaded) {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"code":  code,
	})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrOverloaded):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrGraphDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrEmbedderFailed):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrStoreFailed):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
