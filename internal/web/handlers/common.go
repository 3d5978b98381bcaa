package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/tether/internal/reconcile"
)

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondEngineError maps a reconcile error onto an HTTP status. Unknown
// errors are logged and hidden behind a generic message.
func respondEngineError(w http.ResponseWriter, log logrus.FieldLogger, id string, err error) {
	switch {
	case errors.Is(err, reconcile.ErrNotFound):
		respondError(w, http.StatusNotFound, "not found")
	case errors.Is(err, reconcile.ErrNoMatch):
		respondError(w, http.StatusConflict, "report has no match")
	case errors.Is(err, reconcile.ErrIncompleteMatch):
		respondError(w, http.StatusConflict, "match is incomplete: counterpart missing or not linked back")
	case errors.Is(err, reconcile.ErrInvalidRole):
		respondError(w, http.StatusBadRequest, "role must be parent or volunteer")
	case errors.Is(err, reconcile.ErrInvalidSubmission):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, reconcile.ErrConflict):
		respondError(w, http.StatusConflict, "report changed concurrently, retry")
	case errors.Is(err, reconcile.ErrPartialUpdate):
		log.WithFields(logrus.Fields{"id": sanitizeForLog(id), "error": err}).Error("partial update")
		respondError(w, http.StatusInternalServerError, "partial update: only one side of the match was written")
	default:
		log.WithFields(logrus.Fields{"id": sanitizeForLog(id), "error": err}).Error("request failed")
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
