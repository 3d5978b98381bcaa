package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/tether/internal/constants"
	"github.com/kozaktomas/tether/internal/reconcile"
)

// MatchesHandler handles match review: lookup, confirmation and rejection.
type MatchesHandler struct {
	engine *reconcile.Engine
	log    logrus.FieldLogger
}

// NewMatchesHandler creates a new matches handler.
func NewMatchesHandler(engine *reconcile.Engine, log logrus.FieldLogger) *MatchesHandler {
	return &MatchesHandler{engine: engine, log: log}
}

type matchResponse struct {
	SubmissionID string         `json:"submission_id"`
	Score        float64        `json:"match_score"`
	Parent       reportResponse `json:"parent_report"`
	Volunteer    reportResponse `json:"volunteer_report"`
}

// Get handles GET /matches/{id}.
func (h *MatchesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	pair, err := h.engine.GetMatchPair(r.Context(), id)
	if err != nil {
		respondEngineError(w, h.log, id, err)
		return
	}
	respondJSON(w, http.StatusOK, matchResponse{
		SubmissionID: pair.SubmissionID,
		Score:        pair.Score,
		Parent:       newReportResponse(pair.Parent),
		Volunteer:    newReportResponse(pair.Volunteer),
	})
}

// Suggestions handles GET /matches/{id}/suggestions?k=N.
func (h *MatchesHandler) Suggestions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	k := reconcile.DefaultSuggestions
	if s := r.URL.Query().Get("k"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > constants.MaxSuggestions {
			respondError(w, http.StatusBadRequest, "k must be between 1 and "+strconv.Itoa(constants.MaxSuggestions))
			return
		}
		k = n
	}

	suggestions, err := h.engine.Suggest(r.Context(), id, k)
	if err != nil {
		respondEngineError(w, h.log, id, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"report_id":   id,
		"suggestions": suggestions,
	})
}

// Confirm handles POST /matches/{id}/confirm.
func (h *MatchesHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := h.engine.Confirm(r.Context(), id)
	if err != nil {
		respondEngineError(w, h.log, id, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":              "confirmed",
		"child_id":            res.ResolvedChildID,
		"parent_report_id":    res.ParentID,
		"volunteer_report_id": res.VolunteerID,
		"created":             res.Created,
	})
}

// Reject handles POST /matches/{id}/reject.
func (h *MatchesHandler) Reject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	status, err := h.engine.Reject(r.Context(), id)
	if err != nil {
		respondEngineError(w, h.log, id, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": string(status)})
}
