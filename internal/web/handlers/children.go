package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/tether/internal/reconcile"
)

// ChildrenHandler serves resolved children.
type ChildrenHandler struct {
	engine *reconcile.Engine
	log    logrus.FieldLogger
}

// NewChildrenHandler creates a new children handler.
func NewChildrenHandler(engine *reconcile.Engine, log logrus.FieldLogger) *ChildrenHandler {
	return &ChildrenHandler{engine: engine, log: log}
}

// List handles GET /children.
func (h *ChildrenHandler) List(w http.ResponseWriter, r *http.Request) {
	children, err := h.engine.ListResolvedChildren(r.Context())
	if err != nil {
		respondEngineError(w, h.log, "", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"children": children,
		"count":    len(children),
	})
}

// Get handles GET /children/{id}.
func (h *ChildrenHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	child, err := h.engine.GetResolvedChild(r.Context(), id)
	if err != nil {
		respondEngineError(w, h.log, id, err)
		return
	}
	respondJSON(w, http.StatusOK, child)
}
