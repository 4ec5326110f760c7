package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/chatdesk/internal/middleware"
	"github.com/capitalize-ai/chatdesk/internal/model"
	"github.com/capitalize-ai/chatdesk/pkg/logger"
)

// StateHandler exposes controller state and the model catalogue.
type StateHandler struct {
	ctrl   Controller
	logger *logger.Logger
}

// NewStateHandler creates a new state handler.
func NewStateHandler(ctrl Controller, log *logger.Logger) *StateHandler {
	return &StateHandler{ctrl: ctrl, logger: log}
}

// State handles GET /api/v1/state
func (h *StateHandler) State(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Snapshot())
}

// Models handles GET /api/v1/models
// Supports ?refresh=true to reload the catalogue from the backend.
func (h *StateHandler) Models(w http.ResponseWriter, r *http.Request) {
	snap := h.ctrl.Snapshot()
	if r.URL.Query().Get("refresh") == "true" || len(snap.Models) == 0 {
		if err := h.ctrl.LoadModels(r.Context()); err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		snap = h.ctrl.Snapshot()
	}

	models := snap.Models
	if models == nil {
		models = []model.ChatModel{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"models":   models,
		"selected": snap.SelectedModel,
	})
}

// SelectModel handles POST /api/v1/models/{id}/select
func (h *StateHandler) SelectModel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateID("model", id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.ctrl.SelectModel(id); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"selected": id})
}
