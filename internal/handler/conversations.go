package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chatdesk/internal/controller"
	"github.com/capitalize-ai/chatdesk/internal/middleware"
	"github.com/capitalize-ai/chatdesk/internal/model"
	"github.com/capitalize-ai/chatdesk/pkg/logger"
)

// ConversationHandler handles conversation endpoints.
type ConversationHandler struct {
	ctrl   Controller
	logger *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(ctrl Controller, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		ctrl:   ctrl,
		logger: log,
	}
}

// List handles GET /api/v1/conversations
// Supports ?refresh=true to reload the list from the backend.
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("refresh") == "true" {
		if err := h.ctrl.RefreshConversations(r.Context()); err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
	}
	snap := h.ctrl.Snapshot()
	convs := snap.Conversations
	if convs == nil {
		convs = []model.Conversation{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversations": convs,
		"active_id":     snap.ActiveConversationID,
	})
}

// Create handles POST /api/v1/conversations
func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	conv, err := h.ctrl.NewChat(r.Context())
	if err != nil {
		h.logger.Error("failed to create conversation", zap.Error(err))
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

// Select handles POST /api/v1/conversations/{id}/select
func (h *ConversationHandler) Select(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateID("conversation", id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.ctrl.SelectConversation(r.Context(), id); err != nil {
		if errors.Is(err, controller.ErrSuperseded) {
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "superseded"})
			return
		}
		h.logger.Error("failed to select conversation", zap.String("conversation_id", id), zap.Error(err))
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.ctrl.Snapshot())
}

// Update handles PUT /api/v1/conversations/{id}
func (h *ConversationHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateID("conversation", id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.RenameConversationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateTitle(req.Title); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.ctrl.Rename(r.Context(), id, req.Title); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete handles DELETE /api/v1/conversations/{id}
func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateID("conversation", id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.ctrl.Delete(r.Context(), id); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AutoTitle handles POST /api/v1/conversations/{id}/title
func (h *ConversationHandler) AutoTitle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateID("conversation", id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	title, ok := h.ctrl.AutoTitle(r.Context(), id)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"title":   title,
		"renamed": ok,
	})
}
