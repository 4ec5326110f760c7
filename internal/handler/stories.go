package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chatdesk/internal/middleware"
	"github.com/capitalize-ai/chatdesk/internal/model"
	"github.com/capitalize-ai/chatdesk/pkg/logger"
)

// SaveStoryRequest is the body of POST /api/v1/stories.
type SaveStoryRequest struct {
	// Key is the display key of a message in the active conversation.
	Key   string `json:"key"`
	Title string `json:"title"`
}

// StorySaver persists messages as stories.
type StorySaver interface {
	Save(ctx context.Context, msg model.Message, title string) (*model.Story, error)
	List(ctx context.Context) ([]model.Story, error)
	Delete(ctx context.Context, id string) error
}

// StoryHandler handles story endpoints.
type StoryHandler struct {
	ctrl   Controller
	saver  StorySaver
	logger *logger.Logger
}

// NewStoryHandler creates a new story handler.
func NewStoryHandler(ctrl Controller, saver StorySaver, log *logger.Logger) *StoryHandler {
	return &StoryHandler{ctrl: ctrl, saver: saver, logger: log}
}

// Save handles POST /api/v1/stories
func (h *StoryHandler) Save(w http.ResponseWriter, r *http.Request) {
	var req SaveStoryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Key == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return
	}
	if err := middleware.ValidateTitle(req.Title); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, ok := findMessage(h.ctrl.Snapshot().Messages, req.Key)
	if !ok {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}

	st, err := h.saver.Save(r.Context(), msg, req.Title)
	if err != nil {
		h.logger.Warn("failed to save story", zap.String("key", req.Key), zap.Error(err))
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

// List handles GET /api/v1/stories
func (h *StoryHandler) List(w http.ResponseWriter, r *http.Request) {
	stories, err := h.saver.List(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if stories == nil {
		stories = []model.Story{}
	}
	writeJSON(w, http.StatusOK, model.StoryListResponse{Stories: stories, Total: len(stories)})
}

// Delete handles DELETE /api/v1/stories/{id}
func (h *StoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateID("story", id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.saver.Delete(r.Context(), id); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func findMessage(msgs []model.Message, key string) (model.Message, bool) {
	for _, m := range msgs {
		if m.Key == key {
			return m, true
		}
	}
	return model.Message{}, false
}
