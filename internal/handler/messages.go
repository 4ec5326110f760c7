package handler

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chatdesk/internal/controller"
	"github.com/capitalize-ai/chatdesk/internal/middleware"
	"github.com/capitalize-ai/chatdesk/internal/scroll"
	"github.com/capitalize-ai/chatdesk/pkg/logger"
)

// SendMessageRequest is the body of POST /api/v1/messages.
type SendMessageRequest struct {
	Content string `json:"content"`
	Model   string `json:"model,omitempty"`
}

// OlderResponse reports the outcome of a backward page load.
type OlderResponse struct {
	Loaded  int  `json:"loaded"`
	HasMore bool `json:"has_more"`
	Skipped bool `json:"skipped"`
}

// ViewportResponse is the scroll policy's answer to a viewport report.
type ViewportResponse struct {
	scroll.Decision
	Follow  bool           `json:"follow"`
	Older   *OlderResponse `json:"older,omitempty"`
	HasMore bool           `json:"has_more"`
}

// MessageHandler handles message endpoints.
type MessageHandler struct {
	ctrl   Controller
	policy *scroll.Policy
	logger *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(ctrl Controller, policy *scroll.Policy, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		ctrl:   ctrl,
		policy: policy,
		logger: log,
	}
}

// Send handles POST /api/v1/messages
// The reply streams in the background; progress is observable through
// /api/v1/events.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Model != "" {
		if err := h.ctrl.SelectModel(req.Model); err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
	}

	done, err := h.ctrl.Start(context.WithoutCancel(r.Context()), req.Content)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	correlationID := middleware.GetCorrelationID(r.Context())
	go func() {
		if err := <-done; err != nil && !errors.Is(err, controller.ErrSuperseded) {
			h.logger.Warn("send failed",
				zap.String("correlation_id", correlationID),
				zap.Error(err),
			)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "streaming"})
}

// Older handles POST /api/v1/messages/older
func (h *MessageHandler) Older(w http.ResponseWriter, r *http.Request) {
	resp, err := h.loadOlder(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Viewport handles POST /api/v1/viewport
// The caller reports its scroll position; a backward load triggered by the
// report runs before the response is written.
func (h *MessageHandler) Viewport(w http.ResponseWriter, r *http.Request) {
	var v scroll.Viewport
	if err := decodeJSON(r, &v); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	snap := h.ctrl.Snapshot()
	decision := h.policy.OnScroll(v, snap.HasMore)
	resp := ViewportResponse{
		Decision: decision,
		Follow:   h.policy.ShouldFollow(v, snap.Change),
		HasMore:  snap.HasMore,
	}

	if decision.LoadOlder {
		older, err := h.loadOlder(r.Context())
		h.policy.EndLoadOlder()
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		resp.Older = older
		resp.HasMore = older.HasMore
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *MessageHandler) loadOlder(ctx context.Context) (*OlderResponse, error) {
	page, err := h.ctrl.LoadOlder(ctx)
	if err != nil {
		if errors.Is(err, controller.ErrSuperseded) {
			return &OlderResponse{Skipped: true}, nil
		}
		return nil, err
	}
	if page == nil {
		return &OlderResponse{Skipped: true, HasMore: h.ctrl.Snapshot().HasMore}, nil
	}
	return &OlderResponse{Loaded: len(page.Messages), HasMore: page.HasMore}, nil
}
