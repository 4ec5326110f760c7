package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/capitalize-ai/chatdesk/internal/api"
	"github.com/capitalize-ai/chatdesk/internal/controller"
	"github.com/capitalize-ai/chatdesk/internal/story"
)

const maxBodyBytes = 1 << 20

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// decodeJSON reads a JSON request body into v.
func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// statusFor maps a domain error to an HTTP status.
func statusFor(err error) int {
	var statusErr *api.StatusError
	switch {
	case errors.Is(err, controller.ErrBusy), errors.Is(err, story.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, controller.ErrEmptyMessage), errors.Is(err, controller.ErrEmptyTitle),
		errors.Is(err, controller.ErrUnknownModel), errors.Is(err, story.ErrNotSavable):
		return http.StatusBadRequest
	case errors.Is(err, controller.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, controller.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, api.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &statusErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
