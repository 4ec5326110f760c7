package handler

import (
	"net/http"
	"sort"
)

// ConnectionChecker reports the state of an optional dependency.
type ConnectionChecker interface {
	IsConnected() bool
}

// HealthHandler serves liveness and readiness.
type HealthHandler struct {
	checks map[string]ConnectionChecker
}

// NewHealthHandler creates a health handler. Readiness fails while any of
// checks is disconnected; nil checkers are skipped.
func NewHealthHandler(checks map[string]ConnectionChecker) *HealthHandler {
	active := make(map[string]ConnectionChecker, len(checks))
	for name, c := range checks {
		if c != nil {
			active[name] = c
		}
	}
	return &HealthHandler{checks: active}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	var down []string
	for name, c := range h.checks {
		if !c.IsConnected() {
			down = append(down, name)
		}
	}
	if len(down) > 0 {
		sort.Strings(down)
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "not ready",
			"down":   down,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
