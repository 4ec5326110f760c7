package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chatdesk/internal/model"
	"github.com/capitalize-ai/chatdesk/pkg/logger"
	"github.com/capitalize-ai/chatdesk/pkg/metrics"
)

const (
	heartbeatInterval = 30 * time.Second
	wsWriteTimeout    = 10 * time.Second
)

// EventsHandler pushes controller snapshots over SSE and websocket.
type EventsHandler struct {
	ctrl      Controller
	upgrader  websocket.Upgrader
	heartbeat time.Duration
	logger    *logger.Logger
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(ctrl Controller, upgrader websocket.Upgrader, log *logger.Logger) *EventsHandler {
	return &EventsHandler{
		ctrl:      ctrl,
		upgrader:  upgrader,
		heartbeat: heartbeatInterval,
		logger:    log,
	}
}

// Stream handles GET /api/v1/events
// The current snapshot is sent first, then every change. Slow clients skip
// intermediate snapshots.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	metrics.IncrementSubscribers("sse")
	defer metrics.DecrementSubscribers("sse")

	snapshots, cancel := h.ctrl.Subscribe()
	defer cancel()

	if err := sendSSEEvent(w, flusher, "snapshot", h.ctrl.Snapshot()); err != nil {
		return
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("SSE client disconnected")
			return

		case snap, ok := <-snapshots:
			if !ok {
				_ = sendSSEEvent(w, flusher, "closed", &model.ErrorEvent{
					Code:    "closed",
					Message: "controller shut down",
				})
				return
			}
			if err := sendSSEEvent(w, flusher, "snapshot", snap); err != nil {
				h.logger.Debug("SSE write failed", zap.Error(err))
				return
			}

		case <-heartbeat.C:
			if err := sendSSEEvent(w, flusher, "heartbeat", &model.HeartbeatEvent{
				Timestamp: time.Now(),
			}); err != nil {
				return
			}
		}
	}
}

// WebSocket handles GET /api/v1/ws
// Text frames "ping" are answered with "pong"; everything else the client
// sends is ignored.
func (h *EventsHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	metrics.IncrementSubscribers("ws")
	defer metrics.DecrementSubscribers("ws")

	snapshots, cancel := h.ctrl.Subscribe()
	defer cancel()

	pings := make(chan struct{}, 1)
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				h.logger.Debug("ws read loop end", zap.Error(err))
				return
			}
			if msgType == websocket.TextMessage && strings.EqualFold(strings.TrimSpace(string(data)), "ping") {
				select {
				case pings <- struct{}{}:
				default:
				}
			}
		}
	}()

	write := func(msgType int, data []byte) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteMessage(msgType, data)
	}
	writeSnapshot := func(snap model.Snapshot) error {
		data, err := json.Marshal(snap)
		if err != nil {
			return err
		}
		return write(websocket.TextMessage, data)
	}

	if err := writeSnapshot(h.ctrl.Snapshot()); err != nil {
		return
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-readDone:
			return
		case <-pings:
			if err := write(websocket.TextMessage, []byte("pong")); err != nil {
				return
			}
		case snap, ok := <-snapshots:
			if !ok {
				_ = write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if err := writeSnapshot(snap); err != nil {
				h.logger.Debug("ws write failed", zap.Error(err))
				return
			}
		case <-heartbeat.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	flusher.Flush()

	return nil
}
