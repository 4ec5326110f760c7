// Package server assembles the local control API.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chatdesk/internal/handler"
	"github.com/capitalize-ai/chatdesk/internal/middleware"
	"github.com/capitalize-ai/chatdesk/internal/scroll"
	"github.com/capitalize-ai/chatdesk/pkg/logger"
)

// Deps are the components the routes are served from.
type Deps struct {
	Controller handler.Controller
	Scroll     *scroll.Policy
	Stories    handler.StorySaver
	NATS       handler.ConnectionChecker

	AllowedOrigins    []string
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// NewRouter builds the chi router for the control API.
func NewRouter(d Deps, log *logger.Logger) http.Handler {
	healthHandler := handler.NewHealthHandler(map[string]handler.ConnectionChecker{"nats": d.NATS})
	stateHandler := handler.NewStateHandler(d.Controller, log)
	conversationHandler := handler.NewConversationHandler(d.Controller, log)
	messageHandler := handler.NewMessageHandler(d.Controller, d.Scroll, log)
	storyHandler := handler.NewStoryHandler(d.Controller, d.Stories, log)
	eventsHandler := handler.NewEventsHandler(d.Controller, websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}, log)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(d.AllowedOrigins))

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if d.RateLimitRequests > 0 {
			r.Use(middleware.RateLimit(d.RateLimitRequests, d.RateLimitWindow))
		}

		r.Get("/state", stateHandler.State)

		r.Route("/models", func(r chi.Router) {
			r.Get("/", stateHandler.Models)
			r.Post("/{id}/select", stateHandler.SelectModel)
		})

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", conversationHandler.List)
			r.Post("/", conversationHandler.Create)

			r.Route("/{id}", func(r chi.Router) {
				r.Put("/", conversationHandler.Update)
				r.Delete("/", conversationHandler.Delete)
				r.Post("/select", conversationHandler.Select)
				r.Post("/title", conversationHandler.AutoTitle)
			})
		})

		r.Post("/messages", messageHandler.Send)
		r.Post("/messages/older", messageHandler.Older)
		r.Post("/viewport", messageHandler.Viewport)

		r.Route("/stories", func(r chi.Router) {
			r.Get("/", storyHandler.List)
			r.Post("/", storyHandler.Save)
			r.Delete("/{id}", storyHandler.Delete)
		})

		r.Get("/events", eventsHandler.Stream)
		r.Get("/ws", eventsHandler.WebSocket)
	})

	return r
}

// Run serves h on addr until ctx is done, then shuts down gracefully.
func Run(ctx context.Context, addr string, h http.Handler, readTimeout, writeTimeout time.Duration, log *logger.Logger) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      h,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
		return err
	}

	log.Info("server stopped")
	return nil
}
