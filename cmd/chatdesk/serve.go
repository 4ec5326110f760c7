package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chatdesk/internal/handler"
	"github.com/capitalize-ai/chatdesk/internal/server"
)

func newServeCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the local control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rt.setupLogger(false); err != nil {
				return err
			}
			ctx := cmd.Context()
			rt.log.Info("starting chatdesk control API", zap.String("backend", rt.cfg.BackendURL))

			a, cleanup, err := rt.start(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := a.Bootstrap(ctx); err != nil {
				rt.log.Warn("initial load failed", zap.Error(err))
			}

			var nats handler.ConnectionChecker
			if a.NATS != nil {
				nats = a.NATS
			}

			router := server.NewRouter(server.Deps{
				Controller:        a.Controller,
				Scroll:            a.Scroll,
				Stories:           a.Stories,
				NATS:              nats,
				AllowedOrigins:    rt.cfg.CORSOrigins,
				RateLimitRequests: rt.cfg.RateLimitRequests,
				RateLimitWindow:   rt.cfg.RateLimitWindow,
			}, rt.log)

			return server.Run(ctx, ":"+rt.cfg.ServerPort, router,
				rt.cfg.ServerReadTimeout, rt.cfg.ServerWriteTimeout, rt.log)
		},
	}
}
