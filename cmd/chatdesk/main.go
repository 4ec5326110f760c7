// Package main is the chatdesk command line.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chatdesk/internal/app"
	"github.com/capitalize-ai/chatdesk/internal/config"
	"github.com/capitalize-ai/chatdesk/pkg/logger"
	"github.com/capitalize-ai/chatdesk/pkg/tracing"
)

// runtime is what every subcommand receives after the root pre-run.
type runtime struct {
	cfg *config.Config
	log *logger.Logger
}

func main() {
	rt := &runtime{}
	var configPath string

	root := &cobra.Command{
		Use:   "chatdesk",
		Short: "Streaming chat controller with a control API and a terminal view",
		Long: `chatdesk drives conversations against a chat backend: it streams replies,
pages history backwards, titles conversations and keeps the view pinned
to the right place.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFile(configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			rt.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("CHATDESK_CONFIG"), "Path to a YAML config file")

	root.AddCommand(
		newServeCmd(rt),
		newTUICmd(rt),
		newSendCmd(rt),
		newHistoryCmd(rt),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setupLogger creates the process logger. The terminal view logs to a file
// because it owns the screen.
func (rt *runtime) setupLogger(toFile bool) error {
	var (
		log *logger.Logger
		err error
	)
	switch {
	case toFile && rt.cfg.LogFile != "":
		log, err = logger.NewFile(rt.cfg.LogLevel, rt.cfg.LogFile)
	case toFile:
		log = logger.NewNop()
	default:
		log, err = logger.New(rt.cfg.LogLevel)
	}
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	logger.SetGlobal(log)
	rt.log = log
	return nil
}

// start wires the application and, when enabled, tracing. The returned
// function releases both.
func (rt *runtime) start(ctx context.Context) (*app.App, func(), error) {
	var shutdownTracing func()
	if rt.cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "chatdesk", rt.cfg.TracingEndpoint)
		if err != nil {
			rt.log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			shutdownTracing = func() { _ = tracing.Shutdown(context.Background(), tp) }
		}
	}

	a, err := app.New(ctx, rt.cfg, rt.log)
	if err != nil {
		if shutdownTracing != nil {
			shutdownTracing()
		}
		return nil, nil, err
	}

	return a, func() {
		a.Close()
		if shutdownTracing != nil {
			shutdownTracing()
		}
		_ = rt.log.Sync()
	}, nil
}
