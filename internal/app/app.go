// Package app wires the chatdesk components from configuration.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chatdesk/internal/api"
	"github.com/capitalize-ai/chatdesk/internal/clock"
	"github.com/capitalize-ai/chatdesk/internal/config"
	"github.com/capitalize-ai/chatdesk/internal/controller"
	"github.com/capitalize-ai/chatdesk/internal/events"
	"github.com/capitalize-ai/chatdesk/internal/llm"
	natsclient "github.com/capitalize-ai/chatdesk/internal/nats"
	"github.com/capitalize-ai/chatdesk/internal/pagination"
	"github.com/capitalize-ai/chatdesk/internal/resolver"
	"github.com/capitalize-ai/chatdesk/internal/scroll"
	"github.com/capitalize-ai/chatdesk/internal/story"
	"github.com/capitalize-ai/chatdesk/internal/stream"
	"github.com/capitalize-ai/chatdesk/internal/titling"
	"github.com/capitalize-ai/chatdesk/pkg/logger"
)

// App holds the wired components.
type App struct {
	Config     *config.Config
	Client     *api.Client
	Pages      *pagination.Engine
	Hub        *events.Hub
	Controller *controller.Controller
	Scroll     *scroll.Policy
	Stories    *story.Saver
	NATS       *natsclient.Client

	logger       *logger.Logger
	bridgeCancel context.CancelFunc
	bridgeDone   chan struct{}
}

// New builds the component graph. NATS is connected only when enabled;
// a connection failure is returned so the caller can decide to abort.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	client := api.NewClient(cfg.BackendURL, cfg.BackendTimeout, log)
	res := resolver.New(client, resolver.DefaultConcurrency, log)
	pages := pagination.NewEngine(client, res, log)
	hub := events.NewHub(log)

	titler, err := newTitler(cfg, client, log)
	if err != nil {
		return nil, err
	}

	clk := clock.Real{}
	ctrl := controller.New(controller.Deps{
		Conversations: client,
		Chat:          client,
		Titler:        titler,
		Models:        client,
		Pages:         pages,
		Clock:         clk,
		Hub:           hub,
	}, controller.Options{
		HistoryPageSize:      cfg.HistoryPageSize,
		TitlePageSize:        cfg.TitlePageSize,
		ConversationPageSize: cfg.ConversationPageSize,
		DefaultTitle:         cfg.DefaultTitle,
		ErrorMessagePrefix:   cfg.ErrorMessagePrefix,
		Markers:              stream.Markers{Start: cfg.EnvelopeStart, End: cfg.EnvelopeEnd},
		Reconcile: controller.ReconcilePolicy{
			Enabled: cfg.ReconcileEnabled,
			Delay:   cfg.ReconcileDelay,
		},
	}, log)

	a := &App{
		Config:     cfg,
		Client:     client,
		Pages:      pages,
		Hub:        hub,
		Controller: ctrl,
		Scroll: scroll.New(scroll.Config{
			NearBottom:  cfg.ScrollNearBottom,
			TopTrigger:  cfg.ScrollTopTrigger,
			IdleTimeout: cfg.ScrollIdleTimeout,
			Cooldown:    cfg.ScrollCooldown,
		}, clk),
		Stories: story.NewSaver(client, cfg.StoryGUID, log),
		logger:  log,
	}

	if cfg.NATSEnabled {
		if err := a.startBridge(ctx); err != nil {
			ctrl.Close()
			return nil, err
		}
	}
	return a, nil
}

// Bootstrap loads the model catalogue and the conversation list.
func (a *App) Bootstrap(ctx context.Context) error {
	if err := a.Controller.LoadModels(ctx); err != nil {
		return err
	}
	return a.Controller.RefreshConversations(ctx)
}

// Close shuts the controller down and disconnects from NATS.
func (a *App) Close() {
	a.Controller.Close()
	if a.bridgeCancel != nil {
		a.bridgeCancel()
		<-a.bridgeDone
	}
	if a.NATS != nil {
		a.NATS.Close()
	}
}

func (a *App) startBridge(ctx context.Context) error {
	cfg := a.Config
	nc, err := natsclient.Connect(ctx, natsclient.Config{
		URL:      cfg.NATSURL,
		Name:     "chatdesk",
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, a.logger)
	if err != nil {
		return err
	}

	streams := natsclient.NewStreamManager(nc)
	if err := streams.EnsureStream(ctx); err != nil {
		nc.Close()
		return fmt.Errorf("failed to ensure stream: %w", err)
	}
	a.NATS = nc

	snapshots, unsubscribe := a.Hub.Subscribe()
	bridgeCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.bridgeCancel = cancel
	a.bridgeDone = make(chan struct{})
	go func() {
		defer close(a.bridgeDone)
		defer unsubscribe()
		natsclient.NewBridge(streams, a.logger).Run(bridgeCtx, snapshots)
	}()

	a.logger.Info("publishing changes to NATS", zap.String("stream", natsclient.StreamName))
	return nil
}

func newTitler(cfg *config.Config, client *api.Client, log *logger.Logger) (controller.Titler, error) {
	switch cfg.TitleProvider {
	case "", "server":
		return titling.NewRemoteTitler(client, cfg.DefaultTitle), nil
	case string(llm.ProviderAnthropic):
		c, err := llm.NewClient(llm.ProviderAnthropic, cfg.AnthropicAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create title client: %w", err)
		}
		return titling.NewLLMTitler(c, cfg.TitleModel, cfg.DefaultTitle, log), nil
	case string(llm.ProviderOpenAI):
		c, err := llm.NewClient(llm.ProviderOpenAI, cfg.OpenAIAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create title client: %w", err)
		}
		return titling.NewLLMTitler(c, cfg.TitleModel, cfg.DefaultTitle, log), nil
	default:
		return nil, fmt.Errorf("unknown title provider %q", cfg.TitleProvider)
	}
}
