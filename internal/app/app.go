// Package app wires configuration into the running services.
package app

import (
	"context"
	"fmt"

	"verdict/internal/api"
	"verdict/internal/config"
	"verdict/internal/consensus"
	"verdict/internal/domain"
	"verdict/internal/httpx"
	"verdict/internal/integrations/llm"
	slacknotify "verdict/internal/integrations/slack"
	"verdict/internal/judging"
	"verdict/internal/ledger"
	"verdict/internal/logging"
	"verdict/internal/reconcile"
	"verdict/internal/requests"
	"verdict/internal/storage/sqlstore"

	"go.uber.org/zap"
)

type App struct {
	Config      config.Config
	Logger      *zap.Logger
	Store       *sqlstore.Store
	Ledger      *ledger.Ledger
	Requests    *requests.Service
	Recorder    *judging.Recorder
	Synthesizer *consensus.Synthesizer
	Notifier    *slacknotify.Notifier
	Reconciler  *reconcile.Reconciler
	Auth        *api.Authenticator
}

// Load reads configuration and builds the application.
func Load(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return New(ctx, cfg, logger)
}

// New opens the store and builds every service from cfg. The caller owns
// the returned App and must Close it.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	appliedHTTPTimeout := httpx.ConfigureExternalHTTPClient(cfg.ExternalHTTPTimeoutSeconds)
	logger.Info("config loaded",
		zap.String("db_driver", cfg.DBDriver),
		zap.String("llm_provider", cfg.LLMProvider),
		zap.String("llm_model", cfg.LLMModel),
		zap.Duration("synthesis_timeout", cfg.SynthesisTimeout()),
		zap.Duration("external_http_timeout", appliedHTTPTimeout),
		zap.Bool("slack", cfg.SlackConfigured()),
	)

	store, err := sqlstore.Open(cfg.DBDriver, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	logger.Info("database initialized", zap.String("driver", store.Driver()))

	provider, err := llm.NewProvider(ctx, cfg, httpx.ExternalHTTPClient(), logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("llm provider: %w", err)
	}
	if provider == nil {
		logger.Warn("no llm provider configured; consensus synthesis disabled")
	}

	led := ledger.New(store, logger)
	notifier := slacknotify.NewNotifier(cfg.SlackBotToken, cfg.SlackChannelID, httpx.ExternalHTTPClient(), logger)

	return &App{
		Config: cfg,
		Logger: logger,
		Store:  store,
		Ledger: led,
		Requests: requests.NewService(store, led, requests.Defaults{
			TargetVerdictCount: cfg.DefaultTargetVerdictCount,
			CreditsToCharge:    cfg.DefaultCreditsToCharge,
			Tone:               domain.Tone(cfg.DefaultTone),
			Tier:               cfg.DefaultRequestTier,
		}, logger),
		Recorder:    judging.NewRecorder(store, logger),
		Synthesizer: consensus.NewSynthesizer(provider, cfg.SynthesisTimeout(), logger),
		Notifier:    notifier,
		Reconciler:  reconcile.New(store, notifier, logger),
		Auth:        api.NewAuthenticator(cfg.JWTSecret),
	}, nil
}

// Handler builds the API Gateway handler over the app's services.
func (a *App) Handler() *api.Handler {
	return api.NewHandler(api.Deps{
		Requests:    a.Requests,
		Recorder:    a.Recorder,
		Ledger:      a.Ledger,
		Synthesizer: a.Synthesizer,
		Notifier:    a.Notifier,
		Auth:        a.Auth,
		Logger:      a.Logger,
	})
}

func (a *App) Close() error {
	_ = a.Logger.Sync()
	return a.Store.Close()
}
