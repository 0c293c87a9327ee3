// Package app builds the engine and its collaborators from configuration.
// The HTTP server and the CLI share it.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Michdriod/RCA-AI/internal/config"
	"github.com/Michdriod/RCA-AI/internal/engine"
	"github.com/Michdriod/RCA-AI/internal/events"
	"github.com/Michdriod/RCA-AI/internal/llm"
	"github.com/Michdriod/RCA-AI/internal/metrics"
	"github.com/Michdriod/RCA-AI/internal/notify"
	"github.com/Michdriod/RCA-AI/internal/session"
	"github.com/Michdriod/RCA-AI/internal/store"
	"github.com/Michdriod/RCA-AI/internal/transcript"
)

// App holds the wired dependencies of a running service.
type App struct {
	Config   *config.Config
	Store    store.KV
	Engine   *engine.Engine
	Hub      *events.Hub
	Counters *metrics.Counters
	Model    llm.Model

	transcript *transcript.Logger
	webhook    *notify.Webhook
	closeModel func()
	logger     *slog.Logger
}

// New opens the store, connects the model backend and assembles the engine.
// Callers must Close the returned App.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{
		Config:   cfg,
		Hub:      events.NewHub(0),
		Counters: metrics.New(),
		logger:   logger,
	}

	kv, err := store.Open(ctx, store.Options{
		Backend:   cfg.Store.Backend,
		RedisURL:  cfg.Store.RedisURL,
		SQLDriver: cfg.Store.SQLDriver,
		SQLDSN:    cfg.Store.SQLDSN,
	})
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	a.Store = kv
	logger.Info("Session store ready", "backend", kv.Backend(), "session_ttl", cfg.Store.SessionTTL)

	model, closeModel, err := NewModel(ctx, cfg.AI, logger)
	if err != nil {
		_ = kv.Close()
		return nil, err
	}
	a.Model = model
	a.closeModel = closeModel
	logger.Info("Model backend ready", "backend", cfg.AI.Backend, "model", model.Name())

	a.transcript, err = transcript.New(transcript.Config{
		Enabled:   cfg.Transcript.Enabled,
		Dir:       cfg.Transcript.Dir,
		QueueSize: cfg.Transcript.QueueSize,
	}, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init transcript log: %w", err)
	}
	a.webhook = notify.NewWebhook(cfg.Callback.URL, cfg.Callback.Timeout, logger)

	repo := session.NewRepository(kv, cfg.Store.SessionTTL, session.WithKeyPrefix(cfg.Store.KeyPrefix))
	gen := llm.NewGenerator(model, llm.GeneratorConfig{
		Temperature: cfg.AI.Temperature,
		TopP:        cfg.AI.TopP,
	}, a.Counters, logger)

	opts := []engine.Option{engine.WithPublisher(a.Hub), engine.WithLogger(logger)}
	if a.transcript != nil {
		opts = append(opts, engine.WithRecorder(a.transcript))
	}
	if a.webhook != nil {
		opts = append(opts, engine.WithNotifier(a.webhook))
	}
	a.Engine = engine.New(repo, gen, a.Counters, opts...)
	return a, nil
}

// NewModel builds the model client selected by cfg.Backend. The returned
// func releases its resources.
func NewModel(ctx context.Context, cfg config.AIConfig, logger *slog.Logger) (llm.Model, func(), error) {
	noop := func() {}
	switch cfg.Backend {
	case config.ModelOffline:
		return llm.Scripted{}, noop, nil

	case config.ModelGRPC:
		gcfg := llm.DefaultGRPCConfig(cfg.GRPCAddr)
		gcfg.Model = cfg.Model
		if cfg.Timeout > 0 {
			gcfg.RequestTimeout = cfg.Timeout
		}
		client, err := llm.NewGRPCClient(gcfg, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connect model sidecar: %w", err)
		}
		if err := client.Health(ctx); err != nil {
			logger.Warn("Model sidecar health check failed", "address", cfg.GRPCAddr, "error", err)
		}
		return client, client.Close, nil

	default:
		client, err := llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init model client: %w", err)
		}
		return client, noop, nil
	}
}

// Sweeper returns the store as a store.Sweeper when it keeps expired entries.
func (a *App) Sweeper() (store.Sweeper, bool) {
	s, ok := a.Store.(store.Sweeper)
	return s, ok
}

// RunEventEviction releases event backlogs of sessions idle past the session
// TTL. It blocks until ctx is done.
func (a *App) RunEventEviction(ctx context.Context) error {
	return events.RunEviction(ctx, a.Hub, a.Config.Store.SweepInterval, a.Config.Store.SessionTTL)
}

// Close flushes pending callbacks and transcripts and releases the store and model.
func (a *App) Close() {
	a.webhook.Wait()
	if a.transcript != nil {
		if err := a.transcript.Close(); err != nil {
			a.logger.Warn("Failed to close transcript log", "error", err)
		}
	}
	if a.closeModel != nil {
		a.closeModel()
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.logger.Warn("Failed to close session store", "error", err)
		}
	}
}
