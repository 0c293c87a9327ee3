// RCA-AI - 5 Whys root cause analysis server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/Michdriod/RCA-AI/internal/api"
	"github.com/Michdriod/RCA-AI/internal/app"
	"github.com/Michdriod/RCA-AI/internal/config"
	"github.com/Michdriod/RCA-AI/internal/logging"
	"github.com/Michdriod/RCA-AI/internal/store"
)

func main() {
	logging.Init(slog.LevelInfo, "json", os.Stdout)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	logging.Init(logging.ParseLevel(cfg.LogLevel), "json", os.Stdout)

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logging.New("engine"))
	if err != nil {
		slog.Error("Failed to initialize application", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	base := api.NewHandler(a.Engine, logging.New("api"))
	router := api.NewRouter(api.RouterConfig{
		Sessions:    api.NewSessionHandler(base),
		Streams:     api.NewStreamHandler(base, a.Hub, cfg.CORSOrigins),
		Health:      api.NewHealthHandler(base, a.Store, cfg.HasAPIKey()),
		CORSOrigins: cfg.CORSOrigins,
		AccessLog:   cfg.IsDevelopment(),
	})

	// Event streams are long-lived, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return a.RunEventEviction(gCtx)
	})

	if sweeper, ok := a.Sweeper(); ok {
		g.Go(func() error {
			return store.RunSweeper(gCtx, sweeper, cfg.Store.SweepInterval, cfg.Store.SessionTTL)
		})
	}

	g.Go(func() error {
		<-gCtx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server stopped with error", "error", err)
		a.Close()
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}
