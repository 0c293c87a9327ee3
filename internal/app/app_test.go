package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Michdriod/RCA-AI/internal/config"
	"github.com/Michdriod/RCA-AI/internal/events"
)

func offlineConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Port: "0",
		Store: config.StoreConfig{
			Backend:    config.BackendMemory,
			SessionTTL: time.Minute,
			KeyPrefix:  "test:session:",
		},
		AI: config.AIConfig{Backend: config.ModelOffline, Temperature: 0.3, TopP: 0.85},
		Transcript: config.TranscriptConfig{
			Enabled:   true,
			Dir:       t.TempDir(),
			QueueSize: 8,
		},
	}
}

func TestNewOfflineApp(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, offlineConfig(t), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	if a.Store.Backend() != "memory" || a.Model.Name() != "scripted" {
		t.Fatalf("backend %s, model %s", a.Store.Backend(), a.Model.Name())
	}
	if _, ok := a.Sweeper(); !ok {
		t.Fatal("memory store should support sweeping")
	}

	s, q, err := a.Engine.Start(ctx, "Login emails arrive late")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if q.Index != 1 {
		t.Fatalf("question index = %d", q.Index)
	}
	evs := a.Hub.Since(s.ID, 0)
	if len(evs) != 2 || evs[1].Type != events.TypeQuestionAsked {
		t.Fatalf("hub events = %+v", evs)
	}
}

func TestNewModelRejectsMissingKey(t *testing.T) {
	_, _, err := NewModel(context.Background(), config.AIConfig{Backend: config.ModelOpenAI, Model: "m"}, nil)
	if err == nil {
		t.Fatal("expected error without an API key")
	}
}

func TestRunEventEvictionReleasesIdleBacklogs(t *testing.T) {
	cfg := offlineConfig(t)
	cfg.Store.SessionTTL = 20 * time.Millisecond
	cfg.Store.SweepInterval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a, err := New(ctx, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	if _, _, err := a.Engine.Start(ctx, "Login emails arrive late"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if a.Hub.Sessions() != 1 {
		t.Fatalf("Sessions = %d, want 1", a.Hub.Sessions())
	}

	done := make(chan error, 1)
	go func() { done <- a.RunEventEviction(ctx) }()

	deadline := time.After(2 * time.Second)
	for a.Hub.Sessions() != 0 {
		select {
		case <-deadline:
			t.Fatal("backlog not released after the session TTL")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("RunEventEviction = %v", err)
	}
}
