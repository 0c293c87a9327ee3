// Package api provides HTTP handlers for the 5 Whys API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Michdriod/RCA-AI/internal/domain"
	"github.com/Michdriod/RCA-AI/internal/engine"
	"github.com/Michdriod/RCA-AI/internal/metrics"
)

const defaultMaxRequestBodySize = 1 << 20

// Service is the session workflow driven by the handlers.
type Service interface {
	Start(ctx context.Context, problem string) (*domain.Session, *domain.Question, error)
	SubmitAnswer(ctx context.Context, id, text string) (*domain.Session, error)
	Next(ctx context.Context, id string) (*domain.Session, engine.Artifact, error)
	Finalize(ctx context.Context, id string) (*domain.Session, *domain.RootCause, error)
	Get(ctx context.Context, id string) (*domain.Session, error)
	Metrics() metrics.Snapshot
	ModelName() string
}

var _ Service = (*engine.Engine)(nil)

// Handler provides common handler utilities.
type Handler struct {
	svc         Service
	logger      *slog.Logger
	maxBodySize int64
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(svc Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		svc:         svc,
		logger:      logger,
		maxBodySize: defaultMaxRequestBodySize,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// decode reads a JSON body into dst. On failure it writes the error response
// and returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, r, http.StatusRequestEntityTooLarge, "RequestTooLarge", domain.KindInvalidInput, "request body too large")
			return false
		}
		Error(w, r, http.StatusBadRequest, "InvalidRequestBody", domain.KindInvalidInput, "invalid request body")
		return false
	}
	return true
}
