package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Michdriod/RCA-AI/internal/metrics"
)

const defaultHealthCheckTimeout = 5 * time.Second

// Pinger reports the reachability of the session store.
type Pinger interface {
	Ping(ctx context.Context) error
	Backend() string
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	*Handler
	store     Pinger
	hasAPIKey bool
	timeout   time.Duration
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(base *Handler, store Pinger, hasAPIKey bool) *HealthHandler {
	return &HealthHandler{
		Handler:   base,
		store:     store,
		hasAPIKey: hasAPIKey,
		timeout:   defaultHealthCheckTimeout,
	}
}

type healthResponse struct {
	Status  string            `json:"status"`
	Store   string            `json:"store_backend"`
	Model   string            `json:"ai_model"`
	AIKey   string            `json:"ai_key"`
	Checks  map[string]string `json:"checks"`
	Metrics metrics.Snapshot  `json:"metrics"`
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	resp := healthResponse{
		Status:  "ok",
		Store:   h.store.Backend(),
		Model:   h.svc.ModelName(),
		AIKey:   "missing",
		Checks:  map[string]string{"api": "ok"},
		Metrics: h.svc.Metrics(),
	}
	if h.hasAPIKey {
		resp.AIKey = "present"
	}
	statusCode := http.StatusOK

	if err := h.store.Ping(ctx); err != nil {
		h.logger.Error("Health check failed", "error", err, "store", resp.Store)
		resp.Status = "degraded"
		resp.Checks["store"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		resp.Checks["store"] = "ok"
	}

	JSON(w, statusCode, resp)
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}
