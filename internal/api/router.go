package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/Michdriod/RCA-AI/internal/middleware"
)

// RouterConfig holds the handlers and settings mounted by NewRouter.
type RouterConfig struct {
	Sessions    *SessionHandler
	Streams     *StreamHandler
	Health      *HealthHandler
	CORSOrigins []string
	AccessLog   bool
}

// NewRouter assembles the global middleware stack and all routes.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(middleware.EchoRequestID)
	r.Use(chiMiddleware.RealIP)
	if cfg.AccessLog {
		r.Use(chiMiddleware.Logger)
	}
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.CORSOrigins))

	if cfg.Health != nil {
		cfg.Health.RegisterHealth(r)
	}
	if cfg.Sessions != nil {
		cfg.Sessions.RegisterRoutes(r)
	}
	if cfg.Streams != nil {
		cfg.Streams.RegisterRoutes(r)
	}
	return r
}
