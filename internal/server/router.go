package server

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/dualauth/dualauth/internal/handler"
	"github.com/dualauth/dualauth/internal/metrics"
	"github.com/dualauth/dualauth/internal/middleware"
)

// RouterConfig wires handlers and middleware into the HTTP router.
type RouterConfig struct {
	Logger *slog.Logger

	Handler *handler.Handler
	Health  *handler.HealthHandler
	Auth    *handler.AuthHandler
	// Metrics is optional; GET /metrics is not mounted when nil.
	Metrics *handler.MetricsHandler

	Authorizer middleware.Authorizer
	Limiter    middleware.IPRateLimiter
	Recorder   metrics.Recorder

	IsDevelopment      bool
	MaxRequestBodySize int64

	RateLimitEnabled bool
	RateLimitRPS     int
	RateLimitBurst   int
}

// NewRouter configures the chi router with all routes and middleware.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recoverer(cfg.Logger))
	r.Use(middleware.Security(middleware.SecurityConfig{EnableHSTS: !cfg.IsDevelopment}))
	if cfg.MaxRequestBodySize > 0 {
		r.Use(middleware.MaxBodySize(cfg.MaxRequestBodySize))
	}

	// Health endpoints (no auth required)
	r.Get("/healthz", cfg.Health.Healthz)
	r.Get("/readyz", cfg.Health.Readyz)
	if cfg.Metrics != nil {
		r.Get("/metrics", cfg.Metrics.Metrics)
	}

	// Root info endpoint
	r.Get("/", cfg.Handler.Index)

	// Credential endpoints, rate limited per client IP
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitIP(middleware.RateLimitConfig{
			Logger:   cfg.Logger,
			Limiter:  cfg.Limiter,
			Recorder: cfg.Recorder,
			Enabled:  cfg.RateLimitEnabled,
			RPS:      cfg.RateLimitRPS,
			Burst:    cfg.RateLimitBurst,
		}))
		r.Post("/register", cfg.Auth.Register)
		r.Post("/login", cfg.Auth.Login)
	})

	// Refresh verifies its own token kind
	r.Post("/refresh", cfg.Auth.Refresh)

	// Access-token protected routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAccessToken(middleware.AuthConfig{
			Logger:     cfg.Logger,
			Authorizer: cfg.Authorizer,
		}))
		r.Get("/protected", cfg.Auth.Protected)
		r.Get("/users/{username}", cfg.Auth.LookupUser)
	})

	// 404 and 405 handlers
	r.NotFound(cfg.Handler.NotFound)
	r.MethodNotAllowed(cfg.Handler.MethodNotAllowed)

	return r
}
