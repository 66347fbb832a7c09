package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/appointment-orchestrator/internal/gateway"
	"github.com/wolfman30/appointment-orchestrator/internal/handoff"
	httpmiddleware "github.com/wolfman30/appointment-orchestrator/internal/http/middleware"
	"github.com/wolfman30/appointment-orchestrator/internal/tenant"
	"github.com/wolfman30/appointment-orchestrator/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger         *logging.Logger
	Gateway        *gateway.Handler
	Tenants        *tenant.Handler
	Handoffs       *handoff.Handler
	MetricsHandler http.Handler
	RateLimiter    *httpmiddleware.RateLimiter

	// ActionsToken guards the agent-facing routes when set.
	ActionsToken       string
	AdminAuthSecret    string
	CORSAllowedOrigins []string
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	if cfg == nil || cfg.Gateway == nil {
		panic("router: gateway handler is required")
	}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	r.Use(httpmiddleware.TenantFromHeader)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	// Probes
	r.Get("/health", cfg.Gateway.Health)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Route("/v1", func(v1 chi.Router) {
		v1.Get("/health", cfg.Gateway.Health)

		v1.Group(func(agent chi.Router) {
			agent.Use(httpmiddleware.RequireToken(cfg.ActionsToken))
			if cfg.RateLimiter != nil {
				agent.Use(cfg.RateLimiter.Middleware)
			}
			agent.Mount("/actions", cfg.Gateway.Routes())
			cfg.Gateway.RegisterLegacy(agent)
		})

		if cfg.Tenants != nil {
			v1.Mount("/tenants", cfg.Tenants.Routes())
		}
	})

	if cfg.AdminAuthSecret != "" {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			if cfg.Handoffs != nil {
				admin.With(httpmiddleware.RequireTenantScope).Get("/handoffs/{tenantID}", cfg.Handoffs.History)
			}
			if cfg.Tenants != nil {
				admin.Mount("/tenants", cfg.Tenants.AdminRoutes(httpmiddleware.RequireTenantScope))
			}
		})
	}

	return r
}
