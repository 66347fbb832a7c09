package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/appointment-orchestrator/cmd/mainconfig"
	"github.com/wolfman30/appointment-orchestrator/internal/api/router"
	"github.com/wolfman30/appointment-orchestrator/internal/app/bootstrap"
	appconfig "github.com/wolfman30/appointment-orchestrator/internal/config"
	"github.com/wolfman30/appointment-orchestrator/internal/gateway"
	"github.com/wolfman30/appointment-orchestrator/internal/handoff"
	httpmiddleware "github.com/wolfman30/appointment-orchestrator/internal/http/middleware"
	"github.com/wolfman30/appointment-orchestrator/internal/tenant"
	"github.com/wolfman30/appointment-orchestrator/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting appointment-orchestrator API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg, metricsHandler := setupMetrics()
	app, err := bootstrap.Build(ctx, cfg, bootstrap.Options{
		Logger:   logger,
		Registry: reg,
		LoadAWS: func(ctx context.Context) (aws.Config, error) {
			return mainconfig.LoadAWSConfig(ctx, cfg)
		},
	})
	if err != nil {
		logger.Error("failed to build application", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	if cfg.SeedDemoSlots {
		if _, err := app.SeedDemoSlots(ctx); err != nil {
			logger.Error("failed to seed demo slots", "error", err)
		}
	}
	app.Start(ctx)

	limiter := httpmiddleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	go limiter.Run(ctx)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      newHandler(cfg, app, metricsHandler, limiter),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			logger.Error("server error", "error", err)
		}
	}

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	app.Drain()
	logger.Info("server stopped")
}

func setupMetrics() (*prometheus.Registry, http.Handler) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func newHandler(cfg *appconfig.Config, app *bootstrap.App, metricsHandler http.Handler, limiter *httpmiddleware.RateLimiter) http.Handler {
	return router.New(&router.Config{
		Logger:             app.Logger,
		Gateway:            gateway.NewHandler(app.Gateway, func() int { return app.Directory.Snapshot().Len() }, app.Logger),
		Tenants:            tenant.NewHandler(app.Directory, app.Logger),
		Handoffs:           handoff.NewHandler(app.Dispatcher, app.Logger),
		MetricsHandler:     metricsHandler,
		RateLimiter:        limiter,
		ActionsToken:       cfg.ActionsAPIToken,
		AdminAuthSecret:    cfg.AdminJWTSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})
}
