package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/appointment-orchestrator/internal/bookings"
	appconfig "github.com/wolfman30/appointment-orchestrator/internal/config"
	"github.com/wolfman30/appointment-orchestrator/internal/gateway"
	"github.com/wolfman30/appointment-orchestrator/internal/handoff"
	"github.com/wolfman30/appointment-orchestrator/internal/inventory"
	"github.com/wolfman30/appointment-orchestrator/internal/notify"
	"github.com/wolfman30/appointment-orchestrator/internal/observability/metrics"
	"github.com/wolfman30/appointment-orchestrator/internal/search"
	"github.com/wolfman30/appointment-orchestrator/internal/tenant"
	"github.com/wolfman30/appointment-orchestrator/pkg/logging"
)

const demoSeedDays = 7

// Options are the process-level dependencies Build cannot derive from config.
type Options struct {
	Logger   *logging.Logger
	Registry prometheus.Registerer
	// LoadAWS is called once, and only when a configured backend needs AWS.
	LoadAWS func(ctx context.Context) (aws.Config, error)
	// Tenants seeds the "static" tenant source.
	Tenants []tenant.Tenant
}

// App is the fully wired service shared by the HTTP server and the action
// Lambda.
type App struct {
	Config     *appconfig.Config
	Logger     *logging.Logger
	Metrics    *metrics.BookingMetrics
	Directory  *tenant.Directory
	Store      inventory.Store
	Bookings   *bookings.Service
	Dispatcher *handoff.Dispatcher
	Gateway    *gateway.Gateway
	Sweeper    *inventory.Sweeper

	closers []func()
}

// Build connects the configured backends and wires every component. The
// tenant directory is loaded before Build returns.
func Build(ctx context.Context, cfg *appconfig.Config, opts Options) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	app := &App{Config: cfg, Logger: logger, Metrics: metrics.NewBookingMetrics(opts.Registry)}

	c := &clients{}
	fail := func(err error) (*App, error) {
		app.Close()
		return nil, err
	}

	if cfg.UsesAWS() {
		if opts.LoadAWS == nil {
			return fail(fmt.Errorf("bootstrap: aws backends configured but no aws loader given"))
		}
		awsCfg, err := opts.LoadAWS(ctx)
		if err != nil {
			return fail(fmt.Errorf("bootstrap: load aws config: %w", err))
		}
		c.aws = &awsCfg
	}
	if cfg.UsesRedis() {
		c.redis = BuildRedisClient(ctx, cfg, logger, true)
		if c.redis == nil {
			return fail(fmt.Errorf("bootstrap: redis unavailable at %s", cfg.RedisAddr))
		}
		client := c.redis
		app.closers = append(app.closers, func() { _ = client.Close() })
	}
	if cfg.SlotStore == "postgres" || cfg.BookingStore == "postgres" {
		pool, err := BuildPostgresPool(ctx, cfg)
		if err != nil {
			return fail(err)
		}
		c.pool = pool
		app.closers = append(app.closers, pool.Close)
	}

	source, err := buildTenantSource(cfg, c, opts.Tenants)
	if err != nil {
		return fail(err)
	}
	app.Directory = tenant.NewDirectory(source, logger)
	if err := app.Directory.Reload(ctx); err != nil {
		return fail(err)
	}

	rawStore, err := buildSlotStore(cfg, c)
	if err != nil {
		return fail(err)
	}
	app.Store = inventory.NewGuarded(rawStore, cfg.PersistenceTimeout, logger, app.Metrics)
	app.Sweeper = inventory.NewSweeper(app.Store, cfg.HoldSweepInterval, logger, app.Metrics)

	repo, err := buildBookingRepository(cfg, c)
	if err != nil {
		return fail(err)
	}
	events, closeEvents, err := buildHandoffStore(cfg)
	if err != nil {
		return fail(err)
	}
	app.closers = append(app.closers, closeEvents)

	mailer := notify.NewService(buildEmailSender(cfg, c, logger), logger)
	notifiers, err := buildHandoffNotifiers(cfg, c, mailer)
	if err != nil {
		return fail(err)
	}

	app.Bookings = bookings.NewService(app.Store, repo, mailer, logger)
	app.Dispatcher = handoff.NewDispatcher(events, logger, app.Metrics, notifiers...)
	app.Gateway = gateway.New(
		app.Directory,
		search.NewEngine(app.Store, cfg.SearchLimit, logger),
		app.Bookings,
		app.Dispatcher,
		logger,
		app.Metrics,
	)

	logger.Info("application wired",
		"tenant_source", cfg.TenantSource,
		"tenants", app.Directory.Snapshot().Len(),
		"slot_store", cfg.SlotStore,
		"booking_store", cfg.BookingStore,
		"handoff_store", cfg.HandoffStore,
		"email_provider", cfg.EmailProvider,
	)
	return app, nil
}

// Start launches the background loops: tenant reloads and the hold sweeper.
// They stop when ctx is cancelled.
func (a *App) Start(ctx context.Context) {
	go a.Directory.Run(ctx, a.Config.TenantsReloadInterval)
	go a.Sweeper.Start(ctx)
}

// SeedDemoSlots fills the inventory with generated slots for every tenant,
// starting today. Existing slots are left alone.
func (a *App) SeedDemoSlots(ctx context.Context) (int, error) {
	now := time.Now()
	total := 0
	for _, t := range a.Directory.Snapshot().All() {
		n, err := inventory.Seed(ctx, a.Store, inventory.DemoSlots(t, now, demoSeedDays, inventory.DefaultSlotLength))
		total += n
		if err != nil {
			return total, fmt.Errorf("bootstrap: seed %s: %w", t.ID, err)
		}
	}
	a.Logger.Info("seeded demo slots", "count", total)
	return total, nil
}

// Drain waits for in-flight emails and handoff notifications.
func (a *App) Drain() {
	if a.Bookings != nil {
		a.Bookings.Wait()
	}
	if a.Dispatcher != nil {
		a.Dispatcher.Wait()
	}
}

// Close releases backend connections in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
