package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/appointment-orchestrator/internal/bookings"
	appconfig "github.com/wolfman30/appointment-orchestrator/internal/config"
	"github.com/wolfman30/appointment-orchestrator/internal/handoff"
	"github.com/wolfman30/appointment-orchestrator/internal/inventory"
	"github.com/wolfman30/appointment-orchestrator/internal/notify"
	"github.com/wolfman30/appointment-orchestrator/internal/tenant"
	"github.com/wolfman30/appointment-orchestrator/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildPostgresPool opens and pings a pgx pool for DATABASE_URL.
func BuildPostgresPool(ctx context.Context, cfg *appconfig.Config) (*pgxpool.Pool, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, fmt.Errorf("bootstrap: DATABASE_URL is required for postgres backends")
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap: ping postgres: %w", err)
	}
	return pool, nil
}

// clients holds the lazily created connections shared by the builders below.
type clients struct {
	aws   *aws.Config
	redis *redis.Client
	pool  *pgxpool.Pool
}

func (c *clients) awsConfig() (aws.Config, error) {
	if c.aws == nil {
		return aws.Config{}, fmt.Errorf("bootstrap: aws config not loaded")
	}
	return *c.aws, nil
}

// buildTenantSource selects where tenant configs are read from. "static" serves
// the tenants passed to Build and is meant for tests.
func buildTenantSource(cfg *appconfig.Config, c *clients, staticTenants []tenant.Tenant) (tenant.Source, error) {
	switch cfg.TenantSource {
	case "static":
		return tenant.StaticSource(staticTenants), nil
	case "", "file":
		return tenant.FileSource{Path: cfg.TenantsFile}, nil
	case "s3":
		awsCfg, err := c.awsConfig()
		if err != nil {
			return nil, err
		}
		if cfg.TenantsS3Bucket == "" {
			return nil, fmt.Errorf("bootstrap: TENANTS_S3_BUCKET is required for the s3 tenant source")
		}
		return tenant.NewS3Source(s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.UsePathStyle = cfg.AWSEndpointOverride != ""
		}), cfg.TenantsS3Bucket, cfg.TenantsS3Key), nil
	case "redis":
		if c.redis == nil {
			return nil, fmt.Errorf("bootstrap: redis unavailable for tenant source")
		}
		return tenant.NewRedisSource(c.redis), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown TENANT_SOURCE %q", cfg.TenantSource)
	}
}

func buildSlotStore(cfg *appconfig.Config, c *clients) (inventory.Store, error) {
	opts := []inventory.Option{inventory.WithHoldTTL(cfg.HoldTTL)}
	switch cfg.SlotStore {
	case "", "memory":
		return inventory.NewMemoryStore(opts...), nil
	case "postgres":
		return inventory.NewPostgresStore(c.pool, opts...), nil
	case "redis":
		if c.redis == nil {
			return nil, fmt.Errorf("bootstrap: redis unavailable for slot store")
		}
		return inventory.NewRedisStore(c.redis, opts...), nil
	case "dynamodb":
		awsCfg, err := c.awsConfig()
		if err != nil {
			return nil, err
		}
		return inventory.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), cfg.SlotsTable, opts...), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown SLOT_STORE %q", cfg.SlotStore)
	}
}

func buildBookingRepository(cfg *appconfig.Config, c *clients) (bookings.Repository, error) {
	switch cfg.BookingStore {
	case "", "memory":
		return bookings.NewMemoryRepository(), nil
	case "postgres":
		return bookings.NewPostgresRepository(c.pool), nil
	case "dynamodb":
		awsCfg, err := c.awsConfig()
		if err != nil {
			return nil, err
		}
		return bookings.NewDynamoRepository(dynamodb.NewFromConfig(awsCfg), cfg.BookingsTable), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown BOOKING_STORE %q", cfg.BookingStore)
	}
}

func buildHandoffStore(cfg *appconfig.Config) (handoff.EventStore, func(), error) {
	switch cfg.HandoffStore {
	case "", "memory":
		return handoff.NewMemoryEventStore(), func() {}, nil
	case "postgres":
		store, err := handoff.OpenSQLEventStore(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("bootstrap: unknown HANDOFF_STORE %q", cfg.HandoffStore)
	}
}

// buildEmailSender picks the outbound email provider. A misconfigured
// provider degrades to logging so bookings never fail on email setup.
func buildEmailSender(cfg *appconfig.Config, c *clients, logger *logging.Logger) notify.Sender {
	from := notify.From{Address: cfg.EmailFrom, Name: cfg.EmailFromName}
	switch cfg.EmailProvider {
	case "sendgrid":
		sender, err := notify.NewSendGridSender(cfg.SendGridAPIKey, from, logger)
		if err == nil {
			return sender
		}
		logger.Warn("sendgrid selected but not usable; emails will only be logged", "error", err)
	case "ses":
		awsCfg, err := c.awsConfig()
		if err == nil {
			return notify.NewSESSender(sesv2.NewFromConfig(awsCfg), from, logger)
		}
		logger.Warn("ses selected but aws config unavailable; emails will only be logged", "error", err)
	}
	return notify.NewLogSender(logger)
}

func buildHandoffNotifiers(cfg *appconfig.Config, c *clients, mailer *notify.Service) ([]handoff.Notifier, error) {
	notifiers := []handoff.Notifier{handoff.NewEmailNotifier(mailer)}
	if cfg.HandoffQueueURL == "" {
		return notifiers, nil
	}
	awsCfg, err := c.awsConfig()
	if err != nil {
		return nil, err
	}
	return append(notifiers, handoff.NewQueueNotifier(sqs.NewFromConfig(awsCfg), cfg.HandoffQueueURL)), nil
}
