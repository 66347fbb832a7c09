package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	// Tenant directory
	TenantSource          string
	TenantsFile           string
	TenantsS3Bucket       string
	TenantsS3Key          string
	TenantsReloadInterval time.Duration

	// Slot inventory and bookings
	SlotStore          string
	BookingStore       string
	HoldTTL            time.Duration
	HoldSweepInterval  time.Duration
	PersistenceTimeout time.Duration
	SearchLimit        int
	SeedDemoSlots      bool

	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool
	SlotsTable    string
	BookingsTable string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// Handoff notifications
	HandoffStore    string
	HandoffQueueURL string
	EmailProvider   string
	SendGridAPIKey  string
	EmailFrom       string
	EmailFromName   string

	ActionsAPIToken    string
	AdminJWTSecret     string
	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		TenantSource:          strings.ToLower(strings.TrimSpace(getEnv("TENANT_SOURCE", "file"))),
		TenantsFile:           getEnv("TENANTS_FILE", "config/tenants.yaml"),
		TenantsS3Bucket:       getEnv("TENANTS_S3_BUCKET", ""),
		TenantsS3Key:          getEnv("TENANTS_S3_KEY", "tenants.yaml"),
		TenantsReloadInterval: getEnvAsDuration("TENANTS_RELOAD_INTERVAL", 5*time.Minute),

		SlotStore:          strings.ToLower(strings.TrimSpace(getEnv("SLOT_STORE", "memory"))),
		BookingStore:       strings.ToLower(strings.TrimSpace(getEnv("BOOKING_STORE", "memory"))),
		HoldTTL:            getEnvAsDuration("HOLD_TTL", 30*time.Second),
		HoldSweepInterval:  getEnvAsDuration("HOLD_SWEEP_INTERVAL", time.Minute),
		PersistenceTimeout: getEnvAsDuration("PERSISTENCE_TIMEOUT", 2*time.Second),
		SearchLimit:        getEnvAsInt("SEARCH_LIMIT", 3),
		SeedDemoSlots:      getEnvAsBool("SEED_DEMO_SLOTS", false),

		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),
		SlotsTable:    getEnv("SLOTS_TABLE", "appointment_slots"),
		BookingsTable: getEnv("BOOKINGS_TABLE", "appointment_bookings"),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		HandoffStore:    strings.ToLower(strings.TrimSpace(getEnv("HANDOFF_STORE", "memory"))),
		HandoffQueueURL: getEnv("HANDOFF_QUEUE_URL", ""),
		EmailProvider:   strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "stub"))),
		SendGridAPIKey:  getEnv("SENDGRID_API_KEY", ""),
		EmailFrom:       getEnv("EMAIL_FROM", ""),
		EmailFromName:   getEnv("EMAIL_FROM_NAME", "Appointment Desk"),

		ActionsAPIToken:    getEnv("ACTIONS_API_TOKEN", ""),
		AdminJWTSecret:     getEnv("ADMIN_JWT_SECRET", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", nil),
		RateLimitRPS:       getEnvAsFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 40),
	}
}

// UsesAWS reports whether any configured backend needs an AWS client.
func (c *Config) UsesAWS() bool {
	return c.SlotStore == "dynamodb" ||
		c.BookingStore == "dynamodb" ||
		c.TenantSource == "s3" ||
		c.EmailProvider == "ses" ||
		c.HandoffQueueURL != ""
}

// UsesPostgres reports whether a database connection is required.
func (c *Config) UsesPostgres() bool {
	return c.SlotStore == "postgres" || c.BookingStore == "postgres" || c.HandoffStore == "postgres"
}

// UsesRedis reports whether a redis client is required.
func (c *Config) UsesRedis() bool {
	return c.SlotStore == "redis" || c.TenantSource == "redis"
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma separated variable, dropping blanks.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
