package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ardanlabs/conf/v3"
	"github.com/joho/godotenv"
)

// Environment name constants used in ENVIRONMENT config field.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTesting     = "testing"
)

// Config holds all configuration for the event core and its daemon.
type Config struct {
	// Redis — the backing key/value store for the event store.
	RedisURL string `conf:"default:redis://localhost:6379,env:REDIS_URL"`

	// Event store
	EventKeyPrefix  string `conf:"default:events:,env:EVENT_KEY_PREFIX"`
	EventTTLSeconds int    `conf:"default:0,env:EVENT_TTL_SECONDS"` // 0 disables expiry
	EnableIndexes   bool   `conf:"default:true,env:ENABLE_INDEXES"`

	// Event bus
	Transport       string `conf:"default:channel,enum:channel,env:EVENT_TRANSPORT"`
	CacheSize       int    `conf:"default:1024,env:EVENT_CACHE_SIZE"`
	CacheTTLSeconds int    `conf:"default:300,env:EVENT_CACHE_TTL_SECONDS"`

	// HTTP ops surface
	HTTPAddr string `conf:"default::8080,env:HTTP_ADDR"`
	// CORS — comma-separated list of allowed origins; use * to allow all (dev only)
	CORSAllowedOrigins string `conf:"default:*,env:CORS_ALLOWED_ORIGINS"`

	// Application
	LogLevel    string `conf:"default:info,env:LOG_LEVEL"`
	Environment string `conf:"default:development,enum:development|testing|production,env:ENVIRONMENT"`

	// Observability
	ServiceName    string `conf:"default:eventcore,env:SERVICE_NAME"`
	ServiceVersion string `conf:"default:dev,env:SERVICE_VERSION"`
	OtelEndpoint   string `conf:"default:,env:OTEL_ENDPOINT"`
	SentryDSN      string `conf:"default:,env:SENTRY_DSN,noprint"`
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	var cfg Config
	_ = godotenv.Load()
	if _, err := conf.Parse("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &cfg, nil
}

// EventTTL returns the configured default event TTL as a duration.
func (c *Config) EventTTL() time.Duration {
	return time.Duration(c.EventTTLSeconds) * time.Second
}

// CacheTTL returns the configured bus cache TTL as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// ValidateForProduction enforces safety requirements when ENVIRONMENT=production.
// Returns an error if any critical settings are missing or unsafe.
// No-ops for non-production environments.
func ValidateForProduction(cfg *Config) error {
	if cfg.Environment != EnvProduction {
		return nil
	}

	var errs []string

	if cfg.LogLevel == "debug" {
		errs = append(errs, "LOG_LEVEL must not be 'debug' in production (may leak sensitive data)")
	}

	if cfg.EventKeyPrefix == "" {
		errs = append(errs, "EVENT_KEY_PREFIX must be set in production (empty prefix makes Clear scan the whole keyspace)")
	}

	if cfg.CORSAllowedOrigins == "*" {
		errs = append(errs, "CORS_ALLOWED_ORIGINS must not be '*' in production")
	}

	if len(errs) == 0 {
		return nil
	}

	return fmt.Errorf("production config validation failed: %s", strings.Join(errs, "; "))
}
