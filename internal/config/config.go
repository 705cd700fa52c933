// Package config loads and validates all runtime configuration for the gateway.
//
// Configuration is read from environment variables (preferred for containers)
// or from a config.yaml file in the working directory. Environment variables
// take precedence over the YAML file.
//
// Naming convention: env vars use UPPER_SNAKE_CASE; the YAML file uses the
// same names in lower_snake_case. For example JWT_SECRET becomes jwt_secret
// in YAML.
//
// Only JWT_SECRET is strictly required for the gateway to start. The database
// defaults to an embedded SQLite file, the cache to the in-process backend,
// and the usage log to the relational store — so a bare
// `JWT_SECRET=... ./gateway serve` brings up a fully working instance.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config is the top-level configuration container.
type Config struct {
	// Port is the TCP port the HTTP server listens on. Default: 8080.
	Port int

	// LogLevel controls the minimum log level. One of: debug, info, warn, error.
	// Default: info.
	LogLevel string

	// Database holds the relational store settings (users, credentials,
	// model configs — and usage logs when ClickHouse is not configured).
	Database DatabaseConfig

	// Redis holds the cache connection settings.
	Redis RedisConfig

	// Cache controls the reply cache backend and TTL.
	Cache CacheConfig

	// ClickHouse holds the optional analytics sink for usage logs.
	ClickHouse ClickHouseConfig

	// Auth holds session-token settings.
	Auth AuthConfig

	// Backend holds the default inference-backend settings used when an
	// owner has no model configuration of their own.
	Backend BackendConfig

	// Pipeline holds orchestrator tuning knobs.
	Pipeline PipelineConfig

	// CORSOrigins is the list of allowed CORS origins. Default: ["*"].
	CORSOrigins []string
}

// DatabaseConfig holds the relational store configuration.
type DatabaseConfig struct {
	// URL is a postgres:// DSN. When empty the gateway uses an embedded
	// SQLite database at Path instead — zero external dependencies.
	URL string

	// Path is the SQLite file path used when URL is empty.
	// Default: "gateway.db".
	Path string
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is a redis:// or rediss:// URL. Example: redis://localhost:6379
	URL string
}

// CacheConfig controls the reply cache.
type CacheConfig struct {
	// Mode selects the cache backend:
	//   "redis"  — Redis-backed cache (requires REDIS_URL). Recommended for clusters.
	//   "memory" — In-process TTL cache. No external deps; not shared across replicas.
	//   "none"   — Cache disabled entirely; every request goes upstream.
	// Default: "memory".
	Mode string

	// TTL is the time-to-live for cached replies. Default: 5m.
	TTL time.Duration
}

// ClickHouseConfig holds the optional usage-log analytics sink.
type ClickHouseConfig struct {
	// URL is a clickhouse:// DSN. When empty, usage logs are written to the
	// relational store instead.
	URL string
}

// AuthConfig holds session-token settings.
type AuthConfig struct {
	// JWTSecret signs browser session tokens (HS256). Required.
	JWTSecret string

	// TokenTTL is the session-token lifetime. Default: 168h (7 days).
	TokenTTL time.Duration
}

// BackendConfig holds the default inference-backend settings.
type BackendConfig struct {
	// APIKey is the gateway-level key sent to the default backend when the
	// owner's model config does not carry its own key reference.
	APIKey string

	// BaseURL is the default text-generation endpoint.
	// Default: "https://api-inference.huggingface.co".
	BaseURL string

	// DefaultModel is used when an owner has no model config.
	// Default: "google/flan-t5-base".
	DefaultModel string

	// Timeout bounds every upstream call. The upstream contract has no
	// timeout of its own; this is a hardening addition. Default: 60s.
	Timeout time.Duration
}

// PipelineConfig holds orchestrator tuning knobs.
type PipelineConfig struct {
	// Coalesce enables single-flight coalescing of concurrent identical
	// requests. Off by default: the base contract permits duplicate
	// upstream calls for simultaneous identical misses.
	Coalesce bool
}

// Load reads configuration from environment variables and (optionally) from
// config.yaml in the current working directory.
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// ── Defaults ──────────────────────────────────────────────────────────────
	v.SetDefault("PORT", 8080)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DATABASE_PATH", "gateway.db")
	v.SetDefault("CACHE_MODE", "memory")
	v.SetDefault("CACHE_TTL", "5m")
	v.SetDefault("TOKEN_TTL", "168h")
	v.SetDefault("HF_BASE_URL", "https://api-inference.huggingface.co")
	v.SetDefault("DEFAULT_MODEL", "google/flan-t5-base")
	v.SetDefault("BACKEND_TIMEOUT", "60s")
	v.SetDefault("PIPELINE_COALESCE", false)
	v.SetDefault("CORS_ORIGINS", []string{"*"})

	cfg := &Config{
		Port:     v.GetInt("PORT"),
		LogLevel: strings.ToLower(v.GetString("LOG_LEVEL")),

		Database: DatabaseConfig{
			URL:  v.GetString("DATABASE_URL"),
			Path: v.GetString("DATABASE_PATH"),
		},

		Redis: RedisConfig{URL: v.GetString("REDIS_URL")},

		Cache: CacheConfig{
			Mode: strings.ToLower(v.GetString("CACHE_MODE")),
			TTL:  v.GetDuration("CACHE_TTL"),
		},

		ClickHouse: ClickHouseConfig{URL: v.GetString("CLICKHOUSE_URL")},

		Auth: AuthConfig{
			JWTSecret: v.GetString("JWT_SECRET"),
			TokenTTL:  v.GetDuration("TOKEN_TTL"),
		},

		Backend: BackendConfig{
			APIKey:       v.GetString("HF_API_KEY"),
			BaseURL:      v.GetString("HF_BASE_URL"),
			DefaultModel: v.GetString("DEFAULT_MODEL"),
			Timeout:      v.GetDuration("BACKEND_TIMEOUT"),
		},

		Pipeline: PipelineConfig{
			Coalesce: v.GetBool("PIPELINE_COALESCE"),
		},

		CORSOrigins: v.GetStringSlice("CORS_ORIGINS"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate checks all semantic constraints that cannot be expressed as defaults.
func (c *Config) validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("config: JWT_SECRET is required (it signs browser session tokens)")
	}

	// Redis URL is required when cache mode is "redis".
	if c.Cache.Mode == "redis" && c.Redis.URL == "" {
		return fmt.Errorf(
			"config: REDIS_URL is required when CACHE_MODE=redis; " +
				"set CACHE_MODE=memory to use the built-in in-process cache",
		)
	}

	switch c.Cache.Mode {
	case "redis", "memory", "none":
	default:
		return fmt.Errorf(
			"config: invalid CACHE_MODE %q; must be one of: redis, memory, none",
			c.Cache.Mode,
		)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf(
			"config: invalid LOG_LEVEL %q; must be one of: debug, info, warn, error",
			c.LogLevel,
		)
	}

	if c.Cache.TTL <= 0 {
		return fmt.Errorf("config: CACHE_TTL must be a positive duration")
	}
	if c.Backend.Timeout <= 0 {
		return fmt.Errorf("config: BACKEND_TIMEOUT must be a positive duration")
	}
	if c.Backend.DefaultModel == "" {
		return fmt.Errorf("config: DEFAULT_MODEL must not be empty")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("config: TOKEN_TTL must be a positive duration")
	}

	return nil
}

// loadDotEnv populates process env vars from a .env file when present.
func loadDotEnv(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config: %s is a directory, expected a file", path)
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	return nil
}
