package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/teloslabs/telos-gateway/internal/auth"
	tgCache "github.com/teloslabs/telos-gateway/internal/cache"
	"github.com/teloslabs/telos-gateway/internal/metrics"
	"github.com/teloslabs/telos-gateway/internal/pipeline"
	"github.com/teloslabs/telos-gateway/internal/server"
	"github.com/teloslabs/telos-gateway/internal/store"
	"github.com/teloslabs/telos-gateway/internal/usagelog"
)

// initInfra establishes the database and optional external connections.
// Redis is only required when CACHE_MODE=redis; ClickHouse only when a
// CLICKHOUSE_URL is set.
func (a *App) initInfra(ctx context.Context) error {
	st, err := store.Open(a.cfg.Database.URL, a.cfg.Database.Path)
	if err != nil {
		return err
	}
	a.st = st
	if a.cfg.Database.URL != "" {
		a.log.Info("database connected", slog.String("url", redactURL(a.cfg.Database.URL)))
	} else {
		a.log.Info("database opened", slog.String("path", a.cfg.Database.Path))
	}

	if a.cfg.Cache.Mode == "redis" {
		a.log.Info("connecting to redis", slog.String("url", redactURL(a.cfg.Redis.URL)))

		rdb, err := connectRedis(ctx, a.cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		a.rdb = rdb
		a.log.Info("redis connected")
	}

	if a.cfg.ClickHouse.URL != "" {
		a.log.Info("connecting to clickhouse", slog.String("url", redactURL(a.cfg.ClickHouse.URL)))

		chStore, err := usagelog.NewClickHouseStore(ctx, a.cfg.ClickHouse.URL)
		if err != nil {
			return fmt.Errorf("clickhouse: %w", err)
		}
		a.logStore = chStore
		a.log.Info("usage log sink: clickhouse")
	} else {
		gormStore, err := usagelog.NewGormStore(a.st.DB())
		if err != nil {
			return err
		}
		a.logStore = gormStore
		a.log.Info("usage log sink: relational store")
	}

	return nil
}

// initServices creates the cache backend, the async usage-log writer, and
// the Prometheus metrics registry.
func (a *App) initServices(ctx context.Context) error {
	switch a.cfg.Cache.Mode {
	case "redis":
		// RedisCache wraps the already-connected client in initServer.
		a.log.Info("cache backend: redis")

	case "memory":
		a.memCache = tgCache.NewMemoryCache(ctx)
		a.log.Info("cache backend: memory (in-process)")

	case "none":
		a.log.Info("cache backend: disabled")

	default:
		return fmt.Errorf("unknown cache mode: %s", a.cfg.Cache.Mode)
	}

	writer, err := usagelog.NewWriter(a.baseCtx, a.logStore, a.log)
	if err != nil {
		return err
	}
	a.writer = writer

	a.prom = metrics.New()
	a.prom.SetBuildInfo(a.version)

	return nil
}

// initServer wires together the pipeline and the HTTP server.
func (a *App) initServer(_ context.Context) error {
	var cacheImpl tgCache.Cache
	var cacheReady func() bool

	switch a.cfg.Cache.Mode {
	case "redis":
		cacheImpl = tgCache.NewRedisCacheFromClient(a.rdb)
		cacheReady = redisPinger(a.baseCtx, a.rdb)
	case "memory":
		cacheImpl = a.memCache
		cacheReady = func() bool { return true }
	case "none":
		// nil cache — the pipeline handles nil gracefully (no caching)
	}

	p, err := pipeline.New(
		a.st.ModelConfigs,
		cacheImpl,
		a.writer,
		pipeline.DefaultFactories(),
		pipeline.Defaults{
			Provider:  pipeline.BackendTextGen,
			ModelName: a.cfg.Backend.DefaultModel,
			BaseURL:   a.cfg.Backend.BaseURL,
			APIKey:    a.cfg.Backend.APIKey,
			Timeout:   a.cfg.Backend.Timeout,
		},
		pipeline.Options{
			Logger:   a.log,
			Metrics:  a.prom,
			CacheTTL: a.cfg.Cache.TTL,
			Coalesce: a.cfg.Pipeline.Coalesce,
		},
	)
	if err != nil {
		return err
	}

	a.srv = server.New(
		p,
		auth.NewValidator(a.st.APIKeys, a.st.Users),
		auth.NewTokenIssuer(a.cfg.Auth.JWTSecret, a.cfg.Auth.TokenTTL),
		a.st,
		a.logStore,
		server.Options{
			Logger:      a.log,
			Metrics:     a.prom,
			CORSOrigins: a.cfg.CORSOrigins,
			CacheReady:  cacheReady,
		},
	)

	return nil
}
