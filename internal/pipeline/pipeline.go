// Package pipeline is the core invocation path of the gateway.
//
// One Process call runs the full sequence for an authenticated owner:
// resolve the owner's model config (falling back to gateway defaults),
// fingerprint the input, consult the reply cache, invoke the backend adapter
// on a miss, populate the cache, and record exactly one usage-log entry per
// invocation that reaches the cache-or-backend stage.
//
// Key constraints:
//   - The cache is best-effort; cache trouble degrades to backend calls and
//     never fails a request.
//   - Exactly one backend attempt per miss. No retry, no backoff.
//   - Empty input is rejected before any side effect and leaves no log entry.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/teloslabs/telos-gateway/internal/backends"
	"github.com/teloslabs/telos-gateway/internal/cache"
	"github.com/teloslabs/telos-gateway/internal/metrics"
	"github.com/teloslabs/telos-gateway/internal/store"
	"github.com/teloslabs/telos-gateway/internal/usagelog"
)

const defaultSessionID = "default"

// ErrInvalidInput is returned for requests rejected before any side effect.
var ErrInvalidInput = errors.New("pipeline: input must not be empty")

// Factory builds one adapter variant from resolved options.
type Factory func(opts backends.Options) backends.Adapter

// Defaults are the gateway-level fallbacks applied when an owner has no model
// config, plus the upstream credential shared by all owners who bring none of
// their own.
type Defaults struct {
	Provider  string
	ModelName string
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
}

// Options holds optional tuning parameters for a Pipeline. All fields have
// sensible defaults and can be omitted.
type Options struct {
	// Logger is the structured logger used for invocation events. Defaults
	// to slog.Default when nil.
	Logger *slog.Logger

	// Metrics enables Prometheus metrics collection. When nil, metrics are
	// disabled.
	Metrics *metrics.Registry

	// CacheTTL controls how long cached replies live. Default: 5m.
	CacheTTL time.Duration

	// Coalesce collapses concurrent identical misses into one backend call.
	// Every caller still gets its own usage-log entry.
	Coalesce bool
}

// Request is one invocation on behalf of an authenticated owner.
type Request struct {
	OwnerID      string
	CredentialID string // empty for session-token calls
	Input        string
	SessionID    string
}

// Result is the outcome of a successful invocation.
type Result struct {
	Output    string
	Model     string
	Cached    bool
	LatencyMs int64
}

// Pipeline executes invocations. Dependencies are injected via the
// constructor so they can be replaced with doubles in unit tests.
type Pipeline struct {
	configs   *store.ModelConfigRepo
	cache     cache.Cache
	writer    *usagelog.Writer
	factories map[string]Factory
	defaults  Defaults

	log      *slog.Logger
	metrics  *metrics.Registry
	cacheTTL time.Duration
	coalesce bool
	group    singleflight.Group
}

// New creates a Pipeline. cache may be nil (every request goes to the
// backend); writer may be nil (no usage log).
func New(configs *store.ModelConfigRepo, c cache.Cache, w *usagelog.Writer, factories map[string]Factory, defaults Defaults, opts Options) (*Pipeline, error) {
	if configs == nil {
		return nil, fmt.Errorf("pipeline: model config repo must not be nil")
	}
	if len(factories) == 0 {
		return nil, fmt.Errorf("pipeline: at least one adapter factory is required")
	}
	if _, ok := factories[defaults.Provider]; !ok {
		return nil, fmt.Errorf("pipeline: default provider %q has no adapter factory", defaults.Provider)
	}
	if defaults.ModelName == "" {
		return nil, fmt.Errorf("pipeline: default model must not be empty")
	}
	if defaults.Timeout <= 0 {
		defaults.Timeout = backends.DefaultTimeout
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	cacheTTL := opts.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}

	return &Pipeline{
		configs:   configs,
		cache:     c,
		writer:    w,
		factories: factories,
		defaults:  defaults,
		log:       log,
		metrics:   opts.Metrics,
		cacheTTL:  cacheTTL,
		coalesce:  opts.Coalesce,
	}, nil
}

// Process runs one invocation end to end.
func (p *Pipeline) Process(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Input) == "" {
		return nil, ErrInvalidInput
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = defaultSessionID
	}

	provider, adapterOpts, err := p.resolve(ctx, req.OwnerID)
	if err != nil {
		return nil, err
	}

	fp := Fingerprint(req.OwnerID, adapterOpts.ModelName, req.Input)

	// Cache lookup. A hit short-circuits the backend entirely and is logged
	// with zero latency.
	if p.cache != nil {
		lookupStart := time.Now()
		if body, ok := p.cache.Get(ctx, fp); ok {
			if p.metrics != nil {
				p.metrics.CacheGetHit()
				p.metrics.ObservePipeline(provider, "ok", "hit", time.Since(lookupStart))
			}
			p.log.DebugContext(ctx, "cache_hit",
				slog.String("owner_id", req.OwnerID),
				slog.String("model", adapterOpts.ModelName),
			)
			p.logEntry(req, adapterOpts.ModelName, fp, string(body), 0, true, usagelog.StatusOK, "")
			return &Result{
				Output: string(body),
				Model:  adapterOpts.ModelName,
				Cached: true,
			}, nil
		}
		if p.metrics != nil {
			p.metrics.CacheGetMiss()
		}
	} else if p.metrics != nil {
		p.metrics.CacheGetBypass()
	}

	// The clock starts at the invoke itself, so reported latency covers the
	// backend exchange and not config resolution or the cache lookup.
	start := time.Now()
	output, err := p.invoke(ctx, provider, adapterOpts, req.Input, sessionID, fp)
	latency := time.Since(start)

	if err != nil {
		kind := classifyError(err)
		if p.metrics != nil {
			p.metrics.RecordBackendError(provider, kind)
			p.metrics.ObservePipeline(provider, "error", "miss", latency)
		}
		p.log.ErrorContext(ctx, "backend_error",
			slog.String("owner_id", req.OwnerID),
			slog.String("backend", provider),
			slog.String("model", adapterOpts.ModelName),
			slog.String("error_kind", kind),
			slog.String("error", err.Error()),
			slog.Duration("elapsed", latency),
		)
		p.logEntry(req, adapterOpts.ModelName, fp, err.Error(), latency.Milliseconds(), false, usagelog.StatusErr, kind)
		return nil, err
	}

	// Populate the cache for future identical requests. Failures are
	// recorded but never surfaced.
	if p.cache != nil {
		if err := p.cache.Set(ctx, fp, []byte(output), p.cacheTTL); err != nil {
			if p.metrics != nil {
				p.metrics.CacheSetError()
			}
		} else if p.metrics != nil {
			p.metrics.CacheSetOK()
		}
	}

	if p.metrics != nil {
		p.metrics.ObservePipeline(provider, "ok", "miss", latency)
	}
	p.log.DebugContext(ctx, "response_ok",
		slog.String("owner_id", req.OwnerID),
		slog.String("backend", provider),
		slog.String("model", adapterOpts.ModelName),
		slog.Duration("elapsed", latency),
	)
	p.logEntry(req, adapterOpts.ModelName, fp, output, latency.Milliseconds(), false, usagelog.StatusOK, "")

	return &Result{
		Output:    output,
		Model:     adapterOpts.ModelName,
		LatencyMs: latency.Milliseconds(),
	}, nil
}

// invoke calls the backend adapter, optionally coalescing concurrent
// identical misses into a single upstream call.
func (p *Pipeline) invoke(ctx context.Context, provider string, opts backends.Options, input, sessionID, fp string) (string, error) {
	call := func() (string, error) {
		adapter := p.factories[provider](opts)
		attemptStart := time.Now()
		out, err := adapter.Send(ctx, input, sessionID)
		if p.metrics != nil {
			outcome := "success"
			if err != nil {
				outcome = classifyError(err)
			}
			p.metrics.ObserveBackendAttempt(provider, outcome, time.Since(attemptStart))
		}
		return out, err
	}

	if !p.coalesce {
		return call()
	}
	v, err, _ := p.group.Do(fp, func() (any, error) {
		return call()
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// resolve loads the owner's model config and merges it over the gateway
// defaults. A missing config is the normal state for new owners.
func (p *Pipeline) resolve(ctx context.Context, ownerID string) (string, backends.Options, error) {
	provider := p.defaults.Provider
	opts := backends.Options{
		APIKey:    p.defaults.APIKey,
		BaseURL:   p.defaults.BaseURL,
		ModelName: p.defaults.ModelName,
		Timeout:   p.defaults.Timeout,
	}

	mc, err := p.configs.FindByOwner(ctx, ownerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return provider, opts, nil
		}
		return "", backends.Options{}, fmt.Errorf("pipeline: resolve model config: %w", err)
	}

	if mc.Provider != "" {
		if _, ok := p.factories[mc.Provider]; !ok {
			return "", backends.Options{}, fmt.Errorf("pipeline: unknown backend %q", mc.Provider)
		}
		provider = mc.Provider
	}
	opts = backends.Merge(opts, backends.Options{
		APIKey:    mc.APIKeyRef,
		BaseURL:   mc.BaseURL,
		ModelName: mc.ModelName,
	})
	return provider, opts, nil
}

func (p *Pipeline) logEntry(req Request, model, fp, output string, latencyMs int64, cacheHit bool, status, errorKind string) {
	if p.writer == nil {
		return
	}
	p.writer.Write(usagelog.Entry{
		OwnerID:      req.OwnerID,
		CredentialID: req.CredentialID,
		ModelName:    model,
		Fingerprint:  fp,
		Input:        req.Input,
		Output:       output,
		LatencyMs:    latencyMs,
		CacheHit:     cacheHit,
		Status:       status,
		ErrorKind:    errorKind,
	})
	if p.metrics != nil {
		p.metrics.SetUsageLogDropped(p.writer.Dropped())
	}
}

// classifyError maps an adapter error to a usage-log error kind.
func classifyError(err error) string {
	var be *backends.BackendError
	if errors.As(err, &be) {
		return usagelog.ErrKindBackend
	}
	var te *backends.TransportError
	if errors.As(err, &te) {
		return usagelog.ErrKindTransport
	}
	return usagelog.ErrKindInternal
}
