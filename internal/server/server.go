// Package server is the HTTP edge of the gateway: routing, middleware,
// authentication extraction, and the JSON handlers for agent invocation,
// accounts, credentials, model config, and usage metrics.
package server

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"

	"github.com/teloslabs/telos-gateway/internal/auth"
	"github.com/teloslabs/telos-gateway/internal/metrics"
	"github.com/teloslabs/telos-gateway/internal/pipeline"
	"github.com/teloslabs/telos-gateway/internal/store"
	"github.com/teloslabs/telos-gateway/internal/usagelog"
)

const version = "0.1.0"

// Server wires the HTTP routes to the gateway subsystems. All dependencies
// are injected so tests can run against in-memory doubles.
type Server struct {
	pipeline  *pipeline.Pipeline
	validator *auth.Validator
	tokens    *auth.TokenIssuer
	store     *store.Store
	usage     usagelog.Store
	metrics   *metrics.Registry

	log         *slog.Logger
	corsOrigins []string
	cacheReady  func() bool

	srv *fasthttp.Server
}

// Options holds optional Server settings.
type Options struct {
	Logger      *slog.Logger
	Metrics     *metrics.Registry
	CORSOrigins []string

	// CacheReady is the readiness probe for the cache backend, reported by
	// GET /readiness. Nil means always ready.
	CacheReady func() bool
}

// New creates a Server.
func New(p *pipeline.Pipeline, v *auth.Validator, t *auth.TokenIssuer, st *store.Store, usage usagelog.Store, opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		pipeline:    p,
		validator:   v,
		tokens:      t,
		store:       st,
		usage:       usage,
		metrics:     opts.Metrics,
		log:         log,
		corsOrigins: opts.CORSOrigins,
		cacheReady:  opts.CacheReady,
	}
}

// Handler builds the full routed and middleware-wrapped request handler.
func (s *Server) Handler() fasthttp.RequestHandler {
	r := router.New()

	r.POST("/v1/agent", s.handleAgent)

	r.POST("/v1/auth/register", s.handleRegister)
	r.POST("/v1/auth/login", s.handleLogin)

	r.POST("/v1/keys", s.requireSession(s.handleCreateKey))
	r.GET("/v1/keys", s.requireSession(s.handleListKeys))
	r.DELETE("/v1/keys/{id}", s.requireSession(s.handleRevokeKey))

	r.GET("/v1/model", s.requireSession(s.handleGetModelConfig))
	r.PUT("/v1/model", s.requireSession(s.handlePutModelConfig))

	r.GET("/v1/usage", s.requireSession(s.handleUsage))

	r.GET("/health", s.handleHealth)
	r.GET("/readiness", s.handleReadiness)

	if s.metrics != nil {
		r.GET("/metrics", s.metrics.Handler())
	}

	return applyMiddleware(r.Handler,
		recovery,
		requestID,
		timing,
		corsHandler(s.corsOrigins),
		securityHeaders,
	)
}

// Start starts the HTTP server on addr (e.g. ":8080") and blocks.
func (s *Server) Start(addr string) error {
	s.srv = &fasthttp.Server{
		Handler:      s.Handler(),
		ReadTimeout:  90 * time.Second,
		WriteTimeout: 90 * time.Second,
	}
	return s.srv.ListenAndServe(addr)
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown() error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown()
}

func (s *Server) handleHealth(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, map[string]any{"status": "ok", "version": version})
}

func (s *Server) handleReadiness(ctx *fasthttp.RequestCtx) {
	if s.cacheReady == nil || s.cacheReady() {
		writeJSON(ctx, map[string]string{"status": "ok"})
		return
	}
	ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
	writeJSON(ctx, map[string]string{"status": "unavailable"})
}

func writeJSON(ctx *fasthttp.RequestCtx, v any) {
	ctx.SetContentType("application/json")
	data, _ := json.Marshal(v)
	ctx.SetBody(data)
}
