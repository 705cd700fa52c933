package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/teloslabs/telos-gateway/internal/backends"
	"github.com/teloslabs/telos-gateway/internal/pipeline"
	"github.com/teloslabs/telos-gateway/pkg/apierr"
)

type (
	agentRequest struct {
		Input     string `json:"input"`
		SessionID string `json:"sessionId"`
	}

	agentResponse struct {
		Output    string `json:"output"`
		Model     string `json:"model"`
		Cached    bool   `json:"cached"`
		LatencyMs int64  `json:"latencyMs"`
	}
)

// handleAgent is the invocation endpoint: authenticate, then hand the input
// to the pipeline. Accepts either an API key (X-Api-Key) or a session token
// (Authorization: Bearer).
func (s *Server) handleAgent(ctx *fasthttp.RequestCtx) {
	start := time.Now()
	route := "agent"

	if s.metrics != nil {
		s.metrics.IncInFlight()
	}
	defer func() {
		if s.metrics == nil {
			return
		}
		s.metrics.DecInFlight()
		s.metrics.ObserveHTTP(route, ctx.Response.StatusCode(), time.Since(start))
	}()

	reqID, _ := ctx.UserValue("request_id").(string)

	ownerID, credentialID, ok := s.authenticateAgent(ctx)
	if !ok {
		apierr.WriteUnauthenticated(ctx)
		return
	}

	var req agentRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		apierr.WriteInvalid(ctx, "invalid JSON: "+err.Error())
		return
	}

	s.log.InfoContext(ctx, "agent_request",
		slog.String("request_id", reqID),
		slog.String("owner_id", ownerID),
		slog.String("session_id", req.SessionID),
	)

	res, err := s.pipeline.Process(ctx, pipeline.Request{
		OwnerID:      ownerID,
		CredentialID: credentialID,
		Input:        req.Input,
		SessionID:    req.SessionID,
	})
	if err != nil {
		s.writePipelineError(ctx, reqID, err)
		return
	}

	writeJSON(ctx, agentResponse{
		Output:    res.Output,
		Model:     res.Model,
		Cached:    res.Cached,
		LatencyMs: res.LatencyMs,
	})
}

// authenticateAgent resolves the caller from either credential surface. The
// API key wins when both are present.
func (s *Server) authenticateAgent(ctx *fasthttp.RequestCtx) (ownerID, credentialID string, ok bool) {
	if rawKey := string(ctx.Request.Header.Peek("X-Api-Key")); rawKey != "" {
		user, key, err := s.validator.Authenticate(ctx, rawKey)
		if err != nil {
			if s.metrics != nil {
				s.metrics.RecordAuthFailure("api_key")
			}
			return "", "", false
		}
		return user.ID, key.ID, true
	}

	if token := bearerToken(ctx); token != "" {
		claims, err := s.tokens.Verify(token)
		if err != nil {
			if s.metrics != nil {
				s.metrics.RecordAuthFailure("token")
			}
			return "", "", false
		}
		return claims.Subject, "", true
	}

	if s.metrics != nil {
		s.metrics.RecordAuthFailure("none")
	}
	return "", "", false
}

// writePipelineError maps pipeline errors to the appropriate HTTP response.
//
//	ErrInvalidInput          → 400
//	backends.BackendError    → upstream status passed through
//	backends.TransportError  → 502 Bad Gateway
//	context.DeadlineExceeded → 504 Gateway Timeout
//	all other errors         → 500
func (s *Server) writePipelineError(ctx *fasthttp.RequestCtx, reqID string, err error) {
	if errors.Is(err, pipeline.ErrInvalidInput) {
		apierr.WriteInvalid(ctx, "field 'input' is required")
		return
	}

	var be *backends.BackendError
	if errors.As(err, &be) {
		apierr.WriteBackendError(ctx, be.Status, be.Error())
		return
	}
	var te *backends.TransportError
	if errors.As(err, &te) {
		if errors.Is(err, context.DeadlineExceeded) {
			apierr.WriteTimeout(ctx)
			return
		}
		apierr.WriteTransportError(ctx, te.Error())
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		apierr.WriteTimeout(ctx)
		return
	}

	s.log.ErrorContext(ctx, "pipeline_error",
		slog.String("request_id", reqID),
		slog.String("error", err.Error()),
	)
	apierr.Write(ctx, fasthttp.StatusInternalServerError,
		"internal server error", apierr.TypeServerError, apierr.CodeInternalError)
}

// requireSession wraps a management handler with session-token auth. The
// authenticated user ID lands in the "owner_id" user value.
func (s *Server) requireSession(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		token := bearerToken(ctx)
		if token == "" {
			apierr.WriteUnauthenticated(ctx)
			return
		}
		claims, err := s.tokens.Verify(token)
		if err != nil {
			if s.metrics != nil {
				s.metrics.RecordAuthFailure("token")
			}
			apierr.WriteUnauthenticated(ctx)
			return
		}
		ctx.SetUserValue("owner_id", claims.Subject)
		next(ctx)
	}
}

func bearerToken(ctx *fasthttp.RequestCtx) string {
	raw := strings.TrimSpace(string(ctx.Request.Header.Peek("Authorization")))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
