package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/valyala/fasthttp"

	"github.com/teloslabs/telos-gateway/internal/auth"
	"github.com/teloslabs/telos-gateway/internal/store"
	"github.com/teloslabs/telos-gateway/pkg/apierr"
)

const minPasswordLength = 8

type (
	registerRequest struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	loginRequest struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	tokenResponse struct {
		Token string `json:"token"`
	}
)

// handleRegister creates an account and returns a session token.
func (s *Server) handleRegister(ctx *fasthttp.RequestCtx) {
	var req registerRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		apierr.WriteInvalid(ctx, "invalid JSON: "+err.Error())
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		apierr.WriteInvalid(ctx, "field 'email' must be a valid address")
		return
	}
	if len(req.Password) < minPasswordLength {
		apierr.WriteInvalid(ctx, "field 'password' must be at least 8 characters")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.writeInternal(ctx, "hash password", err)
		return
	}

	user := &store.User{Email: email, PasswordHash: hash}
	if err := s.store.Users.Create(ctx, user); err != nil {
		// The unique index on email is the only constraint that can fire here.
		apierr.Write(ctx, fasthttp.StatusConflict,
			"an account with this email already exists", apierr.TypeConflict, apierr.CodeConflict)
		return
	}

	s.log.InfoContext(ctx, "account_created",
		slog.String("user_id", user.ID),
	)

	s.issueToken(ctx, user)
}

// handleLogin verifies credentials and returns a session token. Unknown
// email and wrong password are indistinguishable to the caller.
func (s *Server) handleLogin(ctx *fasthttp.RequestCtx) {
	var req loginRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		apierr.WriteInvalid(ctx, "invalid JSON: "+err.Error())
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	user, err := s.store.Users.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.writeInternal(ctx, "lookup account", err)
			return
		}
		// Burn a bcrypt comparison so unknown emails cost the same as
		// wrong passwords.
		auth.CheckPassword("$2a$10$0000000000000000000000000000000000000000000000000000n", req.Password)
		apierr.WriteUnauthenticated(ctx)
		return
	}

	if !auth.CheckPassword(user.PasswordHash, req.Password) || user.Status != store.UserStatusActive {
		if s.metrics != nil {
			s.metrics.RecordAuthFailure("password")
		}
		apierr.WriteUnauthenticated(ctx)
		return
	}

	s.issueToken(ctx, user)
}

func (s *Server) issueToken(ctx *fasthttp.RequestCtx, user *store.User) {
	token, err := s.tokens.Issue(user.ID, user.Email)
	if err != nil {
		s.writeInternal(ctx, "issue token", err)
		return
	}
	writeJSON(ctx, tokenResponse{Token: token})
}

func (s *Server) writeInternal(ctx *fasthttp.RequestCtx, op string, err error) {
	s.log.ErrorContext(ctx, "internal_error",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
	apierr.Write(ctx, fasthttp.StatusInternalServerError,
		"internal server error", apierr.TypeServerError, apierr.CodeInternalError)
}
