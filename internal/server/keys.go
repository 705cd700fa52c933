package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/teloslabs/telos-gateway/internal/auth"
	"github.com/teloslabs/telos-gateway/internal/store"
	"github.com/teloslabs/telos-gateway/pkg/apierr"
)

type (
	createKeyRequest struct {
		Name      string     `json:"name"`
		ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	}

	// createKeyResponse carries the full key exactly once. It is not
	// recoverable afterwards.
	createKeyResponse struct {
		ID        string     `json:"id"`
		Name      string     `json:"name"`
		Key       string     `json:"key"`
		KeyPrefix string     `json:"keyPrefix"`
		ExpiresAt *time.Time `json:"expiresAt,omitempty"`
		CreatedAt time.Time  `json:"createdAt"`
	}

	listKeysResponse struct {
		Keys []store.APIKey `json:"keys"`
	}
)

// handleCreateKey mints a new API key for the session owner.
func (s *Server) handleCreateKey(ctx *fasthttp.RequestCtx) {
	ownerID, _ := ctx.UserValue("owner_id").(string)

	var req createKeyRequest
	if len(ctx.PostBody()) > 0 {
		if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
			apierr.WriteInvalid(ctx, "invalid JSON: "+err.Error())
			return
		}
	}
	if req.ExpiresAt != nil && req.ExpiresAt.Before(time.Now()) {
		apierr.WriteInvalid(ctx, "field 'expiresAt' must be in the future")
		return
	}

	generated, err := auth.GenerateKey()
	if err != nil {
		s.writeInternal(ctx, "generate key", err)
		return
	}

	key := &store.APIKey{
		OwnerID:   ownerID,
		Name:      req.Name,
		KeyPrefix: generated.Prefix,
		KeyHash:   generated.Hash,
		ExpiresAt: req.ExpiresAt,
	}
	if err := s.store.APIKeys.Create(ctx, key); err != nil {
		s.writeInternal(ctx, "store key", err)
		return
	}

	s.log.InfoContext(ctx, "key_created",
		slog.String("owner_id", ownerID),
		slog.String("key_id", key.ID),
		slog.String("key_prefix", key.KeyPrefix),
	)

	ctx.SetStatusCode(fasthttp.StatusCreated)
	writeJSON(ctx, createKeyResponse{
		ID:        key.ID,
		Name:      key.Name,
		Key:       generated.Raw,
		KeyPrefix: key.KeyPrefix,
		ExpiresAt: key.ExpiresAt,
		CreatedAt: key.CreatedAt,
	})
}

// handleListKeys returns the session owner's credentials, newest first.
// Hashes never serialize (json:"-").
func (s *Server) handleListKeys(ctx *fasthttp.RequestCtx) {
	ownerID, _ := ctx.UserValue("owner_id").(string)

	keys, err := s.store.APIKeys.ListByOwner(ctx, ownerID)
	if err != nil {
		s.writeInternal(ctx, "list keys", err)
		return
	}
	if keys == nil {
		keys = []store.APIKey{}
	}
	writeJSON(ctx, listKeysResponse{Keys: keys})
}

// handleRevokeKey revokes one credential. Revocation is permanent; revoking
// an already-revoked or foreign key is a 404.
func (s *Server) handleRevokeKey(ctx *fasthttp.RequestCtx) {
	ownerID, _ := ctx.UserValue("owner_id").(string)
	keyID, _ := ctx.UserValue("id").(string)

	if err := s.store.APIKeys.Revoke(ctx, keyID, ownerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			apierr.Write(ctx, fasthttp.StatusNotFound,
				"key not found", apierr.TypeNotFound, apierr.CodeNotFound)
			return
		}
		s.writeInternal(ctx, "revoke key", err)
		return
	}

	s.log.InfoContext(ctx, "key_revoked",
		slog.String("owner_id", ownerID),
		slog.String("key_id", keyID),
	)
	writeJSON(ctx, map[string]string{"status": "revoked"})
}
