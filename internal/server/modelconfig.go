package server

import (
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/valyala/fasthttp"

	"github.com/teloslabs/telos-gateway/internal/pipeline"
	"github.com/teloslabs/telos-gateway/internal/store"
	"github.com/teloslabs/telos-gateway/pkg/apierr"
)

type putModelConfigRequest struct {
	Provider  string `json:"provider"`
	ModelName string `json:"modelName"`
	BaseURL   string `json:"baseUrl"`
	APIKeyRef string `json:"apiKeyRef"`
}

// handleGetModelConfig returns the owner's backend selection. A 404 means
// the gateway defaults apply.
func (s *Server) handleGetModelConfig(ctx *fasthttp.RequestCtx) {
	ownerID, _ := ctx.UserValue("owner_id").(string)

	mc, err := s.store.ModelConfigs.FindByOwner(ctx, ownerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			apierr.Write(ctx, fasthttp.StatusNotFound,
				"no model config set; gateway defaults apply", apierr.TypeNotFound, apierr.CodeNotFound)
			return
		}
		s.writeInternal(ctx, "load model config", err)
		return
	}
	writeJSON(ctx, mc)
}

// handlePutModelConfig creates or replaces the owner's backend selection.
func (s *Server) handlePutModelConfig(ctx *fasthttp.RequestCtx) {
	ownerID, _ := ctx.UserValue("owner_id").(string)

	var req putModelConfigRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		apierr.WriteInvalid(ctx, "invalid JSON: "+err.Error())
		return
	}
	if req.Provider != "" && !pipeline.KnownBackend(req.Provider) {
		apierr.WriteInvalid(ctx, "unknown provider "+req.Provider)
		return
	}
	if req.ModelName == "" {
		apierr.WriteInvalid(ctx, "field 'modelName' is required")
		return
	}

	mc, err := s.store.ModelConfigs.Upsert(ctx, &store.ModelConfig{
		OwnerID:   ownerID,
		Provider:  req.Provider,
		ModelName: req.ModelName,
		BaseURL:   req.BaseURL,
		APIKeyRef: req.APIKeyRef,
	})
	if err != nil {
		s.writeInternal(ctx, "save model config", err)
		return
	}

	s.log.InfoContext(ctx, "model_config_saved",
		slog.String("owner_id", ownerID),
		slog.String("provider", mc.Provider),
		slog.String("model", mc.ModelName),
	)
	writeJSON(ctx, mc)
}
