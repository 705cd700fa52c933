package server

import (
	"strconv"

	"github.com/valyala/fasthttp"

	"github.com/teloslabs/telos-gateway/internal/usagelog"
	"github.com/teloslabs/telos-gateway/pkg/apierr"
)

const (
	defaultUsageDays = 7
	maxUsageDays     = 90
)

type usageResponse struct {
	Days  int                 `json:"days"`
	Stats []usagelog.DailyStat `json:"stats"`
}

// handleUsage returns the session owner's per-day invocation aggregates.
//
//	GET /v1/usage?days=7&keyId=<credential id>
func (s *Server) handleUsage(ctx *fasthttp.RequestCtx) {
	ownerID, _ := ctx.UserValue("owner_id").(string)

	days := defaultUsageDays
	if raw := string(ctx.QueryArgs().Peek("days")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxUsageDays {
			apierr.WriteInvalid(ctx, "query parameter 'days' must be between 1 and 90")
			return
		}
		days = n
	}
	keyID := string(ctx.QueryArgs().Peek("keyId"))

	stats, err := s.usage.AggregateDaily(ctx, ownerID, keyID, days)
	if err != nil {
		s.writeInternal(ctx, "aggregate usage", err)
		return
	}
	if stats == nil {
		stats = []usagelog.DailyStat{}
	}
	writeJSON(ctx, usageResponse{Days: days, Stats: stats})
}
