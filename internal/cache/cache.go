package cache

import (
	"context"
	"time"
)

// Cache is the reply-cache contract used by the request pipeline. Keys are
// opaque request fingerprints computed by the caller.
//
// Implementations are best-effort: a Get that cannot reach the store reports
// a miss, a Set that cannot reach the store reports success. Deliberately no
// delete or invalidation — entries only ever leave by TTL expiry.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
