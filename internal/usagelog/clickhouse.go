package usagelog

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const clickhouseDDL = `
CREATE TABLE IF NOT EXISTS usage_logs (
    id            UUID,
    owner_id      String,
    credential_id String,
    model_name    LowCardinality(String),
    fingerprint   String,
    input         String,
    output        String,
    latency_ms    Int64,
    cache_hit     UInt8,
    status        LowCardinality(String),
    error_kind    LowCardinality(String),
    created_at    DateTime64(3, 'UTC')
)
ENGINE = MergeTree()
PARTITION BY toYYYYMM(created_at)
ORDER BY (owner_id, created_at)
TTL toDateTime(created_at) + INTERVAL 90 DAY
`

// ClickHouseStore persists entries in ClickHouse for analytics-grade
// aggregation over large volumes.
type ClickHouseStore struct {
	conn driver.Conn
}

// NewClickHouseStore connects using a ClickHouse DSN, verifies the
// connection, and ensures the usage_logs table exists.
func NewClickHouseStore(ctx context.Context, dsn string) (*ClickHouseStore, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("usagelog: parse clickhouse dsn: %w", err)
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("usagelog: open clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("usagelog: ping clickhouse: %w", err)
	}
	if err := conn.Exec(ctx, clickhouseDDL); err != nil {
		return nil, fmt.Errorf("usagelog: create table: %w", err)
	}
	return &ClickHouseStore{conn: conn}, nil
}

func (s *ClickHouseStore) Insert(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO usage_logs")
	if err != nil {
		return fmt.Errorf("usagelog: prepare batch: %w", err)
	}
	for _, e := range entries {
		cacheHit := uint8(0)
		if e.CacheHit {
			cacheHit = 1
		}
		if err := batch.Append(
			e.ID,
			e.OwnerID,
			e.CredentialID,
			e.ModelName,
			e.Fingerprint,
			e.Input,
			e.Output,
			e.LatencyMs,
			cacheHit,
			e.Status,
			e.ErrorKind,
			e.CreatedAt,
		); err != nil {
			return fmt.Errorf("usagelog: append row: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("usagelog: send batch: %w", err)
	}
	return nil
}

func (s *ClickHouseStore) AggregateDaily(ctx context.Context, ownerID, credentialID string, days int) ([]DailyStat, error) {
	days = clampDays(days)
	since := time.Now().UTC().AddDate(0, 0, -days)

	query := `
SELECT toDate(created_at)                    AS day,
       count()                               AS total,
       avg(latency_ms)                       AS avg_latency,
       countIf(cache_hit = 1) / count()      AS cache_ratio
FROM usage_logs
WHERE owner_id = ? AND created_at >= ?`
	args := []any{ownerID, since}
	if credentialID != "" {
		query += " AND credential_id = ?"
		args = append(args, credentialID)
	}
	query += `
GROUP BY day
ORDER BY day`

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("usagelog: aggregate: %w", err)
	}
	defer rows.Close()

	var stats []DailyStat
	for rows.Next() {
		var (
			day        time.Time
			total      uint64
			avgLatency float64
			cacheRatio float64
		)
		if err := rows.Scan(&day, &total, &avgLatency, &cacheRatio); err != nil {
			return nil, fmt.Errorf("usagelog: scan aggregate row: %w", err)
		}
		stats = append(stats, DailyStat{
			Day:          day.UTC(),
			Total:        int64(total),
			AvgLatencyMs: avgLatency,
			CacheRatio:   cacheRatio,
		})
	}
	return stats, rows.Err()
}

func (s *ClickHouseStore) Close() error { return s.conn.Close() }
