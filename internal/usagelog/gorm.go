package usagelog

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Record is the relational row shape for one entry. Kept separate from Entry
// so the wire/domain struct stays free of persistence tags.
type Record struct {
	ID           string    `gorm:"primaryKey;size:36"`
	OwnerID      string    `gorm:"index;size:36"`
	CredentialID string    `gorm:"index;size:36"`
	ModelName    string    `gorm:"size:255"`
	Fingerprint  string    `gorm:"size:128"`
	Input        string    `gorm:"type:text"`
	Output       string    `gorm:"type:text"`
	LatencyMs    int64
	CacheHit     bool
	Status       string    `gorm:"size:8"`
	ErrorKind    string    `gorm:"size:32"`
	CreatedAt    time.Time `gorm:"index"`
}

func (Record) TableName() string { return "usage_logs" }

// GormStore persists entries in the gateway's relational database. It is the
// default sink; ClickHouse takes over when configured.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore migrates the usage_logs table and returns the store.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("usagelog: migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Insert(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	records := make([]Record, len(entries))
	for i, e := range entries {
		records[i] = Record{
			ID:           e.ID,
			OwnerID:      e.OwnerID,
			CredentialID: e.CredentialID,
			ModelName:    e.ModelName,
			Fingerprint:  e.Fingerprint,
			Input:        e.Input,
			Output:       e.Output,
			LatencyMs:    e.LatencyMs,
			CacheHit:     e.CacheHit,
			Status:       e.Status,
			ErrorKind:    e.ErrorKind,
			CreatedAt:    e.CreatedAt,
		}
	}
	return s.db.WithContext(ctx).Create(&records).Error
}

func (s *GormStore) AggregateDaily(ctx context.Context, ownerID, credentialID string, days int) ([]DailyStat, error) {
	days = clampDays(days)
	since := time.Now().UTC().AddDate(0, 0, -days)

	// date() works on both sqlite and postgres; day comes back as a string
	// whose exact shape differs per driver, hence the multi-layout parse.
	query := s.db.WithContext(ctx).
		Model(&Record{}).
		Select("date(created_at) AS day, " +
			"COUNT(*) AS total, " +
			"AVG(latency_ms) AS avg_latency, " +
			"SUM(CASE WHEN cache_hit THEN 1 ELSE 0 END) * 1.0 / COUNT(*) AS cache_ratio").
		Where("owner_id = ? AND created_at >= ?", ownerID, since)
	if credentialID != "" {
		query = query.Where("credential_id = ?", credentialID)
	}
	query = query.Group("date(created_at)").Order("day")

	rows, err := query.Rows()
	if err != nil {
		return nil, fmt.Errorf("usagelog: aggregate: %w", err)
	}
	defer rows.Close()

	var stats []DailyStat
	for rows.Next() {
		var (
			day        string
			total      int64
			avgLatency float64
			cacheRatio float64
		)
		if err := rows.Scan(&day, &total, &avgLatency, &cacheRatio); err != nil {
			return nil, fmt.Errorf("usagelog: scan aggregate row: %w", err)
		}
		parsed, err := parseDay(day)
		if err != nil {
			return nil, err
		}
		stats = append(stats, DailyStat{
			Day:          parsed,
			Total:        total,
			AvgLatencyMs: avgLatency,
			CacheRatio:   cacheRatio,
		})
	}
	return stats, rows.Err()
}

func (s *GormStore) Close() error { return nil }

func parseDay(day string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", "2006-01-02T15:04:05Z", time.RFC3339} {
		if t, err := time.Parse(layout, day); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("usagelog: unparseable day %q", day)
}

func clampDays(days int) int {
	if days < 1 {
		return 1
	}
	if days > 90 {
		return 90
	}
	return days
}
