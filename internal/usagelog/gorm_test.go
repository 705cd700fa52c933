package usagelog

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	store, err := NewGormStore(db)
	if err != nil {
		t.Fatalf("NewGormStore: %v", err)
	}
	return store
}

func entry(owner, cred string, latency int64, hit bool, at time.Time) Entry {
	return Entry{
		ID:           uuid.NewString(),
		OwnerID:      owner,
		CredentialID: cred,
		ModelName:    "google/flan-t5-base",
		Fingerprint:  "agent:" + owner + ":google/flan-t5-base:abc",
		Input:        "hello",
		Output:       "world",
		LatencyMs:    latency,
		CacheHit:     hit,
		Status:       StatusOK,
		CreatedAt:    at,
	}
}

func TestGormStoreInsertAndAggregate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	entries := []Entry{
		entry("owner-1", "cred-a", 100, false, now),
		entry("owner-1", "cred-a", 200, true, now),
		entry("owner-1", "cred-b", 300, false, now),
		entry("owner-2", "cred-c", 999, false, now),
	}
	if err := store.Insert(ctx, entries); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	stats, err := store.AggregateDaily(ctx, "owner-1", "", 7)
	if err != nil {
		t.Fatalf("AggregateDaily: %v", err)
	}
	if len(stats) != 1 {
		t.Fatalf("got %d days, want 1", len(stats))
	}
	day := stats[0]
	if day.Total != 3 {
		t.Errorf("total = %d, want 3", day.Total)
	}
	if day.AvgLatencyMs != 200 {
		t.Errorf("avg latency = %v, want 200", day.AvgLatencyMs)
	}
	if got, want := day.CacheRatio, 1.0/3.0; got < want-0.001 || got > want+0.001 {
		t.Errorf("cache ratio = %v, want ~%v", got, want)
	}
}

func TestGormStoreAggregateByCredential(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := store.Insert(ctx, []Entry{
		entry("owner-1", "cred-a", 100, false, now),
		entry("owner-1", "cred-b", 500, false, now),
	}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	stats, err := store.AggregateDaily(ctx, "owner-1", "cred-a", 7)
	if err != nil {
		t.Fatalf("AggregateDaily: %v", err)
	}
	if len(stats) != 1 || stats[0].Total != 1 {
		t.Fatalf("stats = %+v, want one day with total 1", stats)
	}
	if stats[0].AvgLatencyMs != 100 {
		t.Errorf("avg latency = %v, want 100", stats[0].AvgLatencyMs)
	}
}

func TestGormStoreAggregateWindow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := store.Insert(ctx, []Entry{
		entry("owner-1", "cred-a", 100, false, now),
		entry("owner-1", "cred-a", 100, false, now.AddDate(0, 0, -30)),
	}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	stats, err := store.AggregateDaily(ctx, "owner-1", "", 7)
	if err != nil {
		t.Fatalf("AggregateDaily: %v", err)
	}
	var total int64
	for _, s := range stats {
		total += s.Total
	}
	if total != 1 {
		t.Fatalf("entries inside window = %d, want 1", total)
	}
}

func TestGormStoreAggregateEmpty(t *testing.T) {
	store := newTestStore(t)

	stats, err := store.AggregateDaily(context.Background(), "nobody", "", 7)
	if err != nil {
		t.Fatalf("AggregateDaily: %v", err)
	}
	if len(stats) != 0 {
		t.Fatalf("got %d days, want 0", len(stats))
	}
}

func TestClampDays(t *testing.T) {
	cases := []struct{ in, want int }{
		{0, 1}, {-5, 1}, {1, 1}, {7, 7}, {90, 90}, {400, 90},
	}
	for _, c := range cases {
		if got := clampDays(c.in); got != c.want {
			t.Errorf("clampDays(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}
