package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// APIKeyRepo reads and writes credential records. The request pipeline only
// ever reads through this repo; mutation happens via the management API.
type APIKeyRepo struct {
	db *gorm.DB
}

// Create inserts a new credential record. The ID is assigned here when empty.
// The unique index on key_prefix rejects a reused prefix at insert time.
func (r *APIKeyRepo) Create(ctx context.Context, k *APIKey) error {
	if k.ID == "" {
		k.ID = uuid.New().String()
	}
	k.CreatedAt = time.Now()
	return r.db.WithContext(ctx).Create(k).Error
}

// FindActiveByPrefix returns the non-revoked credential with the given
// public prefix, or ErrNotFound. Expiry is checked by the caller so that
// expired and unknown keys fail identically.
func (r *APIKeyRepo) FindActiveByPrefix(ctx context.Context, prefix string) (*APIKey, error) {
	var k APIKey
	err := r.db.WithContext(ctx).
		Where("key_prefix = ? AND revoked_at IS NULL", prefix).
		First(&k).Error
	if err != nil {
		return nil, translate(err)
	}
	return &k, nil
}

// ListByOwner returns all credentials belonging to ownerID, newest first.
// Hashes stay in the struct; handlers must not serialize them (the KeyHash
// field carries `json:"-"`).
func (r *APIKeyRepo) ListByOwner(ctx context.Context, ownerID string) ([]APIKey, error) {
	var keys []APIKey
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&keys).Error
	return keys, err
}

// Revoke sets revoked_at on an active credential owned by ownerID.
// Returns ErrNotFound when the key does not exist, belongs to someone else,
// or is already revoked — revocation happens at most once and revoked_at is
// never overwritten.
func (r *APIKeyRepo) Revoke(ctx context.Context, id, ownerID string) error {
	res := r.db.WithContext(ctx).
		Model(&APIKey{}).
		Where("id = ? AND owner_id = ? AND revoked_at IS NULL", id, ownerID).
		Update("revoked_at", time.Now())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
