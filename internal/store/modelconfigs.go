package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ModelConfigRepo reads and writes per-owner backend selections.
type ModelConfigRepo struct {
	db *gorm.DB
}

// FindByOwner returns the owner's model config or ErrNotFound. Absence is a
// normal state — callers fall back to the gateway defaults.
func (r *ModelConfigRepo) FindByOwner(ctx context.Context, ownerID string) (*ModelConfig, error) {
	var mc ModelConfig
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		First(&mc).Error
	if err != nil {
		return nil, translate(err)
	}
	return &mc, nil
}

// Upsert creates the owner's config when absent, otherwise updates it in
// place. At most one config row exists per owner (enforced by the unique
// index on owner_id). Returns the stored row.
func (r *ModelConfigRepo) Upsert(ctx context.Context, mc *ModelConfig) (*ModelConfig, error) {
	existing, err := r.FindByOwner(ctx, mc.OwnerID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if existing == nil {
		mc.ID = uuid.New().String()
		mc.CreatedAt = time.Now()
		if err := r.db.WithContext(ctx).Create(mc).Error; err != nil {
			return nil, err
		}
		return mc, nil
	}

	existing.Provider = mc.Provider
	existing.ModelName = mc.ModelName
	existing.BaseURL = mc.BaseURL
	existing.APIKeyRef = mc.APIKeyRef
	existing.UpdatedAt = time.Now()
	if err := r.db.WithContext(ctx).Save(existing).Error; err != nil {
		return nil, err
	}
	return existing, nil
}
