package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UserRepo reads and writes user accounts.
type UserRepo struct {
	db *gorm.DB
}

// Create inserts a new user. The ID is assigned here when empty.
func (r *UserRepo) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.Status == "" {
		u.Status = UserStatusActive
	}
	u.CreatedAt = time.Now()
	return r.db.WithContext(ctx).Create(u).Error
}

// FindByEmail returns the user with the given email or ErrNotFound.
func (r *UserRepo) FindByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	err := r.db.WithContext(ctx).
		Where("email = ?", email).
		First(&u).Error
	if err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

// FindByID returns the user with the given id or ErrNotFound.
func (r *UserRepo) FindByID(ctx context.Context, id string) (*User, error) {
	var u User
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&u).Error
	if err != nil {
		return nil, translate(err)
	}
	return &u, nil
}
