// Package store provides the relational persistence layer: users, API-key
// credentials, and per-owner model configurations.
//
// Two drivers are supported: PostgreSQL for shared deployments and an
// embedded SQLite database for single-instance setups and tests. Both go
// through GORM so the repositories are driver-agnostic.
package store

import (
	"errors"
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned by repositories when no matching row exists.
var ErrNotFound = errors.New("store: not found")

// Store owns the database handle and exposes the repositories.
type Store struct {
	db *gorm.DB

	Users        *UserRepo
	APIKeys      *APIKeyRepo
	ModelConfigs *ModelConfigRepo
}

// Open connects to PostgreSQL when url is non-empty, otherwise to the SQLite
// file at path, and runs schema migration.
func Open(url, path string) (*Store, error) {
	var dialector gorm.Dialector
	if url != "" {
		dialector = postgres.Open(url)
	} else {
		dialector = sqlite.Open(path)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	if err := db.AutoMigrate(&User{}, &APIKey{}, &ModelConfig{}); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	return New(db), nil
}

// New wraps an existing GORM handle. The caller owns migration when using
// this constructor directly (tests migrate their own schema).
func New(db *gorm.DB) *Store {
	return &Store{
		db:           db,
		Users:        &UserRepo{db: db},
		APIKeys:      &APIKeyRepo{db: db},
		ModelConfigs: &ModelConfigRepo{db: db},
	}
}

// DB exposes the underlying handle for subsystems that share the database,
// such as the relational usage-log store.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// translate maps GORM's record-not-found onto the package sentinel.
func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
