package store

import "time"

// User status values.
const (
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"
)

// User is a registered account. Passwords are stored as bcrypt hashes only.
type User struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	Email        string    `gorm:"uniqueIndex;size:255" json:"email"`
	PasswordHash string    `gorm:"size:128" json:"-"`
	Status       string    `gorm:"size:16;default:active" json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (User) TableName() string {
	return "users"
}

// APIKey is a bearer credential. Only the public prefix and the SHA-256
// digest of the full key persist; the full secret is returned exactly once
// at creation and is not recoverable afterwards.
//
// A key transitions from active to revoked exactly once: RevokedAt is set by
// Revoke and never cleared. Prefixes are globally unique and never reused.
type APIKey struct {
	ID        string     `gorm:"primaryKey;size:36" json:"id"`
	OwnerID   string     `gorm:"index;size:36" json:"ownerId"`
	Name      string     `gorm:"size:128" json:"name"`
	KeyPrefix string     `gorm:"uniqueIndex;size:16" json:"keyPrefix"`
	KeyHash   string     `gorm:"size:64" json:"-"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	RevokedAt *time.Time `json:"revokedAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

func (APIKey) TableName() string {
	return "api_keys"
}

// Revoked reports whether the key has been revoked.
func (k *APIKey) Revoked() bool {
	return k.RevokedAt != nil
}

// Expired reports whether the key has an expiry in the past.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && k.ExpiresAt.Before(now)
}

// ModelConfig is an owner's backend selection. At most one row per owner;
// writes go through Upsert (create if absent, else update in place).
// Absence means the gateway-wide defaults apply.
type ModelConfig struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	OwnerID   string    `gorm:"uniqueIndex;size:36" json:"ownerId"`
	Provider  string    `gorm:"size:32" json:"provider"`
	ModelName string    `gorm:"size:255" json:"modelName"`
	BaseURL   string    `gorm:"size:512" json:"baseUrl,omitempty"`
	APIKeyRef string    `gorm:"size:512" json:"apiKeyRef,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (ModelConfig) TableName() string {
	return "model_configs"
}
