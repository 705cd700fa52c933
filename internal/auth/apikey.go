// Package auth covers both ways a caller proves an identity: opaque API keys
// (programmatic access) and signed session tokens (browser access).
//
// API keys have the shape
//
//	tel_<12 hex prefix>_<48 hex secret>
//
// The prefix is public and indexable; only the SHA-256 digest of the full
// key is stored. Validation is fail-closed: malformed, unknown, revoked,
// expired, and wrong-secret keys are all rejected identically.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/teloslabs/telos-gateway/internal/store"
)

// ErrUnauthenticated is returned for every credential failure. Callers must
// not learn whether a key was unknown, revoked, expired, or simply wrong.
var ErrUnauthenticated = errors.New("auth: unauthenticated")

// keyPattern matches the full structural shape of an API key. Checked before
// any storage lookup so malformed input is rejected without I/O.
var keyPattern = regexp.MustCompile(`^tel_([0-9a-f]{12})_[0-9a-f]{48}$`)

// GeneratedKey is the result of issuing a new credential. Raw is returned to
// the caller exactly once and never stored.
type GeneratedKey struct {
	Raw    string
	Prefix string
	Hash   string
}

// GenerateKey creates a fresh API key: 6 random bytes for the public prefix,
// 24 for the secret body, both hex encoded.
func GenerateKey() (GeneratedKey, error) {
	buf := make([]byte, 30)
	if _, err := rand.Read(buf); err != nil {
		return GeneratedKey{}, fmt.Errorf("auth: generate key: %w", err)
	}

	prefix := hex.EncodeToString(buf[:6])
	secret := hex.EncodeToString(buf[6:])
	raw := fmt.Sprintf("tel_%s_%s", prefix, secret)

	return GeneratedKey{
		Raw:    raw,
		Prefix: prefix,
		Hash:   DigestKey(raw),
	}, nil
}

// DigestKey returns the hex SHA-256 digest of the full raw key.
func DigestKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// parsePrefix extracts the public prefix from a structurally valid raw key.
// Returns "" when the key does not match the expected shape.
func parsePrefix(raw string) string {
	m := keyPattern.FindStringSubmatch(raw)
	if m == nil {
		return ""
	}
	return m[1]
}

// Validator authenticates raw API keys against the credential store.
// It is read-only: no last-used tracking, no mutation on the hot path.
type Validator struct {
	keys  *store.APIKeyRepo
	users *store.UserRepo
}

// NewValidator creates a Validator over the given repositories.
func NewValidator(keys *store.APIKeyRepo, users *store.UserRepo) *Validator {
	return &Validator{keys: keys, users: users}
}

// Authenticate resolves a raw API key to its owning user and credential.
// Every failure path returns ErrUnauthenticated.
func (v *Validator) Authenticate(ctx context.Context, rawKey string) (*store.User, *store.APIKey, error) {
	prefix := parsePrefix(rawKey)
	if prefix == "" {
		return nil, nil, ErrUnauthenticated
	}

	key, err := v.keys.FindActiveByPrefix(ctx, prefix)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, ErrUnauthenticated
		}
		return nil, nil, fmt.Errorf("auth: lookup credential: %w", err)
	}

	if key.Expired(time.Now()) {
		return nil, nil, ErrUnauthenticated
	}

	digest := DigestKey(rawKey)
	if subtle.ConstantTimeCompare([]byte(digest), []byte(key.KeyHash)) != 1 {
		return nil, nil, ErrUnauthenticated
	}

	user, err := v.users.FindByID(ctx, key.OwnerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, ErrUnauthenticated
		}
		return nil, nil, fmt.Errorf("auth: lookup owner: %w", err)
	}
	if user.Status != store.UserStatusActive {
		return nil, nil, ErrUnauthenticated
	}

	return user, key, nil
}
