package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/teloslabs/telos-gateway/internal/store"
)

func newTestValidator(t *testing.T) (*Validator, *store.Store) {
	t.Helper()
	st, err := store.Open("", ":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewValidator(st.APIKeys, st.Users), st
}

// seedKey creates a user and an API key for it, returning the raw key and
// the stored credential.
func seedKey(t *testing.T, st *store.Store) (string, *store.APIKey, *store.User) {
	t.Helper()
	ctx := context.Background()

	user := &store.User{Email: "owner@example.com", PasswordHash: "x"}
	if err := st.Users.Create(ctx, user); err != nil {
		t.Fatalf("create user: %v", err)
	}

	generated, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	key := &store.APIKey{
		OwnerID:   user.ID,
		Name:      "test",
		KeyPrefix: generated.Prefix,
		KeyHash:   generated.Hash,
	}
	if err := st.APIKeys.Create(ctx, key); err != nil {
		t.Fatalf("create key: %v", err)
	}
	return generated.Raw, key, user
}

func TestGenerateKeyShape(t *testing.T) {
	g, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	if !keyPattern.MatchString(g.Raw) {
		t.Errorf("generated key %q does not match the credential shape", g.Raw)
	}
	if !strings.HasPrefix(g.Raw, "tel_"+g.Prefix+"_") {
		t.Errorf("prefix %q not embedded in raw key %q", g.Prefix, g.Raw)
	}
	if len(g.Hash) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(g.Hash))
	}
	if strings.Contains(g.Hash, g.Raw) {
		t.Error("hash contains the raw key")
	}

	// Two generations never collide.
	g2, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if g.Raw == g2.Raw || g.Prefix == g2.Prefix {
		t.Error("consecutive keys collide")
	}
}

func TestAuthenticateRoundtrip(t *testing.T) {
	v, st := newTestValidator(t)
	raw, key, owner := seedKey(t, st)

	user, cred, err := v.Authenticate(context.Background(), raw)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if user.ID != owner.ID {
		t.Errorf("resolved owner %q, want %q", user.ID, owner.ID)
	}
	if cred.ID != key.ID {
		t.Errorf("resolved credential %q, want %q", cred.ID, key.ID)
	}
}

func TestAuthenticateRejectsMalformed(t *testing.T) {
	v, st := newTestValidator(t)
	raw, _, _ := seedKey(t, st)

	malformed := []string{
		"",
		"garbage",
		"tel_short_key",
		strings.ToUpper(raw),                    // hex must be lower case
		raw + "x",                               // trailing junk
		"sk_" + strings.TrimPrefix(raw, "tel_"), // wrong scheme prefix
	}
	for _, k := range malformed {
		if _, _, err := v.Authenticate(context.Background(), k); !errors.Is(err, ErrUnauthenticated) {
			t.Errorf("key %q: err = %v, want ErrUnauthenticated", k, err)
		}
	}
}

func TestAuthenticateRejectsWrongSecret(t *testing.T) {
	v, st := newTestValidator(t)
	raw, _, _ := seedKey(t, st)

	// Same public prefix, different secret body.
	forged := raw[:len(raw)-48] + strings.Repeat("0", 48)
	if forged == raw {
		forged = raw[:len(raw)-48] + strings.Repeat("1", 48)
	}

	if _, _, err := v.Authenticate(context.Background(), forged); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("forged key accepted: %v", err)
	}
}

func TestAuthenticateRejectsRevoked(t *testing.T) {
	v, st := newTestValidator(t)
	raw, key, owner := seedKey(t, st)
	ctx := context.Background()

	if err := st.APIKeys.Revoke(ctx, key.ID, owner.ID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	if _, _, err := v.Authenticate(ctx, raw); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("revoked key accepted: %v", err)
	}

	// Revocation is permanent: a second revoke is not found.
	if err := st.APIKeys.Revoke(ctx, key.ID, owner.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("second revoke: err = %v, want ErrNotFound", err)
	}
}

func TestAuthenticateRejectsExpired(t *testing.T) {
	v, st := newTestValidator(t)
	ctx := context.Background()

	user := &store.User{Email: "expired@example.com", PasswordHash: "x"}
	if err := st.Users.Create(ctx, user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	generated, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	past := time.Now().Add(-time.Hour)
	if err := st.APIKeys.Create(ctx, &store.APIKey{
		OwnerID:   user.ID,
		KeyPrefix: generated.Prefix,
		KeyHash:   generated.Hash,
		ExpiresAt: &past,
	}); err != nil {
		t.Fatalf("create key: %v", err)
	}

	if _, _, err := v.Authenticate(ctx, generated.Raw); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expired key accepted: %v", err)
	}
}

func TestAuthenticateRejectsDisabledOwner(t *testing.T) {
	v, st := newTestValidator(t)
	raw, _, owner := seedKey(t, st)
	ctx := context.Background()

	owner.Status = store.UserStatusDisabled
	if err := st.DB().Save(owner).Error; err != nil {
		t.Fatalf("disable owner: %v", err)
	}

	if _, _, err := v.Authenticate(ctx, raw); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("key for disabled owner accepted: %v", err)
	}
}

func TestDigestKeyDeterministic(t *testing.T) {
	if DigestKey("a") != DigestKey("a") {
		t.Error("digest is not deterministic")
	}
	if DigestKey("a") == DigestKey("b") {
		t.Error("distinct inputs share a digest")
	}
}
