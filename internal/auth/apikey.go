package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"paperbase.org/internal/ids"
)

// Raw API keys look like "pb_ab12cd34.<secret>". The prefix before the dot
// is a non-secret lookup index; only the SHA-256 of the secret is stored.
const apiKeyLead = "pb_"

// APIKeyManager issues, resolves, and revokes API keys.
type APIKeyManager struct {
	store         APIKeyStore
	touchInterval time.Duration
	now           func() time.Time
}

// NewAPIKeyManager constructs an APIKeyManager. touchInterval coalesces
// last-seen writes under high-frequency key traffic.
func NewAPIKeyManager(store APIKeyStore, touchInterval time.Duration) (*APIKeyManager, error) {
	if store == nil {
		return nil, errors.New("auth: api key store is required")
	}
	return &APIKeyManager{
		store:         store,
		touchInterval: touchInterval,
		now:           time.Now,
	}, nil
}

// WithClock overrides the time source for tests.
func (m *APIKeyManager) WithClock(now func() time.Time) *APIKeyManager {
	if now != nil {
		m.now = now
	}
	return m
}

// Issue creates an API key for the owner and returns the raw key exactly
// once. expiresAt is optional.
func (m *APIKeyManager) Issue(ctx context.Context, owner *User, name string, expiresAt *time.Time) (*APIKey, string, error) {
	if owner == nil || owner.ID == "" {
		return nil, "", fmt.Errorf("%w: owner is required", ErrInvalidInput)
	}

	prefixBytes := make([]byte, 4)
	if _, err := rand.Read(prefixBytes); err != nil {
		return nil, "", fmt.Errorf("generate key prefix: %w", err)
	}
	prefix := hex.EncodeToString(prefixBytes)

	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return nil, "", fmt.Errorf("generate key secret: %w", err)
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)

	k := &APIKey{
		ID:         ids.New(),
		OwnerID:    owner.ID,
		Name:       strings.TrimSpace(name),
		Prefix:     prefix,
		SecretHash: HashToken(secret),
		ExpiresAt:  expiresAt,
		CreatedAt:  m.now().UTC(),
	}
	if err := m.store.Create(ctx, k); err != nil {
		return nil, "", fmt.Errorf("persist api key: %w", err)
	}
	return k, apiKeyLead + prefix + "." + secret, nil
}

// Resolve turns a raw key into its record. Revoked and expired keys are
// treated as absent. The prefix only narrows the lookup; the secret hash
// comparison decides, in constant time.
func (m *APIKeyManager) Resolve(ctx context.Context, rawKey string) (*APIKey, error) {
	prefix, secret, err := splitRawKey(rawKey)
	if err != nil {
		return nil, ErrNotFound
	}

	k, err := m.store.FindByPrefix(ctx, prefix)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(k.SecretHash), []byte(HashToken(secret))) != 1 {
		return nil, ErrNotFound
	}
	if !m.usable(k) {
		return nil, ErrNotFound
	}
	return k, nil
}

// Find loads a key by id.
func (m *APIKeyManager) Find(ctx context.Context, id string) (*APIKey, error) {
	return m.store.Find(ctx, id)
}

// ListByOwner lists the owner's keys, including revoked and expired ones.
func (m *APIKeyManager) ListByOwner(ctx context.Context, ownerID string) ([]*APIKey, error) {
	return m.store.ListByOwner(ctx, ownerID)
}

// TouchUsage records last-seen metadata. Repeated touches inside the
// throttle interval coalesce into a single write; this is a write-amplification
// guard, not a security control.
func (m *APIKeyManager) TouchUsage(ctx context.Context, k *APIKey, meta SeenMeta) error {
	now := m.now().UTC()
	if m.touchInterval > 0 && k.LastSeenAt != nil && now.Sub(*k.LastSeenAt) < m.touchInterval {
		return nil
	}
	if err := m.store.TouchUsage(ctx, k.ID, now, meta); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("touch api key: %w", err)
	}
	k.LastSeenAt = &now
	k.LastSeenIP = meta.IP
	k.LastSeenAgent = meta.UserAgent
	return nil
}

// Revoke disables the key. Idempotent.
func (m *APIKeyManager) Revoke(ctx context.Context, k *APIKey) error {
	if k == nil || k.RevokedAt != nil {
		return nil
	}
	if err := m.store.Revoke(ctx, k.ID); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("revoke api key: %w", err)
	}
	now := m.now().UTC()
	k.RevokedAt = &now
	return nil
}

func (m *APIKeyManager) usable(k *APIKey) bool {
	if k == nil || k.RevokedAt != nil {
		return false
	}
	if k.ExpiresAt != nil && !k.ExpiresAt.After(m.now().UTC()) {
		return false
	}
	return true
}

func splitRawKey(raw string) (prefix, secret string, err error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, apiKeyLead) {
		return "", "", errors.New("invalid api key format")
	}
	rest := raw[len(apiKeyLead):]
	idx := strings.IndexByte(rest, '.')
	if idx <= 0 || idx == len(rest)-1 {
		return "", "", errors.New("invalid api key format")
	}
	return rest[:idx], rest[idx+1:], nil
}
