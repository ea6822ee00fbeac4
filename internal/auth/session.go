package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"paperbase.org/internal/ids"
)

// SessionManager issues, resolves, refreshes, and revokes server-side
// sessions. Only the SHA-256 of the opaque token is stored, so a database
// compromise does not leak usable session credentials.
type SessionManager struct {
	store         SessionStore
	ttl           time.Duration
	touchInterval time.Duration
	now           func() time.Time
}

// NewSessionManager constructs a SessionManager. touchInterval throttles
// last-seen writes; touches inside the interval are coalesced.
func NewSessionManager(store SessionStore, ttl, touchInterval time.Duration) (*SessionManager, error) {
	if store == nil {
		return nil, errors.New("auth: session store is required")
	}
	if ttl <= 0 {
		return nil, errors.New("auth: session TTL must be positive")
	}
	return &SessionManager{
		store:         store,
		ttl:           ttl,
		touchInterval: touchInterval,
		now:           time.Now,
	}, nil
}

// WithClock overrides the time source for tests.
func (m *SessionManager) WithClock(now func() time.Time) *SessionManager {
	if now != nil {
		m.now = now
	}
	return m
}

// Issue creates a session for the user and returns the raw token exactly
// once, for cookie delivery. A fresh CSRF token is bound to the session.
func (m *SessionManager) Issue(ctx context.Context, user *User, meta SeenMeta) (*Session, string, error) {
	raw, err := randomToken()
	if err != nil {
		return nil, "", fmt.Errorf("generate session token: %w", err)
	}
	csrf, err := randomToken()
	if err != nil {
		return nil, "", fmt.Errorf("generate csrf token: %w", err)
	}

	now := m.now().UTC()
	s := &Session{
		ID:            ids.New(),
		UserID:        user.ID,
		TokenHash:     HashToken(raw),
		CSRFToken:     csrf,
		IssuedAt:      now,
		ExpiresAt:     now.Add(m.ttl),
		LastSeenAt:    now,
		LastSeenIP:    meta.IP,
		LastSeenAgent: meta.UserAgent,
	}
	if err := m.store.Create(ctx, s); err != nil {
		return nil, "", fmt.Errorf("persist session: %w", err)
	}
	return s, raw, nil
}

// Get resolves a raw token to its session. Revoked and expired sessions
// are treated as absent.
func (m *SessionManager) Get(ctx context.Context, rawToken string) (*Session, error) {
	if rawToken == "" {
		return nil, ErrNotFound
	}
	s, err := m.store.FindByTokenHash(ctx, HashToken(rawToken))
	if err != nil {
		return nil, err
	}
	if !m.valid(s) {
		return nil, ErrNotFound
	}
	return s, nil
}

// Touch extends the session's expiry by the configured TTL and records
// last-seen metadata. Touching an expired or revoked session is a no-op
// reporting false, which callers must treat as "credential invalid".
// Touches inside the throttle interval are coalesced into no write at all.
func (m *SessionManager) Touch(ctx context.Context, s *Session, meta SeenMeta) (bool, error) {
	if !m.valid(s) {
		return false, nil
	}
	now := m.now().UTC()
	if m.touchInterval > 0 && now.Sub(s.LastSeenAt) < m.touchInterval {
		return true, nil
	}

	expiresAt := now.Add(m.ttl)
	if err := m.store.Touch(ctx, s.ID, expiresAt, now, meta); err != nil {
		if errors.Is(err, ErrNotFound) {
			// Lost a race with revocation or expiry.
			return false, nil
		}
		return false, fmt.Errorf("touch session: %w", err)
	}
	if expiresAt.After(s.ExpiresAt) {
		s.ExpiresAt = expiresAt
	}
	s.LastSeenAt = now
	s.LastSeenIP = meta.IP
	s.LastSeenAgent = meta.UserAgent
	return true, nil
}

// Revoke terminates the session. Idempotent: a second call changes nothing.
func (m *SessionManager) Revoke(ctx context.Context, s *Session) error {
	if s == nil || s.RevokedAt != nil {
		return nil
	}
	if err := m.store.Revoke(ctx, s.ID); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("revoke session: %w", err)
	}
	now := m.now().UTC()
	s.RevokedAt = &now
	return nil
}

// RevokeAllForUser terminates every session belonging to the user, for
// credential invalidation on password change or deactivation.
func (m *SessionManager) RevokeAllForUser(ctx context.Context, userID string) error {
	return m.store.RevokeByUser(ctx, userID)
}

func (m *SessionManager) valid(s *Session) bool {
	if s == nil || s.RevokedAt != nil {
		return false
	}
	return s.ExpiresAt.After(m.now().UTC())
}

// HashToken returns the hex SHA-256 of a raw opaque token, the only form
// in which session and API key secrets touch storage.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
