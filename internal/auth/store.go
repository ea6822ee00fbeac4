package auth

import (
	"context"
	"time"
)

// Store bundles the persistence collaborators the engine depends on. The
// engine never talks to storage technology directly; cmd/api wires the
// Postgres implementation from internal/store/pg.
type Store interface {
	Users() UserStore
	Sessions() SessionStore
	APIKeys() APIKeyStore
	Roles() RoleStore
}

// UserStore manages identity records. Users are never hard-deleted by the
// engine; deactivation flips Status.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindBySSOSubject(ctx context.Context, provider, subject string) (*User, error)
	// RecordLoginFailure persists the failure counter and optional lock in
	// one write.
	RecordLoginFailure(ctx context.Context, id string, failures int, lockedUntil *time.Time) error
	// RecordLoginSuccess resets the failure counter and stamps last login.
	RecordLoginSuccess(ctx context.Context, id string, at time.Time) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	// LinkSSOIdentity binds an upstream (issuer, subject) pair to an
	// existing user so later logins resolve without an email lookup.
	LinkSSOIdentity(ctx context.Context, id, provider, subject string) error
}

// SessionStore manages server-side session records keyed by token hash.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	FindByTokenHash(ctx context.Context, tokenHash string) (*Session, error)
	// Touch extends expiry and updates last-seen fields. The write must be
	// monotonic: expiry never moves backward, and revoked or expired rows
	// are not touched. Returns ErrNotFound when no row qualified.
	Touch(ctx context.Context, id string, expiresAt, seenAt time.Time, meta SeenMeta) error
	// Revoke is idempotent; revoked-at is set only when currently unset.
	Revoke(ctx context.Context, id string) error
	RevokeByUser(ctx context.Context, userID string) error
}

// APIKeyStore manages API key records keyed by prefix.
type APIKeyStore interface {
	Create(ctx context.Context, k *APIKey) error
	Find(ctx context.Context, id string) (*APIKey, error)
	FindByPrefix(ctx context.Context, prefix string) (*APIKey, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*APIKey, error)
	TouchUsage(ctx context.Context, id string, seenAt time.Time, meta SeenMeta) error
	Revoke(ctx context.Context, id string) error
}

// RoleStore exposes the role/assignment rows the permission flattener
// consumes. The authorization engine itself never reads these.
type RoleStore interface {
	Find(ctx context.Context, id string) (*Role, error)
	Assignments(ctx context.Context, userID string) ([]Assignment, error)
	PermissionKeys(ctx context.Context, roleID string) ([]string, error)
	Assign(ctx context.Context, a Assignment) error
}
