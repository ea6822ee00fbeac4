package auth

import "time"

const (
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"
)

const (
	// UserKindHuman is a person logging in with a password or SSO.
	UserKindHuman = "user"
	// UserKindService is a machine principal; it authenticates with API
	// keys only and cannot hold a browser session.
	UserKindService = "service"
)

// User is the identity record. Service accounts share the table; a
// credential always resolves to exactly one kind of principal.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Status       string
	Kind         string
	SSOProvider  string
	SSOSubject   string
	FailedLogins int
	LockedUntil  *time.Time
	LastLoginAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Active reports whether the user may authenticate at all.
func (u *User) Active() bool {
	return u != nil && u.Status == UserStatusActive
}

// Session is a server-side session record. TokenHash is the SHA-256 of the
// opaque raw token; the raw token itself is never stored.
type Session struct {
	ID            string
	UserID        string
	TokenHash     string
	CSRFToken     string
	IssuedAt      time.Time
	ExpiresAt     time.Time
	RevokedAt     *time.Time
	LastSeenAt    time.Time
	LastSeenIP    string
	LastSeenAgent string
}

// APIKey is a persisted API key. Prefix is a non-secret lookup index;
// SecretHash is the SHA-256 of the secret part of the raw key.
type APIKey struct {
	ID            string
	OwnerID       string
	Name          string
	Prefix        string
	SecretHash    string
	ExpiresAt     *time.Time
	RevokedAt     *time.Time
	LastSeenAt    *time.Time
	LastSeenIP    string
	LastSeenAgent string
	CreatedAt     time.Time
}

// Role groups permission keys within one scope.
type Role struct {
	ID          string
	Name        string
	Scope       string
	Description string
	CreatedAt   time.Time
}

// Assignment binds a role to a user, optionally scoped to a workspace.
// WorkspaceID is nil for global-scope roles.
type Assignment struct {
	UserID      string
	RoleID      string
	WorkspaceID *string
	CreatedAt   time.Time
}

// RolePermission links a role to a permission key.
type RolePermission struct {
	RoleID        string
	PermissionKey string
}

// SeenMeta carries request metadata recorded on session and API key use.
type SeenMeta struct {
	IP        string
	UserAgent string
}

// Principal is the result of credential resolution: the authenticated user,
// the session when the credential was a cookie, and the method used.
type Principal struct {
	User    *User
	Session *Session
	Method  string
}

const (
	MethodSession = "session"
	MethodBearer  = "bearer"
	MethodAPIKey  = "api_key"
)
