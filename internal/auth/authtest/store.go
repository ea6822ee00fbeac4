// Package authtest provides an in-memory Store implementation for tests.
// It honors the same contracts as the Postgres store, including monotonic
// session touches and idempotent revocation, so engine and handler tests
// exercise real semantics without a database.
package authtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"paperbase.org/internal/auth"
)

// Store is an in-memory auth.Store. Safe for concurrent use.
type Store struct {
	mu sync.Mutex

	users    map[string]*auth.User
	sessions map[string]*auth.Session
	apikeys  map[string]*auth.APIKey
	roles    map[string]*auth.Role
	assigns  map[string][]auth.Assignment
	perms    map[string][]string
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		users:    make(map[string]*auth.User),
		sessions: make(map[string]*auth.Session),
		apikeys:  make(map[string]*auth.APIKey),
		roles:    make(map[string]*auth.Role),
		assigns:  make(map[string][]auth.Assignment),
		perms:    make(map[string][]string),
	}
}

func (s *Store) Users() auth.UserStore       { return (*userStore)(s) }
func (s *Store) Sessions() auth.SessionStore { return (*sessionStore)(s) }
func (s *Store) APIKeys() auth.APIKeyStore   { return (*apiKeyStore)(s) }
func (s *Store) Roles() auth.RoleStore       { return (*roleStore)(s) }

// AddRole registers a role with its permission keys.
func (s *Store) AddRole(r *auth.Role, permissionKeys ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.roles[r.ID] = &cp
	s.perms[r.ID] = append([]string(nil), permissionKeys...)
}

// SessionByID returns a copy of a stored session, for assertions.
func (s *Store) SessionByID(id string) (*auth.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	cp := *sess
	return &cp, true
}

type userStore Store

func (s *userStore) Create(_ context.Context, u *auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return auth.ErrAlreadyExists
		}
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *userStore) Find(_ context.Context, id string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *userStore) FindByEmail(_ context.Context, email string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (s *userStore) FindBySSOSubject(_ context.Context, provider, subject string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.SSOProvider == provider && u.SSOSubject == subject {
			cp := *u
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (s *userStore) RecordLoginFailure(_ context.Context, id string, failures int, lockedUntil *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return auth.ErrNotFound
	}
	u.FailedLogins = failures
	u.LockedUntil = lockedUntil
	return nil
}

func (s *userStore) RecordLoginSuccess(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return auth.ErrNotFound
	}
	u.FailedLogins = 0
	u.LockedUntil = nil
	u.LastLoginAt = &at
	return nil
}

func (s *userStore) UpdatePassword(_ context.Context, id, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return auth.ErrNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

func (s *userStore) LinkSSOIdentity(_ context.Context, id, provider, subject string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return auth.ErrNotFound
	}
	u.SSOProvider = provider
	u.SSOSubject = subject
	return nil
}

type sessionStore Store

func (s *sessionStore) Create(_ context.Context, sess *auth.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; ok {
		return auth.ErrAlreadyExists
	}
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *sessionStore) FindByTokenHash(_ context.Context, tokenHash string) (*auth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.TokenHash == tokenHash {
			cp := *sess
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (s *sessionStore) Touch(_ context.Context, id string, expiresAt, seenAt time.Time, meta auth.SeenMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess.RevokedAt != nil || !sess.ExpiresAt.After(seenAt) {
		return auth.ErrNotFound
	}
	if expiresAt.After(sess.ExpiresAt) {
		sess.ExpiresAt = expiresAt
	}
	sess.LastSeenAt = seenAt
	sess.LastSeenIP = meta.IP
	sess.LastSeenAgent = meta.UserAgent
	return nil
}

func (s *sessionStore) Revoke(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return auth.ErrNotFound
	}
	if sess.RevokedAt == nil {
		now := time.Now().UTC()
		sess.RevokedAt = &now
	}
	return nil
}

func (s *sessionStore) RevokeByUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, sess := range s.sessions {
		if sess.UserID == userID && sess.RevokedAt == nil {
			at := now
			sess.RevokedAt = &at
		}
	}
	return nil
}

type apiKeyStore Store

func (s *apiKeyStore) Create(_ context.Context, k *auth.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.apikeys {
		if existing.Prefix == k.Prefix {
			return auth.ErrAlreadyExists
		}
	}
	cp := *k
	s.apikeys[k.ID] = &cp
	return nil
}

func (s *apiKeyStore) Find(_ context.Context, id string) (*auth.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.apikeys[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *k
	return &cp, nil
}

func (s *apiKeyStore) FindByPrefix(_ context.Context, prefix string) (*auth.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.apikeys {
		if k.Prefix == prefix {
			cp := *k
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (s *apiKeyStore) ListByOwner(_ context.Context, ownerID string) ([]*auth.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*auth.APIKey
	for _, k := range s.apikeys {
		if k.OwnerID == ownerID {
			cp := *k
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *apiKeyStore) TouchUsage(_ context.Context, id string, seenAt time.Time, meta auth.SeenMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.apikeys[id]
	if !ok || k.RevokedAt != nil {
		return auth.ErrNotFound
	}
	k.LastSeenAt = &seenAt
	k.LastSeenIP = meta.IP
	k.LastSeenAgent = meta.UserAgent
	return nil
}

func (s *apiKeyStore) Revoke(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.apikeys[id]
	if !ok {
		return auth.ErrNotFound
	}
	if k.RevokedAt == nil {
		now := time.Now().UTC()
		k.RevokedAt = &now
	}
	return nil
}

type roleStore Store

func (s *roleStore) Find(_ context.Context, id string) (*auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *roleStore) Assignments(_ context.Context, userID string) ([]auth.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]auth.Assignment(nil), s.assigns[userID]...), nil
}

func (s *roleStore) PermissionKeys(_ context.Context, roleID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys, ok := s.perms[roleID]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return append([]string(nil), keys...), nil
}

func (s *roleStore) Assign(_ context.Context, a auth.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assigns[a.UserID] = append(s.assigns[a.UserID], a)
	return nil
}
