package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"paperbase.org/internal/authz"
	"paperbase.org/internal/obs"
)

// LockoutPolicy controls account locking after repeated failed logins.
type LockoutPolicy struct {
	Threshold int
	Window    time.Duration
}

// Service orchestrates credential checks, lockout, session issuance, and
// permission flattening on top of the stores and managers.
type Service struct {
	store    Store
	sessions *SessionManager
	tokens   *TokenService
	apikeys  *APIKeyManager
	lockout  LockoutPolicy
	now      func() time.Time
}

// NewService wires the engine together.
func NewService(store Store, sessions *SessionManager, tokens *TokenService, apikeys *APIKeyManager, lockout LockoutPolicy) (*Service, error) {
	if store == nil || sessions == nil || tokens == nil || apikeys == nil {
		return nil, errors.New("auth: service requires store, sessions, tokens, and apikeys")
	}
	if lockout.Threshold <= 0 {
		lockout.Threshold = 5
	}
	if lockout.Window <= 0 {
		lockout.Window = 15 * time.Minute
	}
	return &Service{
		store:    store,
		sessions: sessions,
		tokens:   tokens,
		apikeys:  apikeys,
		lockout:  lockout,
		now:      time.Now,
	}, nil
}

// WithClock overrides the time source for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// Sessions exposes the session manager for the HTTP layer.
func (s *Service) Sessions() *SessionManager { return s.sessions }

// Tokens exposes the token service for the HTTP layer.
func (s *Service) Tokens() *TokenService { return s.tokens }

// APIKeys exposes the API key manager for the HTTP layer.
func (s *Service) APIKeys() *APIKeyManager { return s.apikeys }

// Users exposes the user store for collaborators such as the SSO verifier.
func (s *Service) Users() UserStore { return s.store.Users() }

// LoginResult is everything a successful password login produces: the
// session cookie value (raw token, returned exactly once), the refresh
// token, and the CSRF token bound to the session.
type LoginResult struct {
	User             *User
	Session          *Session
	RawSessionToken  string
	RefreshToken     string
	RefreshExpiresAt time.Time
	CSRFToken        string
}

// Login authenticates email+password and establishes a session. The error
// for an unknown email is indistinguishable from a wrong password; a dummy
// hash verification runs in the unknown-user path to keep timing flat.
func (s *Service) Login(ctx context.Context, email, password string, meta SeenMeta) (*LoginResult, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		obs.ObserveLogin("invalid")
		return nil, ErrInvalidCredentials
	}

	user, err := s.store.Users().FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			VerifyPassword(dummyHash(), password)
			obs.ObserveLogin("invalid")
			return nil, ErrInvalidCredentials
		}
		obs.ObserveLogin("error")
		return nil, fmt.Errorf("find user: %w", err)
	}

	now := s.now().UTC()
	if user.LockedUntil != nil && user.LockedUntil.After(now) {
		obs.ObserveLogin("locked")
		return nil, &LockedError{RetryAfter: user.LockedUntil.Sub(now)}
	}
	if user.Kind == UserKindService {
		obs.ObserveLogin("invalid")
		return nil, ErrServiceAccountRestricted
	}
	if !user.Active() {
		obs.ObserveLogin("inactive")
		return nil, ErrAccountInactive
	}

	if !VerifyPassword(user.PasswordHash, password) {
		if err := s.recordFailure(ctx, user, now); err != nil {
			obs.ObserveLogin("error")
			return nil, err
		}
		obs.ObserveLogin("invalid")
		return nil, ErrInvalidCredentials
	}

	if err := s.store.Users().RecordLoginSuccess(ctx, user.ID, now); err != nil {
		obs.ObserveLogin("error")
		return nil, fmt.Errorf("record login: %w", err)
	}
	user.FailedLogins = 0
	user.LockedUntil = nil
	user.LastLoginAt = &now

	return s.establish(ctx, user, meta, "success")
}

// EstablishSession creates a session for an externally authenticated user
// (the SSO callback path).
func (s *Service) EstablishSession(ctx context.Context, user *User, meta SeenMeta) (*LoginResult, error) {
	if !user.Active() {
		return nil, ErrAccountInactive
	}
	return s.establish(ctx, user, meta, "sso")
}

func (s *Service) establish(ctx context.Context, user *User, meta SeenMeta, outcome string) (*LoginResult, error) {
	session, raw, err := s.sessions.Issue(ctx, user, meta)
	if err != nil {
		obs.ObserveLogin("error")
		return nil, err
	}
	refresh, refreshExp, err := s.tokens.IssueRefresh(user)
	if err != nil {
		obs.ObserveLogin("error")
		return nil, err
	}
	obs.ObserveLogin(outcome)
	return &LoginResult{
		User:             user,
		Session:          session,
		RawSessionToken:  raw,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
		CSRFToken:        session.CSRFToken,
	}, nil
}

func (s *Service) recordFailure(ctx context.Context, user *User, now time.Time) error {
	failures := user.FailedLogins + 1
	var lockedUntil *time.Time
	if failures >= s.lockout.Threshold {
		until := now.Add(s.lockout.Window)
		lockedUntil = &until
	}
	if err := s.store.Users().RecordLoginFailure(ctx, user.ID, failures, lockedUntil); err != nil {
		return fmt.Errorf("record login failure: %w", err)
	}
	return nil
}

// ChangePassword verifies the current password, stores a hash of the new
// one, and revokes every session belonging to the user. The caller's own
// session dies with the rest; all clients must authenticate again.
func (s *Service) ChangePassword(ctx context.Context, p *Principal, current, next string) error {
	if p == nil || p.User == nil {
		return ErrAuthRequired
	}
	user := p.User
	if user.Kind == UserKindService {
		return ErrServiceAccountRestricted
	}
	if !user.Active() {
		return ErrAccountInactive
	}
	if strings.TrimSpace(next) == "" {
		return fmt.Errorf("%w: new password must not be blank", ErrInvalidInput)
	}
	if !VerifyPassword(user.PasswordHash, current) {
		return ErrInvalidCredentials
	}

	hash, err := HashPassword(next)
	if err != nil {
		return err
	}
	if err := s.store.Users().UpdatePassword(ctx, user.ID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	user.PasswordHash = hash
	if err := s.sessions.RevokeAllForUser(ctx, user.ID); err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}
	return nil
}

// Refresh rotates credentials off a valid refresh token: a new session, a
// new refresh token, a new CSRF token. The old session, when supplied, is
// revoked.
func (s *Service) Refresh(ctx context.Context, refreshToken string, old *Session, meta SeenMeta) (*LoginResult, error) {
	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	user, err := s.store.Users().Find(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	if !user.Active() {
		return nil, ErrAccountInactive
	}
	if old != nil {
		if err := s.sessions.Revoke(ctx, old); err != nil {
			return nil, err
		}
	}
	return s.establish(ctx, user, meta, "refresh")
}

// Logout revokes the principal's session. A principal without a session
// (bearer or API key auth) is a no-op.
func (s *Service) Logout(ctx context.Context, p *Principal) error {
	if p == nil || p.Session == nil {
		return nil
	}
	return s.sessions.Revoke(ctx, p.Session)
}

// IssueTokenPair signs a first-party access/refresh pair for API clients.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// IssueTokens mints a token pair for the user, embedding their global role
// names as claims.
func (s *Service) IssueTokens(ctx context.Context, user *User) (*TokenPair, error) {
	roles, err := s.globalRoleNames(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	access, accessExp, err := s.tokens.IssueAccess(user, roles)
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := s.tokens.IssueRefresh(user)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (s *Service) globalRoleNames(ctx context.Context, userID string) ([]string, error) {
	assignments, err := s.store.Roles().Assignments(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load assignments: %w", err)
	}
	var names []string
	for _, a := range assignments {
		if a.WorkspaceID != nil {
			continue
		}
		role, err := s.store.Roles().Find(ctx, a.RoleID)
		if err != nil {
			return nil, fmt.Errorf("load role: %w", err)
		}
		if role.Scope == string(authz.ScopeGlobal) {
			names = append(names, role.Name)
		}
	}
	return names, nil
}

// GrantedPermissions flattens the user's role assignments into the
// permission-key set for one scope. This is the only place role tables are
// consulted; the authorization engine consumes flattened sets exclusively.
// For ScopeWorkspace, workspaceID selects the assignments that count.
func (s *Service) GrantedPermissions(ctx context.Context, userID string, scope authz.Scope, workspaceID string) ([]string, error) {
	if scope == authz.ScopeWorkspace && workspaceID == "" {
		return nil, fmt.Errorf("%w: workspace id is required for workspace scope", ErrInvalidInput)
	}

	assignments, err := s.store.Roles().Assignments(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load assignments: %w", err)
	}

	var keys []string
	for _, a := range assignments {
		switch scope {
		case authz.ScopeGlobal:
			if a.WorkspaceID != nil {
				continue
			}
		case authz.ScopeWorkspace:
			if a.WorkspaceID == nil || *a.WorkspaceID != workspaceID {
				continue
			}
		}
		role, err := s.store.Roles().Find(ctx, a.RoleID)
		if err != nil {
			return nil, fmt.Errorf("load role: %w", err)
		}
		if role.Scope != string(scope) {
			continue
		}
		perms, err := s.store.Roles().PermissionKeys(ctx, a.RoleID)
		if err != nil {
			return nil, fmt.Errorf("load role permissions: %w", err)
		}
		keys = append(keys, perms...)
	}

	return authz.CollectKeys(keys)
}

// Authorize decides whether the principal may perform an action requiring
// the given permission keys in the given scope.
func (s *Service) Authorize(ctx context.Context, p *Principal, required []string, scope authz.Scope, workspaceID string) (authz.Decision, error) {
	granted, err := s.GrantedPermissions(ctx, p.User.ID, scope, workspaceID)
	if err != nil {
		return authz.Decision{}, err
	}
	decision, err := authz.Authorize(granted, required, scope)
	if err != nil {
		return authz.Decision{}, err
	}
	obs.ObserveDecision(string(scope), decision.IsAuthorized())
	return decision, nil
}

// NormalizeEmail lowercases and trims an email for canonical lookup.
func NormalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

var (
	dummyOnce sync.Once
	dummy     string
)

// dummyHash is verified against in the unknown-user login path so that
// "no such user" and "wrong password" take comparable time.
func dummyHash() string {
	dummyOnce.Do(func() {
		dummy, _ = HashPassword("paperbase-timing-equalizer")
	})
	return dummy
}
