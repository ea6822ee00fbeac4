package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Cookie names attached to responses by the HTTP layer and read back here.
const (
	SessionCookie = "pb_session"
	RefreshCookie = "pb_refresh"
	CSRFCookie    = "pb_csrf"
	StateCookie   = "pb_sso_state"
)

// APIKeyHeader carries raw API keys.
const APIKeyHeader = "X-API-Key"

// Resolver turns an inbound request's credentials into an authenticated
// principal. Credential sources are tried in a fixed order (session
// cookie, then bearer token, then API key) and the first source that is
// present decides the outcome: a present-but-invalid bearer token fails
// immediately rather than falling through to the next source. Only the
// winning branch performs persistence side effects (throttled touches).
type Resolver struct {
	users    UserStore
	sessions *SessionManager
	tokens   *TokenService
	apikeys  *APIKeyManager
}

// NewResolver constructs a Resolver over the three credential backends.
func NewResolver(users UserStore, sessions *SessionManager, tokens *TokenService, apikeys *APIKeyManager) (*Resolver, error) {
	if users == nil || sessions == nil || tokens == nil || apikeys == nil {
		return nil, errors.New("auth: resolver requires users, sessions, tokens, and apikeys")
	}
	return &Resolver{users: users, sessions: sessions, tokens: tokens, apikeys: apikeys}, nil
}

type strategy func(ctx context.Context, r *http.Request) (present bool, p *Principal, err error)

// Resolve authenticates the request. It returns ErrAuthRequired when no
// credential is present at all.
func (rs *Resolver) Resolve(ctx context.Context, r *http.Request) (*Principal, error) {
	strategies := []strategy{rs.fromSessionCookie, rs.fromBearer, rs.fromAPIKey}
	for _, try := range strategies {
		present, p, err := try(ctx, r)
		if !present {
			continue
		}
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, ErrAuthRequired
}

// fromSessionCookie resolves the opaque session cookie. An invalid or
// expired session is treated as an absent credential so bearer tokens or
// API keys on the same request still get a chance.
func (rs *Resolver) fromSessionCookie(ctx context.Context, r *http.Request) (bool, *Principal, error) {
	c, err := r.Cookie(SessionCookie)
	if err != nil || c.Value == "" {
		return false, nil, nil
	}

	s, err := rs.sessions.Get(ctx, c.Value)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil, nil
		}
		return true, nil, fmt.Errorf("resolve session: %w", err)
	}

	user, err := rs.users.Find(ctx, s.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil, nil
		}
		return true, nil, fmt.Errorf("resolve session user: %w", err)
	}
	if !user.Active() {
		return true, nil, ErrAccountInactive
	}

	refreshed, err := rs.sessions.Touch(ctx, s, seenMeta(r))
	if err != nil {
		return true, nil, err
	}
	if !refreshed {
		return false, nil, nil
	}

	return true, &Principal{User: user, Session: s, Method: MethodSession}, nil
}

// fromBearer resolves a first-party access token. A supplied invalid token
// fails fast; it never falls through.
func (rs *Resolver) fromBearer(ctx context.Context, r *http.Request) (bool, *Principal, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return false, nil, nil
	}
	const scheme = "bearer "
	if len(header) < len(scheme) || !strings.EqualFold(header[:len(scheme)], scheme) {
		return true, nil, ErrInvalidCredentials
	}
	token := strings.TrimSpace(header[len(scheme):])
	if token == "" {
		return true, nil, ErrInvalidCredentials
	}

	claims, err := rs.tokens.VerifyAccess(token)
	if err != nil {
		return true, nil, ErrInvalidCredentials
	}

	user, err := rs.users.Find(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return true, nil, ErrInvalidCredentials
		}
		return true, nil, fmt.Errorf("resolve bearer user: %w", err)
	}
	if !user.Active() {
		return true, nil, ErrAccountInactive
	}

	return true, &Principal{User: user, Method: MethodBearer}, nil
}

// fromAPIKey resolves the X-API-Key header.
func (rs *Resolver) fromAPIKey(ctx context.Context, r *http.Request) (bool, *Principal, error) {
	raw := strings.TrimSpace(r.Header.Get(APIKeyHeader))
	if raw == "" {
		return false, nil, nil
	}

	k, err := rs.apikeys.Resolve(ctx, raw)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return true, nil, ErrInvalidCredentials
		}
		return true, nil, fmt.Errorf("resolve api key: %w", err)
	}

	owner, err := rs.users.Find(ctx, k.OwnerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return true, nil, ErrInvalidCredentials
		}
		return true, nil, fmt.Errorf("resolve api key owner: %w", err)
	}
	if !owner.Active() {
		return true, nil, ErrAccountInactive
	}

	if err := rs.apikeys.TouchUsage(ctx, k, seenMeta(r)); err != nil {
		return true, nil, err
	}

	return true, &Principal{User: owner, Method: MethodAPIKey}, nil
}

func seenMeta(r *http.Request) SeenMeta {
	return SeenMeta{IP: clientIP(r), UserAgent: r.UserAgent()}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
