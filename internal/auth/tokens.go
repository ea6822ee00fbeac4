package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"paperbase.org/internal/obs"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// Claims are the first-party token claims. Access tokens carry identity
// and role; refresh tokens carry only the subject.
type Claims struct {
	Email     string   `json:"email,omitempty"`
	Roles     []string `json:"roles,omitempty"`
	TokenType string   `json:"token_type"`
	jwt.RegisteredClaims
}

// TokenService issues and verifies first-party access and refresh tokens,
// HMAC-signed with the process-wide secret.
type TokenService struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenService constructs a TokenService. The secret is read-only after
// startup and must never be logged.
func NewTokenService(secret []byte, issuer string, accessTTL, refreshTTL time.Duration) (*TokenService, error) {
	if len(secret) == 0 {
		return nil, errors.New("auth: token secret is required")
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, errors.New("auth: token TTLs must be positive")
	}
	return &TokenService{
		secret:     secret,
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}, nil
}

// WithClock overrides the time source for tests.
func (t *TokenService) WithClock(now func() time.Time) *TokenService {
	if now != nil {
		t.now = now
	}
	return t
}

// IssueAccess signs an access token for the user.
func (t *TokenService) IssueAccess(user *User, roles []string) (string, time.Time, error) {
	now := t.now().UTC()
	exp := now.Add(t.accessTTL)
	claims := Claims{
		Email:     user.Email,
		Roles:     roles,
		TokenType: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// IssueRefresh signs a refresh token with a longer TTL and a narrower
// claim set.
func (t *TokenService) IssueRefresh(user *User) (string, time.Time, error) {
	now := t.now().UTC()
	exp := now.Add(t.refreshTTL)
	claims := Claims{
		TokenType: tokenTypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// VerifyAccess validates an access token. All failures surface as
// ErrInvalidCredentials; expiry is distinguished from signature or claim
// failures only in metrics.
func (t *TokenService) VerifyAccess(token string) (*Claims, error) {
	return t.verify(token, tokenTypeAccess)
}

// VerifyRefresh validates a refresh token.
func (t *TokenService) VerifyRefresh(token string) (*Claims, error) {
	return t.verify(token, tokenTypeRefresh)
}

func (t *TokenService) verify(token, wantType string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		obs.ObserveTokenVerification("invalid")
		return nil, ErrInvalidCredentials
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(tok *jwt.Token) (any, error) {
		if tok.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidCredentials
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(t.now), jwt.WithIssuedAt())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			obs.ObserveTokenVerification("expired")
		} else {
			obs.ObserveTokenVerification("invalid")
		}
		return nil, ErrInvalidCredentials
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		obs.ObserveTokenVerification("invalid")
		return nil, ErrInvalidCredentials
	}
	if err := t.validateClaims(claims, wantType); err != nil {
		obs.ObserveTokenVerification("invalid")
		return nil, ErrInvalidCredentials
	}
	obs.ObserveTokenVerification("success")
	return claims, nil
}

func (t *TokenService) validateClaims(claims *Claims, wantType string) error {
	if claims.TokenType != wantType {
		return errors.New("unexpected token type")
	}
	if t.issuer != "" && claims.Issuer != t.issuer {
		return errors.New("unexpected issuer")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return errors.New("timestamps missing")
	}
	now := t.now().UTC()
	if !claims.ExpiresAt.Time.After(now) {
		return errors.New("token expired")
	}
	// Allow a small clock skew when validating issued-at.
	if claims.IssuedAt.Time.After(now.Add(5 * time.Second)) {
		return errors.New("token issued in the future")
	}
	if claims.ExpiresAt.Time.Before(claims.IssuedAt.Time) {
		return errors.New("token expiry precedes issued-at")
	}
	return nil
}
