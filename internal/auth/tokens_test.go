package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestTokenService(t *testing.T) *TokenService {
	t.Helper()
	ts, err := NewTokenService([]byte("test-secret-0123456789"), "paperbase-test", 15*time.Minute, 24*time.Hour)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return ts
}

func TestAccessTokenRoundTrip(t *testing.T) {
	ts := newTestTokenService(t)
	user := &User{ID: "u1", Email: "ana@example.com"}

	token, exp, err := ts.IssueAccess(user, []string{"platform-admin"})
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if !exp.After(time.Now()) {
		t.Fatalf("expected future expiry, got %v", exp)
	}

	claims, err := ts.VerifyAccess(token)
	if err != nil {
		t.Fatalf("VerifyAccess: %v", err)
	}
	if claims.Subject != "u1" || claims.Email != "ana@example.com" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != "platform-admin" {
		t.Fatalf("roles not preserved: %v", claims.Roles)
	}
}

func TestRefreshTokenIsNotAnAccessToken(t *testing.T) {
	ts := newTestTokenService(t)
	user := &User{ID: "u1"}

	refresh, _, err := ts.IssueRefresh(user)
	if err != nil {
		t.Fatalf("IssueRefresh: %v", err)
	}
	if _, err := ts.VerifyAccess(refresh); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("refresh token must not verify as access, got %v", err)
	}
	if _, err := ts.VerifyRefresh(refresh); err != nil {
		t.Fatalf("VerifyRefresh: %v", err)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	ts := newTestTokenService(t)
	user := &User{ID: "u1"}

	base := time.Now().UTC()
	ts.WithClock(func() time.Time { return base })
	token, _, err := ts.IssueAccess(user, nil)
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}

	ts.WithClock(func() time.Time { return base.Add(16 * time.Minute) })
	if _, err := ts.VerifyAccess(token); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for expired token, got %v", err)
	}
}

func TestTamperedTokenRejected(t *testing.T) {
	ts := newTestTokenService(t)
	token, _, err := ts.IssueAccess(&User{ID: "u1"}, nil)
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("unexpected token shape")
	}
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))
	if _, err := ts.VerifyAccess(tampered); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for tampered token, got %v", err)
	}
}

func TestTokenFromDifferentSecretRejected(t *testing.T) {
	ts := newTestTokenService(t)
	other, err := NewTokenService([]byte("another-secret-entirely"), "paperbase-test", time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	token, _, err := other.IssueAccess(&User{ID: "u1"}, nil)
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if _, err := ts.VerifyAccess(token); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected rejection of foreign signature, got %v", err)
	}
}

func TestTokenFromDifferentIssuerRejected(t *testing.T) {
	ts := newTestTokenService(t)
	other, err := NewTokenService([]byte("test-secret-0123456789"), "someone-else", time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	token, _, err := other.IssueAccess(&User{ID: "u1"}, nil)
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if _, err := ts.VerifyAccess(token); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected rejection of foreign issuer, got %v", err)
	}
}

func TestVerifyGarbageToken(t *testing.T) {
	ts := newTestTokenService(t)
	for _, token := range []string{"", "  ", "not.a.jwt", "a.b"} {
		if _, err := ts.VerifyAccess(token); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("token %q: expected ErrInvalidCredentials, got %v", token, err)
		}
	}
}
