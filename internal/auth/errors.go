package auth

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials covers every bad password/token/key case. The
	// same value is returned regardless of which check failed so callers
	// cannot probe which emails exist.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrAuthRequired means no credential was presented at all.
	ErrAuthRequired = errors.New("auth: authentication required")

	// ErrAccountInactive means the principal exists but is disabled.
	ErrAccountInactive = errors.New("auth: account is not active")

	// ErrServiceAccountRestricted means a service account attempted a
	// human-only flow such as password login.
	ErrServiceAccountRestricted = errors.New("auth: service accounts cannot use this flow")

	// ErrCsrfMismatch means a cookie-authenticated mutating request did
	// not carry the CSRF token bound to the session.
	ErrCsrfMismatch = errors.New("auth: csrf token mismatch")

	ErrNotFound      = errors.New("auth: not found")
	ErrAlreadyExists = errors.New("auth: already exists")
	ErrInvalidInput  = errors.New("auth: invalid input")
)

// LockedError is returned when an account is locked after repeated failed
// logins. RetryAfter tells the caller when trying again can succeed.
type LockedError struct {
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("auth: account locked, retry after %s", e.RetryAfter.Round(time.Second))
}

// IsLocked extracts a LockedError from an error chain.
func IsLocked(err error) (*LockedError, bool) {
	var le *LockedError
	if errors.As(err, &le) {
		return le, true
	}
	return nil, false
}
