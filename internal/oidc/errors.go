package oidc

import "errors"

var (
	// ErrStateMismatch means the callback state failed signature, expiry,
	// or equality checks. Always a client error, never a server error.
	ErrStateMismatch = errors.New("oidc: state mismatch")

	// ErrExchangeFailed covers code-exchange rejections and every ID-token
	// verification failure: signature, issuer, audience, expiry, nonce.
	ErrExchangeFailed = errors.New("oidc: exchange failed")

	// ErrUpstreamUnavailable means the identity provider was unreachable,
	// timed out, or answered with a server error. Never a silent pass.
	ErrUpstreamUnavailable = errors.New("oidc: identity provider unavailable")
)
