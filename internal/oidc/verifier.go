package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"paperbase.org/internal/auth"
	"paperbase.org/internal/ids"
	"paperbase.org/internal/obs"
)

// stateTTL bounds how long a login attempt may sit between redirect and
// callback.
const stateTTL = 10 * time.Minute

// AuthorizationRequest is the outcome of starting a login attempt: where
// to send the browser, and the state token to pin in a short-lived cookie.
type AuthorizationRequest struct {
	RedirectURL string
	StateToken  string
}

// IDTokenClaims are the verified claims of an ID token.
type IDTokenClaims struct {
	Issuer    string
	Subject   string
	Audience  []string
	Email     string
	Name      string
	Nonce     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// BuildAuthorizationURL starts a login attempt: it resolves provider
// metadata (cached when warm), generates a nonce, signs a state token over
// it, and assembles the redirect URL.
func (p *Provider) BuildAuthorizationURL(ctx context.Context) (*AuthorizationRequest, error) {
	doc, err := p.discover(ctx)
	if err != nil {
		return nil, err
	}

	nonce := uuid.NewString()
	state, err := signState(p.cfg.StateSecret, statePayload{
		Nonce: nonce,
		Exp:   p.now().UTC().Add(stateTTL).Unix(),
	})
	if err != nil {
		return nil, fmt.Errorf("sign state: %w", err)
	}

	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", p.cfg.ClientID)
	q.Set("redirect_uri", p.cfg.RedirectURL)
	q.Set("scope", strings.Join(p.cfg.Scopes, " "))
	q.Set("state", state)
	q.Set("nonce", nonce)

	sep := "?"
	if strings.Contains(doc.AuthorizationEndpoint, "?") {
		sep = "&"
	}
	return &AuthorizationRequest{
		RedirectURL: doc.AuthorizationEndpoint + sep + q.Encode(),
		StateToken:  state,
	}, nil
}

// HandleCallback completes a login attempt. The returned state must equal
// the cookie-held state token and pass signature and expiry checks before
// any network call happens; then the code is exchanged and the ID token
// verified, including the nonce bound into the state.
func (p *Provider) HandleCallback(ctx context.Context, code, returnedState, cookieState string) (*IDTokenClaims, error) {
	if cookieState == "" || returnedState == "" || returnedState != cookieState {
		return nil, ErrStateMismatch
	}
	payload, err := verifyState(p.cfg.StateSecret, cookieState, p.now().UTC())
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("%w: missing authorization code", ErrExchangeFailed)
	}

	idToken, err := p.exchangeCode(ctx, code)
	if err != nil {
		return nil, err
	}
	return p.verifyIDToken(ctx, idToken, payload.Nonce)
}

// VerifyBearerIDToken validates an ID token presented directly by a
// resource client. Same decode, signature, and claim logic as the callback
// path, minus the state and nonce checks.
func (p *Provider) VerifyBearerIDToken(ctx context.Context, token string) (*IDTokenClaims, error) {
	return p.verifyIDToken(ctx, token, "")
}

// ResolveUser maps verified claims to a local user by (issuer, subject).
// When absent and auto-provisioning is enabled, an existing user with the
// same email is linked, or a fresh one is created. Deactivated users fail.
func (p *Provider) ResolveUser(ctx context.Context, users auth.UserStore, claims *IDTokenClaims) (*auth.User, error) {
	user, err := users.FindBySSOSubject(ctx, claims.Issuer, claims.Subject)
	switch {
	case err == nil:
		if !user.Active() {
			return nil, auth.ErrAccountInactive
		}
		return user, nil
	case !errors.Is(err, auth.ErrNotFound):
		return nil, fmt.Errorf("find sso user: %w", err)
	}

	if !p.cfg.AutoProvision {
		return nil, fmt.Errorf("%w: unknown subject and auto-provisioning is disabled", ErrExchangeFailed)
	}
	email := auth.NormalizeEmail(claims.Email)
	if email == "" {
		return nil, fmt.Errorf("%w: provider supplied no email claim", ErrExchangeFailed)
	}

	user, err = users.FindByEmail(ctx, email)
	switch {
	case err == nil:
		if !user.Active() {
			return nil, auth.ErrAccountInactive
		}
		if err := users.LinkSSOIdentity(ctx, user.ID, claims.Issuer, claims.Subject); err != nil {
			return nil, fmt.Errorf("link sso identity: %w", err)
		}
		user.SSOProvider = claims.Issuer
		user.SSOSubject = claims.Subject
		return user, nil
	case !errors.Is(err, auth.ErrNotFound):
		return nil, fmt.Errorf("find user by email: %w", err)
	}

	now := p.now().UTC()
	user = &auth.User{
		ID:          ids.New(),
		Email:       email,
		Status:      auth.UserStatusActive,
		Kind:        auth.UserKindHuman,
		SSOProvider: claims.Issuer,
		SSOSubject:  claims.Subject,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("provision sso user: %w", err)
	}
	return user, nil
}

type tokenEndpointResponse struct {
	IDToken     string `json:"id_token"`
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Error       string `json:"error"`
}

// exchangeCode posts the authorization code to the token endpoint. Network
// failures and provider 5xx map to ErrUpstreamUnavailable; rejections map
// to ErrExchangeFailed.
func (p *Provider) exchangeCode(ctx context.Context, code string) (string, error) {
	doc, err := p.discover(ctx)
	if err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", p.cfg.RedirectURL)
	form.Set("client_id", p.cfg.ClientID)
	if p.cfg.ClientSecret != "" {
		form.Set("client_secret", p.cfg.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, doc.TokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	obs.ObserveUpstreamFetch("exchange", err)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("%w: token endpoint returned status %d", ErrUpstreamUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: token endpoint returned status %d", ErrExchangeFailed, resp.StatusCode)
	}

	var parsed tokenEndpointResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("%w: malformed token endpoint response", ErrExchangeFailed)
	}
	if parsed.IDToken == "" {
		return "", fmt.Errorf("%w: token endpoint returned no id_token", ErrExchangeFailed)
	}
	return parsed.IDToken, nil
}

// verifyIDToken decodes the token, verifies its signature against the
// provider's key set, and validates claims. A token whose signature check
// failed is never partially accepted regardless of claim validity.
func (p *Provider) verifyIDToken(ctx context.Context, token, expectedNonce string) (*IDTokenClaims, error) {
	parsed, err := parseCompact(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}

	switch parsed.alg() {
	case "RS256":
		keys, err := p.keys(ctx)
		if err != nil {
			return nil, err
		}
		jwk, ok := keyFor(keys, parsed.kid())
		if !ok || jwk.Kty != "RSA" {
			return nil, fmt.Errorf("%w: no key for token", ErrExchangeFailed)
		}
		n, e, err := rsaComponents(jwk)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
		}
		if !verifyRS256(n, e, parsed.signingInput, parsed.signature) {
			return nil, fmt.Errorf("%w: signature verification failed", ErrExchangeFailed)
		}
	case "HS256":
		if !verifyHS256([]byte(p.cfg.ClientSecret), parsed.signingInput, parsed.signature) {
			return nil, fmt.Errorf("%w: signature verification failed", ErrExchangeFailed)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrExchangeFailed, parsed.alg())
	}

	return p.validateClaims(parsed.payload, expectedNonce)
}

func (p *Provider) validateClaims(payload map[string]any, expectedNonce string) (*IDTokenClaims, error) {
	claims := &IDTokenClaims{
		Issuer:   claimString(payload, "iss"),
		Subject:  claimString(payload, "sub"),
		Audience: claimAudience(payload),
		Email:    claimString(payload, "email"),
		Name:     claimString(payload, "name"),
		Nonce:    claimString(payload, "nonce"),
	}

	if claims.Issuer != strings.TrimSuffix(p.cfg.Issuer, "/") &&
		claims.Issuer != p.cfg.Issuer {
		return nil, fmt.Errorf("%w: unexpected issuer", ErrExchangeFailed)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("%w: subject missing", ErrExchangeFailed)
	}

	audOK := false
	for _, aud := range claims.Audience {
		if aud == p.cfg.ClientID {
			audOK = true
			break
		}
	}
	if !audOK {
		return nil, fmt.Errorf("%w: audience does not include client", ErrExchangeFailed)
	}

	exp, ok := claimInt64(payload, "exp")
	if !ok {
		return nil, fmt.Errorf("%w: expiry missing", ErrExchangeFailed)
	}
	claims.ExpiresAt = time.Unix(exp, 0).UTC()
	if !claims.ExpiresAt.After(p.now().UTC()) {
		return nil, fmt.Errorf("%w: token expired", ErrExchangeFailed)
	}
	if iat, ok := claimInt64(payload, "iat"); ok {
		claims.IssuedAt = time.Unix(iat, 0).UTC()
	}

	if expectedNonce != "" && claims.Nonce != expectedNonce {
		return nil, fmt.Errorf("%w: nonce mismatch", ErrExchangeFailed)
	}
	return claims, nil
}
