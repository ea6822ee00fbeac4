package oidc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"paperbase.org/internal/obs"
)

const maxResponseBytes = 1 << 20

// Discovery is the subset of the provider metadata document the verifier
// consumes.
type Discovery struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	JWKSURI               string `json:"jwks_uri"`
}

// JWK is one key from the provider's key set. RSA keys carry n/e;
// symmetric keys carry k.
type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
	K   string `json:"k"`
}

type jwksDocument struct {
	Keys []JWK `json:"keys"`
}

// Config configures a Provider.
type Config struct {
	Issuer        string
	ClientID      string
	ClientSecret  string
	RedirectURL   string
	Scopes        []string
	AutoProvision bool
	// StateSecret signs state tokens; usually the process token secret.
	StateSecret []byte
	CacheTTL    time.Duration
	Timeout     time.Duration
}

// Provider talks to one OIDC identity provider. Discovery and JWKS
// documents are cached with a TTL so a warm provider never blocks building
// an authorization URL on network I/O.
type Provider struct {
	cfg    Config
	client *http.Client
	now    func() time.Time

	mu        sync.RWMutex
	discovery *Discovery
	discAt    time.Time
	jwks      []JWK
	jwksAt    time.Time
}

// NewProvider validates the configuration and constructs a Provider. No
// network traffic happens until the first use.
func NewProvider(cfg Config) (*Provider, error) {
	if strings.TrimSpace(cfg.Issuer) == "" {
		return nil, errors.New("oidc: issuer is required")
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, errors.New("oidc: client id is required")
	}
	if strings.TrimSpace(cfg.RedirectURL) == "" {
		return nil, errors.New("oidc: redirect url is required")
	}
	if len(cfg.StateSecret) == 0 {
		return nil, errors.New("oidc: state secret is required")
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{"openid", "email", "profile"}
	}
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		now:    time.Now,
	}, nil
}

// WithClock overrides the time source for tests.
func (p *Provider) WithClock(now func() time.Time) *Provider {
	if now != nil {
		p.now = now
	}
	return p
}

// WithHTTPClient overrides the outbound client for tests.
func (p *Provider) WithHTTPClient(c *http.Client) *Provider {
	if c != nil {
		p.client = c
	}
	return p
}

// ClearCache drops cached discovery and JWKS documents. For tests.
func (p *Provider) ClearCache() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.discovery = nil
	p.jwks = nil
}

// discover returns the cached discovery document, refetching past the TTL.
// Stale entries are refreshed outside the lock, so a bounded number of
// concurrent refreshes may race; last writer wins.
func (p *Provider) discover(ctx context.Context) (*Discovery, error) {
	p.mu.RLock()
	if p.discovery != nil && p.now().Sub(p.discAt) < p.cfg.CacheTTL {
		doc := p.discovery
		p.mu.RUnlock()
		return doc, nil
	}
	p.mu.RUnlock()

	url := strings.TrimSuffix(p.cfg.Issuer, "/") + "/.well-known/openid-configuration"
	var doc Discovery
	err := p.fetchJSON(ctx, url, &doc)
	obs.ObserveUpstreamFetch("discovery", err)
	if err != nil {
		return nil, err
	}
	if doc.Issuer == "" || doc.AuthorizationEndpoint == "" || doc.TokenEndpoint == "" || doc.JWKSURI == "" {
		return nil, fmt.Errorf("%w: discovery document incomplete", ErrUpstreamUnavailable)
	}

	p.mu.Lock()
	p.discovery = &doc
	p.discAt = p.now()
	p.mu.Unlock()
	return &doc, nil
}

// keys returns the cached JWKS, refetching past the TTL.
func (p *Provider) keys(ctx context.Context) ([]JWK, error) {
	p.mu.RLock()
	if p.jwks != nil && p.now().Sub(p.jwksAt) < p.cfg.CacheTTL {
		keys := p.jwks
		p.mu.RUnlock()
		return keys, nil
	}
	p.mu.RUnlock()

	doc, err := p.discover(ctx)
	if err != nil {
		return nil, err
	}

	var jwks jwksDocument
	err = p.fetchJSON(ctx, doc.JWKSURI, &jwks)
	obs.ObserveUpstreamFetch("jwks", err)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.jwks = jwks.Keys
	p.jwksAt = p.now()
	p.mu.Unlock()
	return jwks.Keys, nil
}

// keyFor selects a JWKS entry by kid, or the sole key when the token names
// none and the set is unambiguous.
func keyFor(keys []JWK, kid string) (JWK, bool) {
	if kid == "" {
		if len(keys) == 1 {
			return keys[0], true
		}
		return JWK{}, false
	}
	for _, k := range keys {
		if k.Kid == kid {
			return k, true
		}
	}
	return JWK{}, false
}

// rsaComponents decodes the base64url modulus and exponent of an RSA JWK.
func rsaComponents(k JWK) (*big.Int, int, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, 0, fmt.Errorf("decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, 0, fmt.Errorf("decode exponent: %w", err)
	}
	if len(nBytes) == 0 || len(eBytes) == 0 || len(eBytes) > 8 {
		return nil, 0, errors.New("invalid rsa key components")
	}
	n := new(big.Int).SetBytes(nBytes)
	e := new(big.Int).SetBytes(eBytes)
	if !e.IsInt64() || e.Int64() < 3 {
		return nil, 0, errors.New("invalid rsa exponent")
	}
	return n, int(e.Int64()), nil
}

func (p *Provider) fetchJSON(ctx context.Context, url string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned status %d", ErrUpstreamUnavailable, url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("%w: malformed response from %s", ErrUpstreamUnavailable, url)
	}
	return nil
}
