package oidc

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDiscoveryCachedWithinTTL(t *testing.T) {
	idp := newFakeIdP(t)
	p := idp.provider(t, nil)

	for i := 0; i < 3; i++ {
		if _, err := p.discover(context.Background()); err != nil {
			t.Fatalf("discover %d: %v", i, err)
		}
	}
	if hits := idp.discoveryHits.Load(); hits != 1 {
		t.Fatalf("discovery fetched %d times within the TTL", hits)
	}
}

func TestDiscoveryRefetchedPastTTL(t *testing.T) {
	idp := newFakeIdP(t)
	p := idp.provider(t, func(c *Config) { c.CacheTTL = time.Hour })

	if _, err := p.discover(context.Background()); err != nil {
		t.Fatalf("discover: %v", err)
	}
	p.WithClock(func() time.Time { return time.Now().Add(2 * time.Hour) })
	if _, err := p.discover(context.Background()); err != nil {
		t.Fatalf("discover after ttl: %v", err)
	}
	if hits := idp.discoveryHits.Load(); hits != 2 {
		t.Fatalf("discovery hit count = %d, want 2", hits)
	}
}

func TestJWKSCachedWithinTTL(t *testing.T) {
	idp := newFakeIdP(t)
	p := idp.provider(t, nil)

	for i := 0; i < 3; i++ {
		if _, err := p.keys(context.Background()); err != nil {
			t.Fatalf("keys %d: %v", i, err)
		}
	}
	if hits := idp.jwksHits.Load(); hits != 1 {
		t.Fatalf("jwks fetched %d times within the TTL", hits)
	}
}

func TestWarmProviderBuildsURLWithoutNetwork(t *testing.T) {
	idp := newFakeIdP(t)
	p := idp.provider(t, nil)

	if _, err := p.BuildAuthorizationURL(context.Background()); err != nil {
		t.Fatalf("cold BuildAuthorizationURL: %v", err)
	}
	idp.srv.Close()
	if _, err := p.BuildAuthorizationURL(context.Background()); err != nil {
		t.Fatalf("warm BuildAuthorizationURL must not need the network: %v", err)
	}
}

func TestDiscoveryUnreachableMapsToUnavailable(t *testing.T) {
	idp := newFakeIdP(t)
	p := idp.provider(t, nil)
	idp.srv.Close()

	if _, err := p.discover(context.Background()); !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
}

func TestClearCacheForcesRefetch(t *testing.T) {
	idp := newFakeIdP(t)
	p := idp.provider(t, nil)

	if _, err := p.discover(context.Background()); err != nil {
		t.Fatalf("discover: %v", err)
	}
	p.ClearCache()
	if _, err := p.discover(context.Background()); err != nil {
		t.Fatalf("discover after clear: %v", err)
	}
	if hits := idp.discoveryHits.Load(); hits != 2 {
		t.Fatalf("discovery hit count = %d, want 2", hits)
	}
}

func TestNewProviderValidatesConfig(t *testing.T) {
	base := Config{
		Issuer:      "https://idp.example.com",
		ClientID:    "client",
		RedirectURL: "https://app.example.com/cb",
		StateSecret: []byte("s"),
	}

	if _, err := NewProvider(base); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	for name, mutate := range map[string]func(*Config){
		"issuer":   func(c *Config) { c.Issuer = " " },
		"client":   func(c *Config) { c.ClientID = "" },
		"redirect": func(c *Config) { c.RedirectURL = "" },
		"secret":   func(c *Config) { c.StateSecret = nil },
	} {
		cfg := base
		mutate(&cfg)
		if _, err := NewProvider(cfg); err == nil {
			t.Fatalf("%s: incomplete config accepted", name)
		}
	}
}
