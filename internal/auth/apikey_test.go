package auth

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"
)

type fakeAPIKeyStore struct {
	byPrefix   map[string]*APIKey
	touchCalls int
}

func newFakeAPIKeyStore() *fakeAPIKeyStore {
	return &fakeAPIKeyStore{byPrefix: make(map[string]*APIKey)}
}

func (f *fakeAPIKeyStore) Create(_ context.Context, k *APIKey) error {
	if _, ok := f.byPrefix[k.Prefix]; ok {
		return ErrAlreadyExists
	}
	cp := *k
	f.byPrefix[k.Prefix] = &cp
	return nil
}

func (f *fakeAPIKeyStore) Find(_ context.Context, id string) (*APIKey, error) {
	for _, k := range f.byPrefix {
		if k.ID == id {
			cp := *k
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (f *fakeAPIKeyStore) FindByPrefix(_ context.Context, prefix string) (*APIKey, error) {
	k, ok := f.byPrefix[prefix]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *k
	return &cp, nil
}

func (f *fakeAPIKeyStore) ListByOwner(_ context.Context, ownerID string) ([]*APIKey, error) {
	var out []*APIKey
	for _, k := range f.byPrefix {
		if k.OwnerID == ownerID {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeAPIKeyStore) TouchUsage(_ context.Context, id string, seenAt time.Time, _ SeenMeta) error {
	f.touchCalls++
	for _, k := range f.byPrefix {
		if k.ID == id {
			k.LastSeenAt = &seenAt
			return nil
		}
	}
	return ErrNotFound
}

func (f *fakeAPIKeyStore) Revoke(_ context.Context, id string) error {
	for _, k := range f.byPrefix {
		if k.ID == id {
			if k.RevokedAt == nil {
				now := time.Now().UTC()
				k.RevokedAt = &now
			}
			return nil
		}
	}
	return ErrNotFound
}

var rawKeyPattern = regexp.MustCompile(`^pb_[0-9a-f]{8}\.[A-Za-z0-9_-]{43}$`)

func TestAPIKeyIssueAndResolve(t *testing.T) {
	store := newFakeAPIKeyStore()
	mgr, err := NewAPIKeyManager(store, 5*time.Minute)
	if err != nil {
		t.Fatalf("NewAPIKeyManager: %v", err)
	}

	owner := &User{ID: "u1"}
	k, raw, err := mgr.Issue(context.Background(), owner, "ci pipeline", nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !rawKeyPattern.MatchString(raw) {
		t.Fatalf("raw key has unexpected shape: %s", raw)
	}
	if k.SecretHash == raw {
		t.Fatal("secret must not be stored verbatim")
	}

	got, err := mgr.Resolve(context.Background(), raw)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.ID != k.ID || got.OwnerID != "u1" {
		t.Fatalf("unexpected key: %+v", got)
	}
}

func TestAPIKeyResolveRejectsWrongSecret(t *testing.T) {
	store := newFakeAPIKeyStore()
	mgr, _ := NewAPIKeyManager(store, 0)

	k, _, err := mgr.Issue(context.Background(), &User{ID: "u1"}, "ci", nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	forged := "pb_" + k.Prefix + ".AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	if _, err := mgr.Resolve(context.Background(), forged); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for wrong secret, got %v", err)
	}
}

func TestAPIKeyResolveRejectsMalformed(t *testing.T) {
	mgr, _ := NewAPIKeyManager(newFakeAPIKeyStore(), 0)
	for _, raw := range []string{"", "pb_", "pb_abcd1234", "sk_abcd1234.secret", "pb_abcd1234."} {
		if _, err := mgr.Resolve(context.Background(), raw); !errors.Is(err, ErrNotFound) {
			t.Fatalf("raw %q: expected ErrNotFound, got %v", raw, err)
		}
	}
}

func TestAPIKeyResolveRejectsRevokedAndExpired(t *testing.T) {
	store := newFakeAPIKeyStore()
	base := time.Now().UTC()
	mgr, _ := NewAPIKeyManager(store, 0)
	mgr.WithClock(func() time.Time { return base })

	k, raw, err := mgr.Issue(context.Background(), &User{ID: "u1"}, "short", nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := mgr.Revoke(context.Background(), k); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	store.byPrefix[k.Prefix].RevokedAt = k.RevokedAt
	if _, err := mgr.Resolve(context.Background(), raw); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for revoked key, got %v", err)
	}

	exp := base.Add(time.Hour)
	_, raw2, err := mgr.Issue(context.Background(), &User{ID: "u1"}, "expiring", &exp)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	mgr.WithClock(func() time.Time { return base.Add(2 * time.Hour) })
	if _, err := mgr.Resolve(context.Background(), raw2); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for expired key, got %v", err)
	}
}

func TestAPIKeyTouchUsageThrottled(t *testing.T) {
	store := newFakeAPIKeyStore()
	base := time.Now().UTC()
	mgr, _ := NewAPIKeyManager(store, 5*time.Minute)
	mgr.WithClock(func() time.Time { return base })

	k, _, err := mgr.Issue(context.Background(), &User{ID: "u1"}, "busy", nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if err := mgr.TouchUsage(context.Background(), k, SeenMeta{IP: "10.0.0.1"}); err != nil {
		t.Fatalf("first TouchUsage: %v", err)
	}
	mgr.WithClock(func() time.Time { return base.Add(time.Minute) })
	if err := mgr.TouchUsage(context.Background(), k, SeenMeta{IP: "10.0.0.1"}); err != nil {
		t.Fatalf("second TouchUsage: %v", err)
	}
	if store.touchCalls != 1 {
		t.Fatalf("two touches inside the interval must produce one write, got %d", store.touchCalls)
	}

	mgr.WithClock(func() time.Time { return base.Add(10 * time.Minute) })
	if err := mgr.TouchUsage(context.Background(), k, SeenMeta{IP: "10.0.0.1"}); err != nil {
		t.Fatalf("third TouchUsage: %v", err)
	}
	if store.touchCalls != 2 {
		t.Fatalf("touch past the interval must write, got %d calls", store.touchCalls)
	}
}
