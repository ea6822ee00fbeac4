package authz

import (
	"errors"
	"reflect"
	"testing"
)

func TestLookup(t *testing.T) {
	p, ok := Lookup(PermDocumentsRead)
	if !ok {
		t.Fatal("catalog key must resolve")
	}
	if p.Scope != ScopeWorkspace {
		t.Fatalf("scope = %q", p.Scope)
	}
	if _, ok := Lookup("Nope.Nothing"); ok {
		t.Fatal("unknown key must not resolve")
	}
}

func TestCatalogIsInternallyConsistent(t *testing.T) {
	seen := make(map[string]struct{}, len(Catalog))
	for _, p := range Catalog {
		if p.Key == "" || p.Label == "" {
			t.Fatalf("incomplete entry: %+v", p)
		}
		if p.Scope != ScopeGlobal && p.Scope != ScopeWorkspace {
			t.Fatalf("bad scope on %q: %q", p.Key, p.Scope)
		}
		if _, dup := seen[p.Key]; dup {
			t.Fatalf("duplicate key %q", p.Key)
		}
		seen[p.Key] = struct{}{}
	}
	// Every implication target must itself be a catalog key of the same
	// scope as its source.
	for src, targets := range implications {
		sp, ok := Lookup(src)
		if !ok {
			t.Fatalf("implication source %q not in catalog", src)
		}
		for _, dst := range targets {
			dp, ok := Lookup(dst)
			if !ok {
				t.Fatalf("implication target %q not in catalog", dst)
			}
			if dp.Scope != sp.Scope {
				t.Fatalf("implication %q -> %q crosses scopes", src, dst)
			}
		}
	}
}

func TestCollectKeysTrimsAndDeduplicates(t *testing.T) {
	got, err := CollectKeys([]string{
		"  " + PermDocumentsRead + " ",
		PermJobsRead,
		PermDocumentsRead,
		"",
	})
	if err != nil {
		t.Fatalf("CollectKeys: %v", err)
	}
	want := []string{PermDocumentsRead, PermJobsRead}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestCollectKeysUnknownFailsClosed(t *testing.T) {
	if _, err := CollectKeys([]string{PermDocumentsRead, "Workspace.Documents.Write"}); !errors.Is(err, ErrUnknownPermission) {
		t.Fatalf("expected ErrUnknownPermission, got %v", err)
	}
}

func TestCollectKeysEmptyInput(t *testing.T) {
	got, err := CollectKeys(nil)
	if err != nil {
		t.Fatalf("CollectKeys: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %v", got)
	}
}
