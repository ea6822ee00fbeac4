// Package authz holds the static permission catalog and the
// implication-expansion decision engine. The catalog is code-defined and
// immutable at runtime; unknown keys are configuration errors and always
// fail closed.
package authz

import (
	"errors"
	"fmt"
	"strings"
)

// Scope partitions permission keys into disjoint namespaces.
type Scope string

const (
	ScopeGlobal    Scope = "global"
	ScopeWorkspace Scope = "workspace"
)

// Permission is one catalog entry.
type Permission struct {
	Key   string
	Scope Scope
	Label string
}

// Global permission keys.
const (
	PermAdminUsersManage      = "Admin.Users.Manage"
	PermAdminWorkspacesManage = "Admin.Workspaces.Manage"
	PermAdminSystemRead       = "Admin.System.Read"
)

// Workspace permission keys.
const (
	PermWorkspaceRead              = "Workspace.Read"
	PermWorkspaceSettingsReadWrite = "Workspace.Settings.ReadWrite"
	PermDocumentsRead              = "Workspace.Documents.Read"
	PermDocumentsReadWrite         = "Workspace.Documents.ReadWrite"
	PermDocumentsDelete            = "Workspace.Documents.Delete"
	PermJobsRead                   = "Workspace.Jobs.Read"
	PermJobsReadWrite              = "Workspace.Jobs.ReadWrite"
	PermMembersRead                = "Workspace.Members.Read"
	PermMembersReadWrite           = "Workspace.Members.ReadWrite"
	PermAPIKeysManage              = "Workspace.ApiKeys.Manage"
)

// Catalog is the full permission set, synchronized into storage for
// introspection but authoritative here.
var Catalog = []Permission{
	{Key: PermAdminUsersManage, Scope: ScopeGlobal, Label: "Manage users and service accounts"},
	{Key: PermAdminWorkspacesManage, Scope: ScopeGlobal, Label: "Create and delete workspaces"},
	{Key: PermAdminSystemRead, Scope: ScopeGlobal, Label: "Read system configuration and health"},

	{Key: PermWorkspaceRead, Scope: ScopeWorkspace, Label: "See the workspace"},
	{Key: PermWorkspaceSettingsReadWrite, Scope: ScopeWorkspace, Label: "Change workspace settings"},
	{Key: PermDocumentsRead, Scope: ScopeWorkspace, Label: "Read documents"},
	{Key: PermDocumentsReadWrite, Scope: ScopeWorkspace, Label: "Upload and edit documents"},
	{Key: PermDocumentsDelete, Scope: ScopeWorkspace, Label: "Delete documents"},
	{Key: PermJobsRead, Scope: ScopeWorkspace, Label: "See extraction jobs"},
	{Key: PermJobsReadWrite, Scope: ScopeWorkspace, Label: "Start and cancel extraction jobs"},
	{Key: PermMembersRead, Scope: ScopeWorkspace, Label: "See workspace members"},
	{Key: PermMembersReadWrite, Scope: ScopeWorkspace, Label: "Invite and remove members"},
	{Key: PermAPIKeysManage, Scope: ScopeWorkspace, Label: "Manage workspace API keys"},
}

var catalogByKey = func() map[string]Permission {
	m := make(map[string]Permission, len(Catalog))
	for _, p := range Catalog {
		m[p.Key] = p
	}
	return m
}()

var (
	// ErrUnknownPermission marks a key absent from the catalog. This is a
	// programming or configuration error in the calling code, not a deny.
	ErrUnknownPermission = errors.New("authz: unknown permission key")

	// ErrScopeMismatch marks a key evaluated against the wrong scope.
	ErrScopeMismatch = errors.New("authz: permission key does not belong to scope")
)

// Lookup returns the catalog entry for a key.
func Lookup(key string) (Permission, bool) {
	p, ok := catalogByKey[key]
	return p, ok
}

// CollectKeys trims, deduplicates (order-stable), and validates permission
// keys against the catalog. Unknown keys fail closed.
func CollectKeys(raw []string) ([]string, error) {
	seen := make(map[string]struct{}, len(raw))
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, ok := catalogByKey[k]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownPermission, k)
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys, nil
}

// checkScope verifies every key belongs to the given scope.
func checkScope(keys []string, scope Scope) error {
	for _, k := range keys {
		p, ok := catalogByKey[k]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownPermission, k)
		}
		if p.Scope != scope {
			return fmt.Errorf("%w: %q is %s-scoped, evaluated as %s", ErrScopeMismatch, k, p.Scope, scope)
		}
	}
	return nil
}
