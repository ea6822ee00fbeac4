package authz

// implications is the static expansion table: holding the map key grants
// every listed key as well. Expansion is transitive.
var implications = map[string][]string{
	PermAdminUsersManage: {PermAdminSystemRead},

	PermWorkspaceSettingsReadWrite: {},
	PermDocumentsReadWrite:         {PermDocumentsRead},
	PermDocumentsDelete:            {PermDocumentsReadWrite},
	PermJobsReadWrite:              {PermJobsRead},
	PermMembersReadWrite:           {PermMembersRead},
}

// Decision is the ephemeral result of one authorization check.
type Decision struct {
	Scope Scope
	// Granted is the caller's permission set after implication expansion.
	Granted []string
	// Required is the validated, deduplicated required set.
	Required []string
	// Missing is Required minus Granted, order-stable.
	Missing []string
}

// IsAuthorized reports whether nothing required is missing.
func (d Decision) IsAuthorized() bool { return len(d.Missing) == 0 }

// ExpandImplications computes the breadth-first closure of the granted set
// under the implication table, plus the scope rule that holding any
// workspace permission implies Workspace.Read. The result is order-stable,
// deduplicated, and idempotent: expanding an already expanded set returns
// the same set.
func ExpandImplications(granted []string, scope Scope) ([]string, error) {
	keys, err := CollectKeys(granted)
	if err != nil {
		return nil, err
	}
	if err := checkScope(keys, scope); err != nil {
		return nil, err
	}

	expanded := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	queue := append([]string(nil), keys...)
	for len(queue) > 0 {
		k := queue[0]
		queue = queue[1:]
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		expanded = append(expanded, k)
		queue = append(queue, implications[k]...)
	}

	if scope == ScopeWorkspace && len(expanded) > 0 {
		if _, ok := seen[PermWorkspaceRead]; !ok {
			expanded = append(expanded, PermWorkspaceRead)
		}
	}
	return expanded, nil
}

// Authorize validates both sets, expands granted, and computes the missing
// required keys. An empty required set is trivially authorized. Unknown
// keys and scope mismatches are configuration errors, never a silent deny.
func Authorize(granted, required []string, scope Scope) (Decision, error) {
	requiredKeys, err := CollectKeys(required)
	if err != nil {
		return Decision{}, err
	}
	if err := checkScope(requiredKeys, scope); err != nil {
		return Decision{}, err
	}

	expanded, err := ExpandImplications(granted, scope)
	if err != nil {
		return Decision{}, err
	}

	have := make(map[string]struct{}, len(expanded))
	for _, k := range expanded {
		have[k] = struct{}{}
	}

	missing := make([]string, 0)
	for _, k := range requiredKeys {
		if _, ok := have[k]; !ok {
			missing = append(missing, k)
		}
	}

	return Decision{
		Scope:    scope,
		Granted:  expanded,
		Required: requiredKeys,
		Missing:  missing,
	}, nil
}
