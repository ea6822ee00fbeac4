package httpapi

import (
	"net/http"

	"paperbase.org/internal/auth"
)

// withPrincipal resolves the request credential and stores the principal in
// the context. Mutating requests authenticated by session cookie must also
// carry the CSRF header matching the session's token.
func (a *API) withPrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := a.resolve.Resolve(r.Context(), r)
		if err != nil {
			a.handleAuthError(w, r, err)
			return
		}
		if mutating(r.Method) && p.Method == auth.MethodSession {
			if err := a.csrf.Enforce(r, p.Session); err != nil {
				a.handleAuthError(w, r, err)
				return
			}
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithPrincipal(r.Context(), p)))
	})
}

func mutating(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}

// principal fetches the resolved principal; withPrincipal guarantees it is
// present on gated routes.
func principal(r *http.Request) *auth.Principal {
	p, _ := auth.PrincipalFromContext(r.Context())
	return p
}
