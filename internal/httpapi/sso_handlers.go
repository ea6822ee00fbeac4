package httpapi

import (
	"net/http"
	"time"

	"paperbase.org/internal/audit"
	"paperbase.org/internal/auth"
)

const ssoStateTTL = 10 * time.Minute

// handleSSOStart redirects the browser to the identity provider. The
// signed state token travels both as a query parameter and in a short
// lived cookie; the callback requires them to agree.
func (a *API) handleSSOStart(w http.ResponseWriter, r *http.Request) {
	req, err := a.sso.BuildAuthorizationURL(r.Context())
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.StateCookie,
		Value:    req.StateToken,
		Path:     "/v1/auth/sso",
		Expires:  time.Now().Add(ssoStateTTL),
		HttpOnly: true,
		Secure:   a.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, req.RedirectURL, http.StatusFound)
}

func (a *API) handleSSOCallback(w http.ResponseWriter, r *http.Request) {
	stateCookie, err := r.Cookie(auth.StateCookie)
	if err != nil {
		a.handleAuthError(w, r, auth.ErrAuthRequired)
		return
	}
	code := r.URL.Query().Get("code")
	returnedState := r.URL.Query().Get("state")

	claims, err := a.sso.HandleCallback(r.Context(), code, returnedState, stateCookie.Value)
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}

	user, err := a.sso.ResolveUser(r.Context(), a.service.Users(), claims)
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}

	res, err := a.service.EstablishSession(r.Context(), user, seenMeta(r))
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}

	// One-shot state cookie; expire it regardless of what happens next.
	http.SetCookie(w, &http.Cookie{
		Name:     auth.StateCookie,
		Value:    "",
		Path:     "/v1/auth/sso",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.opts.SecureCookies,
	})
	a.setAuthCookies(w, res)
	_ = audit.LogEvent(r.Context(), "auth.sso.login", map[string]any{
		"user_id": user.ID,
		"issuer":  claims.Issuer,
		"subject": claims.Subject,
	})
	writeJSON(w, http.StatusOK, sessionResponse{
		UserID:           res.User.ID,
		Email:            res.User.Email,
		CSRFToken:        res.CSRFToken,
		SessionExpiresAt: res.Session.ExpiresAt,
	})
}
