package httpapi

import (
	"net/http"
	"strings"
	"time"

	"paperbase.org/internal/audit"
	"paperbase.org/internal/auth"
	"paperbase.org/internal/authz"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	UserID           string    `json:"user_id"`
	Email            string    `json:"email"`
	CSRFToken        string    `json:"csrf_token"`
	SessionExpiresAt time.Time `json:"session_expires_at"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	res, err := a.service.Login(r.Context(), req.Email, req.Password, seenMeta(r))
	if err != nil {
		if _, locked := auth.IsLocked(err); locked {
			_ = audit.LogEvent(r.Context(), "auth.login.locked", map[string]any{
				"email": auth.NormalizeEmail(req.Email),
			})
		}
		a.handleAuthError(w, r, err)
		return
	}

	a.setAuthCookies(w, res)
	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"user_id": res.User.ID,
		"email":   res.User.Email,
	})
	writeJSON(w, http.StatusOK, sessionResponse{
		UserID:           res.User.ID,
		Email:            res.User.Email,
		CSRFToken:        res.CSRFToken,
		SessionExpiresAt: res.Session.ExpiresAt,
	})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	refreshCookie, err := r.Cookie(auth.RefreshCookie)
	if err != nil || strings.TrimSpace(refreshCookie.Value) == "" {
		a.handleAuthError(w, r, auth.ErrAuthRequired)
		return
	}

	// Best effort: locate the current session so rotation revokes it.
	var old *auth.Session
	if c, err := r.Cookie(auth.SessionCookie); err == nil && c.Value != "" {
		if s, err := a.service.Sessions().Get(r.Context(), c.Value); err == nil {
			old = s
		}
	}

	res, err := a.service.Refresh(r.Context(), refreshCookie.Value, old, seenMeta(r))
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}

	a.setAuthCookies(w, res)
	_ = audit.LogEvent(r.Context(), "auth.session.refreshed", map[string]any{
		"user_id": res.User.ID,
	})
	writeJSON(w, http.StatusOK, sessionResponse{
		UserID:           res.User.ID,
		Email:            res.User.Email,
		CSRFToken:        res.CSRFToken,
		SessionExpiresAt: res.Session.ExpiresAt,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	if err := a.service.Logout(r.Context(), p); err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	a.clearAuthCookies(w)
	_ = audit.LogEvent(r.Context(), "auth.logout", nil)
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// handleChangePassword rotates the caller's password. Every session of the
// user is revoked, including the one carrying this request, so the response
// also clears the auth cookies.
func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	p := principal(r)
	if err := a.service.ChangePassword(r.Context(), p, req.CurrentPassword, req.NewPassword); err != nil {
		a.handleAuthError(w, r, err)
		return
	}

	a.clearAuthCookies(w)
	_ = audit.LogEvent(r.Context(), "auth.password.changed", map[string]any{
		"user_id": p.User.ID,
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "password_changed"})
}

type profileResponse struct {
	UserID      string     `json:"user_id"`
	Email       string     `json:"email"`
	Kind        string     `json:"kind"`
	Status      string     `json:"status"`
	AuthMethod  string     `json:"auth_method"`
	Permissions []string   `json:"permissions"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

func (a *API) handleProfile(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	perms, err := a.service.GrantedPermissions(r.Context(), p.User.ID, authz.ScopeGlobal, "")
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	if perms == nil {
		perms = []string{}
	}
	writeJSON(w, http.StatusOK, profileResponse{
		UserID:      p.User.ID,
		Email:       p.User.Email,
		Kind:        p.User.Kind,
		Status:      p.User.Status,
		AuthMethod:  p.Method,
		Permissions: perms,
		LastLoginAt: p.User.LastLoginAt,
	})
}

type tokenPairResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	TokenType        string    `json:"token_type"`
}

// handleIssueTokens mints a first-party access/refresh pair for API
// clients that cannot hold cookies.
func (a *API) handleIssueTokens(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	pair, err := a.service.IssueTokens(r.Context(), p.User)
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.tokens.issued", map[string]any{
		"user_id": p.User.ID,
	})
	writeJSON(w, http.StatusOK, tokenPairResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
		TokenType:        "Bearer",
	})
}

type decisionRequest struct {
	Required    []string `json:"required"`
	Scope       string   `json:"scope"`
	WorkspaceID string   `json:"workspace_id"`
}

type decisionResponse struct {
	Granted bool     `json:"granted"`
	Scope   string   `json:"scope"`
	Missing []string `json:"missing"`
}

// handleDecision evaluates an authorization question for the calling
// principal without performing the guarded action.
func (a *API) handleDecision(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	var scope authz.Scope
	switch req.Scope {
	case string(authz.ScopeGlobal):
		scope = authz.ScopeGlobal
	case string(authz.ScopeWorkspace):
		if strings.TrimSpace(req.WorkspaceID) == "" {
			writeError(w, r, http.StatusBadRequest, "workspace_id is required for workspace scope")
			return
		}
		scope = authz.ScopeWorkspace
	default:
		writeError(w, r, http.StatusBadRequest, "scope must be global or workspace")
		return
	}
	if len(req.Required) == 0 {
		writeError(w, r, http.StatusBadRequest, "required permissions must not be empty")
		return
	}

	decision, err := a.service.Authorize(r.Context(), principal(r), req.Required, scope, req.WorkspaceID)
	if err != nil {
		// Unknown permission keys fail closed as a client error.
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	missing := decision.Missing
	if missing == nil {
		missing = []string{}
	}
	writeJSON(w, http.StatusOK, decisionResponse{
		Granted: decision.IsAuthorized(),
		Scope:   string(decision.Scope),
		Missing: missing,
	})
}

// --- cookies ---

func (a *API) setAuthCookies(w http.ResponseWriter, res *auth.LoginResult) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    res.RawSessionToken,
		Path:     "/",
		Expires:  res.Session.ExpiresAt,
		HttpOnly: true,
		Secure:   a.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     auth.RefreshCookie,
		Value:    res.RefreshToken,
		Path:     "/v1/auth",
		Expires:  res.RefreshExpiresAt,
		HttpOnly: true,
		Secure:   a.opts.SecureCookies,
		SameSite: http.SameSiteStrictMode,
	})
	// Readable by the frontend; its value is echoed back in the CSRF header.
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CSRFCookie,
		Value:    res.CSRFToken,
		Path:     "/",
		Expires:  res.Session.ExpiresAt,
		HttpOnly: false,
		Secure:   a.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *API) clearAuthCookies(w http.ResponseWriter) {
	expired := time.Unix(0, 0)
	for _, c := range []http.Cookie{
		{Name: auth.SessionCookie, Path: "/"},
		{Name: auth.RefreshCookie, Path: "/v1/auth"},
		{Name: auth.CSRFCookie, Path: "/"},
	} {
		c.Value = ""
		c.Expires = expired
		c.MaxAge = -1
		c.HttpOnly = c.Name != auth.CSRFCookie
		c.Secure = a.opts.SecureCookies
		http.SetCookie(w, &c)
	}
}

func seenMeta(r *http.Request) auth.SeenMeta {
	return auth.SeenMeta{
		IP:        clientIP(r),
		UserAgent: r.Header.Get("User-Agent"),
	}
}
