// Package httpapi is the HTTP surface of the auth engine: login and
// session endpoints, API key management, SSO redirects, and the usual
// health and metrics plumbing.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"paperbase.org/internal/auth"
	"paperbase.org/internal/obs"
	"paperbase.org/internal/oidc"
	"paperbase.org/internal/stream"
)

// ReadyProbe checks downstream readiness (a database ping in production).
type ReadyProbe interface {
	Check(ctx context.Context) error
}

// ReadyProbeFunc adapts a function to ReadyProbe.
type ReadyProbeFunc func(ctx context.Context) error

func (f ReadyProbeFunc) Check(ctx context.Context) error { return f(ctx) }

// Options carries the wiring the API needs beyond its collaborators.
type Options struct {
	Version       string
	SecureCookies bool
	LoginBurst    int
	LoginPerSec   int
	// Events feeds the administrative event stream. A hub is created when
	// none is supplied.
	Events *stream.Hub
}

// API is the HTTP layer.
type API struct {
	router  chi.Router
	service *auth.Service
	resolve *auth.Resolver
	csrf    *auth.CSRFGuard
	sso     *oidc.Provider
	events  *stream.Hub
	probe   ReadyProbe
	opts    Options
}

func New(service *auth.Service, resolver *auth.Resolver, csrf *auth.CSRFGuard, sso *oidc.Provider, probe ReadyProbe, opts Options) *API {
	if opts.LoginBurst <= 0 {
		opts.LoginBurst = 10
	}
	if opts.LoginPerSec <= 0 {
		opts.LoginPerSec = 5
	}
	if opts.Events == nil {
		opts.Events = stream.New()
	}
	a := &API{
		service: service,
		resolve: resolver,
		csrf:    csrf,
		sso:     sso,
		events:  opts.Events,
		probe:   probe,
		opts:    opts,
	}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	r.Use(LoggingJSON)
	r.Use(func(next http.Handler) http.Handler { return MaxBodyBytes(next, 1<<20) })

	r.Get("/healthz", a.handleHealthz)
	r.Get("/readyz", a.handleReadyz)
	r.Handle("/metrics", obs.Handler())

	r.Route("/v1/auth", func(r chi.Router) {
		// Credential-presenting endpoints are rate limited per client IP.
		r.Group(func(r chi.Router) {
			r.Use(func(next http.Handler) http.Handler {
				return RateLimit(next, opts.LoginBurst, opts.LoginPerSec)
			})
			r.Post("/login", a.handleLogin)
			r.Post("/refresh", a.handleRefresh)
		})

		if sso != nil {
			r.Get("/sso/start", a.handleSSOStart)
			r.Get("/sso/callback", a.handleSSOCallback)
		}

		// Everything below requires a resolved principal.
		r.Group(func(r chi.Router) {
			r.Use(a.withPrincipal)
			r.Post("/logout", a.handleLogout)
			r.Post("/password", a.handleChangePassword)
			r.Get("/profile", a.handleProfile)
			r.Post("/token", a.handleIssueTokens)
			r.Post("/apikeys", a.handleCreateAPIKey)
			r.Get("/apikeys", a.handleListAPIKeys)
			r.Delete("/apikeys/{id}", a.handleRevokeAPIKey)
			r.Get("/events", a.handleEvents)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(a.withPrincipal)
		r.Post("/v1/authz/decisions", a.handleDecision)
	})

	a.router = r
	return a
}

// Handler wraps the router with request metrics.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.router)
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "paperbase-auth",
		"version": a.opts.Version,
	})
}

func (a *API) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if a.probe != nil {
		if err := a.probe.Check(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func (a *API) handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var locked *auth.LockedError
	switch {
	case errors.As(err, &locked):
		seconds := int(locked.RetryAfter.Round(time.Second).Seconds())
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		payload := map[string]any{
			"error":               "account temporarily locked",
			"retry_after_seconds": seconds,
		}
		if rid := RequestIDFromContext(r.Context()); rid != "" {
			payload["request_id"] = rid
		}
		writeJSON(w, http.StatusTooManyRequests, payload)
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, auth.ErrAuthRequired):
		writeError(w, r, http.StatusUnauthorized, "authentication required")
	case errors.Is(err, auth.ErrAccountInactive):
		writeError(w, r, http.StatusForbidden, "account is deactivated")
	case errors.Is(err, auth.ErrServiceAccountRestricted):
		writeError(w, r, http.StatusForbidden, "service accounts cannot use this endpoint")
	case errors.Is(err, auth.ErrCsrfMismatch):
		writeError(w, r, http.StatusForbidden, "csrf token mismatch")
	case errors.Is(err, oidc.ErrStateMismatch):
		writeError(w, r, http.StatusBadRequest, "sso state mismatch")
	case errors.Is(err, oidc.ErrUpstreamUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, "identity provider unavailable")
	case errors.Is(err, oidc.ErrExchangeFailed):
		writeError(w, r, http.StatusUnauthorized, "sso login failed")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "resource not found")
	case errors.Is(err, auth.ErrAlreadyExists):
		writeError(w, r, http.StatusConflict, "resource already exists")
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
