package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"paperbase.org/internal/audit"
	"paperbase.org/internal/auth"
)

type createAPIKeyRequest struct {
	Name      string     `json:"name"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type apiKeyResponse struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Prefix     string     `json:"prefix"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
}

type createAPIKeyResponse struct {
	apiKeyResponse
	// Key is the full raw key, returned exactly once at creation.
	Key string `json:"key"`
}

func (a *API) handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req createAPIKeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, r, http.StatusBadRequest, "name is required")
		return
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(time.Now()) {
		writeError(w, r, http.StatusBadRequest, "expires_at must be in the future")
		return
	}

	p := principal(r)
	key, raw, err := a.service.APIKeys().Issue(r.Context(), p.User, name, req.ExpiresAt)
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.apikey.created", map[string]any{
		"key_id": key.ID,
		"prefix": key.Prefix,
		"name":   key.Name,
	})
	writeJSON(w, http.StatusCreated, createAPIKeyResponse{
		apiKeyResponse: toAPIKeyResponse(key),
		Key:            raw,
	})
}

func (a *API) handleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	keys, err := a.service.APIKeys().ListByOwner(r.Context(), p.User.ID)
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	items := make([]apiKeyResponse, 0, len(keys))
	for _, k := range keys {
		items = append(items, toAPIKeyResponse(k))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleRevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p := principal(r)

	key, err := a.service.APIKeys().Find(r.Context(), id)
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	// Owners manage only their own keys; a foreign id looks absent.
	if key.OwnerID != p.User.ID {
		a.handleAuthError(w, r, auth.ErrNotFound)
		return
	}

	if err := a.service.APIKeys().Revoke(r.Context(), key); err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.apikey.revoked", map[string]any{
		"key_id": key.ID,
		"prefix": key.Prefix,
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "revoked"})
}

func toAPIKeyResponse(k *auth.APIKey) apiKeyResponse {
	return apiKeyResponse{
		ID:         k.ID,
		Name:       k.Name,
		Prefix:     k.Prefix,
		CreatedAt:  k.CreatedAt,
		ExpiresAt:  k.ExpiresAt,
		RevokedAt:  k.RevokedAt,
		LastSeenAt: k.LastSeenAt,
	}
}
