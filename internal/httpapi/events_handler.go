package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"paperbase.org/internal/authz"
)

// writeForbidden reports a denied authorization decision. The body names
// the missing permission keys and the scope so the caller can tell what
// grant it lacks.
func writeForbidden(w http.ResponseWriter, r *http.Request, d authz.Decision) {
	missing := d.Missing
	if missing == nil {
		missing = []string{}
	}
	payload := map[string]any{
		"error":   "insufficient permissions",
		"missing": missing,
		"scope":   string(d.Scope),
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, http.StatusForbidden, payload)
}

// handleEvents streams security events as server-sent events. Restricted to
// principals holding Admin.System.Read globally.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	decision, err := a.service.Authorize(r.Context(), principal(r), []string{authz.PermAdminSystemRead}, authz.ScopeGlobal, "")
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	if !decision.IsAuthorized() {
		writeForbidden(w, r, decision)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := a.events.Subscribe(r.Context())
	for evt := range events {
		data, err := json.Marshal(evt)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Name, data)
		flusher.Flush()
	}
}
