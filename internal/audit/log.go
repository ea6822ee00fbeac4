// Package audit emits structured audit events for security-relevant
// actions: logins, lockouts, session and API key lifecycle, SSO flows.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"paperbase.org/internal/auth"
	"paperbase.org/internal/obs"
	"paperbase.org/internal/stream"
)

var hub atomic.Pointer[stream.Hub]

// Attach routes every audit event to the hub as well as the log. Call once
// at startup, before serving.
func Attach(h *stream.Hub) {
	hub.Store(h)
}

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// requestIDFromContext extracts the audit request id from context if present.
func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit log entry enriched with request and principal
// context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	now := time.Now().UTC()
	entry := map[string]any{
		"ts":    now.Format(time.RFC3339Nano),
		"type":  "audit",
		"event": event,
	}
	evt := stream.Event{Name: event, Timestamp: now}
	if rid := requestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
		evt.RequestID = rid
	}
	if p, ok := auth.PrincipalFromContext(ctx); ok && p.User != nil {
		entry["user_id"] = p.User.ID
		entry["auth_method"] = p.Method
		evt.UserID = p.User.ID
		evt.AuthMethod = p.Method
	}
	copyFields := make(map[string]any, len(fields))
	for k, v := range fields {
		copyFields[k] = v
	}
	entry["fields"] = copyFields
	evt.Fields = copyFields

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	if h := hub.Load(); h != nil {
		h.Publish(evt)
	}
	return nil
}
