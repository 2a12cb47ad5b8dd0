package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"kpiboard/internal/domain/audit"
	"kpiboard/internal/platform/logger"
)

const auditTimeout = 2 * time.Second

// AuditRecorder persists audit events.
type AuditRecorder interface {
	Record(ctx context.Context, evt audit.Event) error
}

// session plumbing is not a change to team data
var unauditedEntities = map[string]bool{"auth": true, "sync": true}

// Audit records every successful mutation made by a supervisor session. It
// must run after Auth so the caller is known.
func Audit(rec AuditRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if rec == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}
			recorder := record(w)
			next.ServeHTTP(recorder, r)

			if recorder.status >= http.StatusBadRequest {
				return
			}
			caller, ok := GetCaller(r.Context())
			if !ok || !caller.IsAdmin() {
				return
			}
			route := routePattern(r)
			entity := auditEntity(route)
			if entity == "" || unauditedEntities[entity] {
				return
			}
			evt := audit.Event{
				ActorID:    caller.Principal.ID,
				Action:     r.Method + " " + normalizedAPIPath(route),
				EntityType: entity,
				EntityID:   chi.URLParam(r, "registration"),
				RequestID:  GetRequestID(r.Context()),
				IP:         strings.TrimPrefix(clientIPKey(r), "ip:"),
				Status:     recorder.status,
			}
			ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), auditTimeout)
			defer cancel()
			if err := rec.Record(ctx, evt); err != nil {
				logger.From(r.Context()).Warn().Err(err).Str("action", evt.Action).Msg("audit record failed")
			}
		})
	}
}

// auditEntity is the first segment of the matched route below the API prefix.
func auditEntity(route string) string {
	if route == "" {
		return ""
	}
	first, _, _ := strings.Cut(strings.TrimPrefix(normalizedAPIPath(route), "/"), "/")
	return first
}
