package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"kpiboard/internal/app/workspace"
	"kpiboard/internal/domain/identity"
	"kpiboard/internal/platform/logger"
	"kpiboard/internal/platform/requestctx"
	"kpiboard/internal/transport/http/api"
	"kpiboard/internal/transport/http/shared"
)

type ctxKey string

const ctxKeyCaller ctxKey = "caller"

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*identity.Claims, identity.Principal, error)
}

type Workspaces interface {
	Open(ctx context.Context, sessionID string, principal identity.Principal, expiresAt time.Time) (*workspace.Workspace, error)
}

// Caller is the authenticated session behind a request.
type Caller struct {
	SessionID string
	Principal identity.Principal
	Workspace *workspace.Workspace
}

func (c Caller) IsAdmin() bool {
	return c.Workspace != nil && c.Workspace.Session.IsAdmin()
}

// Auth requires a bearer token, resolves its workspace and marks the client
// active.
func Auth(authn Authenticator, spaces Workspaces) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", GetRequestID(r.Context()))
				return
			}
			claims, principal, err := authn.Authenticate(r.Context(), token)
			if err != nil {
				logger.From(r.Context()).Debug().Err(err).Msg("rejected access token")
				api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", GetRequestID(r.Context()))
				return
			}
			ws, err := spaces.Open(r.Context(), claims.SessionID(), principal, claims.Expiry())
			if err != nil {
				shared.FailError(w, r, err)
				return
			}
			ws.Session.Touch()

			requestctx.SetPrincipal(r.Context(), principal.ID, claims.SessionID())
			ctx := logger.WithPrincipal(r.Context(), principal.ID)
			ctx = context.WithValue(ctx, ctxKeyCaller, Caller{
				SessionID: claims.SessionID(),
				Principal: principal,
				Workspace: ws,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func GetCaller(ctx context.Context) (Caller, bool) {
	caller, ok := ctx.Value(ctxKeyCaller).(Caller)
	return caller, ok
}

// WithCaller binds a caller without going through Auth.
func WithCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, ctxKeyCaller, caller)
}

func BearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
