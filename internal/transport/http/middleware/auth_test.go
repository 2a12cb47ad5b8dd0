package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kpiboard/internal/domain/identity"
	"kpiboard/internal/domain/workforce"
	"kpiboard/internal/platform/requestctx"
)

func TestAuthBindsCallerAndWorkspace(t *testing.T) {
	principal := identity.Principal{ID: "p1", Role: workforce.RoleOperator}
	spaces := &stubWorkspaces{ws: openWorkspace(t, principal)}
	info := &requestctx.Info{RequestID: "r1"}

	var got Caller
	handler := Auth(stubAuthenticator{token: "good", principal: principal}, spaces)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := GetCaller(r.Context())
		require.True(t, ok)
		got = caller
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/dashboard", nil)
	req = req.WithContext(requestctx.With(req.Context(), info))
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "session-1", got.SessionID)
	assert.Equal(t, "p1", got.Principal.ID)
	assert.False(t, got.IsAdmin())
	assert.Equal(t, []string{"session-1"}, spaces.opened)
	assert.False(t, spaces.expireAt.IsZero())
	assert.Equal(t, "p1", info.PrincipalID)
	assert.True(t, got.Workspace.Session.Visible())
}

func TestAuthRejectsMissingOrBadToken(t *testing.T) {
	spaces := &stubWorkspaces{}
	handler := Auth(stubAuthenticator{token: "good"}, spaces)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	for _, header := range []string{"", "Bearer bad", "Basic good", "good"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, header)
	}
	assert.Empty(t, spaces.opened)
}

func TestAuthMapsUnresolvedProfile(t *testing.T) {
	spaces := &stubWorkspaces{err: workforce.ErrProfileUnresolved}
	handler := Auth(stubAuthenticator{token: "good", principal: identity.Principal{ID: "p1"}}, spaces)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer good")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "profile_unresolved")
}

func TestRequireSupervisor(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	guarded := RequireSupervisor(ok)

	rec := httptest.NewRecorder()
	guarded.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	operator := identity.Principal{ID: "p1", Role: workforce.RoleOperator}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithCaller(req.Context(), Caller{Principal: operator, Workspace: openWorkspace(t, operator)}))
	rec = httptest.NewRecorder()
	guarded.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	admin := identity.Principal{ID: "adm", Role: workforce.RoleSupervisor}
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithCaller(req.Context(), Caller{Principal: admin, Workspace: openWorkspace(t, admin)}))
	rec = httptest.NewRecorder()
	guarded.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
