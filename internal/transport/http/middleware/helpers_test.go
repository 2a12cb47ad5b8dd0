package middleware

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"kpiboard/internal/app/workspace"
	"kpiboard/internal/domain/identity"
	"kpiboard/internal/domain/workforce"
)

type directory struct {
	op *workforce.Operator
}

func (d directory) OperatorByPrincipal(context.Context, string) (workforce.Operator, error) {
	if d.op == nil {
		return workforce.Operator{}, workforce.ErrOperatorNotFound
	}
	return *d.op, nil
}

func (d directory) OperatorByRegistration(context.Context, string) (workforce.Operator, error) {
	return workforce.Operator{}, workforce.ErrOperatorNotFound
}

func (d directory) LinkPrincipal(context.Context, string, string) error { return nil }

func openWorkspace(t *testing.T, principal identity.Principal) *workspace.Workspace {
	t.Helper()
	dir := directory{}
	if !principal.Role.IsSupervisor() {
		dir.op = &workforce.Operator{Registration: "19186", Name: "Ana", UserID: principal.ID}
	}
	adapter := identity.NewAdapter(nil, dir, nil, identity.AdapterOptions{JWTSecret: "secret", Logger: zerolog.Nop()})
	session := identity.NewSession("s-"+principal.ID, time.Minute)
	if err := session.Open(context.Background(), adapter, principal); err != nil {
		t.Fatalf("open session: %v", err)
	}
	return &workspace.Workspace{Session: session}
}

type stubAuthenticator struct {
	token     string
	principal identity.Principal
}

func (s stubAuthenticator) Authenticate(_ context.Context, token string) (*identity.Claims, identity.Principal, error) {
	if token != s.token {
		return nil, identity.Principal{}, workforce.ErrUnauthenticated
	}
	claims := &identity.Claims{PrincipalID: s.principal.ID}
	claims.ID = "session-1"
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Hour))
	return claims, s.principal, nil
}

type stubWorkspaces struct {
	ws       *workspace.Workspace
	err      error
	opened   []string
	expireAt time.Time
}

func (s *stubWorkspaces) Open(_ context.Context, sessionID string, _ identity.Principal, expiresAt time.Time) (*workspace.Workspace, error) {
	s.opened = append(s.opened, sessionID)
	s.expireAt = expiresAt
	return s.ws, s.err
}

// memoryLimiter is a fixed-window counter without expiry.
type memoryLimiter struct {
	mu     sync.Mutex
	counts map[string]int64
	scopes []string
	err    error
}

func newMemoryLimiter() *memoryLimiter {
	return &memoryLimiter{counts: map[string]int64{}}
}

func (m *memoryLimiter) FixedWindowAllow(_ context.Context, scope string, limit int64, _ time.Duration) (bool, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, 0, m.err
	}
	m.scopes = append(m.scopes, scope)
	m.counts[scope]++
	return m.counts[scope] <= limit, m.counts[scope], nil
}
