// Package handlertest provides in-memory identity and operator backends for
// HTTP handler tests.
package handlertest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"kpiboard/internal/app/workspace"
	"kpiboard/internal/domain/identity"
	"kpiboard/internal/domain/roster"
	"kpiboard/internal/domain/workforce"
	"kpiboard/internal/transport/http/api"
	"kpiboard/internal/transport/http/middleware"
)

const Secret = "handler-test-secret"

type account struct {
	principal identity.Principal
	password  string
}

// Provider is an identity provider keyed by address.
type Provider struct {
	mu       sync.Mutex
	accounts map[string]account
}

func (p *Provider) Add(principal identity.Principal, password string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accounts[principal.Email] = account{principal: principal, password: password}
}

func (p *Provider) SignInWithPassword(_ context.Context, address, password string) (identity.Principal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	acc, ok := p.accounts[address]
	if !ok || acc.password != password {
		return identity.Principal{}, workforce.ErrInvalidCredentials
	}
	return acc.principal, nil
}

func (p *Provider) SignUp(_ context.Context, address, password string, role workforce.Role, metadata map[string]string) (identity.Principal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.accounts[address]; exists {
		return identity.Principal{}, workforce.ErrAccountExists
	}
	principal := identity.Principal{ID: uuid.NewString(), Email: address, Role: role, Metadata: metadata}
	p.accounts[address] = account{principal: principal, password: password}
	return principal, nil
}

func (p *Provider) PrincipalByID(_ context.Context, id string) (identity.Principal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, acc := range p.accounts {
		if acc.principal.ID == id {
			return acc.principal, nil
		}
	}
	return identity.Principal{}, workforce.ErrUnauthenticated
}

type Revocations struct {
	mu      sync.Mutex
	revoked map[string]bool
}

func (r *Revocations) RevokeSession(_ context.Context, sessionID string, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revoked[sessionID] = true
	return nil
}

// Revoked counts revoked sessions.
func (r *Revocations) Revoked() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.revoked)
}

func (r *Revocations) SessionRevoked(_ context.Context, sessionID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.revoked[sessionID], nil
}

// Table emulates the operators and config tables. Views for non-supervisors
// only see the row linked to their principal.
type Table struct {
	mu        sync.Mutex
	rows      map[string]workforce.Operator
	goals     *workforce.TeamGoals
	ReadErr   error
	WriteErr  error
	Links     int
	GoalSaves int
}

func (t *Table) Put(op workforce.Operator) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows[op.Registration] = workforce.Normalize(op)
}

func (t *Table) Row(registration string) (workforce.Operator, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	op, ok := t.rows[registration]
	return op, ok
}

func (t *Table) OperatorByPrincipal(_ context.Context, principalID string) (workforce.Operator, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, op := range t.rows {
		if op.UserID != "" && op.UserID == principalID {
			return op, nil
		}
	}
	return workforce.Operator{}, workforce.ErrOperatorNotFound
}

func (t *Table) OperatorByRegistration(_ context.Context, registration string) (workforce.Operator, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	op, ok := t.rows[registration]
	if !ok {
		return workforce.Operator{}, workforce.ErrOperatorNotFound
	}
	return op, nil
}

func (t *Table) LinkPrincipal(_ context.Context, registration, principalID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	op, ok := t.rows[registration]
	if !ok || (op.UserID != "" && op.UserID != principalID) {
		return workforce.ErrOperatorNotFound
	}
	op.UserID = principalID
	t.rows[registration] = op
	t.Links++
	return nil
}

// View is the table as seen by one principal.
type View struct {
	*Table
	PrincipalID string
	Admin       bool
}

func (v View) visible(op workforce.Operator) bool {
	return v.Admin || (op.UserID != "" && op.UserID == v.PrincipalID)
}

func (v View) ListOperators(context.Context) ([]workforce.Operator, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.ReadErr != nil {
		return nil, v.ReadErr
	}
	out := []workforce.Operator{}
	for _, op := range v.rows {
		if v.visible(op) {
			out = append(out, op)
		}
	}
	workforce.SortByName(out)
	return out, nil
}

func (v View) GetOperator(_ context.Context, registration string) (workforce.Operator, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	op, ok := v.rows[registration]
	if !ok || !v.visible(op) {
		return workforce.Operator{}, workforce.ErrOperatorNotFound
	}
	return op, nil
}

func (v View) UpsertOperators(_ context.Context, ops []workforce.Operator) (int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.WriteErr != nil {
		return 0, v.WriteErr
	}
	var n int64
	for _, op := range ops {
		if existing, ok := v.rows[op.Registration]; ok && !v.visible(existing) {
			continue
		}
		v.rows[op.Registration] = op
		n++
	}
	return n, nil
}

func (v View) UpsertOperator(ctx context.Context, op workforce.Operator) error {
	_, err := v.UpsertOperators(ctx, []workforce.Operator{op})
	return err
}

func (v View) UpdateOwnOperator(_ context.Context, principalID string, op workforce.Operator) (int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.WriteErr != nil {
		return 0, v.WriteErr
	}
	existing, ok := v.rows[op.Registration]
	if !ok || existing.UserID != principalID {
		return 0, nil
	}
	v.rows[op.Registration] = op
	return 1, nil
}

func (v View) InsertOperator(_ context.Context, op workforce.Operator) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.WriteErr != nil {
		return v.WriteErr
	}
	if _, exists := v.rows[op.Registration]; exists {
		return workforce.ErrDuplicateRegistration
	}
	v.rows[op.Registration] = op
	return nil
}

func (v View) DeleteOperator(_ context.Context, registration string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.WriteErr != nil {
		return v.WriteErr
	}
	if _, ok := v.rows[registration]; !ok {
		return workforce.ErrOperatorNotFound
	}
	delete(v.rows, registration)
	return nil
}

func (v View) LoadGoals(context.Context) (*workforce.TeamGoals, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.goals == nil {
		return nil, nil
	}
	g := *v.goals
	return &g, nil
}

func (v View) SaveGoals(_ context.Context, goals workforce.TeamGoals) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.WriteErr != nil {
		return v.WriteErr
	}
	v.goals = &goals
	v.GoalSaves++
	return nil
}

// Env wires a real identity adapter and workspace registry to the fakes.
type Env struct {
	Provider    *Provider
	Revocations *Revocations
	Table       *Table
	Adapter     *identity.Adapter
	Registry    *workspace.Registry
}

func New(t *testing.T, ops ...workforce.Operator) *Env {
	t.Helper()
	env := &Env{
		Provider:    &Provider{accounts: map[string]account{}},
		Revocations: &Revocations{revoked: map[string]bool{}},
		Table:       &Table{rows: map[string]workforce.Operator{}},
	}
	for _, op := range ops {
		env.Table.Put(op)
	}
	env.Adapter = identity.NewAdapter(env.Provider, env.Table, env.Revocations, identity.AdapterOptions{
		JWTSecret: Secret,
		TokenTTL:  time.Hour,
		Logger:    zerolog.Nop(),
	})
	backends := func(principalID string, role workforce.Role) roster.Backend {
		return View{Table: env.Table, PrincipalID: principalID, Admin: role.IsSupervisor()}
	}
	env.Registry = workspace.NewRegistry(env.Adapter, backends, nil, nil, workspace.Options{
		IdleAfter: time.Minute,
		Logger:    zerolog.Nop(),
	})
	t.Cleanup(env.Registry.Shutdown)
	return env
}

var (
	Supervisor = identity.Principal{ID: "sup-1", Email: "supervisor@central156.local", Role: workforce.RoleSupervisor, Metadata: map[string]string{"name": "Marina Supervisora"}}
)

// OperatorPrincipal is the principal provisioned for a registration.
func OperatorPrincipal(registration string) identity.Principal {
	return identity.Principal{
		ID:       "p-" + registration,
		Email:    identity.DeriveSystemAddress(registration),
		Role:     workforce.RoleOperator,
		Metadata: map[string]string{identity.MetadataRegistration: registration},
	}
}

// Login opens a workspace for principal and returns the caller bound by the
// auth middleware.
func (e *Env) Login(t *testing.T, principal identity.Principal) middleware.Caller {
	t.Helper()
	sessionID := uuid.NewString()
	ws, err := e.Registry.Open(context.Background(), sessionID, principal, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("opening workspace for %s: %v", principal.ID, err)
	}
	return middleware.Caller{SessionID: sessionID, Principal: principal, Workspace: ws}
}

// Request builds a request carrying caller and the chi URL params given as
// key/value pairs.
func Request(t *testing.T, method, target string, body any, caller *middleware.Caller, params ...string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	ctx := req.Context()
	if len(params) > 0 {
		rctx := chi.NewRouteContext()
		for i := 0; i+1 < len(params); i += 2 {
			rctx.URLParams.Add(params[i], params[i+1])
		}
		ctx = context.WithValue(ctx, chi.RouteCtxKey, rctx)
	}
	if caller != nil {
		ctx = middleware.WithCaller(ctx, *caller)
	}
	return req.WithContext(ctx)
}

// Envelope decodes a response envelope, unmarshalling data into dest when
// dest is not nil.
func Envelope(t *testing.T, rec *httptest.ResponseRecorder, dest any) api.Envelope {
	t.Helper()
	var raw struct {
		api.Envelope
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
		t.Fatalf("decoding envelope %q: %v", rec.Body.String(), err)
	}
	if dest != nil && len(raw.Data) > 0 {
		if err := json.Unmarshal(raw.Data, dest); err != nil {
			t.Fatalf("decoding data %s: %v", raw.Data, err)
		}
	}
	return raw.Envelope
}

// Registrations lists registrations in collection order.
func Registrations(ops []workforce.Operator) []string {
	out := make([]string, 0, len(ops))
	for _, op := range ops {
		out = append(out, op.Registration)
	}
	return out
}
