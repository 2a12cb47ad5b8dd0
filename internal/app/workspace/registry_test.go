package workspace

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kpiboard/internal/domain/identity"
	"kpiboard/internal/domain/roster"
	"kpiboard/internal/domain/workforce"
	"kpiboard/internal/platform/jobs"
)

// table emulates the operators table. Views scoped to a non-admin principal
// only see the row linked to it.
type table struct {
	mu    sync.Mutex
	rows  map[string]workforce.Operator
	links int
}

func newTable(ops ...workforce.Operator) *table {
	t := &table{rows: map[string]workforce.Operator{}}
	for _, op := range ops {
		t.rows[op.Registration] = op
	}
	return t
}

func (t *table) OperatorByPrincipal(_ context.Context, principalID string) (workforce.Operator, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, op := range t.rows {
		if op.UserID == principalID {
			return op, nil
		}
	}
	return workforce.Operator{}, workforce.ErrOperatorNotFound
}

func (t *table) OperatorByRegistration(_ context.Context, registration string) (workforce.Operator, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	op, ok := t.rows[registration]
	if !ok {
		return workforce.Operator{}, workforce.ErrOperatorNotFound
	}
	return op, nil
}

func (t *table) LinkPrincipal(_ context.Context, registration, principalID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	op, ok := t.rows[registration]
	if !ok || (op.UserID != "" && op.UserID != principalID) {
		return workforce.ErrOperatorNotFound
	}
	op.UserID = principalID
	t.rows[registration] = op
	t.links++
	return nil
}

type view struct {
	*table
	principalID string
	admin       bool
}

func (v view) visible(op workforce.Operator) bool {
	return v.admin || op.UserID == v.principalID
}

func (v view) ListOperators(context.Context) ([]workforce.Operator, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := []workforce.Operator{}
	for _, op := range v.rows {
		if v.visible(op) {
			out = append(out, op)
		}
	}
	workforce.SortByName(out)
	return out, nil
}

func (v view) GetOperator(_ context.Context, registration string) (workforce.Operator, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	op, ok := v.rows[registration]
	if !ok || !v.visible(op) {
		return workforce.Operator{}, workforce.ErrOperatorNotFound
	}
	return op, nil
}

func (v view) UpsertOperators(_ context.Context, ops []workforce.Operator) (int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, op := range ops {
		v.rows[op.Registration] = op
	}
	return int64(len(ops)), nil
}

func (v view) UpsertOperator(ctx context.Context, op workforce.Operator) error {
	_, err := v.UpsertOperators(ctx, []workforce.Operator{op})
	return err
}

func (v view) UpdateOwnOperator(ctx context.Context, principalID string, op workforce.Operator) (int64, error) {
	return v.UpsertOperators(ctx, []workforce.Operator{op})
}

func (v view) InsertOperator(ctx context.Context, op workforce.Operator) error {
	return v.UpsertOperator(ctx, op)
}

func (v view) DeleteOperator(_ context.Context, registration string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.rows, registration)
	return nil
}

func (v view) LoadGoals(context.Context) (*workforce.TeamGoals, error) { return nil, nil }

func (v view) SaveGoals(context.Context, workforce.TeamGoals) error { return nil }

type fakeScheduler struct {
	mu      sync.Mutex
	jobs    map[string]func(context.Context) error
	removed []string
}

func (s *fakeScheduler) Every(id, jobType string, _ time.Duration, run func(context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if jobType != jobs.JobPoll {
		return nil
	}
	s.jobs[id] = run
	return nil
}

func (s *fakeScheduler) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	s.removed = append(s.removed, id)
}

func (s *fakeScheduler) job(id string) func(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

type countingMetrics struct {
	mu     sync.Mutex
	open   int
	events int
}

func (m *countingMetrics) SyncEvent(string, string) {
	m.mu.Lock()
	m.events++
	m.mu.Unlock()
}
func (m *countingMetrics) WorkspaceOpened() { m.mu.Lock(); m.open++; m.mu.Unlock() }
func (m *countingMetrics) WorkspaceClosed() { m.mu.Lock(); m.open--; m.mu.Unlock() }

type harness struct {
	table     *table
	hub       *roster.Hub
	scheduler *fakeScheduler
	metrics   *countingMetrics
	registry  *Registry
}

func newHarness(t *testing.T, ops ...workforce.Operator) *harness {
	t.Helper()
	h := &harness{
		table:     newTable(ops...),
		hub:       roster.NewHub(nil, zerolog.Nop()),
		scheduler: &fakeScheduler{jobs: map[string]func(context.Context) error{}},
		metrics:   &countingMetrics{},
	}
	adapter := identity.NewAdapter(nil, h.table, nil, identity.AdapterOptions{JWTSecret: "secret", Logger: zerolog.Nop()})
	backends := func(principalID string, role workforce.Role) roster.Backend {
		return view{table: h.table, principalID: principalID, admin: role.IsSupervisor()}
	}
	h.registry = NewRegistry(adapter, backends, h.hub, h.scheduler, Options{
		PollInterval: time.Second,
		IdleAfter:    time.Minute,
		Metrics:      h.metrics,
		Logger:       zerolog.Nop(),
	})
	t.Cleanup(h.registry.Shutdown)
	return h
}

func operator(registration, name, userID string) workforce.Operator {
	return workforce.Normalize(workforce.Operator{Registration: registration, Name: name, UserID: userID, Active: true})
}

func TestOpenSelfHealsLinkAndLoadsOwnRecord(t *testing.T) {
	h := newHarness(t,
		operator("19186", "Ana", "other"),
		operator("19195", "Bruno", ""),
	)
	principal := identity.Principal{ID: "p-19195", Email: "op19195@example.com", Role: workforce.RoleOperator}

	ws, err := h.registry.Open(context.Background(), "s1", principal, time.Time{})
	require.NoError(t, err)

	assert.Equal(t, 1, h.table.links)
	snapshot := ws.Roster.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, "19195", snapshot[0].Registration)
	assert.Equal(t, "p-19195", snapshot[0].UserID)
	assert.Equal(t, "19195", ws.Session.Registration())
	assert.False(t, ws.Session.IsAdmin())

	again, err := h.registry.Open(context.Background(), "s1", principal, time.Time{})
	require.NoError(t, err)
	assert.Same(t, ws, again)
	assert.Equal(t, 1, h.table.links)
}

func TestOpenUnresolvedOperatorFails(t *testing.T) {
	h := newHarness(t)
	_, err := h.registry.Open(context.Background(), "s1", identity.Principal{ID: "p1", Email: "someone@elsewhere.org"}, time.Time{})

	assert.ErrorIs(t, err, workforce.ErrProfileUnresolved)
	assert.Equal(t, 0, h.registry.Len())
}

func TestSupervisorSeesEveryone(t *testing.T) {
	h := newHarness(t, operator("19186", "Ana", ""), operator("19195", "Bruno", ""))
	ws, err := h.registry.Open(context.Background(), "admin", identity.Principal{ID: "adm", Email: "admin@central.local", Role: workforce.RoleSupervisor}, time.Time{})
	require.NoError(t, err)

	assert.True(t, ws.Session.IsAdmin())
	assert.Len(t, ws.Roster.Snapshot(), 2)
	assert.Equal(t, 1, h.metrics.open)
	assert.NotNil(t, h.scheduler.job("admin"))
}

func TestWorkspaceFollowsChangeFeed(t *testing.T) {
	h := newHarness(t, operator("19186", "Ana", ""), operator("19195", "Bruno", ""), operator("19336", "Carla", ""))
	ws, err := h.registry.Open(context.Background(), "admin", identity.Principal{ID: "adm", Role: workforce.RoleSupervisor}, time.Time{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	h.hub.Broadcast(roster.ChangeEvent{Type: roster.EventDelete, Registration: "19195"})

	require.Eventually(t, func() bool { return len(ws.Roster.Snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	names := []string{}
	for _, op := range ws.Roster.Snapshot() {
		names = append(names, op.Name)
	}
	assert.Equal(t, []string{"Ana", "Carla"}, names)
}

func TestScheduledPollPicksUpBackendChanges(t *testing.T) {
	h := newHarness(t, operator("19186", "Ana", ""))
	ws, err := h.registry.Open(context.Background(), "admin", identity.Principal{ID: "adm", Role: workforce.RoleSupervisor}, time.Time{})
	require.NoError(t, err)

	h.table.mu.Lock()
	h.table.rows["19195"] = operator("19195", "Bruno", "")
	h.table.mu.Unlock()

	require.NoError(t, h.scheduler.job("admin")(context.Background()))
	assert.Len(t, ws.Roster.Snapshot(), 2)
}

func TestCloseTearsDownWorkspace(t *testing.T) {
	h := newHarness(t, operator("19186", "Ana", ""))
	ws, err := h.registry.Open(context.Background(), "admin", identity.Principal{ID: "adm", Role: workforce.RoleSupervisor}, time.Time{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	h.registry.Close("admin")
	h.registry.Close("admin")

	_, ok := h.registry.Get("admin")
	assert.False(t, ok)
	_, ok = ws.Session.Principal()
	assert.False(t, ok)
	assert.Empty(t, ws.Roster.Snapshot())
	assert.Equal(t, []string{"admin"}, h.scheduler.removed)
	assert.Equal(t, 0, h.metrics.open)
	require.Eventually(t, func() bool { return h.hub.Subscribers() == 0 }, time.Second, 5*time.Millisecond)
}

func TestSweepClosesExpiredAndIdle(t *testing.T) {
	h := newHarness(t, operator("19186", "Ana", ""))
	admin := identity.Principal{ID: "adm", Role: workforce.RoleSupervisor}
	now := time.Now()

	_, err := h.registry.Open(context.Background(), "expired", admin, now.Add(-time.Minute))
	require.NoError(t, err)
	_, err = h.registry.Open(context.Background(), "fresh", admin, now.Add(time.Hour))
	require.NoError(t, err)

	require.NoError(t, h.registry.Sweep(context.Background()))
	_, ok := h.registry.Get("expired")
	assert.False(t, ok)
	_, ok = h.registry.Get("fresh")
	assert.True(t, ok)

	h.registry.now = func() time.Time { return now.Add(2 * time.Hour) }
	require.NoError(t, h.registry.Sweep(context.Background()))
	assert.Equal(t, 0, h.registry.Len())
}
