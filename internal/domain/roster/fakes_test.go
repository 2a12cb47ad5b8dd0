package roster

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"kpiboard/internal/domain/identity"
	"kpiboard/internal/domain/workforce"
)

var errBackendDown = errors.New("connection refused")

type fakeBackend struct {
	mu sync.Mutex

	rows  map[string]workforce.Operator
	goals *workforce.TeamGoals

	listErr   error
	getErr    error
	upsertErr error
	// shortWrite makes bulk upserts report one row fewer than submitted.
	shortWrite bool
	insertErr  error
	deleteErr  error
	goalsErr   error
	saveErr    error

	upserts     int
	ownUpdates  int
	deletes     []string
	links       map[string]string
	listCalls   int
	lastUpserts []workforce.Operator
}

func newFakeBackend(ops ...workforce.Operator) *fakeBackend {
	b := &fakeBackend{rows: map[string]workforce.Operator{}, links: map[string]string{}}
	for _, op := range ops {
		b.rows[op.Registration] = workforce.Normalize(op.Clone())
	}
	return b
}

func (b *fakeBackend) ListOperators(context.Context) ([]workforce.Operator, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listCalls++
	if b.listErr != nil {
		return nil, b.listErr
	}
	out := make([]workforce.Operator, 0, len(b.rows))
	for _, op := range b.rows {
		out = append(out, op.Clone())
	}
	workforce.SortByName(out)
	return out, nil
}

func (b *fakeBackend) GetOperator(_ context.Context, registration string) (workforce.Operator, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.getErr != nil {
		return workforce.Operator{}, b.getErr
	}
	op, ok := b.rows[registration]
	if !ok {
		return workforce.Operator{}, workforce.ErrOperatorNotFound
	}
	return op.Clone(), nil
}

func (b *fakeBackend) UpsertOperators(_ context.Context, ops []workforce.Operator) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.upserts++
	if b.upsertErr != nil {
		return 0, b.upsertErr
	}
	b.lastUpserts = workforce.CloneAll(ops)
	for _, op := range ops {
		b.rows[op.Registration] = op.Clone()
	}
	n := int64(len(ops))
	if b.shortWrite {
		n--
	}
	return n, nil
}

func (b *fakeBackend) UpsertOperator(ctx context.Context, op workforce.Operator) error {
	_, err := b.UpsertOperators(ctx, []workforce.Operator{op})
	return err
}

func (b *fakeBackend) UpdateOwnOperator(_ context.Context, principalID string, op workforce.Operator) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ownUpdates++
	if b.upsertErr != nil {
		return 0, b.upsertErr
	}
	current, ok := b.rows[op.Registration]
	if !ok || current.UserID != principalID {
		return 0, nil
	}
	b.rows[op.Registration] = op.Clone()
	return 1, nil
}

func (b *fakeBackend) InsertOperator(_ context.Context, op workforce.Operator) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.insertErr != nil {
		return b.insertErr
	}
	b.rows[op.Registration] = op.Clone()
	return nil
}

func (b *fakeBackend) DeleteOperator(_ context.Context, registration string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.deleteErr != nil {
		return b.deleteErr
	}
	b.deletes = append(b.deletes, registration)
	delete(b.rows, registration)
	return nil
}

func (b *fakeBackend) LinkPrincipal(_ context.Context, registration, principalID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	op, ok := b.rows[registration]
	if !ok {
		return workforce.ErrOperatorNotFound
	}
	op.UserID = principalID
	b.rows[registration] = op
	b.links[registration] = principalID
	return nil
}

func (b *fakeBackend) LoadGoals(context.Context) (*workforce.TeamGoals, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.goalsErr != nil {
		return nil, b.goalsErr
	}
	return b.goals, nil
}

func (b *fakeBackend) SaveGoals(_ context.Context, goals workforce.TeamGoals) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.saveErr != nil {
		return b.saveErr
	}
	b.goals = &goals
	return nil
}

func (b *fakeBackend) set(fn func(*fakeBackend)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b)
}

type fakeCaller struct {
	principal identity.Principal
	profile   *workforce.Operator
	admin     bool
	hidden    bool
}

func (c *fakeCaller) Principal() (identity.Principal, bool) {
	return c.principal, c.principal.ID != ""
}

func (c *fakeCaller) Profile() (workforce.Operator, bool) {
	if c.profile == nil {
		return workforce.Operator{}, false
	}
	return c.profile.Clone(), true
}

func (c *fakeCaller) IsAdmin() bool { return c.admin }

func (c *fakeCaller) Visible() bool { return !c.hidden }

type recordingMetrics struct {
	mu     sync.Mutex
	events []string
}

func (m *recordingMetrics) SyncEvent(source, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, source+":"+outcome)
}

func supervisor() *fakeCaller {
	return &fakeCaller{principal: identity.Principal{ID: "sup-1", Email: "chefe@example.com"}, admin: true}
}

func operatorCaller(principalID string, profile workforce.Operator) *fakeCaller {
	return &fakeCaller{principal: identity.Principal{ID: principalID}, profile: &profile}
}

func newTestService(b Backend, c Caller) *Service {
	return NewService(b, c, Options{Logger: zerolog.Nop()})
}

func sampleOperator(registration, name string) workforce.Operator {
	return workforce.Normalize(workforce.Operator{
		Registration:  registration,
		Name:          name,
		AdmissionDate: "05/10/2024",
		Role:          workforce.DefaultOperatorRole,
		LinkType:      workforce.LinkTypeEfetivo,
		CostCenter:    "CENTRAL 156",
		WorkMode:      workforce.WorkModeHomeOffice,
		BirthDate:     "01/01/1990",
		Active:        true,
	})
}

func threeOperators() []workforce.Operator {
	return []workforce.Operator{
		sampleOperator("19186", "Ana"),
		sampleOperator("19195", "Bruno"),
		sampleOperator("19336", "Carla"),
	}
}
