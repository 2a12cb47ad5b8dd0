package roster

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"kpiboard/internal/domain/workforce"
)

// Source names what triggered a reconciliation.
type Source string

const (
	SourcePush     Source = "push"
	SourcePoll     Source = "poll"
	SourceLoad     Source = "load"
	SourceMutation Source = "mutation"
)

// Service owns one session's in-memory operators and goals. Every state
// transition happens under mu; backend calls never do.
type Service struct {
	backend  Backend
	caller   Caller
	timeout  time.Duration
	fallback bool
	metrics  Metrics
	log      zerolog.Logger

	mu        sync.Mutex
	operators []workforce.Operator
	goals     workforce.TeamGoals
	loading   bool
	lastError *SyncError
}

type Options struct {
	BackendTimeout time.Duration
	// FallbackRoster substitutes the static roster when the backend cannot be
	// read at all.
	FallbackRoster bool
	Metrics        Metrics
	Logger         zerolog.Logger
}

func NewService(backend Backend, caller Caller, opts Options) *Service {
	if opts.BackendTimeout <= 0 {
		opts.BackendTimeout = 10 * time.Second
	}
	return &Service{
		backend:   backend,
		caller:    caller,
		timeout:   opts.BackendTimeout,
		fallback:  opts.FallbackRoster,
		metrics:   opts.Metrics,
		log:       opts.Logger.With().Str("component", "roster").Logger(),
		operators: []workforce.Operator{},
		goals:     workforce.DefaultGoals(),
	}
}

// Snapshot returns a deep copy of the current collection.
func (s *Service) Snapshot() []workforce.Operator {
	s.mu.Lock()
	defer s.mu.Unlock()
	return workforce.CloneAll(s.operators)
}

// Operator returns a copy of one record.
func (s *Service) Operator(registration string) (workforce.Operator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := workforce.Find(s.operators, registration)
	if idx < 0 {
		return workforce.Operator{}, workforce.ErrOperatorNotFound
	}
	return s.operators[idx].Clone(), nil
}

func (s *Service) Goals() workforce.TeamGoals {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.goals
}

func (s *Service) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// LastError is the persistent classified failure of the last load, if any.
func (s *Service) LastError() *SyncError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// Reset drops all state. Called when the owning session closes.
func (s *Service) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.operators = []workforce.Operator{}
	s.goals = workforce.DefaultGoals()
	s.loading = false
	s.lastError = nil
}

func (s *Service) backendCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Service) record(source Source, outcome string) {
	if s.metrics != nil {
		s.metrics.SyncEvent(string(source), outcome)
	}
}

// Load fetches the permitted operators and the goals row. Read failures are
// classified into LastError; policy and table errors keep the current state,
// anything else substitutes the fallback roster when enabled.
func (s *Service) Load(ctx context.Context) error {
	if _, ok := s.caller.Principal(); !ok {
		return workforce.ErrUnauthenticated
	}

	s.mu.Lock()
	s.loading = true
	s.lastError = nil
	s.mu.Unlock()

	var (
		ops      []workforce.Operator
		opsErr   error
		goals    *workforce.TeamGoals
		goalsErr error
		g        errgroup.Group
	)
	g.Go(func() error {
		ctx, cancel := s.backendCtx(ctx)
		defer cancel()
		ops, opsErr = s.backend.ListOperators(ctx)
		return nil
	})
	g.Go(func() error {
		ctx, cancel := s.backendCtx(ctx)
		defer cancel()
		goals, goalsErr = s.backend.LoadGoals(ctx)
		return nil
	})
	_ = g.Wait()

	if goalsErr != nil {
		s.log.Warn().Err(goalsErr).Msg("loading goals failed, keeping current goals")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false

	if goalsErr == nil && goals != nil {
		s.goals = *goals
	}

	if opsErr == nil {
		loaded := s.visibleSet(workforce.NormalizeAll(ops))
		if loaded == nil {
			loaded = []workforce.Operator{}
		}
		s.operators = loaded
		s.record(SourceLoad, "ok")
		return nil
	}

	classified := Classify(opsErr)
	s.lastError = classified
	s.record(SourceLoad, string(classified.Kind))
	s.log.Error().Err(opsErr).Str("kind", string(classified.Kind)).Msg("loading operators failed")

	// Own profile stays visible while the read is failing.
	switch own := s.visibleSet(nil); {
	case len(own) > 0 && len(s.operators) == 0:
		s.operators = own
	case classified.Kind == KindNetwork && s.fallback:
		s.operators = workforce.FallbackRoster()
	}
	return classified
}

// visibleSet applies the rule that a non-admin whose row is not readable yet
// still sees their own resolved profile.
func (s *Service) visibleSet(loaded []workforce.Operator) []workforce.Operator {
	if len(loaded) > 0 || s.caller.IsAdmin() {
		return loaded
	}
	if profile, ok := s.caller.Profile(); ok {
		return []workforce.Operator{workforce.Normalize(profile)}
	}
	return loaded
}

// Follow applies change events until the channel closes or ctx is done.
func (s *Service) Follow(ctx context.Context, events <-chan ChangeEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				s.log.Warn().Msg("change feed closed, relying on poll")
				return
			}
			if err := s.HandleEvent(ctx, ev); err != nil {
				s.log.Warn().Err(err).Str("registration", ev.Registration).Msg("applying change event failed")
			}
		}
	}
}

// Subscribe attaches the service to a feed. The returned func detaches it.
func (s *Service) Subscribe(ctx context.Context, feed ChangeFeed) func() {
	ctx, cancel := context.WithCancel(ctx)
	events, unsubscribe := feed.Subscribe(ctx)
	go s.Follow(ctx, events)
	return func() {
		cancel()
		unsubscribe()
	}
}

// HandleEvent applies one pushed change.
func (s *Service) HandleEvent(ctx context.Context, ev ChangeEvent) error {
	if ev.Type == EventDelete {
		s.mu.Lock()
		s.operators = removeRegistration(s.operators, ev.Registration)
		s.mu.Unlock()
		s.record(SourcePush, "deleted")
		return nil
	}
	_, err := s.reconcile(ctx, SourcePush, ev.Registration)
	return err
}

// Poll refetches the collection when the session is visible. It reports
// whether local state was replaced.
func (s *Service) Poll(ctx context.Context) (bool, error) {
	if !s.caller.Visible() {
		return false, nil
	}
	return s.reconcile(ctx, SourcePoll, "")
}

// reconcile brings local state in line with the backend. With a registration
// only that row is refetched and replaced or inserted in name order; without
// one the whole collection is refetched and swapped in only if it differs.
func (s *Service) reconcile(ctx context.Context, source Source, registration string) (bool, error) {
	ctx, cancel := s.backendCtx(ctx)
	defer cancel()

	if registration == "" {
		ops, err := s.backend.ListOperators(ctx)
		if err != nil {
			s.record(source, "error")
			return false, fmt.Errorf("refetching operators: %w", err)
		}
		fresh := s.visibleSet(workforce.NormalizeAll(ops))

		s.mu.Lock()
		defer s.mu.Unlock()
		if sameContent(s.operators, fresh) {
			s.record(source, "unchanged")
			return false, nil
		}
		s.operators = fresh
		s.record(source, "replaced")
		return true, nil
	}

	op, err := s.backend.GetOperator(ctx, registration)
	if errors.Is(err, workforce.ErrOperatorNotFound) {
		s.mu.Lock()
		defer s.mu.Unlock()
		before := len(s.operators)
		s.operators = removeRegistration(s.operators, registration)
		changed := len(s.operators) != before
		s.record(source, "missing")
		return changed, nil
	}
	if err != nil {
		s.record(source, "error")
		return false, fmt.Errorf("refetching operator %s: %w", registration, err)
	}
	op = workforce.Normalize(op)

	s.mu.Lock()
	defer s.mu.Unlock()
	idx := workforce.Find(s.operators, registration)
	if idx >= 0 {
		if sameContent(s.operators[idx], op) {
			s.record(source, "unchanged")
			return false, nil
		}
		next := append([]workforce.Operator(nil), s.operators...)
		next[idx] = op
		s.operators = next
		s.record(source, "replaced")
		return true, nil
	}
	s.operators = workforce.InsertSorted(s.operators, op)
	s.record(source, "inserted")
	return true, nil
}

// Updater describes a whole-collection mutation: a replacement list or a
// function of the current list.
type Updater struct {
	replace []workforce.Operator
	apply   func([]workforce.Operator) []workforce.Operator
}

func Replace(ops []workforce.Operator) Updater {
	return Updater{replace: ops}
}

func Apply(fn func([]workforce.Operator) []workforce.Operator) Updater {
	return Updater{apply: fn}
}

func (u Updater) resolve(current []workforce.Operator) ([]workforce.Operator, error) {
	if u.apply != nil {
		return u.apply(current), nil
	}
	return workforce.CloneAll(u.replace), nil
}

// MutateAll applies the updater locally, then persists. Admins upsert the
// whole collection; other callers update only their own record. On failure
// the collection is restored to the pre-mutation snapshot.
func (s *Service) MutateAll(ctx context.Context, u Updater) error {
	return s.mutateAll(ctx, u.resolve)
}

func (s *Service) mutateAll(ctx context.Context, fn func([]workforce.Operator) ([]workforce.Operator, error)) error {
	principal, ok := s.caller.Principal()
	if !ok {
		return workforce.ErrUnauthenticated
	}

	s.mu.Lock()
	snapshot := s.operators
	next, err := fn(workforce.CloneAll(s.operators))
	if err != nil {
		s.mu.Unlock()
		return err
	}
	next = workforce.NormalizeAll(next)
	s.operators = next
	s.mu.Unlock()

	if len(next) == 0 {
		return nil
	}

	err = s.persistAll(ctx, principal.ID, next)
	if err == nil {
		s.record(SourceMutation, "ok")
		return nil
	}

	s.mu.Lock()
	s.operators = snapshot
	s.mu.Unlock()
	s.record(SourceMutation, "rolled_back")
	s.log.Warn().Err(err).Msg("persisting operators failed, reverted to snapshot")
	return persistenceError(err)
}

func (s *Service) persistAll(ctx context.Context, principalID string, next []workforce.Operator) error {
	ctx, cancel := s.backendCtx(ctx)
	defer cancel()

	if s.caller.IsAdmin() {
		n, err := s.backend.UpsertOperators(ctx, next)
		if err != nil {
			return err
		}
		if n < int64(len(next)) {
			return fmt.Errorf("upsert affected %d of %d rows", n, len(next))
		}
		return nil
	}

	for _, op := range next {
		if op.UserID == "" || op.UserID != principalID {
			continue
		}
		n, err := s.backend.UpdateOwnOperator(ctx, principalID, op)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("own record %s was not updated", op.Registration)
		}
		return nil
	}
	return nil
}

// MutateOne replaces one record optimistically and upserts it. On failure
// the row is refetched and local state takes the fetched value.
func (s *Service) MutateOne(ctx context.Context, op workforce.Operator) error {
	principal, ok := s.caller.Principal()
	if !ok {
		return workforce.ErrUnauthenticated
	}
	op = workforce.Normalize(op.Clone())

	s.mu.Lock()
	idx := workforce.Find(s.operators, op.Registration)
	if idx < 0 {
		s.mu.Unlock()
		return workforce.ErrOperatorNotFound
	}
	if !s.caller.IsAdmin() && s.operators[idx].UserID != principal.ID {
		s.mu.Unlock()
		return workforce.ErrForbidden
	}
	next := append([]workforce.Operator(nil), s.operators...)
	next[idx] = op
	s.operators = next
	s.mu.Unlock()

	err := s.persistOne(ctx, principal.ID, op)
	if err == nil {
		s.record(SourceMutation, "ok")
		return nil
	}

	s.log.Warn().Err(err).Str("registration", op.Registration).Msg("saving operator failed, reconciling")
	if _, rerr := s.reconcile(ctx, SourceMutation, op.Registration); rerr != nil {
		s.log.Warn().Err(rerr).Str("registration", op.Registration).Msg("reconciling operator failed")
	}
	return persistenceError(err)
}

func (s *Service) persistOne(ctx context.Context, principalID string, op workforce.Operator) error {
	ctx, cancel := s.backendCtx(ctx)
	defer cancel()
	if s.caller.IsAdmin() {
		return s.backend.UpsertOperator(ctx, op)
	}
	n, err := s.backend.UpdateOwnOperator(ctx, principalID, op)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("own record %s was not updated", op.Registration)
	}
	return nil
}

// UpdateGoals replaces the team goals. Only supervisors may change them.
func (s *Service) UpdateGoals(ctx context.Context, goals workforce.TeamGoals) error {
	if !s.caller.IsAdmin() {
		return workforce.ErrForbidden
	}

	s.mu.Lock()
	previous := s.goals
	s.goals = goals
	s.mu.Unlock()

	ctx, cancel := s.backendCtx(ctx)
	defer cancel()
	if err := s.backend.SaveGoals(ctx, goals); err != nil {
		s.mu.Lock()
		s.goals = previous
		s.mu.Unlock()
		s.log.Warn().Err(err).Msg("saving goals failed, reverted")
		return persistenceError(err)
	}
	return nil
}

func removeRegistration(ops []workforce.Operator, registration string) []workforce.Operator {
	out := make([]workforce.Operator, 0, len(ops))
	for _, op := range ops {
		if op.Registration != registration {
			out = append(out, op)
		}
	}
	return out
}

func sameContent(a, b any) bool {
	left, err := json.Marshal(a)
	if err != nil {
		return false
	}
	right, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(left, right)
}
