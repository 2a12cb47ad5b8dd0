package workspace

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"kpiboard/internal/domain/identity"
	"kpiboard/internal/domain/roster"
	"kpiboard/internal/domain/workforce"
	"kpiboard/internal/platform/jobs"
)

// Workspace is everything bound to one signed-in session: the session
// itself and the roster state loaded for its principal.
type Workspace struct {
	Session   *identity.Session
	Roster    *roster.Service
	ExpiresAt time.Time
}

// Scheduler runs the per-session poll.
type Scheduler interface {
	Every(id, jobType string, interval time.Duration, run func(context.Context) error) error
	Remove(id string)
}

type Metrics interface {
	roster.Metrics
	WorkspaceOpened()
	WorkspaceClosed()
}

// BackendFactory returns the backend as seen by one principal.
type BackendFactory func(principalID string, role workforce.Role) roster.Backend

type Options struct {
	PollInterval   time.Duration
	IdleAfter      time.Duration
	BackendTimeout time.Duration
	// Retain is how long an unused workspace survives before Sweep closes it.
	Retain         time.Duration
	FallbackRoster bool
	Metrics        Metrics
	Logger         zerolog.Logger
}

// Registry maps session ids to open workspaces.
type Registry struct {
	adapter  *identity.Adapter
	backends BackendFactory
	feed     roster.ChangeFeed
	jobs     Scheduler
	opts     Options
	log      zerolog.Logger
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	spaces map[string]*Workspace
}

func NewRegistry(adapter *identity.Adapter, backends BackendFactory, feed roster.ChangeFeed, scheduler Scheduler, opts Options) *Registry {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Second
	}
	if opts.Retain <= 0 {
		opts.Retain = 30 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		adapter:  adapter,
		backends: backends,
		feed:     feed,
		jobs:     scheduler,
		opts:     opts,
		log:      opts.Logger.With().Str("component", "workspace").Logger(),
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		spaces:   make(map[string]*Workspace),
	}
}

// Open returns the workspace of sessionID, creating it on first use. A new
// workspace resolves the principal's profile, loads the roster, follows the
// change feed and schedules the poll.
func (r *Registry) Open(ctx context.Context, sessionID string, principal identity.Principal, expiresAt time.Time) (*Workspace, error) {
	if ws, ok := r.Get(sessionID); ok {
		return ws, nil
	}

	session := identity.NewSession(sessionID, r.opts.IdleAfter)
	if err := session.Open(ctx, r.adapter, principal); err != nil {
		return nil, err
	}
	var metrics roster.Metrics
	if r.opts.Metrics != nil {
		metrics = r.opts.Metrics
	}
	svc := roster.NewService(r.backends(principal.ID, session.Role()), session, roster.Options{
		BackendTimeout: r.opts.BackendTimeout,
		FallbackRoster: r.opts.FallbackRoster,
		Metrics:        metrics,
		Logger:         r.log,
	})
	if err := svc.Load(ctx); err != nil {
		r.log.Warn().Err(err).Str("principal_id", principal.ID).Msg("initial roster load failed")
	}

	ws := &Workspace{Session: session, Roster: svc, ExpiresAt: expiresAt}

	r.mu.Lock()
	if existing, ok := r.spaces[sessionID]; ok {
		r.mu.Unlock()
		session.Close()
		return existing, nil
	}
	r.spaces[sessionID] = ws
	r.mu.Unlock()

	r.attach(sessionID, ws)
	r.log.Info().Str("principal_id", principal.ID).Str("role", string(session.Role())).Msg("workspace opened")
	return ws, nil
}

func (r *Registry) attach(sessionID string, ws *Workspace) {
	unsubscribe := func() {}
	if r.feed != nil {
		unsubscribe = ws.Roster.Subscribe(r.ctx, r.feed)
	}
	if r.jobs != nil {
		err := r.jobs.Every(sessionID, jobs.JobPoll, r.opts.PollInterval, func(ctx context.Context) error {
			_, err := ws.Roster.Poll(ctx)
			return err
		})
		if err != nil {
			r.log.Error().Err(err).Msg("scheduling roster poll failed")
		}
	}
	if r.opts.Metrics != nil {
		r.opts.Metrics.WorkspaceOpened()
	}

	ws.Session.OnClose(func() {
		unsubscribe()
		if r.jobs != nil {
			r.jobs.Remove(sessionID)
		}
		ws.Roster.Reset()
		if r.opts.Metrics != nil {
			r.opts.Metrics.WorkspaceClosed()
		}
	})
}

func (r *Registry) Get(sessionID string) (*Workspace, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ws, ok := r.spaces[sessionID]
	return ws, ok
}

// Close tears down the workspace of sessionID. Unknown ids are ignored.
func (r *Registry) Close(sessionID string) {
	r.mu.Lock()
	ws, ok := r.spaces[sessionID]
	delete(r.spaces, sessionID)
	r.mu.Unlock()
	if ok {
		ws.Session.Close()
	}
}

// Sweep closes workspaces whose token expired or that saw no activity for
// longer than the retain window.
func (r *Registry) Sweep(context.Context) error {
	now := r.now()
	var stale []string
	r.mu.Lock()
	for id, ws := range r.spaces {
		expired := !ws.ExpiresAt.IsZero() && now.After(ws.ExpiresAt)
		if expired || now.Sub(ws.Session.LastSeen()) > r.opts.Retain {
			stale = append(stale, id)
		}
	}
	r.mu.Unlock()

	for _, id := range stale {
		r.Close(id)
	}
	if len(stale) > 0 {
		r.log.Info().Int("closed", len(stale)).Msg("swept idle workspaces")
	}
	return nil
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.spaces)
}

// Shutdown closes every workspace and stops feed delivery.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.spaces))
	for id := range r.spaces {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	for _, id := range ids {
		r.Close(id)
	}
	r.cancel()
}
