package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const (
	JobPoll  = "roster_poll"
	JobSweep = "workspace_sweep"
)

// Service schedules recurring background work: one poll per open session
// and the periodic sweep of expired workspaces.
type Service struct {
	cron    *cron.Cron
	log     zerolog.Logger
	timeout time.Duration

	mu       sync.Mutex
	entries  map[string]cron.EntryID
	ctx      context.Context
	cancel   context.CancelFunc
	observer func(jobType string, err error)
}

// Observe registers fn to be told the outcome of every run.
func (s *Service) Observe(fn func(jobType string, err error)) {
	s.mu.Lock()
	s.observer = fn
	s.mu.Unlock()
}

// New builds a stopped scheduler. timeout bounds each run.
func New(log zerolog.Logger, timeout time.Duration) *Service {
	l := log.With().Str("component", "jobs").Logger()
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.Recover(cronLogger{l}), cron.SkipIfStillRunning(cronLogger{l})),
		),
		log:     l,
		timeout: timeout,
		entries: make(map[string]cron.EntryID),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (s *Service) Start() {
	s.cron.Start()
}

// Stop cancels in-flight runs and waits for them to return.
func (s *Service) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Every schedules run under id, replacing any job already registered with
// that id.
func (s *Service) Every(id, jobType string, interval time.Duration, run func(context.Context) error) error {
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[id]; ok {
		s.cron.Remove(existing)
		delete(s.entries, id)
	}
	entryID := s.cron.Schedule(cron.Every(interval), cron.FuncJob(func() {
		_ = s.runJob(s.ctx, id, jobType, run)
	}))
	s.entries[id] = entryID
	return nil
}

// Remove unschedules id. Unknown ids are ignored.
func (s *Service) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.entries[id]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, id)
	}
}

// Scheduled reports whether id has a registered job.
func (s *Service) Scheduled(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[id]
	return ok
}

// RunNow executes run synchronously with the same logging as scheduled runs.
func (s *Service) RunNow(ctx context.Context, id, jobType string, run func(context.Context) error) error {
	return s.runJob(ctx, id, jobType, run)
}

func (s *Service) runJob(ctx context.Context, id, jobType string, run func(context.Context) error) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	started := time.Now()
	err := run(ctx)
	s.mu.Lock()
	observe := s.observer
	s.mu.Unlock()
	if observe != nil {
		observe(jobType, err)
	}
	if err != nil {
		s.log.Warn().Err(err).Str("job_id", id).Str("job_type", jobType).Dur("took", time.Since(started)).Msg("job run failed")
		return err
	}
	s.log.Debug().Str("job_id", id).Str("job_type", jobType).Dur("took", time.Since(started)).Msg("job run completed")
	return nil
}

// cronLogger adapts zerolog to cron's logger interface.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
