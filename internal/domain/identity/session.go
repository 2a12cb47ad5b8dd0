package identity

import (
	"context"
	"sync"
	"time"

	"kpiboard/internal/domain/workforce"
)

// Session is the signed-in state of one login. It is created explicitly,
// opened once a principal is known and closed on sign-out.
type Session struct {
	mu        sync.RWMutex
	id        string
	principal *Principal
	profile   *workforce.Operator
	role      workforce.Role
	lastSeen  time.Time
	hidden    bool
	idleAfter time.Duration
	onClose   []func()
	now       func() time.Time
}

func NewSession(id string, idleAfter time.Duration) *Session {
	return &Session{id: id, idleAfter: idleAfter, now: time.Now}
}

func (s *Session) ID() string {
	return s.id
}

// Open resolves the principal's profile and binds both to the session.
func (s *Session) Open(ctx context.Context, adapter *Adapter, principal Principal) error {
	profile, err := adapter.ResolveProfile(ctx, principal)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p := principal
	op := profile.Operator.Clone()
	s.principal = &p
	s.profile = &op
	s.role = profile.Role
	s.lastSeen = s.now()
	return nil
}

// OnClose registers teardown work, run in registration order by Close.
func (s *Session) OnClose(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClose = append(s.onClose, fn)
}

// Close clears the principal, profile and role and runs teardown hooks once.
func (s *Session) Close() {
	s.mu.Lock()
	hooks := s.onClose
	s.onClose = nil
	s.principal = nil
	s.profile = nil
	s.role = ""
	s.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

func (s *Session) Principal() (Principal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.principal == nil {
		return Principal{}, false
	}
	return *s.principal, true
}

// Profile returns a copy of the resolved operator record.
func (s *Session) Profile() (workforce.Operator, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.profile == nil {
		return workforce.Operator{}, false
	}
	return s.profile.Clone(), true
}

func (s *Session) Role() workforce.Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.role
}

func (s *Session) IsAdmin() bool {
	return s.Role().IsSupervisor()
}

// Registration is the caller's own operator registration, if any.
func (s *Session) Registration() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.profile == nil {
		return ""
	}
	return s.profile.Registration
}

// Touch records client activity.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastSeen = s.now()
	s.hidden = false
	s.mu.Unlock()
}

// Visible reports whether the client was active recently enough to be
// considered in the foreground.
func (s *Session) Visible() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.principal == nil || s.hidden {
		return false
	}
	if s.idleAfter <= 0 {
		return true
	}
	return s.now().Sub(s.lastSeen) <= s.idleAfter
}

// Hide marks the client as backgrounded until the next Touch.
func (s *Session) Hide() {
	s.mu.Lock()
	s.hidden = true
	s.mu.Unlock()
}

// LastSeen is the time of the last recorded client activity.
func (s *Session) LastSeen() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSeen
}
