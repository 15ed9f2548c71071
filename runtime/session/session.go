// Package session tracks per-request orchestration sessions: identity,
// lifetime, cancellation, and the execution journal. A background janitor
// cancels sessions that outlive their expiration.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/budprat/agentic-5-sub002/runtime/logger"
)

// Defaults.
const (
	DefaultExpiration      = 30 * time.Minute
	DefaultJanitorInterval = time.Minute
)

// Session is one orchestrator invocation. The embedded context carries the
// session deadline and is the root of the runner's and client's contexts.
type Session struct {
	ID        string
	Query     string
	CreatedAt time.Time
	ExpiresAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	phase string
}

// Context returns the session's cancellation context.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Cancel cancels the session's context. Idempotent.
func (s *Session) Cancel() {
	s.cancel()
}

// SetPhase records the lifecycle phase the orchestrator is in.
func (s *Session) SetPhase(phase string) {
	s.mu.Lock()
	s.phase = phase
	s.mu.Unlock()
}

// Phase returns the current lifecycle phase.
func (s *Session) Phase() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Expired reports whether the session passed its expiration at now.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Manager owns the live session set and the expiration janitor.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	expiration      time.Duration
	janitorInterval time.Duration
	journal         Store

	// TimeFunc returns the current time. Override for deterministic tests.
	TimeFunc func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithExpiration sets the session lifetime.
func WithExpiration(d time.Duration) ManagerOption {
	return func(m *Manager) { m.expiration = d }
}

// WithJanitorInterval sets how often expired sessions are swept.
func WithJanitorInterval(d time.Duration) ManagerOption {
	return func(m *Manager) { m.janitorInterval = d }
}

// WithJournal sets the journal store. Defaults to an in-memory store.
func WithJournal(store Store) ManagerOption {
	return func(m *Manager) { m.journal = store }
}

// NewManager builds a manager and starts its janitor.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		sessions:        make(map[string]*Session),
		expiration:      DefaultExpiration,
		janitorInterval: DefaultJanitorInterval,
		TimeFunc:        time.Now,
		stop:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.journal == nil {
		m.journal = NewMemoryStore()
	}
	go m.janitor()
	return m
}

// Create registers a new session under parent. The session context carries
// a deadline at the expiration time.
func (m *Manager) Create(parent context.Context, query string) *Session {
	now := m.TimeFunc()
	expires := now.Add(m.expiration)
	ctx, cancel := context.WithDeadline(parent, expires)

	s := &Session{
		ID:        uuid.NewString(),
		Query:     query,
		CreatedAt: now,
		ExpiresAt: expires,
		ctx:       ctx,
		cancel:    cancel,
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	logger.Debug("session created", "session_id", s.ID, "expires_at", expires)
	return s
}

// Get returns a live session by id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Remove cancels and drops a session.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if ok {
		s.cancel()
	}
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Journal returns the journal store shared by all sessions.
func (m *Manager) Journal() Store {
	return m.journal
}

// Shutdown stops the janitor and cancels every live session.
func (m *Manager) Shutdown() {
	m.stopOnce.Do(func() { close(m.stop) })

	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.cancel()
	}
}

func (m *Manager) janitor() {
	ticker := time.NewTicker(m.janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	now := m.TimeFunc()

	m.mu.Lock()
	var expired []*Session
	for id, s := range m.sessions {
		if s.Expired(now) {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		s.cancel()
		logger.Info("session expired", "session_id", s.ID, "created_at", s.CreatedAt)
	}
}
