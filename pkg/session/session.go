// Package session owns the lifecycle of the single browser session.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/cartpilot/internal/logger"
	"github.com/jmylchreest/cartpilot/pkg/browser"
)

// State is the lifecycle state of a Manager's session.
type State int

const (
	Uninitialized State = iota
	Creating
	Active
	// Expired and Failed are reported on the way back to Uninitialized.
	Expired
	Failed
)

func (s State) String() string {
	switch s {
	case Creating:
		return "creating"
	case Active:
		return "active"
	case Expired:
		return "expired"
	case Failed:
		return "failed"
	default:
		return "uninitialized"
	}
}

// DefaultIdleTimeout is how long an unused session stays valid.
const DefaultIdleTimeout = 300 * time.Second

// DefaultProbeTimeout bounds a liveness probe.
const DefaultProbeTimeout = 5 * time.Second

// Session is one live browser with its identity. Fields other than the
// handle are snapshots; use Manager methods to change them.
type Session struct {
	ID             string
	Handle         browser.Handle
	CreatedAt      time.Time
	LastActivityAt time.Time
	State          State
}

// Page returns the session's page.
func (s *Session) Page() browser.Page {
	return s.Handle.Page()
}

// Info is a point-in-time view of the manager for diagnostics.
type Info struct {
	ID             string    `json:"id,omitempty" yaml:"id,omitempty"`
	State          string    `json:"state" yaml:"state"`
	CreatedAt      time.Time `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	LastActivityAt time.Time `json:"last_activity_at,omitempty" yaml:"last_activity_at,omitempty"`
}

// Manager hands out the one browser session, recreating it when it has gone
// idle or stopped answering. Only creation is serialized; callers sharing an
// active session must not drive the page concurrently.
type Manager struct {
	launcher     browser.Launcher
	idleTimeout  time.Duration
	probeTimeout time.Duration
	now          func() time.Time
	newID        func() string

	mu      sync.Mutex
	state   State
	current *Session
	// gen increments on every release so an in-flight creation can tell it
	// has been superseded.
	gen uint64
}

// Option configures a Manager.
type Option func(*Manager)

// WithIdleTimeout overrides DefaultIdleTimeout.
func WithIdleTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.idleTimeout = d
		}
	}
}

// WithProbeTimeout overrides DefaultProbeTimeout.
func WithProbeTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.probeTimeout = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIDFunc replaces the UUID generator.
func WithIDFunc(f func() string) Option {
	return func(m *Manager) { m.newID = f }
}

// NewManager creates a Manager that launches browsers with l.
func NewManager(l browser.Launcher, opts ...Option) *Manager {
	m := &Manager{
		launcher:     l,
		idleTimeout:  DefaultIdleTimeout,
		probeTimeout: DefaultProbeTimeout,
		now:          time.Now,
		newID:        uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire returns the active session if it is fresh and alive, otherwise
// replaces it with a new one. While another caller is creating, Acquire
// fails fast with ErrNotReady.
func (m *Manager) Acquire(ctx context.Context) (*Session, error) {
	if s, ok := m.usable(ctx); ok {
		return s, nil
	}
	return m.create(ctx)
}

// Current returns the active session without creating one.
func (m *Manager) Current(ctx context.Context) (*Session, error) {
	if s, ok := m.usable(ctx); ok {
		return s, nil
	}
	return nil, ErrNoActiveSession
}

// usable checks expiry and liveness of the active session, releasing it when
// either fails.
func (m *Manager) usable(ctx context.Context) (*Session, bool) {
	m.mu.Lock()
	if m.state != Active || m.current == nil {
		m.mu.Unlock()
		return nil, false
	}
	s := *m.current
	gen := m.gen
	idle := m.now().Sub(s.LastActivityAt)
	m.mu.Unlock()

	if idle > m.idleTimeout {
		logger.Info("session expired", "session", s.ID, "idle", idle.Round(time.Second))
		m.releaseGen(gen, Expired)
		return nil, false
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()
	if err := s.Handle.Ping(probeCtx); err != nil {
		logger.Warn("session probe failed", "session", s.ID, "error", err)
		m.releaseGen(gen, Failed)
		return nil, false
	}
	return &s, true
}

func (m *Manager) create(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	switch m.state {
	case Creating:
		m.mu.Unlock()
		return nil, &Error{Op: "create", Err: ErrNotReady}
	case Active:
		// Another caller replaced the session while we probed.
		if m.current != nil {
			s := *m.current
			m.mu.Unlock()
			return &s, nil
		}
	}
	m.state = Creating
	gen := m.gen
	m.mu.Unlock()

	logger.Debug("creating browser session")
	h, err := m.launcher.Launch(ctx)

	m.mu.Lock()
	if err != nil || m.gen != gen {
		m.state = Uninitialized
		m.mu.Unlock()
		if err != nil {
			logger.Error("session creation failed", "error", err)
			return nil, &Error{Op: "create", Err: err}
		}
		_ = h.Close()
		return nil, &Error{Op: "create", Err: ErrReleased}
	}
	now := m.now()
	m.current = &Session{
		ID:             m.newID(),
		Handle:         h,
		CreatedAt:      now,
		LastActivityAt: now,
		State:          Active,
	}
	m.state = Active
	s := *m.current
	m.mu.Unlock()

	logger.Info("session created", "session", s.ID)
	return &s, nil
}

// RecordActivity marks the active session as used now.
func (m *Manager) RecordActivity() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		m.current.LastActivityAt = m.now()
	}
}

// Release tears down the browser and clears the session. It is idempotent
// and safe to call at any time, including during creation.
func (m *Manager) Release() {
	m.mu.Lock()
	gen := m.gen
	m.mu.Unlock()
	m.releaseGen(gen, Uninitialized)
}

// Close releases the session. It is the process-exit hook.
func (m *Manager) Close() error {
	m.Release()
	return nil
}

// releaseGen releases only if no other release happened since gen was read.
func (m *Manager) releaseGen(gen uint64, reason State) {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return
	}
	m.gen++
	old := m.current
	m.current = nil
	// An in-flight creation resets the state itself once it notices the
	// generation moved.
	if m.state != Creating {
		m.state = Uninitialized
	}
	m.mu.Unlock()

	if old == nil {
		return
	}
	if err := old.Handle.Close(); err != nil {
		logger.Debug("closing browser", "session", old.ID, "error", err)
	}
	logger.Info("session released", "session", old.ID, "reason", reason.String())
}

// Snapshot reports the manager's current state.
func (m *Manager) Snapshot() Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	info := Info{State: m.state.String()}
	if m.current != nil {
		info.ID = m.current.ID
		info.CreatedAt = m.current.CreatedAt
		info.LastActivityAt = m.current.LastActivityAt
	}
	return info
}

// String implements fmt.Stringer for log output.
func (i Info) String() string {
	if i.ID == "" {
		return i.State
	}
	return fmt.Sprintf("%s (%s)", i.ID, i.State)
}
