package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/motiveproxy/motiveproxy/internal/apierr"
	"github.com/motiveproxy/motiveproxy/internal/observe"
)

// ManagerConfig holds the directory-level tuning knobs.
type ManagerConfig struct {
	HandshakeTimeout time.Duration
	TurnTimeout      time.Duration
	SessionTTL       time.Duration
	MaxSessions      int
	CleanupInterval  time.Duration
	// EvictIdleOnFull selects the admission policy when the directory is
	// full: evict the most idle session instead of returning overloaded.
	EvictIdleOnFull bool
}

// Info is a redacted view of one session for the admin snapshot. Utterances
// never appear here.
type Info struct {
	ID          string  `json:"id"`
	State       State   `json:"state"`
	AgeSeconds  float64 `json:"age_seconds"`
	IdleSeconds float64 `json:"idle_seconds"`
}

// Manager is the directory of live sessions keyed by session id. The
// directory mutex is short-held and never spans a rendezvous wait or a
// session close; per-session mutation happens under each Session's own
// mutex.
type Manager struct {
	cfg     ManagerConfig
	metrics *observe.Metrics // may be nil

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates an empty directory. metrics may be nil.
func NewManager(cfg ManagerConfig, metrics *observe.Metrics) *Manager {
	return &Manager{
		cfg:      cfg,
		metrics:  metrics,
		sessions: make(map[string]*Session),
	}
}

// GetOrCreate returns the session for id, creating it when absent. The call
// is atomic with respect to side assignment: two concurrent first-arrivers
// on the same id receive the same Session, and exactly one becomes side A
// inside that Session's mutex.
//
// A session closed by a handshake timeout or sweep is replaced by a fresh
// one here, so a retry after timeout starts a new handshake instead of
// observing session_gone forever.
//
// Returns an overloaded error when the directory is full and the eviction
// policy cannot make room.
func (m *Manager) GetOrCreate(ctx context.Context, id string) (*Session, error) {
	var evicted *Session

	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok && s.State() != StateClosed {
		m.mu.Unlock()
		return s, nil
	}
	if ok {
		// Stale closed session; drop it and create anew.
		delete(m.sessions, id)
		if m.metrics != nil {
			m.metrics.ActiveSessions.Add(ctx, -1)
		}
	}

	if len(m.sessions) >= m.cfg.MaxSessions {
		if !m.cfg.EvictIdleOnFull {
			m.mu.Unlock()
			return nil, apierr.E(apierr.KindOverloaded, "max_sessions",
				"session directory is full")
		}
		victim := m.mostIdleLocked()
		if victim == nil {
			m.mu.Unlock()
			return nil, apierr.E(apierr.KindOverloaded, "max_sessions",
				"session directory is full and no eviction candidate is available")
		}
		delete(m.sessions, victim.ID())
		evicted = victim
	}

	s = New(id, m.cfg.HandshakeTimeout, m.cfg.TurnTimeout)
	m.sessions[id] = s
	m.mu.Unlock()

	// Close the victim outside the directory lock; close wakes goroutines.
	if evicted != nil {
		evicted.Close(ReasonEvicted)
		m.recordClosed(ctx, ReasonEvicted)
		slog.Info("session evicted", "session_id", evicted.ID())
	}

	if m.metrics != nil {
		m.metrics.SessionsCreated.Add(ctx, 1)
		m.metrics.ActiveSessions.Add(ctx, 1)
	}
	observe.Logger(ctx).Info("session created", "session_id", id)
	return s, nil
}

// Get returns the session for id, or nil when absent.
func (m *Manager) Get(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

// Close removes and closes the session for id with the given reason.
// Returns false when no such session exists.
func (m *Manager) Close(id string, reason CloseReason) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	s.Close(reason)
	m.recordClosed(context.Background(), reason)
	slog.Info("session closed", "session_id", id, "reason", string(reason))
	return true
}

// Count returns the number of sessions currently in the directory.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Snapshot returns a redacted listing of the directory, sorted by id.
func (m *Manager) Snapshot() []Info {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, Info{
			ID:          s.ID(),
			State:       s.State(),
			AgeSeconds:  s.Age().Seconds(),
			IdleSeconds: s.IdleFor().Seconds(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Run drives the TTL sweep loop until ctx is cancelled, then closes every
// remaining session.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.CloseAll(ReasonShutdown)
			return ctx.Err()
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

// sweep removes every session idle past the TTL, plus sessions a handshake
// timeout already closed but nothing has touched since.
func (m *Manager) sweep(ctx context.Context) {
	m.mu.Lock()
	var expired []*Session
	for id, s := range m.sessions {
		if s.State() == StateClosed || s.IdleFor() >= m.cfg.SessionTTL {
			delete(m.sessions, id)
			expired = append(expired, s)
		}
	}
	m.mu.Unlock()

	// Closing wakes suspended goroutines; never do it under the directory
	// lock.
	for _, s := range expired {
		if s.State() == StateClosed {
			if m.metrics != nil {
				m.metrics.ActiveSessions.Add(ctx, -1)
			}
			continue
		}
		s.Close(ReasonTTLExpired)
		m.recordClosed(ctx, ReasonTTLExpired)
		slog.Info("session expired", "session_id", s.ID())
	}
}

// CloseAll closes every session in the directory with the given reason.
func (m *Manager) CloseAll(reason CloseReason) {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close(reason)
		m.recordClosed(context.Background(), reason)
	}
}

// mostIdleLocked returns the session with the largest idle time. Caller
// must hold m.mu.
func (m *Manager) mostIdleLocked() *Session {
	var victim *Session
	var victimIdle time.Duration
	for _, s := range m.sessions {
		if idle := s.IdleFor(); victim == nil || idle > victimIdle {
			victim, victimIdle = s, idle
		}
	}
	return victim
}

func (m *Manager) recordClosed(ctx context.Context, reason CloseReason) {
	if m.metrics == nil {
		return
	}
	m.metrics.SessionsClosed.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", string(reason))))
	m.metrics.ActiveSessions.Add(ctx, -1)
}
