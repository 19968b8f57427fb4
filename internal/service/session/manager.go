package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	prommetrics "github.com/jara-app/rewards-gateway/internal/metrics"
	"github.com/jara-app/rewards-gateway/pkg/logger"
)

// Manager owns the live device sessions.
type Manager struct {
	deps    Deps
	idleTTL time.Duration
	log     *logger.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates an empty manager.
func NewManager(d Deps) *Manager {
	return &Manager{
		deps:     d,
		idleTTL:  d.Config.Sessions.IdleTTL(),
		log:      d.Log.Component("sessions"),
		sessions: make(map[string]*Session),
	}
}

// ErrIdentityMismatch is returned when the presented access token does not
// belong to the member signed in on the device session.
var ErrIdentityMismatch = errors.New("access token does not match the device session")

// Open returns the session for deviceID, creating and starting it when it
// does not exist. An empty deviceID gets a fresh id. Every call binds the
// caller to the session identity: a member session only answers to its own
// access token, and a guest session presented with a token restores it.
func (m *Manager) Open(ctx context.Context, deviceID, accessToken string) (*Session, error) {
	if deviceID == "" {
		deviceID = uuid.NewString()
	}

	m.mu.Lock()
	if s, ok := m.sessions[deviceID]; ok {
		m.mu.Unlock()
		if err := s.waitReady(ctx); err != nil {
			return nil, err
		}
		if err := m.bind(ctx, s, accessToken); err != nil {
			return nil, err
		}
		s.Touch()
		return s, nil
	}
	s := New(deviceID, m.deps)
	m.sessions[deviceID] = s
	count := len(m.sessions)
	m.mu.Unlock()

	prommetrics.SetActiveSessions(count)
	m.log.Debug().Str("session_id", deviceID).Msg("Session opened")
	s.Start(ctx, accessToken)
	return s, nil
}

// bind checks the caller's access token against the session identity.
func (m *Manager) bind(ctx context.Context, s *Session, accessToken string) error {
	id := s.Identity.Cell().Load()
	if id == nil {
		if accessToken != "" {
			s.Identity.Restore(ctx, accessToken)
		}
		return nil
	}
	if accessToken != id.AccessToken {
		prommetrics.RecordIdentityMismatch()
		m.log.Warn().Str("session_id", s.ID).Bool("token_present", accessToken != "").
			Msg("Rejected request with foreign access token")
		return ErrIdentityMismatch
	}
	return nil
}

// Get returns an existing session.
func (m *Manager) Get(deviceID string) (*Session, bool) {
	m.mu.Lock()
	s, ok := m.sessions[deviceID]
	m.mu.Unlock()
	if ok {
		s.Touch()
	}
	return s, ok
}

// Sessions returns a snapshot of live sessions.
func (m *Manager) Sessions() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// EvictIdle closes sessions idle longer than the configured ttl and returns
// how many were evicted.
func (m *Manager) EvictIdle() int {
	var evicted []*Session

	m.mu.Lock()
	for id, s := range m.sessions {
		if s.IdleFor() >= m.idleTTL {
			evicted = append(evicted, s)
			delete(m.sessions, id)
		}
	}
	count := len(m.sessions)
	m.mu.Unlock()

	for _, s := range evicted {
		s.Close()
	}
	prommetrics.SetActiveSessions(count)
	if len(evicted) > 0 {
		m.log.Info().Int("evicted", len(evicted)).Int("remaining", count).Msg("Evicted idle sessions")
	}
	return len(evicted)
}

// SweepRollover resets missions of sessions whose local day changed and
// returns how many were reset.
func (m *Manager) SweepRollover() int {
	n := 0
	for _, s := range m.Sessions() {
		if s.Missions.ResetIfNewDay() {
			n++
		}
	}
	return n
}

// RefreshPools re-reads the pool mirror of every session.
func (m *Manager) RefreshPools(ctx context.Context) {
	for _, s := range m.Sessions() {
		s.Coins.Refresh(ctx)
	}
}

// Close closes every session.
func (m *Manager) Close() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
	prommetrics.SetActiveSessions(0)
}
