package tracking

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"wellness-activity/internal/clock"
)

// Manager holds one Session per user so that a user never has two trackers
type Manager struct {
	store   Store
	streaks Streaks
	clock   clock.Clock
	opts    Options
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	lastUsed map[string]time.Time
}

// NewManager creates a Manager whose sessions share store, streaks and clk
func NewManager(store Store, streaks Streaks, clk clock.Clock, opts Options) *Manager {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Manager{
		store:    store,
		streaks:  streaks,
		clock:    clk,
		opts:     opts.withDefaults(),
		logger:   slog.Default(),
		sessions: make(map[string]*Session),
		lastUsed: make(map[string]time.Time),
	}
}

// Session returns the user's session, creating it on first use
func (m *Manager) Session(userID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[userID]
	if !ok {
		s = NewSession(userID, m.store, m.streaks, m.clock, m.opts)
		m.sessions[userID] = s
	}
	m.lastUsed[userID] = m.clock.Now()
	return s
}

// Prune drops sessions unused for at least maxIdle that are not tracking and
// have nothing left to write. It returns the dropped user IDs. A later call to
// Session reloads the user from the store.
func (m *Manager) Prune(maxIdle time.Duration) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	var pruned []string
	for userID, s := range m.sessions {
		if now.Sub(m.lastUsed[userID]) < maxIdle || !s.Idle() {
			continue
		}
		delete(m.sessions, userID)
		delete(m.lastUsed, userID)
		pruned = append(pruned, userID)
	}
	if len(pruned) > 0 {
		m.logger.Debug("Pruned idle sessions", "count", len(pruned), "remaining", len(m.sessions))
	}
	return pruned
}

// Active returns the number of sessions currently tracking
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, s := range m.sessions {
		// Session.IsTracking takes s.mu, never m.mu
		if s.IsTracking() {
			n++
		}
	}
	return n
}

// StopAll stops every tracking session, flushing each one. Failures are
// logged and the first one is returned.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	var firstErr error
	for _, s := range sessions {
		err := s.Stop(ctx)
		if err == nil || errors.Is(err, ErrNotTracking) {
			continue
		}
		m.logger.Error("Failed to stop tracking session", "user_id", s.UserID(), "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
