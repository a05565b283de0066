package session

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/zsiec/nalcore/internal/accessunit"
)

// Manager tracks the active sessions by stream key.
type Manager struct {
	log      *slog.Logger
	opts     []accessunit.Option
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a session manager whose sessions are built with opts.
// If log is nil, slog.Default() is used.
func NewManager(log *slog.Logger, opts ...accessunit.Option) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		log:      log,
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// Create registers a new session for key. Returns the session and true if
// created, or nil and false if a session with this key already exists.
func (m *Manager) Create(key string, consumer accessunit.Consumer) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[key]; ok {
		m.log.Warn("session already exists, rejecting duplicate", "component", "session-manager", "key", key)
		return nil, false
	}

	s := New(key, consumer, m.log, m.opts...)
	m.sessions[key] = s
	m.log.Info("session created", "component", "session-manager", "key", key, "session", s.ID)
	return s, true
}

// Get returns the session registered for key.
func (m *Manager) Get(key string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[key]
	return s, ok
}

// Remove unregisters and closes the session for key.
func (m *Manager) Remove(key string) {
	m.mu.Lock()
	s, ok := m.sessions[key]
	if ok {
		delete(m.sessions, key)
	}
	m.mu.Unlock()

	if ok {
		s.Close()
		m.log.Info("session removed", "component", "session-manager", "key", key)
	}
}

// List returns all active sessions ordered by key.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].Key < sessions[j].Key })
	return sessions
}

// CloseAll closes and unregisters every session.
func (m *Manager) CloseAll() {
	for _, s := range m.List() {
		m.Remove(s.Key)
	}
}
