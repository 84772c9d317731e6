package sessions

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wovenbot/loom/pkg/models"
)

// Manager maps external session keys (for example "cli:default" or a chat
// thread id) to runtime sessions. Session metadata lives in memory; only the
// transcript is persisted through the Store.
type Manager struct {
	mu       sync.RWMutex
	byKey    map[string]*models.Session
	sessions map[string]*models.Session
}

// NewManager creates an empty session manager.
func NewManager() *Manager {
	return &Manager{
		byKey:    make(map[string]*models.Session),
		sessions: make(map[string]*models.Session),
	}
}

// GetOrCreate returns the session for the given external key, minting a new
// one on first use. The boolean reports whether the session was created.
func (m *Manager) GetOrCreate(key, channel string) (*models.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sess, ok := m.byKey[key]; ok {
		sess.LastActive = time.Now()
		copied := *sess
		return &copied, false
	}

	now := time.Now()
	sess := &models.Session{
		ID:         uuid.NewString(),
		Key:        key,
		Channel:    channel,
		StartedAt:  now,
		LastActive: now,
	}
	m.byKey[key] = sess
	m.sessions[sess.ID] = sess
	copied := *sess
	return &copied, true
}

// Get returns the session with the given id, or nil.
func (m *Manager) Get(id string) *models.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[id]
	if !ok {
		return nil
	}
	copied := *sess
	return &copied
}

// Touch updates the session's last-active timestamp.
func (m *Manager) Touch(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sess, ok := m.sessions[id]; ok {
		sess.LastActive = time.Now()
	}
}

// List returns all known sessions, most recently active first.
func (m *Manager) List() []*models.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		copied := *sess
		out = append(out, &copied)
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].LastActive.After(out[i].LastActive) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}
