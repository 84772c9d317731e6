package sessions

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wovenbot/loom/pkg/models"
)

// maxMessagesPerSession bounds in-memory transcripts; the oldest messages are
// trimmed once the limit is exceeded.
const maxMessagesPerSession = 1000

// MemoryStore is an in-memory Store for testing and ephemeral runs.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[string][]*models.Message
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{messages: make(map[string][]*models.Message)}
}

// AppendMessages implements Store.
func (m *MemoryStore) AppendMessages(ctx context.Context, sessionID string, msgs []*models.Message) error {
	if sessionID == "" {
		return errors.New("session id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, msg := range msgs {
		if msg == nil {
			continue
		}
		clone := *msg
		if clone.ID == "" {
			clone.ID = uuid.NewString()
		}
		if clone.SessionID == "" {
			clone.SessionID = sessionID
		}
		if clone.CreatedAt.IsZero() {
			clone.CreatedAt = time.Now()
		}
		// Reflect generated fields back to the caller.
		msg.ID = clone.ID
		msg.SessionID = clone.SessionID
		msg.CreatedAt = clone.CreatedAt
		m.messages[sessionID] = append(m.messages[sessionID], &clone)
	}

	if over := len(m.messages[sessionID]) - maxMessagesPerSession; over > 0 {
		m.messages[sessionID] = m.messages[sessionID][over:]
	}
	return nil
}

// LoadHistory implements Store.
func (m *MemoryStore) LoadHistory(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.messages[sessionID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]*models.Message, len(msgs))
	for i, msg := range msgs {
		clone := *msg
		out[i] = &clone
	}
	return out, nil
}

// Search implements Store with a case-insensitive substring match, newest
// first.
func (m *MemoryStore) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	needle := strings.ToLower(query)
	var results []SearchResult
	for sessionID, msgs := range m.messages {
		for _, msg := range msgs {
			if strings.Contains(strings.ToLower(msg.Content), needle) {
				clone := *msg
				results = append(results, SearchResult{SessionID: sessionID, Message: &clone})
			}
		}
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Message.CreatedAt.After(results[j].Message.CreatedAt)
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}
