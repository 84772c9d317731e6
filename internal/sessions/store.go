// Package sessions provides transcript persistence and the in-process
// session manager.
//
// The agent core treats the store as an external collaborator: it relies on
// the store to serialise its own writes per session, and it never creates or
// destroys sessions itself. Two implementations ship with the runtime: an
// in-memory store for tests and ephemeral runs, and a SQLite store for
// single-node deployments.
package sessions

import (
	"context"

	"github.com/wovenbot/loom/pkg/models"
)

// Store is the persistence contract the agent core consumes.
type Store interface {
	// AppendMessages appends the messages to the session's transcript.
	// The append is atomic per call: either all messages land or none do.
	AppendMessages(ctx context.Context, sessionID string, msgs []*models.Message) error

	// LoadHistory returns the most recent limit messages in chronological
	// order. A non-positive limit returns everything.
	LoadHistory(ctx context.Context, sessionID string, limit int) ([]*models.Message, error)

	// Search performs a text search across stored messages. Used by
	// memory tools only; the loop never calls it.
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
}

// SearchResult is one hit from Store.Search.
type SearchResult struct {
	SessionID string         `json:"session_id"`
	Message   *models.Message `json:"message"`
	Score     float64        `json:"score,omitempty"`
}
