package sessions

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/wovenbot/loom/pkg/models"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "loom.db"))
	if err != nil {
		t.Fatalf("OpenSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	assistant := &models.Message{
		Role:    models.RoleAssistant,
		Content: "running the tool",
		ToolCalls: []models.ToolCall{
			{ID: "tc1", Name: "read_file", Input: json.RawMessage(`{"path":"go.mod"}`)},
		},
	}
	result := &models.Message{
		Role: models.RoleTool,
		ToolResults: []models.ToolResult{
			{ToolCallID: "tc1", Content: "module contents", IsError: false},
		},
	}
	msgs := []*models.Message{
		models.NewUserMessage("s1", "read go.mod"),
		assistant,
		result,
	}
	if err := store.AppendMessages(ctx, "s1", msgs); err != nil {
		t.Fatalf("AppendMessages: %v", err)
	}

	history, err := store.LoadHistory(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3", len(history))
	}
	if history[0].Role != models.RoleUser || history[1].Role != models.RoleAssistant || history[2].Role != models.RoleTool {
		t.Fatalf("roles out of order: %s %s %s", history[0].Role, history[1].Role, history[2].Role)
	}
	if len(history[1].ToolCalls) != 1 || history[1].ToolCalls[0].Name != "read_file" {
		t.Errorf("tool calls not restored: %+v", history[1].ToolCalls)
	}
	if string(history[1].ToolCalls[0].Input) != `{"path":"go.mod"}` {
		t.Errorf("tool input not restored: %s", history[1].ToolCalls[0].Input)
	}
	if len(history[2].ToolResults) != 1 || history[2].ToolResults[0].ToolCallID != "tc1" {
		t.Errorf("tool results not restored: %+v", history[2].ToolResults)
	}
}

func TestSQLiteStoreLoadHistoryLimit(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	var batch []*models.Message
	for i := 0; i < 5; i++ {
		batch = append(batch, models.NewUserMessage("s1", string(rune('a'+i))))
	}
	if err := store.AppendMessages(ctx, "s1", batch); err != nil {
		t.Fatalf("AppendMessages: %v", err)
	}

	history, err := store.LoadHistory(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].Content != "d" || history[1].Content != "e" {
		t.Errorf("expected last two messages in order, got %q, %q", history[0].Content, history[1].Content)
	}
}

func TestSQLiteStoreSessionIsolation(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	if err := store.AppendMessages(ctx, "s1", []*models.Message{models.NewUserMessage("s1", "one")}); err != nil {
		t.Fatal(err)
	}
	if err := store.AppendMessages(ctx, "s2", []*models.Message{models.NewUserMessage("s2", "two")}); err != nil {
		t.Fatal(err)
	}

	history, err := store.LoadHistory(ctx, "s1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].Content != "one" {
		t.Errorf("s1 history = %+v", history)
	}
}

func TestSQLiteStoreSearch(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	if err := store.AppendMessages(ctx, "s1", []*models.Message{
		models.NewUserMessage("s1", "restart the worker pool"),
		models.NewUserMessage("s1", "unrelated chatter"),
	}); err != nil {
		t.Fatal(err)
	}

	results, err := store.Search(ctx, "worker", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	if results[0].SessionID != "s1" {
		t.Errorf("session id = %s, want s1", results[0].SessionID)
	}
}
