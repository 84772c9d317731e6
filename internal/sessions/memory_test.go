package sessions

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/wovenbot/loom/pkg/models"
)

func TestMemoryStoreAppendAndLoad(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	msgs := []*models.Message{
		models.NewUserMessage("s1", "hello"),
		{Role: models.RoleAssistant, Content: "hi there"},
	}
	if err := store.AppendMessages(ctx, "s1", msgs); err != nil {
		t.Fatalf("AppendMessages: %v", err)
	}

	if msgs[1].ID == "" {
		t.Error("expected generated message id to be reflected back")
	}
	if msgs[1].SessionID != "s1" {
		t.Errorf("session id = %q, want s1", msgs[1].SessionID)
	}

	history, err := store.LoadHistory(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].Content != "hello" || history[1].Content != "hi there" {
		t.Errorf("history out of order: %q, %q", history[0].Content, history[1].Content)
	}
}

func TestMemoryStoreLoadHistoryLimit(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		msg := models.NewUserMessage("s1", fmt.Sprintf("msg-%d", i))
		if err := store.AppendMessages(ctx, "s1", []*models.Message{msg}); err != nil {
			t.Fatalf("AppendMessages: %v", err)
		}
	}

	history, err := store.LoadHistory(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].Content != "msg-3" || history[1].Content != "msg-4" {
		t.Errorf("expected most recent two messages, got %q, %q", history[0].Content, history[1].Content)
	}
}

func TestMemoryStoreCloneIsolation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	msg := models.NewUserMessage("s1", "original")
	if err := store.AppendMessages(ctx, "s1", []*models.Message{msg}); err != nil {
		t.Fatalf("AppendMessages: %v", err)
	}
	msg.Content = "mutated by caller"

	history, err := store.LoadHistory(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	if history[0].Content != "original" {
		t.Errorf("stored message mutated through caller reference: %q", history[0].Content)
	}

	history[0].Content = "mutated by reader"
	again, _ := store.LoadHistory(ctx, "s1", 0)
	if again[0].Content != "original" {
		t.Errorf("stored message mutated through reader reference: %q", again[0].Content)
	}
}

func TestMemoryStoreSearch(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	older := models.NewUserMessage("s1", "deploy the staging cluster")
	older.CreatedAt = time.Now().Add(-time.Hour)
	newer := models.NewUserMessage("s2", "staging looks healthy now")
	if err := store.AppendMessages(ctx, "s1", []*models.Message{older}); err != nil {
		t.Fatal(err)
	}
	if err := store.AppendMessages(ctx, "s2", []*models.Message{newer}); err != nil {
		t.Fatal(err)
	}

	results, err := store.Search(ctx, "STAGING", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].SessionID != "s2" {
		t.Errorf("expected newest result first, got session %s", results[0].SessionID)
	}
}

func TestMemoryStoreRequiresSessionID(t *testing.T) {
	store := NewMemoryStore()
	err := store.AppendMessages(context.Background(), "", []*models.Message{models.NewUserMessage("", "x")})
	if err == nil {
		t.Fatal("expected error for empty session id")
	}
}
