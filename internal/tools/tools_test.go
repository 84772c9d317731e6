package tools

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wovenbot/loom/internal/agent"
	"github.com/wovenbot/loom/internal/sessions"
	"github.com/wovenbot/loom/pkg/models"
)

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "note.txt"), []byte("hello"), 0o600); err != nil {
		t.Fatal(err)
	}
	tc := &agent.ToolContext{WorkDir: dir}

	res, err := (&ReadFileTool{}).Execute(context.Background(), json.RawMessage(`{"path":"note.txt"}`), tc)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Content != "hello" {
		t.Errorf("content = %q", res.Content)
	}
}

func TestReadFileRejectsEscapes(t *testing.T) {
	tc := &agent.ToolContext{WorkDir: t.TempDir()}
	tool := &ReadFileTool{}

	for _, path := range []string{"../secret", "/etc/passwd", "a/../../b"} {
		input, _ := json.Marshal(map[string]string{"path": path})
		if _, err := tool.Execute(context.Background(), input, tc); err == nil {
			t.Errorf("path %q should be rejected", path)
		}
	}
}

func TestWriteThenListDir(t *testing.T) {
	tc := &agent.ToolContext{WorkDir: t.TempDir()}

	_, err := (&WriteFileTool{}).Execute(context.Background(),
		json.RawMessage(`{"path":"sub/out.txt","content":"data"}`), tc)
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	res, err := (&ListDirTool{}).Execute(context.Background(), json.RawMessage(`{}`), tc)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if res.Content != "sub/" {
		t.Errorf("listing = %q", res.Content)
	}

	res, err = (&ListDirTool{}).Execute(context.Background(), json.RawMessage(`{"path":"sub"}`), tc)
	if err != nil {
		t.Fatalf("list sub: %v", err)
	}
	if res.Content != "out.txt" {
		t.Errorf("listing = %q", res.Content)
	}
}

func TestMemorySearch(t *testing.T) {
	store := sessions.NewMemoryStore()
	ctx := context.Background()
	if err := store.AppendMessages(ctx, "s1", []*models.Message{
		models.NewUserMessage("s1", "the deploy failed on friday"),
		models.NewUserMessage("s1", "unrelated chatter"),
	}); err != nil {
		t.Fatal(err)
	}
	tc := &agent.ToolContext{SessionID: "s1", Store: store}

	res, err := (&MemorySearchTool{}).Execute(ctx, json.RawMessage(`{"query":"deploy"}`), tc)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(res.Content, "deploy failed") || strings.Contains(res.Content, "chatter") {
		t.Errorf("content = %q", res.Content)
	}
}

func TestMemorySearchNoMatches(t *testing.T) {
	tc := &agent.ToolContext{SessionID: "s1", Store: sessions.NewMemoryStore()}
	res, err := (&MemorySearchTool{}).Execute(context.Background(), json.RawMessage(`{"query":"ghost"}`), tc)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Content != "no matches" {
		t.Errorf("content = %q", res.Content)
	}
}

type stubSpawner struct {
	prompt string
	reply  string
	err    error
}

func (s *stubSpawner) Spawn(ctx context.Context, prompt string) (string, error) {
	s.prompt = prompt
	return s.reply, s.err
}

func TestSpawnAgent(t *testing.T) {
	spawner := &stubSpawner{reply: "sub-agent says hi"}
	tc := &agent.ToolContext{Spawner: spawner}

	res, err := (&SpawnAgentTool{}).Execute(context.Background(), json.RawMessage(`{"prompt":"summarise"}`), tc)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Content != "sub-agent says hi" || spawner.prompt != "summarise" {
		t.Errorf("res = %+v prompt = %q", res, spawner.prompt)
	}
}

func TestSpawnAgentPropagatesFailure(t *testing.T) {
	tc := &agent.ToolContext{Spawner: &stubSpawner{err: errors.New("budget exhausted")}}
	_, err := (&SpawnAgentTool{}).Execute(context.Background(), json.RawMessage(`{"prompt":"x"}`), tc)
	if err == nil || !strings.Contains(err.Error(), "budget exhausted") {
		t.Errorf("err = %v", err)
	}
}

func TestRegisterBuiltins(t *testing.T) {
	registry := agent.NewToolRegistry()
	RegisterBuiltins(registry)

	for _, name := range []string{"read_file", "list_dir", "write_file", "memory_search", "spawn_agent"} {
		if _, ok := registry.Get(name); !ok {
			t.Errorf("%s not registered", name)
		}
	}
	if tier, _ := registry.TierOf("spawn_agent"); tier != models.Tier3 {
		t.Errorf("spawn_agent tier = %v", tier)
	}
	if tier, _ := registry.TierOf("read_file"); tier != models.Tier0 {
		t.Errorf("read_file tier = %v", tier)
	}
}
