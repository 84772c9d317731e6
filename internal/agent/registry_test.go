package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/wovenbot/loom/pkg/models"
)

func TestRegistryRegisterGetUnregister(t *testing.T) {
	r := NewToolRegistry()
	tool := &fakeTool{name: "read_file", tier: models.Tier0}
	r.Register(tool)

	got, ok := r.Get("read_file")
	if !ok || got.Name() != "read_file" {
		t.Fatalf("Get = %v, %v", got, ok)
	}

	if !r.Unregister("read_file") {
		t.Error("Unregister should report the tool existed")
	}
	if r.Unregister("read_file") {
		t.Error("second Unregister should report false")
	}
	if _, ok := r.Get("read_file"); ok {
		t.Error("tool still present after Unregister")
	}
}

func TestRegistryDefinitions(t *testing.T) {
	r := NewToolRegistry()
	r.Register(&fakeTool{name: "a"})
	r.Register(&fakeTool{name: "b"})

	defs := r.Definitions()
	if len(defs) != 2 {
		t.Fatalf("definitions = %d, want 2", len(defs))
	}
	for _, def := range defs {
		if def.Description == "" || len(def.InputSchema) == 0 {
			t.Errorf("incomplete definition: %+v", def)
		}
	}
}

func TestRegistryTierOf(t *testing.T) {
	r := NewToolRegistry()
	r.Register(&fakeTool{name: "risky", tier: models.Tier3})

	tier, ok := r.TierOf("risky")
	if !ok || tier != models.Tier3 {
		t.Errorf("TierOf = %v, %v", tier, ok)
	}
	if _, ok := r.TierOf("absent"); ok {
		t.Error("TierOf should report false for unknown tools")
	}
}

func TestRegistryExecuteNotFound(t *testing.T) {
	r := NewToolRegistry()
	res := r.Execute(context.Background(), "ghost", nil, &ToolContext{})
	if !res.IsError || !strings.Contains(res.Content, "tool not found") {
		t.Errorf("result = %+v", res)
	}
}

func TestRegistryExecuteValidation(t *testing.T) {
	r := NewToolRegistry()
	r.Register(&schemaTool{})

	res := r.Execute(context.Background(), "typed", json.RawMessage(`{"count":"not a number"}`), &ToolContext{})
	if !res.IsError || !strings.Contains(res.Content, "validation failed") {
		t.Errorf("expected validation error, got %+v", res)
	}

	res = r.Execute(context.Background(), "typed", json.RawMessage(`{"count":3}`), &ToolContext{})
	if res.IsError {
		t.Errorf("valid input rejected: %+v", res)
	}
}

func TestRegistryExecuteRejectsInvalidJSON(t *testing.T) {
	r := NewToolRegistry()
	r.Register(&schemaTool{})

	res := r.Execute(context.Background(), "typed", json.RawMessage(`{not json`), &ToolContext{})
	if !res.IsError || !strings.Contains(res.Content, "not valid JSON") {
		t.Errorf("result = %+v", res)
	}
}

func TestRegistryExecuteTimeout(t *testing.T) {
	r := NewToolRegistry()
	r.Register(&fakeTool{
		name:    "slow",
		timeout: 1,
		execute: func(ctx context.Context, input json.RawMessage, tc *ToolContext) (*ToolResult, error) {
			select {
			case <-time.After(5 * time.Second):
				return &ToolResult{Content: "done"}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	})

	start := time.Now()
	res := r.Execute(context.Background(), "slow", json.RawMessage(`{}`), &ToolContext{})
	if !res.IsError || !strings.Contains(res.Content, "timed out after 1s") {
		t.Errorf("result = %+v", res)
	}
	if time.Since(start) > 3*time.Second {
		t.Errorf("timeout took too long: %v", time.Since(start))
	}
}

func TestRegistryExecuteWrapsErrors(t *testing.T) {
	r := NewToolRegistry()
	r.Register(&fakeTool{
		name: "broken",
		execute: func(ctx context.Context, input json.RawMessage, tc *ToolContext) (*ToolResult, error) {
			return nil, context.DeadlineExceeded
		},
	})

	res := r.Execute(context.Background(), "broken", json.RawMessage(`{}`), &ToolContext{})
	if !res.IsError || !strings.Contains(res.Content, "execution failed") {
		t.Errorf("result = %+v", res)
	}
}

// schemaTool declares a typed input schema for validation tests.
type schemaTool struct{}

func (t *schemaTool) Name() string        { return "typed" }
func (t *schemaTool) Description() string { return "schema validation fixture" }

func (t *schemaTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"count":{"type":"integer"}},"required":["count"]}`)
}

func (t *schemaTool) Execute(ctx context.Context, input json.RawMessage, tc *ToolContext) (*ToolResult, error) {
	return &ToolResult{Content: "typed ok"}, nil
}
