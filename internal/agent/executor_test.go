package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wovenbot/loom/internal/bus"
	"github.com/wovenbot/loom/internal/config"
	"github.com/wovenbot/loom/pkg/models"
)

func newTestExecutor(t *testing.T, sec config.SecurityConfig, tools ...Tool) *ToolExecutor {
	t.Helper()
	registry := NewToolRegistry()
	for _, tool := range tools {
		registry.Register(tool)
	}
	eventBus := bus.New(64)
	broker := NewApprovalBroker(eventBus)
	gate := NewSecurityGate(PolicyFromConfig(sec), registry, broker, nil, nil)
	return NewToolExecutor(registry, gate, eventBus, nil, nil, 4)
}

func TestExecutorParallelPreservesOrder(t *testing.T) {
	// Later calls finish first; results must still come back in emission
	// order.
	mkTool := func(name string, delay time.Duration) Tool {
		return &fakeTool{
			name: name,
			tier: models.Tier0,
			execute: func(ctx context.Context, input json.RawMessage, tc *ToolContext) (*ToolResult, error) {
				time.Sleep(delay)
				return &ToolResult{Content: "from " + name}, nil
			},
		}
	}
	exec := newTestExecutor(t, config.SecurityConfig{},
		mkTool("slow", 100*time.Millisecond),
		mkTool("mid", 50*time.Millisecond),
		mkTool("fast", 0),
	)

	calls := []models.ToolCall{
		{ID: "c1", Name: "slow", Input: json.RawMessage(`{}`)},
		{ID: "c2", Name: "mid", Input: json.RawMessage(`{}`)},
		{ID: "c3", Name: "fast", Input: json.RawMessage(`{}`)},
	}
	results := exec.ExecuteBatch(context.Background(), calls, &ToolContext{SessionID: "s1"}, true)

	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	for i, want := range []string{"c1", "c2", "c3"} {
		if results[i].ToolCallID != want {
			t.Errorf("results[%d].ToolCallID = %s, want %s", i, results[i].ToolCallID, want)
		}
	}
	if results[0].Content != "from slow" || results[2].Content != "from fast" {
		t.Errorf("results content = %+v", results)
	}
}

func TestExecutorCanRunConcurrently(t *testing.T) {
	exec := newTestExecutor(t, config.SecurityConfig{
		NeverAsk: []string{"trusted"},
	},
		&fakeTool{name: "pure", tier: models.Tier0},
		&fakeTool{name: "trusted", tier: models.Tier3},
		&fakeTool{name: "risky", tier: models.Tier2},
	)

	safe := []models.ToolCall{{Name: "pure"}, {Name: "trusted"}}
	if !exec.CanRunConcurrently(safe) {
		t.Error("all-T0/never_ask batch should be concurrent-safe")
	}

	unsafe := []models.ToolCall{{Name: "pure"}, {Name: "risky"}}
	if exec.CanRunConcurrently(unsafe) {
		t.Error("batch with a T2 tool should not be concurrent-safe")
	}
}

func TestExecutorSequentialOrder(t *testing.T) {
	var order atomic.Int32
	mkTool := func(name string) Tool {
		return &fakeTool{
			name: name,
			tier: models.Tier1,
			execute: func(ctx context.Context, input json.RawMessage, tc *ToolContext) (*ToolResult, error) {
				return &ToolResult{Content: fmt.Sprintf("%s:%d", name, order.Add(1))}, nil
			},
		}
	}
	exec := newTestExecutor(t, config.SecurityConfig{}, mkTool("a"), mkTool("b"))

	calls := []models.ToolCall{
		{ID: "c1", Name: "a", Input: json.RawMessage(`{}`)},
		{ID: "c2", Name: "b", Input: json.RawMessage(`{}`)},
	}
	results := exec.ExecuteBatch(context.Background(), calls, &ToolContext{SessionID: "s1"}, true)

	// Tier1 forces sequential execution even with parallel enabled.
	if results[0].Content != "a:1" || results[1].Content != "b:2" {
		t.Errorf("results = %+v", results)
	}
}

func TestExecutorStats(t *testing.T) {
	exec := newTestExecutor(t, config.SecurityConfig{
		AlwaysDeny: []string{"blocked"},
	},
		&fakeTool{name: "ok", tier: models.Tier0},
		&fakeTool{
			name: "broken",
			tier: models.Tier0,
			execute: func(ctx context.Context, input json.RawMessage, tc *ToolContext) (*ToolResult, error) {
				return &ToolResult{Content: "boom", IsError: true}, nil
			},
		},
		&fakeTool{name: "blocked", tier: models.Tier0},
	)

	exec.ExecuteBatch(context.Background(), []models.ToolCall{
		{ID: "c1", Name: "ok", Input: json.RawMessage(`{}`)},
		{ID: "c2", Name: "broken", Input: json.RawMessage(`{}`)},
		{ID: "c3", Name: "blocked", Input: json.RawMessage(`{}`)},
	}, &ToolContext{SessionID: "s1"}, false)

	stats := exec.Stats()
	if stats.Executed != 3 || stats.Failed != 1 || stats.Denied != 1 || stats.TimedOut != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestExecutorDeniedCallProducesErrorResult(t *testing.T) {
	exec := newTestExecutor(t, config.SecurityConfig{
		AlwaysDeny: []string{"blocked"},
	}, &fakeTool{name: "blocked", tier: models.Tier0})

	results := exec.ExecuteBatch(context.Background(), []models.ToolCall{
		{ID: "c1", Name: "blocked", Input: json.RawMessage(`{}`)},
	}, &ToolContext{SessionID: "s1"}, false)

	if len(results) != 1 || !results[0].IsError {
		t.Errorf("results = %+v", results)
	}
	if results[0].ToolCallID != "c1" {
		t.Errorf("result not keyed to originating call: %+v", results[0])
	}
}
