// Package agent implements the turn controller that interleaves streaming
// model calls with gated tool executions.
package agent

import (
	"context"
	"encoding/json"

	"github.com/wovenbot/loom/internal/sessions"
	"github.com/wovenbot/loom/pkg/models"
)

// ModelConfig selects a provider, a model, and the request parameters sent
// with every chat stream.
type ModelConfig struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	MaxTokens   int
	Temperature float64
}

// Provider is the streaming chat interface every model backend implements.
//
// ChatStream converts the canonical message sequence into the provider's wire
// shape, opens a streaming request, and emits normalised deltas on the
// returned channel. The channel is closed when the stream ends; a stream
// error is delivered in-band as a delta with Err set and terminates the
// stream. An error from ChatStream itself means the request could not be
// opened at all.
type Provider interface {
	Name() string
	ChatStream(ctx context.Context, cfg ModelConfig, messages []*models.Message, tools []models.ToolDefinition) (<-chan models.StreamDelta, error)
}

// ToolResult is the outcome of one tool execution. TimedOut marks results
// produced by the registry's deadline rather than the tool itself.
type ToolResult struct {
	Content  string
	IsError  bool
	TimedOut bool
}

// Spawner launches a sub-agent run in a fresh session and returns its final
// text. The runtime implements this; tools receive it through ToolContext.
type Spawner interface {
	Spawn(ctx context.Context, prompt string) (string, error)
}

// SandboxSpec tags a tool execution with the sandbox the operator configured.
// The core never enforces sandboxing; it only passes the descriptor through.
type SandboxSpec struct {
	Image   string
	WorkDir string
}

// ToolContext is the narrow slice of the runtime a tool may touch.
type ToolContext struct {
	SessionID  string
	WorkDir    string
	Store      sessions.Store
	Spawner    Spawner
	Sandbox    *SandboxSpec
	ConfigPath string
}

// Tool is the extension surface of the runtime.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Execute(ctx context.Context, input json.RawMessage, tc *ToolContext) (*ToolResult, error)
}

// ToolWithTimeout lets a tool declare its own execution timeout in seconds.
// Tools without it get the registry default.
type ToolWithTimeout interface {
	TimeoutSecs() int
}

// ToolWithTier lets a tool declare its own risk tier. Tools without it are
// Tier1 (workspace mutation).
type ToolWithTier interface {
	Tier() models.Tier
}

// ToolWithSandbox marks a tool as requiring sandboxed execution.
type ToolWithSandbox interface {
	RequiresSandbox() bool
}
