package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wovenbot/loom/internal/agent"
	"github.com/wovenbot/loom/pkg/models"
)

// SpawnAgentTool runs a prompt in a fresh sub-agent session and returns its
// final text. Spawning is privileged, so it is Tier3 and prompts for approval
// under the default policy.
type SpawnAgentTool struct{}

func (t *SpawnAgentTool) Name() string { return "spawn_agent" }

func (t *SpawnAgentTool) Description() string {
	return "Delegate a task to a sub-agent in a fresh session and return its final answer."
}

func (t *SpawnAgentTool) Tier() models.Tier { return models.Tier3 }

// TimeoutSecs is generous: a sub-agent run includes its own model calls.
func (t *SpawnAgentTool) TimeoutSecs() int { return 300 }

func (t *SpawnAgentTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"prompt": {"type": "string", "description": "Task for the sub-agent"}
		},
		"required": ["prompt"]
	}`)
}

func (t *SpawnAgentTool) Execute(ctx context.Context, input json.RawMessage, tc *agent.ToolContext) (*agent.ToolResult, error) {
	var args struct {
		Prompt string `json:"prompt"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, err
	}
	if strings.TrimSpace(args.Prompt) == "" {
		return nil, fmt.Errorf("prompt is required")
	}
	if tc.Spawner == nil {
		return nil, fmt.Errorf("sub-agent spawning is not available")
	}

	text, err := tc.Spawner.Spawn(ctx, args.Prompt)
	if err != nil {
		return nil, fmt.Errorf("sub-agent run failed: %w", err)
	}
	return &agent.ToolResult{Content: text}, nil
}
