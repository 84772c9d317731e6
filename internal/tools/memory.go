package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wovenbot/loom/internal/agent"
	"github.com/wovenbot/loom/pkg/models"
)

const defaultSearchLimit = 10

// MemorySearchTool searches past transcript messages through the session
// store. Read-only, so Tier0.
type MemorySearchTool struct{}

func (t *MemorySearchTool) Name() string { return "memory_search" }

func (t *MemorySearchTool) Description() string {
	return "Search earlier conversation messages for a phrase."
}

func (t *MemorySearchTool) Tier() models.Tier { return models.Tier0 }

func (t *MemorySearchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "Text to search for"},
			"limit": {"type": "integer", "description": "Maximum results, default 10"}
		},
		"required": ["query"]
	}`)
}

func (t *MemorySearchTool) Execute(ctx context.Context, input json.RawMessage, tc *agent.ToolContext) (*agent.ToolResult, error) {
	var args struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, err
	}
	if strings.TrimSpace(args.Query) == "" {
		return nil, fmt.Errorf("query is required")
	}
	if args.Limit <= 0 {
		args.Limit = defaultSearchLimit
	}
	if tc.Store == nil {
		return nil, fmt.Errorf("no session store available")
	}

	hits, err := tc.Store.Search(ctx, args.Query, args.Limit)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return &agent.ToolResult{Content: "no matches"}, nil
	}

	var b strings.Builder
	for _, hit := range hits {
		fmt.Fprintf(&b, "[%s] %s: %s\n", hit.SessionID, hit.Message.Role, hit.Message.Content)
	}
	return &agent.ToolResult{Content: strings.TrimRight(b.String(), "\n")}, nil
}
