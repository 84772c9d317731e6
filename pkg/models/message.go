// Package models defines the canonical data types shared across the Loom
// runtime: messages, tool calls and results, stream deltas, security tiers,
// approvals, and broadcast events.
//
// Everything the agent loop, the providers, and the stores exchange is
// expressed in these types. Provider adapters translate them to and from each
// vendor's wire format; nothing outside the adapters ever sees a provider
// shape.
package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry in a session transcript.
//
// A message carries at most one of three payload kinds, matching its role:
// plain content for system/user/assistant turns, tool calls on an assistant
// turn that requested execution, and tool results on the tool turn that
// answers it. Messages are append-only within a session.
type Message struct {
	ID          string       `json:"id"`
	SessionID   string       `json:"session_id"`
	Role        Role         `json:"role"`
	Content     string       `json:"content,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// NewUserMessage builds a user message for the given session.
func NewUserMessage(sessionID, content string) *Message {
	return &Message{
		SessionID: sessionID,
		Role:      RoleUser,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// ToolCall represents a model's request to execute a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult represents the output of a tool execution, keyed to the
// originating call by ToolCallID.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// ToolDefinition is the model-facing description of a registered tool.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Session binds an external identity (for example "telegram:user:42") to a
// conversational context. The session manager keeps these in process only;
// the transcript itself lives in the session store.
type Session struct {
	ID         string    `json:"id"`
	Key        string    `json:"key"`
	Channel    string    `json:"channel"`
	StartedAt  time.Time `json:"started_at"`
	LastActive time.Time `json:"last_active"`
}
