package models

import "time"

// AgentEventType identifies the kind of an AgentEvent.
type AgentEventType string

const (
	// EventTokenChunk carries a fragment of streamed assistant text.
	EventTokenChunk AgentEventType = "token_chunk"

	// EventToolCallStarted announces a tool call observed on the stream.
	EventToolCallStarted AgentEventType = "tool_call_started"

	// EventToolCallCompleted reports a tool call's outcome.
	EventToolCallCompleted AgentEventType = "tool_call_completed"

	// EventApprovalRequested announces a suspended tool call awaiting a
	// human decision.
	EventApprovalRequested AgentEventType = "approval_requested"

	// EventApprovalResolved reports the resolution of an approval request.
	EventApprovalResolved AgentEventType = "approval_resolved"

	// EventTurnStarted and EventTurnCompleted bracket one model/tool turn.
	EventTurnStarted   AgentEventType = "turn_started"
	EventTurnCompleted AgentEventType = "turn_completed"

	// EventRunCompleted reports the final assistant text of a run.
	EventRunCompleted AgentEventType = "run_completed"

	// EventWarning reports a non-fatal anomaly, e.g. a partial stream
	// accepted as a turn result.
	EventWarning AgentEventType = "warning"

	// EventError reports a run-terminating failure.
	EventError AgentEventType = "error"
)

// AgentEvent is the broadcast record published on the event bus. Observers
// (terminals, web sockets, channel adapters, telemetry) consume these; the
// loop never waits for them.
type AgentEvent struct {
	Type      AgentEventType `json:"type"`
	SessionID string         `json:"session_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`

	// Text carries the token fragment, final text, warning, or error
	// message depending on Type.
	Text string `json:"text,omitempty"`

	// ToolCallID and ToolName are set for tool call events.
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`

	// IsError is set on EventToolCallCompleted.
	IsError bool `json:"is_error,omitempty"`

	// Approval is set on EventApprovalRequested.
	Approval *ApprovalRequest `json:"approval,omitempty"`

	// ApprovalID and Approved are set on EventApprovalResolved.
	ApprovalID string `json:"approval_id,omitempty"`
	Approved   bool   `json:"approved,omitempty"`

	// Turn is set on turn events.
	Turn int `json:"turn,omitempty"`
}

// NewAgentEvent creates an event of the given type, stamped now.
func NewAgentEvent(t AgentEventType, sessionID string) AgentEvent {
	return AgentEvent{Type: t, SessionID: sessionID, Timestamp: time.Now()}
}

// WithText sets the event text.
func (e AgentEvent) WithText(text string) AgentEvent {
	e.Text = text
	return e
}

// WithToolCall sets the tool call id and name.
func (e AgentEvent) WithToolCall(id, name string) AgentEvent {
	e.ToolCallID = id
	e.ToolName = name
	return e
}

// WithTurn sets the turn number.
func (e AgentEvent) WithTurn(n int) AgentEvent {
	e.Turn = n
	return e
}
