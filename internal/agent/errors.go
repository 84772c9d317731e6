package agent

import (
	"errors"
	"fmt"
)

// ErrCancelled is returned from Run when the context is cancelled mid-run.
var ErrCancelled = errors.New("run cancelled")

// MaxTurnsError reports a run that used its full turn budget with tool calls
// still pending.
type MaxTurnsError struct {
	MaxTurns int
}

func (e *MaxTurnsError) Error() string {
	return fmt.Sprintf("max turns exceeded (%d)", e.MaxTurns)
}

// MaxDurationError reports a run that hit its wall-clock budget.
type MaxDurationError struct {
	MaxDurationSecs int
}

func (e *MaxDurationError) Error() string {
	return fmt.Sprintf("max duration exceeded (%ds)", e.MaxDurationSecs)
}

// ToolNotFoundError reports a dispatch against an unregistered tool name.
type ToolNotFoundError struct {
	Tool string
}

func (e *ToolNotFoundError) Error() string {
	return "tool not found: " + e.Tool
}

// ToolTimeoutError reports a tool execution that exceeded its timeout.
type ToolTimeoutError struct {
	Tool        string
	TimeoutSecs int
}

func (e *ToolTimeoutError) Error() string {
	return fmt.Sprintf("tool %s timed out after %ds", e.Tool, e.TimeoutSecs)
}

// ToolValidationError reports input that failed the tool's schema.
type ToolValidationError struct {
	Tool   string
	Reason string
}

func (e *ToolValidationError) Error() string {
	return fmt.Sprintf("tool %s input validation failed: %s", e.Tool, e.Reason)
}

// ToolExecutionError wraps a failure from inside the tool.
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s execution failed: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }
