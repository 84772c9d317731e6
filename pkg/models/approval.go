package models

import "time"

// ApprovalRequest is a pending human decision for a suspended tool call.
type ApprovalRequest struct {
	ID           string    `json:"id"`
	ToolName     string    `json:"tool_name"`
	Tier         Tier      `json:"tier"`
	InputSummary string    `json:"input_summary"`
	SessionID    string    `json:"session_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// ApprovalVerdict is the resolution of an approval request.
type ApprovalVerdict string

const (
	VerdictApproved ApprovalVerdict = "approved"
	VerdictDenied   ApprovalVerdict = "denied"
	VerdictTimeout  ApprovalVerdict = "timeout"
)

// ApprovalDecision carries the verdict and, for denials, a reason.
type ApprovalDecision struct {
	Verdict ApprovalVerdict `json:"verdict"`
	Reason  string          `json:"reason,omitempty"`
}

// Approved builds an approval decision.
func Approved() ApprovalDecision {
	return ApprovalDecision{Verdict: VerdictApproved}
}

// Denied builds a denial with a human-readable reason.
func Denied(reason string) ApprovalDecision {
	return ApprovalDecision{Verdict: VerdictDenied, Reason: reason}
}
