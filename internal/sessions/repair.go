package sessions

import (
	"time"

	"github.com/google/uuid"

	"github.com/wovenbot/loom/pkg/models"
)

// RepairReport describes what transcript repair changed.
type RepairReport struct {
	// Messages is the repaired transcript.
	Messages []*models.Message
	// Added holds the synthetic tool results that were inserted.
	Added []*models.Message
	// DroppedDuplicates counts duplicate tool results that were dropped.
	DroppedDuplicates int
	// DroppedOrphans counts tool results with no matching tool call.
	DroppedOrphans int
}

// RepairTranscript heals a loaded history so every assistant tool call is
// immediately followed by a matching tool result. Model APIs reject
// transcripts that violate this pairing, and a crash between persisting the
// assistant turn and its results can leave the store in that state.
//
// The repair moves stray results next to their assistant turn, inserts a
// synthetic error result for each missing id, and drops duplicates and
// orphans.
func RepairTranscript(messages []*models.Message) RepairReport {
	report := RepairReport{Messages: make([]*models.Message, 0, len(messages))}
	seen := make(map[string]bool)

	for i := 0; i < len(messages); i++ {
		msg := messages[i]
		if msg == nil {
			continue
		}

		if msg.Role != models.RoleAssistant {
			if msg.Role == models.RoleTool && len(msg.ToolResults) > 0 {
				// A result here has no preceding tool call to pair with.
				report.DroppedOrphans += len(msg.ToolResults)
				continue
			}
			report.Messages = append(report.Messages, msg)
			continue
		}

		if len(msg.ToolCalls) == 0 {
			report.Messages = append(report.Messages, msg)
			continue
		}

		wanted := make(map[string]bool, len(msg.ToolCalls))
		for _, tc := range msg.ToolCalls {
			wanted[tc.ID] = true
		}

		// Scan forward to the next assistant turn, collecting results that
		// belong to this one.
		results := make(map[string]*models.Message)
		var remainder []*models.Message
		j := i + 1
		for ; j < len(messages); j++ {
			next := messages[j]
			if next == nil {
				continue
			}
			if next.Role == models.RoleAssistant {
				break
			}
			if next.Role == models.RoleTool && len(next.ToolResults) > 0 {
				kept := make([]models.ToolResult, 0, len(next.ToolResults))
				for _, tr := range next.ToolResults {
					switch {
					case tr.ToolCallID == "" || !wanted[tr.ToolCallID]:
						report.DroppedOrphans++
					case seen[tr.ToolCallID]:
						report.DroppedDuplicates++
					default:
						seen[tr.ToolCallID] = true
						kept = append(kept, tr)
					}
				}
				if len(kept) == 0 {
					continue
				}
				copied := *next
				copied.ToolResults = kept
				for _, tr := range kept {
					results[tr.ToolCallID] = &copied
				}
				continue
			}
			remainder = append(remainder, next)
		}

		report.Messages = append(report.Messages, msg)

		// Emit results in tool call order, synthesising missing ones.
		emitted := make(map[*models.Message]bool)
		for _, tc := range msg.ToolCalls {
			if resultMsg, ok := results[tc.ID]; ok {
				if !emitted[resultMsg] {
					report.Messages = append(report.Messages, resultMsg)
					emitted[resultMsg] = true
				}
				continue
			}
			synthetic := missingToolResult(tc.ID)
			synthetic.SessionID = msg.SessionID
			if !msg.CreatedAt.IsZero() {
				synthetic.CreatedAt = msg.CreatedAt.Add(time.Nanosecond)
			}
			seen[tc.ID] = true
			report.Added = append(report.Added, synthetic)
			report.Messages = append(report.Messages, synthetic)
		}

		report.Messages = append(report.Messages, remainder...)
		i = j - 1
	}

	return report
}

func missingToolResult(toolCallID string) *models.Message {
	return &models.Message{
		ID:   uuid.NewString(),
		Role: models.RoleTool,
		ToolResults: []models.ToolResult{{
			ToolCallID: toolCallID,
			Content:    "tool result missing from session history; synthetic error result inserted",
			IsError:    true,
		}},
		CreatedAt: time.Now(),
	}
}

// ValidatePairing returns the ids of tool calls with no matching result.
func ValidatePairing(messages []*models.Message) []string {
	pending := make(map[string]bool)
	var missing []string

	for _, msg := range messages {
		if msg == nil {
			continue
		}
		switch msg.Role {
		case models.RoleAssistant:
			for id := range pending {
				missing = append(missing, id)
			}
			pending = make(map[string]bool)
			for _, tc := range msg.ToolCalls {
				pending[tc.ID] = true
			}
		case models.RoleTool:
			for _, tr := range msg.ToolResults {
				delete(pending, tr.ToolCallID)
			}
		}
	}
	for id := range pending {
		missing = append(missing, id)
	}
	return missing
}
