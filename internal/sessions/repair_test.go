package sessions

import (
	"testing"

	"github.com/wovenbot/loom/pkg/models"
)

func assistantWithCalls(ids ...string) *models.Message {
	msg := &models.Message{Role: models.RoleAssistant}
	for _, id := range ids {
		msg.ToolCalls = append(msg.ToolCalls, models.ToolCall{ID: id, Name: "tool_" + id})
	}
	return msg
}

func toolResultMsg(ids ...string) *models.Message {
	msg := &models.Message{Role: models.RoleTool}
	for _, id := range ids {
		msg.ToolResults = append(msg.ToolResults, models.ToolResult{ToolCallID: id, Content: "ok"})
	}
	return msg
}

func TestRepairTranscriptWellFormedPassesThrough(t *testing.T) {
	msgs := []*models.Message{
		models.NewUserMessage("s1", "list files"),
		assistantWithCalls("tc1"),
		toolResultMsg("tc1"),
		{Role: models.RoleAssistant, Content: "done"},
	}

	report := RepairTranscript(msgs)
	if len(report.Added) != 0 || report.DroppedDuplicates != 0 || report.DroppedOrphans != 0 {
		t.Fatalf("unexpected changes: %+v", report)
	}
	if len(report.Messages) != 4 {
		t.Fatalf("message count = %d, want 4", len(report.Messages))
	}
}

func TestRepairTranscriptInsertsMissingResult(t *testing.T) {
	msgs := []*models.Message{
		assistantWithCalls("tc1", "tc2"),
		toolResultMsg("tc1"),
		{Role: models.RoleAssistant, Content: "next turn"},
	}

	report := RepairTranscript(msgs)
	if len(report.Added) != 1 {
		t.Fatalf("added = %d, want 1", len(report.Added))
	}
	synthetic := report.Added[0]
	if synthetic.ToolResults[0].ToolCallID != "tc2" {
		t.Errorf("synthetic result pairs %q, want tc2", synthetic.ToolResults[0].ToolCallID)
	}
	if !synthetic.ToolResults[0].IsError {
		t.Error("synthetic result should be marked as error")
	}
	if missing := ValidatePairing(report.Messages); len(missing) != 0 {
		t.Errorf("repaired transcript still missing results: %v", missing)
	}
}

func TestRepairTranscriptDropsOrphansAndDuplicates(t *testing.T) {
	msgs := []*models.Message{
		toolResultMsg("ghost"),
		assistantWithCalls("tc1"),
		toolResultMsg("tc1"),
		toolResultMsg("tc1"),
	}

	report := RepairTranscript(msgs)
	if report.DroppedOrphans != 1 {
		t.Errorf("dropped orphans = %d, want 1", report.DroppedOrphans)
	}
	if report.DroppedDuplicates != 1 {
		t.Errorf("dropped duplicates = %d, want 1", report.DroppedDuplicates)
	}

	count := 0
	for _, msg := range report.Messages {
		for _, tr := range msg.ToolResults {
			if tr.ToolCallID == "tc1" {
				count++
			}
		}
	}
	if count != 1 {
		t.Errorf("tc1 results in repaired transcript = %d, want 1", count)
	}
}

func TestRepairTranscriptMovesStrayResults(t *testing.T) {
	msgs := []*models.Message{
		assistantWithCalls("tc1"),
		models.NewUserMessage("s1", "are you done yet?"),
		toolResultMsg("tc1"),
	}

	report := RepairTranscript(msgs)
	if len(report.Messages) != 3 {
		t.Fatalf("message count = %d, want 3", len(report.Messages))
	}
	if report.Messages[1].Role != models.RoleTool {
		t.Errorf("expected tool result directly after assistant turn, got role %s", report.Messages[1].Role)
	}
	if report.Messages[2].Role != models.RoleUser {
		t.Errorf("expected user message moved after results, got role %s", report.Messages[2].Role)
	}
}

func TestValidatePairingReportsMissing(t *testing.T) {
	msgs := []*models.Message{
		assistantWithCalls("tc1", "tc2"),
		toolResultMsg("tc1"),
	}
	missing := ValidatePairing(msgs)
	if len(missing) != 1 || missing[0] != "tc2" {
		t.Errorf("missing = %v, want [tc2]", missing)
	}
}
