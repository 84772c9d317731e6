package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/wovenbot/loom/internal/agent"
	"github.com/wovenbot/loom/pkg/models"
)

func sseServer(t *testing.T, events ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, ev := range events {
			fmt.Fprintf(w, "data: %s\n\n", ev)
			flusher.Flush()
		}
	}))
}

func TestGoogleChatStreamText(t *testing.T) {
	srv := sseServer(t,
		`{"candidates":[{"content":{"parts":[{"text":"Hello "}]}}]}`,
		`{"candidates":[{"content":{"parts":[{"text":"world"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":3,"candidatesTokenCount":5}}`,
	)
	defer srv.Close()

	p := &GoogleProvider{}
	ch, err := p.ChatStream(context.Background(), agent.ModelConfig{
		Provider: "google", Model: "gemini-2.0-flash", APIKey: "k", BaseURL: srv.URL,
	}, []*models.Message{{Role: models.RoleUser, Content: "hi"}}, nil)
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}

	deltas := collect(t, ch)
	assertDeltaTypes(t, deltas, []models.DeltaType{
		models.DeltaText, models.DeltaText, models.DeltaMessageStop,
	})
	if deltas[0].Text+deltas[1].Text != "Hello world" {
		t.Errorf("text = %q%q", deltas[0].Text, deltas[1].Text)
	}
	stop := deltas[2]
	if stop.StopReason != "STOP" || stop.Usage == nil || stop.Usage.InputTokens != 3 || stop.Usage.OutputTokens != 5 {
		t.Errorf("stop = %+v usage = %+v", stop, stop.Usage)
	}
}

func TestGoogleChatStreamFunctionCall(t *testing.T) {
	srv := sseServer(t,
		`{"candidates":[{"content":{"parts":[{"functionCall":{"name":"sum","args":{"a":1,"b":2}}}]},"finishReason":"STOP"}]}`,
	)
	defer srv.Close()

	p := &GoogleProvider{}
	ch, err := p.ChatStream(context.Background(), agent.ModelConfig{
		Provider: "google", Model: "gemini-2.0-flash", APIKey: "k", BaseURL: srv.URL,
	}, []*models.Message{{Role: models.RoleUser, Content: "add"}}, nil)
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}

	deltas := collect(t, ch)
	assertDeltaTypes(t, deltas, []models.DeltaType{
		models.DeltaToolCallStart, models.DeltaToolCallArgs, models.DeltaToolCallDone, models.DeltaMessageStop,
	})
	if deltas[0].ToolName != "sum" || deltas[0].ToolCallID == "" {
		t.Errorf("start = %+v", deltas[0])
	}
	if deltas[1].ToolCallID != deltas[0].ToolCallID {
		t.Error("args delta not keyed to the started call")
	}
	var args map[string]int
	if err := json.Unmarshal([]byte(deltas[1].ArgsFragment), &args); err != nil || args["a"] != 1 || args["b"] != 2 {
		t.Errorf("args = %q (%v)", deltas[1].ArgsFragment, err)
	}
}

func TestGoogleChatStreamHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"rate limited"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := &GoogleProvider{}
	_, err := p.ChatStream(context.Background(), agent.ModelConfig{
		Provider: "google", Model: "gemini-2.0-flash", APIKey: "k", BaseURL: srv.URL,
	}, []*models.Message{{Role: models.RoleUser, Content: "hi"}}, nil)
	if err == nil {
		t.Fatal("expected error on 429")
	}
	pe, ok := AsProviderError(err)
	if !ok || pe.HTTPStatus() != http.StatusTooManyRequests {
		t.Errorf("err = %v", err)
	}
}

func TestBuildGeminiRequest(t *testing.T) {
	input := json.RawMessage(`{"path":"a.txt"}`)
	messages := []*models.Message{
		{Role: models.RoleSystem, Content: "be brief"},
		{Role: models.RoleUser, Content: "read it"},
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{ID: "c1", Name: "read_file", Input: input}}},
		{Role: models.RoleTool, ToolResults: []models.ToolResult{{ToolCallID: "c1", Content: "contents", IsError: false}}},
	}

	req, err := buildGeminiRequest(messages, []models.ToolDefinition{
		{Name: "read_file", Description: "reads", InputSchema: json.RawMessage(`{"type":"object"}`)},
	}, agent.ModelConfig{MaxTokens: 100})
	if err != nil {
		t.Fatalf("buildGeminiRequest: %v", err)
	}

	if req.SystemInstruction == nil || req.SystemInstruction.Parts[0].Text != "be brief" {
		t.Errorf("system = %+v", req.SystemInstruction)
	}
	if len(req.Contents) != 3 {
		t.Fatalf("contents = %d, want 3", len(req.Contents))
	}
	if req.Contents[1].Role != "model" || req.Contents[1].Parts[0].FunctionCall.Name != "read_file" {
		t.Errorf("assistant content = %+v", req.Contents[1])
	}
	// Results pair to calls by name, resolved through the id map.
	fr := req.Contents[2].Parts[0].FunctionResponse
	if fr == nil || fr.Name != "read_file" || fr.Response["content"] != "contents" {
		t.Errorf("function response = %+v", fr)
	}
	if req.GenerationConfig.MaxOutputTokens != 100 {
		t.Errorf("max tokens = %d", req.GenerationConfig.MaxOutputTokens)
	}
}

func TestBuildGeminiRequestOrphanResult(t *testing.T) {
	_, err := buildGeminiRequest([]*models.Message{
		{Role: models.RoleTool, ToolResults: []models.ToolResult{{ToolCallID: "ghost", Content: "x"}}},
	}, nil, agent.ModelConfig{})
	if err == nil || !strings.Contains(err.Error(), "no matching call") {
		t.Errorf("err = %v", err)
	}
}
