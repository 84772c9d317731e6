package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/wovenbot/loom/internal/agent"
	"github.com/wovenbot/loom/pkg/models"
)

// CohereProvider streams chat completions from the Cohere v2 chat API over
// plain HTTP, decoding the response through the shared SSE parser.
type CohereProvider struct {
	// HTTPClient overrides http.DefaultClient, mainly for tests.
	HTTPClient *http.Client
}

const cohereDefaultBaseURL = "https://api.cohere.com"

func (p *CohereProvider) Name() string { return "cohere" }

func (p *CohereProvider) ChatStream(ctx context.Context, cfg agent.ModelConfig, messages []*models.Message, tools []models.ToolDefinition) (<-chan models.StreamDelta, error) {
	reqBody := buildCohereRequest(cfg, messages, tools)
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("cohere: marshal request: %w", err)
	}

	base := cfg.BaseURL
	if base == "" {
		base = cohereDefaultBaseURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/v2/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)

	client := p.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, NewProviderError("cohere", cfg.Model, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("cohere: request failed: %s", bytes.TrimSpace(body))
		return nil, NewProviderError("cohere", cfg.Model, err).WithStatus(resp.StatusCode)
	}

	ch := make(chan models.StreamDelta)
	go drainCohereStream(ctx, resp.Body, ch, cfg.Model)
	return ch, nil
}

type cohereRequest struct {
	Model       string          `json:"model"`
	Messages    []cohereMessage `json:"messages"`
	Tools       []cohereTool    `json:"tools,omitempty"`
	Stream      bool            `json:"stream"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
}

type cohereMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content,omitempty"`
	ToolCalls  []cohereToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type cohereToolCall struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Function cohereFunction `json:"function"`
}

type cohereFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type cohereTool struct {
	Type     string             `json:"type"`
	Function cohereToolFunction `json:"function"`
}

type cohereToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

func buildCohereRequest(cfg agent.ModelConfig, messages []*models.Message, tools []models.ToolDefinition) *cohereRequest {
	req := &cohereRequest{
		Model:     cfg.Model,
		Stream:    true,
		MaxTokens: maxTokensOrDefault(cfg.MaxTokens),
	}
	if cfg.Temperature > 0 {
		temp := cfg.Temperature
		req.Temperature = &temp
	}

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleSystem:
			req.Messages = append(req.Messages, cohereMessage{Role: "system", Content: msg.Content})
		case models.RoleUser:
			req.Messages = append(req.Messages, cohereMessage{Role: "user", Content: msg.Content})
		case models.RoleAssistant:
			m := cohereMessage{Role: "assistant", Content: msg.Content}
			for _, call := range msg.ToolCalls {
				m.ToolCalls = append(m.ToolCalls, cohereToolCall{
					ID:   call.ID,
					Type: "function",
					Function: cohereFunction{
						Name:      call.Name,
						Arguments: string(call.Input),
					},
				})
			}
			req.Messages = append(req.Messages, m)
		case models.RoleTool:
			// One tool message per result, paired by tool_call_id.
			for _, res := range msg.ToolResults {
				req.Messages = append(req.Messages, cohereMessage{
					Role:       "tool",
					ToolCallID: res.ToolCallID,
					Content:    res.Content,
				})
			}
		}
	}

	for _, tool := range tools {
		req.Tools = append(req.Tools, cohereTool{
			Type: "function",
			Function: cohereToolFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		})
	}

	return req
}

type cohereChunk struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
	Delta struct {
		Message struct {
			Content struct {
				Text string `json:"text"`
			} `json:"content"`
			ToolCalls struct {
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
		Usage        struct {
			Tokens struct {
				InputTokens  float64 `json:"input_tokens"`
				OutputTokens float64 `json:"output_tokens"`
			} `json:"tokens"`
		} `json:"usage"`
	} `json:"delta"`
}

// drainCohereStream reads the SSE body and normalises each typed chunk.
// Tool calls arrive indexed: tool-call-start carries the id and name,
// tool-call-delta appends argument fragments, tool-call-end closes the call.
func drainCohereStream(ctx context.Context, body io.ReadCloser, ch chan<- models.StreamDelta, model string) {
	defer close(ch)
	defer body.Close()

	parser := NewSSEParser()
	buf := make([]byte, 4096)
	openCalls := map[int]string{}
	var stopReason string
	usage := &models.Usage{}

	for {
		n, err := body.Read(buf)
		for _, event := range parser.Feed(buf[:n]) {
			if event.Data == "" || event.Data == "[DONE]" {
				continue
			}
			var chunk cohereChunk
			if jsonErr := json.Unmarshal([]byte(event.Data), &chunk); jsonErr != nil {
				continue
			}
			switch chunk.Type {
			case "content-delta":
				if text := chunk.Delta.Message.Content.Text; text != "" {
					if !send(ctx, ch, models.TextDelta(text)) {
						return
					}
				}
			case "tool-call-start":
				call := chunk.Delta.Message.ToolCalls
				openCalls[chunk.Index] = call.ID
				if !send(ctx, ch, models.ToolCallStartDelta(call.ID, call.Function.Name)) {
					return
				}
				if args := call.Function.Arguments; args != "" {
					if !send(ctx, ch, models.ToolCallArgsDelta(call.ID, args)) {
						return
					}
				}
			case "tool-call-delta":
				if id, ok := openCalls[chunk.Index]; ok {
					if args := chunk.Delta.Message.ToolCalls.Function.Arguments; args != "" {
						if !send(ctx, ch, models.ToolCallArgsDelta(id, args)) {
							return
						}
					}
				}
			case "tool-call-end":
				if id, ok := openCalls[chunk.Index]; ok {
					if !send(ctx, ch, models.ToolCallDoneDelta(id)) {
						return
					}
					delete(openCalls, chunk.Index)
				}
			case "message-end":
				if chunk.Delta.FinishReason != "" {
					stopReason = chunk.Delta.FinishReason
				}
				usage.InputTokens = int(chunk.Delta.Usage.Tokens.InputTokens)
				usage.OutputTokens = int(chunk.Delta.Usage.Tokens.OutputTokens)
			}
		}
		if err == io.EOF {
			send(ctx, ch, models.MessageStopDelta(stopReason, usage))
			return
		}
		if err != nil {
			send(ctx, ch, models.ErrorDelta(NewProviderError("cohere", model, err)))
			return
		}
	}
}
