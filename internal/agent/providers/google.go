package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"github.com/wovenbot/loom/internal/agent"
	"github.com/wovenbot/loom/pkg/models"
)

// GoogleProvider streams chat completions from the Gemini REST API
// (streamGenerateContent with alt=sse) over plain HTTP, decoding the response
// through the shared SSE parser.
type GoogleProvider struct {
	// HTTPClient overrides http.DefaultClient, mainly for tests.
	HTTPClient *http.Client
}

const googleDefaultBaseURL = "https://generativelanguage.googleapis.com"

func (p *GoogleProvider) Name() string { return "google" }

func (p *GoogleProvider) ChatStream(ctx context.Context, cfg agent.ModelConfig, messages []*models.Message, tools []models.ToolDefinition) (<-chan models.StreamDelta, error) {
	reqBody, err := buildGeminiRequest(messages, tools, cfg)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("google: marshal request: %w", err)
	}

	base := cfg.BaseURL
	if base == "" {
		base = googleDefaultBaseURL
	}
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse&key=%s",
		base, url.PathEscape(cfg.Model), url.QueryEscape(cfg.APIKey))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	client := p.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, NewProviderError("google", cfg.Model, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("google: request failed: %s", bytes.TrimSpace(body))
		return nil, NewProviderError("google", cfg.Model, err).WithStatus(resp.StatusCode)
	}

	ch := make(chan models.StreamDelta)
	go drainGeminiStream(ctx, resp.Body, ch, cfg.Model)
	return ch, nil
}

type geminiRequest struct {
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	Contents          []geminiContent         `json:"contents"`
	Tools             []geminiTool            `json:"tools,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text             string                  `json:"text,omitempty"`
	FunctionCall     *geminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResponse `json:"functionResponse,omitempty"`
}

type geminiFunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type geminiFunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFunctionDecl `json:"functionDeclarations"`
}

type geminiFunctionDecl struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
}

// buildGeminiRequest maps the canonical transcript to Gemini contents. Gemini
// pairs function responses to calls by name rather than id, so the converter
// carries an id-to-name map built from the assistant turns.
func buildGeminiRequest(messages []*models.Message, tools []models.ToolDefinition, cfg agent.ModelConfig) (*geminiRequest, error) {
	req := &geminiRequest{}

	callNames := map[string]string{}
	for _, msg := range messages {
		for _, call := range msg.ToolCalls {
			callNames[call.ID] = call.Name
		}
	}

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleSystem:
			req.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: msg.Content}}}
		case models.RoleUser:
			req.Contents = append(req.Contents, geminiContent{
				Role:  "user",
				Parts: []geminiPart{{Text: msg.Content}},
			})
		case models.RoleAssistant:
			var parts []geminiPart
			if msg.Content != "" {
				parts = append(parts, geminiPart{Text: msg.Content})
			}
			for _, call := range msg.ToolCalls {
				parts = append(parts, geminiPart{FunctionCall: &geminiFunctionCall{
					Name: call.Name,
					Args: call.Input,
				}})
			}
			if len(parts) > 0 {
				req.Contents = append(req.Contents, geminiContent{Role: "model", Parts: parts})
			}
		case models.RoleTool:
			var parts []geminiPart
			for _, res := range msg.ToolResults {
				name := callNames[res.ToolCallID]
				if name == "" {
					return nil, fmt.Errorf("google: tool result %s has no matching call", res.ToolCallID)
				}
				response := map[string]any{"content": res.Content}
				if res.IsError {
					response = map[string]any{"error": res.Content}
				}
				parts = append(parts, geminiPart{FunctionResponse: &geminiFunctionResponse{
					Name:     name,
					Response: response,
				}})
			}
			req.Contents = append(req.Contents, geminiContent{Role: "user", Parts: parts})
		}
	}

	if len(tools) > 0 {
		tool := geminiTool{}
		for _, t := range tools {
			tool.FunctionDeclarations = append(tool.FunctionDeclarations, geminiFunctionDecl{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			})
		}
		req.Tools = []geminiTool{tool}
	}

	gen := &geminiGenerationConfig{MaxOutputTokens: maxTokensOrDefault(cfg.MaxTokens)}
	if cfg.Temperature > 0 {
		temp := cfg.Temperature
		gen.Temperature = &temp
	}
	req.GenerationConfig = gen

	return req, nil
}

type geminiChunk struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

// drainGeminiStream reads the SSE body and normalises each chunk. Gemini
// delivers a function call whole in a single part, so the adapter mints an id
// and emits the start/args/done triplet back to back.
func drainGeminiStream(ctx context.Context, body io.ReadCloser, ch chan<- models.StreamDelta, model string) {
	defer close(ch)
	defer body.Close()

	parser := NewSSEParser()
	buf := make([]byte, 4096)
	var stopReason string
	usage := &models.Usage{}

	for {
		n, err := body.Read(buf)
		for _, event := range parser.Feed(buf[:n]) {
			var chunk geminiChunk
			if jsonErr := json.Unmarshal([]byte(event.Data), &chunk); jsonErr != nil {
				continue
			}
			if chunk.UsageMetadata != nil {
				usage.InputTokens = chunk.UsageMetadata.PromptTokenCount
				usage.OutputTokens = chunk.UsageMetadata.CandidatesTokenCount
			}
			if len(chunk.Candidates) == 0 {
				continue
			}
			candidate := chunk.Candidates[0]
			if candidate.FinishReason != "" {
				stopReason = candidate.FinishReason
			}
			for _, part := range candidate.Content.Parts {
				if part.Text != "" {
					if !send(ctx, ch, models.TextDelta(part.Text)) {
						return
					}
				}
				if part.FunctionCall != nil {
					id := "call_" + uuid.NewString()
					args := string(part.FunctionCall.Args)
					if !send(ctx, ch, models.ToolCallStartDelta(id, part.FunctionCall.Name)) {
						return
					}
					if args != "" {
						if !send(ctx, ch, models.ToolCallArgsDelta(id, args)) {
							return
						}
					}
					if !send(ctx, ch, models.ToolCallDoneDelta(id)) {
						return
					}
				}
			}
		}
		if err == io.EOF {
			send(ctx, ch, models.MessageStopDelta(stopReason, usage))
			return
		}
		if err != nil {
			send(ctx, ch, models.ErrorDelta(NewProviderError("google", model, err)))
			return
		}
	}
}
