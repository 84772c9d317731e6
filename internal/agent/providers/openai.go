package providers

import (
	"context"
	"errors"
	"io"
	"sort"

	openai "github.com/sashabaranov/go-openai"

	"github.com/wovenbot/loom/internal/agent"
	"github.com/wovenbot/loom/pkg/models"
)

// OpenAIProvider streams chat completions from the OpenAI API (or any
// OpenAI-compatible endpoint reachable through BaseURL) via
// sashabaranov/go-openai.
type OpenAIProvider struct{}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) ChatStream(ctx context.Context, cfg agent.ModelConfig, messages []*models.Message, tools []models.ToolDefinition) (<-chan models.StreamDelta, error) {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	client := openai.NewClientWithConfig(clientCfg)
	return openAIStream(ctx, client, "openai", cfg, messages, tools)
}

// AzureProvider streams chat completions from an Azure OpenAI deployment.
// BaseURL is the resource endpoint; the model names the deployment.
type AzureProvider struct{}

func (p *AzureProvider) Name() string { return "azure" }

func (p *AzureProvider) ChatStream(ctx context.Context, cfg agent.ModelConfig, messages []*models.Message, tools []models.ToolDefinition) (<-chan models.StreamDelta, error) {
	clientCfg := openai.DefaultAzureConfig(cfg.APIKey, cfg.BaseURL)
	client := openai.NewClientWithConfig(clientCfg)
	return openAIStream(ctx, client, "azure", cfg, messages, tools)
}

// openAIStream opens the streaming request and drains it into canonical
// deltas. Both the OpenAI and Azure adapters share this path since the wire
// shape is identical.
func openAIStream(ctx context.Context, client *openai.Client, provider string, cfg agent.ModelConfig, messages []*models.Message, tools []models.ToolDefinition) (<-chan models.StreamDelta, error) {
	req := openai.ChatCompletionRequest{
		Model:    cfg.Model,
		Messages: convertOpenAIMessages(messages),
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if cfg.MaxTokens > 0 {
		req.MaxTokens = cfg.MaxTokens
	}
	if cfg.Temperature > 0 {
		req.Temperature = float32(cfg.Temperature)
	}
	for _, tool := range tools {
		req.Tools = append(req.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		})
	}

	stream, err := client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, wrapOpenAIError(err, provider, cfg.Model)
	}

	ch := make(chan models.StreamDelta)
	go drainOpenAIStream(ctx, stream, ch, provider, cfg.Model)
	return ch, nil
}

// convertOpenAIMessages maps the canonical transcript to the chat completions
// shape. A tool-role message holding several results becomes one tool message
// per result, since the API pairs results to calls one at a time.
func convertOpenAIMessages(messages []*models.Message) []openai.ChatCompletionMessage {
	var result []openai.ChatCompletionMessage
	for _, msg := range messages {
		switch msg.Role {
		case models.RoleSystem:
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: msg.Content,
			})
		case models.RoleUser:
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Content,
			})
		case models.RoleAssistant:
			m := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			for _, call := range msg.ToolCalls {
				m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
					ID:   call.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      call.Name,
						Arguments: string(call.Input),
					},
				})
			}
			result = append(result, m)
		case models.RoleTool:
			for _, res := range msg.ToolResults {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					ToolCallID: res.ToolCallID,
					Content:    res.Content,
				})
			}
		}
	}
	return result
}

// drainOpenAIStream normalises the chunk stream. Tool calls arrive indexed:
// the first chunk for an index carries the id and name, later chunks append
// argument fragments. Done deltas are emitted once the stream finishes, in
// index order.
func drainOpenAIStream(ctx context.Context, stream *openai.ChatCompletionStream, ch chan<- models.StreamDelta, provider, model string) {
	defer close(ch)
	defer stream.Close()

	openCalls := map[int]string{}
	var stopReason string
	usage := &models.Usage{}

	finish := func() {
		indexes := make([]int, 0, len(openCalls))
		for i := range openCalls {
			indexes = append(indexes, i)
		}
		sort.Ints(indexes)
		for _, i := range indexes {
			if !send(ctx, ch, models.ToolCallDoneDelta(openCalls[i])) {
				return
			}
		}
		send(ctx, ch, models.MessageStopDelta(stopReason, usage))
	}

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			finish()
			return
		}
		if err != nil {
			send(ctx, ch, models.ErrorDelta(wrapOpenAIError(err, provider, model)))
			return
		}

		if resp.Usage != nil {
			usage.InputTokens = resp.Usage.PromptTokens
			usage.OutputTokens = resp.Usage.CompletionTokens
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]

		if choice.Delta.Content != "" {
			if !send(ctx, ch, models.TextDelta(choice.Delta.Content)) {
				return
			}
		}
		for _, call := range choice.Delta.ToolCalls {
			idx := 0
			if call.Index != nil {
				idx = *call.Index
			}
			if call.ID != "" {
				openCalls[idx] = call.ID
				if !send(ctx, ch, models.ToolCallStartDelta(call.ID, call.Function.Name)) {
					return
				}
			}
			if call.Function.Arguments != "" {
				if id, ok := openCalls[idx]; ok {
					if !send(ctx, ch, models.ToolCallArgsDelta(id, call.Function.Arguments)) {
						return
					}
				}
			}
		}
		if choice.FinishReason != "" {
			stopReason = string(choice.FinishReason)
		}
	}
}

func wrapOpenAIError(err error, provider, model string) error {
	if _, ok := AsProviderError(err); ok {
		return err
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		pe := NewProviderError(provider, model, err).WithStatus(apiErr.HTTPStatusCode)
		if code, ok := apiErr.Code.(string); ok {
			pe = pe.WithCode(code)
		}
		return pe.WithMessage(apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return NewProviderError(provider, model, err).WithStatus(reqErr.HTTPStatusCode)
	}
	return NewProviderError(provider, model, err)
}
