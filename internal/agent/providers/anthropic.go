package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/wovenbot/loom/internal/agent"
	"github.com/wovenbot/loom/pkg/models"
)

// AnthropicProvider streams chat completions from the Anthropic Messages API
// via the official SDK. The SDK handles the SSE transport; this adapter only
// converts shapes in both directions.
type AnthropicProvider struct{}

func (p *AnthropicProvider) Name() string { return "anthropic" }

// ChatStream opens a streaming message request and emits normalised deltas.
// Request construction errors are returned directly; transport errors surface
// in-band as a terminal error delta, which the retry wrapper classifies.
func (p *AnthropicProvider) ChatStream(ctx context.Context, cfg agent.ModelConfig, messages []*models.Message, tools []models.ToolDefinition) (<-chan models.StreamDelta, error) {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(opts...)

	params, err := p.buildParams(cfg, messages, tools)
	if err != nil {
		return nil, err
	}

	stream := client.Messages.NewStreaming(ctx, *params)

	ch := make(chan models.StreamDelta)
	go p.drain(ctx, stream, ch, cfg.Model)
	return ch, nil
}

func (p *AnthropicProvider) buildParams(cfg agent.ModelConfig, messages []*models.Message, tools []models.ToolDefinition) (*anthropic.MessageNewParams, error) {
	converted, system, err := p.convertMessages(messages)
	if err != nil {
		return nil, err
	}

	params := &anthropic.MessageNewParams{
		Model:     anthropic.Model(cfg.Model),
		Messages:  converted,
		MaxTokens: int64(maxTokensOrDefault(cfg.MaxTokens)),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: system}}
	}
	if cfg.Temperature > 0 {
		params.Temperature = anthropic.Float(cfg.Temperature)
	}

	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
			return nil, fmt.Errorf("anthropic: invalid schema for tool %s: %w", tool.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("anthropic: invalid schema for tool %s", tool.Name)
		}
		param.OfTool.Description = anthropic.String(tool.Description)
		params.Tools = append(params.Tools, param)
	}

	return params, nil
}

// convertMessages maps the canonical transcript to Anthropic's content-block
// form. The system message is pulled out; tool-role messages become user
// messages carrying tool_result blocks.
func (p *AnthropicProvider) convertMessages(messages []*models.Message) ([]anthropic.MessageParam, string, error) {
	var result []anthropic.MessageParam
	var system string

	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			system = msg.Content
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, res := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(res.ToolCallID, res.Content, res.IsError))
		}
		for _, call := range msg.ToolCalls {
			var input map[string]interface{}
			if err := json.Unmarshal(call.Input, &input); err != nil {
				return nil, "", fmt.Errorf("anthropic: invalid input for tool call %s: %w", call.ID, err)
			}
			content = append(content, anthropic.NewToolUseBlock(call.ID, input, call.Name))
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}

	return result, system, nil
}

// drain consumes the SDK's event stream and emits canonical deltas. A tool-use
// block arrives as content_block_start with the id and name, then
// input_json_delta fragments, then content_block_stop.
func (p *AnthropicProvider) drain(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], ch chan<- models.StreamDelta, model string) {
	defer close(ch)

	var currentToolID string
	var stopReason string
	usage := &models.Usage{}

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			if start.Message.Usage.InputTokens > 0 {
				usage.InputTokens = int(start.Message.Usage.InputTokens)
			}

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				currentToolID = toolUse.ID
				if !send(ctx, ch, models.ToolCallStartDelta(toolUse.ID, toolUse.Name)) {
					return
				}
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					if !send(ctx, ch, models.TextDelta(delta.Text)) {
						return
					}
				}
			case "input_json_delta":
				if delta.PartialJSON != "" && currentToolID != "" {
					if !send(ctx, ch, models.ToolCallArgsDelta(currentToolID, delta.PartialJSON)) {
						return
					}
				}
			}

		case "content_block_stop":
			if currentToolID != "" {
				if !send(ctx, ch, models.ToolCallDoneDelta(currentToolID)) {
					return
				}
				currentToolID = ""
			}

		case "message_delta":
			delta := event.AsMessageDelta()
			if delta.Delta.StopReason != "" {
				stopReason = string(delta.Delta.StopReason)
			}
			if delta.Usage.OutputTokens > 0 {
				usage.OutputTokens = int(delta.Usage.OutputTokens)
			}

		case "message_stop":
			send(ctx, ch, models.MessageStopDelta(stopReason, usage))
			return

		case "error":
			send(ctx, ch, models.ErrorDelta(p.wrapError(errors.New("anthropic stream error"), model)))
			return
		}
	}

	if err := stream.Err(); err != nil {
		send(ctx, ch, models.ErrorDelta(p.wrapError(err, model)))
	}
}

func (p *AnthropicProvider) wrapError(err error, model string) error {
	if _, ok := AsProviderError(err); ok {
		return err
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return NewProviderError("anthropic", model, err).WithStatus(apiErr.StatusCode)
	}
	return NewProviderError("anthropic", model, err)
}
