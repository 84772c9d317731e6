package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"

	"github.com/wovenbot/loom/internal/agent"
	"github.com/wovenbot/loom/pkg/models"
)

// BedrockProvider streams chat completions from AWS Bedrock via the Converse
// streaming API. Credentials come from the default AWS chain; an APIKey of
// the form "key_id:secret" overrides it with static credentials, and BaseURL
// carries the region.
type BedrockProvider struct{}

func (p *BedrockProvider) Name() string { return "bedrock" }

func (p *BedrockProvider) ChatStream(ctx context.Context, cfg agent.ModelConfig, messages []*models.Message, tools []models.ToolDefinition) (<-chan models.StreamDelta, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.BaseURL != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.BaseURL))
	}
	if id, secret, ok := strings.Cut(cfg.APIKey, ":"); ok {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(id, secret, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, NewProviderError("bedrock", cfg.Model, err)
	}
	client := bedrockruntime.NewFromConfig(awsCfg)

	input, err := p.buildInput(cfg, messages, tools)
	if err != nil {
		return nil, err
	}

	out, err := client.ConverseStream(ctx, input)
	if err != nil {
		return nil, NewProviderError("bedrock", cfg.Model, err)
	}

	ch := make(chan models.StreamDelta)
	go p.drain(ctx, out, ch, cfg.Model)
	return ch, nil
}

func (p *BedrockProvider) buildInput(cfg agent.ModelConfig, messages []*models.Message, tools []models.ToolDefinition) (*bedrockruntime.ConverseStreamInput, error) {
	input := &bedrockruntime.ConverseStreamInput{
		ModelId: aws.String(cfg.Model),
	}

	maxTokens := int32(maxTokensOrDefault(cfg.MaxTokens))
	inference := &types.InferenceConfiguration{MaxTokens: aws.Int32(maxTokens)}
	if cfg.Temperature > 0 {
		inference.Temperature = aws.Float32(float32(cfg.Temperature))
	}
	input.InferenceConfig = inference

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleSystem:
			input.System = append(input.System, &types.SystemContentBlockMemberText{Value: msg.Content})

		case models.RoleUser:
			input.Messages = append(input.Messages, types.Message{
				Role:    types.ConversationRoleUser,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: msg.Content}},
			})

		case models.RoleAssistant:
			var content []types.ContentBlock
			if msg.Content != "" {
				content = append(content, &types.ContentBlockMemberText{Value: msg.Content})
			}
			for _, call := range msg.ToolCalls {
				var args map[string]any
				if err := json.Unmarshal(call.Input, &args); err != nil {
					return nil, fmt.Errorf("bedrock: invalid input for tool call %s: %w", call.ID, err)
				}
				content = append(content, &types.ContentBlockMemberToolUse{
					Value: types.ToolUseBlock{
						ToolUseId: aws.String(call.ID),
						Name:      aws.String(call.Name),
						Input:     document.NewLazyDocument(args),
					},
				})
			}
			if len(content) > 0 {
				input.Messages = append(input.Messages, types.Message{
					Role:    types.ConversationRoleAssistant,
					Content: content,
				})
			}

		case models.RoleTool:
			var content []types.ContentBlock
			for _, res := range msg.ToolResults {
				status := types.ToolResultStatusSuccess
				if res.IsError {
					status = types.ToolResultStatusError
				}
				content = append(content, &types.ContentBlockMemberToolResult{
					Value: types.ToolResultBlock{
						ToolUseId: aws.String(res.ToolCallID),
						Status:    status,
						Content: []types.ToolResultContentBlock{
							&types.ToolResultContentBlockMemberText{Value: res.Content},
						},
					},
				})
			}
			input.Messages = append(input.Messages, types.Message{
				Role:    types.ConversationRoleUser,
				Content: content,
			})
		}
	}

	if len(tools) > 0 {
		toolConfig := &types.ToolConfiguration{}
		for _, tool := range tools {
			var schema map[string]any
			if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
				return nil, fmt.Errorf("bedrock: invalid schema for tool %s: %w", tool.Name, err)
			}
			toolConfig.Tools = append(toolConfig.Tools, &types.ToolMemberToolSpec{
				Value: types.ToolSpecification{
					Name:        aws.String(tool.Name),
					Description: aws.String(tool.Description),
					InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
				},
			})
		}
		input.ToolConfig = toolConfig
	}

	return input, nil
}

// drain consumes the event stream. Content blocks are indexed; a tool-use
// start binds an index to its id so later input deltas and the block stop can
// be attributed.
func (p *BedrockProvider) drain(ctx context.Context, out *bedrockruntime.ConverseStreamOutput, ch chan<- models.StreamDelta, model string) {
	defer close(ch)

	stream := out.GetStream()
	defer stream.Close()

	openCalls := map[int32]string{}
	var stopReason string
	usage := &models.Usage{}
	stopped := false

	for event := range stream.Events() {
		switch v := event.(type) {
		case *types.ConverseStreamOutputMemberContentBlockStart:
			if start, ok := v.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
				id := aws.ToString(start.Value.ToolUseId)
				openCalls[aws.ToInt32(v.Value.ContentBlockIndex)] = id
				if !send(ctx, ch, models.ToolCallStartDelta(id, aws.ToString(start.Value.Name))) {
					return
				}
			}

		case *types.ConverseStreamOutputMemberContentBlockDelta:
			switch delta := v.Value.Delta.(type) {
			case *types.ContentBlockDeltaMemberText:
				if delta.Value != "" {
					if !send(ctx, ch, models.TextDelta(delta.Value)) {
						return
					}
				}
			case *types.ContentBlockDeltaMemberToolUse:
				if id, ok := openCalls[aws.ToInt32(v.Value.ContentBlockIndex)]; ok {
					if frag := aws.ToString(delta.Value.Input); frag != "" {
						if !send(ctx, ch, models.ToolCallArgsDelta(id, frag)) {
							return
						}
					}
				}
			}

		case *types.ConverseStreamOutputMemberContentBlockStop:
			idx := aws.ToInt32(v.Value.ContentBlockIndex)
			if id, ok := openCalls[idx]; ok {
				if !send(ctx, ch, models.ToolCallDoneDelta(id)) {
					return
				}
				delete(openCalls, idx)
			}

		case *types.ConverseStreamOutputMemberMessageStop:
			stopReason = string(v.Value.StopReason)
			stopped = true

		case *types.ConverseStreamOutputMemberMetadata:
			if v.Value.Usage != nil {
				usage.InputTokens = int(aws.ToInt32(v.Value.Usage.InputTokens))
				usage.OutputTokens = int(aws.ToInt32(v.Value.Usage.OutputTokens))
			}
		}
	}

	if err := stream.Err(); err != nil {
		send(ctx, ch, models.ErrorDelta(NewProviderError("bedrock", model, err)))
		return
	}
	if stopped {
		send(ctx, ch, models.MessageStopDelta(stopReason, usage))
	}
}
