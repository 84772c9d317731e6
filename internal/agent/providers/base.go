// Package providers translates the canonical chat shapes into each model
// backend's wire protocol and normalises the streamed responses into
// models.StreamDelta values. Nothing outside this package ever sees a
// provider-specific type.
package providers

import (
	"context"
	"fmt"

	"github.com/wovenbot/loom/internal/agent"
	"github.com/wovenbot/loom/pkg/models"
)

// defaultMaxTokens bounds a response when the model config leaves MaxTokens
// unset.
const defaultMaxTokens = 4096

// presets maps a provider name to its default model, used when a model config
// names a provider but no model.
var presets = map[string]string{
	"anthropic": "claude-sonnet-4-20250514",
	"openai":    "gpt-4o",
	"azure":     "gpt-4o",
	"google":    "gemini-2.0-flash",
	"cohere":    "command-r-plus-08-2024",
	"bedrock":   "anthropic.claude-3-5-sonnet-20241022-v2:0",
}

// DefaultModel returns the preset model for a provider, or "" when the
// provider is unknown.
func DefaultModel(provider string) string {
	return presets[provider]
}

// New returns the adapter for the named provider.
func New(name string) (agent.Provider, error) {
	switch name {
	case "anthropic":
		return &AnthropicProvider{}, nil
	case "openai":
		return &OpenAIProvider{}, nil
	case "azure":
		return &AzureProvider{}, nil
	case "google":
		return &GoogleProvider{}, nil
	case "cohere":
		return &CohereProvider{}, nil
	case "bedrock":
		return &BedrockProvider{}, nil
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

// FromConfig resolves a model config into its adapter, filling in the preset
// model when the config leaves it empty.
func FromConfig(cfg agent.ModelConfig) (agent.Provider, agent.ModelConfig, error) {
	provider, err := New(cfg.Provider)
	if err != nil {
		return nil, cfg, err
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel(cfg.Provider)
	}
	return provider, cfg, nil
}

func maxTokensOrDefault(n int) int {
	if n <= 0 {
		return defaultMaxTokens
	}
	return n
}

// send delivers a delta unless the context ends first. Drain goroutines must
// use it for every emission: a cancelled run stops receiving, and a plain
// channel send would block the goroutine forever.
func send(ctx context.Context, ch chan<- models.StreamDelta, delta models.StreamDelta) bool {
	select {
	case ch <- delta:
		return true
	case <-ctx.Done():
		return false
	}
}
