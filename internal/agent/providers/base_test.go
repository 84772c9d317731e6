package providers

import (
	"testing"

	"github.com/wovenbot/loom/internal/agent"
)

func TestNewKnownProviders(t *testing.T) {
	for _, name := range []string{"anthropic", "openai", "azure", "google", "cohere", "bedrock"} {
		p, err := New(name)
		if err != nil {
			t.Errorf("New(%s): %v", name, err)
			continue
		}
		if p.Name() != name {
			t.Errorf("Name() = %s, want %s", p.Name(), name)
		}
		if DefaultModel(name) == "" {
			t.Errorf("no preset model for %s", name)
		}
	}
}

func TestNewUnknownProvider(t *testing.T) {
	if _, err := New("clippy"); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestFromConfigFillsPresetModel(t *testing.T) {
	p, cfg, err := FromConfig(agent.ModelConfig{Provider: "openai"})
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	if p.Name() != "openai" {
		t.Errorf("provider = %s", p.Name())
	}
	if cfg.Model != DefaultModel("openai") {
		t.Errorf("model = %q, want preset", cfg.Model)
	}
}

func TestFromConfigKeepsExplicitModel(t *testing.T) {
	_, cfg, err := FromConfig(agent.ModelConfig{Provider: "anthropic", Model: "claude-3-haiku-20240307"})
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	if cfg.Model != "claude-3-haiku-20240307" {
		t.Errorf("model = %q", cfg.Model)
	}
}
