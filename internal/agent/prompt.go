package agent

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/wovenbot/loom/pkg/models"
)

// DefaultSystemPrompt is used when no base prompt is configured and no
// workspace files exist.
const DefaultSystemPrompt = "You are a helpful assistant with access to tools. Use them when they help you answer accurately."

// workspaceFiles are the conventional context files picked up from the
// workspace, in the order they appear in the prompt.
var workspaceFiles = []string{
	"AGENTS.toml",
	"SOUL.md",
	"TOOLS.md",
	"USER.md",
	"IDENTITY.md",
	"BOOT.md",
	"HEARTBEAT.md",
}

const promptSeparator = "\n\n---\n\n"

// ContextBuilder composes the initial system message from a base prompt,
// workspace convention files, and optional extra blocks.
type ContextBuilder struct {
	base      string
	workspace string
	resources string
	override  string
	logger    *slog.Logger
}

// NewContextBuilder starts a builder with the given base prompt. An empty
// base falls back to the default prompt.
func NewContextBuilder(base string) *ContextBuilder {
	return &ContextBuilder{base: base, logger: slog.Default()}
}

// WithWorkspace adds the workspace whose convention files get appended.
func (b *ContextBuilder) WithWorkspace(dir string) *ContextBuilder {
	b.workspace = dir
	return b
}

// WithResources appends a resource listing block, e.g. from MCP servers.
func (b *ContextBuilder) WithResources(listing string) *ContextBuilder {
	b.resources = listing
	return b
}

// WithOverride appends an operator instruction block after everything else.
func (b *ContextBuilder) WithOverride(instructions string) *ContextBuilder {
	b.override = instructions
	return b
}

// WithLogger sets the logger used for debug notes about skipped files.
func (b *ContextBuilder) WithLogger(logger *slog.Logger) *ContextBuilder {
	if logger != nil {
		b.logger = logger
	}
	return b
}

// Build assembles the system message. Missing or unreadable workspace files
// are skipped.
func (b *ContextBuilder) Build() *models.Message {
	parts := []string{b.base}
	if strings.TrimSpace(b.base) == "" {
		parts[0] = DefaultSystemPrompt
	}

	if b.workspace != "" {
		for _, name := range workspaceFiles {
			path := filepath.Join(b.workspace, name)
			data, err := os.ReadFile(path)
			if err != nil {
				b.logger.Debug("workspace context file skipped", "path", path, "error", err)
				continue
			}
			content := strings.TrimSpace(string(data))
			if content == "" {
				continue
			}
			label := strings.TrimSuffix(name, filepath.Ext(name))
			parts = append(parts, "# "+label+"\n\n"+content)
		}
	}

	if b.resources != "" {
		parts = append(parts, "# Resources\n\n"+b.resources)
	}
	if b.override != "" {
		parts = append(parts, b.override)
	}

	return &models.Message{
		Role:    models.RoleSystem,
		Content: strings.Join(parts, promptSeparator),
	}
}

// ResolveSystemPrompt resolves a prompt spec to its text. A "file:" prefix
// reads the remainder as a path, relative paths resolving against workspace;
// read failures fall back to the literal spec.
func ResolveSystemPrompt(spec, workspace string) string {
	const prefix = "file:"
	if !strings.HasPrefix(spec, prefix) {
		return spec
	}
	path := strings.TrimPrefix(spec, prefix)
	if !filepath.IsAbs(path) && workspace != "" {
		path = filepath.Join(workspace, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return spec
	}
	return string(data)
}
