package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/wovenbot/loom/internal/agent"
	"github.com/wovenbot/loom/pkg/models"
)

// maxFileReadBytes caps what read_file returns to keep tool results inside
// a model context.
const maxFileReadBytes = 256 * 1024

// resolveWorkspacePath joins a relative path against the tool context's
// workspace, rejecting absolute paths and traversal outside it.
func resolveWorkspacePath(tc *agent.ToolContext, path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	if filepath.IsAbs(path) || !filepath.IsLocal(path) {
		return "", fmt.Errorf("path must stay inside the workspace: %s", path)
	}
	root := tc.WorkDir
	if root == "" {
		root = "."
	}
	return filepath.Join(root, path), nil
}

// ReadFileTool reads a file from the workspace.
type ReadFileTool struct{}

func (t *ReadFileTool) Name() string        { return "read_file" }
func (t *ReadFileTool) Description() string { return "Read a file from the workspace." }
func (t *ReadFileTool) Tier() models.Tier   { return models.Tier0 }

func (t *ReadFileTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Workspace-relative file path"}
		},
		"required": ["path"]
	}`)
}

func (t *ReadFileTool) Execute(ctx context.Context, input json.RawMessage, tc *agent.ToolContext) (*agent.ToolResult, error) {
	var args struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, err
	}
	path, err := resolveWorkspacePath(tc, args.Path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	truncated := false
	if len(data) > maxFileReadBytes {
		data = data[:maxFileReadBytes]
		truncated = true
	}
	content := string(data)
	if truncated {
		content += "\n[truncated]"
	}
	return &agent.ToolResult{Content: content}, nil
}

// ListDirTool lists a workspace directory.
type ListDirTool struct{}

func (t *ListDirTool) Name() string        { return "list_dir" }
func (t *ListDirTool) Description() string { return "List the entries of a workspace directory." }
func (t *ListDirTool) Tier() models.Tier   { return models.Tier0 }

func (t *ListDirTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Workspace-relative directory path, defaults to the workspace root"}
		}
	}`)
}

func (t *ListDirTool) Execute(ctx context.Context, input json.RawMessage, tc *agent.ToolContext) (*agent.ToolResult, error) {
	var args struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, err
	}
	if args.Path == "" {
		args.Path = "."
	}
	path, err := resolveWorkspacePath(tc, args.Path)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return &agent.ToolResult{Content: strings.Join(names, "\n")}, nil
}

// WriteFileTool writes a file inside the workspace. It mutates state, so it
// carries the workspace-mutation tier.
type WriteFileTool struct{}

func (t *WriteFileTool) Name() string        { return "write_file" }
func (t *WriteFileTool) Description() string { return "Write content to a workspace file, creating parent directories." }
func (t *WriteFileTool) Tier() models.Tier   { return models.Tier1 }

func (t *WriteFileTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Workspace-relative file path"},
			"content": {"type": "string", "description": "Full file content"}
		},
		"required": ["path", "content"]
	}`)
}

func (t *WriteFileTool) Execute(ctx context.Context, input json.RawMessage, tc *agent.ToolContext) (*agent.ToolResult, error) {
	var args struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, err
	}
	path, err := resolveWorkspacePath(tc, args.Path)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(args.Content), 0o644); err != nil {
		return nil, err
	}
	return &agent.ToolResult{Content: fmt.Sprintf("wrote %d bytes to %s", len(args.Content), args.Path)}, nil
}
