// Package tools ships the built-in tools of the loom runtime: workspace file
// access, transcript search, and sub-agent spawning. Each tool declares its
// own risk tier; the security gate decides what that tier means.
package tools

import (
	"github.com/wovenbot/loom/internal/agent"
)

// RegisterBuiltins installs the standard tool set into the registry.
func RegisterBuiltins(registry *agent.ToolRegistry) {
	registry.Register(&ReadFileTool{})
	registry.Register(&ListDirTool{})
	registry.Register(&WriteFileTool{})
	registry.Register(&MemorySearchTool{})
	registry.Register(&SpawnAgentTool{})
}
