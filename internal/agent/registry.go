package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/wovenbot/loom/pkg/models"
)

// DefaultToolTimeoutSecs bounds tool execution when the tool does not declare
// its own timeout.
const DefaultToolTimeoutSecs = 30

// MaxToolInputSize caps tool input JSON (10MB).
const MaxToolInputSize = 10 << 20

// ToolRegistry is the name-keyed tool map. Reads vastly outnumber writes, but
// writes can happen at any time: bridges hot-swap tools without stopping the
// loop.
type ToolRegistry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register inserts a tool by name; the last writer wins. The tool's input
// schema is compiled here so Execute can validate inputs cheaply; a tool with
// a malformed schema is still registered but skips validation.
func (r *ToolRegistry) Register(tool Tool) {
	compiled := compileSchema(tool.Name(), tool.Schema())

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
	if compiled != nil {
		r.schemas[tool.Name()] = compiled
	} else {
		delete(r.schemas, tool.Name())
	}
}

// Unregister removes a tool by name and reports whether it existed.
func (r *ToolRegistry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tools[name]
	delete(r.tools, name)
	delete(r.schemas, name)
	return ok
}

// Get returns a tool by name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Definitions returns a snapshot of all registered tools in model-facing form.
func (r *ToolRegistry) Definitions() []models.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]models.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, models.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.Schema(),
		})
	}
	return defs
}

// TierOf returns the tool's declared tier, defaulting to Tier1 for tools that
// do not declare one. The boolean reports whether the tool exists.
func (r *ToolRegistry) TierOf(name string) (models.Tier, bool) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return 0, false
	}
	if tiered, ok := tool.(ToolWithTier); ok {
		return tiered.Tier(), true
	}
	return models.Tier1, true
}

// Execute dispatches a tool call, validating the input against the tool's
// schema and enforcing a wall-clock timeout. Failures are returned as error
// results rather than errors so the loop can feed them back to the model.
func (r *ToolRegistry) Execute(ctx context.Context, name string, input json.RawMessage, tc *ToolContext) *ToolResult {
	if len(input) > MaxToolInputSize {
		return &ToolResult{
			Content: fmt.Sprintf("tool input exceeds maximum size of %d bytes", MaxToolInputSize),
			IsError: true,
		}
	}

	r.mu.RLock()
	tool, ok := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return &ToolResult{Content: (&ToolNotFoundError{Tool: name}).Error(), IsError: true}
	}

	if schema != nil && len(input) > 0 {
		var value any
		if err := json.Unmarshal(input, &value); err != nil {
			return &ToolResult{
				Content: (&ToolValidationError{Tool: name, Reason: "input is not valid JSON"}).Error(),
				IsError: true,
			}
		}
		if err := schema.Validate(value); err != nil {
			return &ToolResult{
				Content: (&ToolValidationError{Tool: name, Reason: err.Error()}).Error(),
				IsError: true,
			}
		}
	}

	timeoutSecs := DefaultToolTimeoutSecs
	if t, ok := tool.(ToolWithTimeout); ok && t.TimeoutSecs() > 0 {
		timeoutSecs = t.TimeoutSecs()
	}

	return executeWithTimeout(ctx, tool, input, tc, time.Duration(timeoutSecs)*time.Second)
}

// executeWithTimeout runs the tool in its own goroutine so a hung tool cannot
// stall the turn. On timeout the goroutine is abandoned with its context
// cancelled.
func executeWithTimeout(ctx context.Context, tool Tool, input json.RawMessage, tc *ToolContext, timeout time.Duration) *ToolResult {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result *ToolResult
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		res, err := tool.Execute(execCtx, input, tc)
		done <- outcome{result: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return &ToolResult{
				Content: (&ToolExecutionError{Tool: tool.Name(), Err: out.err}).Error(),
				IsError: true,
			}
		}
		if out.result == nil {
			return &ToolResult{Content: "", IsError: false}
		}
		return out.result
	case <-execCtx.Done():
		if ctx.Err() != nil {
			return &ToolResult{Content: "tool execution cancelled", IsError: true}
		}
		return &ToolResult{
			Content:  (&ToolTimeoutError{Tool: tool.Name(), TimeoutSecs: int(timeout / time.Second)}).Error(),
			IsError:  true,
			TimedOut: true,
		}
	}
}

func compileSchema(name string, raw json.RawMessage) *jsonschema.Schema {
	if len(raw) == 0 {
		return nil
	}
	compiler := jsonschema.NewCompiler()
	url := "tool://" + name + "/schema.json"
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil
	}
	return schema
}
