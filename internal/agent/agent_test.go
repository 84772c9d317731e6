package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/wovenbot/loom/pkg/models"
)

// scriptedProvider replays canned responses, one per ChatStream call.
type scriptedProvider struct {
	mu       sync.Mutex
	name     string
	scripts  []scriptedResponse
	attempts atomic.Int32
}

type scriptedResponse struct {
	openErr error
	deltas  []models.StreamDelta
}

func newScriptedProvider(name string, scripts ...scriptedResponse) *scriptedProvider {
	return &scriptedProvider{name: name, scripts: scripts}
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) ChatStream(ctx context.Context, cfg ModelConfig, messages []*models.Message, tools []models.ToolDefinition) (<-chan models.StreamDelta, error) {
	p.attempts.Add(1)

	p.mu.Lock()
	var script scriptedResponse
	if len(p.scripts) > 0 {
		script = p.scripts[0]
		p.scripts = p.scripts[1:]
	} else {
		script = scriptedResponse{openErr: errors.New("script exhausted")}
	}
	p.mu.Unlock()

	if script.openErr != nil {
		return nil, script.openErr
	}

	ch := make(chan models.StreamDelta, len(script.deltas))
	for _, d := range script.deltas {
		ch <- d
	}
	close(ch)
	return ch, nil
}

func textTurn(text string) scriptedResponse {
	return scriptedResponse{deltas: []models.StreamDelta{
		models.TextDelta(text),
		models.MessageStopDelta("end_turn", nil),
	}}
}

func toolTurn(id, name, args string) scriptedResponse {
	return scriptedResponse{deltas: []models.StreamDelta{
		models.ToolCallStartDelta(id, name),
		models.ToolCallArgsDelta(id, args),
		models.ToolCallDoneDelta(id),
		models.MessageStopDelta("tool_use", nil),
	}}
}

// fakeTool is a configurable test tool.
type fakeTool struct {
	name    string
	tier    models.Tier
	timeout int
	execute func(ctx context.Context, input json.RawMessage, tc *ToolContext) (*ToolResult, error)
}

func (t *fakeTool) Name() string            { return t.name }
func (t *fakeTool) Description() string     { return "test tool " + t.name }
func (t *fakeTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (t *fakeTool) Tier() models.Tier       { return t.tier }

func (t *fakeTool) TimeoutSecs() int {
	if t.timeout > 0 {
		return t.timeout
	}
	return DefaultToolTimeoutSecs
}

func (t *fakeTool) Execute(ctx context.Context, input json.RawMessage, tc *ToolContext) (*ToolResult, error) {
	if t.execute != nil {
		return t.execute(ctx, input, tc)
	}
	return &ToolResult{Content: "ok"}, nil
}

// retryableError carries an HTTP status for the retry classifier.
type retryableError struct {
	status int
}

func (e *retryableError) Error() string   { return "request failed" }
func (e *retryableError) HTTPStatus() int { return e.status }
