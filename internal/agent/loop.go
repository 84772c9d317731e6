package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/wovenbot/loom/internal/bus"
	"github.com/wovenbot/loom/internal/observability"
	"github.com/wovenbot/loom/internal/sessions"
	"github.com/wovenbot/loom/pkg/models"
)

// LoopConfig bounds a single run.
type LoopConfig struct {
	MaxTurns      int
	MaxDuration   time.Duration
	ParallelTools bool
	HistoryLimit  int
}

// Loop is the turn controller: it alternates streaming model requests with
// gated tool executions until the model stops asking for tools or a budget
// runs out.
//
// A Loop assumes its caller serialises runs per session; it never issues two
// model requests for the same session concurrently.
type Loop struct {
	client   *RetryClient
	registry *ToolRegistry
	executor *ToolExecutor
	store    sessions.Store
	bus      *bus.Bus
	system   *models.Message
	toolCtx  ToolContext
	cfg      LoopConfig
	logger   *slog.Logger
}

// NewLoop wires a loop.
func NewLoop(client *RetryClient, registry *ToolRegistry, executor *ToolExecutor, store sessions.Store, b *bus.Bus, system *models.Message, toolCtx ToolContext, cfg LoopConfig, logger *slog.Logger) *Loop {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 25
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		client:   client,
		registry: registry,
		executor: executor,
		store:    store,
		bus:      b,
		system:   system,
		toolCtx:  toolCtx,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run executes one full run for the session and returns the final assistant
// text.
func (l *Loop) Run(ctx context.Context, sessionID, prompt string) (string, error) {
	start := time.Now()
	ctx = observability.WithSessionID(ctx, sessionID)

	history, err := l.store.LoadHistory(ctx, sessionID, l.cfg.HistoryLimit)
	if err != nil {
		return "", l.fail(sessionID, err)
	}
	history = sessions.RepairTranscript(history).Messages

	userMsg := models.NewUserMessage(sessionID, prompt)
	if err := l.store.AppendMessages(ctx, sessionID, []*models.Message{userMsg}); err != nil {
		return "", l.fail(sessionID, err)
	}

	messages := make([]*models.Message, 0, len(history)+2)
	messages = append(messages, l.system)
	messages = append(messages, history...)
	messages = append(messages, userMsg)

	toolCtx := l.toolCtx
	toolCtx.SessionID = sessionID

	for turn := 1; turn <= l.cfg.MaxTurns; turn++ {
		l.bus.Publish(models.NewAgentEvent(models.EventTurnStarted, sessionID).WithTurn(turn))

		if time.Since(start) > l.cfg.MaxDuration {
			return "", l.fail(sessionID, &MaxDurationError{MaxDurationSecs: int(l.cfg.MaxDuration / time.Second)})
		}
		if ctx.Err() != nil {
			return "", l.cancelled(sessionID)
		}

		stream, err := l.client.ChatStream(ctx, messages, l.registry.Definitions())
		if err != nil {
			return "", l.fail(sessionID, err)
		}

		text, calls, malformed, drainErr := l.drain(ctx, sessionID, stream)
		if drainErr != nil {
			if ctx.Err() != nil {
				return "", l.cancelled(sessionID)
			}
			if text == "" && len(calls) == 0 {
				return "", l.fail(sessionID, drainErr)
			}
			// Partial stream: accept what was collected and carry on.
			l.logger.Warn("stream ended early, using partial turn", "session_id", sessionID, "error", drainErr)
			l.bus.Publish(models.NewAgentEvent(models.EventWarning, sessionID).
				WithText("stream ended early; continuing with partial response: " + drainErr.Error()))
		}

		assistant := &models.Message{
			SessionID: sessionID,
			Role:      models.RoleAssistant,
			Content:   text,
			ToolCalls: calls,
			CreatedAt: time.Now(),
		}
		if err := l.store.AppendMessages(ctx, sessionID, []*models.Message{assistant}); err != nil {
			return "", l.fail(sessionID, err)
		}
		messages = append(messages, assistant)

		if len(calls) == 0 {
			l.bus.Publish(models.NewAgentEvent(models.EventTurnCompleted, sessionID).WithTurn(turn))
			l.bus.Publish(models.NewAgentEvent(models.EventRunCompleted, sessionID).WithText(text))
			return text, nil
		}

		results := l.executeCalls(ctx, calls, malformed, &toolCtx)
		if ctx.Err() != nil {
			// Persist whatever was computed before bailing so the
			// transcript stays closed.
			toolMsg := toolMessage(sessionID, results)
			if err := l.store.AppendMessages(context.WithoutCancel(ctx), sessionID, []*models.Message{toolMsg}); err != nil {
				l.logger.Warn("failed to persist tool results during cancellation", "error", err)
			}
			return "", l.cancelled(sessionID)
		}

		toolMsg := toolMessage(sessionID, results)
		if err := l.store.AppendMessages(ctx, sessionID, []*models.Message{toolMsg}); err != nil {
			return "", l.fail(sessionID, err)
		}
		messages = append(messages, toolMsg)

		l.bus.Publish(models.NewAgentEvent(models.EventTurnCompleted, sessionID).WithTurn(turn))
	}

	return "", l.fail(sessionID, &MaxTurnsError{MaxTurns: l.cfg.MaxTurns})
}

// drain consumes the stream into assistant text and an ordered tool call
// list. It returns the malformed set: ids of calls whose argument buffers
// were not valid JSON, which are kept in the call list with empty inputs and
// answered with synthetic error results instead of being executed.
func (l *Loop) drain(ctx context.Context, sessionID string, stream <-chan models.StreamDelta) (string, []models.ToolCall, map[string]bool, error) {
	asm := newStreamAssembler()

	for {
		select {
		case delta, ok := <-stream:
			if !ok {
				text, calls, malformed := asm.finish()
				return text, calls, malformed, nil
			}
			if delta.Err != nil {
				text, calls, malformed := asm.finish()
				return text, calls, malformed, delta.Err
			}

			switch delta.Type {
			case models.DeltaText:
				asm.appendText(delta.Text)
				l.bus.Publish(models.NewAgentEvent(models.EventTokenChunk, sessionID).WithText(delta.Text))
			case models.DeltaToolCallStart:
				asm.startCall(delta.ToolCallID, delta.ToolName)
				l.bus.Publish(models.NewAgentEvent(models.EventToolCallStarted, sessionID).
					WithToolCall(delta.ToolCallID, delta.ToolName))
			case models.DeltaToolCallArgs:
				asm.appendArgs(delta.ToolCallID, delta.ArgsFragment)
			case models.DeltaToolCallDone:
				asm.finishCall(delta.ToolCallID)
			case models.DeltaMessageStop:
				text, calls, malformed := asm.finish()
				return text, calls, malformed, nil
			}

		case <-ctx.Done():
			text, calls, malformed := asm.finish()
			return text, calls, malformed, ctx.Err()
		}
	}
}

// executeCalls produces one result per call in emission order. Malformed
// calls get synthetic error results without touching the gate or registry.
func (l *Loop) executeCalls(ctx context.Context, calls []models.ToolCall, malformed map[string]bool, toolCtx *ToolContext) []models.ToolResult {
	results := make([]models.ToolResult, len(calls))

	executable := make([]models.ToolCall, 0, len(calls))
	slots := make([]int, 0, len(calls))
	for i, call := range calls {
		if malformed[call.ID] {
			results[i] = models.ToolResult{
				ToolCallID: call.ID,
				Content:    "tool call arguments were not valid JSON",
				IsError:    true,
			}
			ev := models.NewAgentEvent(models.EventToolCallCompleted, toolCtx.SessionID).WithToolCall(call.ID, call.Name)
			ev.IsError = true
			l.bus.Publish(ev)
			continue
		}
		executable = append(executable, call)
		slots = append(slots, i)
	}

	executed := l.executor.ExecuteBatch(ctx, executable, toolCtx, l.cfg.ParallelTools)
	for j, res := range executed {
		results[slots[j]] = res
	}
	return results
}

func (l *Loop) fail(sessionID string, err error) error {
	l.logger.Error("run failed", "session_id", sessionID, "error", err)
	l.bus.Publish(models.NewAgentEvent(models.EventError, sessionID).WithText(err.Error()))
	return err
}

func (l *Loop) cancelled(sessionID string) error {
	l.bus.Publish(models.NewAgentEvent(models.EventError, sessionID).WithText("cancelled"))
	return ErrCancelled
}

func toolMessage(sessionID string, results []models.ToolResult) *models.Message {
	return &models.Message{
		SessionID:   sessionID,
		Role:        models.RoleTool,
		ToolResults: results,
		CreatedAt:   time.Now(),
	}
}

// streamAssembler folds deltas into assistant text plus ordered tool calls.
// It is a pure state machine so tests can drive it with canned sequences.
type streamAssembler struct {
	text  strings.Builder
	order []string
	calls map[string]*pendingCall
}

type pendingCall struct {
	id   string
	name string
	args strings.Builder
}

func newStreamAssembler() *streamAssembler {
	return &streamAssembler{calls: make(map[string]*pendingCall)}
}

func (a *streamAssembler) appendText(t string) {
	a.text.WriteString(t)
}

func (a *streamAssembler) startCall(id, name string) {
	if _, ok := a.calls[id]; ok {
		return
	}
	a.calls[id] = &pendingCall{id: id, name: name}
	a.order = append(a.order, id)
}

func (a *streamAssembler) appendArgs(id, fragment string) {
	if call, ok := a.calls[id]; ok {
		call.args.WriteString(fragment)
	}
}

func (a *streamAssembler) finishCall(id string) {
	// Nothing to do; args are parsed at finish so partial streams still
	// surface every announced call.
}

// finish returns the accumulated text, the calls in emission order, and the
// set of call ids whose arguments failed to parse. Malformed calls carry an
// empty JSON object as input so the persisted transcript stays well formed.
func (a *streamAssembler) finish() (string, []models.ToolCall, map[string]bool) {
	calls := make([]models.ToolCall, 0, len(a.order))
	malformed := make(map[string]bool)
	for _, id := range a.order {
		call := a.calls[id]
		raw := strings.TrimSpace(call.args.String())
		if raw == "" {
			raw = "{}"
		}
		if !json.Valid([]byte(raw)) {
			malformed[id] = true
			raw = "{}"
		}
		calls = append(calls, models.ToolCall{
			ID:    id,
			Name:  call.name,
			Input: json.RawMessage(raw),
		})
	}
	return a.text.String(), calls, malformed
}
