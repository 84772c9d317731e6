package agent

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wovenbot/loom/internal/bus"
	"github.com/wovenbot/loom/internal/observability"
	"github.com/wovenbot/loom/pkg/models"
)

// DefaultMaxParallelTools bounds concurrent tool executions within a turn.
const DefaultMaxParallelTools = 5

// ToolExecutor runs a turn's tool call batch through the gate and the
// registry, preserving the model's emission order in the results.
type ToolExecutor struct {
	registry    *ToolRegistry
	gate        *SecurityGate
	bus         *bus.Bus
	logger      *slog.Logger
	metrics     *observability.Metrics
	maxParallel int

	executed atomic.Int64
	failed   atomic.Int64
	timedOut atomic.Int64
	denied   atomic.Int64
}

// ExecStats is a point-in-time snapshot of the executor's lifetime counters.
type ExecStats struct {
	Executed int64
	Failed   int64
	TimedOut int64
	Denied   int64
}

// NewToolExecutor wires an executor. maxParallel non-positive selects the
// default.
func NewToolExecutor(registry *ToolRegistry, gate *SecurityGate, b *bus.Bus, logger *slog.Logger, metrics *observability.Metrics, maxParallel int) *ToolExecutor {
	if maxParallel <= 0 {
		maxParallel = DefaultMaxParallelTools
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ToolExecutor{
		registry:    registry,
		gate:        gate,
		bus:         b,
		logger:      logger,
		metrics:     metrics,
		maxParallel: maxParallel,
	}
}

// Stats returns the executor's lifetime counters.
func (e *ToolExecutor) Stats() ExecStats {
	return ExecStats{
		Executed: e.executed.Load(),
		Failed:   e.failed.Load(),
		TimedOut: e.timedOut.Load(),
		Denied:   e.denied.Load(),
	}
}

// CanRunConcurrently reports whether a batch is safe for parallel dispatch:
// every call must be Tier0 or on the never_ask list, so no call can suspend
// on an approval or mutate state.
func (e *ToolExecutor) CanRunConcurrently(calls []models.ToolCall) bool {
	for _, call := range calls {
		if e.gate.policy.NeverAsk(call.Name) {
			continue
		}
		if e.gate.tierOf(call.Name) != models.Tier0 {
			return false
		}
	}
	return true
}

// ExecuteBatch runs the calls and returns one result per call, in the same
// order the model emitted them. When parallel is true and the batch is safe,
// calls run concurrently under a semaphore; results are reassembled by index
// so the on-wire order to the next model request is stable.
func (e *ToolExecutor) ExecuteBatch(ctx context.Context, calls []models.ToolCall, tc *ToolContext, parallel bool) []models.ToolResult {
	if len(calls) == 0 {
		return nil
	}

	results := make([]models.ToolResult, len(calls))
	if parallel && len(calls) > 1 && e.CanRunConcurrently(calls) {
		sem := make(chan struct{}, e.maxParallel)
		var wg sync.WaitGroup
		for i, call := range calls {
			wg.Add(1)
			go func(i int, call models.ToolCall) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()
				results[i] = e.executeOne(ctx, call, tc)
			}(i, call)
		}
		wg.Wait()
		return results
	}

	for i, call := range calls {
		results[i] = e.executeOne(ctx, call, tc)
	}
	return results
}

func (e *ToolExecutor) executeOne(ctx context.Context, call models.ToolCall, tc *ToolContext) models.ToolResult {
	ctx = observability.WithToolCallID(ctx, call.ID)
	start := time.Now()

	var res *ToolResult
	status := "success"
	if denied := e.gate.Authorize(ctx, tc.SessionID, call); denied != nil {
		res = denied
		status = "denied"
		e.denied.Add(1)
	} else {
		res = e.registry.Execute(ctx, call.Name, call.Input, tc)
		switch {
		case res.TimedOut:
			status = "timeout"
			e.timedOut.Add(1)
		case res.IsError:
			status = "error"
			e.failed.Add(1)
		}
	}
	e.executed.Add(1)

	if e.metrics != nil {
		e.metrics.ToolExecutionCounter.WithLabelValues(call.Name, status).Inc()
		e.metrics.ToolExecutionDuration.WithLabelValues(call.Name).Observe(time.Since(start).Seconds())
	}
	e.logger.Debug("tool call finished",
		"tool", call.Name,
		"tool_call_id", call.ID,
		"status", status,
		"duration", time.Since(start),
	)

	ev := models.NewAgentEvent(models.EventToolCallCompleted, tc.SessionID).WithToolCall(call.ID, call.Name)
	ev.IsError = res.IsError
	e.bus.Publish(ev)

	return models.ToolResult{
		ToolCallID: call.ID,
		Content:    res.Content,
		IsError:    res.IsError,
	}
}
