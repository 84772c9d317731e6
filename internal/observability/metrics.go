package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects runtime metrics for the agent core.
type Metrics struct {
	// LLMRequestCounter counts model requests.
	// Labels: provider, model, status (success|error).
	LLMRequestCounter *prometheus.CounterVec

	// LLMRequestDuration measures model request latency in seconds.
	// Labels: provider, model.
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRetryCounter counts retry attempts and fallback switches.
	// Labels: provider, kind (retry|fallback).
	LLMRetryCounter *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool, status (success|error|timeout|denied).
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool.
	ToolExecutionDuration *prometheus.HistogramVec

	// ApprovalCounter counts approval outcomes.
	// Labels: outcome (approved|denied|timeout).
	ApprovalCounter *prometheus.CounterVec

	// ActiveRuns tracks currently executing runs.
	ActiveRuns prometheus.Gauge

	// BusDroppedCounter counts events dropped by the bus for lagged
	// subscribers.
	BusDroppedCounter prometheus.Counter
}

// NewMetrics registers and returns the metric set on the given registerer.
// A nil registerer uses the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		LLMRequestCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "loom_llm_requests_total",
			Help: "Model requests by provider, model, and status.",
		}, []string{"provider", "model", "status"}),

		LLMRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "loom_llm_request_duration_seconds",
			Help:    "Model request latency.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider", "model"}),

		LLMRetryCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "loom_llm_retries_total",
			Help: "Retry attempts and fallback switches by provider.",
		}, []string{"provider", "kind"}),

		ToolExecutionCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "loom_tool_executions_total",
			Help: "Tool invocations by tool and status.",
		}, []string{"tool", "status"}),

		ToolExecutionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "loom_tool_execution_duration_seconds",
			Help:    "Tool execution time.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"tool"}),

		ApprovalCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "loom_approvals_total",
			Help: "Approval outcomes.",
		}, []string{"outcome"}),

		ActiveRuns: factory.NewGauge(prometheus.GaugeOpts{
			Name: "loom_active_runs",
			Help: "Currently executing agent runs.",
		}),

		BusDroppedCounter: factory.NewCounter(prometheus.CounterOpts{
			Name: "loom_bus_dropped_events_total",
			Help: "Events dropped by the bus for lagged subscribers.",
		}),
	}
}
