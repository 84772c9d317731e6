package agent

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wovenbot/loom/internal/bus"
	"github.com/wovenbot/loom/internal/config"
	"github.com/wovenbot/loom/internal/observability"
	"github.com/wovenbot/loom/internal/sessions"
	"github.com/wovenbot/loom/pkg/models"
)

// ChannelAdapter is the surface a messaging channel exposes to the runtime.
// SendApproval returns true if the adapter rendered a rich approval prompt;
// false tells the runtime to fall back to a plain text message.
type ChannelAdapter interface {
	Name() string
	Start(ctx context.Context) error
	Send(ctx context.Context, sessionID, content string) error
	SendApproval(ctx context.Context, sessionID string, req models.ApprovalRequest) (bool, error)
	Stop() error
}

// RuntimeOptions carries the collaborators Runtime needs.
type RuntimeOptions struct {
	Config    *config.Config
	Provider  Provider
	Fallbacks []Fallback
	Store     sessions.Store
	Registry  *ToolRegistry
	Bus       *bus.Bus
	Logger    *slog.Logger
	Metrics   *observability.Metrics
}

// Runtime owns the wired agent: the retrying client, the gate, the broker,
// the executor, and the loop. It serialises runs per session and forwards
// approvals and hooks to their observers.
type Runtime struct {
	cfg      *config.Config
	client   *RetryClient
	registry *ToolRegistry
	executor *ToolExecutor
	broker   *ApprovalBroker
	gate     *SecurityGate
	store    sessions.Store
	bus      *bus.Bus
	sessions *sessions.Manager
	hooks    *HookRunner
	logger   *slog.Logger
	metrics  *observability.Metrics
	system   *models.Message

	adaptersMu sync.RWMutex
	adapters   []ChannelAdapter

	sessionLocksMu sync.Mutex
	sessionLocks   map[string]*sessionLock

	stopHooks func()
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// NewRuntime wires a runtime from its collaborators.
func NewRuntime(opts RuntimeOptions) *Runtime {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := opts.Registry
	if registry == nil {
		registry = NewToolRegistry()
	}
	eventBus := opts.Bus
	if eventBus == nil {
		eventBus = bus.New(0)
	}
	if opts.Metrics != nil {
		eventBus.SetDropCounter(opts.Metrics.BusDroppedCounter)
	}
	store := opts.Store
	if store == nil {
		store = sessions.NewMemoryStore()
	}

	broker := NewApprovalBroker(eventBus)
	policy := PolicyFromConfig(cfg.Security)
	gate := NewSecurityGate(policy, registry, broker, logger, opts.Metrics)
	executor := NewToolExecutor(registry, gate, eventBus, logger, opts.Metrics, cfg.Agent.MaxParallelTools)

	client := NewRetryClient(opts.Provider, ModelConfig{
		Provider:    cfg.Model.Provider,
		Model:       cfg.Model.Model,
		APIKey:      cfg.Model.APIKey,
		BaseURL:     cfg.Model.BaseURL,
		MaxTokens:   cfg.Model.MaxTokens,
		Temperature: cfg.Model.Temperature,
	}, opts.Fallbacks, RetryConfig{
		MaxRetries:     cfg.Retry.MaxRetries,
		InitialBackoff: time.Duration(cfg.Retry.InitialBackoffMs) * time.Millisecond,
		MaxBackoff:     time.Duration(cfg.Retry.MaxBackoffMs) * time.Millisecond,
	}, logger, opts.Metrics)

	base := ResolveSystemPrompt(cfg.Agent.SystemPrompt, cfg.Agent.Workspace)
	system := NewContextBuilder(base).
		WithWorkspace(cfg.Agent.Workspace).
		WithLogger(logger).
		Build()

	r := &Runtime{
		cfg:          cfg,
		client:       client,
		registry:     registry,
		executor:     executor,
		broker:       broker,
		gate:         gate,
		store:        store,
		bus:          eventBus,
		sessions:     sessions.NewManager(),
		hooks:        NewHookRunner(cfg.Hooks, logger),
		logger:       logger,
		metrics:      opts.Metrics,
		system:       system,
		sessionLocks: make(map[string]*sessionLock),
	}
	r.stopHooks = r.watchEvents()
	return r
}

// Broker exposes the approval broker for operator surfaces.
func (r *Runtime) Broker() *ApprovalBroker { return r.broker }

// Bus exposes the event bus for observers.
func (r *Runtime) Bus() *bus.Bus { return r.bus }

// Registry exposes the tool registry for tool installation.
func (r *Runtime) Registry() *ToolRegistry { return r.registry }

// Sessions exposes the session manager for channel adapters.
func (r *Runtime) Sessions() *sessions.Manager { return r.sessions }

// RegisterAdapter adds a channel adapter for approval forwarding.
func (r *Runtime) RegisterAdapter(adapter ChannelAdapter) {
	r.adaptersMu.Lock()
	defer r.adaptersMu.Unlock()
	r.adapters = append(r.adapters, adapter)
}

// Run executes one agent run for the session and returns the final assistant
// text. Runs for the same session are serialised; runs for different sessions
// proceed concurrently.
func (r *Runtime) Run(ctx context.Context, sessionID, prompt string) (string, error) {
	unlock := r.lockSession(sessionID)
	defer unlock()

	if r.metrics != nil {
		r.metrics.ActiveRuns.Inc()
		defer r.metrics.ActiveRuns.Dec()
	}

	runID := uuid.NewString()
	ctx = observability.WithRunID(ctx, runID)
	r.logger.Info("run started", "run_id", runID, "session_id", sessionID)
	r.hooks.Fire("run_started", map[string]string{
		"RUN_ID":     runID,
		"SESSION_ID": sessionID,
	})
	r.hooks.Fire("message_received", map[string]string{
		"RUN_ID":     runID,
		"SESSION_ID": sessionID,
	})

	loop := NewLoop(r.client, r.registry, r.executor, r.store, r.bus, r.system, ToolContext{
		WorkDir:    r.cfg.Agent.Workspace,
		Store:      r.store,
		Spawner:    r,
		ConfigPath: "",
	}, LoopConfig{
		MaxTurns:      r.cfg.Agent.MaxTurns,
		MaxDuration:   time.Duration(r.cfg.Agent.MaxDurationSecs) * time.Second,
		ParallelTools: r.cfg.ParallelToolsEnabled(),
		HistoryLimit:  r.cfg.Agent.HistoryLimit,
	}, r.logger)

	text, err := loop.Run(ctx, sessionID, prompt)
	if err != nil {
		r.logger.Warn("run finished with error", "run_id", runID, "error", err)
	} else {
		r.logger.Info("run completed", "run_id", runID, "session_id", sessionID)
	}
	return text, err
}

// Spawn implements Spawner: it mints a fresh session and executes the prompt
// in it. Sub-agent tools use this to launch nested runs.
func (r *Runtime) Spawn(ctx context.Context, prompt string) (string, error) {
	sess, _ := r.sessions.GetOrCreate("spawn:"+uuid.NewString(), "spawn")
	return r.Run(ctx, sess.ID, prompt)
}

// Close stops the runtime's background observers.
func (r *Runtime) Close() {
	if r.stopHooks != nil {
		r.stopHooks()
	}
}

// lockSession serialises runs per session with refcounted locks that vanish
// when idle.
func (r *Runtime) lockSession(sessionID string) func() {
	if strings.TrimSpace(sessionID) == "" {
		return func() {}
	}

	r.sessionLocksMu.Lock()
	lock := r.sessionLocks[sessionID]
	if lock == nil {
		lock = &sessionLock{}
		r.sessionLocks[sessionID] = lock
	}
	lock.refs++
	r.sessionLocksMu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		r.sessionLocksMu.Lock()
		lock.refs--
		if lock.refs <= 0 {
			delete(r.sessionLocks, sessionID)
		}
		r.sessionLocksMu.Unlock()
	}
}

// watchEvents subscribes to the bus to forward approvals to channel adapters
// and fire lifecycle hooks. It returns a stop function.
func (r *Runtime) watchEvents() func() {
	sub := r.bus.Subscribe()
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		for {
			ev, err := sub.Recv(ctx)
			if err == bus.ErrLagged {
				continue
			}
			if err != nil {
				return
			}
			switch ev.Type {
			case models.EventApprovalRequested:
				if ev.Approval != nil {
					r.forwardApproval(ctx, *ev.Approval)
				}
			case models.EventApprovalResolved:
				r.hooks.Fire("approval_resolved", map[string]string{
					"APPROVAL_ID": ev.ApprovalID,
					"SESSION_ID":  ev.SessionID,
				})
			case models.EventToolCallCompleted:
				r.hooks.Fire("tool_call_completed", map[string]string{
					"TOOL_NAME":    ev.ToolName,
					"TOOL_CALL_ID": ev.ToolCallID,
					"SESSION_ID":   ev.SessionID,
				})
			case models.EventRunCompleted:
				r.hooks.Fire("run_completed", map[string]string{
					"SESSION_ID": ev.SessionID,
				})
			}
		}
	}()

	return func() {
		cancel()
		sub.Close()
	}
}

// forwardApproval offers the request to each adapter; the first rich render
// wins, otherwise a plain text fallback goes to every adapter.
func (r *Runtime) forwardApproval(ctx context.Context, req models.ApprovalRequest) {
	r.adaptersMu.RLock()
	adapters := append([]ChannelAdapter(nil), r.adapters...)
	r.adaptersMu.RUnlock()

	for _, adapter := range adapters {
		rendered, err := adapter.SendApproval(ctx, req.SessionID, req)
		if err != nil {
			r.logger.Warn("approval forward failed", "adapter", adapter.Name(), "error", err)
			continue
		}
		if rendered {
			return
		}
	}

	fallback := "Approval needed for tool " + req.ToolName + " (" + req.Tier.String() + "), id " + req.ID
	for _, adapter := range adapters {
		if err := adapter.Send(ctx, req.SessionID, fallback); err != nil {
			r.logger.Warn("approval fallback send failed", "adapter", adapter.Name(), "error", err)
		}
	}
}
