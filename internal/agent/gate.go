package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/wovenbot/loom/internal/config"
	"github.com/wovenbot/loom/internal/observability"
	"github.com/wovenbot/loom/pkg/models"
)

// DefaultApprovalTimeoutSecs is how long the gate waits for a human decision.
const DefaultApprovalTimeoutSecs = 300

// maxInputSummaryLen bounds the human-readable input rendering on approval
// requests.
const maxInputSummaryLen = 200

// SecurityPolicy is the resolved policy the gate consults for every tool
// call. Name lists take precedence over tier defaults.
type SecurityPolicy struct {
	tierPolicy          map[models.Tier]models.PolicyDecision
	toolTiers           map[string]models.Tier
	alwaysAsk           map[string]bool
	neverAsk            map[string]bool
	alwaysDeny          map[string]bool
	approvalTimeoutSecs int
}

// DefaultSecurityPolicy returns the built-in tier defaults: T0 and T1 allow,
// T2 and T3 ask, T4 deny.
func DefaultSecurityPolicy() *SecurityPolicy {
	return &SecurityPolicy{
		tierPolicy: map[models.Tier]models.PolicyDecision{
			models.Tier0: models.DecisionAllow,
			models.Tier1: models.DecisionAllow,
			models.Tier2: models.DecisionAsk,
			models.Tier3: models.DecisionAsk,
			models.Tier4: models.DecisionDeny,
		},
		toolTiers:           make(map[string]models.Tier),
		alwaysAsk:           make(map[string]bool),
		neverAsk:            make(map[string]bool),
		alwaysDeny:          make(map[string]bool),
		approvalTimeoutSecs: DefaultApprovalTimeoutSecs,
	}
}

// PolicyFromConfig builds a policy from the security configuration section,
// layering overrides on the built-in defaults.
func PolicyFromConfig(cfg config.SecurityConfig) *SecurityPolicy {
	p := DefaultSecurityPolicy()
	for tier, action := range cfg.TierPolicy {
		t, err := models.ParseTier(tier)
		if err != nil {
			continue
		}
		p.tierPolicy[t] = models.PolicyDecision(action)
	}
	for tool, tier := range cfg.ToolTiers {
		t, err := models.ParseTier(tier)
		if err != nil {
			continue
		}
		p.toolTiers[tool] = t
	}
	for _, name := range cfg.AlwaysAsk {
		p.alwaysAsk[name] = true
	}
	for _, name := range cfg.NeverAsk {
		p.neverAsk[name] = true
	}
	for _, name := range cfg.AlwaysDeny {
		p.alwaysDeny[name] = true
	}
	if cfg.ApprovalTimeoutSecs > 0 {
		p.approvalTimeoutSecs = cfg.ApprovalTimeoutSecs
	}
	return p
}

// NeverAsk reports whether the tool is on the never_ask list.
func (p *SecurityPolicy) NeverAsk(name string) bool {
	return p.neverAsk[name]
}

// SecurityGate sits between the model's tool calls and the registry's
// dispatch.
type SecurityGate struct {
	policy   *SecurityPolicy
	registry *ToolRegistry
	broker   *ApprovalBroker
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewSecurityGate wires a gate. A nil policy uses the defaults.
func NewSecurityGate(policy *SecurityPolicy, registry *ToolRegistry, broker *ApprovalBroker, logger *slog.Logger, metrics *observability.Metrics) *SecurityGate {
	if policy == nil {
		policy = DefaultSecurityPolicy()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SecurityGate{
		policy:   policy,
		registry: registry,
		broker:   broker,
		logger:   logger,
		metrics:  metrics,
	}
}

// Decide classifies a tool call without side effects. The checks are ordered:
// always_deny wins over never_ask, which wins over always_ask, which wins
// over the tier default.
func (g *SecurityGate) Decide(name string) (models.PolicyDecision, string) {
	if g.policy.alwaysDeny[name] {
		return models.DecisionDeny, "policy: always_deny"
	}
	if g.policy.neverAsk[name] {
		return models.DecisionAllow, "policy: never_ask"
	}
	if g.policy.alwaysAsk[name] {
		return models.DecisionAsk, "policy: always_ask"
	}

	tier := g.tierOf(name)
	decision, ok := g.policy.tierPolicy[tier]
	if !ok {
		decision = models.DecisionAsk
	}
	return decision, fmt.Sprintf("policy: tier %s", tier)
}

// tierOf resolves a tool's effective tier: config override first, then the
// tool's own declaration, then Tier1.
func (g *SecurityGate) tierOf(name string) models.Tier {
	if tier, ok := g.policy.toolTiers[name]; ok {
		return tier
	}
	if tier, ok := g.registry.TierOf(name); ok {
		return tier
	}
	return models.Tier1
}

// Authorize resolves a tool call to a go/no-go. A nil result means proceed;
// otherwise the result is the error tool result to append in place of
// execution. The tool-call closure invariant is preserved in every outcome:
// the gate never drops a call silently.
func (g *SecurityGate) Authorize(ctx context.Context, sessionID string, call models.ToolCall) *ToolResult {
	decision, reason := g.Decide(call.Name)

	switch decision {
	case models.DecisionAllow:
		return nil

	case models.DecisionDeny:
		g.logger.Info("tool call denied", "tool", call.Name, "reason", reason)
		return &ToolResult{
			Content: fmt.Sprintf("tool call denied (%s)", reason),
			IsError: true,
		}
	}

	return g.awaitApproval(ctx, sessionID, call)
}

func (g *SecurityGate) awaitApproval(ctx context.Context, sessionID string, call models.ToolCall) *ToolResult {
	req := models.ApprovalRequest{
		ID:           uuid.NewString(),
		ToolName:     call.Name,
		Tier:         g.tierOf(call.Name),
		InputSummary: summarizeInput(call.Input),
		SessionID:    sessionID,
		CreatedAt:    time.Now(),
	}

	reply := g.broker.Request(req)
	timeout := time.Duration(g.policy.approvalTimeoutSecs) * time.Second
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	g.logger.Info("approval requested",
		"approval_id", req.ID,
		"tool", call.Name,
		"tier", req.Tier.String(),
		"session_id", sessionID,
	)

	select {
	case decision := <-reply:
		switch decision.Verdict {
		case models.VerdictApproved:
			g.countApproval("approved")
			return nil
		default:
			g.countApproval("denied")
			reason := decision.Reason
			if reason == "" {
				reason = "approval denied"
			}
			return &ToolResult{
				Content: fmt.Sprintf("tool call denied by operator: %s", reason),
				IsError: true,
			}
		}

	case <-timer.C:
		// Evict the entry so a late Respond is a no-op.
		g.broker.Cancel(req.ID)
		g.countApproval("timeout")
		g.logger.Warn("approval timed out", "approval_id", req.ID, "tool", call.Name)
		return &ToolResult{
			Content: fmt.Sprintf("approval timed out after %d seconds", g.policy.approvalTimeoutSecs),
			IsError: true,
		}

	case <-ctx.Done():
		g.broker.Cancel(req.ID)
		return &ToolResult{Content: "run cancelled while awaiting approval", IsError: true}
	}
}

func (g *SecurityGate) countApproval(outcome string) {
	if g.metrics != nil {
		g.metrics.ApprovalCounter.WithLabelValues(outcome).Inc()
	}
}

// summarizeInput renders tool input for human review, truncated so approval
// prompts stay short enough for chat surfaces. The cut lands on a rune
// boundary; chat APIs reject invalid UTF-8.
func summarizeInput(input []byte) string {
	s := string(input)
	if len(s) <= maxInputSummaryLen {
		return s
	}
	cut := maxInputSummaryLen - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
