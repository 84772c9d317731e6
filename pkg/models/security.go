package models

import "fmt"

// Tier is a coarse ordinal risk classification attached to each tool. Tiers
// are totally ordered: Tier0 < Tier1 < Tier2 < Tier3 < Tier4.
type Tier int

const (
	// Tier0 is read-only or pure computation.
	Tier0 Tier = iota

	// Tier1 mutates the workspace.
	Tier1

	// Tier2 is destructive or reaches outside the workspace.
	Tier2

	// Tier3 is privileged: spawning sub-agents, signalling processes,
	// external writes.
	Tier3

	// Tier4 is irreversible or dangerous; denied unless overridden.
	Tier4
)

// String returns the short form, e.g. "T2".
func (t Tier) String() string {
	return fmt.Sprintf("T%d", int(t))
}

// ParseTier parses "T0".."T4" (or bare digits) into a Tier.
func ParseTier(s string) (Tier, error) {
	var n int
	if _, err := fmt.Sscanf(s, "T%d", &n); err != nil {
		if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
			return 0, fmt.Errorf("invalid tier %q", s)
		}
	}
	if n < 0 || n > 4 {
		return 0, fmt.Errorf("invalid tier %q", s)
	}
	return Tier(n), nil
}

// PolicyDecision is the outcome of a security policy lookup.
type PolicyDecision string

const (
	// DecisionAllow lets the tool call execute.
	DecisionAllow PolicyDecision = "allow"

	// DecisionAsk suspends the call pending human approval.
	DecisionAsk PolicyDecision = "ask"

	// DecisionDeny refuses the call.
	DecisionDeny PolicyDecision = "deny"
)
