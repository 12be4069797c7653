package pipeline

import (
	"fmt"
	"strings"
)

// Decision is the Order Guard's answer for one requested gate. A denial
// is a normal, cacheable result, not an error: the facade turns it into
// a non-fatal envelope.
type Decision struct {
	Allowed    bool     `json:"allowed"`
	Reason     string   `json:"reason,omitempty"`
	Missing    []string `json:"missing_prerequisites,omitempty"`
	Suggestion string   `json:"suggestion,omitempty"`
}

// Guard enforces prerequisite chains between gates.
type Guard struct {
	chain *Chain
}

// NewGuard creates an order guard over the given chain.
func NewGuard(chain *Chain) *Guard {
	return &Guard{chain: chain}
}

// Check decides whether a gate may run given the session's execution
// history. Entry gates are allowed unconditionally; gates without a
// declared prerequisite entry carry no ordering constraint; everything
// else must find each prerequisite in the history.
func (g *Guard) Check(gate string, executed []string) Decision {
	if g.chain.IsEntry(gate) {
		return Decision{Allowed: true}
	}

	prereqs, declared := g.chain.Prerequisites(gate)
	if !declared || len(prereqs) == 0 {
		// No ordering constraint. Distinct from being an entry point.
		return Decision{Allowed: true}
	}

	seen := make(map[string]bool, len(executed))
	for _, e := range executed {
		seen[e] = true
	}

	var missing []string
	for _, p := range prereqs {
		if !seen[p] {
			missing = append(missing, p)
		}
	}
	if len(missing) == 0 {
		return Decision{Allowed: true}
	}

	return Decision{
		Allowed: false,
		Reason:  fmt.Sprintf("gate %q requires prior verification stages", gate),
		Missing: missing,
		Suggestion: fmt.Sprintf("run %s first, then retry %s",
			strings.Join(missing, " → "), gate),
	}
}

// DetectWorkflow classifies the dominant in-flight workflow family by
// scanning the history for marker gates. First matching family wins;
// empty string means no family matched.
func (g *Guard) DetectWorkflow(executed []string) string {
	seen := make(map[string]bool, len(executed))
	for _, e := range executed {
		seen[e] = true
	}
	for _, f := range g.chain.Families() {
		if seen[f.Marker] {
			return f.Name
		}
	}
	return ""
}

// RecommendedNext returns the next gate per the linear chain, keyed by
// the last executed gate. Empty history recommends the start gate. A
// terminal last gate returns ("", false): the workflow is complete.
func (g *Guard) RecommendedNext(executed []string) (string, bool) {
	if len(executed) == 0 {
		return g.chain.Start(), true
	}
	last := executed[len(executed)-1]
	return g.chain.Next(last)
}
