// Package pipeline owns gate ordering: the authoritative gate chain, the
// order guard that enforces prerequisites, and the auto-router that
// recommends the next gate from free-text task input.
//
// There is exactly one "what comes after X" table. Both the guard's
// RecommendedNext and the auto-router consume the same Chain, so the two
// can never drift apart.
package pipeline

// Gate identifiers. Gates are "Eyes" in the product's domain language.
const (
	GateSharingan    = "sharingan"     // ambiguity / clarification check
	GatePromptHelper = "prompt-helper" // prompt restructuring
	GateJogan        = "jogan"         // intent confirmation
	GateRinnegan     = "rinnegan"      // plan review
	GateMangekyo     = "mangekyo"      // code review
	GateTenseigan    = "tenseigan"     // evidence validation
	GateByakugan     = "byakugan"      // consistency check
	GateOverseer     = "overseer"      // general-purpose navigator
)

// Family classifies the dominant in-flight workflow by a marker gate.
type Family struct {
	Name   string
	Marker string
}

// Chain is the static gate topology: entry set, prerequisite graph, and
// the linear successor table. Fixed at startup, never session-mutable.
type Chain struct {
	entries  map[string]bool
	prereqs  map[string][]string
	next     map[string]string
	order    []string
	families []Family
}

// DefaultChain returns the built-in pipeline topology.
//
// A gate can carry zero prerequisites without being a designated entry
// point; the two are distinct lookups. Entry gates start workflows and
// participate in family classification, while a merely unconstrained
// gate is only exempt from ordering.
func DefaultChain() *Chain {
	return &Chain{
		entries: map[string]bool{
			GateSharingan: true,
			GateRinnegan:  true,
			GateTenseigan: true,
			GateOverseer:  true,
		},
		prereqs: map[string][]string{
			GatePromptHelper: {GateSharingan},
			GateJogan:        {GatePromptHelper},
			GateMangekyo:     {GateRinnegan},
			GateByakugan:     {GateTenseigan},
		},
		next: map[string]string{
			GateSharingan:    GatePromptHelper,
			GatePromptHelper: GateJogan,
			GateJogan:        GateRinnegan,
			GateRinnegan:     GateMangekyo,
			GateMangekyo:     GateTenseigan,
			GateTenseigan:    GateByakugan,
		},
		order: []string{
			GateSharingan, GatePromptHelper, GateJogan, GateRinnegan,
			GateMangekyo, GateTenseigan, GateByakugan, GateOverseer,
		},
		families: []Family{
			{Name: "clarification", Marker: GateSharingan},
			{Name: "planning", Marker: GateRinnegan},
			{Name: "implementation", Marker: GateMangekyo},
			{Name: "validation", Marker: GateTenseigan},
		},
	}
}

// Gates returns all known gate identifiers in declared order.
func (c *Chain) Gates() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Known reports whether the identifier is a gate in this chain.
func (c *Chain) Known(gate string) bool {
	for _, g := range c.order {
		if g == gate {
			return true
		}
	}
	return false
}

// IsEntry reports whether the gate is a designated entry point.
func (c *Chain) IsEntry(gate string) bool {
	return c.entries[gate]
}

// Prerequisites returns the declared prerequisite set for a gate, in
// declared order. The second result distinguishes "declared empty" from
// "not declared at all"; both mean no ordering constraint.
func (c *Chain) Prerequisites(gate string) ([]string, bool) {
	p, ok := c.prereqs[gate]
	if !ok {
		return nil, false
	}
	out := make([]string, len(p))
	copy(out, p)
	return out, true
}

// Next returns the successor of a gate in the linear chain, or false if
// the gate is terminal (workflow considered complete after it).
func (c *Chain) Next(gate string) (string, bool) {
	n, ok := c.next[gate]
	return n, ok
}

// Start is the gate a fresh workflow begins with.
func (c *Chain) Start() string {
	return GateSharingan
}

// Families returns workflow families in classification priority order.
func (c *Chain) Families() []Family {
	out := make([]Family, len(c.families))
	copy(out, c.families)
	return out
}
