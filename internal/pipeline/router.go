package pipeline

import (
	"regexp"
	"strings"
)

// Recommendation is the auto-router's advisory output. The router never
// enforces anything; admission is always the Order Guard's call.
type Recommendation struct {
	Gate         string   `json:"recommended_gate"`
	Reasoning    string   `json:"reasoning"`
	Confidence   int      `json:"confidence"` // 0–100
	Alternatives []string `json:"alternatives,omitempty"`
}

// Router recommends the next gate from free-text task input and the
// session's execution history.
type Router struct {
	chain *Chain
	guard *Guard
}

// NewRouter creates an auto-router sharing the guard's chain, keeping
// the two components' successor views identical.
func NewRouter(chain *Chain, guard *Guard) *Router {
	return &Router{chain: chain, guard: guard}
}

// Marker keyword sets, matched case-insensitively on word boundaries
// so partial words stay quiet ("fetch" must not trip "etc").
var (
	ambiguityMarkers = compileMarkers(
		"something", "somehow", "maybe", "not sure", "unclear",
		"ambiguous", "etc", "stuff", "things like", "or whatever",
	)
	planningMarkers = compileMarkers(
		"plan", "design", "architect", "roadmap", "strategy",
		"break down", "milestones",
	)
	factCheckMarkers = compileMarkers(
		"verify", "fact-check", "fact check", "is it true",
		"citation", "evidence", "source", "claim",
	)
)

type marker struct {
	word string
	re   *regexp.Regexp
}

func compileMarkers(words ...string) []marker {
	out := make([]marker, len(words))
	for i, w := range words {
		out[i] = marker{word: w, re: regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(w) + `\b`)}
	}
	return out
}

func containsAny(text string, markers []marker) (string, bool) {
	for _, m := range markers {
		if m.re.MatchString(text) {
			return m.word, true
		}
	}
	return "", false
}

// Route recommends the next gate. Policy, first match wins:
//
//  1. Empty history: keyword scan. Ambiguity markers recommend the
//     clarification entry gate, planning markers the plan-review entry
//     gate, fact-check markers the evidence gate; otherwise the
//     clarification gate is the universally safe first step, at slightly
//     lower confidence than an explicit keyword match.
//  2. Non-empty history: follow the chain, same table RecommendedNext
//     uses.
//  3. Terminal last gate: the navigator gate as a catch-all, reduced
//     confidence.
func (r *Router) Route(task string, executed []string) Recommendation {
	if len(executed) == 0 {
		if m, ok := containsAny(task, ambiguityMarkers); ok {
			return Recommendation{
				Gate:         GateSharingan,
				Reasoning:    "task contains ambiguity marker \"" + m + "\"",
				Confidence:   95,
				Alternatives: []string{GateOverseer},
			}
		}
		if m, ok := containsAny(task, planningMarkers); ok {
			return Recommendation{
				Gate:         GateRinnegan,
				Reasoning:    "task contains planning marker \"" + m + "\"",
				Confidence:   95,
				Alternatives: []string{GateSharingan},
			}
		}
		if m, ok := containsAny(task, factCheckMarkers); ok {
			return Recommendation{
				Gate:         GateTenseigan,
				Reasoning:    "task contains fact-check marker \"" + m + "\"",
				Confidence:   95,
				Alternatives: []string{GateSharingan},
			}
		}
		// Every downstream gate benefits from a de-ambiguated input.
		return Recommendation{
			Gate:         GateSharingan,
			Reasoning:    "no routing markers found; clarification is the safe first step",
			Confidence:   90,
			Alternatives: []string{GateOverseer},
		}
	}

	if next, ok := r.guard.RecommendedNext(executed); ok {
		return Recommendation{
			Gate:       next,
			Reasoning:  "following the pipeline chain after " + executed[len(executed)-1],
			Confidence: 85,
		}
	}

	return Recommendation{
		Gate:       GateOverseer,
		Reasoning:  "workflow complete; navigator can advise on what remains",
		Confidence: 60,
	}
}

// ExtractExplicitGate scans task text for a literal gate name. A hit
// bypasses the routing heuristics entirely. Pure function.
func (r *Router) ExtractExplicitGate(task string) string {
	lower := strings.ToLower(task)
	for _, g := range r.chain.Gates() {
		if strings.Contains(lower, g) {
			return g
		}
	}
	return ""
}
