// Package facade is the single entry point for agent requests. One
// operation takes free-text task input and drives the full pipeline:
// session resolution, routing, order authorization, provider execution,
// envelope validation, and event publishing.
//
// Every request walks a strict state machine; failures are scoped to
// the request and always surface with a generic, masked summary that
// never names an internal gate.
package facade

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thirdeye-labs/overseer/internal/envelope"
	"github.com/thirdeye-labs/overseer/internal/events"
	"github.com/thirdeye-labs/overseer/internal/metrics"
	"github.com/thirdeye-labs/overseer/internal/pipeline"
	"github.com/thirdeye-labs/overseer/internal/provider"
	"github.com/thirdeye-labs/overseer/internal/sessions"
	"github.com/thirdeye-labs/overseer/internal/store"
	"github.com/thirdeye-labs/overseer/pkg/models"
)

// ── Request / result shapes ─────────────────────────────────

// RunRequest is the one externally invocable operation's input.
type RunRequest struct {
	Task        string               `json:"task"`
	SessionHint sessions.ResolveHint `json:"session_hint,omitempty"`
	Config      *RunConfig           `json:"config,omitempty"`
}

// RunConfig optionally overrides the provider for one request.
type RunConfig struct {
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
	BaseURL  string `json:"base_url,omitempty"`
	APIKey   string `json:"api_key,omitempty"`
}

// Verdicts. The agent sees nothing finer grained.
const (
	VerdictApproved = "APPROVED"
	VerdictRejected = "REJECTED"
)

// RunResult is the one externally invocable operation's output.
type RunResult struct {
	Code     string                 `json:"code"`
	Verdict  string                 `json:"verdict"`
	Summary  string                 `json:"summary"`
	Metadata map[string]interface{} `json:"metadata"`
}

// ── Facade ──────────────────────────────────────────────────

// Options carry the facade's provider wiring.
type Options struct {
	Primary  provider.Config
	Fallback *provider.Config
}

// Facade orchestrates one request end to end. All collaborators are
// injected; the facade holds no mutable state of its own.
type Facade struct {
	store    store.Store
	sessions *sessions.Manager
	chain    *pipeline.Chain
	guard    *pipeline.Guard
	router   *pipeline.Router
	gateway  *provider.Gateway
	bus      *events.Bus
	schemas  *envelope.SchemaRegistry
	metrics  metrics.Metrics
	opts     Options

	now func() time.Time
}

// New wires a facade from its collaborators.
func New(
	s store.Store,
	sm *sessions.Manager,
	chain *pipeline.Chain,
	guard *pipeline.Guard,
	router *pipeline.Router,
	gw *provider.Gateway,
	bus *events.Bus,
	schemas *envelope.SchemaRegistry,
	m metrics.Metrics,
	opts Options,
) *Facade {
	if m == nil {
		m = metrics.Noop{}
	}
	if schemas == nil {
		schemas = envelope.NewSchemaRegistry()
	}
	return &Facade{
		store:    s,
		sessions: sm,
		chain:    chain,
		guard:    guard,
		router:   router,
		gateway:  gw,
		bus:      bus,
		schemas:  schemas,
		metrics:  m,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the facade clock. Test hook.
func (f *Facade) SetClock(now func() time.Time) { f.now = now }

// Run executes one agent request through the full state machine:
//
//	resolving-session → routing → authorizing → executing →
//	validating → publishing → done
//
// with rejected (authorization denial) and failed (execution or
// validation failure) as terminal states. The returned result is always
// non-nil; request-scoped failures are encoded in it, never returned as
// a Go error.
func (f *Facade) Run(ctx context.Context, req RunRequest) *RunResult {
	// ── resolving-session ──
	if strings.TrimSpace(req.Task) == "" {
		return &RunResult{
			Code:     envelope.CodeInvalidInput,
			Verdict:  VerdictRejected,
			Summary:  "task must not be empty",
			Metadata: map[string]interface{}{},
		}
	}

	sess, err := f.sessions.Resolve(ctx, req.SessionHint)
	if err != nil {
		log.Warn().Err(err).Msg("Session resolution failed")
		return &RunResult{
			Code:     envelope.CodeInvalidInput,
			Verdict:  VerdictRejected,
			Summary:  "session could not be resolved",
			Metadata: map[string]interface{}{},
		}
	}
	meta := map[string]interface{}{"sessionId": sess.ID}

	// ── routing ──
	gate := f.router.ExtractExplicitGate(req.Task)
	if gate == "" {
		rec := f.router.Route(req.Task, sess.ExecutedGates)
		if rec.Gate == "" {
			f.metrics.IncRequest("", "routing_failed")
			return &RunResult{
				Code:     envelope.CodeRoutingFailed,
				Verdict:  VerdictRejected,
				Summary:  "no suitable processing stage could be determined for this task",
				Metadata: meta,
			}
		}
		gate = rec.Gate
		log.Debug().Str("session", sess.ID).Str("gate", gate).Int("confidence", rec.Confidence).Str("reasoning", rec.Reasoning).Msg("Auto-routed request")
	}

	run := &models.PipelineRun{
		ID:        uuid.New().String(),
		SessionID: sess.ID,
		Gate:      gate,
		State:     models.RunAuthorizing,
		StartedAt: f.now(),
	}
	if err := f.store.CreateRun(ctx, run); err != nil {
		log.Warn().Err(err).Msg("Run record creation failed")
	}

	// The guard check, provider call, and history append run under the
	// session lock so concurrent requests on one session observe gate
	// executions in request order.
	var result *RunResult
	serr := f.sessions.Serialize(ctx, sess.ID, func(h sessions.Handle) error {
		result = f.runLocked(ctx, h, run, req, meta)
		return nil
	})
	if serr != nil {
		return f.fail(ctx, run, envelope.CodeInvalidInput, "session became unavailable", meta, serr)
	}
	return result
}

// runLocked is the authorization-through-publishing segment of the state
// machine. Caller holds the session lock via h.
func (f *Facade) runLocked(ctx context.Context, h sessions.Handle, run *models.PipelineRun, req RunRequest, meta map[string]interface{}) *RunResult {
	sess, err := h.Session()
	if err != nil {
		return f.fail(ctx, run, envelope.CodeInvalidInput, "session could not be loaded", meta, err)
	}

	// ── authorizing ──
	decision := f.guard.Check(run.Gate, sess.ExecutedGates)
	if !decision.Allowed {
		run.State = models.RunRejected
		run.Code = envelope.CodeOrderViolation
		f.finishRun(ctx, run)
		f.publishError(ctx, run, envelope.CodeOrderViolation, "prerequisite stages incomplete")
		f.metrics.IncRequest(run.Gate, "rejected")
		log.Info().Str("session", sess.ID).Str("gate", run.Gate).Strs("missing", decision.Missing).Msg("Order guard denied gate")
		return &RunResult{
			Code:    envelope.CodeOrderViolation,
			Verdict: VerdictRejected,
			Summary: fmt.Sprintf("additional review is required before this step: %d earlier stage(s) must complete first, then retry",
				len(decision.Missing)),
			Metadata: meta,
		}
	}

	// ── executing ──
	run.State = models.RunExecuting
	f.updateRun(ctx, run)
	f.publish(ctx, &models.PipelineEvent{
		SessionID: run.SessionID,
		RunID:     run.ID,
		Gate:      run.Gate,
		Phase:     models.PhaseStarted,
	})

	primary, fallback := f.providerConfigs(req.Config)
	creq := f.buildCompletion(ctx, sess, run.Gate, req.Task)

	start := f.now()
	resp, err := f.gateway.Complete(ctx, primary, fallback, creq)
	if err != nil {
		code := classifyProviderError(err)
		// The gate did not complete; the history is not appended.
		return f.fail(ctx, run, code, providerSummary(code), meta, err)
	}
	run.Backend = resp.Backend
	run.TokensIn = resp.TokensIn
	run.TokensOut = resp.TokensOut
	run.LatencyMs = resp.LatencyMs

	f.publish(ctx, &models.PipelineEvent{
		SessionID: run.SessionID,
		RunID:     run.ID,
		Gate:      run.Gate,
		Phase:     models.PhaseAnalyzing,
		Metrics: &models.EventMetrics{
			TokensIn:  resp.TokensIn,
			TokensOut: resp.TokensOut,
			LatencyMs: resp.LatencyMs,
			Backend:   resp.Backend,
		},
	})

	// ── validating ──
	run.State = models.RunValidating
	f.updateRun(ctx, run)

	raw := envelope.ExtractJSON(resp.Text)
	env, perr := envelope.Parse(raw)
	if perr == nil {
		perr = f.schemas.ValidateData(env)
	}
	if perr != nil {
		// Full detail stays server-side; the agent sees only the code.
		log.Error().Err(perr).Str("session", run.SessionID).Str("gate", run.Gate).Str("raw", truncate(resp.Text, 2000)).Msg("Gate output failed the envelope contract")
		return f.fail(ctx, run, envelope.CodeEnvelopeInvalid, "the processing stage returned an invalid response", meta, perr)
	}

	// ── publishing ──
	run.State = models.RunPublishing
	f.updateRun(ctx, run)
	if err := h.AppendGate(run.Gate); err != nil {
		return f.fail(ctx, run, envelope.CodeInvalidInput, "session history could not be updated", meta, err)
	}
	f.publish(ctx, &models.PipelineEvent{
		SessionID: run.SessionID,
		RunID:     run.ID,
		Gate:      run.Gate,
		Phase:     models.PhaseComplete,
		Code:      env.Code,
		Summary:   truncate(env.Md, 500),
		Metrics: &models.EventMetrics{
			TokensIn:  resp.TokensIn,
			TokensOut: resp.TokensOut,
			LatencyMs: resp.LatencyMs,
			Backend:   resp.Backend,
		},
	})

	// ── done ──
	run.State = models.RunDone
	run.Code = env.Code
	f.finishRun(ctx, run)
	f.metrics.IncRequest(run.Gate, "done")
	f.metrics.ObserveGateLatency(run.Gate, f.now().Sub(start).Seconds())

	verdict := VerdictApproved
	summary := env.Md
	if !env.OK {
		verdict = VerdictRejected
		summary = f.mask(summary)
	}
	if env.Next != "" && env.OK {
		meta["nextSuggested"] = env.Next
	}
	return &RunResult{
		Code:     env.Code,
		Verdict:  verdict,
		Summary:  summary,
		Metadata: meta,
	}
}

// ── Failure path ────────────────────────────────────────────

// fail transitions a run to the failed terminal state, publishes an
// error event, and builds the masked external result.
func (f *Facade) fail(ctx context.Context, run *models.PipelineRun, code, summary string, meta map[string]interface{}, cause error) *RunResult {
	run.State = models.RunFailed
	run.Code = code
	if cause != nil {
		run.Error = cause.Error()
	}
	f.finishRun(ctx, run)
	f.publishError(ctx, run, code, summary)
	f.metrics.IncRequest(run.Gate, "failed")
	log.Warn().Err(cause).Str("session", run.SessionID).Str("gate", run.Gate).Str("code", code).Msg("Pipeline run failed")
	return &RunResult{
		Code:     code,
		Verdict:  VerdictRejected,
		Summary:  f.mask(summary),
		Metadata: meta,
	}
}

func classifyProviderError(err error) string {
	var (
		rateErr    *provider.RateLimitError
		timeoutErr *provider.TimeoutError
	)
	switch {
	case errors.As(err, &rateErr):
		return envelope.CodeRateLimit
	case errors.As(err, &timeoutErr):
		return envelope.CodeTimeout
	default:
		return envelope.CodeProviderError
	}
}

func providerSummary(code string) string {
	switch code {
	case envelope.CodeRateLimit:
		return "the service is receiving too many requests; retry shortly"
	case envelope.CodeTimeout:
		return "the request took too long to process"
	default:
		return "a backend service error occurred; the request was not completed"
	}
}

// ── Helpers ─────────────────────────────────────────────────

func (f *Facade) providerConfigs(override *RunConfig) (provider.Config, *provider.Config) {
	primary := f.opts.Primary
	if override != nil {
		if override.Provider != "" {
			primary.Kind = override.Provider
		}
		if override.Model != "" {
			primary.Model = override.Model
		}
		if override.BaseURL != "" {
			primary.BaseURL = override.BaseURL
		}
		if override.APIKey != "" {
			primary.APIKey = override.APIKey
		}
	}
	return primary, f.opts.Fallback
}

// buildCompletion assembles the gate-invocation request: the persona
// prompt as the system turn, then the session context and task.
func (f *Facade) buildCompletion(ctx context.Context, sess *models.Session, gate, task string) *models.CompletionRequest {
	prompt := f.personaPrompt(ctx, gate)

	var b strings.Builder
	b.WriteString("Session context:\n")
	fmt.Fprintf(&b, "- completed stages: %d\n", len(sess.ExecutedGates))
	if sess.Lang != "" && sess.Lang != models.LangAuto {
		fmt.Fprintf(&b, "- respond in language: %s\n", sess.Lang)
	}
	b.WriteString("\nTask:\n")
	b.WriteString(task)

	return &models.CompletionRequest{
		Messages: []models.ChatMessage{
			{Role: "system", Content: prompt},
			{Role: "user", Content: b.String()},
		},
	}
}

// personaPrompt loads the operator-edited persona for the gate, falling
// back to the built-in default.
func (f *Facade) personaPrompt(ctx context.Context, gate string) string {
	p, err := f.store.GetPersona(ctx, gate)
	if err == nil && p.Prompt != "" {
		return p.Prompt + "\n\n" + envelopeInstruction
	}
	return defaultPrompt(gate) + "\n\n" + envelopeInstruction
}

// mask replaces internal gate identifiers in externally surfaced text.
// Rejections and errors must read generically.
func (f *Facade) mask(text string) string {
	for _, g := range f.chain.Gates() {
		if strings.Contains(strings.ToLower(text), g) {
			re := caseInsensitiveReplacer(g, "a review stage")
			text = re(text)
		}
	}
	return text
}

// caseInsensitiveReplacer replaces every case-insensitive occurrence of
// old with repl.
func caseInsensitiveReplacer(old, repl string) func(string) string {
	return func(s string) string {
		var b strings.Builder
		lower := strings.ToLower(s)
		lowerOld := strings.ToLower(old)
		for {
			i := strings.Index(lower, lowerOld)
			if i < 0 {
				b.WriteString(s)
				return b.String()
			}
			b.WriteString(s[:i])
			b.WriteString(repl)
			s = s[i+len(old):]
			lower = lower[i+len(old):]
		}
	}
}

func (f *Facade) publish(ctx context.Context, ev *models.PipelineEvent) {
	if err := f.bus.Publish(ctx, ev); err != nil {
		log.Warn().Err(err).Str("session", ev.SessionID).Msg("Event publish failed")
	}
}

func (f *Facade) publishError(ctx context.Context, run *models.PipelineRun, code, summary string) {
	f.publish(ctx, &models.PipelineEvent{
		SessionID: run.SessionID,
		RunID:     run.ID,
		Gate:      run.Gate,
		Phase:     models.PhaseError,
		Code:      code,
		Summary:   summary,
	})
}

func (f *Facade) updateRun(ctx context.Context, run *models.PipelineRun) {
	if err := f.store.UpdateRun(ctx, run); err != nil {
		log.Warn().Err(err).Str("run", run.ID).Msg("Run update failed")
	}
}

func (f *Facade) finishRun(ctx context.Context, run *models.PipelineRun) {
	t := f.now()
	run.FinishedAt = &t
	f.updateRun(ctx, run)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	// Back up to a rune start so the cut never splits a multi-byte
	// character.
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
