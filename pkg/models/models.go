// Package models defines the shared data model for the Overseer pipeline
// gateway: sessions, pipeline runs, lifecycle events, personas, and the
// normalized provider request/response shapes.
package models

import (
	"encoding/json"
	"time"
)

// ── Session ──────────────────────────────────────────────────

// Lang is the session response language.
type Lang string

const (
	LangAuto Lang = "auto"
	LangEN   Lang = "en"
	LangAR   Lang = "ar"
)

// Session identifies one ongoing conversation between an external agent
// and the pipeline. The ID is immutable once assigned and ExecutedGates
// only ever grows.
type Session struct {
	ID            string    `json:"session_id" db:"id"`
	Identity      string    `json:"identity,omitempty" db:"identity"`
	UserID        string    `json:"user_id,omitempty" db:"user_id"`
	Tenant        string    `json:"tenant,omitempty" db:"tenant"`
	Lang          Lang      `json:"lang" db:"lang"`
	BudgetTokens  int64     `json:"budget_tokens" db:"budget_tokens"`
	ExecutedGates []string  `json:"executed_gates" db:"executed_gates"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	LastActivity  time.Time `json:"last_activity" db:"last_activity"`
}

// ── Pipeline Run ─────────────────────────────────────────────

// RunState is one state of the single-entry facade state machine.
type RunState string

const (
	RunResolvingSession RunState = "resolving-session"
	RunRouting          RunState = "routing"
	RunAuthorizing      RunState = "authorizing"
	RunExecuting        RunState = "executing"
	RunValidating       RunState = "validating"
	RunPublishing       RunState = "publishing"
	RunDone             RunState = "done"
	RunRejected         RunState = "rejected"
	RunFailed           RunState = "failed"
)

// PipelineRun records one gate invocation from the facade's perspective.
type PipelineRun struct {
	ID         string     `json:"id" db:"id"`
	SessionID  string     `json:"session_id" db:"session_id"`
	Gate       string     `json:"gate" db:"gate"`
	State      RunState   `json:"state" db:"state"`
	Code       string     `json:"code,omitempty" db:"code"`
	Error      string     `json:"error,omitempty" db:"error"`
	Backend    string     `json:"backend,omitempty" db:"backend"`
	TokensIn   int64      `json:"tokens_in" db:"tokens_in"`
	TokensOut  int64      `json:"tokens_out" db:"tokens_out"`
	LatencyMs  int64      `json:"latency_ms" db:"latency_ms"`
	StartedAt  time.Time  `json:"started_at" db:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty" db:"finished_at"`
}

// ── Pipeline Event ───────────────────────────────────────────

// EventPhase is a gate lifecycle transition.
type EventPhase string

const (
	PhaseStarted   EventPhase = "started"
	PhaseAnalyzing EventPhase = "analyzing"
	PhaseComplete  EventPhase = "complete"
	PhaseError     EventPhase = "error"
	PhaseHeartbeat EventPhase = "heartbeat"
)

// PipelineEvent is an immutable, timestamped lifecycle record for one gate
// within one session. Seq is assigned by the event bus and is monotonic
// per session, which lets reconnecting subscribers resume without gaps
// or duplicates.
type PipelineEvent struct {
	Seq       uint64        `json:"seq"`
	SessionID string        `json:"session_id"`
	RunID     string        `json:"run_id,omitempty"`
	Gate      string        `json:"gate,omitempty"`
	Phase     EventPhase    `json:"phase"`
	Code      string        `json:"code,omitempty"`
	Summary   string        `json:"summary,omitempty"`
	Metrics   *EventMetrics `json:"metrics,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// EventMetrics carries enough data to render a timeline without
// re-querying storage.
type EventMetrics struct {
	TokensIn  int64  `json:"tokens_in,omitempty"`
	TokensOut int64  `json:"tokens_out,omitempty"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
	Backend   string `json:"backend,omitempty"`
}

// SessionSummary is the computed rollup served by the query endpoints.
type SessionSummary struct {
	SessionID   string    `json:"session_id"`
	EventCount  int       `json:"event_count"`
	Gates       []string  `json:"gates"`
	TokensIn    int64     `json:"tokens_in"`
	TokensOut   int64     `json:"tokens_out"`
	TotalMs     int64     `json:"total_ms"`
	FirstEvent  time.Time `json:"first_event,omitempty"`
	LatestEvent time.Time `json:"latest_event,omitempty"`
}

// ── Persona ──────────────────────────────────────────────────

// Strictness tunes how demanding a gate persona is.
type Strictness string

const (
	StrictnessLenient  Strictness = "lenient"
	StrictnessStandard Strictness = "standard"
	StrictnessStrict   Strictness = "strict"
)

// Persona is the operator-editable definition of one gate: display
// metadata plus the prompt template the provider call is built from.
type Persona struct {
	Gate        string     `json:"gate" db:"gate"`
	DisplayName string     `json:"display_name" db:"display_name"`
	Description string     `json:"description,omitempty" db:"description"`
	Prompt      string     `json:"prompt" db:"prompt"`
	Strictness  Strictness `json:"strictness" db:"strictness"`
	Version     int        `json:"version" db:"version"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// ── Provider ─────────────────────────────────────────────────

// ChatMessage is one turn in a completion request.
type ChatMessage struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// CompletionRequest is the uniform request shape every backend adapter
// accepts.
type CompletionRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	TopP        float64       `json:"top_p,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
}

// CompletionResponse is the uniform response shape every backend adapter
// returns.
type CompletionResponse struct {
	Text         string `json:"text"`
	Model        string `json:"model"`
	Backend      string `json:"backend"`
	TokensIn     int64  `json:"tokens_in"`
	TokensOut    int64  `json:"tokens_out"`
	LatencyMs    int64  `json:"latency_ms"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// ModelInfo is normalized model-listing metadata.
type ModelInfo struct {
	ID            string  `json:"id"`
	ContextWindow int     `json:"context_window,omitempty"`
	InputPer1K    float64 `json:"input_per_1k,omitempty"`
	OutputPer1K   float64 `json:"output_per_1k,omitempty"`
	SupportsJSON  bool    `json:"supports_json,omitempty"`
}

// HealthStatus is the result of a provider health probe.
type HealthStatus struct {
	Healthy   bool   `json:"healthy"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// ── MCP (JSON-RPC 2.0) ───────────────────────────────────────

// MCPRequest is an incoming JSON-RPC 2.0 request.
type MCPRequest struct {
	Jsonrpc string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id,omitempty"`
}

// MCPResponse is an outgoing JSON-RPC 2.0 response.
type MCPResponse struct {
	Jsonrpc string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *MCPError   `json:"error,omitempty"`
	ID      interface{} `json:"id,omitempty"`
}

// MCPError is a JSON-RPC 2.0 error object.
type MCPError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// MCPToolInfo describes a tool in a tools/list response.
type MCPToolInfo struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"inputSchema,omitempty"`
}

// MCPToolCallParams are the params of a tools/call request.
type MCPToolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

// MCPContent is one content block in a tool result.
type MCPContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// MCPToolResult is the result of a tools/call.
type MCPToolResult struct {
	Content []MCPContent `json:"content"`
	IsError bool         `json:"isError,omitempty"`
}
