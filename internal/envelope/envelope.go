// Package envelope defines the fixed response contract every gate must
// return and the strict codec that enforces it.
//
// A gate's raw output either satisfies the full envelope shape (every
// field present, correctly typed) or it is a protocol failure. There is
// no lenient mode: a malformed envelope is never forwarded to the agent.
package envelope

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Status codes follow a fixed convention: OK_* when Ok is true, E_* when
// it is false. The prefix/polarity match is documented, not enforced.
const (
	CodeOK              = "OK"
	CodeNeedClarify     = "OK_NEED_CLARIFICATION"
	CodeInvalidInput    = "E_INVALID_INPUT"
	CodeEnvelopeInvalid = "E_ENVELOPE_INVALID"
	CodeProviderError   = "E_PROVIDER_ERROR"
	CodeRoutingFailed   = "E_ROUTING_FAILED"
	CodeOrderViolation  = "E_ORDER_VIOLATION"
	CodeTimeout         = "E_TIMEOUT"
	CodeRateLimit       = "E_RATE_LIMIT"
)

// Envelope is the universal gate response. Constructed fresh per gate
// invocation, never mutated, immediately serialized across the transport
// boundary.
type Envelope struct {
	Tag  string                 `json:"tag"`
	OK   bool                   `json:"ok"`
	Code string                 `json:"code"`
	Md   string                 `json:"md"`
	Data map[string]interface{} `json:"data"`
	Next string                 `json:"next"`
}

// ContractError reports why a raw gate output failed the codec.
type ContractError struct {
	Field  string
	Detail string
}

func (e *ContractError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("envelope contract violation: field %q: %s", e.Field, e.Detail)
	}
	return "envelope contract violation: " + e.Detail
}

// requiredFields maps each envelope field to a type checker.
var requiredFields = []struct {
	name  string
	check func(v interface{}) bool
	typ   string
}{
	{"tag", func(v interface{}) bool { _, ok := v.(string); return ok }, "string"},
	{"ok", func(v interface{}) bool { _, ok := v.(bool); return ok }, "bool"},
	{"code", func(v interface{}) bool { _, ok := v.(string); return ok }, "string"},
	{"md", func(v interface{}) bool { _, ok := v.(string); return ok }, "string"},
	{"data", func(v interface{}) bool { _, ok := v.(map[string]interface{}); return ok }, "object"},
	{"next", func(v interface{}) bool { _, ok := v.(string); return ok }, "string"},
}

// Parse decodes and validates a raw gate output. It fails on malformed
// JSON, any missing required field, or a wrongly typed field. Pure
// function, no side effects.
func Parse(raw []byte) (*Envelope, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return nil, &ContractError{Detail: "empty payload"}
	}

	var shape map[string]interface{}
	if err := json.Unmarshal([]byte(trimmed), &shape); err != nil {
		return nil, &ContractError{Detail: "malformed JSON: " + err.Error()}
	}

	for _, f := range requiredFields {
		v, present := shape[f.name]
		if !present {
			return nil, &ContractError{Field: f.name, Detail: "missing"}
		}
		if !f.check(v) {
			return nil, &ContractError{Field: f.name, Detail: "expected " + f.typ}
		}
	}

	var env Envelope
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
		return nil, &ContractError{Detail: "decode: " + err.Error()}
	}
	if env.Tag == "" {
		return nil, &ContractError{Field: "tag", Detail: "must be non-empty"}
	}
	return &env, nil
}

// Validate reports whether a raw gate output satisfies the contract.
func Validate(raw []byte) bool {
	_, err := Parse(raw)
	return err == nil
}

// Marshal serializes an envelope for the transport boundary.
func Marshal(e *Envelope) ([]byte, error) {
	return json.Marshal(e)
}

// ExtractJSON pulls the first top-level JSON object out of free text.
// Model backends frequently wrap the envelope in prose or a markdown
// fence; the codec still demands the object itself be exact.
func ExtractJSON(text string) []byte {
	s := strings.TrimSpace(text)
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		s = strings.TrimPrefix(s, "json")
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	}
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return []byte(s)
	}
	depth := 0
	inStr := false
	esc := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case esc:
			esc = false
		case inStr && c == '\\':
			esc = true
		case c == '"':
			inStr = !inStr
		case !inStr && c == '{':
			depth++
		case !inStr && c == '}':
			depth--
			if depth == 0 {
				return []byte(s[start : i+1])
			}
		}
	}
	return []byte(s[start:])
}
