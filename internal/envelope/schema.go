package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// SchemaRegistry holds optional per-gate JSON schemas for the envelope's
// data payload. Gates without a registered schema only get the structural
// envelope check.
type SchemaRegistry struct {
	mu       sync.RWMutex
	compiled map[string]*jsonschema.Schema
}

// NewSchemaRegistry creates an empty registry.
func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{compiled: make(map[string]*jsonschema.Schema)}
}

// Register compiles and stores the data schema for a gate tag.
func (r *SchemaRegistry) Register(tag string, schema []byte) error {
	if len(schema) == 0 {
		return fmt.Errorf("schema is empty")
	}
	compiler := jsonschema.NewCompiler()
	id := "inmemory://" + tag
	if err := compiler.AddResource(id, bytes.NewReader(schema)); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := compiler.Compile(id)
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	r.mu.Lock()
	r.compiled[tag] = compiled
	r.mu.Unlock()
	return nil
}

// ValidateData checks an envelope's data payload against the registered
// schema for its tag, if any. A schema violation is a contract failure.
func (r *SchemaRegistry) ValidateData(env *Envelope) error {
	r.mu.RLock()
	schema := r.compiled[env.Tag]
	r.mu.RUnlock()
	if schema == nil {
		return nil
	}

	// Round-trip through JSON so numbers normalize the way the
	// validator expects.
	raw, err := json.Marshal(env.Data)
	if err != nil {
		return fmt.Errorf("normalize data: %w", err)
	}
	var value interface{}
	if err := json.Unmarshal(raw, &value); err != nil {
		return fmt.Errorf("normalize data: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return &ContractError{Field: "data", Detail: err.Error()}
	}
	return nil
}
