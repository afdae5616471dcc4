package capability

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validator checks invocation inputs against a capability's declared schema
// and required-field list. Compiled schemas are cached per capability id.
type Validator struct {
	mu       sync.RWMutex
	compiled map[string]*jsonschema.Schema
}

func NewValidator() *Validator {
	return &Validator{compiled: make(map[string]*jsonschema.Schema)}
}

// ValidateInputs returns a CallerError when inputs are missing required
// fields or violate the capability's JSON Schema.
func (v *Validator) ValidateInputs(c *Capability, inputs map[string]any) *InvocationError {
	for _, field := range c.Required {
		if _, ok := inputs[field]; !ok {
			return NewCallerError("missing required input: %s", field)
		}
	}
	if len(c.InputSchema) == 0 {
		return nil
	}

	schema, err := v.schemaFor(c)
	if err != nil {
		return NewCallerError("capability %s declares an invalid input schema: %v", c.ID, err)
	}

	// jsonschema validates decoded JSON values, so round-trip through the
	// canonical JSON representation of the inputs.
	raw, err := json.Marshal(inputs)
	if err != nil {
		return NewCallerError("inputs are not JSON-representable: %v", err)
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var doc any
	if err := decoder.Decode(&doc); err != nil {
		return NewCallerError("inputs decode failed: %v", err)
	}
	if err := schema.Validate(doc); err != nil {
		return NewCallerError("inputs violate schema for %s: %v", c.ID, err)
	}
	return nil
}

func (v *Validator) schemaFor(c *Capability) (*jsonschema.Schema, error) {
	v.mu.RLock()
	schema, ok := v.compiled[c.ID]
	v.mu.RUnlock()
	if ok {
		return schema, nil
	}

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://cap402.schemas.local/capability/%s.schema.json", c.ID)
	if err := compiler.AddResource(url, bytes.NewReader(c.InputSchema)); err != nil {
		return nil, fmt.Errorf("schema load failed: %w", err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("schema compile failed: %w", err)
	}

	v.mu.Lock()
	v.compiled[c.ID] = compiled
	v.mu.Unlock()
	return compiled, nil
}

// Invalidate drops the cached schema for a capability, e.g. after
// re-registration.
func (v *Validator) Invalidate(id string) {
	v.mu.Lock()
	delete(v.compiled, id)
	v.mu.Unlock()
}
