package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Validator validates payloads against the JSON Schemas in the catalog.
type Validator struct {
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema // keyed by event type name
}

// NewValidator creates a schema validator.
func NewValidator() *Validator {
	return &Validator{
		cache: make(map[string]*jsonschema.Schema),
	}
}

// Validate checks raw payload bytes against a definition's schema. A
// definition without a schema accepts any well-formed JSON.
func (v *Validator) Validate(def Definition, payload json.RawMessage) error {
	data, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if def.Schema == nil {
		return nil
	}

	compiled, err := v.compile(def)
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", def.Name, err)
	}
	return compiled.Validate(data)
}

func (v *Validator) compile(def Definition) (*jsonschema.Schema, error) {
	v.mu.RLock()
	cached, ok := v.cache[def.Name]
	v.mu.RUnlock()
	if ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(def.Schema))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	url := "paybridge://schema/" + def.Name

	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	v.cache[def.Name] = compiled
	v.mu.Unlock()

	return compiled, nil
}
