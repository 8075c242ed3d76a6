// Package schema compiles and validates JSON Schemas for function inputs,
// function outputs, and tool parameters (§4.A). Compiled schemas are reused
// across requests; the compiler is the same one the registry service uses
// to validate tool payloads at registration time.
package schema

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/tzgateway/gateway/tzerr"
)

// Compiled wraps a compiled JSON Schema together with the raw document it was
// compiled from, so callers can persist/round-trip the original bytes.
type Compiled struct {
	raw    json.RawMessage
	schema *jsonschema.Schema
}

// Raw returns the original JSON Schema document bytes.
func (c *Compiled) Raw() json.RawMessage { return c.raw }

// Compile parses and compiles a JSON Schema document. The resource name only
// needs to be unique within the call; it does not need to be a real URL.
func Compile(name string, raw json.RawMessage) (*Compiled, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, tzerr.New(tzerr.KindConfig, fmt.Sprintf("unmarshal schema %q", name), err, nil)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		return nil, tzerr.New(tzerr.KindConfig, fmt.Sprintf("add schema resource %q", name), err, nil)
	}
	sch, err := c.Compile(name)
	if err != nil {
		return nil, tzerr.New(tzerr.KindConfig, fmt.Sprintf("compile schema %q", name), err, nil)
	}
	return &Compiled{raw: raw, schema: sch}, nil
}

// ValidationFailure carries the structured detail of a JSON Schema
// violation, matching JsonSchemaValidation{messages, data, schema} (§4.A).
type ValidationFailure struct {
	Messages []string
	Data     any
	Schema   json.RawMessage
}

func (v *ValidationFailure) Error() string {
	if len(v.Messages) == 0 {
		return "schema validation failed"
	}
	return v.Messages[0]
}

// Validate checks data (already unmarshaled into a generic any) against the
// compiled schema, returning a *ValidationFailure wrapped in a
// tzerr.Error{Kind: JSONSchemaValidation} on violation.
func (c *Compiled) Validate(data any) error {
	if err := c.schema.Validate(data); err != nil {
		msgs := flattenValidationError(err)
		vf := &ValidationFailure{Messages: msgs, Data: data, Schema: c.raw}
		return tzerr.New(tzerr.KindJSONSchemaValidation, vf.Error(), vf, map[string]any{
			"messages": msgs,
		})
	}
	return nil
}

// ValidateJSON unmarshals raw JSON and validates it against the compiled
// schema in one step.
func (c *Compiled) ValidateJSON(raw []byte) error {
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return tzerr.New(tzerr.KindOutputParsing, "unmarshal json for schema validation", err, nil)
	}
	return c.Validate(data)
}

func flattenValidationError(err error) []string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []string{err.Error()}
	}
	var msgs []string
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if e.Message != "" {
			loc := "/"
			if len(e.InstanceLocation) > 0 {
				loc = "/" + joinPath(e.InstanceLocation)
			}
			msgs = append(msgs, fmt.Sprintf("%s: %s", loc, e.Message))
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	if len(msgs) == 0 {
		msgs = []string{err.Error()}
	}
	return msgs
}

func joinPath(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "/"
		}
		out += p
	}
	return out
}

// Registry holds compiled schemas keyed by a caller-chosen name (typically
// "<function>.<role>" or "<toolset>.<tool>"), reused across requests.
type Registry struct {
	mu    sync.RWMutex
	items map[string]*Compiled
}

// NewRegistry returns an empty schema registry.
func NewRegistry() *Registry {
	return &Registry{items: make(map[string]*Compiled)}
}

// Put compiles and stores a schema under name, replacing any prior entry.
func (r *Registry) Put(name string, raw json.RawMessage) (*Compiled, error) {
	c, err := Compile(name, raw)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.items[name] = c
	r.mu.Unlock()
	return c, nil
}

// Get returns the compiled schema registered under name, if any.
func (r *Registry) Get(name string) (*Compiled, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.items[name]
	return c, ok
}
