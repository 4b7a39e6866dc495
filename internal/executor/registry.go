// Package executor validates, runs, and retries tool invocations against the
// registered tool set.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/sift-labs/sift/internal/agent/core"
)

// ResourceRequirements declares what a tool needs before it may run.
type ResourceRequirements struct {
	NeedsResults bool `json:"needs_results"` // operates on an existing result set
	NeedsIndex   bool `json:"needs_index"`   // needs the catalog index online
}

// ResultShape declares what a successful invocation must return. A tool
// whose output violates its shape is treated as failed and goes through the
// retry and fallback path.
type ResultShape struct {
	List       bool `json:"list"`        // result must be a list
	MinResults int  `json:"min_results"` // minimum list length
}

// ToolFunc is the tool implementation. Parameters arrive validated and
// coerced against the descriptor schema.
type ToolFunc func(ctx context.Context, params map[string]interface{}, req core.ExecutionRequest) (interface{}, error)

// ToolDescriptor is a registered tool: its identity, parameter contract,
// prerequisites, and implementation.
type ToolDescriptor struct {
	Name        string
	Description string
	Category    string
	// Schema is a JSON Schema document for the parameters object.
	Schema string
	// ContextRequirements name QueryContext fields that must be populated
	// ("intent", "entities", "constraints").
	ContextRequirements []string
	Resources           ResourceRequirements
	Expect              ResultShape
	// Fallbacks are tool names tried in order when this tool exhausts its
	// retries.
	Fallbacks []string
	Invoke    ToolFunc

	compiled  *jsonschema.Schema
	propKinds map[string]string
}

// Registry holds the tool set. Registration compiles schemas once; lookups
// are read-locked.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*ToolDescriptor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*ToolDescriptor)}
}

// Register compiles the descriptor's schema and adds it. A tool with a bad
// schema is refused outright.
func (r *Registry) Register(d *ToolDescriptor) error {
	if d == nil || d.Name == "" {
		return core.ValidationError{Field: "name", Reason: "tool name is required"}
	}
	if d.Invoke == nil {
		return core.ValidationError{Field: "invoke", Reason: "tool implementation is required"}
	}
	if d.Schema != "" {
		compiled, err := jsonschema.CompileString(d.Name+".schema.json", d.Schema)
		if err != nil {
			return fmt.Errorf("compiling schema for %s: %w", d.Name, err)
		}
		d.compiled = compiled
		d.propKinds = propertyKinds(d.Schema)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[d.Name]; exists {
		return core.ValidationError{Field: "name", Reason: fmt.Sprintf("tool %s already registered", d.Name)}
	}
	r.tools[d.Name] = d
	return nil
}

// Lookup returns the descriptor for a tool name.
func (r *Registry) Lookup(name string) (*ToolDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	return d, ok
}

// Names lists the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ByCategory lists tool names in the given category, sorted.
func (r *Registry) ByCategory(category string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for name, d := range r.tools {
		if d.Category == category {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// propertyKinds pulls the declared type of each top-level property out of
// the schema document, for coercion.
func propertyKinds(schema string) map[string]string {
	var doc struct {
		Properties map[string]struct {
			Type interface{} `json:"type"`
		} `json:"properties"`
	}
	if err := json.Unmarshal([]byte(schema), &doc); err != nil {
		return nil
	}
	kinds := make(map[string]string, len(doc.Properties))
	for name, p := range doc.Properties {
		switch t := p.Type.(type) {
		case string:
			kinds[name] = t
		case []interface{}:
			if len(t) > 0 {
				if s, ok := t[0].(string); ok {
					kinds[name] = s
				}
			}
		}
	}
	return kinds
}

// normalizeParams coerces loosely-typed parameter values toward the schema's
// declared kinds before validation: numeric strings become numbers, "true"
// becomes a bool, scalars become singleton arrays.
func normalizeParams(params map[string]interface{}, kinds map[string]string) map[string]interface{} {
	if len(params) == 0 {
		return map[string]interface{}{}
	}
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		kind, declared := kinds[k]
		if !declared {
			out[k] = normalizeValue(v)
			continue
		}
		out[k] = coerceToward(v, kind)
	}
	return out
}

func coerceToward(v interface{}, kind string) interface{} {
	switch kind {
	case "number", "integer":
		switch t := v.(type) {
		case string:
			if n, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
				return n
			}
		case int:
			return float64(t)
		case bool:
			if t {
				return float64(1)
			}
			return float64(0)
		}
	case "string":
		switch t := v.(type) {
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64)
		case int:
			return strconv.Itoa(t)
		case bool:
			return strconv.FormatBool(t)
		}
	case "boolean":
		if s, ok := v.(string); ok {
			if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
				return b
			}
		}
	case "array":
		if _, ok := v.([]interface{}); !ok {
			return []interface{}{normalizeValue(v)}
		}
	}
	return normalizeValue(v)
}

// normalizeValue makes values round-trippable through encoding/json, which
// is what the schema validator expects.
func normalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case float32:
		return float64(t)
	case []string:
		out := make([]interface{}, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	default:
		return v
	}
}

// validateParams runs the compiled schema over normalized parameters.
func (d *ToolDescriptor) validateParams(params map[string]interface{}) (map[string]interface{}, error) {
	normalized := normalizeParams(params, d.propKinds)
	if d.compiled == nil {
		return normalized, nil
	}
	// Round-trip through JSON so nested values carry validator-friendly
	// types.
	raw, err := json.Marshal(normalized)
	if err != nil {
		return nil, core.ValidationError{Field: "parameters", Reason: err.Error()}
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, core.ValidationError{Field: "parameters", Reason: err.Error()}
	}
	if err := d.compiled.Validate(doc); err != nil {
		return nil, core.ValidationError{Field: "parameters", Reason: err.Error()}
	}
	generic, _ := doc.(map[string]interface{})
	if generic == nil {
		generic = normalized
	}
	return generic, nil
}

// checkPreconditions enforces context and resource requirements.
func (d *ToolDescriptor) checkPreconditions(req core.ExecutionRequest) error {
	for _, need := range d.ContextRequirements {
		switch need {
		case "intent":
			if req.Context == nil || req.Context.Intent == "" {
				return core.ValidationError{Field: "context.intent", Reason: "tool requires an analyzed intent"}
			}
		case "entities":
			if req.Context == nil || len(req.Context.Entities) == 0 {
				return core.ValidationError{Field: "context.entities", Reason: "tool requires extracted entities"}
			}
		case "constraints":
			if req.Context == nil || len(req.Context.Constraints) == 0 {
				return core.ValidationError{Field: "context.constraints", Reason: "tool requires constraints"}
			}
		}
	}
	if d.Resources.NeedsResults && len(req.State.Results) == 0 {
		return core.ValidationError{Field: "state.results", Reason: "tool operates on an existing result set"}
	}
	return nil
}
