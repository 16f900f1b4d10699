package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	ischema "github.com/invopop/jsonschema"
	vschema "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/kestrelai/router/internal/kerr"
)

// schemaCache memoizes the compiled cross-check schema per manifest name so
// repeated calls to the same tool don't recompile on every invocation.
type schemaCache struct {
	mu     sync.Mutex
	byName map[string]*vschema.Schema
}

func newSchemaCache() *schemaCache {
	return &schemaCache{byName: make(map[string]*vschema.Schema)}
}

func (c *schemaCache) get(m ToolManifest) (*vschema.Schema, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.byName[m.Name]; ok {
		return s, nil
	}
	s, err := compileManifestSchema(m)
	if err != nil {
		return nil, err
	}
	c.byName[m.Name] = s
	return s, nil
}

// buildJSONSchema renders a ParameterSpec list into an invopop/jsonschema
// document describing the object {param: value, ...} a tool call accepts.
// Numeric range checks stay in the typed pipeline below; this document only
// cross-checks shape (type/required/enum), which is what a structural
// validator is good at independent of the typed walk.
func buildJSONSchema(m ToolManifest) *ischema.Schema {
	props := ischema.NewProperties()
	var required []string
	for _, p := range m.Parameters {
		prop := &ischema.Schema{Description: p.Description}
		switch p.TypeTag {
		case TypeString, TypeEnum:
			prop.Type = "string"
		case TypeInteger:
			prop.Type = "integer"
		case TypeNumber:
			prop.Type = "number"
		case TypeBool:
			prop.Type = "boolean"
		case TypeArray:
			prop.Type = "array"
		case TypeObject:
			prop.Type = "object"
		}
		if p.TypeTag == TypeEnum && len(p.EnumValues) > 0 {
			for _, v := range p.EnumValues {
				prop.Enum = append(prop.Enum, v)
			}
		}
		props.Set(p.Name, prop)
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return &ischema.Schema{
		Type:       "object",
		Properties: props,
		Required:   required,
	}
}

func compileManifestSchema(m ToolManifest) (*vschema.Schema, error) {
	doc := buildJSONSchema(m)
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal manifest schema for %s: %w", m.Name, err)
	}
	schema, err := vschema.CompileString("tool:"+m.Name, string(raw))
	if err != nil {
		return nil, fmt.Errorf("compile schema for %s: %w", m.Name, err)
	}
	return schema, nil
}

// Pipeline runs the ordered validation/confirmation steps in front of a
// tool body: required-param presence, type/range/enum checks, defaults,
// a jsonschema structural cross-check, and (if declared) a confirmation
// dispatch through an ApprovalGate.
type Pipeline struct {
	schemas *schemaCache
}

// NewPipeline builds an empty pipeline. Safe for concurrent use; schema
// compilation happens lazily and is memoized per manifest name.
func NewPipeline() *Pipeline {
	return &Pipeline{schemas: newSchemaCache()}
}

// Prepare runs steps 1-3 (required check, type/range/enum check, defaults)
// and the jsonschema cross-check, returning the parameter map with defaults
// applied, or a *kerr.Error of kind Validation.
func (p *Pipeline) Prepare(m ToolManifest, params map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}

	for _, spec := range m.Parameters {
		v, present := out[spec.Name]
		if !present {
			if spec.Required {
				return nil, kerr.New(kerr.Validation, "missing required parameter").WithField(spec.Name)
			}
			if spec.Default != nil {
				out[spec.Name] = spec.Default
			}
			continue
		}
		if err := checkType(spec, v); err != nil {
			return nil, err
		}
	}

	if schema, err := p.schemas.get(m); err == nil {
		if verr := schema.Validate(toJSONCompatible(out)); verr != nil {
			return nil, kerr.Newf(kerr.Validation, "schema validation failed: %s", verr.Error())
		}
	}

	return out, nil
}

// Confirm dispatches a confirmation request if the manifest (possibly
// overridden by the caller) requires one. On deny or timeout it returns a
// *kerr.Error of kind NotAuthorized.
func (p *Pipeline) Confirm(ctx context.Context, gate ApprovalGate, principal string, m ToolManifest, params map[string]any, requireOverride *bool, deadline time.Time) error {
	requires := m.RequiresConfirmation
	if requireOverride != nil {
		requires = *requireOverride
	}
	if !requires {
		return nil
	}
	if gate == nil {
		return kerr.New(kerr.NotAuthorized, "tool requires confirmation but no approval gate is configured")
	}
	decision, err := gate.RequestApproval(ctx, principal, m.Name, params, deadline)
	if err != nil {
		return kerr.Wrap(kerr.NotAuthorized, err)
	}
	if decision != Approved {
		return kerr.New(kerr.NotAuthorized, "tool call was not approved")
	}
	return nil
}

func checkType(spec ParameterSpec, v any) error {
	switch spec.TypeTag {
	case TypeString:
		if _, ok := v.(string); !ok {
			return kerr.New(kerr.Validation, "expected string").WithField(spec.Name)
		}
	case TypeEnum:
		s, ok := v.(string)
		if !ok {
			return kerr.New(kerr.Validation, "expected string enum value").WithField(spec.Name)
		}
		if len(spec.EnumValues) > 0 && !contains(spec.EnumValues, s) {
			return kerr.Newf(kerr.Validation, "value %q is not one of the allowed enum values", s).WithField(spec.Name)
		}
	case TypeInteger, TypeNumber:
		f, ok := asFloat(v)
		if !ok {
			return kerr.New(kerr.Validation, "expected a number").WithField(spec.Name)
		}
		if spec.TypeTag == TypeInteger && f != float64(int64(f)) {
			return kerr.New(kerr.Validation, "expected an integer").WithField(spec.Name)
		}
		if spec.Min != nil && f < *spec.Min {
			return kerr.Newf(kerr.Validation, "value %v is below minimum %v", f, *spec.Min).WithField(spec.Name)
		}
		if spec.Max != nil && f > *spec.Max {
			return kerr.Newf(kerr.Validation, "value %v is above maximum %v", f, *spec.Max).WithField(spec.Name)
		}
	case TypeBool:
		if _, ok := v.(bool); !ok {
			return kerr.New(kerr.Validation, "expected bool").WithField(spec.Name)
		}
	case TypeArray:
		if _, ok := v.([]any); !ok {
			return kerr.New(kerr.Validation, "expected array").WithField(spec.Name)
		}
	case TypeObject:
		if _, ok := v.(map[string]any); !ok {
			return kerr.New(kerr.Validation, "expected object").WithField(spec.Name)
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// toJSONCompatible round-trips params through JSON so numeric types match
// what santhosh-tekuri/jsonschema expects from a decoded document.
func toJSONCompatible(params map[string]any) any {
	raw, err := json.Marshal(params)
	if err != nil {
		return params
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return params
	}
	return decoded
}
