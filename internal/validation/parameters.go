package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/flowmesh/flowmesh/pkg/schema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// ParameterValidator validates resolved node parameters against per-node-type
// JSON Schemas (Draft 2020-12). Schemas are registered by node type and
// compiled lazily; the compiled form is cached. Safe for concurrent use.
type ParameterValidator struct {
	mu      sync.RWMutex
	schemas map[string][]byte
	cache   map[string]*jsonschema.Schema
}

// NewParameterValidator creates an empty ParameterValidator.
func NewParameterValidator() *ParameterValidator {
	return &ParameterValidator{
		schemas: make(map[string][]byte),
		cache:   make(map[string]*jsonschema.Schema),
	}
}

// Register associates a parameter JSON Schema with a node type. Registering
// replaces any previous schema for that type and invalidates its cache entry.
func (v *ParameterValidator) Register(nodeType string, schemaBytes []byte) error {
	if nodeType == "" {
		return schema.NewError(schema.ErrCodeValidation, "node type is required")
	}
	if len(schemaBytes) == 0 {
		return schema.NewErrorf(schema.ErrCodeValidation, "empty schema for node type %q", nodeType)
	}
	// Compile eagerly so bad schemas are rejected at registration time.
	compiled, err := compileSchema(nodeType, schemaBytes)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"invalid parameter schema for node type %q", nodeType).WithCause(err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.schemas[nodeType] = schemaBytes
	v.cache[nodeType] = compiled
	return nil
}

// ValidateParameters validates a node's resolved parameters against the schema
// registered for its type. Node types without a registered schema pass.
func (v *ParameterValidator) ValidateParameters(nodeType string, params map[string]any) error {
	v.mu.RLock()
	compiled, ok := v.cache[nodeType]
	v.mu.RUnlock()
	if !ok {
		return nil
	}

	doc, err := toJSONValue(params)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize parameters").WithCause(err)
	}

	if err := compiled.Validate(doc); err != nil {
		return toEngineError(err)
	}
	return nil
}

func compileSchema(nodeType string, schemaBytes []byte) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(schemaBytes)))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	c.AssertFormat()

	url := fmt.Sprintf("flowmesh://node-parameters/%s", nodeType)
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return c.Compile(url)
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toEngineError converts a jsonschema.ValidationError into an EngineError
// carrying every leaf violation with its instance location.
func toEngineError(err error) *schema.EngineError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("parameter validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error
// messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
