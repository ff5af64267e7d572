package expressions

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/flowmesh/flowmesh/pkg/schema"
)

// CELEngine implements the Engine interface using Google's Common Expression
// Language. Nodes select it with the "cel:" expression prefix, typically for
// boolean guard and routing parameters.
// Thread-safe: compiled programs are cached and reused across goroutines.
type CELEngine struct {
	env *cel.Env

	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewCELEngine creates a new CEL expression engine with a sandboxed
// environment. The environment exposes the evaluation scope namespaces:
//   - json:      map(string, dyn) — the current input item
//   - binary:    map(string, dyn) — binary metadata of the current item
//   - input:     list(dyn)        — all input items on the main channel
//   - nodes:     map(string, dyn) — sibling node outputs keyed by node name
//   - workflow:  map(string, dyn) — workflow identity and settings
//   - execution: map(string, dyn) — execution metadata (id, mode, resume url)
//   - env:       map(string, dyn) — environment variables exposed to expressions
//   - vars:      map(string, dyn) — workflow variables
//   - params:    map(string, dyn) — the node's static parameters
//   - itemIndex, runIndex: int
func NewCELEngine() (*CELEngine, error) {
	mapType := cel.MapType(cel.StringType, cel.DynType)

	env, err := cel.NewEnv(
		cel.Variable("json", mapType),
		cel.Variable("binary", mapType),
		cel.Variable("input", cel.ListType(cel.DynType)),
		cel.Variable("nodes", mapType),
		cel.Variable("workflow", mapType),
		cel.Variable("execution", mapType),
		cel.Variable("env", mapType),
		cel.Variable("vars", mapType),
		cel.Variable("params", mapType),
		cel.Variable("itemIndex", cel.IntType),
		cel.Variable("runIndex", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	return &CELEngine{
		env:   env,
		cache: make(map[string]cel.Program),
	}, nil
}

// Name returns the engine identifier.
func (e *CELEngine) Name() string {
	return "cel"
}

// Evaluate compiles (or retrieves from cache) a CEL expression and evaluates
// it against the provided data. The data map should contain keys matching the
// environment variables declared in NewCELEngine.
func (e *CELEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeExpression, "empty CEL expression")
	}

	prg, err := e.getOrCompile(expression)
	if err != nil {
		return nil, err
	}

	// Build activation with defaults for missing keys to avoid CEL runtime errors.
	activation := buildActivation(data)

	out, _, err := prg.Eval(activation)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExpression,
			"CEL evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	return out.Value(), nil
}

// getOrCompile returns a cached compiled program or compiles and caches a new one.
func (e *CELEngine) getOrCompile(expression string) (cel.Program, error) {
	e.mu.RLock()
	if prg, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double-check after acquiring write lock.
	if prg, ok := e.cache[expression]; ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExpression,
			"CEL compile error in %q: %s", expression, issues.Err().Error()).
			WithCause(issues.Err()).
			WithDetails(map[string]any{"expression": expression})
	}

	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExpression,
			"CEL program error for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	e.cache[expression] = prg
	return prg, nil
}

// buildActivation creates the evaluation activation map from the data.
// Missing map keys default to empty maps to prevent CEL runtime nil-ref errors.
func buildActivation(data map[string]any) map[string]any {
	activation := make(map[string]any, 10)

	for _, key := range []string{"json", "binary", "nodes", "workflow", "execution", "env", "vars", "params"} {
		if v, ok := data[key]; ok && v != nil {
			activation[key] = v
		} else {
			activation[key] = map[string]any{}
		}
	}
	if v, ok := data["input"]; ok && v != nil {
		activation["input"] = v
	} else {
		activation["input"] = []any{}
	}
	for _, key := range []string{"itemIndex", "runIndex"} {
		if v, ok := data[key]; ok && v != nil {
			activation[key] = v
		} else {
			activation[key] = 0
		}
	}

	return activation
}

var _ Engine = (*CELEngine)(nil)
