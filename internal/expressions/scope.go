package expressions

// Scope is the per-item evaluation environment for one expression. The
// execution context assembles it from the run's addressing state: the current
// input item, sibling node outputs resolved through provenance, workflow and
// execution identity, and the additional keys supplied by the engine.
//
// All engines see the same namespaces; only the addressing syntax differs
// (expr: `json.city`, jq: `.json.city`, cel: `json.city`).
type Scope struct {
	JSON      map[string]any // the current input item's data
	Binary    map[string]any // binary metadata of the current input item
	ItemIndex int
	RunIndex  int
	Input     []map[string]any // all input items on the main channel
	Nodes     map[string]any   // node name → that node's latest main output items
	Workflow  map[string]any   // id, name, active
	Execution map[string]any   // id, mode
	Env       map[string]any   // environment variables exposed to expressions
	Vars      map[string]any   // workflow variables
	Params    map[string]any   // the node's static parameters
}

// Data flattens the scope into the engine environment map.
func (s *Scope) Data() map[string]any {
	if s == nil {
		return map[string]any{}
	}
	return map[string]any{
		"json":      orEmpty(s.JSON),
		"binary":    orEmpty(s.Binary),
		"input":     s.Input,
		"nodes":     orEmpty(s.Nodes),
		"workflow":  orEmpty(s.Workflow),
		"execution": orEmpty(s.Execution),
		"env":       orEmpty(s.Env),
		"vars":      orEmpty(s.Vars),
		"params":    orEmpty(s.Params),
		"itemIndex": s.ItemIndex,
		"runIndex":  s.RunIndex,
	}
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
