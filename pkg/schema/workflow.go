package schema

// Mode identifies how an execution was started. Manual executions stream
// node output to the observing UI; all other modes log conditionally.
type Mode string

const (
	ModeManual     Mode = "manual"
	ModeTrigger    Mode = "trigger"
	ModeWebhook    Mode = "webhook"
	ModeIntegrated Mode = "integrated" // sub-workflow started by a parent
	ModeRetry      Mode = "retry"
)

// Workflow is the immutable-during-run graph of nodes. It is owned by the
// engine for the lifetime of an execution and shared read-only across all
// node execution contexts.
type Workflow struct {
	ID         string           `json:"id"`
	Name       string           `json:"name,omitempty"`
	Active     bool             `json:"active"`
	Nodes      map[string]*Node `json:"nodes"`
	Settings   WorkflowSettings `json:"settings"`
	StaticData map[string]any   `json:"static_data,omitempty"`
}

// Node returns the node with the given name, or nil.
func (w *Workflow) Node(name string) *Node {
	return w.Nodes[name]
}

// WorkflowSettings carries per-workflow execution settings.
type WorkflowSettings struct {
	Timezone          string `json:"timezone,omitempty"`
	ErrorWorkflow     string `json:"error_workflow,omitempty"`
	SaveManualRuns    bool   `json:"save_manual_runs,omitempty"`
	ExecutionTimeout  int    `json:"execution_timeout,omitempty"` // seconds, 0 = none
	CallerWorkflowIDs string `json:"caller_workflow_ids,omitempty"`
}

// Node is a graph vertex: name (unique within the workflow), type and
// version, and static parameter definitions. Read-only to execution contexts.
type Node struct {
	Name           string            `json:"name"`
	Type           string            `json:"type"`
	TypeVersion    int               `json:"type_version"`
	Parameters     map[string]any    `json:"parameters,omitempty"`
	Credentials    map[string]string `json:"credentials,omitempty"` // credential type → credential ID
	Disabled       bool              `json:"disabled,omitempty"`
	ContinueOnFail bool              `json:"continue_on_fail,omitempty"`
	Notes          string            `json:"notes,omitempty"`
}
