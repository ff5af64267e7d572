package schema

import "time"

// ExecutionStatus represents the lifecycle state of an execution.
type ExecutionStatus string

const (
	ExecutionStatusNew      ExecutionStatus = "new"
	ExecutionStatusRunning  ExecutionStatus = "running"
	ExecutionStatusWaiting  ExecutionStatus = "waiting"
	ExecutionStatusSuccess  ExecutionStatus = "success"
	ExecutionStatusError    ExecutionStatus = "error"
	ExecutionStatusCanceled ExecutionStatus = "canceled"
)

// UnsavedExecutionID is the sentinel execution ID used on telemetry events
// emitted by ephemeral executions that were never persisted.
const UnsavedExecutionID = "unsaved"

// Telemetry event names emitted by node execution contexts.
const (
	EventAIMessageRequest   = "ai_message_request"
	EventAIMessageResponse  = "ai_message_response"
	EventAIToolCall         = "ai_tool_call"
	EventAIMemoryRetrieved  = "ai_memory_retrieved"
	EventAIOutputParsed     = "ai_output_parsed"
	EventNodeOutputStreamed = "node_output_streamed"
)

// TelemetryEvent is a structured event forwarded to the telemetry sink.
// Delivery is best-effort; a failed send never fails the node run.
type TelemetryEvent struct {
	Name         string         `json:"name"`
	ExecutionID  string         `json:"execution_id"`
	WorkflowID   string         `json:"workflow_id,omitempty"`
	WorkflowName string         `json:"workflow_name,omitempty"`
	NodeName     string         `json:"node_name,omitempty"`
	NodeType     string         `json:"node_type,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}
