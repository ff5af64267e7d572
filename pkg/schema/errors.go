package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeMissingChannel = "MISSING_CHANNEL"
	ErrCodeIndexRange     = "INPUT_INDEX_RANGE"
	ErrCodeUnsetInput     = "UNSET_INPUT_VALUE"
	ErrCodeSourceMissing  = "SOURCE_DATA_MISSING"
	ErrCodeExpression     = "EXPRESSION_ERROR"
	ErrCodeCredentials    = "CREDENTIAL_ERROR"
	ErrCodeSubWorkflow    = "SUB_WORKFLOW_ERROR"
	ErrCodeBinaryMissing  = "BINARY_DATA_MISSING"
	ErrCodeBinaryStore    = "BINARY_STORE_ERROR"
	ErrCodeDedupStore     = "DEDUP_STORE_ERROR"
	ErrCodeValidation     = "VALIDATION_ERROR"
	ErrCodeStore          = "STORE_ERROR"
	ErrCodeWait           = "WAIT_ERROR"
)

// EngineError is the structured error type for all engine operations.
// Addressing errors (missing channel, index range, unset input, missing
// source data) always signal a caller or engine bug and are fatal to the run.
type EngineError struct {
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	NodeName string         `json:"node_name,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
	Cause    error          `json:"-"`
}

func (e *EngineError) Error() string {
	if e.NodeName != "" {
		return fmt.Sprintf("[%s] node %s: %s", e.Code, e.NodeName, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *EngineError) Unwrap() error {
	return e.Cause
}

// NewError creates a new EngineError.
func NewError(code, message string) *EngineError {
	return &EngineError{Code: code, Message: message}
}

// NewErrorf creates a new EngineError with a formatted message.
func NewErrorf(code, format string, args ...any) *EngineError {
	return &EngineError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithNode attaches the node name to the error.
func (e *EngineError) WithNode(name string) *EngineError {
	e.NodeName = name
	return e
}

// WithCause attaches an underlying cause.
func (e *EngineError) WithCause(err error) *EngineError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *EngineError) WithDetails(details map[string]any) *EngineError {
	e.Details = details
	return e
}

// IsCode reports whether err is an EngineError with the given code.
func IsCode(err error, code string) bool {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code == code
	}
	return false
}
