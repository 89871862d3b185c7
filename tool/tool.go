// Package tool implements the tool calling subsystem: the Tool interface and
// FunctionTool adapter with schema validated arguments, the error taxonomy
// separating tool-local faults from run-terminating escalations, and the
// Router that dispatches model-requested invocations while recording an
// audit trail in the run's agent envelope.
package tool

import (
	"fmt"

	"github.com/oru-labs/runloop/core"
	"github.com/oru-labs/runloop/internal/util"
)

// Tool defines the interface for extending a run's capabilities with external functions.
//
// Tools registered in a run's capability manifest become invocable by the
// model. Each invocation receives a ToolContext giving access to the run's
// identity, logger, and the ancillary scratchpad store.
//
// Tool implementations should:
//   - Provide clear, descriptive names and descriptions
//   - Define proper JSON schema for parameters
//   - Handle errors gracefully (a returned error is shown to the model)
//   - Be thread-safe if used concurrently
type Tool interface {
	// Name returns the unique identifier for this tool.
	// Names should be descriptive and follow function naming conventions (snake_case recommended).
	Name() string

	// Description returns a human-readable description of what this tool does.
	// This description is provided to the LLM to help it understand when and how to use the tool.
	Description() string

	// Parameters returns a JSON schema describing the expected input format.
	// This schema is used for parameter validation and LLM function calling.
	Parameters() map[string]interface{}

	// Call executes the tool with structured arguments and a ToolContext.
	// Arguments are parsed from JSON and validated against the tool's schema.
	Call(toolCtx *core.ToolContext, args map[string]interface{}) (interface{}, error)
}

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// ToolError represents errors that occur during tool execution. It is a
// tool-local fault: the router converts it into an error result visible to
// the model, and the run continues.
type ToolError struct {
	Tool    string      `json:"tool"`              // Name of the tool that failed
	Message string      `json:"message"`           // Error message
	Code    string      `json:"code"`              // Error code for categorization
	Details interface{} `json:"details,omitempty"` // Additional error details
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}

// EscalationError is the one tool failure class that terminates the run. A
// handler returns (or wraps) it to signal that the fault cannot be recovered
// by letting the model see an error result; the router propagates it out of
// the dispatch instead of converting it.
type EscalationError struct {
	Tool    string // Name of the escalating tool
	Message string // Why the run cannot continue
	Cause   error  // Optional underlying error
}

func (e *EscalationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("tool %s escalated: %s: %v", e.Tool, e.Message, e.Cause)
	}
	return fmt.Sprintf("tool %s escalated: %s", e.Tool, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *EscalationError) Unwrap() error { return e.Cause }

// Escalate wraps err as a run-terminating escalation from the named tool.
func Escalate(tool, message string, err error) *EscalationError {
	return &EscalationError{Tool: tool, Message: message, Cause: err}
}
