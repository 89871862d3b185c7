package core

import (
	"context"

	"github.com/oru-labs/runloop/logging"
)

// ToolContext provides a constrained, auditable surface for tool
// implementations dispatched by the router. It exposes the run's identity,
// the ambient cancellation context, the function call id correlating the
// model's request with this execution, and the ancillary scratchpad store.
type ToolContext struct {
	ctx            context.Context
	runID          string
	functionCallID string
	scratchpad     ScratchpadStore

	*loggerAdapter
}

// NewToolContext constructs a tool context bound to one function call.
// scratchpad may be nil for runs without scratchpad-backed tools.
func NewToolContext(ctx context.Context, runID, functionCallID string, scratchpad ScratchpadStore, logger logging.Logger) *ToolContext {
	return &ToolContext{
		ctx:            ctx,
		runID:          runID,
		functionCallID: functionCallID,
		scratchpad:     scratchpad,
		loggerAdapter:  newLoggerAdapter(logger),
	}
}

// Context returns the context associated with the tool invocation.
func (tc *ToolContext) Context() context.Context { return tc.ctx }

// RunID returns the run ID associated with the tool invocation.
func (tc *ToolContext) RunID() string { return tc.runID }

// FunctionCallID returns the function call ID associated with the tool invocation.
func (tc *ToolContext) FunctionCallID() string { return tc.functionCallID }

// Logger returns the logger associated with the tool invocation.
func (tc *ToolContext) Logger() logging.Logger { return tc.loggerAdapter.Logger() }

// Scratchpad returns the ancillary key-value store, or nil if the run was
// configured without one.
func (tc *ToolContext) Scratchpad() ScratchpadStore { return tc.scratchpad }
