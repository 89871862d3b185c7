package testutil

import (
	"time"

	"github.com/oru-labs/runloop/core"
)

// RunBuilder provides a fluent helper for constructing runs in tests.
// Example:
//
//	run := NewRunBuilder().Status(core.StatusRunning).Turn(3).Tool("echo", "").Build()
//
// Chain only the parts you need; sensible defaults are applied.
type RunBuilder struct {
	id        string
	status    core.RunStatus
	turn      int
	tools     []core.ToolDescriptor
	meta      map[string]any
	usage     core.Usage
	lastError string
}

// NewRunBuilder creates a builder with default status queued.
func NewRunBuilder() *RunBuilder {
	return &RunBuilder{status: core.StatusQueued, meta: map[string]any{}}
}

// ID overrides the auto-generated run ID (chainable).
func (b *RunBuilder) ID(id string) *RunBuilder { b.id = id; return b }

// Status sets the run status (chainable).
func (b *RunBuilder) Status(s core.RunStatus) *RunBuilder { b.status = s; return b }

// Turn sets the current turn counter (chainable).
func (b *RunBuilder) Turn(t int) *RunBuilder { b.turn = t; return b }

// Tool appends an entry to the capability manifest (chainable).
func (b *RunBuilder) Tool(name, description string) *RunBuilder {
	b.tools = append(b.tools, core.ToolDescriptor{Name: name, Description: description})
	return b
}

// Meta sets one meta_data key (chainable).
func (b *RunBuilder) Meta(key string, value any) *RunBuilder {
	b.meta[key] = value
	return b
}

// Usage sets the accumulated usage record (chainable).
func (b *RunBuilder) Usage(u core.Usage) *RunBuilder { b.usage = u; return b }

// LastError sets the persisted error text (chainable).
func (b *RunBuilder) LastError(msg string) *RunBuilder { b.lastError = msg; return b }

// Build assembles the run applying defaults for unset fields.
func (b *RunBuilder) Build() *core.Run {
	run := core.NewRun(b.tools)
	if b.id != "" {
		run.ID = b.id
	}
	run.Status = b.status
	run.CurrentTurn = b.turn
	run.Usage = b.usage
	run.LastError = b.lastError
	for k, v := range b.meta {
		run.MetaData[k] = v
	}
	switch b.status {
	case core.StatusRunning:
		run.StartedAt = time.Now().Unix()
	case core.StatusCompleted:
		run.StartedAt = time.Now().Unix()
		run.CompletedAt = time.Now().Unix()
	case core.StatusFailed:
		run.StartedAt = time.Now().Unix()
		run.FailedAt = time.Now().Unix()
	}
	return run
}
