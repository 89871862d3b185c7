package core

import (
	"time"
)

// EventType classifies entries in the one-way stream a run emits to its caller.
type EventType string

const (
	// EventContent carries (possibly partial) assistant text.
	EventContent EventType = "content"
	// EventToolCall announces a tool dispatch the loop is about to perform.
	EventToolCall EventType = "tool_call"
	// EventToolResult carries the outcome of a tool dispatch.
	EventToolResult EventType = "tool_result"
	// EventError is the single terminal error event emitted before the
	// stream closes on a failed run. Its Content equals the persisted
	// Run.LastError verbatim.
	EventError EventType = "error"
	// EventDone marks clean completion of the stream.
	EventDone EventType = "done"
)

// Event is one entry of the ordered, consume-once stream exposed to the
// caller while a run progresses. After emission events are immutable. They
// are a transport surface only: the authoritative record of the run is the
// Run snapshot in the state store, not the stream.
type Event struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	// Content holds partial/final text for EventContent and the error
	// message for EventError.
	Content string `json:"content,omitempty"`
	// Partial marks EventContent fragments that will be followed by more
	// text composing the same assistant turn.
	Partial bool `json:"partial,omitempty"`
	// Turn is the loop iteration the event was produced in (1-based).
	Turn int `json:"turn,omitempty"`
	// ToolName and ToolCallID are set on tool_call / tool_result events.
	ToolName   string `json:"tool_name,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`
	// ToolError is set on tool_result events whose dispatch failed locally.
	ToolError string `json:"tool_error,omitempty"`
}

// NewEvent creates a bare event bound to a run.
func NewEvent(runID string, typ EventType) Event {
	return Event{
		ID:        NewID(),
		RunID:     runID,
		Type:      typ,
		Timestamp: time.Now().UTC(),
	}
}

// NewContentEvent creates a content event for a text fragment.
func NewContentEvent(runID string, turn int, text string, partial bool) Event {
	e := NewEvent(runID, EventContent)
	e.Turn = turn
	e.Content = text
	e.Partial = partial
	return e
}

// NewToolCallEvent announces a tool dispatch.
func NewToolCallEvent(runID string, turn int, callID, toolName string) Event {
	e := NewEvent(runID, EventToolCall)
	e.Turn = turn
	e.ToolCallID = callID
	e.ToolName = toolName
	return e
}

// NewToolResultEvent records the outcome of a tool dispatch. toolErr carries
// a tool-local failure visible to the model; it is not a run failure.
func NewToolResultEvent(runID string, turn int, callID, toolName, toolErr string) Event {
	e := NewEvent(runID, EventToolResult)
	e.Turn = turn
	e.ToolCallID = callID
	e.ToolName = toolName
	e.ToolError = toolErr
	return e
}

// NewErrorEvent creates the terminal error event for a failed run.
func NewErrorEvent(runID string, message string) Event {
	e := NewEvent(runID, EventError)
	e.Content = message
	return e
}

// NewDoneEvent marks clean stream completion.
func NewDoneEvent(runID string, turn int) Event {
	e := NewEvent(runID, EventDone)
	e.Turn = turn
	return e
}

// UnixSeconds returns the timestamp as fractional seconds since Unix epoch.
func (e Event) UnixSeconds() float64 { return float64(e.Timestamp.UnixNano()) / 1e9 }
