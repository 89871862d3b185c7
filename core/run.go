package core

import (
	"time"
)

// RunStatus enumerates the lifecycle states of a Run.
type RunStatus string

const (
	// StatusQueued is the initial state assigned at creation.
	StatusQueued RunStatus = "queued"
	// StatusRunning indicates the turn loop is actively driving the run.
	StatusRunning RunStatus = "running"
	// StatusCompleted is the terminal state for a clean text completion.
	StatusCompleted RunStatus = "completed"
	// StatusFailed is the terminal state for an unrecoverable fault.
	StatusFailed RunStatus = "failed"
	// StatusIncomplete is the terminal state for turn-budget exhaustion.
	// It is a policy-bounded outcome, not a fault, and never carries LastError.
	StatusIncomplete RunStatus = "incomplete"
)

// Terminal reports whether the status permits no further mutation.
func (s RunStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusIncomplete:
		return true
	}
	return false
}

// Valid reports whether s is a member of the status vocabulary.
func (s RunStatus) Valid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusCompleted, StatusFailed, StatusIncomplete:
		return true
	}
	return false
}

// Phase labels the position of the turn loop within one iteration. It is
// mirrored into the agent envelope so external observers can tell whether an
// in-flight run is waiting on the model or on a tool.
type Phase string

const (
	// PhaseInference means the loop is awaiting the inference client.
	PhaseInference Phase = "inference"
	// PhaseToolExecution means the loop is dispatching tool calls.
	PhaseToolExecution Phase = "tool_execution"
	// PhaseFinalizing means the loop is performing its terminal writes.
	PhaseFinalizing Phase = "finalizing"
)

// MetaKeyAgent is the namespaced region of Run.MetaData holding the live
// agent envelope. Writers merge into it key-by-key, never replace it.
const MetaKeyAgent = "agent"

// Agent envelope keys inside MetaData[MetaKeyAgent].
const (
	EnvelopeKeyTurn          = "turn"
	EnvelopeKeyPhase         = "phase"
	EnvelopeKeyToolsCalled   = "tools_called"
	EnvelopeKeyToolCallCount = "tool_call_count"
	EnvelopeKeyLastTool      = "last_tool"
	EnvelopeKeyLastToolAt    = "last_tool_at"
)

// Usage is the accumulated token/cost record of a Run. Every field is
// monotonically increasing until the run terminates.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
	// Turns counts completed inference calls. It is independent of
	// Run.CurrentTurn, which counts loop iterations.
	Turns int `json:"turns"`
}

// AddTo sums u into dst field by field.
func (u Usage) AddTo(dst *Usage) {
	dst.PromptTokens += u.PromptTokens
	dst.CompletionTokens += u.CompletionTokens
	dst.TotalTokens += u.TotalTokens
	dst.Turns += u.Turns
}

// IncompleteDetails records why a run ended via turn-budget exhaustion.
// It is set if and only if the run status is StatusIncomplete.
type IncompleteDetails struct {
	Reason string `json:"reason"`
}

// ToolDescriptor is one entry of a Run's static capability manifest.
type ToolDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Run is the durable record of one multi-turn inference session.
//
// Lifecycle contract:
//   - Created with StatusQueued, Tools populated, everything else zero.
//   - Mutated only while StatusRunning (by the turn loop directly and by the
//     tool router through the progress snapshot writer).
//   - Exactly one of CompletedAt / FailedAt is set when the status is
//     terminal and non-incomplete; IncompleteDetails is set iff incomplete.
//   - Once terminal, the record is frozen and retained for audit.
//
// Timestamps are epoch seconds; zero means unset. MetaData is an open-ended
// mergeable mapping: stores merge it key-by-key and never replace it
// wholesale, so concurrent writers to disjoint keys lose nothing.
type Run struct {
	ID                string             `json:"id"`
	Status            RunStatus          `json:"status"`
	CreatedAt         int64              `json:"created_at"`
	StartedAt         int64              `json:"started_at,omitempty"`
	CompletedAt       int64              `json:"completed_at,omitempty"`
	FailedAt          int64              `json:"failed_at,omitempty"`
	CurrentTurn       int                `json:"current_turn"`
	LastError         string             `json:"last_error,omitempty"`
	IncompleteDetails *IncompleteDetails `json:"incomplete_details,omitempty"`
	Usage             Usage              `json:"usage"`
	Tools             []ToolDescriptor   `json:"tools"`
	MetaData          map[string]any     `json:"meta_data"`
}

// NewRun creates a queued Run with the given capability manifest.
func NewRun(tools []ToolDescriptor) *Run {
	manifest := make([]ToolDescriptor, len(tools))
	copy(manifest, tools)
	return &Run{
		ID:        NewRunID(),
		Status:    StatusQueued,
		CreatedAt: time.Now().Unix(),
		Tools:     manifest,
		MetaData:  map[string]any{},
	}
}

// Terminal reports whether the run has reached a terminal status.
func (r *Run) Terminal() bool { return r.Status.Terminal() }

// HasTool reports whether name is a member of the capability manifest.
func (r *Run) HasTool(name string) bool {
	for _, t := range r.Tools {
		if t.Name == name {
			return true
		}
	}
	return false
}

// AgentEnvelope returns the agent region of MetaData, or nil if no envelope
// write has been applied yet.
func (r *Run) AgentEnvelope() map[string]any {
	env, _ := r.MetaData[MetaKeyAgent].(map[string]any)
	return env
}

// Clone returns a deep copy safe for independent mutation. Stores hand out
// clones so callers can never corrupt the authoritative record.
func (r *Run) Clone() *Run {
	clone := *r
	clone.Tools = make([]ToolDescriptor, len(r.Tools))
	copy(clone.Tools, r.Tools)
	clone.MetaData = deepCopyMap(r.MetaData)
	if r.IncompleteDetails != nil {
		d := *r.IncompleteDetails
		clone.IncompleteDetails = &d
	}
	return &clone
}

// deepCopyMap copies nested map[string]any values and []any slices; scalar
// leaves are shared (they are immutable by convention).
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = deepCopyValue(e)
		}
		return out
	case []string:
		out := make([]string, len(val))
		copy(out, val)
		return out
	default:
		return v
	}
}

// MergeMeta performs a recursive union of delta into dst: nested maps merge
// key-by-key, every other value overwrites at the leaf. dst may be nil.
// Existing keys absent from delta are preserved.
func MergeMeta(dst, delta map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for k, v := range delta {
		if sub, ok := v.(map[string]any); ok {
			if cur, ok := dst[k].(map[string]any); ok {
				dst[k] = MergeMeta(cur, sub)
				continue
			}
			dst[k] = MergeMeta(map[string]any{}, sub)
			continue
		}
		dst[k] = deepCopyValue(v)
	}
	return dst
}
