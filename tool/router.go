package tool

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oru-labs/runloop/core"
	"github.com/oru-labs/runloop/runstate"
	"github.com/oru-labs/runloop/snapshot"
)

// Router dispatches model-requested function calls against a fixed tool
// registry and maintains the run's tool audit trail.
//
// Error taxonomy:
//   - Unknown tool, argument decode failure, handler error, handler panic:
//     all surface as a FunctionResponse with Error populated. The model sees
//     the failure and the run continues.
//   - *EscalationError: returned as a Go error. The turn loop treats it as
//     run-terminating.
//
// After every dispatch that resolves to a registered tool (whether the
// handler succeeds, errors, panics or escalates) the router pushes one
// envelope merge-write through the snapshot writer recording the ordered
// duplicate-free tools_called log, tool_call_count, last_tool and
// last_tool_at. Unknown names never enter the audit trail, so tools_called
// stays a subset of the manifest. A Router is bound to a single run and is
// safe for concurrent use, though the turn loop dispatches sequentially.
type Router struct {
	tools     map[string]Tool
	order     []string
	snapshots *snapshot.Writer

	mu          sync.Mutex
	toolsCalled []string
	seen        map[string]bool
	callCount   int
}

// RouterOptions configures a Router.
type RouterOptions struct {
	// Snapshots receives envelope merge-writes after each dispatch. Nil
	// disables audit-trail persistence (useful in tests).
	Snapshots *snapshot.Writer
}

// NewRouter builds a router over the given tools, preserving registration
// order. Duplicate tool names keep the first registration.
func NewRouter(tools []Tool, optFns ...func(o *RouterOptions)) *Router {
	opts := RouterOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	r := &Router{
		tools:     make(map[string]Tool, len(tools)),
		snapshots: opts.Snapshots,
		seen:      make(map[string]bool),
	}
	for _, t := range tools {
		if _, exists := r.tools[t.Name()]; exists {
			continue
		}
		r.tools[t.Name()] = t
		r.order = append(r.order, t.Name())
	}

	return r
}

// AttachSnapshots binds the snapshot writer after construction. The run id
// (and therefore the writer) only exists once the run record is created, so
// the runner wires the writer in before the first dispatch.
func (r *Router) AttachSnapshots(w *snapshot.Writer) {
	r.snapshots = w
}

// Manifest returns the registered tools as descriptors in registration order.
func (r *Router) Manifest() []core.ToolDescriptor {
	manifest := make([]core.ToolDescriptor, 0, len(r.order))
	for _, name := range r.order {
		manifest = append(manifest, core.ToolDescriptor{
			Name:        name,
			Description: r.tools[name].Description(),
		})
	}
	return manifest
}

// Lookup returns the registered tool by name.
func (r *Router) Lookup(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Dispatch executes one function call and returns its response. The returned
// error is non-nil only for escalation: every ordinary failure is folded into
// the response's Error field so the model can react to it.
func (r *Router) Dispatch(toolCtx *core.ToolContext, call core.FunctionCall) (core.FunctionResponse, error) {
	resp := core.FunctionResponse{ID: call.ID, Name: call.Name}

	t, ok := r.tools[call.Name]
	if !ok {
		toolCtx.Logger().Warn("router.unknown_tool", "run_id", toolCtx.RunID(), "tool", call.Name)
		resp.Error = fmt.Sprintf("unknown tool: %s", call.Name)
		return resp, nil
	}

	// Only resolved names enter the audit trail: tools_called stays a
	// subset of the manifest even when the model hallucinates a tool.
	defer r.record(call.Name)

	args, err := decodeArguments(call.Arguments)
	if err != nil {
		toolCtx.Logger().Warn("router.bad_arguments", "run_id", toolCtx.RunID(), "tool", call.Name, "error", err.Error())
		resp.Error = fmt.Sprintf("invalid arguments for %s: %v", call.Name, err)
		return resp, nil
	}

	result, err := r.callGuarded(t, toolCtx, args)
	if err != nil {
		var esc *EscalationError
		if errors.As(err, &esc) {
			return resp, err
		}
		resp.Error = err.Error()
		return resp, nil
	}

	resp.Response = result
	return resp, nil
}

// callGuarded invokes the tool converting a panic into an ordinary error.
func (r *Router) callGuarded(t Tool, toolCtx *core.ToolContext, args map[string]any) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			toolCtx.Logger().Error("router.tool_panic", "run_id", toolCtx.RunID(), "tool", t.Name(), "panic", fmt.Sprint(rec))
			result = nil
			err = fmt.Errorf("tool %s panicked: %v", t.Name(), rec)
		}
	}()

	return t.Call(toolCtx, args)
}

// record updates the audit trail and pushes one envelope merge-write.
func (r *Router) record(toolName string) {
	r.mu.Lock()
	r.callCount++
	if !r.seen[toolName] {
		r.seen[toolName] = true
		r.toolsCalled = append(r.toolsCalled, toolName)
	}
	called := make([]string, len(r.toolsCalled))
	copy(called, r.toolsCalled)
	count := r.callCount
	r.mu.Unlock()

	if r.snapshots == nil {
		return
	}

	r.snapshots.Push(runstate.Update{
		MetaData: map[string]any{
			core.MetaKeyAgent: map[string]any{
				core.EnvelopeKeyToolsCalled:   called,
				core.EnvelopeKeyToolCallCount: count,
				core.EnvelopeKeyLastTool:      toolName,
				core.EnvelopeKeyLastToolAt:    time.Now().Unix(),
			},
		},
	})
}

// ToolsCalled returns the ordered duplicate-free log of dispatched tool names.
func (r *Router) ToolsCalled() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.toolsCalled))
	copy(out, r.toolsCalled)
	return out
}

// CallCount returns the total number of dispatches, duplicates included.
func (r *Router) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.callCount
}

// decodeArguments parses the serialized argument payload. An empty payload
// decodes to an empty map.
func decodeArguments(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}
