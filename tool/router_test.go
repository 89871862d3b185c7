package tool

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oru-labs/runloop/core"
	"github.com/oru-labs/runloop/logging"
	"github.com/oru-labs/runloop/runstate"
	"github.com/oru-labs/runloop/snapshot"
)

type routerMockTool struct {
	name     string
	result   any
	err      error
	panicMsg any
}

func (mt *routerMockTool) Name() string               { return mt.name }
func (mt *routerMockTool) Description() string        { return "mock tool" }
func (mt *routerMockTool) Parameters() map[string]any { return map[string]any{} }
func (mt *routerMockTool) Call(_ *core.ToolContext, _ map[string]any) (any, error) {
	if mt.panicMsg != nil {
		panic(mt.panicMsg)
	}
	return mt.result, mt.err
}

func newRouterToolCtx() *core.ToolContext {
	return core.NewToolContext(context.Background(), "run_1", "fc_1", nil, logging.NoOpLogger{})
}

func TestRouter_Manifest_PreservesOrder(t *testing.T) {
	r := NewRouter([]Tool{
		&routerMockTool{name: "b"},
		&routerMockTool{name: "a"},
		&routerMockTool{name: "b"}, // duplicate keeps first registration
	})

	manifest := r.Manifest()
	require.Len(t, manifest, 2)
	assert.Equal(t, "b", manifest[0].Name)
	assert.Equal(t, "a", manifest[1].Name)
}

func TestRouter_Dispatch_Success(t *testing.T) {
	r := NewRouter([]Tool{&routerMockTool{name: "one", result: 42}})

	resp, err := r.Dispatch(newRouterToolCtx(), core.FunctionCall{ID: "1", Name: "one", Arguments: "{}"})
	require.NoError(t, err)
	assert.Equal(t, "1", resp.ID)
	assert.Equal(t, "one", resp.Name)
	assert.Equal(t, 42, resp.Response)
	assert.Empty(t, resp.Error)
}

func TestRouter_Dispatch_UnknownTool(t *testing.T) {
	r := NewRouter(nil)

	resp, err := r.Dispatch(newRouterToolCtx(), core.FunctionCall{ID: "1", Name: "ghost"})
	require.NoError(t, err)
	assert.Contains(t, resp.Error, "unknown tool: ghost")
	// Unregistered names never enter the audit trail.
	assert.Empty(t, r.ToolsCalled())
	assert.Equal(t, 0, r.CallCount())
}

func TestRouter_Dispatch_BadArguments(t *testing.T) {
	r := NewRouter([]Tool{&routerMockTool{name: "one"}})

	resp, err := r.Dispatch(newRouterToolCtx(), core.FunctionCall{Name: "one", Arguments: "{not json"})
	require.NoError(t, err)
	assert.Contains(t, resp.Error, "invalid arguments for one")
}

func TestRouter_Dispatch_HandlerErrorIsVisibleNotFatal(t *testing.T) {
	r := NewRouter([]Tool{&routerMockTool{name: "one", err: errors.New("boom")}})

	resp, err := r.Dispatch(newRouterToolCtx(), core.FunctionCall{Name: "one"})
	require.NoError(t, err)
	assert.Equal(t, "boom", resp.Error)
}

func TestRouter_Dispatch_PanicRecovered(t *testing.T) {
	r := NewRouter([]Tool{&routerMockTool{name: "one", panicMsg: "kaboom"}})

	resp, err := r.Dispatch(newRouterToolCtx(), core.FunctionCall{Name: "one"})
	require.NoError(t, err)
	assert.Contains(t, resp.Error, "tool one panicked")
	assert.Contains(t, resp.Error, "kaboom")
}

func TestRouter_Dispatch_EscalationTerminates(t *testing.T) {
	esc := Escalate("one", "cannot proceed", errors.New("cause"))
	r := NewRouter([]Tool{&routerMockTool{name: "one", err: esc}})

	_, err := r.Dispatch(newRouterToolCtx(), core.FunctionCall{Name: "one"})
	require.Error(t, err)

	var escErr *EscalationError
	require.ErrorAs(t, err, &escErr)
	assert.Equal(t, "one", escErr.Tool)
}

func TestRouter_ToolsCalled_OrderedDedup(t *testing.T) {
	r := NewRouter([]Tool{
		&routerMockTool{name: "alpha"},
		&routerMockTool{name: "beta"},
	})
	tc := newRouterToolCtx()

	_, _ = r.Dispatch(tc, core.FunctionCall{Name: "beta"})
	_, _ = r.Dispatch(tc, core.FunctionCall{Name: "alpha"})
	_, _ = r.Dispatch(tc, core.FunctionCall{Name: "beta"})

	assert.Equal(t, []string{"beta", "alpha"}, r.ToolsCalled())
	assert.Equal(t, 3, r.CallCount())
}

func TestRouter_RecordsEnvelopeThroughSnapshots(t *testing.T) {
	ctx := context.Background()
	store := runstate.NewInMemoryStore()
	run, err := store.Create(ctx, nil)
	require.NoError(t, err)

	w := snapshot.NewWriter(store, run.ID)
	r := NewRouter([]Tool{&routerMockTool{name: "echo", result: "ok"}})
	r.AttachSnapshots(w)

	_, err = r.Dispatch(newRouterToolCtx(), core.FunctionCall{Name: "echo"})
	require.NoError(t, err)
	_, err = r.Dispatch(newRouterToolCtx(), core.FunctionCall{Name: "missing"})
	require.NoError(t, err)
	_, err = r.Dispatch(newRouterToolCtx(), core.FunctionCall{Name: "echo"})
	require.NoError(t, err)
	w.Close()

	got, err := store.Get(ctx, run.ID)
	require.NoError(t, err)
	env := got.AgentEnvelope()
	require.NotNil(t, env)
	assert.Equal(t, []string{"echo"}, env[core.EnvelopeKeyToolsCalled])
	assert.Equal(t, 2, env[core.EnvelopeKeyToolCallCount])
	assert.Equal(t, "echo", env[core.EnvelopeKeyLastTool])
	assert.NotZero(t, env[core.EnvelopeKeyLastToolAt])
}

func TestRouter_ToolsCalledSubsetOfManifest(t *testing.T) {
	r := NewRouter([]Tool{&routerMockTool{name: "echo", result: "ok"}})
	tc := newRouterToolCtx()

	_, _ = r.Dispatch(tc, core.FunctionCall{Name: "ghost"})
	_, _ = r.Dispatch(tc, core.FunctionCall{Name: "echo"})
	_, _ = r.Dispatch(tc, core.FunctionCall{Name: "phantom"})

	manifest := map[string]bool{}
	for _, d := range r.Manifest() {
		manifest[d.Name] = true
	}
	for _, name := range r.ToolsCalled() {
		assert.Truef(t, manifest[name], "tools_called contains %q which is not in the manifest", name)
	}
	assert.Equal(t, []string{"echo"}, r.ToolsCalled())
	assert.Equal(t, 1, r.CallCount())
}

func TestRouter_Dispatch_WrappedEscalationTerminates(t *testing.T) {
	esc := Escalate("one", "cannot proceed", errors.New("cause"))
	wrapped := fmt.Errorf("handler gave up: %w", esc)
	r := NewRouter([]Tool{&routerMockTool{name: "one", err: wrapped}})

	_, err := r.Dispatch(newRouterToolCtx(), core.FunctionCall{Name: "one"})
	require.Error(t, err)

	var escErr *EscalationError
	require.ErrorAs(t, err, &escErr)
	assert.Equal(t, "one", escErr.Tool)
}
