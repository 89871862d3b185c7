package tool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oru-labs/runloop/core"
	"github.com/oru-labs/runloop/logging"
)

// Interface compliance (compile-time assertion)
var _ Tool = (*FunctionTool)(nil)
var _ Tool = (*ScratchpadTool)(nil)

func newFnToolCtx() *core.ToolContext {
	return core.NewToolContext(context.Background(), "run_1", "fc_1", nil, logging.NoOpLogger{})
}

func sumSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "number"},
			"b": map[string]any{"type": "number"},
		},
		"required": []any{"a", "b"},
	}
}

func TestFunctionTool_Success(t *testing.T) {
	sum := NewFunctionTool("calculate_sum", "Adds numbers", sumSchema(),
		func(_ *core.ToolContext, args map[string]any) (any, error) {
			return args["a"].(float64) + args["b"].(float64), nil
		})

	assert.Equal(t, "calculate_sum", sum.Name())
	assert.Equal(t, "Adds numbers", sum.Description())

	result, err := sum.Call(newFnToolCtx(), map[string]any{"a": 2.0, "b": 3.0})
	require.NoError(t, err)
	assert.Equal(t, 5.0, result)
}

func TestFunctionTool_ValidationError(t *testing.T) {
	sum := NewFunctionTool("calculate_sum", "Adds numbers", sumSchema(),
		func(_ *core.ToolContext, _ map[string]any) (any, error) {
			t.Fatal("function must not run on invalid args")
			return nil, nil
		})

	_, err := sum.Call(newFnToolCtx(), map[string]any{"a": 2.0})
	require.Error(t, err)

	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "VALIDATION_ERROR", toolErr.Code)
	assert.Equal(t, "calculate_sum", toolErr.Tool)
}

func TestFunctionTool_ValidationError_WrongType(t *testing.T) {
	sum := NewFunctionTool("calculate_sum", "Adds numbers", sumSchema(),
		func(_ *core.ToolContext, _ map[string]any) (any, error) { return nil, nil })

	_, err := sum.Call(newFnToolCtx(), map[string]any{"a": "two", "b": 3.0})

	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "VALIDATION_ERROR", toolErr.Code)
}

func TestFunctionTool_ExecutionError(t *testing.T) {
	failing := NewFunctionTool("failing", "always fails", map[string]any{"type": "object"},
		func(_ *core.ToolContext, _ map[string]any) (any, error) {
			return nil, errors.New("downstream unavailable")
		})

	_, err := failing.Call(newFnToolCtx(), map[string]any{})

	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "EXECUTION_ERROR", toolErr.Code)
	assert.Equal(t, "downstream unavailable", toolErr.Message)
}

func TestFunctionTool_ToolErrorPassedThrough(t *testing.T) {
	custom := NewFunctionTool("custom", "custom code", map[string]any{"type": "object"},
		func(_ *core.ToolContext, _ map[string]any) (any, error) {
			return nil, NewToolError("custom", "quota exceeded", "RATE_LIMITED")
		})

	_, err := custom.Call(newFnToolCtx(), map[string]any{})

	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "RATE_LIMITED", toolErr.Code)
}

func TestFunctionTool_EscalationForwardedUnwrapped(t *testing.T) {
	escalating := NewFunctionTool("escalating", "gives up", map[string]any{"type": "object"},
		func(_ *core.ToolContext, _ map[string]any) (any, error) {
			return nil, Escalate("escalating", "unrecoverable state", nil)
		})

	_, err := escalating.Call(newFnToolCtx(), map[string]any{})

	var escErr *EscalationError
	require.ErrorAs(t, err, &escErr)
	assert.Equal(t, "escalating", escErr.Tool)
}

func TestFunctionTool_FromStruct(t *testing.T) {
	type addArgs struct {
		A float64 `json:"a" description:"First number"`
		B float64 `json:"b" description:"Second number"`
	}

	sum := NewFunctionToolFromStruct("calculate_sum", "Adds numbers", addArgs{},
		func(_ *core.ToolContext, args map[string]any) (any, error) {
			return args["a"].(float64) + args["b"].(float64), nil
		})

	params := sum.Parameters()
	assert.Equal(t, "object", params["type"])
	props := params["properties"].(map[string]any)
	assert.Contains(t, props, "a")
	assert.Contains(t, props, "b")

	result, err := sum.Call(newFnToolCtx(), map[string]any{"a": 1.5, "b": 2.5})
	require.NoError(t, err)
	assert.Equal(t, 4.0, result)
}
