package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunStatus_Terminal(t *testing.T) {
	assert.False(t, StatusQueued.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusIncomplete.Terminal())
}

func TestRunStatus_Valid(t *testing.T) {
	for _, s := range []RunStatus{StatusQueued, StatusRunning, StatusCompleted, StatusFailed, StatusIncomplete} {
		assert.True(t, s.Valid(), string(s))
	}
	assert.False(t, RunStatus("cancelled").Valid())
	assert.False(t, RunStatus("").Valid())
}

func TestNewRun_Defaults(t *testing.T) {
	tools := []ToolDescriptor{{Name: "echo", Description: "echoes"}}
	run := NewRun(tools)

	require.NotEmpty(t, run.ID)
	assert.Equal(t, StatusQueued, run.Status)
	assert.NotZero(t, run.CreatedAt)
	assert.Zero(t, run.StartedAt)
	assert.Zero(t, run.CompletedAt)
	assert.Zero(t, run.FailedAt)
	assert.Nil(t, run.IncompleteDetails)
	assert.Empty(t, run.LastError)
	assert.NotNil(t, run.MetaData)

	// Manifest is copied, not aliased.
	tools[0].Name = "mutated"
	assert.Equal(t, "echo", run.Tools[0].Name)
	assert.True(t, run.HasTool("echo"))
	assert.False(t, run.HasTool("missing"))
}

func TestRun_Clone_Independence(t *testing.T) {
	run := NewRun([]ToolDescriptor{{Name: "echo"}})
	run.MetaData["agent"] = map[string]any{"turn": 1, "tools_called": []string{"echo"}}

	clone := run.Clone()
	clone.Status = StatusRunning
	clone.Tools[0].Name = "other"
	clone.MetaData["agent"].(map[string]any)["turn"] = 9

	assert.Equal(t, StatusQueued, run.Status)
	assert.Equal(t, "echo", run.Tools[0].Name)
	assert.Equal(t, 1, run.MetaData["agent"].(map[string]any)["turn"])
}

func TestRun_Clone_IncompleteDetails(t *testing.T) {
	run := NewRun(nil)
	run.IncompleteDetails = &IncompleteDetails{Reason: "budget"}

	clone := run.Clone()
	clone.IncompleteDetails.Reason = "other"

	assert.Equal(t, "budget", run.IncompleteDetails.Reason)
}

func TestMergeMeta_RecursiveUnion(t *testing.T) {
	dst := map[string]any{
		"agent": map[string]any{
			"turn":         1,
			"tools_called": []string{"echo"},
		},
		"owner": "loop",
	}
	delta := map[string]any{
		"agent": map[string]any{
			"turn":  2,
			"phase": "tool_execution",
		},
	}

	out := MergeMeta(dst, delta)

	env := out["agent"].(map[string]any)
	assert.Equal(t, 2, env["turn"])
	assert.Equal(t, "tool_execution", env["phase"])
	assert.Equal(t, []string{"echo"}, env["tools_called"])
	assert.Equal(t, "loop", out["owner"])
}

func TestMergeMeta_LeafOverwritesNonMap(t *testing.T) {
	dst := map[string]any{"k": "scalar"}
	out := MergeMeta(dst, map[string]any{"k": map[string]any{"nested": true}})

	assert.Equal(t, map[string]any{"nested": true}, out["k"])
}

func TestMergeMeta_NilDst(t *testing.T) {
	out := MergeMeta(nil, map[string]any{"a": 1})
	assert.Equal(t, 1, out["a"])
}

func TestRun_AgentEnvelope(t *testing.T) {
	run := NewRun(nil)
	assert.Nil(t, run.AgentEnvelope())

	run.MetaData = MergeMeta(run.MetaData, map[string]any{
		MetaKeyAgent: map[string]any{EnvelopeKeyTurn: 3},
	})
	require.NotNil(t, run.AgentEnvelope())
	assert.Equal(t, 3, run.AgentEnvelope()[EnvelopeKeyTurn])
}
