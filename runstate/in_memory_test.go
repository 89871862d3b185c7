package runstate

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oru-labs/runloop/core"
)

// Interface compliance (compile-time assertion)
var _ Store = (*InMemoryStore)(nil)

func TestInMemoryStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	run, err := store.Create(ctx, []core.ToolDescriptor{{Name: "echo"}})
	require.NoError(t, err)
	assert.Equal(t, core.StatusQueued, run.Status)

	got, err := store.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.True(t, got.HasTool("echo"))

	// Returned snapshots are clones: mutating them never touches the record.
	got.Status = core.StatusFailed
	got.MetaData["x"] = 1
	again, err := store.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusQueued, again.Status)
	assert.NotContains(t, again.MetaData, "x")
}

func TestInMemoryStore_GetNotFound(t *testing.T) {
	store := NewInMemoryStore()

	_, err := store.Get(context.Background(), "run_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestValidTransition_Table(t *testing.T) {
	tests := []struct {
		from, to core.RunStatus
		want     bool
	}{
		{core.StatusQueued, core.StatusRunning, true},
		{core.StatusQueued, core.StatusFailed, true},
		{core.StatusQueued, core.StatusCompleted, false},
		{core.StatusQueued, core.StatusIncomplete, false},
		{core.StatusRunning, core.StatusCompleted, true},
		{core.StatusRunning, core.StatusFailed, true},
		{core.StatusRunning, core.StatusIncomplete, true},
		{core.StatusRunning, core.StatusQueued, false},
		{core.StatusCompleted, core.StatusRunning, false},
		{core.StatusFailed, core.StatusRunning, false},
		{core.StatusIncomplete, core.StatusCompleted, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, ValidTransition(tt.from, tt.to))
		})
	}
}

func TestInMemoryStore_UpdateStatus_RejectsInvalid(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	run, _ := store.Create(ctx, nil)

	_, err := store.UpdateStatus(ctx, run.ID, core.StatusCompleted)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = store.UpdateStatus(ctx, run.ID, core.RunStatus("bogus"))
	assert.Error(t, err)

	_, err = store.UpdateStatus(ctx, run.ID, core.StatusRunning)
	require.NoError(t, err)

	_, err = store.UpdateStatus(ctx, run.ID, core.StatusCompleted)
	require.NoError(t, err)

	// Terminal records accept no further transitions.
	_, err = store.UpdateStatus(ctx, run.ID, core.StatusFailed)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestInMemoryStore_Update_TerminalFreeze(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	run, _ := store.Create(ctx, nil)
	_, err := store.UpdateStatus(ctx, run.ID, core.StatusRunning)
	require.NoError(t, err)
	_, err = store.UpdateStatus(ctx, run.ID, core.StatusIncomplete)
	require.NoError(t, err)

	turn := 5
	_, err = store.Update(ctx, run.ID, Update{CurrentTurn: &turn})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestInMemoryStore_Update_MergeSemantics(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	run, _ := store.Create(ctx, nil)

	started := int64(100)
	turn := 1
	_, err := store.Update(ctx, run.ID, Update{
		StartedAt:   &started,
		CurrentTurn: &turn,
		MetaData: map[string]any{
			core.MetaKeyAgent: map[string]any{
				core.EnvelopeKeyTurn:        1,
				core.EnvelopeKeyToolsCalled: []string{"echo"},
			},
		},
		Usage: &core.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15, Turns: 1},
	})
	require.NoError(t, err)

	// Second write: scalars overwrite, envelope merges, usage sums.
	turn2 := 2
	got, err := store.Update(ctx, run.ID, Update{
		CurrentTurn: &turn2,
		MetaData: map[string]any{
			core.MetaKeyAgent: map[string]any{
				core.EnvelopeKeyTurn:  2,
				core.EnvelopeKeyPhase: string(core.PhaseToolExecution),
			},
		},
		Usage: &core.Usage{PromptTokens: 20, CompletionTokens: 5, TotalTokens: 25, Turns: 1},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(100), got.StartedAt)
	assert.Equal(t, 2, got.CurrentTurn)
	assert.Equal(t, core.Usage{PromptTokens: 30, CompletionTokens: 10, TotalTokens: 40, Turns: 2}, got.Usage)

	env := got.AgentEnvelope()
	require.NotNil(t, env)
	assert.Equal(t, 2, env[core.EnvelopeKeyTurn])
	assert.Equal(t, string(core.PhaseToolExecution), env[core.EnvelopeKeyPhase])
	assert.Equal(t, []string{"echo"}, env[core.EnvelopeKeyToolsCalled])
}

func TestInMemoryStore_Update_ReplaceUsage(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	run, _ := store.Create(ctx, nil)

	_, err := store.Update(ctx, run.ID, Update{Usage: &core.Usage{TotalTokens: 100, Turns: 3}})
	require.NoError(t, err)

	got, err := store.Update(ctx, run.ID, Update{
		Usage:        &core.Usage{PromptTokens: 40, CompletionTokens: 20, TotalTokens: 60, Turns: 2},
		ReplaceUsage: true,
	})
	require.NoError(t, err)
	assert.Equal(t, core.Usage{PromptTokens: 40, CompletionTokens: 20, TotalTokens: 60, Turns: 2}, got.Usage)
}

func TestInMemoryStore_ConcurrentDisjointMetaWriters(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	run, _ := store.Create(ctx, nil)

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Update(ctx, run.ID, Update{
				MetaData: map[string]any{fmt.Sprintf("key_%d", i): i},
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := store.Get(ctx, run.ID)
	require.NoError(t, err)
	for i := 0; i < writers; i++ {
		assert.Contains(t, got.MetaData, fmt.Sprintf("key_%d", i))
	}
}

func TestInMemoryStore_List(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	a, _ := store.Create(ctx, nil)
	b, _ := store.Create(ctx, nil)
	c, _ := store.Create(ctx, nil)

	_, err := store.UpdateStatus(ctx, b.ID, core.StatusRunning)
	require.NoError(t, err)

	all, err := store.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	running, err := store.List(ctx, Filter{Status: core.StatusRunning})
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, b.ID, running[0].ID)

	limited, err := store.List(ctx, Filter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	_ = a
	_ = c
}
