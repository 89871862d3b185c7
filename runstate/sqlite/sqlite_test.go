package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oru-labs/runloop/core"
	"github.com/oru-labs/runloop/runstate"
)

// Interface compliance (compile-time assertion)
var _ runstate.Store = (*Store)(nil)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	run, err := store.Create(ctx, []core.ToolDescriptor{{Name: "echo", Description: "echoes"}})
	require.NoError(t, err)

	got, err := store.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, core.StatusQueued, got.Status)
	assert.True(t, got.HasTool("echo"))
	assert.Nil(t, got.IncompleteDetails)
}

func TestSQLiteStore_GetNotFound(t *testing.T) {
	store := openTestStore(t)

	_, err := store.Get(context.Background(), "run_missing")
	assert.ErrorIs(t, err, runstate.ErrNotFound)
}

func TestSQLiteStore_LifecycleAndFreeze(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	run, _ := store.Create(ctx, nil)

	_, err := store.UpdateStatus(ctx, run.ID, core.StatusCompleted)
	assert.ErrorIs(t, err, runstate.ErrInvalidTransition)

	_, err = store.UpdateStatus(ctx, run.ID, core.StatusRunning)
	require.NoError(t, err)

	now := int64(1234)
	got, err := store.Update(ctx, run.ID, runstate.Update{CompletedAt: &now})
	require.NoError(t, err)
	assert.Equal(t, now, got.CompletedAt)

	_, err = store.UpdateStatus(ctx, run.ID, core.StatusCompleted)
	require.NoError(t, err)

	turn := 9
	_, err = store.Update(ctx, run.ID, runstate.Update{CurrentTurn: &turn})
	assert.ErrorIs(t, err, runstate.ErrInvalidTransition)
}

func TestSQLiteStore_MergeSemantics(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	run, _ := store.Create(ctx, nil)

	_, err := store.Update(ctx, run.ID, runstate.Update{
		MetaData: map[string]any{
			core.MetaKeyAgent: map[string]any{core.EnvelopeKeyLastTool: "echo"},
		},
		Usage: &core.Usage{TotalTokens: 10, Turns: 1},
	})
	require.NoError(t, err)

	got, err := store.Update(ctx, run.ID, runstate.Update{
		MetaData: map[string]any{
			core.MetaKeyAgent: map[string]any{core.EnvelopeKeyPhase: string(core.PhaseInference)},
		},
		Usage: &core.Usage{TotalTokens: 5, Turns: 1},
	})
	require.NoError(t, err)

	env := got.AgentEnvelope()
	require.NotNil(t, env)
	assert.Equal(t, "echo", env[core.EnvelopeKeyLastTool])
	assert.Equal(t, string(core.PhaseInference), env[core.EnvelopeKeyPhase])
	assert.Equal(t, 15, got.Usage.TotalTokens)
	assert.Equal(t, 2, got.Usage.Turns)
}

func TestSQLiteStore_IncompleteDetailsRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	run, _ := store.Create(ctx, nil)

	_, err := store.UpdateStatus(ctx, run.ID, core.StatusRunning)
	require.NoError(t, err)

	_, err = store.Update(ctx, run.ID, runstate.Update{
		IncompleteDetails: &core.IncompleteDetails{Reason: "budget exhausted"},
	})
	require.NoError(t, err)

	got, err := store.Get(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, got.IncompleteDetails)
	assert.Equal(t, "budget exhausted", got.IncompleteDetails.Reason)
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "runs.db")

	store, err := Open(path)
	require.NoError(t, err)

	run, err := store.Create(ctx, []core.ToolDescriptor{{Name: "echo"}})
	require.NoError(t, err)
	_, err = store.UpdateStatus(ctx, run.ID, core.StatusRunning)
	require.NoError(t, err)
	lastError := "inference failed on turn 1: boom"
	_, err = store.Update(ctx, run.ID, runstate.Update{LastError: &lastError})
	require.NoError(t, err)
	_, err = store.UpdateStatus(ctx, run.ID, core.StatusFailed)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, got.Status)
	assert.Equal(t, lastError, got.LastError)
	assert.True(t, got.HasTool("echo"))
}

func TestSQLiteStore_List(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	r1, _ := store.Create(ctx, nil)
	r2, _ := store.Create(ctx, nil)
	_, err := store.UpdateStatus(ctx, r2.ID, core.StatusRunning)
	require.NoError(t, err)

	all, err := store.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	running, err := store.List(ctx, Filter{Status: core.StatusRunning})
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, r2.ID, running[0].ID)

	limited, err := store.List(ctx, Filter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	_ = r1
}
