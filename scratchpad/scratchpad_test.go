package scratchpad

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oru-labs/runloop/core"
)

// Interface compliance (compile-time assertion)
var _ core.ScratchpadStore = (*InMemoryStore)(nil)

func TestInMemoryStore_SetGetDelete(t *testing.T) {
	s := NewInMemoryStore()

	_, ok := s.Get("run_1", "k")
	assert.False(t, ok)

	require.NoError(t, s.Set("run_1", "k", "v"))
	v, ok := s.Get("run_1", "k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	require.NoError(t, s.Delete("run_1", "k"))
	_, ok = s.Get("run_1", "k")
	assert.False(t, ok)
}

func TestInMemoryStore_KeysAndClear(t *testing.T) {
	s := NewInMemoryStore()

	require.NoError(t, s.Set("run_1", "a", 1))
	require.NoError(t, s.Set("run_1", "b", 2))
	require.NoError(t, s.Set("run_2", "c", 3))

	assert.ElementsMatch(t, []string{"a", "b"}, s.Keys("run_1"))
	assert.ElementsMatch(t, []string{"c"}, s.Keys("run_2"))

	s.Clear("run_1")
	assert.Empty(t, s.Keys("run_1"))
	assert.ElementsMatch(t, []string{"c"}, s.Keys("run_2"))
}
