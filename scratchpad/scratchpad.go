// Package scratchpad provides the ancillary key-value store some tools share
// during a run. It is an external collaborator from the orchestrator core's
// point of view: only tools reach it, through their ToolContext.
package scratchpad

import (
	"sync"
)

// InMemoryStore is a volatile core.ScratchpadStore keeping per-run key/value
// pairs in a process local map. Safe for concurrent access. Values are stored
// as-is; treat them as immutable after Set.
type InMemoryStore struct {
	mu   sync.RWMutex
	runs map[string]map[string]any
}

// NewInMemoryStore constructs an empty in-memory scratchpad store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{runs: make(map[string]map[string]any)}
}

// Get returns the value for key and whether it exists.
func (s *InMemoryStore) Get(runID, key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pad, ok := s.runs[runID]
	if !ok {
		return nil, false
	}
	v, ok := pad[key]
	return v, ok
}

// Set stores a value under key.
func (s *InMemoryStore) Set(runID, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pad, ok := s.runs[runID]
	if !ok {
		pad = map[string]any{}
		s.runs[runID] = pad
	}
	pad[key] = value
	return nil
}

// Delete removes key. Deleting an absent key is a no-op.
func (s *InMemoryStore) Delete(runID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pad, ok := s.runs[runID]; ok {
		delete(pad, key)
	}
	return nil
}

// Keys returns all keys for runID in unspecified order.
func (s *InMemoryStore) Keys(runID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pad, ok := s.runs[runID]
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(pad))
	for k := range pad {
		keys = append(keys, k)
	}
	return keys
}

// Clear drops every key for runID.
func (s *InMemoryStore) Clear(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, runID)
}
