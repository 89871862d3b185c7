package runstate

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/oru-labs/runloop/core"
)

// InMemoryStore is a volatile Store implementation holding runs in a process
// local map. It is safe for concurrent access and best suited for tests or
// ephemeral demo servers. Every returned run is a clone so external code can
// never mutate the authoritative record.
type InMemoryStore struct {
	mu   sync.RWMutex
	runs map[string]*core.Run
}

// NewInMemoryStore constructs an empty in-memory run store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{runs: make(map[string]*core.Run)}
}

// Create allocates a new queued run with the given capability manifest.
func (s *InMemoryStore) Create(_ context.Context, tools []core.ToolDescriptor) (*core.Run, error) {
	run := core.NewRun(tools)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run

	return run.Clone(), nil
}

// Get returns a snapshot of the run reflecting the latest applied write.
func (s *InMemoryStore) Get(_ context.Context, id string) (*core.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return run.Clone(), nil
}

// UpdateStatus transitions the run's status within the lifecycle table.
func (s *InMemoryStore) UpdateStatus(_ context.Context, id string, status core.RunStatus) (*core.Run, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("run %s: unknown status %q", id, status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if !ValidTransition(run.Status, status) {
		return nil, transitionErr(id, run.Status, status)
	}
	run.Status = status

	return run.Clone(), nil
}

// Update applies a merge-write and returns the resulting snapshot. Updates
// against a terminal run fail with ErrInvalidTransition.
func (s *InMemoryStore) Update(_ context.Context, id string, u Update) (*core.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if run.Terminal() {
		return nil, fmt.Errorf("run %s is %s: %w", id, run.Status, ErrInvalidTransition)
	}
	ApplyUpdate(run, u)

	return run.Clone(), nil
}

// List returns run snapshots matching the filter, ordered by creation time
// ascending (id as tie-break for determinism).
func (s *InMemoryStore) List(_ context.Context, f Filter) ([]*core.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*core.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if f.Status != "" && run.Status != f.Status {
			continue
		}
		out = append(out, run.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}
