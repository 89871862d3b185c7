// Package runstate defines the durable store for Run records: the single
// source of truth a turn loop writes to and external observers read from.
// Updates are merges, never wholesale replaces: scalar fields overwrite,
// meta_data deep-merges key-by-key, and usage sums unless the caller marks
// the write as a final replacing flush.
package runstate

import (
	"context"
	"errors"
	"fmt"

	"github.com/oru-labs/runloop/core"
)

// ErrNotFound is returned when no Run exists for the requested id.
var ErrNotFound = errors.New("run not found")

// ErrInvalidTransition is returned when a write targets a terminal Run or
// requests a status change outside the lifecycle table. Mutating a terminal
// record is a programming-contract violation and must fail loudly.
var ErrInvalidTransition = errors.New("invalid run state transition")

// Update is a partial, mergeable write against one Run.
//
// Nil pointer fields are left untouched. MetaData is deep-merged into the
// record (recursive union, leaf-level overwrite) so concurrent writers to
// disjoint keys never clobber each other. Usage is summed field by field
// unless ReplaceUsage marks this write as the terminal flush.
type Update struct {
	StartedAt         *int64
	CompletedAt       *int64
	FailedAt          *int64
	CurrentTurn       *int
	LastError         *string
	IncompleteDetails *core.IncompleteDetails
	MetaData          map[string]any
	Usage             *core.Usage
	ReplaceUsage      bool
}

// Empty reports whether the update carries no fields.
func (u Update) Empty() bool {
	return u.StartedAt == nil && u.CompletedAt == nil && u.FailedAt == nil &&
		u.CurrentTurn == nil && u.LastError == nil && u.IncompleteDetails == nil &&
		u.MetaData == nil && u.Usage == nil
}

// Filter narrows List results.
type Filter struct {
	// Status restricts results to one status; empty means all.
	Status core.RunStatus
	// Limit bounds the number of returned runs; 0 means no limit.
	Limit int
}

// Store persists Run records and their evolving lifecycle state.
//
// Implementations must serialize concurrent writes per run id, guarantee
// read-your-own-write visibility for the loop that owns the run, and reject
// any mutation of a terminal record with ErrInvalidTransition. Reads return
// defensive copies; callers can never corrupt the stored record.
type Store interface {
	// Create allocates a new queued Run with the given capability manifest.
	Create(ctx context.Context, tools []core.ToolDescriptor) (*core.Run, error)

	// Get returns a snapshot of the run reflecting the latest applied write.
	Get(ctx context.Context, id string) (*core.Run, error)

	// UpdateStatus transitions the run's status within the lifecycle table.
	UpdateStatus(ctx context.Context, id string, status core.RunStatus) (*core.Run, error)

	// Update applies a merge-write and returns the resulting snapshot.
	Update(ctx context.Context, id string, u Update) (*core.Run, error)

	// List returns run snapshots matching the filter, ordered by creation
	// time ascending.
	List(ctx context.Context, f Filter) ([]*core.Run, error)
}

// ValidTransition encodes the lifecycle table: queued runs may start (or fail
// before starting), running runs may reach exactly one terminal state, and
// terminal runs accept nothing.
func ValidTransition(from, to core.RunStatus) bool {
	switch from {
	case core.StatusQueued:
		return to == core.StatusRunning || to == core.StatusFailed
	case core.StatusRunning:
		return to == core.StatusCompleted || to == core.StatusFailed || to == core.StatusIncomplete
	default:
		return false
	}
}

// ApplyUpdate merges u into run in place. Callers hold whatever lock guards
// the record and have already rejected terminal runs.
func ApplyUpdate(run *core.Run, u Update) {
	if u.StartedAt != nil {
		run.StartedAt = *u.StartedAt
	}
	if u.CompletedAt != nil {
		run.CompletedAt = *u.CompletedAt
	}
	if u.FailedAt != nil {
		run.FailedAt = *u.FailedAt
	}
	if u.CurrentTurn != nil {
		run.CurrentTurn = *u.CurrentTurn
	}
	if u.LastError != nil {
		run.LastError = *u.LastError
	}
	if u.IncompleteDetails != nil {
		d := *u.IncompleteDetails
		run.IncompleteDetails = &d
	}
	if u.MetaData != nil {
		run.MetaData = core.MergeMeta(run.MetaData, u.MetaData)
	}
	if u.Usage != nil {
		if u.ReplaceUsage {
			run.Usage = *u.Usage
		} else {
			u.Usage.AddTo(&run.Usage)
		}
	}
}

// transitionErr builds a uniform, wrappable transition failure.
func transitionErr(id string, from, to core.RunStatus) error {
	return fmt.Errorf("run %s: %s -> %s: %w", id, from, to, ErrInvalidTransition)
}
