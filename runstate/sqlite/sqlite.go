// Package sqlite provides a durable runstate.Store backed by a local SQLite
// database (modernc.org/sqlite, pure Go, no cgo). Records survive process
// restarts, which makes terminal run outcomes auditable after the fact.
//
// Merge semantics (meta_data deep-merge, usage summation, terminal freeze)
// are applied in Go inside a transaction, serialized by a store-level mutex,
// so concurrent writers per run id observe the same contract as the
// in-memory store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/oru-labs/runloop/core"
	"github.com/oru-labs/runloop/runstate"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id                 TEXT PRIMARY KEY,
	status             TEXT NOT NULL,
	created_at         INTEGER NOT NULL,
	started_at         INTEGER NOT NULL DEFAULT 0,
	completed_at       INTEGER NOT NULL DEFAULT 0,
	failed_at          INTEGER NOT NULL DEFAULT 0,
	current_turn       INTEGER NOT NULL DEFAULT 0,
	last_error         TEXT NOT NULL DEFAULT '',
	incomplete_details TEXT,
	usage              TEXT NOT NULL,
	tools              TEXT NOT NULL,
	meta_data          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
`

// Store is a runstate.Store persisting runs in a SQLite database file.
type Store struct {
	db *sql.DB
	// mu serializes read-modify-write cycles so merge-writes per run id
	// cannot interleave.
	mu sync.Mutex
}

// Open creates (or opens) the database at path and ensures the schema exists.
// Use ":memory:" for an ephemeral database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// modernc sqlite serializes writes per connection; a single connection
	// avoids SQLITE_BUSY under concurrent runs.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Create allocates a new queued run with the given capability manifest.
func (s *Store) Create(ctx context.Context, tools []core.ToolDescriptor) (*core.Run, error) {
	run := core.NewRun(tools)

	usageJSON, toolsJSON, metaJSON, detailsJSON, err := encodeRun(run)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, status, created_at, started_at, completed_at, failed_at,
		                   current_turn, last_error, incomplete_details, usage, tools, meta_data)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.Status), run.CreatedAt, run.StartedAt, run.CompletedAt, run.FailedAt,
		run.CurrentTurn, run.LastError, detailsJSON, usageJSON, toolsJSON, metaJSON,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: create run: %w", err)
	}
	return run, nil
}

// Get returns a snapshot of the run reflecting the latest applied write.
func (s *Store) Get(ctx context.Context, id string) (*core.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(ctx, id)
}

// UpdateStatus transitions the run's status within the lifecycle table.
func (s *Store) UpdateStatus(ctx context.Context, id string, status core.RunStatus) (*core.Run, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("run %s: unknown status %q", id, status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	run, err := s.getLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	if !runstate.ValidTransition(run.Status, status) {
		return nil, fmt.Errorf("run %s: %s -> %s: %w", id, run.Status, status, runstate.ErrInvalidTransition)
	}
	run.Status = status

	if err := s.writeLocked(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// Update applies a merge-write and returns the resulting snapshot. Updates
// against a terminal run fail with runstate.ErrInvalidTransition.
func (s *Store) Update(ctx context.Context, id string, u runstate.Update) (*core.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, err := s.getLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	if run.Terminal() {
		return nil, fmt.Errorf("run %s is %s: %w", id, run.Status, runstate.ErrInvalidTransition)
	}
	runstate.ApplyUpdate(run, u)

	if err := s.writeLocked(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// List returns run snapshots matching the filter, ordered by creation time
// ascending.
func (s *Store) List(ctx context.Context, f Filter) ([]*core.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT id, status, created_at, started_at, completed_at, failed_at,
	                 current_turn, last_error, incomplete_details, usage, tools, meta_data
	          FROM runs`
	var args []any
	if f.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(f.Status))
	}
	query += ` ORDER BY created_at ASC, id ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list runs: %w", err)
	}
	defer rows.Close()

	var out []*core.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// Filter aliases runstate.Filter so callers importing only this package can
// construct list queries.
type Filter = runstate.Filter

type rowScanner interface{ Scan(dest ...any) error }

func (s *Store) getLocked(ctx context.Context, id string) (*core.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, created_at, started_at, completed_at, failed_at,
		        current_turn, last_error, incomplete_details, usage, tools, meta_data
		 FROM runs WHERE id = ?`, id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, runstate.ErrNotFound)
	}
	return run, err
}

func (s *Store) writeLocked(ctx context.Context, run *core.Run) error {
	usageJSON, toolsJSON, metaJSON, detailsJSON, err := encodeRun(run)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, started_at = ?, completed_at = ?, failed_at = ?,
		        current_turn = ?, last_error = ?, incomplete_details = ?, usage = ?, meta_data = ?
		 WHERE id = ?`,
		string(run.Status), run.StartedAt, run.CompletedAt, run.FailedAt,
		run.CurrentTurn, run.LastError, detailsJSON, usageJSON, metaJSON, run.ID,
	)
	// tools column intentionally omitted: the manifest is immutable after creation.
	_ = toolsJSON
	if err != nil {
		return fmt.Errorf("sqlite: update run %s: %w", run.ID, err)
	}
	return nil
}

func encodeRun(run *core.Run) (usageJSON, toolsJSON, metaJSON string, detailsJSON sql.NullString, err error) {
	ub, err := json.Marshal(run.Usage)
	if err != nil {
		return "", "", "", sql.NullString{}, fmt.Errorf("sqlite: encode usage: %w", err)
	}
	tb, err := json.Marshal(run.Tools)
	if err != nil {
		return "", "", "", sql.NullString{}, fmt.Errorf("sqlite: encode tools: %w", err)
	}
	mb, err := json.Marshal(run.MetaData)
	if err != nil {
		return "", "", "", sql.NullString{}, fmt.Errorf("sqlite: encode meta_data: %w", err)
	}
	if run.IncompleteDetails != nil {
		db, err := json.Marshal(run.IncompleteDetails)
		if err != nil {
			return "", "", "", sql.NullString{}, fmt.Errorf("sqlite: encode incomplete_details: %w", err)
		}
		detailsJSON = sql.NullString{String: string(db), Valid: true}
	}
	return string(ub), string(tb), string(mb), detailsJSON, nil
}

func scanRun(row rowScanner) (*core.Run, error) {
	var (
		run         core.Run
		status      string
		detailsJSON sql.NullString
		usageJSON   string
		toolsJSON   string
		metaJSON    string
	)
	if err := row.Scan(&run.ID, &status, &run.CreatedAt, &run.StartedAt, &run.CompletedAt,
		&run.FailedAt, &run.CurrentTurn, &run.LastError, &detailsJSON,
		&usageJSON, &toolsJSON, &metaJSON); err != nil {
		return nil, err
	}
	run.Status = core.RunStatus(status)
	if err := json.Unmarshal([]byte(usageJSON), &run.Usage); err != nil {
		return nil, fmt.Errorf("sqlite: decode usage: %w", err)
	}
	if err := json.Unmarshal([]byte(toolsJSON), &run.Tools); err != nil {
		return nil, fmt.Errorf("sqlite: decode tools: %w", err)
	}
	if err := json.Unmarshal([]byte(metaJSON), &run.MetaData); err != nil {
		return nil, fmt.Errorf("sqlite: decode meta_data: %w", err)
	}
	if detailsJSON.Valid {
		var d core.IncompleteDetails
		if err := json.Unmarshal([]byte(detailsJSON.String), &d); err != nil {
			return nil, fmt.Errorf("sqlite: decode incomplete_details: %w", err)
		}
		run.IncompleteDetails = &d
	}
	return &run, nil
}
