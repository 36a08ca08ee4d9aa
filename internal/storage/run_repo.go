package storage

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_run_store.go -package=mocks coral-lat/internal/storage RunStore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a record is not found.
	ErrNotFound = errors.New("record not found")
)

// RunStore defines the interface for run history operations.
type RunStore interface {
	// Create inserts a new run. An empty ID is filled with a new UUID.
	Create(ctx context.Context, run *RunRecord) error
	// Update writes the mutable fields of an existing run.
	Update(ctx context.Context, run *RunRecord) error
	// Get returns a run by ID, or ErrNotFound.
	Get(ctx context.Context, id string) (*RunRecord, error)
	// List returns the most recent runs first, at most limit of them.
	List(ctx context.Context, limit int) ([]*RunRecord, error)
}

// RunRepo provides methods for run operations.
// It implements the RunStore interface.
type RunRepo struct {
	db *sql.DB
}

// NewRunRepo creates a new RunRepo.
func NewRunRepo(db *sql.DB) *RunRepo {
	return &RunRepo{db: db}
}

// Create inserts a new run.
func (r *RunRepo) Create(ctx context.Context, run *RunRecord) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO runs (id, state, total, progress, output_path, error, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.State, run.Total, run.Progress, run.OutputPath, run.Error, run.StartedAt, nullTime(run.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// Update writes state, progress, output path, error and finish time.
func (r *RunRepo) Update(ctx context.Context, run *RunRecord) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE runs SET state = ?, progress = ?, output_path = ?, error = ?, finished_at = ? WHERE id = ?`,
		run.State, run.Progress, run.OutputPath, run.Error, nullTime(run.FinishedAt), run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check updated rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Get returns a run by ID.
func (r *RunRepo) Get(ctx context.Context, id string) (*RunRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, state, total, progress, output_path, error, started_at, finished_at FROM runs WHERE id = ?`,
		id,
	)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	return run, nil
}

// List returns the most recent runs first.
func (r *RunRepo) List(ctx context.Context, limit int) ([]*RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, state, total, progress, output_path, error, started_at, finished_at
		 FROM runs ORDER BY started_at DESC, id LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var runs []*RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// FailInterrupted marks runs still RUNNING as FAILED with reason. Builds live in
// process memory, so such rows were cut off by a restart. It returns how many
// rows changed.
func (r *RunRepo) FailInterrupted(ctx context.Context, reason string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE runs SET state = ?, error = ?, finished_at = ? WHERE state = ?`,
		RunStateFailed, reason, time.Now().UTC(), RunStateRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to close interrupted runs: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*RunRecord, error) {
	var run RunRecord
	var finished sql.NullTime
	if err := s.Scan(&run.ID, &run.State, &run.Total, &run.Progress, &run.OutputPath, &run.Error, &run.StartedAt, &finished); err != nil {
		return nil, err
	}
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return &run, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
