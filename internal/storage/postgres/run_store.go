package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/disclosure-monitor/internal/store"
)

// RunStore implements store.RunRepository using Postgres.
type RunStore struct {
	pool pgxPool
}

// NewRunStore creates a RunStore over an existing pool.
func NewRunStore(pool pgxPool) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunStore{pool: pool}, nil
}

// StartRun inserts a running row for id.
func (s *RunStore) StartRun(ctx context.Context, id uuid.UUID, kind store.RunKind, startedAt time.Time) error {
	query := `
		INSERT INTO crawl_runs (id, kind, started_at, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING;
	`
	if _, err := s.pool.Exec(ctx, query, id, kind, startedAt, store.RunRunning); err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}
	return nil
}

// FinishRun marks a run finished with a status, summary and optional error message.
func (s *RunStore) FinishRun(
	ctx context.Context,
	id uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	summary []byte,
	errMsg *string,
) error {
	query := `
		UPDATE crawl_runs
		SET finished_at = $1, status = $2, summary = $3, error_message = $4
		WHERE id = $5;
	`
	if _, err := s.pool.Exec(ctx, query, finishedAt, status, summary, errMsg, id); err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

// GetRun retrieves a single run by its ID.
func (s *RunStore) GetRun(ctx context.Context, id uuid.UUID) (store.Run, error) {
	query := `
		SELECT id, kind, started_at, finished_at, status, summary, error_message
		FROM crawl_runs
		WHERE id = $1;
	`
	var run store.Run
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&run.ID,
		&run.Kind,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Status,
		&run.Summary,
		&run.ErrorMessage,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves runs newest first, with optional kind filtering.
func (s *RunStore) ListRuns(ctx context.Context, kind *store.RunKind, limit, offset int) ([]store.Run, error) {
	query := `
		SELECT id, kind, started_at, finished_at, status, summary, error_message
		FROM crawl_runs
		WHERE ($1::text IS NULL OR kind = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.pool.Query(ctx, query, kind, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []store.Run
	for rows.Next() {
		var run store.Run
		if err := rows.Scan(
			&run.ID,
			&run.Kind,
			&run.StartedAt,
			&run.FinishedAt,
			&run.Status,
			&run.Summary,
			&run.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}
