package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("run record not found")

// RunKind names the operation a run performed.
type RunKind string

// Run kinds persisted in crawl_runs.kind.
const (
	KindCrawl  RunKind = "crawl"
	KindDaily  RunKind = "daily"
	KindRescan RunKind = "rescan"
)

// RunStatus mirrors the crawl_runs status column.
type RunStatus string

// Run statuses persisted in crawl_runs.status.
const (
	RunRunning  RunStatus = "running"
	RunSuccess  RunStatus = "success"
	RunBlocked  RunStatus = "blocked"
	RunCanceled RunStatus = "canceled"
	RunError    RunStatus = "error"
)

// Run models the crawl_runs table for API responses.
type Run struct {
	ID         uuid.UUID  `json:"id"`
	Kind       RunKind    `json:"kind"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     RunStatus  `json:"status"`
	// Summary is the operation's JSON-encoded stats, if any.
	Summary      json.RawMessage `json:"summary,omitempty"`
	ErrorMessage *string          `json:"error_message,omitempty"`
}

// RunRepository persists run history.
type RunRepository interface {
	// StartRun inserts a running row.
	StartRun(ctx context.Context, id uuid.UUID, kind RunKind, startedAt time.Time) error
	// FinishRun marks the run finished with status, summary and error.
	FinishRun(ctx context.Context, id uuid.UUID, finishedAt time.Time, status RunStatus, summary []byte, errMsg *string) error
	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, id uuid.UUID) (Run, error)
	// ListRuns returns runs newest first, filtered by optional kind.
	ListRuns(ctx context.Context, kind *RunKind, limit, offset int) ([]Run, error)
}
