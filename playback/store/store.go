// Package store persists playback history so recorded runs can be listed,
// inspected and replayed.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested run does not exist.
var ErrNotFound = errors.New("not found")

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store is closed")

// Run statuses written by the playback Recorder.
const (
	StatusRunning   = "running"
	StatusPaused    = "paused"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Record is one persisted step of a run.
type Record[T any] struct {
	RunID      string
	Seq        int
	Final      bool
	Payload    T
	RecordedAt time.Time
}

// RunRecord summarises one run.
type RunRecord struct {
	// ID is the run identifier (RunHandle.ID).
	ID string

	// Status is one of the Status* constants.
	Status string

	// Steps is the number of steps the run emitted.
	Steps int

	// Error holds the failure message of a failed run.
	Error string

	StartedAt time.Time

	// FinishedAt is zero while the run is live.
	FinishedAt time.Time
}

// Finished reports whether the run reached a final status.
func (r RunRecord) Finished() bool {
	return !r.FinishedAt.IsZero()
}

// Store persists run history.
//
// Implementations:
//   - MemStore: in-process maps, for tests and short-lived tools
//   - SQLiteStore: single-file database (modernc.org/sqlite, WAL mode)
//   - MySQLStore: shared database for several playback hosts
//
// Payloads of SQL-backed stores must be JSON-serializable.
type Store[T any] interface {
	// SaveStep persists one step. Saving the same (RunID, Seq) twice
	// replaces the earlier record.
	SaveStep(ctx context.Context, rec Record[T]) error

	// LoadSteps returns the steps of a run ordered by Seq. It returns
	// ErrNotFound when neither the run nor any of its steps exist.
	LoadSteps(ctx context.Context, runID string) ([]Record[T], error)

	// SaveRun inserts or replaces a run summary.
	SaveRun(ctx context.Context, run RunRecord) error

	// LoadRun returns a run summary or ErrNotFound.
	LoadRun(ctx context.Context, runID string) (RunRecord, error)

	// ListRuns returns every run summary ordered by StartedAt, oldest first.
	ListRuns(ctx context.Context) ([]RunRecord, error)

	// DeleteRun removes a run and its steps. It returns ErrNotFound when
	// there was nothing to delete.
	DeleteRun(ctx context.Context, runID string) error

	// Close releases the store's resources.
	Close() error
}
