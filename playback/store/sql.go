package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// dialect holds the statements that differ between SQL backends.
type dialect struct {
	name      string
	schema    []string
	upsertRun string
	upsertStp string
}

// sqlStore implements Store[T] over database/sql. SQLiteStore and MySQLStore
// embed it with their own dialect.
type sqlStore[T any] struct {
	db      *sql.DB
	dialect dialect

	mu     sync.RWMutex
	closed bool
}

func (s *sqlStore[T]) createTables(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create %s schema: %w", s.dialect.name, err)
		}
	}
	return nil
}

func (s *sqlStore[T]) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// SaveStep persists one step with its payload encoded as JSON.
func (s *sqlStore[T]) SaveStep(ctx context.Context, rec Record[T]) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.dialect.upsertStp,
		rec.RunID, rec.Seq, rec.Final, string(payload), toNanos(rec.RecordedAt))
	if err != nil {
		return fmt.Errorf("failed to save step: %w", err)
	}
	return nil
}

// LoadSteps returns the steps of a run ordered by seq.
func (s *sqlStore[T]) LoadSteps(ctx context.Context, runID string) ([]Record[T], error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, is_final, payload, recorded_at
		FROM playback_steps
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Record[T]
	for rows.Next() {
		var (
			rec        Record[T]
			payload    string
			recordedAt int64
		)
		if err := rows.Scan(&rec.Seq, &rec.Final, &payload, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &rec.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload of seq %d: %w", rec.Seq, err)
		}
		rec.RunID = runID
		rec.RecordedAt = fromNanos(recordedAt)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate steps: %w", err)
	}

	if len(out) == 0 {
		if _, err := s.LoadRun(ctx, runID); err != nil {
			return nil, err
		}
		return []Record[T]{}, nil
	}
	return out, nil
}

// SaveRun inserts or replaces a run summary.
func (s *sqlStore[T]) SaveRun(ctx context.Context, run RunRecord) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, s.dialect.upsertRun,
		run.ID, run.Status, run.Steps, run.Error, toNanos(run.StartedAt), toNanos(run.FinishedAt))
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// LoadRun returns a run summary or ErrNotFound.
func (s *sqlStore[T]) LoadRun(ctx context.Context, runID string) (RunRecord, error) {
	if err := s.checkOpen(); err != nil {
		return RunRecord{}, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, status, steps, error_message, started_at, finished_at
		FROM playback_runs
		WHERE id = ?
	`, runID)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, ErrNotFound
	}
	if err != nil {
		return RunRecord{}, fmt.Errorf("failed to load run: %w", err)
	}
	return run, nil
}

// ListRuns returns every run ordered by start time.
func (s *sqlStore[T]) ListRuns(ctx context.Context) ([]RunRecord, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, status, steps, error_message, started_at, finished_at
		FROM playback_runs
		ORDER BY started_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []RunRecord{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return out, nil
}

// DeleteRun removes a run and its steps in one transaction.
func (s *sqlStore[T]) DeleteRun(ctx context.Context, runID string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stepsRes, err := tx.ExecContext(ctx, "DELETE FROM playback_steps WHERE run_id = ?", runID)
	if err != nil {
		return fmt.Errorf("failed to delete steps: %w", err)
	}
	runRes, err := tx.ExecContext(ctx, "DELETE FROM playback_runs WHERE id = ?", runID)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	stepsN, _ := stepsRes.RowsAffected()
	runN, _ := runRes.RowsAffected()
	if stepsN == 0 && runN == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	return nil
}

// Ping verifies the database connection.
func (s *sqlStore[T]) Ping(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

// Close closes the database connection. It is safe to call more than once.
func (s *sqlStore[T]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (RunRecord, error) {
	var (
		run               RunRecord
		started, finished int64
	)
	if err := row.Scan(&run.ID, &run.Status, &run.Steps, &run.Error, &started, &finished); err != nil {
		return RunRecord{}, err
	}
	run.StartedAt = fromNanos(started)
	run.FinishedAt = fromNanos(finished)
	return run, nil
}

// Timestamps are stored as Unix nanoseconds; zero means unset.
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
