package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

var sqliteDialect = dialect{
	name: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS playback_runs (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			steps INTEGER NOT NULL DEFAULT 0,
			error_message TEXT NOT NULL DEFAULT '',
			started_at INTEGER NOT NULL DEFAULT 0,
			finished_at INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS playback_steps (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			is_final INTEGER NOT NULL DEFAULT 0,
			payload TEXT NOT NULL,
			recorded_at INTEGER NOT NULL DEFAULT 0,
			UNIQUE(run_id, seq)
		)`,
		"CREATE INDEX IF NOT EXISTS idx_playback_steps_run ON playback_steps(run_id, seq)",
		"CREATE INDEX IF NOT EXISTS idx_playback_runs_started ON playback_runs(started_at)",
	},
	upsertRun: `
		INSERT INTO playback_runs (id, status, steps, error_message, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			steps = excluded.steps,
			error_message = excluded.error_message,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at
	`,
	upsertStp: `
		INSERT INTO playback_steps (run_id, seq, is_final, payload, recorded_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id, seq) DO UPDATE SET
			is_final = excluded.is_final,
			payload = excluded.payload,
			recorded_at = excluded.recorded_at
	`,
}

// SQLiteStore is a SQLite implementation of Store[T].
//
// It keeps run history in a single file and needs no setup, which suits
// local tools and demos that want to replay earlier runs. The database runs
// in WAL mode so readers do not block the recorder.
//
// Example:
//
//	st, err := store.NewSQLiteStore[Frame]("./runs.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
type SQLiteStore[T any] struct {
	*sqlStore[T]
	path string
}

// NewSQLiteStore opens (creating if needed) the database at path. Use
// ":memory:" for a throwaway database.
func NewSQLiteStore[T any](path string) (*SQLiteStore[T], error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite supports one writer at a time
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore[T]{
		sqlStore: &sqlStore[T]{db: db, dialect: sqliteDialect},
		path:     path,
	}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database location given to NewSQLiteStore.
func (s *SQLiteStore[T]) Path() string {
	return s.path
}
