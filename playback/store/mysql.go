package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

var mysqlDialect = dialect{
	name: "mysql",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS playback_runs (
			id VARCHAR(64) NOT NULL PRIMARY KEY,
			status VARCHAR(32) NOT NULL,
			steps INT NOT NULL DEFAULT 0,
			error_message TEXT NOT NULL,
			started_at BIGINT NOT NULL DEFAULT 0,
			finished_at BIGINT NOT NULL DEFAULT 0,
			INDEX idx_started (started_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS playback_steps (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			run_id VARCHAR(64) NOT NULL,
			seq INT NOT NULL,
			is_final BOOLEAN NOT NULL DEFAULT FALSE,
			payload JSON NOT NULL,
			recorded_at BIGINT NOT NULL DEFAULT 0,
			UNIQUE KEY unique_run_seq (run_id, seq)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	},
	upsertRun: `
		INSERT INTO playback_runs (id, status, steps, error_message, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			status = VALUES(status),
			steps = VALUES(steps),
			error_message = VALUES(error_message),
			started_at = VALUES(started_at),
			finished_at = VALUES(finished_at)
	`,
	upsertStp: `
		INSERT INTO playback_steps (run_id, seq, is_final, payload, recorded_at)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			is_final = VALUES(is_final),
			payload = VALUES(payload),
			recorded_at = VALUES(recorded_at)
	`,
}

// MySQLStore is a MySQL/MariaDB implementation of Store[T].
//
// Use it when several playback hosts share one run history.
//
// Security Warning:
//
//	NEVER hardcode credentials. Read the DSN from the environment:
//	    st, err := store.NewMySQLStore[Frame](os.Getenv("MYSQL_DSN"))
type MySQLStore[T any] struct {
	*sqlStore[T]
}

// NewMySQLStore connects using dsn, for example
// "user:password@tcp(localhost:3306)/playback", and creates the schema.
func NewMySQLStore[T any](dsn string) (*MySQLStore[T], error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	s := &MySQLStore[T]{sqlStore: &sqlStore[T]{db: db, dialect: mysqlDialect}}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}
