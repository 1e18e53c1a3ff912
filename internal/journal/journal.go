// Package journal is an external StateObserver/ErrorObserver implementation
// for corestore: an append-only, content-addressed SQLite log of every
// dispatch's before/after state and every action error. It demonstrates the
// observer hooks corestore exposes without corestore itself depending on a
// persistence backend, adapted from the teacher's internal/store package
// (schema.sql, WAL pragmas, single-writer connection pool).
package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Journal is a durable, append-only dispatch log.
type Journal struct {
	db *sql.DB
}

// Open creates or opens a SQLite-backed Journal at path. Pragmas mirror the
// teacher store's: WAL for concurrent reads, a single writer connection to
// avoid SQLITE_BUSY, a busy timeout, and foreign keys on.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: ping database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("journal: apply pragma %q: %w", p, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: apply schema: %w", err)
	}

	return &Journal{db: db}, nil
}

// Close closes the underlying database connection.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

// DB returns the underlying *sql.DB, for callers that need direct queries
// (e.g. internal/cli's trace and replay commands).
func (j *Journal) DB() *sql.DB { return j.db }

func (j *Journal) writeDispatch(ctx context.Context, id, actionType, before, after string, dispatchCount int64, recordedAt string) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO dispatches (id, dispatch_id, action_type, state_before, state_after, dispatch_count, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, id, actionType, before, after, dispatchCount, recordedAt)
	if err != nil {
		return fmt.Errorf("journal: write dispatch: %w", err)
	}
	return nil
}

func (j *Journal) writeError(ctx context.Context, id, actionType, message, stack string, dispatchCount int64, recordedAt string) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO action_errors (id, action_type, message, stack, dispatch_count, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, actionType, message, stack, dispatchCount, recordedAt)
	if err != nil {
		return fmt.Errorf("journal: write error: %w", err)
	}
	return nil
}
