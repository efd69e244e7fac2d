// Package repo persists the bridge's correlation state across restarts: the
// identifier map, the profile mirror cache, and the pending action ledger.
// Each map is an explicit typed repository over one sqlite table, written
// through before the handler that mutated it returns.
package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const busyTimeout = 5 * time.Second

// Repo provides access to the bridge state database.
type Repo struct {
	db *sql.DB
}

// NotFoundError indicates a requested record does not exist.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.Key)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var target NotFoundError
	return errors.As(err, &target)
}

const schema = `
CREATE TABLE IF NOT EXISTS identifier_map (
	identifier TEXT PRIMARY KEY,
	handle     INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS identifier_map_handle ON identifier_map(handle);

CREATE TABLE IF NOT EXISTS published_profiles (
	name         TEXT PRIMARY KEY,
	published_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS profile_definitions (
	name        TEXT PRIMARY KEY,
	definition  TEXT NOT NULL,
	received_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS pending_actions (
	identifier TEXT PRIMARY KEY,
	sent_at    INTEGER NOT NULL
);
`

// Open initialises the state database at path, creating tables as needed.
func Open(path string) (*Repo, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("repo: open %s: %w", path, err)
	}
	// Single writer; the engine is single-threaded anyway.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), busyTimeout)
	defer cancel()

	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("repo: %s: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("repo: apply schema: %w", err)
	}

	return &Repo{db: db}, nil
}

func (r *Repo) Close() error { return r.db.Close() }

// Ping verifies the database is reachable, for readiness checks.
func (r *Repo) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

func nowMillis() int64 { return time.Now().UnixMilli() }
