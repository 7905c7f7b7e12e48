package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS surveys (
	id          TEXT PRIMARY KEY,
	title       TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	jobs        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS locations_of_interest (
	id        TEXT PRIMARY KEY,
	survey_id TEXT NOT NULL,
	job_id    TEXT NOT NULL,
	name      TEXT NOT NULL DEFAULT '',
	latitude  REAL NOT NULL DEFAULT 0,
	longitude REAL NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_loi_survey ON locations_of_interest(survey_id);

CREATE TABLE IF NOT EXISTS submissions (
	id                 TEXT PRIMARY KEY,
	survey_id          TEXT NOT NULL,
	loi_id             TEXT NOT NULL,
	job_id             TEXT NOT NULL,
	task_id            TEXT NOT NULL,
	responses          TEXT NOT NULL DEFAULT '[]',
	state              TEXT NOT NULL DEFAULT 'DEFAULT',
	created_by         TEXT NOT NULL,
	created_at         INTEGER NOT NULL,
	created_server_at  INTEGER NOT NULL DEFAULT 0,
	modified_by        TEXT NOT NULL,
	modified_at        INTEGER NOT NULL,
	modified_server_at INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_submissions_loi_task ON submissions(loi_id, task_id);

CREATE TABLE IF NOT EXISTS submission_mutations (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	submission_id    TEXT NOT NULL,
	task_id          TEXT NOT NULL,
	type             TEXT NOT NULL,
	sync_status      TEXT NOT NULL,
	survey_id        TEXT NOT NULL,
	loi_id           TEXT NOT NULL,
	job_id           TEXT NOT NULL,
	response_deltas  TEXT NOT NULL DEFAULT '[]',
	client_timestamp INTEGER NOT NULL,
	user_id          TEXT NOT NULL,
	retry_count      INTEGER NOT NULL DEFAULT 0,
	last_error       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_mutations_loi_status ON submission_mutations(loi_id, sync_status);
CREATE INDEX IF NOT EXISTS idx_mutations_submission ON submission_mutations(submission_id);

CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	name          TEXT NOT NULL,
	role          TEXT NOT NULL,
	created_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_requests (
	loi_id          TEXT PRIMARY KEY,
	request_id      TEXT NOT NULL,
	enqueued_at     INTEGER NOT NULL,
	attempts        INTEGER NOT NULL DEFAULT 0,
	next_attempt_at INTEGER NOT NULL,
	last_error      TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS photo_requests (
	path            TEXT PRIMARY KEY,
	request_id      TEXT NOT NULL,
	enqueued_at     INTEGER NOT NULL,
	attempts        INTEGER NOT NULL DEFAULT 0,
	next_attempt_at INTEGER NOT NULL,
	last_error      TEXT NOT NULL DEFAULT ''
);
`

// OpenLocal opens (creating if needed) the node's SQLite database at path and
// applies the schema. All access goes through a single connection, which
// serializes writers; every multi-statement write runs in one transaction.
func OpenLocal(ctx context.Context, path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("local db: create directory: %w", err)
		}
	}
	params := url.Values{}
	params.Add("_pragma", "busy_timeout(10000)")
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "synchronous(NORMAL)")
	params.Add("_pragma", "foreign_keys(1)")
	params.Set("_txlock", "immediate")
	return open(ctx, fmt.Sprintf("file:%s?%s", path, params.Encode()))
}

// OpenMemory opens a private in-memory database with the schema applied.
// name must be unique per database.
func OpenMemory(ctx context.Context, name string) (*sql.DB, error) {
	return open(ctx, fmt.Sprintf("file:%s?mode=memory&cache=shared&_txlock=immediate", name))
}

func open(ctx context.Context, dsn string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("local db: open: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("local db: ping: %w", err)
	}
	if _, err := conn.ExecContext(ctx, schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("local db: apply schema: %w", err)
	}
	return conn, nil
}
