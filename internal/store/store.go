// Package store is the relational system of record for projects, tasks,
// comments and time entries, backed by SQLite.
//
// Reads that serve live feeds report errors.NotFound for rows that do not
// exist and errors.Forbidden for rows whose project has been archived.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"
)

const schema = `
CREATE TABLE IF NOT EXISTS projects (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	archived   INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS tasks (
	id          TEXT PRIMARY KEY,
	project_id  TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	title       TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	assignee    TEXT NOT NULL DEFAULT '',
	position    INTEGER NOT NULL DEFAULT 0,
	created_at  TIMESTAMP NOT NULL,
	updated_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS tasks_project ON tasks(project_id, position);
CREATE TABLE IF NOT EXISTS comments (
	id         TEXT PRIMARY KEY,
	task_id    TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	author     TEXT NOT NULL,
	body       TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS comments_task ON comments(task_id, created_at);
CREATE TABLE IF NOT EXISTS time_entries (
	id          TEXT PRIMARY KEY,
	task_id     TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	user        TEXT NOT NULL,
	started_at  TIMESTAMP NOT NULL,
	duration_ns INTEGER NOT NULL,
	note        TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS time_entries_task ON time_entries(task_id, started_at);
`

type Store struct {
	db    *sql.DB
	clock clock.Clock
}

// Open opens (creating if needed) the SQLite database at path and applies
// the schema.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Annotatef(err, "opening %s", path)
	}
	// One connection serialises writers; SQLite would otherwise answer
	// concurrent writes with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Annotate(err, "applying schema")
	}
	return &Store{db: db, clock: clock.WallClock}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) now() time.Time {
	return s.clock.Now().UTC()
}

func newID() string {
	return ulid.Make().String()
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Trace(err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return errors.Trace(tx.Commit())
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// projectAccess checks that the project exists and is not archived.
func projectAccess(ctx context.Context, q queryer, projectID string) error {
	var archived bool
	err := q.QueryRowContext(ctx, `SELECT archived FROM projects WHERE id = ?`, projectID).Scan(&archived)
	if err == sql.ErrNoRows {
		return errors.NotFoundf("project %q", projectID)
	}
	if err != nil {
		return errors.Trace(err)
	}
	if archived {
		return errors.Forbiddenf("project %q is archived", projectID)
	}
	return nil
}

// taskProject resolves the project owning taskID and checks access to it.
func taskProject(ctx context.Context, q queryer, taskID string) (string, error) {
	var projectID string
	err := q.QueryRowContext(ctx, `SELECT project_id FROM tasks WHERE id = ?`, taskID).Scan(&projectID)
	if err == sql.ErrNoRows {
		return "", errors.NotFoundf("task %q", taskID)
	}
	if err != nil {
		return "", errors.Trace(err)
	}
	return projectID, projectAccess(ctx, q, projectID)
}

// TaskProject returns the id of the project that owns taskID.
func (s *Store) TaskProject(ctx context.Context, taskID string) (string, error) {
	return taskProject(ctx, s.db, taskID)
}

// ProjectAccess reports errors.NotFound for unknown projects and
// errors.Forbidden for archived ones.
func (s *Store) ProjectAccess(ctx context.Context, projectID string) error {
	return projectAccess(ctx, s.db, projectID)
}
