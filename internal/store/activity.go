package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/juju/errors"
)

func (s *Store) AddComment(ctx context.Context, taskID, author, body string) (*Comment, error) {
	if author == "" || body == "" {
		return nil, errors.NotValidf("comment without author or body")
	}
	c := &Comment{ID: newID(), TaskID: taskID, Author: author, Body: body, CreatedAt: s.now()}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := taskProject(ctx, tx, taskID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO comments (id, task_id, author, body, created_at) VALUES (?, ?, ?, ?, ?)`,
			c.ID, c.TaskID, c.Author, c.Body, c.CreatedAt)
		return errors.Trace(err)
	})
	if err != nil {
		return nil, errors.Annotatef(err, "adding comment to task %q", taskID)
	}
	return c, nil
}

func (s *Store) DeleteComment(ctx context.Context, id string) (*Comment, error) {
	var c Comment
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`SELECT id, task_id, author, body, created_at FROM comments WHERE id = ?`, id,
		).Scan(&c.ID, &c.TaskID, &c.Author, &c.Body, &c.CreatedAt)
		if err == sql.ErrNoRows {
			return errors.NotFoundf("comment %q", id)
		}
		if err != nil {
			return errors.Trace(err)
		}
		if _, err := taskProject(ctx, tx, c.TaskID); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM comments WHERE id = ?`, id)
		return errors.Trace(err)
	})
	if err != nil {
		return nil, errors.Annotatef(err, "deleting comment %q", id)
	}
	return &c, nil
}

// ListComments returns a task's comments, oldest first.
func (s *Store) ListComments(ctx context.Context, taskID string) ([]Comment, error) {
	if _, err := taskProject(ctx, s.db, taskID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, author, body, created_at FROM comments WHERE task_id = ? ORDER BY created_at, id`, taskID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer rows.Close()

	comments := []Comment{}
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.ID, &c.TaskID, &c.Author, &c.Body, &c.CreatedAt); err != nil {
			return nil, errors.Trace(err)
		}
		comments = append(comments, c)
	}
	return comments, errors.Trace(rows.Err())
}

func (s *Store) AddTimeEntry(ctx context.Context, n NewTimeEntry) (*TimeEntry, error) {
	if err := n.validate(); err != nil {
		return nil, err
	}
	now := s.now()
	if n.StartedAt.IsZero() {
		n.StartedAt = now.Add(-n.Duration)
	}
	e := &TimeEntry{
		ID:        newID(),
		TaskID:    n.TaskID,
		User:      n.User,
		StartedAt: n.StartedAt.UTC(),
		Duration:  n.Duration,
		Note:      n.Note,
		CreatedAt: now,
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := taskProject(ctx, tx, n.TaskID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO time_entries (id, task_id, user, started_at, duration_ns, note, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.TaskID, e.User, e.StartedAt, int64(e.Duration), e.Note, e.CreatedAt)
		return errors.Trace(err)
	})
	if err != nil {
		return nil, errors.Annotatef(err, "tracking time on task %q", n.TaskID)
	}
	return e, nil
}

func scanTimeEntry(r rowScanner) (*TimeEntry, error) {
	var (
		e  TimeEntry
		ns int64
	)
	if err := r.Scan(&e.ID, &e.TaskID, &e.User, &e.StartedAt, &ns, &e.Note, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Duration = time.Duration(ns)
	return &e, nil
}

const timeEntryColumns = `id, task_id, user, started_at, duration_ns, note, created_at`

func (s *Store) DeleteTimeEntry(ctx context.Context, id string) (*TimeEntry, error) {
	var deleted *TimeEntry
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		e, err := scanTimeEntry(tx.QueryRowContext(ctx, `SELECT `+timeEntryColumns+` FROM time_entries WHERE id = ?`, id))
		if err == sql.ErrNoRows {
			return errors.NotFoundf("time entry %q", id)
		}
		if err != nil {
			return errors.Trace(err)
		}
		if _, err := taskProject(ctx, tx, e.TaskID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM time_entries WHERE id = ?`, id); err != nil {
			return errors.Trace(err)
		}
		deleted = e
		return nil
	})
	if err != nil {
		return nil, errors.Annotatef(err, "deleting time entry %q", id)
	}
	return deleted, nil
}

// ListTimeEntries returns a task's time entries in start order.
func (s *Store) ListTimeEntries(ctx context.Context, taskID string) ([]TimeEntry, error) {
	if _, err := taskProject(ctx, s.db, taskID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+timeEntryColumns+` FROM time_entries WHERE task_id = ? ORDER BY started_at, id`, taskID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer rows.Close()

	entries := []TimeEntry{}
	for rows.Next() {
		e, err := scanTimeEntry(rows)
		if err != nil {
			return nil, errors.Trace(err)
		}
		entries = append(entries, *e)
	}
	return entries, errors.Trace(rows.Err())
}

// CommentTask returns the id of the task a comment belongs to.
func (s *Store) CommentTask(ctx context.Context, id string) (string, error) {
	return ownerTask(ctx, s.db, `SELECT task_id FROM comments WHERE id = ?`, "comment", id)
}

// TimeEntryTask returns the id of the task a time entry belongs to.
func (s *Store) TimeEntryTask(ctx context.Context, id string) (string, error) {
	return ownerTask(ctx, s.db, `SELECT task_id FROM time_entries WHERE id = ?`, "time entry", id)
}

func ownerTask(ctx context.Context, q queryer, query, what, id string) (string, error) {
	var taskID string
	err := q.QueryRowContext(ctx, query, id).Scan(&taskID)
	if err == sql.ErrNoRows {
		return "", errors.NotFoundf("%s %q", what, id)
	}
	return taskID, errors.Trace(err)
}
