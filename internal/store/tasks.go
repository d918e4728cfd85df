package store

import (
	"context"
	"database/sql"

	"github.com/juju/errors"
)

const taskColumns = `id, project_id, title, description, status, assignee, position, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(r rowScanner) (*Task, error) {
	var t Task
	err := r.Scan(&t.ID, &t.ProjectID, &t.Title, &t.Description, &t.Status,
		&t.Assignee, &t.Position, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func getTask(ctx context.Context, q queryer, id string) (*Task, error) {
	t, err := scanTask(q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundf("task %q", id)
	}
	if err != nil {
		return nil, errors.Trace(err)
	}
	return t, nil
}

// CreateTask appends a task to the end of its project's list.
func (s *Store) CreateTask(ctx context.Context, n NewTask) (*Task, error) {
	if err := n.validate(); err != nil {
		return nil, err
	}
	if n.Status == "" {
		n.Status = StatusBacklog
	}

	now := s.now()
	t := &Task{
		ID:          newID(),
		ProjectID:   n.ProjectID,
		Title:       n.Title,
		Description: n.Description,
		Status:      n.Status,
		Assignee:    n.Assignee,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := projectAccess(ctx, tx, n.ProjectID); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(position) + 1, 0) FROM tasks WHERE project_id = ?`, n.ProjectID,
		).Scan(&t.Position); err != nil {
			return errors.Trace(err)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.ProjectID, t.Title, t.Description, t.Status, t.Assignee, t.Position, t.CreatedAt, t.UpdatedAt)
		return errors.Trace(err)
	})
	if err != nil {
		return nil, errors.Annotatef(err, "creating task in project %q", n.ProjectID)
	}
	return t, nil
}

func (s *Store) UpdateTask(ctx context.Context, id string, patch TaskPatch) (*Task, error) {
	var updated *Task
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		t, err := getTask(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := projectAccess(ctx, tx, t.ProjectID); err != nil {
			return err
		}
		if err := patch.apply(t); err != nil {
			return err
		}
		t.UpdatedAt = s.now()
		_, err = tx.ExecContext(ctx,
			`UPDATE tasks SET title = ?, description = ?, status = ?, assignee = ?, position = ?, updated_at = ? WHERE id = ?`,
			t.Title, t.Description, t.Status, t.Assignee, t.Position, t.UpdatedAt, t.ID)
		if err != nil {
			return errors.Trace(err)
		}
		updated = t
		return nil
	})
	if err != nil {
		return nil, errors.Annotatef(err, "updating task %q", id)
	}
	return updated, nil
}

// DeleteTask removes a task with its comments and time entries, returning
// the row as it was.
func (s *Store) DeleteTask(ctx context.Context, id string) (*Task, error) {
	var deleted *Task
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		t, err := getTask(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := projectAccess(ctx, tx, t.ProjectID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
			return errors.Trace(err)
		}
		deleted = t
		return nil
	})
	if err != nil {
		return nil, errors.Annotatef(err, "deleting task %q", id)
	}
	return deleted, nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	t, err := getTask(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if err := projectAccess(ctx, s.db, t.ProjectID); err != nil {
		return nil, err
	}
	return t, nil
}

// ListTasks returns a project's tasks in board order.
func (s *Store) ListTasks(ctx context.Context, projectID string) ([]Task, error) {
	if err := projectAccess(ctx, s.db, projectID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE project_id = ? ORDER BY position, created_at`, projectID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer rows.Close()

	tasks := []Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, errors.Trace(err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, errors.Trace(rows.Err())
}
