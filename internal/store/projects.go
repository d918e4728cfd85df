package store

import (
	"context"
	"database/sql"

	"github.com/juju/errors"
)

func (s *Store) CreateProject(ctx context.Context, name string) (*Project, error) {
	if name == "" {
		return nil, errors.NotValidf("empty project name")
	}
	p := &Project{ID: newID(), Name: name, CreatedAt: s.now()}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, name, archived, created_at) VALUES (?, ?, 0, ?)`,
		p.ID, p.Name, p.CreatedAt)
	if err != nil {
		return nil, errors.Annotatef(err, "creating project %q", name)
	}
	return p, nil
}

func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	var p Project
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, archived, created_at FROM projects WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.Archived, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundf("project %q", id)
	}
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &p, nil
}

func (s *Store) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, archived, created_at FROM projects ORDER BY created_at, id`)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer rows.Close()

	projects := []Project{}
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Archived, &p.CreatedAt); err != nil {
			return nil, errors.Trace(err)
		}
		projects = append(projects, p)
	}
	return projects, errors.Trace(rows.Err())
}

// SetArchived archives or restores a project. Archived projects stay
// readable through GetProject but their tasks, comments and time entries
// become Forbidden.
func (s *Store) SetArchived(ctx context.Context, id string, archived bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE projects SET archived = ? WHERE id = ?`, archived, id)
	if err != nil {
		return errors.Trace(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFoundf("project %q", id)
	}
	return nil
}
