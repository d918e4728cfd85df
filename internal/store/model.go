package store

import (
	"time"

	"github.com/juju/errors"
)

type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Archived  bool      `json:"archived"`
	CreatedAt time.Time `json:"createdAt"`
}

type TaskStatus string

const (
	StatusBacklog    TaskStatus = "backlog"
	StatusTodo       TaskStatus = "todo"
	StatusInProgress TaskStatus = "in_progress"
	StatusDone       TaskStatus = "done"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case StatusBacklog, StatusTodo, StatusInProgress, StatusDone:
		return true
	}
	return false
}

type Task struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"projectId"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      TaskStatus `json:"status"`
	Assignee    string     `json:"assignee,omitempty"`
	Position    int        `json:"position"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// NewTask holds the fields accepted when creating a task.
type NewTask struct {
	ProjectID   string     `json:"-"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      TaskStatus `json:"status"`
	Assignee    string     `json:"assignee"`
}

func (n NewTask) validate() error {
	if n.Title == "" {
		return errors.NotValidf("empty task title")
	}
	if n.Status != "" && !n.Status.Valid() {
		return errors.NotValidf("task status %q", n.Status)
	}
	return nil
}

// TaskPatch is a partial update; nil fields are left unchanged.
type TaskPatch struct {
	Title       *string     `json:"title,omitempty"`
	Description *string     `json:"description,omitempty"`
	Status      *TaskStatus `json:"status,omitempty"`
	Assignee    *string     `json:"assignee,omitempty"`
	Position    *int        `json:"position,omitempty"`
}

func (p TaskPatch) apply(t *Task) error {
	if p.Title != nil {
		if *p.Title == "" {
			return errors.NotValidf("empty task title")
		}
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Status != nil {
		if !p.Status.Valid() {
			return errors.NotValidf("task status %q", *p.Status)
		}
		t.Status = *p.Status
	}
	if p.Assignee != nil {
		t.Assignee = *p.Assignee
	}
	if p.Position != nil {
		t.Position = *p.Position
	}
	return nil
}

type Comment struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"taskId"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// TimeEntry is a tracked span of work against a task.
type TimeEntry struct {
	ID        string        `json:"id"`
	TaskID    string        `json:"taskId"`
	User      string        `json:"user"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	Note      string        `json:"note,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
}

type NewTimeEntry struct {
	TaskID    string        `json:"-"`
	User      string        `json:"user"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	Note      string        `json:"note"`
}

func (n NewTimeEntry) validate() error {
	if n.User == "" {
		return errors.NotValidf("empty time entry user")
	}
	if n.Duration <= 0 {
		return errors.NotValidf("time entry duration %v", n.Duration)
	}
	return nil
}
