// Package feeds binds the live session machinery to the store: one
// live.Feed per entity family clients can watch.
package feeds

import (
	"context"

	"github.com/juju/errors"

	"github.com/planboard/backend/internal/change"
	"github.com/planboard/backend/internal/live"
	"github.com/planboard/backend/internal/store"
)

const (
	TaskList    = "task_list"
	Task        = "task"
	Comments    = "comments"
	TimeEntries = "time_entries"
)

// Reader is the slice of the store the feeds reload from.
type Reader interface {
	ListTasks(ctx context.Context, projectID string) ([]store.Task, error)
	GetTask(ctx context.Context, id string) (*store.Task, error)
	ListComments(ctx context.Context, taskID string) ([]store.Comment, error)
	ListTimeEntries(ctx context.Context, taskID string) ([]store.TimeEntry, error)
}

// All returns every feed served by planboard.
func All(r Reader) []live.Feed {
	return []live.Feed{
		{
			Name: TaskList,
			Kind: change.KindTaskList,
			Loader: live.LoaderFunc(func(ctx context.Context, f live.Filter) (any, error) {
				return r.ListTasks(ctx, f.ScopeID)
			}),
		},
		{
			Name:          Task,
			Kind:          change.KindTask,
			RequireEntity: true,
			Loader: live.LoaderFunc(func(ctx context.Context, f live.Filter) (any, error) {
				t, err := r.GetTask(ctx, f.EntityID)
				if err != nil {
					return nil, err
				}
				// A task moved or addressed under the wrong project is
				// invisible to this stream.
				if t.ProjectID != f.ScopeID {
					return nil, errors.NotFoundf("task %q in project %q", f.EntityID, f.ScopeID)
				}
				return t, nil
			}),
		},
		{
			Name: Comments,
			Kind: change.KindComment,
			Loader: live.LoaderFunc(func(ctx context.Context, f live.Filter) (any, error) {
				return r.ListComments(ctx, f.ScopeID)
			}),
		},
		{
			Name: TimeEntries,
			Kind: change.KindTimeTrack,
			Loader: live.LoaderFunc(func(ctx context.Context, f live.Filter) (any, error) {
				return r.ListTimeEntries(ctx, f.ScopeID)
			}),
		},
	}
}

// ProjectScoped reports whether a feed's scope id is a project id. The
// other feeds are scoped by task id.
func ProjectScoped(name string) bool {
	return name == TaskList || name == Task
}
