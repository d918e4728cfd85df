// Package mock drives a demo board: scripted actors create, move, comment
// on and log time against tasks, publishing every change the way the HTTP
// API does.
package mock

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/golang/glog"
	"github.com/juju/clock"
	"github.com/juju/errors"

	"github.com/planboard/backend/internal/change"
	"github.com/planboard/backend/internal/store"
)

// actor is one scripted board user. Each tick it acts with probability
// rate, following its pattern.
type actor struct {
	name    string
	pattern string
	rate    float64
}

var actors = []actor{
	{name: "pm-ana", pattern: "triage", rate: 0.5},
	{name: "dev-ben", pattern: "work", rate: 0.8},
	{name: "dev-cho", pattern: "work", rate: 0.6},
	{name: "qa-dee", pattern: "review", rate: 0.4},
	{name: "lead-eli", pattern: "cleanup", rate: 0.15},
}

var taskTitles = []string{
	"Fix login redirect", "Add CSV export", "Migrate billing cron", "Refresh onboarding copy",
	"Profile slow dashboard query", "Rotate API keys", "Dark mode for settings", "Flaky upload test",
	"Audit webhook retries", "Draft Q3 roadmap",
}

var commentBodies = []string{
	"Looks good to me.", "Can we split this up?", "Blocked on design review.",
	"Repro steps added.", "Shipped to staging.", "Needs a test.",
}

var nextStatus = map[store.TaskStatus]store.TaskStatus{
	store.StatusBacklog:    store.StatusTodo,
	store.StatusTodo:       store.StatusInProgress,
	store.StatusInProgress: store.StatusDone,
}

type Config struct {
	Interval time.Duration
	Projects int
	Clock    clock.Clock
	Seed     int64
}

type MockGenerator struct {
	store     *store.Store
	publisher change.Publisher
	cfg       Config
	rng       *rand.Rand
	projects  []string
}

func NewGenerator(st *store.Store, publisher change.Publisher, cfg Config) *MockGenerator {
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Projects <= 0 {
		cfg.Projects = 1
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	return &MockGenerator{
		store:     st,
		publisher: publisher,
		cfg:       cfg,
		rng:       rand.New(rand.NewSource(cfg.Seed)),
	}
}

// Projects returns the ids of the projects seeded by Start.
func (g *MockGenerator) Projects() []string {
	return append([]string(nil), g.projects...)
}

// Start seeds the demo projects synchronously and then mutates them every
// interval until ctx is done.
func (g *MockGenerator) Start(ctx context.Context) error {
	for i := 0; i < g.cfg.Projects; i++ {
		p, err := g.store.CreateProject(ctx, fmt.Sprintf("Demo project %d", i+1))
		if err != nil {
			return errors.Annotate(err, "seeding mock projects")
		}
		g.projects = append(g.projects, p.ID)
		for j := 0; j < 3; j++ {
			if err := g.createTask(ctx, p.ID); err != nil {
				return errors.Annotate(err, "seeding mock tasks")
			}
		}
		glog.Infof("mock: seeded project %s (%s)", p.Name, p.ID)
	}

	go g.run(ctx)
	return nil
}

func (g *MockGenerator) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-g.cfg.Clock.After(g.cfg.Interval):
			g.Tick(ctx)
		}
	}
}

// Tick lets every actor take at most one action.
func (g *MockGenerator) Tick(ctx context.Context) {
	for _, a := range actors {
		if g.rng.Float64() >= a.rate {
			continue
		}
		projectID := g.projects[g.rng.Intn(len(g.projects))]
		if err := g.act(ctx, a, projectID); err != nil && ctx.Err() == nil {
			glog.Warningf("mock: %s (%s) failed: %v", a.name, a.pattern, err)
		}
	}
}

func (g *MockGenerator) act(ctx context.Context, a actor, projectID string) error {
	if a.pattern == "triage" {
		return g.createTask(ctx, projectID)
	}

	tasks, err := g.store.ListTasks(ctx, projectID)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		return g.createTask(ctx, projectID)
	}
	task := tasks[g.rng.Intn(len(tasks))]

	switch a.pattern {
	case "work":
		if next, ok := nextStatus[task.Status]; ok {
			return g.advance(ctx, task, next, a.name)
		}
		return g.logTime(ctx, task, a.name)
	case "review":
		return g.comment(ctx, task, a.name)
	case "cleanup":
		if task.Status == store.StatusDone {
			return g.remove(ctx, task)
		}
	}
	return nil
}

func (g *MockGenerator) publishTask(t *store.Task) {
	for _, ev := range change.TaskEvents(t.ProjectID, t.ID) {
		g.publisher.Publish(ev)
	}
}

func (g *MockGenerator) createTask(ctx context.Context, projectID string) error {
	t, err := g.store.CreateTask(ctx, store.NewTask{
		ProjectID: projectID,
		Title:     taskTitles[g.rng.Intn(len(taskTitles))],
	})
	if err != nil {
		return err
	}
	g.publishTask(t)
	return nil
}

func (g *MockGenerator) advance(ctx context.Context, task store.Task, status store.TaskStatus, who string) error {
	t, err := g.store.UpdateTask(ctx, task.ID, store.TaskPatch{Status: &status, Assignee: &who})
	if err != nil {
		return err
	}
	g.publishTask(t)
	return nil
}

func (g *MockGenerator) logTime(ctx context.Context, task store.Task, who string) error {
	e, err := g.store.AddTimeEntry(ctx, store.NewTimeEntry{
		TaskID:   task.ID,
		User:     who,
		Duration: time.Duration(15+g.rng.Intn(105)) * time.Minute,
	})
	if err != nil {
		return err
	}
	g.publisher.Publish(change.Event{Kind: change.KindTimeTrack, EntityID: e.ID, ScopeID: e.TaskID})
	return nil
}

func (g *MockGenerator) comment(ctx context.Context, task store.Task, who string) error {
	c, err := g.store.AddComment(ctx, task.ID, who, commentBodies[g.rng.Intn(len(commentBodies))])
	if err != nil {
		return err
	}
	g.publisher.Publish(change.Event{Kind: change.KindComment, EntityID: c.ID, ScopeID: c.TaskID})
	return nil
}

func (g *MockGenerator) remove(ctx context.Context, task store.Task) error {
	t, err := g.store.DeleteTask(ctx, task.ID)
	if err != nil {
		return err
	}
	g.publishTask(t)
	return nil
}
