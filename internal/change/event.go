package change

// Kind identifies the entity family a change belongs to. Listeners register
// per kind, so an event of one kind never reaches listeners of another.
type Kind string

const (
	KindTask      Kind = "task"
	KindTaskList  Kind = "task_list"
	KindComment   Kind = "comment"
	KindTimeTrack Kind = "time_track"
)

var kinds = []Kind{KindTask, KindTaskList, KindComment, KindTimeTrack}

// Kinds returns every known kind in a stable order.
func Kinds() []Kind {
	out := make([]Kind, len(kinds))
	copy(out, kinds)
	return out
}

func (k Kind) Valid() bool {
	for _, known := range kinds {
		if k == known {
			return true
		}
	}
	return false
}

func (k Kind) String() string { return string(k) }

// Event signals that an entity inside a scope changed. It carries no
// payload: listeners re-read whatever state they need.
type Event struct {
	Kind     Kind
	EntityID string
	ScopeID  string
}

// Publisher is the write side of the bus handed to mutation handlers.
type Publisher interface {
	Publish(Event)
}

// TaskEvents returns what a task mutation announces: the task itself to
// single-task listeners and its project's list to list listeners.
func TaskEvents(projectID, taskID string) []Event {
	return []Event{
		{Kind: KindTask, EntityID: taskID, ScopeID: projectID},
		{Kind: KindTaskList, EntityID: taskID, ScopeID: projectID},
	}
}
