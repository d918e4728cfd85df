package app

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/juju/errors"

	"github.com/planboard/backend/internal/client"
	"github.com/planboard/backend/internal/tui/theme"
)

func newTestModel() Model {
	stream := client.NewStreamClient("ws://127.0.0.1:1", "", client.Subscription{Feed: "task_list", Scope: "p1"}, client.StreamConfig{})
	m := New(stream, client.NewHTTPClient("http://127.0.0.1:1", ""), "p1")
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	return updated.(Model)
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	updated, _ := m.Update(msg)
	return updated.(Model)
}

func dataMsg(t *testing.T, tasks ...client.Task) client.DataMsg {
	t.Helper()
	raw, err := json.Marshal(tasks)
	if err != nil {
		t.Fatal(err)
	}
	return client.DataMsg{CursorKey: "p1", Payload: raw}
}

func TestSetTasksOrdersByColumn(t *testing.T) {
	m := newTestModel()
	m = update(t, m, dataMsg(t,
		client.Task{ID: "a", Title: "ship", Status: "done"},
		client.Task{ID: "b", Title: "plan", Status: "backlog"},
		client.Task{ID: "c", Title: "build", Status: "in_progress"},
		client.Task{ID: "d", Title: "design", Status: "todo"},
	))

	var got []string
	for _, task := range m.tasks {
		got = append(got, task.ID)
	}
	if strings.Join(got, ",") != "b,d,c,a" {
		t.Errorf("order = %v, want b,d,c,a", got)
	}
	if m.lastData.IsZero() {
		t.Error("lastData not recorded")
	}
}

func TestSelectionFollowsTaskAcrossReloads(t *testing.T) {
	m := newTestModel()
	m = update(t, m, dataMsg(t,
		client.Task{ID: "a", Status: "backlog"},
		client.Task{ID: "b", Status: "todo"},
	))
	m = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("j")})
	if sel, _ := m.selected(); sel.ID != "b" {
		t.Fatalf("selected %q, want b", sel.ID)
	}

	// b moves ahead of a new task; the cursor should stay on b.
	m = update(t, m, dataMsg(t,
		client.Task{ID: "n", Status: "backlog"},
		client.Task{ID: "a", Status: "backlog"},
		client.Task{ID: "b", Status: "in_progress"},
	))
	if sel, _ := m.selected(); sel.ID != "b" {
		t.Errorf("selected %q after reload, want b", sel.ID)
	}

	// Deleted selection falls back to the top.
	m = update(t, m, dataMsg(t, client.Task{ID: "a", Status: "backlog"}))
	if m.selectedIdx != 0 {
		t.Errorf("selectedIdx = %d, want 0", m.selectedIdx)
	}
}

func TestNavigationWraps(t *testing.T) {
	m := newTestModel()
	m = update(t, m, dataMsg(t,
		client.Task{ID: "a", Status: "todo"},
		client.Task{ID: "b", Status: "todo"},
	))
	m = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("k")})
	if m.selectedIdx != 1 {
		t.Errorf("selectedIdx = %d, want 1", m.selectedIdx)
	}
	m = update(t, m, tea.KeyMsg{Type: tea.KeyDown})
	if m.selectedIdx != 0 {
		t.Errorf("selectedIdx = %d, want 0", m.selectedIdx)
	}
}

func TestConnectionState(t *testing.T) {
	m := newTestModel()
	if m.conn != theme.ConnReconnecting {
		t.Fatalf("initial conn = %q", m.conn)
	}

	m = update(t, m, client.ConnectedMsg{})
	if m.conn != theme.ConnLive {
		t.Errorf("conn = %q after connect", m.conn)
	}

	m = update(t, m, client.DisconnectedMsg{Err: errors.New("boom"), RetryIn: time.Second})
	if m.conn != theme.ConnReconnecting || m.reconnects != 1 {
		t.Errorf("conn = %q reconnects = %d", m.conn, m.reconnects)
	}

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m = update(t, m, client.HeartbeatMsg{At: at})
	if !m.lastHeartbeat.Equal(at) {
		t.Errorf("lastHeartbeat = %v", m.lastHeartbeat)
	}

	m = update(t, m, client.StoppedMsg{Err: errors.Forbiddenf("project %q", "p1")})
	if m.conn != theme.ConnStopped {
		t.Errorf("conn = %q after stop", m.conn)
	}
	if !errors.Is(m.lastErr, errors.Forbidden) {
		t.Errorf("lastErr = %v", m.lastErr)
	}
}

func TestBadPayloadKeepsTasks(t *testing.T) {
	m := newTestModel()
	m = update(t, m, dataMsg(t, client.Task{ID: "a", Status: "todo"}))
	m = update(t, m, client.DataMsg{Payload: json.RawMessage(`{"not":"a list"}`)})
	if len(m.tasks) != 1 {
		t.Errorf("tasks = %d, want 1", len(m.tasks))
	}
	if m.lastErr == nil {
		t.Error("expected decode error")
	}
}

func TestAdvanceSkipsDoneTasks(t *testing.T) {
	m := newTestModel()
	if cmd := m.advance(client.Task{ID: "a", Status: "done"}); cmd != nil {
		t.Error("done task should not advance")
	}
	if cmd := m.advance(client.Task{ID: "a", Status: "todo"}); cmd == nil {
		t.Error("todo task should advance")
	}
}

func TestView(t *testing.T) {
	m := newTestModel()
	m.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 10, 0, time.UTC) }
	m = update(t, m, client.ConnectedMsg{})
	m = update(t, m, client.HeartbeatMsg{At: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)})
	m = update(t, m, dataMsg(t,
		client.Task{ID: "a", Title: "Write release notes", Status: "in_progress", Assignee: "dev-ben"},
	))

	view := m.View()
	for _, want := range []string{"planboard p1", "live", "1 tasks", "heartbeat 5s ago", "IN PROGRESS", "Write release notes", "@dev-ben"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestViewBeforeResize(t *testing.T) {
	stream := client.NewStreamClient("ws://127.0.0.1:1", "", client.Subscription{Feed: "task_list", Scope: "p1"}, client.StreamConfig{})
	m := New(stream, client.NewHTTPClient("http://127.0.0.1:1", ""), "p1")
	if m.View() != "Initializing..." {
		t.Errorf("view = %q", m.View())
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("a very long task title", 10); got != "a very ..." {
		t.Errorf("truncate = %q", got)
	}
}
