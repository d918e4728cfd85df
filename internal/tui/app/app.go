// Package app is the pmwatch root model: one project's task list, kept
// current by a live task_list subscription.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/planboard/backend/internal/client"
	"github.com/planboard/backend/internal/tui/theme"
)

var columns = []string{"backlog", "todo", "in_progress", "done"}

var nextStatus = map[string]string{
	"backlog":     "todo",
	"todo":        "in_progress",
	"in_progress": "done",
}

type tasksLoadedMsg struct {
	tasks []client.Task
	err   error
}

type actionDoneMsg struct{ err error }

// Model is the root Bubble Tea model.
type Model struct {
	stream    *client.StreamClient
	http      *client.HTTPClient
	projectID string
	ctx       context.Context
	cancel    context.CancelFunc
	now       func() time.Time

	keys   KeyMap
	width  int
	height int

	tasks       []client.Task
	selectedIdx int

	// Connection state.
	conn          string
	reconnects    int
	lastHeartbeat time.Time
	lastData      time.Time
	lastErr       error
}

// New creates the root model.
func New(stream *client.StreamClient, http *client.HTTPClient, projectID string) Model {
	ctx, cancel := context.WithCancel(context.Background())
	return Model{
		stream:    stream,
		http:      http,
		projectID: projectID,
		ctx:       ctx,
		cancel:    cancel,
		now:       time.Now,
		keys:      DefaultKeyMap(),
		conn:      theme.ConnReconnecting,
	}
}

// Init starts the live subscription and fetches the current task list.
func (m Model) Init() tea.Cmd {
	go m.stream.Run(m.ctx)
	return tea.Batch(m.stream.Next(), m.loadTasks())
}

func (m Model) loadTasks() tea.Cmd {
	return func() tea.Msg {
		tasks, err := m.http.ListTasks(m.ctx, m.projectID)
		return tasksLoadedMsg{tasks: tasks, err: err}
	}
}

func (m Model) advance(t client.Task) tea.Cmd {
	next, ok := nextStatus[t.Status]
	if !ok {
		return nil
	}
	return func() tea.Msg {
		_, err := m.http.SetStatus(m.ctx, t.ID, next)
		return actionDoneMsg{err: err}
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tasksLoadedMsg:
		if msg.err != nil {
			m.lastErr = msg.err
			return m, nil
		}
		m.setTasks(msg.tasks)
		return m, nil

	case actionDoneMsg:
		m.lastErr = msg.err
		return m, nil

	case client.ConnectedMsg:
		m.conn = theme.ConnLive
		m.lastErr = nil
		// Nothing is replayed on subscribe; refetch to cover the gap.
		return m, tea.Batch(m.stream.Next(), m.loadTasks())

	case client.DisconnectedMsg:
		m.conn = theme.ConnReconnecting
		m.reconnects++
		m.lastErr = msg.Err
		return m, m.stream.Next()

	case client.DataMsg:
		var tasks []client.Task
		if err := json.Unmarshal(msg.Payload, &tasks); err != nil {
			m.lastErr = err
		} else {
			m.setTasks(tasks)
			m.lastData = m.now()
		}
		return m, m.stream.Next()

	case client.HeartbeatMsg:
		m.lastHeartbeat = msg.At
		return m, m.stream.Next()

	case client.StoppedMsg:
		m.conn = theme.ConnStopped
		if msg.Err != nil && m.ctx.Err() == nil {
			m.lastErr = msg.Err
		}
		return m, nil
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.cancel()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Down):
		if len(m.tasks) > 0 {
			m.selectedIdx = (m.selectedIdx + 1) % len(m.tasks)
		}
		return m, nil

	case key.Matches(msg, m.keys.Up):
		if len(m.tasks) > 0 {
			m.selectedIdx = (m.selectedIdx - 1 + len(m.tasks)) % len(m.tasks)
		}
		return m, nil

	case key.Matches(msg, m.keys.Advance):
		if t, ok := m.selected(); ok {
			return m, m.advance(t)
		}
		return m, nil

	case key.Matches(msg, m.keys.Refresh):
		return m, m.loadTasks()
	}

	return m, nil
}

// setTasks replaces the list, ordering it by column, and keeps the cursor
// on the same task when it still exists.
func (m *Model) setTasks(tasks []client.Task) {
	var selectedID string
	if t, ok := m.selected(); ok {
		selectedID = t.ID
	}

	ordered := make([]client.Task, 0, len(tasks))
	for _, col := range columns {
		for _, t := range tasks {
			if t.Status == col {
				ordered = append(ordered, t)
			}
		}
	}
	m.tasks = ordered

	m.selectedIdx = 0
	for i, t := range m.tasks {
		if t.ID == selectedID {
			m.selectedIdx = i
			break
		}
	}
}

func (m Model) selected() (client.Task, bool) {
	if m.selectedIdx < 0 || m.selectedIdx >= len(m.tasks) {
		return client.Task{}, false
	}
	return m.tasks[m.selectedIdx], true
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	sections := []string{
		m.renderStatusBar(),
		m.renderBoard(),
	}
	if m.lastErr != nil {
		sections = append(sections, theme.StyleError.Render("  "+m.lastErr.Error()))
	}
	sections = append(sections, theme.StyleDimmed.Render("  j/k:navigate  l:advance  r:refetch  q:quit"))

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderStatusBar() string {
	parts := []string{
		theme.StyleHeader.Render("planboard " + m.projectID),
		theme.ConnectionBadge(m.conn),
		fmt.Sprintf("%d tasks", len(m.tasks)),
	}
	if !m.lastHeartbeat.IsZero() {
		parts = append(parts, "heartbeat "+m.since(m.lastHeartbeat)+" ago")
	}
	if !m.lastData.IsZero() {
		parts = append(parts, "updated "+m.since(m.lastData)+" ago")
	}
	if m.reconnects > 0 {
		parts = append(parts, fmt.Sprintf("reconnects %d", m.reconnects))
	}
	return strings.Join(parts, "  ")
}

func (m Model) since(t time.Time) string {
	return m.now().Sub(t).Round(time.Second).String()
}

func (m Model) renderBoard() string {
	var lines []string
	i := 0
	for _, col := range columns {
		header := fmt.Sprintf("--- %s ", strings.ToUpper(strings.ReplaceAll(col, "_", " ")))
		lines = append(lines, lipgloss.NewStyle().Foreground(theme.StatusColor(col)).Render(header+strings.Repeat("-", max(0, 40-len(header)))))
		for ; i < len(m.tasks) && m.tasks[i].Status == col; i++ {
			lines = append(lines, m.renderTaskLine(i, m.tasks[i]))
		}
	}
	if len(m.tasks) == 0 {
		lines = append(lines, theme.StyleDimmed.Render("  No tasks"))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (m Model) renderTaskLine(i int, t client.Task) string {
	prefix := "  "
	title := truncate(t.Title, 40)
	if i == m.selectedIdx {
		prefix = "> "
		title = theme.StyleSelected.Render(title)
	}
	glyph := lipgloss.NewStyle().Foreground(theme.StatusColor(t.Status)).Render(theme.StatusGlyph(t.Status))
	line := prefix + glyph + " " + title
	if t.Assignee != "" {
		line += "  " + theme.StyleDimmed.Render("@"+t.Assignee)
	}
	return line
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
