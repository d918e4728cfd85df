// Package theme provides the Lip Gloss color palette and reusable styles
// for the pmwatch TUI. It is a leaf package with no internal imports
// to avoid import cycles.
package theme

import "github.com/charmbracelet/lipgloss"

// Task status colors.
var (
	ColorBacklog    = lipgloss.Color("#6b7280")
	ColorTodo       = lipgloss.Color("#3b82f6")
	ColorInProgress = lipgloss.Color("#d97706")
	ColorDone       = lipgloss.Color("#16a34a")
	ColorDefault    = lipgloss.Color("#9ca3af")
)

// UI chrome colors.
var (
	ColorBorder  = lipgloss.Color("#4b5563")
	ColorDimmed  = lipgloss.Color("#6b7280")
	ColorBright  = lipgloss.Color("#f9fafb")
	ColorHealthy = lipgloss.Color("#22c55e")
	ColorWarning = lipgloss.Color("#d97706")
	ColorDanger  = lipgloss.Color("#dc2626")
)

// StatusColor returns the Lip Gloss color for a task status.
func StatusColor(status string) lipgloss.Color {
	switch status {
	case "backlog":
		return ColorBacklog
	case "todo":
		return ColorTodo
	case "in_progress":
		return ColorInProgress
	case "done":
		return ColorDone
	default:
		return ColorDefault
	}
}

// StatusGlyph returns a Unicode glyph representing a task status.
func StatusGlyph(status string) string {
	switch status {
	case "backlog":
		return "○"
	case "todo":
		return "◎"
	case "in_progress":
		return "●>"
	case "done":
		return "✓"
	default:
		return "·"
	}
}

// Connection states shown in the status bar.
const (
	ConnLive         = "live"
	ConnReconnecting = "reconnecting"
	ConnStopped      = "stopped"
)

// ConnectionBadge renders the connection indicator.
func ConnectionBadge(state string) string {
	color := ColorDanger
	switch state {
	case ConnLive:
		color = ColorHealthy
	case ConnReconnecting:
		color = ColorWarning
	}
	return lipgloss.NewStyle().Foreground(color).Bold(true).Render("● " + state)
}

// Reusable styles.
var (
	StyleBorder = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(ColorBorder)

	StyleHeader = lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorBright)

	StyleDimmed = lipgloss.NewStyle().
		Foreground(ColorDimmed)

	StyleSelected = lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorBright)

	StyleError = lipgloss.NewStyle().
		Foreground(ColorDanger)
)
