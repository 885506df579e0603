package style

import "github.com/charmbracelet/lipgloss"

// Shared text styles for table headers, separators, and status columns
// across `ls`, `status`, and `ralph list` output.
var (
	Bold = lipgloss.NewStyle().Bold(true)
	Dim  = lipgloss.NewStyle().Faint(true)

	StatusRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))  // green
	StatusStopped = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))  // gray
	StatusFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))  // red
	StatusDone    = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))  // blue
	StatusPaused  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))  // yellow
)

// ForStatus maps a worker/ralph status string to its display style,
// falling back to no styling for values it doesn't recognize.
func ForStatus(status string) lipgloss.Style {
	switch status {
	case "running":
		return StatusRunning
	case "stopped":
		return StatusStopped
	case "failed":
		return StatusFailed
	case "done":
		return StatusDone
	case "paused":
		return StatusPaused
	default:
		return lipgloss.NewStyle()
	}
}
