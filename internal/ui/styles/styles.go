package styles

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/HaPhanBaoMinh/kinsight/internal/advisor"
)

var (
	Title     = lipgloss.NewStyle().Bold(true)
	TabActive = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7DCE13"))
	Tab       = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	Header    = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA"))
	Footer    = lipgloss.NewStyle().Foreground(lipgloss.Color("#777777"))
	Box       = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	Danger    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F87"))
	Warn      = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFAF00"))
	Good      = lipgloss.NewStyle().Foreground(lipgloss.Color("#5FD7AF"))
	Faint     = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C6C6C"))
	Info      = lipgloss.NewStyle().Foreground(lipgloss.Color("#5FAFFF"))
)

func ForSeverity(s advisor.Severity) lipgloss.Style {
	switch s {
	case advisor.Critical:
		return Danger
	case advisor.Warning:
		return Warn
	default:
		return Info
	}
}

// ForPercent colours a usage percentage: above 90 danger, above 70 warn.
func ForPercent(pct float64) lipgloss.Style {
	switch {
	case pct > 90:
		return Danger
	case pct > 70:
		return Warn
	default:
		return Good
	}
}
