// Package report renders dispatch outcomes, ledger runs and rosters for the
// terminal.
package report

import "github.com/charmbracelet/lipgloss"

// Theme centralizes the report styling.
type Theme struct {
	StatusOK      lipgloss.Style
	StatusPartial lipgloss.Style
	StatusFailed  lipgloss.Style

	Border lipgloss.Style
	Title  lipgloss.Style
	Header lipgloss.Style
	Dim    lipgloss.Style
}

func NewDefaultTheme() Theme {
	purple := lipgloss.Color("#874BFD")

	return Theme{
		StatusOK:      lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		StatusPartial: lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		StatusFailed:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(purple).
			Padding(0, 1),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")),
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#61AFEF")),
		Dim: lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
	}
}

// Status colours a run status.
func (t Theme) Status(status string) string {
	switch status {
	case "succeeded":
		return t.StatusOK.Render(status)
	case "partial":
		return t.StatusPartial.Render(status)
	default:
		return t.StatusFailed.Render(status)
	}
}
