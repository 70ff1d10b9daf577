package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/busdispatch/internal/events"
)

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, e := range eventLog {
		if i >= 10 {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	eventsText := lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT STREAM"),
		eventsText,
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Local().Format("15:04:05"))

	var typeStyle lipgloss.Style
	switch e.Type {
	case "dispatch.completed", "unit.reported":
		typeStyle = theme.StatusOK
	case "unit.failed":
		typeStyle = theme.StatusFailed
	case "dispatch.started", "unit.spawned":
		typeStyle = theme.StatusRunning
	default:
		typeStyle = theme.Dim
	}

	typeName := typeStyle.Render(fmt.Sprintf("%-18s", e.Type))
	return fmt.Sprintf("%s %s %s", ts, typeName, describeEvent(e))
}

// describeEvent summarizes an event payload in one short line.
func describeEvent(e events.Event) string {
	var d dispatchEvent
	if err := json.Unmarshal(e.Data, &d); err != nil || d.RunID == "" {
		raw := string(e.Data)
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}

	runID := d.RunID
	if len(runID) > 8 {
		runID = runID[:8]
	}
	parts := []string{fmt.Sprintf("[%s]", runID)}

	switch e.Type {
	case "dispatch.started":
		parts = append(parts, d.Day, fmt.Sprintf("partition=%v", d.Partition))
	case "unit.spawned":
		parts = append(parts, fmt.Sprintf("unit %d assigned=%d", d.UnitID, d.Assigned))
	case "unit.reported":
		parts = append(parts, fmt.Sprintf("unit %d headcount=%d", d.UnitID, d.Headcount))
	case "unit.failed":
		parts = append(parts, fmt.Sprintf("unit %d", d.UnitID), d.Error)
	case "dispatch.completed":
		parts = append(parts, d.Day, fmt.Sprintf("%d/%d dispatched", d.TotalDispatched, d.Requested))
		if n := len(d.Failures); n > 0 {
			parts = append(parts, fmt.Sprintf("%d failed", n))
		}
	}
	return strings.Join(parts, " ")
}
