package report

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/busdispatch/internal/dispatch"
	"github.com/mattjoyce/busdispatch/internal/ledger"
	"github.com/mattjoyce/busdispatch/internal/roster"
)

type unitRow struct {
	id        int
	assigned  int
	headcount *int
	failure   string
}

// Outcome renders one dispatch result. err is the error returned alongside
// the outcome, if any.
func Outcome(t Theme, out *dispatch.Outcome, err error) string {
	rows := make([]unitRow, 0, len(out.PerUnit)+len(out.Failures))
	for _, r := range out.PerUnit {
		headcount := r.Headcount
		rows = append(rows, unitRow{id: r.UnitID, assigned: r.Assigned, headcount: &headcount})
	}
	for _, f := range out.Failures {
		rows = append(rows, unitRow{id: f.UnitID, assigned: f.Assigned, failure: f.Reason})
	}

	lines := []string{
		t.Title.Render("Dispatch " + out.RunID),
		summaryLine(t, out.Day, out.Requested, out.TotalDispatched, out.Status()),
		"",
	}
	lines = append(lines, unitLines(t, rows)...)
	if err != nil {
		lines = append(lines, "", t.StatusFailed.Render("error: ")+err.Error())
	}
	if !out.CompletedAt.IsZero() {
		lines = append(lines, t.Dim.Render("took "+out.CompletedAt.Sub(out.StartedAt).Round(time.Millisecond).String()))
	}
	return t.Border.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// Run renders one ledger entry with its units.
func Run(t Theme, run *ledger.Run) string {
	rows := make([]unitRow, 0, len(run.Units))
	for _, u := range run.Units {
		row := unitRow{id: u.UnitID, assigned: u.Assigned, headcount: u.Headcount}
		if u.Failure != nil {
			row.failure = *u.Failure
		}
		rows = append(rows, row)
	}

	lines := []string{
		t.Title.Render("Run " + run.ID),
		summaryLine(t, run.Day, run.Requested, run.TotalDispatched, string(run.Status)),
		t.Dim.Render("started " + run.StartedAt.Format(time.RFC3339)),
	}
	if len(rows) > 0 {
		lines = append(lines, "")
		lines = append(lines, unitLines(t, rows)...)
	}
	if run.LastError != nil {
		lines = append(lines, "", t.StatusFailed.Render("error: ")+*run.LastError)
	}
	return t.Border.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// Runs renders a ledger listing, one run per line.
func Runs(t Theme, runs []*ledger.Run) string {
	if len(runs) == 0 {
		return t.Dim.Render("no runs recorded")
	}
	lines := []string{
		t.Header.Render(fmt.Sprintf("%-36s  %-10s  %-9s  %9s  %10s  %s",
			"RUN", "DAY", "STATUS", "REQUESTED", "DISPATCHED", "STARTED")),
	}
	for _, r := range runs {
		status := fmt.Sprintf("%-9s", r.Status)
		lines = append(lines, fmt.Sprintf("%-36s  %-10s  %s  %9d  %10d  %s",
			r.ID, r.Day, t.Status(status), r.Requested, r.TotalDispatched,
			r.StartedAt.Format(time.RFC3339)))
	}
	return strings.Join(lines, "\n")
}

// Roster renders the workers eligible on a day in dispatch order.
func Roster(t Theme, day string, workers []roster.EligibleWorker) string {
	lines := []string{t.Title.Render(fmt.Sprintf("%s: %d eligible", day, len(workers)))}
	for i, w := range workers {
		lines = append(lines, fmt.Sprintf("%3d. %s %s", i+1, w.Name, t.Dim.Render(roster.FormatDays(w.Days))))
	}
	return strings.Join(lines, "\n")
}

func summaryLine(t Theme, day string, requested, dispatched int, status string) string {
	return fmt.Sprintf("Day: %s  Requested: %d  Dispatched: %d  Status: %s",
		day, requested, dispatched, t.Status(status))
}

func unitLines(t Theme, rows []unitRow) []string {
	slices.SortFunc(rows, func(a, b unitRow) int { return a.id - b.id })
	lines := []string{t.Header.Render(fmt.Sprintf("%-6s  %8s  %8s", "BUS", "ASSIGNED", "CARRIED"))}
	for _, r := range rows {
		carried := "-"
		if r.headcount != nil {
			carried = fmt.Sprintf("%d", *r.headcount)
		}
		line := fmt.Sprintf("%-6d  %8d  %8s", r.id, r.assigned, carried)
		if r.failure != "" {
			line += "  " + t.StatusFailed.Render("failed: "+r.failure)
		}
		lines = append(lines, line)
	}
	return lines
}
