package watch

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/busdispatch/internal/dispatch"
	"github.com/mattjoyce/busdispatch/internal/events"
)

const (
	statusPending   = "pending"
	statusRunning   = "running"
	statusReported  = "reported"
	statusFailed    = "failed"
	statusSucceeded = dispatch.StatusSucceeded
	statusPartial   = dispatch.StatusPartial
)

// maxRuns bounds how many runs the board remembers.
const maxRuns = 20

// UnitState is the watch view of one bus.
type UnitState struct {
	ID        int
	Assigned  int
	Headcount int
	Status    string
	Error     string
}

// RunState is the watch view of one dispatch.
type RunState struct {
	ID          string
	Day         string
	Requested   int
	Dispatched  int
	Status      string
	Units       []*UnitState
	StartedAt   time.Time
	CompletedAt time.Time
}

// unit returns the state for unit id, growing the slice when events arrive
// before dispatch.started was seen.
func (r *RunState) unit(id int) *UnitState {
	for len(r.Units) < id {
		r.Units = append(r.Units, &UnitState{ID: len(r.Units) + 1, Status: statusPending})
	}
	return r.Units[id-1]
}

// dispatchEvent is the union of the dispatch.* and unit.* payloads.
type dispatchEvent struct {
	RunID           string             `json:"run_id"`
	Day             string             `json:"day"`
	Partition       []int              `json:"partition"`
	UnitID          int                `json:"unit_id"`
	Assigned        int                `json:"assigned"`
	Headcount       int                `json:"headcount"`
	Error           string             `json:"error"`
	Requested       int                `json:"requested"`
	TotalDispatched int                `json:"total_dispatched"`
	Failures        []dispatch.Failure `json:"failures"`
}

// Board tracks recent runs, newest first.
type Board struct {
	runs  map[string]*RunState
	order []string
}

func NewBoard() *Board {
	return &Board{runs: make(map[string]*RunState)}
}

// Runs returns the tracked runs, newest first.
func (b *Board) Runs() []*RunState {
	out := make([]*RunState, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.runs[id])
	}
	return out
}

func (b *Board) Get(runID string) *RunState {
	return b.runs[runID]
}

// Apply folds one hub event into the board. Events without a run id are
// ignored.
func (b *Board) Apply(e events.Event) {
	var d dispatchEvent
	if err := json.Unmarshal(e.Data, &d); err != nil || d.RunID == "" {
		return
	}
	run := b.track(d.RunID, e.At)

	switch e.Type {
	case "dispatch.started":
		run.Day = d.Day
		run.Status = statusRunning
		run.StartedAt = e.At
		run.Requested = 0
		for i, size := range d.Partition {
			u := run.unit(i + 1)
			u.Assigned = size
			run.Requested += size
		}
	case "unit.spawned":
		u := run.unit(d.UnitID)
		u.Assigned = d.Assigned
		u.Status = statusRunning
	case "unit.reported":
		u := run.unit(d.UnitID)
		u.Headcount = d.Headcount
		u.Status = statusReported
	case "unit.failed":
		u := run.unit(d.UnitID)
		u.Status = statusFailed
		u.Error = d.Error
	case "dispatch.completed":
		if d.Day != "" {
			run.Day = d.Day
		}
		run.Requested = d.Requested
		run.Dispatched = d.TotalDispatched
		run.CompletedAt = e.At
		run.Status = statusSucceeded
		if len(d.Failures) > 0 {
			run.Status = statusPartial
		}
	}
}

func (b *Board) track(runID string, at time.Time) *RunState {
	if run, ok := b.runs[runID]; ok {
		return run
	}
	run := &RunState{ID: runID, Status: statusPending, StartedAt: at}
	b.runs[runID] = run
	b.order = append([]string{runID}, b.order...)
	if len(b.order) > maxRuns {
		for _, id := range b.order[maxRuns:] {
			delete(b.runs, id)
		}
		b.order = b.order[:maxRuns]
	}
	return run
}

func newUnitTable() table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Unit", Width: 5},
			{Title: "Assigned", Width: 9},
			{Title: "Headcount", Width: 10},
			{Title: "Status", Width: 9},
			{Title: "Error", Width: 40},
		}),
		table.WithHeight(6),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.Foreground(lipgloss.NoColor{}).Bold(false)
	t.SetStyles(s)
	return t
}

func unitRows(run *RunState) []table.Row {
	if run == nil {
		return nil
	}
	rows := make([]table.Row, 0, len(run.Units))
	for _, u := range run.Units {
		headcount := "-"
		if u.Status == statusReported {
			headcount = strconv.Itoa(u.Headcount)
		}
		rows = append(rows, table.Row{
			strconv.Itoa(u.ID),
			strconv.Itoa(u.Assigned),
			headcount,
			u.Status,
			u.Error,
		})
	}
	return rows
}

func renderRuns(runs []*RunState, selected int, units table.Model, theme Theme, width int) string {
	innerWidth := width - 4

	if len(runs) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("RUNS"),
			theme.Dim.Render("  No dispatches yet"),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	lines := []string{theme.Title.Render("RUNS")}
	for i, r := range runs {
		marker := "  "
		id := r.ID
		if len(id) > 8 {
			id = id[:8]
		}
		line := fmt.Sprintf("%s %-10s %s %3d/%-3d %s",
			id, r.Day,
			theme.Status(r.Status).Render(fmt.Sprintf("%-9s", r.Status)),
			r.Dispatched, r.Requested,
			theme.Dim.Render(r.StartedAt.Local().Format("15:04:05")))
		if i == selected {
			marker = theme.Highlight.Render("▶ ")
			line = theme.Selected.Render(line)
		}
		lines = append(lines, marker+line)
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		strings.Join(lines, "\n"),
		"",
		units.View(),
	)
	return theme.Border.Width(innerWidth).Render(content)
}
