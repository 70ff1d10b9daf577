package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/busdispatch/internal/events"
)

// Model is the BubbleTea model for the watch TUI.
type Model struct {
	apiURL string
	apiKey string

	width  int
	height int

	health   HealthState
	board    *Board
	eventLog []events.Event
	lastID   int64

	spin     spinner.Model
	activity Activity
	units    table.Model

	theme    Theme
	selected int

	hubEvents chan events.Event

	lastError string
}

// New creates a watch model for the API at apiURL.
func New(apiURL, apiKey string) Model {
	return Model{
		apiURL:    apiURL,
		apiKey:    apiKey,
		board:     NewBoard(),
		hubEvents: make(chan events.Event, 100),
		spin:      spinner.New(spinner.WithSpinner(spinner.MiniDot)),
		units:     newUnitTable(),
		theme:     NewDefaultTheme(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.apiURL, m.apiKey, 0, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		func() tea.Msg { return fetchHealth(m.apiURL) },
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		m.spin.Tick,
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "up", "k":
			if m.selected > 0 {
				m.selected--
			}
		case "down", "j":
			if m.selected < len(m.board.Runs())-1 {
				m.selected++
			}
		}
		m.refreshUnits()

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.units.SetWidth(max(0, m.width-8))

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case tickMsg:
		m.activity.Decay(time.Time(msg))
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		e := events.Event(msg)
		if e.ID > m.lastID {
			m.lastID = e.ID
		}

		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > 50 {
			m.eventLog = m.eventLog[:50]
		}
		m.activity.OnEvent(e.At)
		m.board.Apply(e)
		m.refreshUnits()

		m.health.Connected = true
		m.lastError = ""
		return m, receiveNextEvent(m.hubEvents)

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.OpenChannels = msg.OpenChannels
		m.health.Connected = true
		m.health.LastCheck = time.Now()
		m.lastError = ""
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg {
			return fetchHealth(m.apiURL)
		})

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		// The pending receiveNextEvent keeps reading the same channel, so the
		// new subscription only needs to be started.
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		return m, subscribeToEvents(m.apiURL, m.apiKey, m.lastID, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg {
			return fetchHealth(m.apiURL)
		})
	}

	return m, nil
}

// refreshUnits points the unit table at the selected run.
func (m *Model) refreshUnits() {
	runs := m.board.Runs()
	if m.selected >= len(runs) {
		m.selected = max(0, len(runs)-1)
	}
	var run *RunState
	if len(runs) > 0 {
		run = runs[m.selected]
	}
	m.units.SetRows(unitRows(run))
}

// Selected returns the run under the cursor, or nil.
func (m Model) Selected() *RunState {
	runs := m.board.Runs()
	if len(runs) == 0 {
		return nil
	}
	return runs[m.selected]
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to busdispatch..."
	}

	header := renderHeader(m.health, m.spin.View(), m.activity, m.theme, m.width, time.Now())
	runs := renderRuns(m.board.Runs(), m.selected, m.units, m.theme, m.width)
	eventStream := renderEventStream(m.eventLog, m.theme, m.width)

	parts := []string{header, runs, eventStream}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(fmt.Sprintf(" ⚠ %s", m.lastError)))
	}
	parts = append(parts, m.theme.Dim.Render(" [q] Quit • [↑/↓] Select run"))

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}
