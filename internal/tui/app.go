// Package tui provides the terminal monitor for hive build sessions.
package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/mbranton/hive/internal/bus"
	"github.com/mbranton/hive/pkg/models"
)

// Tab constants for navigation.
const (
	TabAgents = iota
	TabTasks
	TabLogs
)

// BusEventMsg wraps one session event for the TUI.
type BusEventMsg struct {
	Event bus.Event
}

// LogEntry is one line in the logs tab.
type LogEntry struct {
	Timestamp time.Time
	Level     string
	Message   string
}

// agentRow is the TUI's view of one agent slot.
type agentRow struct {
	instanceID string
	role       models.Role
	status     models.AgentHandleStatus
	storyID    string
}

// taskRow is the TUI's view of one story.
type taskRow struct {
	id     string
	title  string
	status models.StoryStatus
}

// App is the main bubbletea model for the hive monitor.
type App struct {
	currentTab int

	agents     []*agentRow
	tasks      []*taskRow
	logs       []LogEntry
	totalTests int
	passed     int
	failed     int

	width    int
	height   int
	spin     spinner.Model
	quitting bool

	sessionDone    bool
	sessionSuccess bool
	summary        models.BuildSummary
	sessionError   string
}

// New creates a new App instance.
func New() *App {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styleSpinner
	return &App{
		currentTab: TabAgents,
		spin:       sp,
	}
}

// Init implements tea.Model.
func (a *App) Init() tea.Cmd {
	return a.spin.Tick
}

// Update implements tea.Model.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			a.quitting = true
			return a, tea.Quit
		case "tab":
			a.currentTab = (a.currentTab + 1) % 3
		case "1":
			a.currentTab = TabAgents
		case "2":
			a.currentTab = TabTasks
		case "3":
			a.currentTab = TabLogs
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spin, cmd = a.spin.Update(msg)
		return a, cmd

	case BusEventMsg:
		a.apply(msg.Event)
	}

	return a, nil
}

// apply folds one session event into the display state.
func (a *App) apply(e bus.Event) {
	switch ev := e.(type) {
	case bus.EpicCreated:
		a.log("INFO", "epic "+ev.EpicID+": "+ev.Title)

	case bus.TaskCreated:
		t := a.findOrCreateTask(ev.ID)
		t.title = ev.Title
		t.status = ev.Status

	case bus.TaskUpdated:
		t := a.findOrCreateTask(ev.ID)
		if ev.Title != "" {
			t.title = ev.Title
		}
		t.status = ev.Status

	case bus.StoryStarted:
		a.findOrCreateAgent(ev.AgentID).storyID = ev.StoryID
		a.log("INFO", ev.AgentID+" started "+ev.StoryID+": "+ev.StoryTitle)

	case bus.StoryTesting:
		a.findOrCreateAgent(ev.AgentID).storyID = ev.StoryID
		a.log("INFO", ev.AgentID+" testing "+ev.StoryID+": "+ev.StoryTitle)

	case bus.StoryCompleted:
		a.log("INFO", "completed "+ev.StoryID+": "+ev.StoryTitle)

	case bus.StoryFailed:
		a.log("ERROR", "failed "+ev.StoryID+": "+ev.Error)

	case bus.AgentStatus:
		row := a.findOrCreateAgent(ev.InstanceID)
		row.role = ev.Role
		row.status = ev.Status
		if ev.Status != models.AgentWorking {
			row.storyID = ""
		}

	case bus.FoundationComplete:
		a.log("INFO", "foundation complete, fanning out")

	case bus.TestResults:
		a.totalTests += ev.TotalTests
		a.passed += ev.PassedTests
		a.failed += ev.FailedTests

	case bus.CommandStart:
		a.log("DEBUG", "$ "+ev.Command)

	case bus.FileChanged:
		a.log("DEBUG", string(ev.Action)+" "+ev.Path)

	case bus.AgentText:
		if ev.Text != "" {
			a.log("DEBUG", ev.AgentID+": "+truncate(ev.Text, 120))
		}

	case bus.SecurityReport:
		a.log("INFO", "security audit complete")

	case bus.SessionComplete:
		a.sessionDone = true
		a.sessionSuccess = true
		a.summary = ev.Summary

	case bus.SessionError:
		a.sessionDone = true
		a.sessionSuccess = false
		a.sessionError = ev.Error
		a.log("ERROR", ev.Error)
	}
}

func (a *App) log(level, message string) {
	a.logs = append(a.logs, LogEntry{Timestamp: time.Now(), Level: level, Message: message})
	// Bound memory on long sessions.
	if len(a.logs) > 2000 {
		a.logs = a.logs[len(a.logs)-1000:]
	}
}

func (a *App) findOrCreateAgent(instanceID string) *agentRow {
	for _, row := range a.agents {
		if row.instanceID == instanceID {
			return row
		}
	}
	row := &agentRow{instanceID: instanceID, status: models.AgentIdle}
	a.agents = append(a.agents, row)
	return row
}

func (a *App) findOrCreateTask(id string) *taskRow {
	for _, t := range a.tasks {
		if t.id == id {
			return t
		}
	}
	t := &taskRow{id: id, status: models.StoryStatusBacklog}
	a.tasks = append(a.tasks, t)
	return t
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
