package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mbranton/hive/internal/bus"
	"github.com/mbranton/hive/pkg/models"
)

func send(a *App, e bus.Event) *App {
	m, _ := a.Update(BusEventMsg{Event: e})
	return m.(*App)
}

func TestAppTracksTaskLifecycle(t *testing.T) {
	a := New()

	a = send(a, bus.TaskCreated{Stamp: bus.Now(), ID: "s1", Title: "Scaffold", Status: models.StoryStatusPending})
	a = send(a, bus.TaskUpdated{Stamp: bus.Now(), ID: "s1", Title: "Scaffold", Status: models.StoryStatusInProgress})
	a = send(a, bus.TaskUpdated{Stamp: bus.Now(), ID: "s1", Title: "Scaffold", Status: models.StoryStatusCompleted})

	if len(a.tasks) != 1 {
		t.Fatalf("tasks = %d, want 1", len(a.tasks))
	}
	if a.tasks[0].status != models.StoryStatusCompleted {
		t.Errorf("status = %q, want completed", a.tasks[0].status)
	}

	a.currentTab = TabTasks
	view := a.View()
	if !strings.Contains(view, "Scaffold") {
		t.Errorf("tasks view missing story title:\n%s", view)
	}
}

func TestAppTracksAgentSlots(t *testing.T) {
	a := New()

	a = send(a, bus.AgentStatus{Stamp: bus.Now(), Role: models.RoleCoder, InstanceID: "coder-1", Status: models.AgentWorking})
	a = send(a, bus.StoryStarted{Stamp: bus.Now(), StoryID: "s1", StoryTitle: "Scaffold", AgentID: "coder-1"})

	if len(a.agents) != 1 {
		t.Fatalf("agents = %d, want 1", len(a.agents))
	}
	if a.agents[0].storyID != "s1" {
		t.Errorf("storyID = %q, want s1", a.agents[0].storyID)
	}

	a = send(a, bus.AgentStatus{Stamp: bus.Now(), Role: models.RoleCoder, InstanceID: "coder-1", Status: models.AgentCompleted})
	if a.agents[0].storyID != "" {
		t.Errorf("story binding survived slot release")
	}
}

func TestAppSessionSummaryInFooter(t *testing.T) {
	a := New()
	a = send(a, bus.SessionComplete{Stamp: bus.Now(), ProjectID: "p", Summary: models.BuildSummary{Completed: 3, Failed: 1, Skipped: 2}})

	view := a.View()
	if !strings.Contains(view, "3 completed, 1 failed, 2 skipped") {
		t.Errorf("footer missing summary:\n%s", view)
	}
}

func TestAppAccumulatesTestResults(t *testing.T) {
	a := New()
	a = send(a, bus.TestResults{Stamp: bus.Now(), StoryID: "s1", TotalTests: 5, PassedTests: 4, FailedTests: 1})
	a = send(a, bus.TestResults{Stamp: bus.Now(), StoryID: "s2", TotalTests: 3, PassedTests: 3})

	if a.totalTests != 8 || a.passed != 7 || a.failed != 1 {
		t.Errorf("test counters = %d/%d/%d, want 8/7/1", a.totalTests, a.passed, a.failed)
	}
}

func TestAppTabNavigation(t *testing.T) {
	a := New()
	m, _ := a.Update(tea.KeyMsg{Type: tea.KeyTab})
	a = m.(*App)
	if a.currentTab != TabTasks {
		t.Errorf("tab = %d, want tasks", a.currentTab)
	}
	m, _ = a.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'3'}})
	a = m.(*App)
	if a.currentTab != TabLogs {
		t.Errorf("tab = %d, want logs", a.currentTab)
	}
}
