package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mbranton/hive/pkg/models"
)

var (
	styleTabActive = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("63")).
			Padding(0, 1)

	styleTab = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")).
			Padding(0, 1)

	styleSpinner = lipgloss.NewStyle().
			Foreground(lipgloss.Color("63"))

	styleWorking = lipgloss.NewStyle().
			Foreground(lipgloss.Color("34")) // green

	styleDone = lipgloss.NewStyle().
			Foreground(lipgloss.Color("28")) // dark green

	styleFailed = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")) // red

	styleIdle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")) // gray

	styleLabel = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	styleFooter = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)

// View implements tea.Model.
func (a *App) View() string {
	if a.quitting {
		return "Goodbye!\n"
	}

	var content string
	switch a.currentTab {
	case TabAgents:
		content = a.viewAgents()
	case TabTasks:
		content = a.viewTasks()
	case TabLogs:
		content = a.viewLogs()
	}

	return fmt.Sprintf("%s\n\n%s\n\n%s", a.viewHeader(), content, a.viewFooter())
}

// viewHeader renders the tab bar.
func (a *App) viewHeader() string {
	tabs := []string{"Agents", "Tasks", "Logs"}
	parts := make([]string, len(tabs))
	for i, tab := range tabs {
		if i == a.currentTab {
			parts[i] = styleTabActive.Render(tab)
		} else {
			parts[i] = styleTab.Render(tab)
		}
	}
	return strings.Join(parts, " ")
}

// viewAgents renders one line per agent slot.
func (a *App) viewAgents() string {
	if len(a.agents) == 0 {
		return styleLabel.Render("  No active agents")
	}

	var b strings.Builder
	for _, row := range a.agents {
		marker := " "
		if row.status == models.AgentWorking {
			marker = a.spin.View()
		}
		story := row.storyID
		if story == "" {
			story = "-"
		}
		fmt.Fprintf(&b, "  %s %-16s %s  %s\n",
			marker, row.instanceID, a.styleFor(row.status).Render(string(row.status)), story)
	}
	return b.String()
}

func (a *App) styleFor(status models.AgentHandleStatus) lipgloss.Style {
	switch status {
	case models.AgentWorking:
		return styleWorking
	case models.AgentCompleted:
		return styleDone
	case models.AgentFailed:
		return styleFailed
	default:
		return styleIdle
	}
}

// viewTasks renders one line per story plus a test summary.
func (a *App) viewTasks() string {
	if len(a.tasks) == 0 {
		return styleLabel.Render("  No tasks yet")
	}

	var b strings.Builder
	for _, t := range a.tasks {
		style := styleIdle
		switch t.status {
		case models.StoryStatusInProgress, models.StoryStatusTesting:
			style = styleWorking
		case models.StoryStatusCompleted:
			style = styleDone
		case models.StoryStatusFailed:
			style = styleFailed
		}
		fmt.Fprintf(&b, "  %-12s %s  %s\n", t.id, style.Render(fmt.Sprintf("%-12s", t.status)), t.title)
	}
	if a.totalTests > 0 {
		fmt.Fprintf(&b, "\n  tests: %d total, %d passed, %d failed\n", a.totalTests, a.passed, a.failed)
	}
	return b.String()
}

// viewLogs renders the tail of the log buffer.
func (a *App) viewLogs() string {
	if len(a.logs) == 0 {
		return styleLabel.Render("  No log entries")
	}

	visible := 20
	if a.height > 10 {
		visible = a.height - 8
	}
	start := 0
	if len(a.logs) > visible {
		start = len(a.logs) - visible
	}

	var b strings.Builder
	for _, entry := range a.logs[start:] {
		ts := entry.Timestamp.Format("15:04:05")
		style := styleIdle
		if entry.Level == "ERROR" {
			style = styleFailed
		}
		fmt.Fprintf(&b, "  %s %s %s\n", styleLabel.Render(ts), style.Render(entry.Level), entry.Message)
	}
	return b.String()
}

// viewFooter renders the terminal summary or the key hints.
func (a *App) viewFooter() string {
	if a.sessionDone {
		if a.sessionSuccess {
			return styleDone.Render(fmt.Sprintf("✓ build complete: %d completed, %d failed, %d skipped",
				a.summary.Completed, a.summary.Failed, a.summary.Skipped)) +
				styleFooter.Render("  |  press q to exit")
		}
		return styleFailed.Render("✗ "+a.sessionError) + styleFooter.Render("  |  press q to exit")
	}
	return styleFooter.Render("1/2/3 or Tab to switch tabs  |  q to quit")
}
