package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mbranton/hive/internal/state"
	"github.com/mbranton/hive/pkg/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the project's session state",
	Long: `Display the state of the project's most recent build session:
the session record, agent slots, story counts and metrics.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	projectDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}
	projectID := filepath.Base(projectDir)

	// The checkpointed backlog exists even when the database does not.
	snap, err := state.NewFileStore(projectDir).LoadFullState()
	if err != nil {
		return err
	}

	dbPath := state.ProjectDBPath(projectDir)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		if snap == nil {
			fmt.Println("No sessions recorded. Run 'hive build <requirements>' to start.")
			return nil
		}
		printBacklogCounts(snap)
		return nil
	}

	db, err := state.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate state database: %w", err)
	}

	rec, err := db.ActiveSession(projectID)
	if err != nil {
		return err
	}
	if rec == nil {
		fmt.Println("No active session.")
		if snap != nil {
			printBacklogCounts(snap)
			fmt.Println("Run 'hive resume' to continue, or 'hive build <requirements>' to start over.")
		}
		return nil
	}

	color.Cyan("session %s (build #%d)", rec.ID, rec.BuildNumber)
	fmt.Printf("  started: %s\n", rec.StartedAt.Format("2006-01-02 15:04:05"))

	agents, err := db.ListAgents(rec.ID)
	if err != nil {
		return err
	}
	if len(agents) > 0 {
		fmt.Println("  agents:")
		for _, a := range agents {
			line := fmt.Sprintf("    %-16s %-10s %s", a.InstanceID, a.Status, a.StoryID)
			switch a.Status {
			case models.AgentWorking:
				color.Green("%s", line)
			case models.AgentFailed:
				color.Red("%s", line)
			default:
				fmt.Println(line)
			}
		}
	}

	metrics, err := db.GetMetrics(rec.ID)
	if err != nil {
		return err
	}
	if metrics.Testing.TotalTests > 0 {
		fmt.Printf("  tests: %d total, %d passed, %d failed\n",
			metrics.Testing.TotalTests, metrics.Testing.PassedTests, metrics.Testing.FailedTests)
	}

	if snap != nil {
		printBacklogCounts(snap)
	}
	return nil
}

func printBacklogCounts(snap *state.Snapshot) {
	counts := make(map[models.StoryStatus]int)
	for _, s := range snap.Stories {
		counts[s.Status]++
	}
	fmt.Printf("backlog: %d stories (%d completed, %d failed, %d pending, %d in flight)\n",
		len(snap.Stories),
		counts[models.StoryStatusCompleted],
		counts[models.StoryStatusFailed],
		counts[models.StoryStatusPending]+counts[models.StoryStatusBacklog],
		counts[models.StoryStatusInProgress]+counts[models.StoryStatusTesting],
	)
}
