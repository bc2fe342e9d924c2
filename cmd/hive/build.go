package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mbranton/hive/internal/agent"
	"github.com/mbranton/hive/internal/agentapi"
	"github.com/mbranton/hive/internal/audit"
	"github.com/mbranton/hive/internal/bus"
	"github.com/mbranton/hive/internal/config"
	"github.com/mbranton/hive/internal/orchestrator"
	"github.com/mbranton/hive/internal/state"
	"github.com/mbranton/hive/internal/tui"
	"github.com/mbranton/hive/pkg/models"
)

var (
	buildCoders    int
	buildTesters   int
	buildBatch     bool
	buildBatchSize int
	buildSecurity  bool
	buildHeadless  bool
	buildExisting  bool
)

var buildCmd = &cobra.Command{
	Use:   "build <requirements>",
	Short: "Plan and build from a requirements description",
	Long: `Build software from a free-form requirements description.

The requirements are decomposed into epics and stories by a product owner
agent. Coder agents then implement the stories in dependency order, starting
with a single foundation story before fanning out in parallel, and tester
agents verify each story before it counts as done.

State is checkpointed to .hive/state after every change, so a crashed or
stopped build picks up where it left off with 'hive resume'.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSession(cmd, strings.Join(args, " "), false)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume an interrupted build",
	Long: `Resume the project's interrupted build from its checkpointed state.

The persisted backlog is the source of truth: stories that were mid-flight
when the previous run ended are re-dispatched, completed stories are kept,
and planning is skipped entirely.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSession(cmd, "", true)
	},
}

func init() {
	for _, cmd := range []*cobra.Command{buildCmd, resumeCmd} {
		cmd.Flags().IntVar(&buildCoders, "coders", 0, "Parallel coder agents (overrides config)")
		cmd.Flags().IntVar(&buildTesters, "testers", 0, "Parallel tester agents (overrides config)")
		cmd.Flags().BoolVar(&buildSecurity, "security", false, "Run a security audit after the build")
		cmd.Flags().BoolVar(&buildHeadless, "headless", false, "Run without the TUI, printing events to stdout")
	}
	buildCmd.Flags().BoolVar(&buildBatch, "batch", false, "Work stories in fixed-size batches")
	buildCmd.Flags().IntVar(&buildBatchSize, "batch-size", 0, "Stories per batch in batch mode (overrides config)")
	buildCmd.Flags().BoolVar(&buildExisting, "existing", false, "Plan incremental work against the existing project")
}

func runSession(cmd *cobra.Command, requirements string, resume bool) error {
	projectDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}
	projectID := filepath.Base(projectDir)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	applyFlagOverrides(cmd, cfg)

	roles, err := config.LoadRoles(filepath.Join(projectDir, ".hive", "roles.yaml"))
	if err != nil {
		return err
	}

	svc, err := buildService(cfg)
	if err != nil {
		return err
	}

	db, err := state.OpenProject(projectDir)
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate state database: %w", err)
	}
	buildNumber, err := db.NextBuildNumber(projectID)
	if err != nil {
		return err
	}

	registry := orchestrator.NewRegistry()
	sess, err := registry.CreateSession(projectID, projectDir, orchestrator.SessionConfig{
		ParallelCoders:  cfg.Build.ParallelCoders,
		ParallelTesters: cfg.Build.ParallelTesters,
		BatchMode:       cfg.Build.BatchMode,
		BatchSize:       cfg.Build.BatchSize,
		RetryLimit:      cfg.Build.RetryLimit,
		ExistingProject: cfg.Build.ExistingProject,
	}, resume, buildNumber)
	if err != nil {
		return err
	}
	defer registry.Dispose(projectID)

	if err := db.CreateSession(&state.SessionRecord{
		ID:          sess.ID,
		ProjectID:   projectID,
		ProjectDir:  projectDir,
		BuildNumber: buildNumber,
		Status:      state.SessionActive,
		StartedAt:   time.Now(),
	}); err != nil {
		return err
	}

	// Audit recording is best effort; a broken trail never blocks a build.
	if trail, err := audit.Open(audit.TrailPath(projectDir)); err == nil {
		trail.Attach(sess.Bus, sess.ID)
		defer trail.Close()
	} else {
		color.Yellow("audit trail unavailable: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		sess.Stop()
	}()

	opts := orchestrator.RunOptions{
		Requirements:  requirements,
		Service:       svc,
		Roles:         roles,
		StoryTimeout:  cfg.Agent.StoryTimeout,
		RetryAttempts: cfg.Agent.RetryAttempts,
		RetryBackoff:  cfg.Agent.RetryBackoff,
		Security:      buildSecurity,
	}

	errCh := make(chan error, 1)
	var runErr error
	if buildHeadless {
		sub := sess.Bus.Subscribe(1024)
		go func() { errCh <- sess.RunParallel(ctx, opts) }()
		runErr = printEventsUntilDone(sub, errCh)
	} else {
		go func() { errCh <- sess.RunParallel(ctx, opts) }()
		if err := tui.Run(sess.Bus); err != nil {
			color.Yellow("monitor exited: %v", err)
		}
		// The user may quit the TUI before the build finishes.
		sess.Stop()
		runErr = <-errCh
	}

	recordOutcome(db, sess, runErr)

	if runErr != nil {
		color.Red("build failed: %v", runErr)
		return runErr
	}
	printSummary(sess)
	return nil
}

// applyFlagOverrides lets explicit flags win over the loaded configuration.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("coders") {
		cfg.Build.ParallelCoders = buildCoders
	}
	if cmd.Flags().Changed("testers") {
		cfg.Build.ParallelTesters = buildTesters
	}
	if cmd.Flags().Changed("batch") {
		cfg.Build.BatchMode = buildBatch
	}
	if cmd.Flags().Changed("batch-size") {
		cfg.Build.BatchSize = buildBatchSize
	}
	if cmd.Flags().Changed("existing") {
		cfg.Build.ExistingProject = buildExisting
	}
}

// buildService selects the agent transport from configuration.
func buildService(cfg *config.Config) (agent.Service, error) {
	switch cfg.Agent.Mode {
	case "", "cli":
		if err := checkAgentCLI(cfg.Agent.Command); err != nil {
			return nil, err
		}
		return agent.NewProcessService(cfg.Agent.Command), nil
	case "api":
		client, err := agentapi.NewClient(agentapi.ClientConfig{
			Model:      anthropic.Model(cfg.Anthropic.Model),
			APIKey:     cfg.Anthropic.APIKey,
			UseBedrock: cfg.Anthropic.UseBedrock,
			AWSRegion:  cfg.Anthropic.AWSRegion,
			AWSProfile: cfg.Anthropic.AWSProfile,
		})
		if err != nil {
			return nil, err
		}
		return agentapi.NewService(client), nil
	default:
		return nil, fmt.Errorf("unknown agent mode %q (want cli or api)", cfg.Agent.Mode)
	}
}

// recordOutcome persists the session's terminal state and agent roster.
func recordOutcome(db *state.DB, sess *orchestrator.Session, runErr error) {
	status := state.SessionCanceled
	switch {
	case runErr != nil:
		status = state.SessionFailed
	case sess.Phase() == orchestrator.PhaseComplete:
		status = state.SessionCompleted
	}
	if err := db.UpdateSessionStatus(sess.ID, status); err != nil {
		color.Yellow("record session status: %v", err)
	}
	if err := db.SaveMetrics(sess.ID, sess.Metrics.Snapshot()); err != nil {
		color.Yellow("record metrics: %v", err)
	}
	for _, h := range sess.Agents() {
		rec := &state.AgentRecord{
			InstanceID: h.InstanceID,
			SessionID:  sess.ID,
			Role:       h.Role,
			Status:     h.Status,
			StoryID:    h.CurrentStoryID,
		}
		if !h.StartedAt.IsZero() {
			started := h.StartedAt
			rec.StartedAt = &started
		}
		if err := db.UpsertAgent(rec); err != nil {
			color.Yellow("record agent %s: %v", h.InstanceID, err)
		}
	}
}

// printEventsUntilDone streams events to stdout until the run loop returns,
// then drains whatever is still buffered.
func printEventsUntilDone(sub *bus.Subscription, errCh <-chan error) error {
	for {
		select {
		case e := <-sub.Events():
			printEvent(e)
		case err := <-errCh:
			for {
				select {
				case e := <-sub.Events():
					printEvent(e)
				default:
					return err
				}
			}
		}
	}
}

func printEvent(e bus.Event) {
	switch ev := e.(type) {
	case bus.EpicCreated:
		color.Cyan("epic %s: %s", ev.EpicID, ev.Title)
	case bus.TaskCreated:
		fmt.Printf("  + %s %s\n", ev.ID, ev.Title)
	case bus.StoryStarted:
		color.Blue("» %s picked up %s: %s", ev.AgentID, ev.StoryID, ev.StoryTitle)
	case bus.StoryTesting:
		color.Blue("» %s testing %s: %s", ev.AgentID, ev.StoryID, ev.StoryTitle)
	case bus.StoryCompleted:
		color.Green("✓ %s: %s", ev.StoryID, ev.StoryTitle)
	case bus.StoryFailed:
		color.Red("✗ %s: %s", ev.StoryID, ev.Error)
	case bus.FoundationComplete:
		color.Yellow("foundation complete, fanning out")
	case bus.TestResults:
		fmt.Printf("  tests %s: %d passed, %d failed\n", ev.StoryID, ev.PassedTests, ev.FailedTests)
	case bus.SecurityReport:
		color.Cyan("security score %d (%d findings)", ev.Score, ev.Findings)
	case bus.SessionComplete:
		color.Green("build complete: %d completed, %d failed, %d skipped",
			ev.Summary.Completed, ev.Summary.Failed, ev.Summary.Skipped)
	case bus.SessionError:
		color.Red("session error: %s", ev.Error)
	}
}

func printSummary(sess *orchestrator.Session) {
	counts := sess.Backlog.Counts()
	metrics := sess.Metrics.Snapshot()

	fmt.Println()
	color.Green("%d stories completed, %d failed", counts[models.StoryStatusCompleted], counts[models.StoryStatusFailed])
	if metrics.Testing.TotalTests > 0 {
		fmt.Printf("tests: %d total, %d passed, %d failed\n",
			metrics.Testing.TotalTests, metrics.Testing.PassedTests, metrics.Testing.FailedTests)
	}
	fmt.Printf("files: %d created, %d modified; commands run: %d\n",
		metrics.Build.FilesCreated, metrics.Build.FilesModified, metrics.Build.CommandsRun)
}
