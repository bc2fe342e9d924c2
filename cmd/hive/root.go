package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/mbranton/hive/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "hive",
	Short: "Multi-agent build orchestrator",
	Long: `Hive turns a requirements description into working software by
coordinating pools of coding agents.

A product owner agent decomposes the requirements into epics and stories,
coder agents implement the stories in dependency order, tester agents verify
them, and an optional security agent audits the result. Progress is
checkpointed continuously, so an interrupted build resumes where it left off
with 'hive resume'.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(continueCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// checkAgentCLI verifies the agent CLI binary is reachable in cli mode.
func checkAgentCLI(command string) error {
	if _, err := exec.LookPath(command); err != nil {
		return fmt.Errorf("agent CLI %q not found in PATH\n\n"+
			"Hive drives an agent CLI in its default mode. Install it, or switch\n"+
			"to direct API mode with 'agent.mode: api' in %s", command, config.UserConfigPath())
	}
	return nil
}
