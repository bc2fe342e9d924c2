package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mbranton/hive/internal/orchestrator"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Signal the running build to stop",
	Long: `Write the stop marker the running build watches for. The build
checkpoints its state and exits; 'hive resume' continues it later.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSignals(func(sw *orchestrator.SignalWatcher) error {
			if err := sw.RequestStop(); err != nil {
				return err
			}
			fmt.Println("stop requested")
			return nil
		})
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause dispatching new stories",
	Long: `Write the pause marker. Running agents finish their current
stories; no new stories are dispatched until 'hive continue'.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSignals(func(sw *orchestrator.SignalWatcher) error {
			if err := sw.RequestPause(); err != nil {
				return err
			}
			fmt.Println("pause requested")
			return nil
		})
	},
}

var continueCmd = &cobra.Command{
	Use:   "continue",
	Short: "Lift a pause and resume dispatching",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSignals(func(sw *orchestrator.SignalWatcher) error {
			if err := sw.Resume(); err != nil {
				return err
			}
			fmt.Println("dispatching resumed")
			return nil
		})
	},
}

func withSignals(fn func(*orchestrator.SignalWatcher) error) error {
	projectDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}
	sw, err := orchestrator.NewSignalWatcher(projectDir)
	if err != nil {
		return err
	}
	defer sw.Close()
	return fn(sw)
}
