package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mbranton/hive/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Print the configuration hive would use in this directory, after
merging defaults, the user config and any project .hive.yaml.`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default user config file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Save(config.Default()); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", config.UserConfigPath())
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	color.Cyan("config file: %s", config.UserConfigPath())
	fmt.Printf("agent:\n")
	fmt.Printf("  mode: %s\n", cfg.Agent.Mode)
	fmt.Printf("  command: %s\n", cfg.Agent.Command)
	fmt.Printf("  max_turns: %d\n", cfg.Agent.MaxTurns)
	fmt.Printf("  story_timeout: %s\n", cfg.Agent.StoryTimeout)
	fmt.Printf("  retry_attempts: %d\n", cfg.Agent.RetryAttempts)
	fmt.Printf("  retry_backoff: %s\n", cfg.Agent.RetryBackoff)
	fmt.Printf("build:\n")
	fmt.Printf("  parallel_coders: %d\n", cfg.Build.ParallelCoders)
	fmt.Printf("  parallel_testers: %d\n", cfg.Build.ParallelTesters)
	fmt.Printf("  batch_mode: %v\n", cfg.Build.BatchMode)
	fmt.Printf("  batch_size: %d\n", cfg.Build.BatchSize)
	fmt.Printf("  retry_limit: %d\n", cfg.Build.RetryLimit)
	fmt.Printf("anthropic:\n")
	fmt.Printf("  model: %s\n", valueOr(cfg.Anthropic.Model, "(default)"))
	fmt.Printf("  use_bedrock: %v\n", cfg.Anthropic.UseBedrock)
	if cfg.Anthropic.APIKey != "" {
		fmt.Printf("  api_key: (set)\n")
	} else {
		fmt.Printf("  api_key: (unset)\n")
	}
	return nil
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
