// Package config handles configuration loading for hive. It supports XDG
// config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all hive configuration.
type Config struct {
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Build     BuildConfig     `mapstructure:"build"`
	TUI       TUIConfig       `mapstructure:"tui"`
}

// AnthropicConfig holds API transport settings.
type AnthropicConfig struct {
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	UseBedrock bool   `mapstructure:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
}

// AgentConfig selects and bounds the agent service.
type AgentConfig struct {
	// Mode is "cli" (subprocess agent CLI) or "api" (direct Anthropic API).
	Mode string `mapstructure:"mode"`
	// Command is the agent CLI binary used in cli mode.
	Command string `mapstructure:"command"`
	// MaxTurns bounds tool-use turns per story invocation.
	MaxTurns int `mapstructure:"max_turns"`
	// StoryTimeout is the wall-clock budget per invocation attempt.
	StoryTimeout time.Duration `mapstructure:"story_timeout"`
	// RetryAttempts bounds transport retries per invocation.
	RetryAttempts int `mapstructure:"retry_attempts"`
	// RetryBackoff is the initial transport retry delay.
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

// BuildConfig holds per-session scheduling settings.
type BuildConfig struct {
	ParallelCoders  int  `mapstructure:"parallel_coders"`
	ParallelTesters int  `mapstructure:"parallel_testers"`
	BatchMode       bool `mapstructure:"batch_mode"`
	BatchSize       int  `mapstructure:"batch_size"`
	// RetryLimit bounds scheduler-level requeues of a failed story.
	RetryLimit int `mapstructure:"retry_limit"`
	// ExistingProject skips the product-owner planning phase.
	ExistingProject bool `mapstructure:"existing_project"`
}

// TUIConfig holds monitor display settings.
type TUIConfig struct {
	RefreshRate time.Duration `mapstructure:"refresh_rate"`
}

// Load reads configuration with the following precedence, highest first:
// environment variables, project config (.hive.yaml in the current directory
// or a parent), user config (~/.config/hive/config.yaml), built-in defaults.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		pv := viper.New()
		pv.SetConfigFile(projectConfig)
		if err := pv.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(pv.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// LoadFromPath loads configuration from one specific file.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// Save writes cfg to the user config file.
func Save(cfg *Config) error {
	dir := userConfigDir()
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(filepath.Join(dir, "config.yaml"))

	v.Set("anthropic.api_key", cfg.Anthropic.APIKey)
	v.Set("anthropic.model", cfg.Anthropic.Model)
	v.Set("anthropic.use_bedrock", cfg.Anthropic.UseBedrock)
	v.Set("anthropic.aws_region", cfg.Anthropic.AWSRegion)
	v.Set("anthropic.aws_profile", cfg.Anthropic.AWSProfile)
	v.Set("agent.mode", cfg.Agent.Mode)
	v.Set("agent.command", cfg.Agent.Command)
	v.Set("agent.max_turns", cfg.Agent.MaxTurns)
	v.Set("agent.story_timeout", cfg.Agent.StoryTimeout.String())
	v.Set("agent.retry_attempts", cfg.Agent.RetryAttempts)
	v.Set("agent.retry_backoff", cfg.Agent.RetryBackoff.String())
	v.Set("build.parallel_coders", cfg.Build.ParallelCoders)
	v.Set("build.parallel_testers", cfg.Build.ParallelTesters)
	v.Set("build.batch_mode", cfg.Build.BatchMode)
	v.Set("build.batch_size", cfg.Build.BatchSize)
	v.Set("build.retry_limit", cfg.Build.RetryLimit)
	v.Set("tui.refresh_rate", cfg.TUI.RefreshRate.String())

	return v.WriteConfig()
}

// UserConfigPath returns the user config file path.
func UserConfigPath() string {
	return filepath.Join(userConfigDir(), "config.yaml")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "")
	v.SetDefault("anthropic.use_bedrock", false)

	v.SetDefault("agent.mode", "cli")
	v.SetDefault("agent.command", "claude")
	v.SetDefault("agent.max_turns", 50)
	v.SetDefault("agent.story_timeout", "15m")
	v.SetDefault("agent.retry_attempts", 3)
	v.SetDefault("agent.retry_backoff", "2s")

	v.SetDefault("build.parallel_coders", 2)
	v.SetDefault("build.parallel_testers", 1)
	v.SetDefault("build.batch_mode", false)
	v.SetDefault("build.batch_size", 3)
	v.SetDefault("build.retry_limit", 2)

	v.SetDefault("tui.refresh_rate", "100ms")
}

func userConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "hive")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "hive")
	}
	return filepath.Join(home, ".config", "hive")
}

// findProjectConfig searches for .hive.yaml in the working directory and its
// parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		path := filepath.Join(cwd, ".hive.yaml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			return ""
		}
		cwd = parent
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Mode:          "cli",
			Command:       "claude",
			MaxTurns:      50,
			StoryTimeout:  15 * time.Minute,
			RetryAttempts: 3,
			RetryBackoff:  2 * time.Second,
		},
		Build: BuildConfig{
			ParallelCoders:  2,
			ParallelTesters: 1,
			BatchSize:       3,
			RetryLimit:      2,
		},
		TUI: TUIConfig{RefreshRate: 100 * time.Millisecond},
	}
}
