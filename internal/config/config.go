// Package config manages trellis configuration via viper.
//
// Configuration is resolved from (highest precedence first): command-line
// flags, TRELLIS_* environment variables, the config file, and built-in
// defaults. The config file is looked up as .trellis/config.yaml in the
// repository, then in the user config directory.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all trellis configuration.
type Config struct {
	// Logging configures the diagnostic logger.
	Logging LoggingConfig `mapstructure:"logging"`

	// Platform configures agent platform selection.
	Platform PlatformConfig `mapstructure:"platform"`

	// Phase configures phase-advancement behavior.
	Phase PhaseConfig `mapstructure:"phase"`

	// Worktree configures worktree provisioning defaults.
	Worktree WorktreeConfig `mapstructure:"worktree"`

	// Journal configures session journal rotation.
	Journal JournalConfig `mapstructure:"journal"`

	// Agent configures agent launch and monitoring.
	Agent AgentConfig `mapstructure:"agent"`
}

// LoggingConfig configures the diagnostic logger.
type LoggingConfig struct {
	// Level is the log level: DEBUG, INFO, WARN, or ERROR (default: INFO).
	Level string `mapstructure:"level"`

	// Dir is the directory for trellis.log. Empty means log to stderr
	// (default: empty).
	Dir string `mapstructure:"dir"`
}

// PlatformConfig configures agent platform selection.
type PlatformConfig struct {
	// Default is the platform used when detection is not wanted.
	// Empty means auto-detect from the repository layout (default: empty).
	Default string `mapstructure:"default"`
}

// PhaseConfig configures phase-advancement behavior.
type PhaseConfig struct {
	// SkipActions lists action names that never advance the phase.
	// Default: debug, research.
	SkipActions []string `mapstructure:"skip_actions"`
}

// WorktreeConfig configures worktree provisioning defaults.
type WorktreeConfig struct {
	// Dir is the base directory for worktrees when worktree.yaml does not
	// set one. Relative paths resolve against the repository root
	// (default: ../worktrees).
	Dir string `mapstructure:"dir"`
}

// JournalConfig configures session journal rotation.
type JournalConfig struct {
	// MaxLines is the line count at which a journal file rotates
	// (default: 2000).
	MaxLines int `mapstructure:"max_lines"`

	// WarnLines is the line count at which the context report warns that
	// the journal is near its limit (default: 1800).
	WarnLines int `mapstructure:"warn_lines"`
}

// AgentConfig configures agent launch and monitoring.
type AgentConfig struct {
	// LogTailLines is how many log lines `trellis agent log` prints
	// (default: 50).
	LogTailLines int `mapstructure:"log_tail_lines"`

	// SessionPollAttempts is how many times the launcher polls the agent
	// log for an opencode session id (default: 10).
	SessionPollAttempts int `mapstructure:"session_poll_attempts"`

	// SessionPollIntervalMS is the delay between session-id polls in
	// milliseconds (default: 500).
	SessionPollIntervalMS int `mapstructure:"session_poll_interval_ms"`
}

// Default returns a Config populated with default values.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level: "INFO",
			Dir:   "",
		},
		Platform: PlatformConfig{
			Default: "",
		},
		Phase: PhaseConfig{
			SkipActions: []string{"debug", "research"},
		},
		Worktree: WorktreeConfig{
			Dir: "../worktrees",
		},
		Journal: JournalConfig{
			MaxLines:  2000,
			WarnLines: 1800,
		},
		Agent: AgentConfig{
			LogTailLines:          50,
			SessionPollAttempts:   10,
			SessionPollIntervalMS: 500,
		},
	}
}

// SetDefaults registers all default values with viper. Call before
// viper.ReadInConfig so that unset keys resolve to defaults.
func SetDefaults() {
	d := Default()

	viper.SetDefault("logging.level", d.Logging.Level)
	viper.SetDefault("logging.dir", d.Logging.Dir)
	viper.SetDefault("platform.default", d.Platform.Default)
	viper.SetDefault("phase.skip_actions", d.Phase.SkipActions)
	viper.SetDefault("worktree.dir", d.Worktree.Dir)
	viper.SetDefault("journal.max_lines", d.Journal.MaxLines)
	viper.SetDefault("journal.warn_lines", d.Journal.WarnLines)
	viper.SetDefault("agent.log_tail_lines", d.Agent.LogTailLines)
	viper.SetDefault("agent.session_poll_attempts", d.Agent.SessionPollAttempts)
	viper.SetDefault("agent.session_poll_interval_ms", d.Agent.SessionPollIntervalMS)
}

// Load unmarshals the current viper state into a Config and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return &cfg, nil
}

// Get returns the loaded configuration, falling back to defaults if
// loading fails. Commands that can proceed with defaults use this.
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// SessionPollInterval returns the poll delay as a duration.
func (a AgentConfig) SessionPollInterval() time.Duration {
	return time.Duration(a.SessionPollIntervalMS) * time.Millisecond
}

// IsSkippedAction reports whether an action is in the phase-advance
// exclusion set.
func (p PhaseConfig) IsSkippedAction(action string) bool {
	for _, skip := range p.SkipActions {
		if strings.EqualFold(skip, action) {
			return true
		}
	}
	return false
}

// ResolveWorktreeDir resolves the configured worktree base directory
// against the repository root. Empty falls back to the default, ~ expands
// to the home directory, and relative paths join the repository root.
func (w WorktreeConfig) ResolveWorktreeDir(repoRoot string) string {
	dir := w.Dir
	if dir == "" {
		dir = Default().Worktree.Dir
	}

	if strings.HasPrefix(dir, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			dir = filepath.Join(home, strings.TrimPrefix(dir, "~"))
		}
	}

	if !filepath.IsAbs(dir) {
		dir = filepath.Join(repoRoot, dir)
	}

	return filepath.Clean(dir)
}

// ConfigDir returns the user-level trellis config directory:
// $XDG_CONFIG_HOME/trellis, else ~/.config/trellis, else .trellis in the
// current directory.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "trellis")
	}
	home, err := os.UserHomeDir()
	if err == nil {
		return filepath.Join(home, ".config", "trellis")
	}
	return ".trellis"
}

// ConfigFile returns the path of the user-level config file.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
