package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/trellis-dev/trellis/internal/config"
	"github.com/trellis-dev/trellis/internal/logging"
	"github.com/trellis-dev/trellis/internal/workspace"
)

var rootCmd = &cobra.Command{
	Use:   "trellis",
	Short: "File-based multi-agent development workflow",
	Long: `Trellis coordinates AI coding agents over plain files: per-task
directories with a JSON descriptor and JSONL context files, git worktrees
for agent isolation, and per-developer journals that survive sessions.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is .trellis/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(workspace.WorkflowDir(repoRoot()))
		viper.AddConfigPath(config.ConfigDir())
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("TRELLIS")
	// Replace dots with underscores for nested keys in env vars
	// e.g., TRELLIS_JOURNAL_MAX_LINES for journal.max_lines
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}

// repoRoot walks up from the working directory to the nearest .trellis.
func repoRoot() string {
	return workspace.FindRoot("")
}

// newLogger builds the diagnostic logger from config. Failures fall back
// to a no-op logger so commands still run.
func newLogger(cfg *config.Config) *logging.Logger {
	log, err := logging.NewLogger(cfg.Logging.Dir, cfg.Logging.Level)
	if err != nil {
		return logging.NopLogger()
	}
	return log
}
