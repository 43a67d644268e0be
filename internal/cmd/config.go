package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/trellis-dev/trellis/internal/config"
)

var configShowFile bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Show the effective configuration after merging defaults, the
config file, and TRELLIS_* environment overrides.`,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.Flags().BoolVar(&configShowFile, "file", false, "print the config file path and exit")
}

func runConfig(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if configShowFile {
		if used := viper.ConfigFileUsed(); used != "" {
			fmt.Fprintln(out, used)
		} else {
			fmt.Fprintln(out, config.ConfigFile())
		}
		return nil
	}

	// Surface validation problems instead of printing a broken config.
	if _, err := config.Load(); err != nil {
		return err
	}

	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Fprintf(out, "# config file: %s\n", used)
	} else {
		fmt.Fprintln(out, "# config file: (none - using defaults)")
	}
	data, err := yaml.Marshal(viper.AllSettings())
	if err != nil {
		return err
	}
	fmt.Fprint(out, string(data))
	return nil
}
