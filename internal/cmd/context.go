package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/trellis-dev/trellis/internal/config"
	"github.com/trellis-dev/trellis/internal/gitctx"
)

var contextJSON bool

var contextCmd = &cobra.Command{
	Use:   "context",
	Short: "Show the session context report",
	Long: `Show the session context for an AI agent: developer, git state,
active tasks with priority stats, journal file status, and key paths.`,
	RunE: runContext,
}

func init() {
	rootCmd.AddCommand(contextCmd)
	contextCmd.Flags().BoolVar(&contextJSON, "json", false, "output context as JSON")
}

func runContext(cmd *cobra.Command, args []string) error {
	reporter := gitctx.NewReporter(repoRoot(), config.Get())
	out := cmd.OutOrStdout()

	if contextJSON {
		data, err := reporter.JSON()
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		return nil
	}
	fmt.Fprintln(out, reporter.Text())
	return nil
}
