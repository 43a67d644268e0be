package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/trellis-dev/trellis/internal/errors"
	"github.com/trellis-dev/trellis/internal/workspace"
)

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Print the current developer name",
	RunE:  runWhoami,
}

func init() {
	rootCmd.AddCommand(whoamiCmd)
}

func runWhoami(cmd *cobra.Command, args []string) error {
	developer := workspace.Developer(repoRoot())
	if developer == "" {
		return errors.ErrDeveloperNotInitialized
	}
	fmt.Fprintln(cmd.OutOrStdout(), developer)
	return nil
}
