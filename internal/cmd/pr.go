package cmd

import (
	"github.com/spf13/cobra"

	"github.com/trellis-dev/trellis/internal/config"
	"github.com/trellis-dev/trellis/internal/pr"
	"github.com/trellis-dev/trellis/internal/task"
)

var prCmd = &cobra.Command{
	Use:   "pr",
	Short: "Create pull requests from task worktrees",
}

var prCreateDryRun bool

var prCreateCmd = &cobra.Command{
	Use:   "create [task]",
	Short: "Commit, push, and open a draft PR for a task",
	Long: `Stage and commit the task worktree's changes with a conventional
commit message, push the branch, and open a draft PR against the task's
base branch. The task descriptor is marked completed afterwards.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPRCreate,
}

func init() {
	rootCmd.AddCommand(prCmd)
	prCmd.AddCommand(prCreateCmd)

	prCreateCmd.Flags().BoolVar(&prCreateDryRun, "dry-run", false, "walk the flow without committing, pushing, or calling gh")
}

func runPRCreate(cmd *cobra.Command, args []string) error {
	root := repoRoot()
	log := newLogger(config.Get())
	defer log.Close()

	taskDir, err := task.ResolveOrCurrent(root, taskArg(args, 0))
	if err != nil {
		return err
	}

	creator := pr.NewCreator(root, log, cmd.OutOrStdout())
	_, err = creator.Create(pr.CreateOptions{TaskDir: taskDir, DryRun: prCreateDryRun})
	return err
}
