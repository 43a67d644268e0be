package cmd

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/trellis-dev/trellis/internal/task"
	"github.com/trellis-dev/trellis/internal/workspace"
)

var initProjectType string

var initCmd = &cobra.Command{
	Use:   "init <developer-name>",
	Short: "Initialize the developer workspace",
	Long: `Initialize trellis for a developer in this repository.
This creates the .trellis/.developer identity file, the per-developer
workspace with journal-1.md and index.md, and a guided bootstrap task
set as the current task.`,
	Args: cobra.ExactArgs(1),
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().StringVar(&initProjectType, "project-type", "fullstack",
		"project type: "+strings.Join(task.ValidProjectTypes(), " | "))
}

func runInit(cmd *cobra.Command, args []string) error {
	root := repoRoot()
	name := args[0]
	out := cmd.OutOrStdout()

	if existing := workspace.Developer(root); existing != "" {
		fmt.Fprintf(out, "Developer already initialized: %s\n", existing)
		fmt.Fprintln(out)
		fmt.Fprintf(out, "To reinitialize, remove %s first\n",
			filepath.Join(workspace.WorkflowDirName, workspace.DeveloperFileName))
		return nil
	}

	now := time.Now()
	if err := workspace.InitDeveloper(root, name, now); err != nil {
		return err
	}
	fmt.Fprintf(out, "Developer initialized: %s\n", name)
	fmt.Fprintf(out, "  .developer file: %s\n",
		filepath.Join(workspace.WorkflowDir(root), workspace.DeveloperFileName))
	fmt.Fprintf(out, "  Workspace dir: %s\n", workspace.Dir(root))

	relPath, created, err := task.CreateBootstrap(root, initProjectType, now)
	if err != nil {
		return err
	}
	if created {
		fmt.Fprintln(out)
		fmt.Fprintf(out, "Created bootstrap task: %s\n", relPath)
		fmt.Fprintln(out, "  Set as current task. Run: trellis task show")
	}
	return nil
}
