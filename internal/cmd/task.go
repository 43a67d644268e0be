package cmd

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/trellis-dev/trellis/internal/config"
	"github.com/trellis-dev/trellis/internal/errors"
	"github.com/trellis-dev/trellis/internal/phase"
	"github.com/trellis-dev/trellis/internal/platform"
	"github.com/trellis-dev/trellis/internal/task"
	"github.com/trellis-dev/trellis/internal/workspace"
	"github.com/trellis-dev/trellis/internal/worktree"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage the task queue",
	Long: `Manage per-task directories under .trellis/tasks: descriptors,
JSONL context files, the current-task pointer, phases, and the archive.`,
}

var (
	taskCreateTitle    string
	taskCreateDesc     string
	taskCreateType     string
	taskCreatePriority string
	taskCreateScope    string
	taskCreateAssignee string
)

var taskCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new task directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskCreate,
}

var (
	taskListMine   bool
	taskListStatus string
)

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active tasks",
	Args:  cobra.NoArgs,
	RunE:  runTaskList,
}

var taskListArchiveCmd = &cobra.Command{
	Use:   "list-archive [YYYY-MM]",
	Short: "List archived tasks",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTaskListArchive,
}

var taskShowCmd = &cobra.Command{
	Use:   "show [task]",
	Short: "Show a task descriptor",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTaskShow,
}

var taskStartCmd = &cobra.Command{
	Use:   "start <task>",
	Short: "Set the current task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskStart,
}

var taskFinishCmd = &cobra.Command{
	Use:   "finish [task]",
	Short: "Mark a task completed",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTaskFinish,
}

var taskArchiveCmd = &cobra.Command{
	Use:   "archive [task]",
	Short: "Complete a task and move it to the monthly archive",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTaskArchive,
}

var taskSetBranchCmd = &cobra.Command{
	Use:   "set-branch <branch> [task]",
	Short: "Set the git branch for a task",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runTaskSetBranch,
}

var taskSetBaseBranchCmd = &cobra.Command{
	Use:   "set-base-branch <branch> [task]",
	Short: "Set the PR target branch for a task",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runTaskSetBaseBranch,
}

var taskSetScopeCmd = &cobra.Command{
	Use:   "set-scope <scope> [task]",
	Short: "Set the conventional-commit scope for a task",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runTaskSetScope,
}

var taskSetPhaseCmd = &cobra.Command{
	Use:   "set-phase <n> [task]",
	Short: "Set the current phase (manual override)",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runTaskSetPhase,
}

var taskAdvanceCmd = &cobra.Command{
	Use:   "advance [action] [task]",
	Short: "Advance the phase, optionally for a specific agent action",
	Long: `Advance the task's phase. Without an action the phase moves to the
next step. With an action the phase jumps to the next later step driven
by that agent; skip-listed actions never advance.`,
	Args: cobra.MaximumNArgs(2),
	RunE: runTaskAdvance,
}

var taskInitContextCmd = &cobra.Command{
	Use:   "init-context <dev-type> [task]",
	Short: "Seed implement/check/debug context files",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runTaskInitContext,
}

var taskAddContextCmd = &cobra.Command{
	Use:   "add-context <jsonl> <path> [reason] [task]",
	Short: "Append an entry to a context file",
	Args:  cobra.RangeArgs(2, 4),
	RunE:  runTaskAddContext,
}

var taskValidateContextCmd = &cobra.Command{
	Use:   "validate-context [task]",
	Short: "Validate context file entries against the repository",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTaskValidateContext,
}

var taskListContextCmd = &cobra.Command{
	Use:   "list-context [task]",
	Short: "List context file entries",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTaskListContext,
}

func init() {
	rootCmd.AddCommand(taskCmd)
	taskCmd.AddCommand(taskCreateCmd)
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskListArchiveCmd)
	taskCmd.AddCommand(taskShowCmd)
	taskCmd.AddCommand(taskStartCmd)
	taskCmd.AddCommand(taskFinishCmd)
	taskCmd.AddCommand(taskArchiveCmd)
	taskCmd.AddCommand(taskSetBranchCmd)
	taskCmd.AddCommand(taskSetBaseBranchCmd)
	taskCmd.AddCommand(taskSetScopeCmd)
	taskCmd.AddCommand(taskSetPhaseCmd)
	taskCmd.AddCommand(taskAdvanceCmd)
	taskCmd.AddCommand(taskInitContextCmd)
	taskCmd.AddCommand(taskAddContextCmd)
	taskCmd.AddCommand(taskValidateContextCmd)
	taskCmd.AddCommand(taskListContextCmd)

	taskCreateCmd.Flags().StringVar(&taskCreateTitle, "title", "", "task title (defaults to the name)")
	taskCreateCmd.Flags().StringVar(&taskCreateDesc, "desc", "", "task description")
	taskCreateCmd.Flags().StringVarP(&taskCreateType, "type", "t", "", "dev type: backend | frontend | fullstack | test | docs")
	taskCreateCmd.Flags().StringVarP(&taskCreatePriority, "priority", "p", "", "priority: P0 | P1 | P2 | P3 (default P2)")
	taskCreateCmd.Flags().StringVar(&taskCreateScope, "scope", "", "conventional-commit scope")
	taskCreateCmd.Flags().StringVarP(&taskCreateAssignee, "assignee", "a", "", "assignee (defaults to the current developer)")

	taskListCmd.Flags().BoolVarP(&taskListMine, "mine", "m", false, "show only tasks assigned to the current developer")
	taskListCmd.Flags().StringVarP(&taskListStatus, "status", "s", "", "filter by status (planning, in_progress, review, completed)")
}

// taskArg returns the optional trailing task argument.
func taskArg(args []string, index int) string {
	if len(args) > index {
		return args[index]
	}
	return ""
}

// adapterFromConfig picks the configured platform, falling back to
// repository-layout detection.
func adapterFromConfig(root string, cfg *config.Config) platform.Adapter {
	if cfg.Platform.Default != "" {
		if a, err := platform.New(cfg.Platform.Default); err == nil {
			return a
		}
	}
	return platform.DetectAdapter(root)
}

func runTaskCreate(cmd *cobra.Command, args []string) error {
	root := repoRoot()
	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()

	slug := task.Slugify(args[0])
	if slug == "" {
		return errors.NewValidationError("could not derive a slug from the task name").WithField("name")
	}

	developer := workspace.Developer(root)
	assignee := taskCreateAssignee
	if assignee == "" {
		if developer == "" {
			return errors.ErrDeveloperNotInitialized
		}
		assignee = developer
	}
	creator := developer
	if creator == "" {
		creator = assignee
	}

	// Record the current branch as the PR target.
	base, err := worktree.New(root).CurrentBranch()
	if err != nil || base == "" {
		base = "main"
	}

	now := time.Now()
	t := task.New(slug, taskCreateTitle, creator, assignee, taskCreatePriority, taskCreateDesc, base, now)
	t.DevType = taskCreateType
	t.Scope = taskCreateScope

	taskDir, existed, err := task.CreateDir(root, t, now)
	if err != nil {
		return err
	}
	dirName := filepath.Base(taskDir)
	if existed {
		fmt.Fprintf(errOut, "Warning: Task directory already exists: %s\n", dirName)
	} else {
		fmt.Fprintf(errOut, "Created task: %s\n", dirName)
	}
	fmt.Fprintln(errOut)
	fmt.Fprintln(errOut, "Next steps:")
	fmt.Fprintln(errOut, "  1. Create prd.md with requirements")
	fmt.Fprintf(errOut, "  2. Run: trellis task init-context <dev-type> %s\n", dirName)
	fmt.Fprintf(errOut, "  3. Run: trellis task start %s\n", dirName)
	fmt.Fprintln(errOut)

	// Relative path on stdout for script chaining.
	fmt.Fprintln(out, filepath.Join(workspace.WorkflowDirName, workspace.TasksDirName, dirName))
	return nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	root := repoRoot()
	out := cmd.OutOrStdout()

	filter := task.Filter{Status: taskListStatus}
	if taskListMine {
		developer := workspace.Developer(root)
		if developer == "" {
			return errors.ErrDeveloperNotInitialized
		}
		filter.Assignee = developer
		fmt.Fprintf(out, "My tasks (assignee: %s):\n", developer)
	} else {
		fmt.Fprintln(out, "All active tasks:")
	}
	fmt.Fprintln(out)

	current := workspace.CurrentTask(root)
	infos := task.List(root, filter)
	for _, info := range infos {
		marker := ""
		if filepath.Join(workspace.WorkflowDirName, workspace.TasksDirName, info.Dir) == current {
			marker = " <- current"
		}
		if taskListMine {
			fmt.Fprintf(out, "  - %s/ (%s)%s\n", info.Dir, info.Status, marker)
		} else {
			fmt.Fprintf(out, "  - %s/ (%s) [%s]%s\n", info.Dir, info.Status, info.Assignee, marker)
		}
	}
	if len(infos) == 0 {
		if taskListMine {
			fmt.Fprintln(out, "  (no tasks assigned to you)")
		} else {
			fmt.Fprintln(out, "  (no active tasks)")
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Total: %d task(s)\n", len(infos))
	fmt.Fprintf(out, "Priority: %s\n", task.CollectStats(root))
	return nil
}

func runTaskListArchive(cmd *cobra.Command, args []string) error {
	root := repoRoot()
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "Archived tasks:")
	fmt.Fprintln(out)

	if month := taskArg(args, 0); month != "" {
		names := task.ArchivedTasks(root, month)
		if len(names) == 0 {
			fmt.Fprintf(out, "  No archives for %s\n", month)
			return nil
		}
		fmt.Fprintf(out, "[%s]\n", month)
		for _, name := range names {
			fmt.Fprintf(out, "  - %s/\n", name)
		}
		return nil
	}

	for _, month := range task.ArchivedMonths(root) {
		fmt.Fprintf(out, "[%s] - %d task(s)\n", month, len(task.ArchivedTasks(root, month)))
	}
	return nil
}

func runTaskShow(cmd *cobra.Command, args []string) error {
	root := repoRoot()
	out := cmd.OutOrStdout()

	taskDir, err := task.ResolveOrCurrent(root, taskArg(args, 0))
	if err != nil {
		return err
	}
	t, err := task.Load(taskDir)
	if err != nil {
		return err
	}

	field := func(label, value string) {
		if value != "" {
			fmt.Fprintf(out, "  %-12s %s\n", label+":", value)
		}
	}

	fmt.Fprintf(out, "=== Task: %s ===\n", filepath.Base(taskDir))
	fmt.Fprintln(out)
	field("Title", t.DisplayTitle())
	field("Status", t.Status)
	field("Priority", t.Priority)
	field("Assignee", t.Assignee)
	field("Creator", t.Creator)
	field("Created", t.CreatedAt)
	field("Completed", t.CompletedAt)
	field("Dev Type", t.DevType)
	field("Scope", t.Scope)
	field("Branch", t.Branch)
	field("Base Branch", t.BaseBranch)
	field("Worktree", t.WorktreePath)
	field("Phase", phase.Info(taskDir))
	field("PR", t.PRURL)

	if t.Description != "" {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Description:")
		for _, line := range strings.Split(strings.TrimRight(t.Description, "\n"), "\n") {
			fmt.Fprintf(out, "  %s\n", line)
		}
	}
	if t.Notes != "" {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Notes:")
		for _, line := range strings.Split(strings.TrimRight(t.Notes, "\n"), "\n") {
			fmt.Fprintf(out, "  %s\n", line)
		}
	}
	return nil
}

func runTaskStart(cmd *cobra.Command, args []string) error {
	root := repoRoot()
	out := cmd.OutOrStdout()

	taskDir, err := task.ResolveOrCurrent(root, args[0])
	if err != nil {
		return err
	}
	if err := workspace.SetCurrentTask(root, taskDir); err != nil {
		return err
	}

	rel, relErr := filepath.Rel(root, taskDir)
	if relErr != nil {
		rel = taskDir
	}
	fmt.Fprintf(out, "✓ Current task set to: %s\n", rel)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "The hook will now inject context from this task's jsonl files.")
	return nil
}

func runTaskFinish(cmd *cobra.Command, args []string) error {
	root := repoRoot()
	out := cmd.OutOrStdout()

	taskDir, err := task.ResolveOrCurrent(root, taskArg(args, 0))
	if err != nil {
		return err
	}
	task.Complete(taskDir, time.Now())
	fmt.Fprintf(out, "✓ Task completed: %s\n", filepath.Base(taskDir))

	if current := workspace.CurrentTask(root); current != "" && strings.Contains(current, filepath.Base(taskDir)) {
		_ = workspace.ClearCurrentTask(root)
		fmt.Fprintln(out, "✓ Cleared current task")
	}
	return nil
}

func runTaskArchive(cmd *cobra.Command, args []string) error {
	root := repoRoot()
	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()

	name := taskArg(args, 0)
	if name == "" {
		current := workspace.CurrentTaskAbs(root)
		if current == "" {
			return errors.ErrNoCurrentTask
		}
		name = filepath.Base(current)
	}

	dest, err := task.Archive(root, name, time.Now())
	if err != nil {
		return err
	}
	dirName := filepath.Base(dest)
	yearMonth := filepath.Base(filepath.Dir(dest))
	fmt.Fprintf(errOut, "Archived: %s -> archive/%s/\n", dirName, yearMonth)

	// Archive path on stdout for script chaining.
	fmt.Fprintln(out, filepath.Join(workspace.WorkflowDirName, workspace.TasksDirName, workspace.ArchiveDirName, yearMonth, dirName))
	return nil
}

func updateTaskField(cmd *cobra.Command, target string, update func(*task.Task)) (string, error) {
	taskDir, err := task.ResolveOrCurrent(repoRoot(), target)
	if err != nil {
		return "", err
	}
	if !task.Exists(taskDir) {
		return "", errors.NewNotFoundError("task.json", taskDir)
	}
	return taskDir, task.Update(taskDir, update)
}

func runTaskSetBranch(cmd *cobra.Command, args []string) error {
	branch := args[0]
	_, err := updateTaskField(cmd, taskArg(args, 1), func(t *task.Task) {
		t.Branch = branch
	})
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Branch set to: %s\n", branch)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Now you can start an agent:")
	fmt.Fprintln(out, "  trellis agent start <task>")
	return nil
}

func runTaskSetBaseBranch(cmd *cobra.Command, args []string) error {
	base := args[0]
	_, err := updateTaskField(cmd, taskArg(args, 1), func(t *task.Task) {
		t.BaseBranch = base
	})
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Base branch set to: %s\n", base)
	fmt.Fprintf(out, "  PR will target: %s\n", base)
	return nil
}

func runTaskSetScope(cmd *cobra.Command, args []string) error {
	scope := args[0]
	_, err := updateTaskField(cmd, taskArg(args, 1), func(t *task.Task) {
		t.Scope = scope
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Scope set to: %s\n", scope)
	return nil
}

func runTaskSetPhase(cmd *cobra.Command, args []string) error {
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return errors.NewValidationError("phase must be a number").WithField("phase")
	}
	taskDir, err := task.ResolveOrCurrent(repoRoot(), taskArg(args, 1))
	if err != nil {
		return err
	}
	if !phase.Set(taskDir, n) {
		return errors.NewNotFoundError("task.json", taskDir)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Phase set to: %s\n", phase.Info(taskDir))
	return nil
}

func runTaskAdvance(cmd *cobra.Command, args []string) error {
	root := repoRoot()
	out := cmd.OutOrStdout()

	action := taskArg(args, 0)
	taskDir, err := task.ResolveOrCurrent(root, taskArg(args, 1))
	if err != nil {
		return err
	}

	if action == "" {
		if !phase.Advance(taskDir) {
			fmt.Fprintf(out, "Phase unchanged: %s\n", phase.Info(taskDir))
			return nil
		}
		fmt.Fprintf(out, "✓ Advanced to phase: %s\n", phase.Info(taskDir))
		return nil
	}

	agent := phase.MapSubagent(action)
	_, advanced := phase.AdvanceForAction(taskDir, agent, config.Get().Phase.SkipActions)
	if !advanced {
		fmt.Fprintf(out, "Phase unchanged: %s\n", phase.Info(taskDir))
		return nil
	}
	fmt.Fprintf(out, "✓ Advanced to phase: %s\n", phase.Info(taskDir))
	return nil
}

func runTaskInitContext(cmd *cobra.Command, args []string) error {
	root := repoRoot()
	out := cmd.OutOrStdout()
	devType := args[0]

	taskDir, err := task.ResolveOrCurrent(root, taskArg(args, 1))
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "=== Initializing Agent Context Files ===")
	fmt.Fprintf(out, "Target dir: %s\n", taskDir)
	fmt.Fprintf(out, "Dev type: %s\n", devType)
	fmt.Fprintln(out)

	summaries, err := task.InitContext(taskDir, devType, adapterFromConfig(root, config.Get()))
	if err != nil {
		return err
	}
	for _, summary := range summaries {
		fmt.Fprintf(out, "Creating %s...\n", summary.Name)
		fmt.Fprintf(out, "  ✓ %d entries\n", summary.Entries)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "✓ All context files created")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Next steps:")
	fmt.Fprintln(out, "  1. Add task-specific specs: trellis task add-context <jsonl> <path>")
	fmt.Fprintf(out, "  2. Set as current: trellis task start %s\n", filepath.Base(taskDir))
	return nil
}

func runTaskAddContext(cmd *cobra.Command, args []string) error {
	root := repoRoot()
	out := cmd.OutOrStdout()

	taskDir, err := task.ResolveOrCurrent(root, taskArg(args, 3))
	if err != nil {
		return err
	}

	entryType, added, err := task.AddContext(root, taskDir, args[0], args[1], taskArg(args, 2))
	if err != nil {
		return err
	}
	if !added {
		fmt.Fprintf(out, "Warning: Entry already exists for %s\n", args[1])
		return nil
	}
	fmt.Fprintf(out, "Added %s: %s\n", entryType, args[1])
	return nil
}

func runTaskValidateContext(cmd *cobra.Command, args []string) error {
	root := repoRoot()
	out := cmd.OutOrStdout()

	taskDir, err := task.ResolveOrCurrent(root, taskArg(args, 0))
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "=== Validating Context Files ===")
	fmt.Fprintf(out, "Target dir: %s\n", taskDir)
	fmt.Fprintln(out)

	total := 0
	for _, result := range task.ValidateContext(root, taskDir) {
		if !result.Present {
			fmt.Fprintf(out, "  %s: not found (skipped)\n", result.Name)
			continue
		}
		for _, issue := range result.Issues {
			fmt.Fprintf(out, "  %s:%d: %s\n", result.Name, issue.Line, issue.Message)
		}
		if len(result.Issues) == 0 {
			fmt.Fprintf(out, "  %s: ✓ (%d entries)\n", result.Name, result.Entries)
		} else {
			fmt.Fprintf(out, "  %s: ✗ (%d errors)\n", result.Name, len(result.Issues))
			total += len(result.Issues)
		}
	}

	fmt.Fprintln(out)
	if total > 0 {
		fmt.Fprintf(out, "✗ Validation failed (%d errors)\n", total)
		return errors.New("context validation failed")
	}
	fmt.Fprintln(out, "✓ All validations passed")
	return nil
}

func runTaskListContext(cmd *cobra.Command, args []string) error {
	root := repoRoot()
	out := cmd.OutOrStdout()

	taskDir, err := task.ResolveOrCurrent(root, taskArg(args, 0))
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "=== Context Files ===")
	fmt.Fprintln(out)

	for _, file := range task.ListContext(taskDir) {
		fmt.Fprintf(out, "[%s]\n", file.Name)
		for i, entry := range file.Entries {
			if entry.Type == "directory" {
				fmt.Fprintf(out, "  %d. [DIR] %s\n", i+1, entry.File)
			} else {
				fmt.Fprintf(out, "  %d. %s\n", i+1, entry.File)
			}
			reason := entry.Reason
			if reason == "" {
				reason = "-"
			}
			fmt.Fprintf(out, "     → %s\n", reason)
		}
		fmt.Fprintln(out)
	}
	return nil
}
