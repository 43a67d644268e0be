package agent

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/trellis-dev/trellis/internal/errors"
	"github.com/trellis-dev/trellis/internal/registry"
	"github.com/trellis-dev/trellis/internal/task"
	"github.com/trellis-dev/trellis/internal/workspace"
	"github.com/trellis-dev/trellis/internal/worktree"
)

// ConfirmFunc answers an interactive prompt.
type ConfirmFunc func(prompt string) bool

// ConfirmAll approves every prompt, for --yes runs.
func ConfirmAll(string) bool { return true }

// Cleaner unwinds what a launch left behind: the task directory is
// archived, the registry entry removed, the worktree destroyed, and the
// branch deleted.
type Cleaner struct {
	root    string
	manager *worktree.Manager
	out     io.Writer
	confirm ConfirmFunc
}

// NewCleaner returns a Cleaner rooted at the repository root. A nil
// confirm approves everything.
func NewCleaner(root string, manager *worktree.Manager, out io.Writer, confirm ConfirmFunc) *Cleaner {
	if out == nil {
		out = io.Discard
	}
	if confirm == nil {
		confirm = ConfirmAll
	}
	return &Cleaner{root: root, manager: manager, out: out, confirm: confirm}
}

func (c *Cleaner) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format+"\n", args...)
}

func (c *Cleaner) ask(prompt string, skip bool) bool {
	if skip {
		return true
	}
	return c.confirm(prompt)
}

// CleanupBranch removes the worktree paired with branch. When no
// worktree exists the registry entry alone is cleaned up.
func (c *Cleaner) CleanupBranch(branch string, keepBranch bool) error {
	return c.cleanupWorktree(branch, keepBranch, false)
}

func (c *Cleaner) cleanupWorktree(branch string, keepBranch, skipConfirm bool) error {
	wt, err := c.manager.FindForBranch(branch)
	if err != nil {
		if errors.Is(err, errors.ErrWorktreeNotFound) {
			c.printf("Warning: no worktree found for: %s", branch)
			c.printf("Trying to cleanup from registry...")
			return c.cleanupRegistryOnly(branch, skipConfirm)
		}
		return err
	}

	c.printf("Branch:   %s", branch)
	c.printf("Worktree: %s", wt.Path)

	if !c.ask("Remove this worktree?", skipConfirm) {
		c.printf("Aborted")
		return nil
	}

	c.archiveTaskFor(wt.Path)

	if err := registry.RemoveByWorktree(c.root, wt.Path); err == nil {
		c.printf("Removed from registry")
	}

	c.printf("Removing worktree...")
	if err := c.manager.Remove(wt.Path); err != nil {
		// Remove already fell back to deleting the directory and
		// pruning; only a directory that is still there is fatal.
		if isDir(wt.Path) {
			return err
		}
	}
	c.printf("Worktree removed")

	if !keepBranch {
		c.printf("Deleting branch...")
		if err := c.manager.DeleteBranch(branch); err != nil {
			c.printf("Warning: could not delete branch (may be checked out elsewhere)")
		}
	}

	c.printf("Cleanup complete for: %s", branch)
	return nil
}

// archiveTaskFor moves the registered task directory of a worktree into
// the monthly archive. Missing or unsafe registry paths are skipped.
func (c *Cleaner) archiveTaskFor(worktreePath string) {
	taskDir := registry.TaskDirFor(c.root, worktreePath)
	if taskDir == "" || task.CheckSafePath(c.root, taskDir) != nil {
		return
	}

	taskDirAbs := filepath.Join(c.root, taskDir)
	if !isDir(taskDirAbs) {
		return
	}

	if dest, err := task.MoveToArchive(taskDirAbs, time.Now()); err == nil {
		c.printf("Archived task: %s -> %s/%s/",
			filepath.Base(dest), workspace.ArchiveDirName, filepath.Base(filepath.Dir(dest)))
	}
}

// cleanupRegistryOnly archives a registered task and drops its registry
// entry when no worktree exists for it.
func (c *Cleaner) cleanupRegistryOnly(search string, skipConfirm bool) error {
	entry := registry.Find(c.root, search)
	if entry == nil {
		return errors.Wrapf(errors.ErrAgentNotFound, "no agent found in registry matching: %s", search)
	}

	c.printf("Agent ID: %s", entry.ID)
	c.printf("Task Dir: %s", entry.TaskDir)

	if !c.ask("Archive task and remove from registry?", skipConfirm) {
		c.printf("Aborted")
		return nil
	}

	if entry.TaskDir != "" && task.CheckSafePath(c.root, entry.TaskDir) == nil {
		taskDirAbs := filepath.Join(c.root, entry.TaskDir)
		if isDir(taskDirAbs) {
			if dest, err := task.MoveToArchive(taskDirAbs, time.Now()); err == nil {
				c.printf("Archived task: %s -> %s/%s/",
					filepath.Base(dest), workspace.ArchiveDirName, filepath.Base(filepath.Dir(dest)))
			}
		}
	} else {
		c.printf("Warning: invalid task_dir in registry, skipping archive")
	}

	if err := registry.RemoveByID(c.root, entry.ID); err != nil {
		return err
	}
	c.printf("Removed from registry: %s", entry.ID)
	c.printf("Cleanup complete")
	return nil
}

// CleanupMerged removes every worktree whose branch is merged into the
// main branch. One confirmation covers the whole batch.
func (c *Cleaner) CleanupMerged(keepBranch bool) error {
	mainBranch := c.manager.MainBranch()

	merged, err := c.manager.MergedBranches(mainBranch)
	if err != nil {
		return err
	}
	if len(merged) == 0 {
		c.printf("No merged branches found")
		return nil
	}

	worktrees, err := c.manager.List()
	if err != nil {
		return err
	}
	byBranch := make(map[string]bool, len(worktrees))
	for _, wt := range worktrees {
		if wt.Branch != "" {
			byBranch[wt.Branch] = true
		}
	}

	var targets []string
	for _, branch := range merged {
		if byBranch[branch] {
			targets = append(targets, branch)
			c.printf("  - %s", branch)
		}
	}
	if len(targets) == 0 {
		c.printf("No merged worktrees found")
		return nil
	}

	if !c.ask("Remove these merged worktrees?", false) {
		c.printf("Aborted")
		return nil
	}

	for _, branch := range targets {
		if err := c.cleanupWorktree(branch, keepBranch, true); err != nil {
			c.printf("Warning: cleanup failed for %s: %v", branch, err)
		}
	}
	return nil
}

// CleanupAll removes every worktree except the main checkout.
func (c *Cleaner) CleanupAll(keepBranch bool) error {
	worktrees, err := c.manager.List()
	if err != nil {
		return err
	}

	mainWorktree, err := filepath.EvalSymlinks(c.root)
	if err != nil {
		mainWorktree = c.root
	}

	var targets []worktree.Worktree
	for _, wt := range worktrees {
		resolved, err := filepath.EvalSymlinks(wt.Path)
		if err != nil {
			resolved = wt.Path
		}
		if resolved != mainWorktree {
			targets = append(targets, wt)
		}
	}
	if len(targets) == 0 {
		c.printf("No worktrees to remove")
		return nil
	}

	for _, wt := range targets {
		c.printf("  - %s", wt.Path)
	}
	c.printf("WARNING: This will remove ALL worktrees!")

	if !c.ask("Are you sure?", false) {
		c.printf("Aborted")
		return nil
	}

	for _, wt := range targets {
		if wt.Branch == "" {
			c.printf("Skipping detached worktree: %s", wt.Path)
			continue
		}
		if err := c.cleanupWorktree(wt.Branch, keepBranch, true); err != nil {
			c.printf("Warning: cleanup failed for %s: %v", wt.Branch, err)
		}
	}
	return nil
}

// ListWorktrees prints the raw worktree list followed by the registered
// agents.
func (c *Cleaner) ListWorktrees() error {
	text, err := c.manager.ListText()
	if err != nil {
		return err
	}
	c.printf("%s", text)

	entries := registry.List(c.root)
	if registry.File(c.root) == "" {
		return nil
	}
	c.printf("Registered agents:")
	if len(entries) == 0 {
		c.printf("  (none)")
		return nil
	}
	for _, entry := range entries {
		c.printf("  %s: PID=%d [%s]", entry.ID, entry.PID, entry.WorktreePath)
	}
	return nil
}
