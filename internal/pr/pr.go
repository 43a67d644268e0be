// Package pr turns a finished task into a draft pull request. It stages
// the worktree's changes minus workflow bookkeeping, commits them under a
// conventional-commit message derived from the task descriptor, pushes the
// branch, and opens the PR through the gh CLI with prd.md as the body.
package pr

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/trellis-dev/trellis/internal/agent"
	"github.com/trellis-dev/trellis/internal/errors"
	"github.com/trellis-dev/trellis/internal/logging"
	"github.com/trellis-dev/trellis/internal/phase"
	"github.com/trellis-dev/trellis/internal/task"
	"github.com/trellis-dev/trellis/internal/workspace"
	"github.com/trellis-dev/trellis/internal/worktree"
)

// createPRAction is the next_action entry that marks PR creation; the
// completion update jumps current_phase to it.
const createPRAction = "create-pr"

// createPRPhaseFallback applies when the descriptor defines no create-pr
// action.
const createPRPhaseFallback = 4

// dryRunURL stands in for the real PR URL during dry runs.
const dryRunURL = "https://github.com/example/repo/pull/DRY-RUN"

// commitPrefixes maps a task's dev_type to its conventional commit type.
var commitPrefixes = map[string]string{
	"feature":   "feat",
	"frontend":  "feat",
	"backend":   "feat",
	"fullstack": "feat",
	"bugfix":    "fix",
	"fix":       "fix",
	"refactor":  "refactor",
	"docs":      "docs",
	"test":      "test",
}

// CommitPrefix returns the conventional commit type for a dev type.
// Unknown types fall back to feat.
func CommitPrefix(devType string) string {
	if prefix, ok := commitPrefixes[devType]; ok {
		return prefix
	}
	return "feat"
}

// Creator drives the commit, push, and gh steps of PR creation.
type Creator struct {
	root string
	log  *logging.Logger
	out  io.Writer
	exec worktree.CommandExecutor
}

// NewCreator returns a Creator rooted at the repository root. Progress
// messages stream to out; pass nil to silence them.
func NewCreator(root string, log *logging.Logger, out io.Writer) *Creator {
	return NewCreatorWithExecutor(root, log, out, &worktree.CLICommandExecutor{})
}

// NewCreatorWithExecutor creates a Creator with a custom executor.
// This is primarily useful for testing.
func NewCreatorWithExecutor(root string, log *logging.Logger, out io.Writer, exec worktree.CommandExecutor) *Creator {
	if log == nil {
		log = logging.NopLogger()
	}
	if out == nil {
		out = io.Discard
	}
	return &Creator{root: root, log: log, out: out, exec: exec}
}

func (c *Creator) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format+"\n", args...)
}

// CreateOptions selects the task and toggles dry-run mode.
type CreateOptions struct {
	// TaskDir is the task directory, absolute or repo-relative.
	TaskDir string
	// DryRun walks the whole flow, printing what would happen, without
	// committing, pushing, or calling gh.
	DryRun bool
}

// CreateResult describes the created (or found) pull request.
type CreateResult struct {
	URL    string
	Title  string
	Branch string
	Base   string
	// Committed reports whether this run created a commit.
	Committed bool
	// Existing reports that an open PR for the branch was reused.
	Existing bool
}

// Create stages and commits the task's changes, pushes its branch, and
// opens a draft PR, then marks the descriptor completed. This is the only
// operation in the workflow that commits; it runs after every
// implementation and check phase has finished. Returns ErrNoChanges when
// nothing is staged and nothing is unpushed.
func (c *Creator) Create(opts CreateOptions) (*CreateResult, error) {
	taskDir := opts.TaskDir
	if !filepath.IsAbs(taskDir) {
		taskDir = filepath.Join(c.root, opts.TaskDir)
	}
	if !task.Exists(taskDir) {
		return nil, errors.Wrapf(errors.ErrTaskNotFound, "task.json not found at %s", task.File(taskDir))
	}

	t, err := task.Load(taskDir)
	if err != nil {
		return nil, err
	}

	base := t.BaseBranch
	if base == "" {
		base = "main"
	}
	scope := t.Scope
	if scope == "" {
		scope = "core"
	}
	devType := t.DevType
	if devType == "" {
		devType = "feature"
	}
	prefix := CommitPrefix(devType)
	title := fmt.Sprintf("%s(%s): %s", prefix, scope, t.Name)

	c.printf("=== Create PR ===")
	if opts.DryRun {
		c.printf("[DRY-RUN MODE] No actual changes will be made")
	}
	c.printf("")
	c.printf("Task: %s", t.Name)
	c.printf("Base branch: %s", base)
	c.printf("Scope: %s", scope)
	c.printf("Commit prefix: %s", prefix)
	c.printf("")

	// Git and gh run in the task's worktree when one is provisioned. When
	// invoked from inside a worktree the descriptor copy carries no
	// worktree_path and the root already is the worktree.
	workDir := c.root
	if t.WorktreePath != "" {
		if info, statErr := os.Stat(t.WorktreePath); statErr == nil && info.IsDir() {
			workDir = t.WorktreePath
		}
	}
	git := worktree.NewWithExecutor(workDir, c.exec)

	branch, err := git.CurrentBranch()
	if err != nil {
		return nil, err
	}
	c.printf("Current branch: %s", branch)

	result := &CreateResult{Title: title, Branch: branch, Base: base}

	c.printf("Checking for changes...")
	if err := git.StageAll(workDir); err != nil {
		return nil, err
	}
	// The developer workspace and agent bookkeeping files never go into PR
	// commits. Reset failures are harmless, the paths may not exist.
	_ = git.Unstage(workDir, workspace.WorkflowDirName+"/"+workspace.WorkspaceDirName+"/")
	_ = git.Unstage(workDir, agent.LogFileName, agent.SessionFileName)

	if git.HasStagedChanges(workDir) {
		c.printf("Committing changes...")
		if opts.DryRun {
			c.printf("[DRY-RUN] Would commit with message: %s", title)
			c.printf("[DRY-RUN] Staged files:")
			files, _ := git.StagedFiles(workDir)
			for _, file := range files {
				c.printf("  - %s", file)
			}
		} else {
			if err := git.Commit(workDir, title); err != nil {
				return nil, err
			}
			c.printf("Committed: %s", title)
			result.Committed = true
		}
	} else {
		c.printf("No staged changes to commit")
		unpushed := git.UnpushedCount(workDir, branch)
		if unpushed == 0 {
			if opts.DryRun {
				_ = git.ResetIndex(workDir)
			}
			return nil, errors.ErrNoChanges
		}
		c.printf("Found %d unpushed commit(s)", unpushed)
	}

	c.printf("Pushing to remote...")
	if opts.DryRun {
		c.printf("[DRY-RUN] Would push to: origin/%s", branch)
	} else {
		if err := git.PushUpstream(workDir, branch); err != nil {
			return nil, err
		}
		c.printf("Pushed to origin/%s", branch)
	}

	c.printf("Creating PR...")
	prdFile := filepath.Join(taskDir, workspace.PRDFileName)
	if opts.DryRun {
		c.printf("[DRY-RUN] Would create PR:")
		c.printf("  Title: %s", title)
		c.printf("  Base:  %s", base)
		c.printf("  Head:  %s", branch)
		if _, statErr := os.Stat(prdFile); statErr == nil {
			c.printf("  Body:  (from prd.md)")
		}
		result.URL = dryRunURL
	} else if existing := c.findExisting(workDir, branch, base); existing != "" {
		c.printf("PR already exists: %s", existing)
		result.URL = existing
		result.Existing = true
	} else {
		url, createErr := c.createDraft(workDir, base, title, prdFile)
		if createErr != nil {
			return nil, createErr
		}
		c.printf("PR created: %s", url)
		result.URL = url
	}

	c.printf("Updating task status...")
	if opts.DryRun {
		c.printf("[DRY-RUN] Would update task.json:")
		c.printf("  status: completed")
		c.printf("  pr_url: %s", result.URL)
		c.printf("  current_phase: (set to create-pr phase)")
	} else {
		completed := phase.PhaseForAction(taskDir, createPRAction)
		if completed == 0 {
			completed = createPRPhaseFallback
		}
		updateErr := task.Update(taskDir, func(u *task.Task) {
			u.Status = task.StatusCompleted
			u.PRURL = result.URL
			u.CurrentPhase = completed
		})
		if updateErr != nil {
			c.printf("Warning: failed to update task descriptor: %v", updateErr)
		} else {
			c.printf("Task status updated to 'completed', phase %d", completed)
		}
	}

	// Dry runs staged real changes above; put the index back.
	if opts.DryRun {
		_ = git.ResetIndex(workDir)
	}

	c.printf("")
	c.printf("=== PR Created Successfully ===")
	c.printf("PR URL: %s", result.URL)

	c.log.WithTask(t.ID).Info("pr created",
		"url", result.URL, "branch", branch, "base", base,
		"committed", result.Committed, "existing", result.Existing, "dry_run", opts.DryRun)

	return result, nil
}

// findExisting returns the URL of an open PR for the branch, or "". A gh
// failure (no remote repo, not authenticated) reads as no existing PR and
// surfaces later through the create call.
func (c *Creator) findExisting(dir, head, base string) string {
	output, err := c.exec.Run(dir, "gh", "pr", "list",
		"--head", head, "--base", base, "--json", "url", "--jq", ".[0].url")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(output))
}

// createDraft opens a draft PR with prd.md as the body and returns its URL.
func (c *Creator) createDraft(dir, base, title, prdFile string) (string, error) {
	body := ""
	if data, err := os.ReadFile(prdFile); err == nil {
		body = string(data)
	}
	output, err := c.exec.Run(dir, "gh", "pr", "create",
		"--draft", "--base", base, "--title", title, "--body", body)
	if err != nil {
		return "", errors.Wrapf(err, "failed to create PR: %s", strings.TrimSpace(string(output)))
	}
	return strings.TrimSpace(string(output)), nil
}
