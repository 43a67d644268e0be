// Package worktree manages the git worktrees that isolate agent work. Each
// task gets a worktree tied 1:1 to its branch, provisioned from worktree.yaml
// (environment files, post-create hooks) and destroyed on cleanup.
package worktree

import (
	"os"
	"os/exec"
	"strings"

	"github.com/trellis-dev/trellis/internal/errors"
)

// CommandExecutor abstracts command execution for testability.
// This allows tests to mock git commands without executing them.
type CommandExecutor interface {
	// Run executes a command and returns combined output.
	Run(dir string, name string, args ...string) ([]byte, error)

	// RunQuiet executes a command and returns only the error.
	RunQuiet(dir string, name string, args ...string) error
}

// CLICommandExecutor executes commands using os/exec.
type CLICommandExecutor struct{}

// Run executes a command and returns combined output.
func (e *CLICommandExecutor) Run(dir string, name string, args ...string) ([]byte, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

// RunQuiet executes a command and returns only the error.
func (e *CLICommandExecutor) RunQuiet(dir string, name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	return cmd.Run()
}

// Worktree is one entry from git worktree list.
type Worktree struct {
	Path   string
	Branch string
}

// Manager runs git operations for worktree provisioning, cleanup, and the
// commit/push steps of PR creation. All repository-level commands execute in
// the repo root; path arguments name the worktree to operate in.
type Manager struct {
	repoDir  string
	executor CommandExecutor
}

// New creates a Manager rooted at repoDir.
func New(repoDir string) *Manager {
	return &Manager{repoDir: repoDir, executor: &CLICommandExecutor{}}
}

// NewWithExecutor creates a Manager with a custom executor.
// This is primarily useful for testing.
func NewWithExecutor(repoDir string, executor CommandExecutor) *Manager {
	return &Manager{repoDir: repoDir, executor: executor}
}

// RepoDir returns the repository root the manager operates on.
func (m *Manager) RepoDir() string {
	return m.repoDir
}

// CurrentBranch returns the branch checked out at the repository root.
func (m *Manager) CurrentBranch() (string, error) {
	output, err := m.executor.Run(m.repoDir, "git", "branch", "--show-current")
	if err != nil {
		return "", errors.NewGitError("failed to read current branch", err).
			WithGitOutput(string(output))
	}
	return strings.TrimSpace(string(output)), nil
}

// BranchExists reports whether a local branch exists.
func (m *Manager) BranchExists(branch string) bool {
	return m.executor.RunQuiet(m.repoDir, "git", "show-ref", "--verify", "--quiet", "refs/heads/"+branch) == nil
}

// Add creates a worktree for branch at path. When the branch does not exist
// yet it is created from the current HEAD.
func (m *Manager) Add(path, branch string) error {
	args := []string{"worktree", "add", "-b", branch, path}
	if m.BranchExists(branch) {
		args = []string{"worktree", "add", path, branch}
	}

	output, err := m.executor.Run(m.repoDir, "git", args...)
	if err != nil {
		return errors.NewGitError("failed to create worktree", err).
			WithBranch(branch).
			WithWorktree(path).
			WithGitOutput(string(output))
	}
	return nil
}

// Remove removes a worktree. When git refuses, the directory is deleted
// manually and stale worktree references are pruned.
func (m *Manager) Remove(path string) error {
	output, err := m.executor.Run(m.repoDir, "git", "worktree", "remove", "--force", path)
	if err != nil {
		_ = os.RemoveAll(path)
		_, _ = m.executor.Run(m.repoDir, "git", "worktree", "prune")

		return errors.NewGitError("failed to remove worktree cleanly", err).
			WithWorktree(path).
			WithGitOutput(string(output))
	}
	return nil
}

// DeleteBranch force-deletes a local branch.
func (m *Manager) DeleteBranch(branch string) error {
	output, err := m.executor.Run(m.repoDir, "git", "branch", "-D", branch)
	if err != nil {
		if strings.Contains(string(output), "not found") {
			return errors.NewGitError("branch not found", errors.ErrBranchNotFound).
				WithBranch(branch).
				WithGitOutput(string(output))
		}
		return errors.NewGitError("failed to delete branch", err).
			WithBranch(branch).
			WithGitOutput(string(output))
	}
	return nil
}

// List returns all worktrees with their checked-out branches. Detached
// worktrees appear with an empty Branch.
func (m *Manager) List() ([]Worktree, error) {
	output, err := m.executor.Run(m.repoDir, "git", "worktree", "list", "--porcelain")
	if err != nil {
		return nil, errors.NewGitError("failed to list worktrees", err).
			WithGitOutput(string(output))
	}

	var worktrees []Worktree
	for _, line := range strings.Split(string(output), "\n") {
		switch {
		case strings.HasPrefix(line, "worktree "):
			worktrees = append(worktrees, Worktree{Path: strings.TrimPrefix(line, "worktree ")})
		case strings.HasPrefix(line, "branch refs/heads/") && len(worktrees) > 0:
			worktrees[len(worktrees)-1].Branch = strings.TrimPrefix(line, "branch refs/heads/")
		}
	}
	return worktrees, nil
}

// ListText returns the human-readable `git worktree list` output.
func (m *Manager) ListText() (string, error) {
	output, err := m.executor.Run(m.repoDir, "git", "worktree", "list")
	if err != nil {
		return "", errors.NewGitError("failed to list worktrees", err).
			WithGitOutput(string(output))
	}
	return string(output), nil
}

// FindForBranch returns the worktree checked out on branch.
func (m *Manager) FindForBranch(branch string) (*Worktree, error) {
	worktrees, err := m.List()
	if err != nil {
		return nil, err
	}
	for i := range worktrees {
		if worktrees[i].Branch == branch {
			return &worktrees[i], nil
		}
	}
	return nil, errors.Wrapf(errors.ErrWorktreeNotFound, "branch %s", branch)
}

// MainBranch returns the branch origin/HEAD points at, falling back to
// "main" when the symbolic ref is not set.
func (m *Manager) MainBranch() string {
	output, err := m.executor.Run(m.repoDir, "git", "symbolic-ref", "refs/remotes/origin/HEAD")
	if err != nil {
		return "main"
	}
	branch := strings.TrimPrefix(strings.TrimSpace(string(output)), "refs/remotes/origin/")
	if branch == "" {
		return "main"
	}
	return branch
}

// MergedBranches returns local branches fully merged into mainBranch,
// excluding mainBranch itself.
func (m *Manager) MergedBranches(mainBranch string) ([]string, error) {
	output, err := m.executor.Run(m.repoDir, "git", "branch", "--merged", mainBranch)
	if err != nil {
		return nil, errors.NewGitError("failed to list merged branches", err).
			WithBranch(mainBranch).
			WithGitOutput(string(output))
	}

	var branches []string
	for _, line := range strings.Split(string(output), "\n") {
		branch := strings.TrimLeft(strings.TrimSpace(line), "* ")
		if branch != "" && branch != mainBranch {
			branches = append(branches, branch)
		}
	}
	return branches, nil
}

// StatusShort returns the porcelain short status of a worktree.
func (m *Manager) StatusShort(path string) (string, error) {
	output, err := m.executor.Run(path, "git", "status", "--short")
	if err != nil {
		return "", errors.NewGitError("failed to check status", err).
			WithWorktree(path).
			WithGitOutput(string(output))
	}
	return string(output), nil
}

// StageAll stages every change in the worktree.
func (m *Manager) StageAll(path string) error {
	output, err := m.executor.Run(path, "git", "add", "-A")
	if err != nil {
		return errors.NewGitError("failed to stage changes", err).
			WithWorktree(path).
			WithGitOutput(string(output))
	}
	return nil
}

// Unstage removes the given pathspecs from the index. Pathspecs that match
// nothing are not an error.
func (m *Manager) Unstage(path string, pathspecs ...string) error {
	args := append([]string{"reset"}, pathspecs...)
	output, err := m.executor.Run(path, "git", args...)
	if err != nil {
		return errors.NewGitError("failed to unstage paths", err).
			WithWorktree(path).
			WithGitOutput(string(output))
	}
	return nil
}

// ResetIndex unstages everything, restoring the index to HEAD.
func (m *Manager) ResetIndex(path string) error {
	output, err := m.executor.Run(path, "git", "reset", "HEAD")
	if err != nil {
		return errors.NewGitError("failed to reset index", err).
			WithWorktree(path).
			WithGitOutput(string(output))
	}
	return nil
}

// HasStagedChanges reports whether anything is staged for commit.
func (m *Manager) HasStagedChanges(path string) bool {
	return m.executor.RunQuiet(path, "git", "diff", "--cached", "--quiet") != nil
}

// StagedFiles returns the paths currently staged for commit.
func (m *Manager) StagedFiles(path string) ([]string, error) {
	output, err := m.executor.Run(path, "git", "diff", "--cached", "--name-only")
	if err != nil {
		return nil, errors.NewGitError("failed to list staged files", err).
			WithWorktree(path).
			WithGitOutput(string(output))
	}

	lines := strings.TrimSpace(string(output))
	if lines == "" {
		return []string{}, nil
	}
	return strings.Split(lines, "\n"), nil
}

// UnpushedCount returns the number of commits on branch that origin does not
// have. A branch with no upstream counts as fully pushed.
func (m *Manager) UnpushedCount(path, branch string) int {
	output, err := m.executor.Run(path, "git", "log", "origin/"+branch+"..HEAD", "--oneline")
	if err != nil {
		return 0
	}

	count := 0
	for _, line := range strings.Split(string(output), "\n") {
		if strings.TrimSpace(line) != "" {
			count++
		}
	}
	return count
}

// Commit records the staged changes with the given message.
func (m *Manager) Commit(path, message string) error {
	output, err := m.executor.Run(path, "git", "commit", "-m", message)
	if err != nil {
		return errors.NewGitError("failed to commit changes", err).
			WithWorktree(path).
			WithGitOutput(string(output))
	}
	return nil
}

// PushUpstream pushes branch to origin, setting the upstream ref.
func (m *Manager) PushUpstream(path, branch string) error {
	output, err := m.executor.Run(path, "git", "push", "-u", "origin", branch)
	if err != nil {
		return errors.NewGitError("failed to push", err).
			WithBranch(branch).
			WithWorktree(path).
			WithGitOutput(string(output))
	}
	return nil
}
