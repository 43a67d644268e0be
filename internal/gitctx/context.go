// Package gitctx assembles the session context report an agent reads at
// session start: developer identity, git state, the task queue, and the
// active journal file. Every lookup degrades to an empty value so a
// half-initialized repository still produces a report.
package gitctx

import (
	"encoding/json"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/trellis-dev/trellis/internal/config"
	"github.com/trellis-dev/trellis/internal/task"
	"github.com/trellis-dev/trellis/internal/workspace"
	"github.com/trellis-dev/trellis/internal/worktree"
)

// recentCommitCount is how much history the report includes.
const recentCommitCount = 5

// Commit is one line of recent history.
type Commit struct {
	Hash    string `json:"hash"`
	Message string `json:"message"`
}

// GitInfo describes the repository state.
type GitInfo struct {
	Branch             string   `json:"branch"`
	IsClean            bool     `json:"isClean"`
	UncommittedChanges int      `json:"uncommittedChanges"`
	RecentCommits      []Commit `json:"recentCommits"`
}

// ActiveTask is one entry of the active queue.
type ActiveTask struct {
	Dir    string `json:"dir"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// TasksInfo lists the active queue and where it lives.
type TasksInfo struct {
	Active    []ActiveTask `json:"active"`
	Directory string       `json:"directory"`
}

// JournalInfo describes the active journal file.
type JournalInfo struct {
	File      string `json:"file"`
	Lines     int    `json:"lines"`
	NearLimit bool   `json:"nearLimit"`
}

// Context is the full session context.
type Context struct {
	Developer string      `json:"developer"`
	Git       GitInfo     `json:"git"`
	Tasks     TasksInfo   `json:"tasks"`
	Journal   JournalInfo `json:"journal"`
}

// Reporter gathers session context for one repository root.
type Reporter struct {
	root string
	cfg  *config.Config
	exec worktree.CommandExecutor
}

// NewReporter returns a Reporter rooted at the repository root.
func NewReporter(root string, cfg *config.Config) *Reporter {
	return NewReporterWithExecutor(root, cfg, &worktree.CLICommandExecutor{})
}

// NewReporterWithExecutor creates a Reporter with a custom executor.
// This is primarily useful for testing.
func NewReporterWithExecutor(root string, cfg *config.Config, exec worktree.CommandExecutor) *Reporter {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Reporter{root: root, cfg: cfg, exec: exec}
}

// git runs a git command in the repository root, returning its output or
// the empty string on failure.
func (r *Reporter) git(args ...string) string {
	output, err := r.exec.Run(r.root, "git", args...)
	if err != nil {
		return ""
	}
	return string(output)
}

// branch returns the checked-out branch, or "unknown".
func (r *Reporter) branch() string {
	branch := strings.TrimSpace(r.git("branch", "--show-current"))
	if branch == "" {
		return "unknown"
	}
	return branch
}

// uncommitted counts the non-blank porcelain status lines.
func (r *Reporter) uncommitted() int {
	count := 0
	for _, line := range strings.Split(r.git("status", "--porcelain"), "\n") {
		if strings.TrimSpace(line) != "" {
			count++
		}
	}
	return count
}

// recentCommits splits git log --oneline into hash/message pairs.
func (r *Reporter) recentCommits() []Commit {
	commits := []Commit{}
	for _, line := range strings.Split(r.git("log", "--oneline", "-"+strconv.Itoa(recentCommitCount)), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		hash, message, _ := strings.Cut(line, " ")
		commits = append(commits, Commit{Hash: hash, Message: message})
	}
	return commits
}

// activeTasks lists every active task with a readable descriptor.
func (r *Reporter) activeTasks() []ActiveTask {
	active := []ActiveTask{}
	for _, dir := range task.Dirs(r.root) {
		t := task.Read(filepath.Join(workspace.TasksDir(r.root), dir))
		if t == nil {
			continue
		}
		name := t.Name
		if name == "" {
			name = t.ID
		}
		if name == "" {
			name = "unknown"
		}
		status := t.Status
		if status == "" {
			status = "unknown"
		}
		active = append(active, ActiveTask{Dir: dir, Name: name, Status: status})
	}
	return active
}

// Collect builds the full context. It never fails; missing pieces come
// back empty.
func (r *Reporter) Collect() *Context {
	developer := workspace.Developer(r.root)

	journal := JournalInfo{}
	if file := workspace.ActiveJournalFile(r.root); file != "" && developer != "" {
		journal.Lines = workspace.CountLines(file)
		journal.File = workspace.WorkflowDirName + "/" + workspace.WorkspaceDirName +
			"/" + developer + "/" + filepath.Base(file)
		journal.NearLimit = journal.Lines > r.cfg.Journal.WarnLines
	}

	uncommitted := r.uncommitted()
	return &Context{
		Developer: developer,
		Git: GitInfo{
			Branch:             r.branch(),
			IsClean:            uncommitted == 0,
			UncommittedChanges: uncommitted,
			RecentCommits:      r.recentCommits(),
		},
		Tasks: TasksInfo{
			Active:    r.activeTasks(),
			Directory: workspace.WorkflowDirName + "/" + workspace.TasksDirName,
		},
		Journal: journal,
	}
}

// JSON renders the context as indented JSON.
func (r *Reporter) JSON() ([]byte, error) {
	return json.MarshalIndent(r.Collect(), "", "  ")
}
