package gitctx

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/trellis-dev/trellis/internal/task"
	"github.com/trellis-dev/trellis/internal/workspace"
)

// changedFileLimit caps the change listing under GIT STATUS.
const changedFileLimit = 10

const reportRule = "========================================"

// Text renders the session context as the report agents read verbatim.
// A missing developer identity short-circuits to an error line since
// nothing else in the workflow works without one.
func (r *Reporter) Text() string {
	var lines []string
	add := func(format string, args ...any) {
		lines = append(lines, fmt.Sprintf(format, args...))
	}

	add(reportRule)
	add("SESSION CONTEXT")
	add(reportRule)
	add("")

	developer := workspace.Developer(r.root)
	add("## DEVELOPER")
	if developer == "" {
		add("ERROR: Not initialized. Run: trellis init <name>")
		return strings.Join(lines, "\n")
	}
	add("Name: %s", developer)
	add("")

	add("## GIT STATUS")
	add("Branch: %s", r.branch())
	uncommitted := r.uncommitted()
	if uncommitted == 0 {
		add("Working directory: Clean")
	} else {
		add("Working directory: %d uncommitted change(s)", uncommitted)
		add("")
		add("Changes:")
		shown := 0
		for _, change := range strings.Split(r.git("status", "--short"), "\n") {
			if strings.TrimSpace(change) == "" {
				continue
			}
			add("%s", change)
			shown++
			if shown == changedFileLimit {
				break
			}
		}
	}
	add("")

	add("## RECENT COMMITS")
	log := strings.TrimSpace(r.git("log", "--oneline", "-"+strconv.Itoa(recentCommitCount)))
	if log != "" {
		for _, commit := range strings.Split(log, "\n") {
			add("%s", commit)
		}
	} else {
		add("(no commits)")
	}
	add("")

	add("## CURRENT TASK")
	if current := workspace.CurrentTask(r.root); current != "" {
		currentDir := workspace.CurrentTaskAbs(r.root)
		add("Path: %s", current)
		if t := task.Read(currentDir); t != nil {
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
			created := t.CreatedAt
			if created == "" {
				created = "unknown"
			}
			add("Name: %s", name)
			add("Status: %s", status)
			add("Created: %s", created)
			if t.Description != "" {
				add("Description: %s", t.Description)
			}
		}
		if _, err := os.Stat(filepath.Join(currentDir, workspace.PRDFileName)); err == nil {
			add("")
			add("[!] This task has prd.md - read it for task details")
		}
	} else {
		add("(none)")
	}
	add("")

	add("## ACTIVE TASKS")
	dirs := task.Dirs(r.root)
	for _, dir := range dirs {
		status, assignee := "unknown", "-"
		if t := task.Read(filepath.Join(workspace.TasksDir(r.root), dir)); t != nil {
			if t.Status != "" {
				status = t.Status
			}
			if t.Assignee != "" {
				assignee = t.Assignee
			}
		}
		add("- %s/ (%s) @%s", dir, status, assignee)
	}
	if len(dirs) == 0 {
		add("(no active tasks)")
	}
	add("Total: %d active task(s)", len(dirs))
	add("")

	add("## MY TASKS (Assigned to me)")
	mine := 0
	for _, dir := range dirs {
		t := task.Read(filepath.Join(workspace.TasksDir(r.root), dir))
		if t == nil || t.Assignee != developer || t.Status == task.StatusCompleted {
			continue
		}
		title := t.Title
		if title == "" {
			title = t.Name
		}
		if title == "" {
			title = "unknown"
		}
		priority := t.Priority
		if priority == "" {
			priority = task.PriorityP2
		}
		status := t.Status
		if status == "" {
			status = task.StatusPlanning
		}
		add("- [%s] %s (%s)", priority, title, status)
		mine++
	}
	if mine == 0 {
		add("(no tasks assigned to you)")
	}
	add("")

	add("## JOURNAL FILE")
	if file := workspace.ActiveJournalFile(r.root); file != "" {
		count := workspace.CountLines(file)
		add("Active file: %s/%s/%s/%s",
			workspace.WorkflowDirName, workspace.WorkspaceDirName, developer, filepath.Base(file))
		add("Line count: %d / %d", count, r.cfg.Journal.MaxLines)
		if count > r.cfg.Journal.WarnLines {
			add("[!] WARNING: Approaching %d line limit!", r.cfg.Journal.MaxLines)
		}
	} else {
		add("No journal file found")
	}
	add("")

	add("## PATHS")
	add("Workspace: %s/%s/%s/", workspace.WorkflowDirName, workspace.WorkspaceDirName, developer)
	add("Tasks: %s/%s/", workspace.WorkflowDirName, workspace.TasksDirName)
	add("Spec: %s/%s/", workspace.WorkflowDirName, workspace.SpecDirName)
	add("")

	add(reportRule)
	return strings.Join(lines, "\n")
}
