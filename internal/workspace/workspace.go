// Package workspace locates and manages the .trellis workflow tree: the
// repository root, the developer identity, per-developer workspace
// directories, journal files, and the current-task pointer.
package workspace

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/trellis-dev/trellis/internal/errors"
)

// Directory names under the repository root.
const (
	WorkflowDirName  = ".trellis"
	WorkspaceDirName = "workspace"
	TasksDirName     = "tasks"
	ArchiveDirName   = "archive"
	SpecDirName      = "spec"
	AgentsDirName    = ".agents"
)

// File names inside the workflow tree.
const (
	DeveloperFileName   = ".developer"
	CurrentTaskFileName = ".current-task"
	TaskFileName        = "task.json"
	PRDFileName         = "prd.md"
	JournalFilePrefix   = "journal-"
)

// FindRoot returns the nearest ancestor of start that contains a .trellis
// directory. This handles nested git repos correctly (e.g., a test project
// inside another repo). An empty start means the current directory. If no
// .trellis directory is found, the resolved start directory is returned.
func FindRoot(start string) string {
	if start == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "."
		}
		start = cwd
	}

	abs, err := filepath.Abs(start)
	if err != nil {
		return start
	}

	current := abs
	for {
		info, err := os.Stat(filepath.Join(current, WorkflowDirName))
		if err == nil && info.IsDir() {
			return current
		}

		parent := filepath.Dir(current)
		if parent == current {
			return abs
		}
		current = parent
	}
}

// WorkflowDir returns <root>/.trellis.
func WorkflowDir(root string) string {
	return filepath.Join(root, WorkflowDirName)
}

// TasksDir returns <root>/.trellis/tasks.
func TasksDir(root string) string {
	return filepath.Join(root, WorkflowDirName, TasksDirName)
}

// ArchiveDir returns <root>/.trellis/tasks/archive.
func ArchiveDir(root string) string {
	return filepath.Join(TasksDir(root), ArchiveDirName)
}

// SpecDir returns <root>/.trellis/spec.
func SpecDir(root string) string {
	return filepath.Join(root, WorkflowDirName, SpecDirName)
}

// Developer returns the developer name from the .developer file, or the
// empty string if not initialized or unreadable.
func Developer(root string) string {
	data, err := os.ReadFile(filepath.Join(WorkflowDir(root), DeveloperFileName))
	if err != nil {
		return ""
	}

	for _, line := range strings.Split(string(data), "\n") {
		if name, ok := strings.CutPrefix(line, "name="); ok {
			return strings.TrimSpace(name)
		}
	}
	return ""
}

// EnsureDeveloper returns an error if no developer identity exists.
func EnsureDeveloper(root string) error {
	if Developer(root) == "" {
		return errors.ErrDeveloperNotInitialized
	}
	return nil
}

// Dir returns the developer's workspace directory
// (<root>/.trellis/workspace/<developer>), or the empty string if the
// developer is not initialized.
func Dir(root string) string {
	developer := Developer(root)
	if developer == "" {
		return ""
	}
	return filepath.Join(root, WorkflowDirName, WorkspaceDirName, developer)
}

// AgentsDir returns the registry directory inside the developer workspace
// (<workspace>/.agents), or the empty string if the developer is not
// initialized.
func AgentsDir(root string) string {
	dir := Dir(root)
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, AgentsDirName)
}

var journalNumRe = regexp.MustCompile(`(\d+)$`)

// ActiveJournalFile returns the journal file with the highest numeric
// suffix in the developer workspace, or the empty string if none exists.
func ActiveJournalFile(root string) string {
	dir := Dir(root)
	if dir == "" {
		return ""
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}

	latest := ""
	highest := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, JournalFilePrefix) || !strings.HasSuffix(name, ".md") {
			continue
		}
		stem := strings.TrimSuffix(name, ".md")
		match := journalNumRe.FindString(stem)
		if match == "" {
			continue
		}
		num := atoiSafe(match)
		if num > highest {
			highest = num
			latest = filepath.Join(dir, name)
		}
	}
	return latest
}

// CountLines returns the number of lines in a file, or 0 if the file does
// not exist or cannot be read.
func CountLines(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	content := strings.TrimSuffix(string(data), "\n")
	if content == "" {
		return 0
	}
	return strings.Count(content, "\n") + 1
}

func atoiSafe(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}

// TaskDatePrefix returns the MM-DD prefix used for task directory names.
func TaskDatePrefix(now time.Time) string {
	return now.Format("01-02")
}
