package task

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/trellis-dev/trellis/internal/workspace"
)

// Complete marks the descriptor completed with a completion date. Missing
// or corrupt descriptors are left alone.
func Complete(taskDir string, now time.Time) {
	t := Read(taskDir)
	if t == nil {
		return
	}
	t.Status = StatusCompleted
	t.CompletedAt = now.Format("2006-01-02")
	_ = Save(taskDir, t)
}

// MoveToArchive moves a task directory into its monthly archive bucket
// (archive/YYYY-MM/ next to the task) and returns the destination.
// Archival is always a move, never a delete.
func MoveToArchive(taskDirAbs string, now time.Time) (string, error) {
	info, err := os.Stat(taskDirAbs)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("task directory not found: %s", taskDirAbs)
	}

	tasksDir := filepath.Dir(taskDirAbs)
	monthDir := filepath.Join(tasksDir, workspace.ArchiveDirName, now.Format("2006-01"))
	if err := os.MkdirAll(monthDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create archive directory: %w", err)
	}

	dest := filepath.Join(monthDir, filepath.Base(taskDirAbs))
	if err := os.Rename(taskDirAbs, dest); err != nil {
		return "", fmt.Errorf("failed to move task to archive: %w", err)
	}
	return dest, nil
}

// Archive completes and archives the named task: the descriptor gets
// status completed and a completion date, the current-task pointer is
// cleared if it referenced this task, and the directory moves to
// archive/YYYY-MM/. Returns the destination path.
func Archive(root, name string, now time.Time) (string, error) {
	taskDir := FindByName(workspace.TasksDir(root), name)
	if taskDir == "" {
		return "", fmt.Errorf("task not found: %s", name)
	}

	Complete(taskDir, now)

	if current := workspace.CurrentTask(root); current != "" && strings.Contains(current, filepath.Base(taskDir)) {
		_ = workspace.ClearCurrentTask(root)
	}

	return MoveToArchive(taskDir, now)
}

// ArchivedMonths lists YYYY-MM archive buckets in ascending order.
func ArchivedMonths(root string) []string {
	entries, err := os.ReadDir(workspace.ArchiveDir(root))
	if err != nil {
		return nil
	}
	var months []string
	for _, entry := range entries {
		if entry.IsDir() {
			months = append(months, entry.Name())
		}
	}
	return months
}

// ArchivedTasks lists task directory names inside one monthly bucket.
func ArchivedTasks(root, month string) []string {
	entries, err := os.ReadDir(filepath.Join(workspace.ArchiveDir(root), month))
	if err != nil {
		return nil
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	return names
}
