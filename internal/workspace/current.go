package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// currentTaskFile returns the path of the current-task pointer file.
func currentTaskFile(root string) string {
	return filepath.Join(WorkflowDir(root), CurrentTaskFileName)
}

// CurrentTask returns the repo-relative path of the current task, or the
// empty string if none is set.
func CurrentTask(root string) string {
	data, err := os.ReadFile(currentTaskFile(root))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// CurrentTaskAbs returns the absolute path of the current task directory,
// or the empty string if none is set.
func CurrentTaskAbs(root string) string {
	rel := CurrentTask(root)
	if rel == "" {
		return ""
	}
	return filepath.Join(root, rel)
}

// SetCurrentTask records taskPath as the current task. The path may be
// absolute or repo-relative; it is stored repo-relative. The directory
// must exist.
func SetCurrentTask(root, taskPath string) error {
	abs := taskPath
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(root, taskPath)
	}

	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("task directory does not exist: %s", taskPath)
	}

	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return fmt.Errorf("task path is outside the repository: %s", taskPath)
	}

	return os.WriteFile(currentTaskFile(root), []byte(rel), 0o644)
}

// ClearCurrentTask removes the current-task pointer. Missing pointer is
// not an error.
func ClearCurrentTask(root string) error {
	err := os.Remove(currentTaskFile(root))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// HasCurrentTask reports whether a current task is set.
func HasCurrentTask(root string) bool {
	return CurrentTask(root) != ""
}
