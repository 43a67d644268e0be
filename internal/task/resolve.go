package task

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/trellis-dev/trellis/internal/errors"
	"github.com/trellis-dev/trellis/internal/workspace"
)

var (
	slugInvalidRe  = regexp.MustCompile(`[^a-z0-9]`)
	slugCollapseRe = regexp.MustCompile(`-+`)
)

// Slugify converts a title into a directory-safe slug. Non-alphanumeric
// runs collapse to single dashes; the result may be empty for titles with
// no ASCII alphanumerics.
func Slugify(title string) string {
	s := strings.ToLower(title)
	s = slugInvalidRe.ReplaceAllString(s, "-")
	s = slugCollapseRe.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// CheckSafePath validates a repo-relative task path before destructive
// operations. Rejects empty paths, absolute paths, traversal components,
// and paths that resolve to the repository root itself.
func CheckSafePath(root, taskPath string) error {
	if taskPath == "" || taskPath == "null" {
		return errors.Wrap(errors.ErrUnsafeTaskPath, "empty or null task path")
	}
	if strings.HasPrefix(taskPath, "/") {
		return errors.Wrapf(errors.ErrUnsafeTaskPath, "absolute path not allowed: %s", taskPath)
	}
	if taskPath == "." || taskPath == ".." ||
		strings.HasPrefix(taskPath, "./") || strings.HasPrefix(taskPath, "../") ||
		strings.Contains(taskPath, "..") {
		return errors.Wrapf(errors.ErrUnsafeTaskPath, "path traversal not allowed: %s", taskPath)
	}

	abs := filepath.Join(root, taskPath)
	if _, err := os.Stat(abs); err == nil {
		resolved, err := filepath.EvalSymlinks(abs)
		if err == nil {
			rootResolved, rerr := filepath.EvalSymlinks(root)
			if rerr == nil && resolved == rootResolved {
				return errors.Wrapf(errors.ErrUnsafeTaskPath, "path resolves to repo root: %s", taskPath)
			}
		}
	}

	return nil
}

// FindByName locates a task directory by exact name or by date-prefixed
// suffix match ("my-task" finds "01-21-my-task"). Returns the empty
// string when nothing matches.
func FindByName(tasksDir, name string) string {
	if name == "" || tasksDir == "" {
		return ""
	}

	exact := filepath.Join(tasksDir, name)
	if info, err := os.Stat(exact); err == nil && info.IsDir() {
		return exact
	}

	entries, err := os.ReadDir(tasksDir)
	if err != nil {
		return ""
	}
	for _, entry := range entries {
		if entry.IsDir() && strings.HasSuffix(entry.Name(), "-"+name) {
			return filepath.Join(tasksDir, entry.Name())
		}
	}
	return ""
}

// Resolve turns user input into an absolute task directory path. Accepts
// an absolute path, a repo-relative path (anything with a separator or a
// .trellis prefix), or a bare task name looked up in the tasks directory.
// Unresolvable names fall back to joining against the root; callers stat
// the result.
func Resolve(root, target string) string {
	if target == "" {
		return ""
	}

	if filepath.IsAbs(target) {
		return target
	}

	if strings.ContainsRune(target, '/') || strings.HasPrefix(target, workspace.WorkflowDirName) {
		return filepath.Join(root, target)
	}

	if found := FindByName(workspace.TasksDir(root), target); found != "" {
		return found
	}

	return filepath.Join(root, target)
}

// ResolveOrCurrent resolves target, falling back to the current task when
// target is empty. Returns ErrNoCurrentTask when neither is available.
func ResolveOrCurrent(root, target string) (string, error) {
	if target != "" {
		dir := Resolve(root, target)
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			return "", errors.NewNotFoundError("task", target)
		}
		return dir, nil
	}

	current := workspace.CurrentTaskAbs(root)
	if current == "" {
		return "", errors.ErrNoCurrentTask
	}
	if info, err := os.Stat(current); err != nil || !info.IsDir() {
		return "", errors.ErrNoCurrentTask
	}
	return current, nil
}
