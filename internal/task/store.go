package task

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/trellis-dev/trellis/internal/errors"
	"github.com/trellis-dev/trellis/internal/workspace"
)

// File returns the task.json path inside a task directory.
func File(taskDir string) string {
	return filepath.Join(taskDir, workspace.TaskFileName)
}

// Exists reports whether a task.json is present in the directory.
func Exists(taskDir string) bool {
	info, err := os.Stat(File(taskDir))
	return err == nil && info.Mode().IsRegular()
}

// Load reads and parses the descriptor, reporting failures.
func Load(taskDir string) (*Task, error) {
	data, err := os.ReadFile(File(taskDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewTaskError("task.json not found", errors.ErrTaskNotFound).WithTaskID(filepath.Base(taskDir))
		}
		return nil, fmt.Errorf("failed to read task.json: %w", err)
	}

	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse task.json: %w", err)
	}
	return &t, nil
}

// Read is the silent variant of Load: missing or corrupt descriptors
// yield nil so callers can fall back to defaults.
func Read(taskDir string) *Task {
	t, err := Load(taskDir)
	if err != nil {
		return nil
	}
	return t
}

// Save writes the descriptor atomically as indented JSON.
func Save(taskDir string, t *Task) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal task.json: %w", err)
	}
	data = append(data, '\n')
	return atomicWriteFile(File(taskDir), data, 0o644)
}

// Update applies fn to the loaded descriptor and saves the result.
func Update(taskDir string, fn func(*Task)) error {
	t, err := Load(taskDir)
	if err != nil {
		return err
	}
	fn(t)
	return Save(taskDir, t)
}

// EnsureDirs creates the tasks and archive directories if absent.
func EnsureDirs(root string) error {
	for _, dir := range []string{workspace.TasksDir(root), workspace.ArchiveDir(root)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// CreateDir materializes a descriptor as a dated task directory
// (MM-DD-<id>) under the tasks tree and saves it there. An existing
// directory is reused and its descriptor overwritten; existed reports
// that case so callers can warn.
func CreateDir(root string, t *Task, now time.Time) (taskDir string, existed bool, err error) {
	if err := EnsureDirs(root); err != nil {
		return "", false, err
	}

	dirName := workspace.TaskDatePrefix(now) + "-" + t.ID
	taskDir = filepath.Join(workspace.TasksDir(root), dirName)

	if _, statErr := os.Stat(taskDir); statErr == nil {
		existed = true
	} else if err := os.MkdirAll(taskDir, 0o755); err != nil {
		return "", false, fmt.Errorf("failed to create task directory: %w", err)
	}

	if err := Save(taskDir, t); err != nil {
		return "", false, err
	}
	return taskDir, existed, nil
}

// atomicWriteFile writes data to a file atomically by writing to a
// temporary file in the same directory and renaming it into place.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)

	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}
