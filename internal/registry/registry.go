// Package registry tracks launched agent processes in a single JSON file
// under the developer workspace (.agents/registry.json). Mutations take
// an advisory file lock so concurrent launches and cleanups from
// separate terminals never lose entries; reads stay lockless and a
// missing or unparseable file reads as empty.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/trellis-dev/trellis/internal/filelock"
	"github.com/trellis-dev/trellis/internal/workspace"
)

// FileName of the registry inside the agents directory.
const FileName = "registry.json"

// lockTimeout bounds the wait for a concurrent mutation to finish. The
// guarded section is a single read-modify-write of a small file.
const lockTimeout = 2 * time.Second

// Entry records one launched agent process.
type Entry struct {
	ID           string `json:"id"`
	WorktreePath string `json:"worktree_path"`
	PID          int    `json:"pid"`
	StartedAt    string `json:"started_at"`
	TaskDir      string `json:"task_dir"`
	Platform     string `json:"platform"`
}

type registryFile struct {
	Agents []Entry `json:"agents"`
}

// File returns the registry path, or the empty string when the developer
// workspace does not exist yet.
func File(root string) string {
	agentsDir := workspace.AgentsDir(root)
	if agentsDir == "" {
		return ""
	}
	return filepath.Join(agentsDir, FileName)
}

func read(root string) registryFile {
	path := File(root)
	if path == "" {
		return registryFile{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return registryFile{}
	}
	var reg registryFile
	if err := json.Unmarshal(data, &reg); err != nil {
		return registryFile{}
	}
	return reg
}

// write replaces the registry via a temp file and rename, so lockless
// readers never observe a partial write.
func write(root string, reg registryFile) error {
	path := File(root)
	if path == "" {
		return fmt.Errorf("no developer workspace for registry")
	}
	if reg.Agents == nil {
		reg.Agents = []Entry{}
	}
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(path), ".registry-*")
	if err != nil {
		return fmt.Errorf("failed to create temp registry: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write registry: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace registry: %w", err)
	}
	return nil
}

// Ensure creates the agents directory and an empty registry if absent.
func Ensure(root string) error {
	path := File(root)
	if path == "" {
		return fmt.Errorf("no developer workspace for registry")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create agents directory: %w", err)
	}
	lock, err := filelock.Acquire(path, lockTimeout)
	if err != nil {
		return err
	}
	defer lock.Release()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return write(root, registryFile{Agents: []Entry{}})
	}
	return nil
}

// Add registers an agent, replacing any existing entry with the same id.
// The first Add creates the registry file under the lock, so concurrent
// initial launches cannot wipe each other's entries.
func Add(root, id, worktreePath string, pid int, taskDir, platform string, now time.Time) error {
	path := File(root)
	if path == "" {
		return fmt.Errorf("no developer workspace for registry")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create agents directory: %w", err)
	}
	lock, err := filelock.Acquire(path, lockTimeout)
	if err != nil {
		return err
	}
	defer lock.Release()

	reg := read(root)
	kept := reg.Agents[:0]
	for _, agent := range reg.Agents {
		if agent.ID != id {
			kept = append(kept, agent)
		}
	}
	reg.Agents = append(kept, Entry{
		ID:           id,
		WorktreePath: worktreePath,
		PID:          pid,
		StartedAt:    now.Format(time.RFC3339),
		TaskDir:      taskDir,
		Platform:     platform,
	})
	return write(root, reg)
}

// RemoveByID deregisters by agent id. A missing registry counts as
// success.
func RemoveByID(root, id string) error {
	return removeWhere(root, func(e Entry) bool { return e.ID == id })
}

// RemoveByWorktree deregisters by worktree path. A missing registry
// counts as success.
func RemoveByWorktree(root, worktreePath string) error {
	return removeWhere(root, func(e Entry) bool { return e.WorktreePath == worktreePath })
}

func removeWhere(root string, match func(Entry) bool) error {
	path := File(root)
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	lock, err := filelock.Acquire(path, lockTimeout)
	if err != nil {
		return err
	}
	defer lock.Release()

	reg := read(root)
	kept := reg.Agents[:0]
	for _, agent := range reg.Agents {
		if !match(agent) {
			kept = append(kept, agent)
		}
	}
	reg.Agents = kept
	return write(root, reg)
}

// GetByID returns the entry with an exact id, or nil.
func GetByID(root, id string) *Entry {
	for _, agent := range List(root) {
		if agent.ID == id {
			e := agent
			return &e
		}
	}
	return nil
}

// GetByWorktree returns the entry for a worktree path, or nil.
func GetByWorktree(root, worktreePath string) *Entry {
	for _, agent := range List(root) {
		if agent.WorktreePath == worktreePath {
			e := agent
			return &e
		}
	}
	return nil
}

// Find returns the first entry whose id matches exactly or whose task
// directory contains the search term. Nil when nothing matches.
func Find(root, search string) *Entry {
	for _, agent := range List(root) {
		if agent.ID == search {
			e := agent
			return &e
		}
		if search != "" && strings.Contains(agent.TaskDir, search) {
			e := agent
			return &e
		}
	}
	return nil
}

// TaskDirFor returns the task directory registered for a worktree, or
// the empty string.
func TaskDirFor(root, worktreePath string) string {
	if agent := GetByWorktree(root, worktreePath); agent != nil {
		return agent.TaskDir
	}
	return ""
}

// List returns all registered agents. Missing or corrupt registries list
// as empty.
func List(root string) []Entry {
	return read(root).Agents
}
