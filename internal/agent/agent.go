// Package agent launches and monitors the detached CLI agents that work
// tasks inside git worktrees. A launch provisions the task's worktree,
// spawns the platform CLI as a background process logging to .agent-log,
// and registers the process in the developer's agent registry; the
// status, stop, resume, and cleanup operations inspect and unwind what
// launch left behind.
package agent

import (
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/trellis-dev/trellis/internal/errors"
)

// Files the launcher leaves inside a worktree.
const (
	LogFileName     = ".agent-log"
	SessionFileName = ".session-id"
)

// PlanLogFileName is the plan agent's log, kept inside the task
// directory since plan runs before any worktree exists.
const PlanLogFileName = ".plan-log"

// RejectedFileName is written by the plan agent when it declines a task.
const RejectedFileName = "REJECTED.md"

// Logical agent names installed by the workflow.
const (
	DispatchAgent = "dispatch"
	PlanAgent     = "plan"
)

// LogFile returns the agent log path for a worktree.
func LogFile(worktreePath string) string {
	return filepath.Join(worktreePath, LogFileName)
}

// SessionFile returns the session id file path for a worktree.
func SessionFile(worktreePath string) string {
	return filepath.Join(worktreePath, SessionFileName)
}

// SessionID reads the recorded session id for a worktree, or the empty
// string when none was recorded.
func SessionID(worktreePath string) string {
	data, err := os.ReadFile(SessionFile(worktreePath))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// IsRunning reports whether pid is a live process. Signal 0 probes for
// existence without delivering anything.
func IsRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

// Stop sends SIGTERM to a registered agent process.
func Stop(pid int) error {
	if !IsRunning(pid) {
		return errors.Wrapf(errors.ErrAgentNotRunning, "pid %d", pid)
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return errors.Wrapf(errors.ErrAgentNotRunning, "pid %d", pid)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return errors.Wrapf(err, "failed to stop pid %d", pid)
	}
	return nil
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func touchFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}
