// Package filelock guards multi-process mutations of shared workflow
// files with advisory lock files. A lock is a sibling <path>.lock file
// created exclusively and holding the owner's PID. Locks whose owner is
// dead, or that outlive the staleness window, are broken on acquire, so
// a crashed process never wedges the workspace.
package filelock

import (
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/trellis-dev/trellis/internal/errors"
)

const (
	retryInterval = 10 * time.Millisecond
	// staleAfter bounds how long any holder may keep a lock. Guarded
	// critical sections are single read-modify-write cycles, so a lock
	// this old belongs to a hung or dead process.
	staleAfter = 10 * time.Second
)

// Lock is a held advisory lock.
type Lock struct {
	path string
}

// Acquire takes the advisory lock for path, waiting up to timeout for a
// live holder to release it. Stale locks are broken and retried.
func Acquire(path string, timeout time.Duration) (*Lock, error) {
	lockPath := path + ".lock"
	deadline := time.Now().Add(timeout)

	for {
		err := tryLock(lockPath)
		if err == nil {
			return &Lock{path: lockPath}, nil
		}
		if !os.IsExist(err) {
			return nil, errors.Wrapf(err, "failed to create lock %s", lockPath)
		}

		breakIfStale(lockPath)
		if time.Now().After(deadline) {
			return nil, errors.Wrapf(errors.ErrLockHeld, "%s", lockPath)
		}
		time.Sleep(retryInterval)
	}
}

// Release removes the lock file. Releasing an already-released lock is
// a no-op.
func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func tryLock(lockPath string) error {
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	_, werr := f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		os.Remove(lockPath)
		return werr
	}
	return nil
}

// breakIfStale removes the lock when its owner is gone or it exceeds
// the staleness window. Two processes may race the removal; the loser
// of the subsequent exclusive create simply retries.
func breakIfStale(lockPath string) {
	info, err := os.Stat(lockPath)
	if err != nil {
		return
	}
	if time.Since(info.ModTime()) > staleAfter {
		os.Remove(lockPath)
		return
	}

	data, err := os.ReadFile(lockPath)
	if err != nil {
		return
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		// An empty or garbled lock file is a failed tryLock cleanup.
		os.Remove(lockPath)
		return
	}
	if !pidAlive(pid) {
		os.Remove(lockPath)
	}
}

// pidAlive probes for process existence with signal 0.
func pidAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
