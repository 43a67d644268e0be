// Package errors provides centralized error definitions and error handling
// utilities for the trellis codebase. It defines domain-specific errors,
// semantic error types, error constructors with context wrapping, and error
// classification helpers.
//
// # Error Types
//
// Domain-specific errors represent errors from specific subsystems:
//   - TaskError: errors related to task directories and descriptors
//   - GitError: errors related to git operations (worktrees, branches, commits)
//   - LaunchError: errors related to launching agent processes
//
// Semantic errors represent common error conditions:
//   - NotFoundError: resource not found
//   - ValidationError: invalid input or state
//
// # Usage
//
// Creating errors:
//
//	err := errors.NewTaskError("cannot launch agent", errors.ErrTaskRejected)
//	err = err.WithTaskID("08-21-fix-login")
//
//	err := errors.NewGitError("worktree add failed", baseErr).WithBranch("feature-x")
//
// Checking errors:
//
//	if errors.Is(err, errors.ErrTaskRejected) { ... }
//
//	var gitErr *errors.GitError
//	if errors.As(err, &gitErr) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Task-related sentinel errors
var (
	// ErrTaskNotFound indicates that a task directory could not be resolved.
	ErrTaskNotFound = New("task not found")
	// ErrTaskRejected indicates that a task has been rejected and is not
	// eligible for further agent launches.
	ErrTaskRejected = New("task is rejected")
	// ErrTaskCompleted indicates that a task is already completed and is not
	// eligible for further agent launches.
	ErrTaskCompleted = New("task is completed")
	// ErrUnsafeTaskPath indicates that a task path failed safety validation.
	ErrUnsafeTaskPath = New("unsafe task path")
	// ErrNoCurrentTask indicates that no current task pointer is set.
	ErrNoCurrentTask = New("no current task")
)

// Workspace-related sentinel errors
var (
	// ErrDeveloperNotInitialized indicates that no developer identity exists.
	ErrDeveloperNotInitialized = New("developer not initialized")
)

// Git-related sentinel errors
var (
	// ErrWorktreeNotFound indicates that a worktree could not be found.
	ErrWorktreeNotFound = New("worktree not found")
	// ErrBranchNotFound indicates that a branch could not be found.
	ErrBranchNotFound = New("branch not found")
	// ErrHookFailed indicates that a post-create hook exited non-zero.
	ErrHookFailed = New("post-create hook failed")
	// ErrNoChanges indicates there is nothing staged and nothing unpushed,
	// so there is no material for a pull request.
	ErrNoChanges = New("no changes to create PR")
)

// Agent-related sentinel errors
var (
	// ErrAgentNotFound indicates that no registry entry matched.
	ErrAgentNotFound = New("agent not found")
	// ErrAgentNotRunning indicates that a registered agent process is dead.
	ErrAgentNotRunning = New("agent not running")
	// ErrLogNotFound indicates the agent's worktree has no log file yet.
	ErrLogNotFound = New("log file not found")
	// ErrUnknownPlatform indicates an unrecognized platform tag.
	ErrUnknownPlatform = New("unknown platform")
	// ErrLockHeld indicates another live process holds an advisory lock.
	ErrLockHeld = New("lock held by another process")
)

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// baseError provides common functionality for all error types.
type baseError struct {
	message string
	cause   error
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// TaskError represents errors related to task directories and descriptors.
//
// Example:
//
//	err := errors.NewTaskError("cannot launch agent", errors.ErrTaskRejected)
//	err = err.WithTaskID("08-21-fix-login")
type TaskError struct {
	baseError
	TaskID string
}

// NewTaskError creates a new TaskError.
func NewTaskError(message string, cause error) *TaskError {
	return &TaskError{
		baseError: baseError{message: message, cause: cause},
	}
}

// WithTaskID adds a task ID to the error context.
func (e *TaskError) WithTaskID(id string) *TaskError {
	e.TaskID = id
	return e
}

// Error returns the formatted error message.
func (e *TaskError) Error() string {
	prefix := "task error"
	if e.TaskID != "" {
		prefix = fmt.Sprintf("task error [task=%s]", e.TaskID)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *TaskError) Is(target error) bool {
	if _, ok := target.(*TaskError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// GitError represents errors related to git operations.
//
// Example:
//
//	err := errors.NewGitError("failed to create worktree", baseErr)
//	err = err.WithBranch("feature-x").WithWorktree("/path/to/worktree")
type GitError struct {
	baseError
	Branch    string
	Worktree  string
	GitOutput string // Captured git command output
}

// NewGitError creates a new GitError.
func NewGitError(message string, cause error) *GitError {
	return &GitError{
		baseError: baseError{message: message, cause: cause},
	}
}

// WithBranch adds a branch name to the error context.
func (e *GitError) WithBranch(branch string) *GitError {
	e.Branch = branch
	return e
}

// WithWorktree adds a worktree path to the error context.
func (e *GitError) WithWorktree(path string) *GitError {
	e.Worktree = path
	return e
}

// WithGitOutput adds git command output to the error context.
func (e *GitError) WithGitOutput(output string) *GitError {
	e.GitOutput = strings.TrimSpace(output)
	return e
}

// Error returns the formatted error message.
func (e *GitError) Error() string {
	var parts []string
	if e.Branch != "" {
		parts = append(parts, fmt.Sprintf("branch=%s", e.Branch))
	}
	if e.Worktree != "" {
		parts = append(parts, fmt.Sprintf("worktree=%s", e.Worktree))
	}

	prefix := "git error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("git error [%s]", strings.Join(parts, ", "))
	}

	msg := e.message
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.cause)
	}
	if e.GitOutput != "" {
		msg = fmt.Sprintf("%s\ngit output: %s", msg, e.GitOutput)
	}

	return fmt.Sprintf("%s: %s", prefix, msg)
}

// Is checks if this error matches the target.
func (e *GitError) Is(target error) bool {
	if _, ok := target.(*GitError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// LaunchError represents errors related to launching agent processes.
type LaunchError struct {
	baseError
	AgentID  string
	Platform string
}

// NewLaunchError creates a new LaunchError.
func NewLaunchError(message string, cause error) *LaunchError {
	return &LaunchError{
		baseError: baseError{message: message, cause: cause},
	}
}

// WithAgentID adds an agent ID to the error context.
func (e *LaunchError) WithAgentID(id string) *LaunchError {
	e.AgentID = id
	return e
}

// WithPlatform adds a platform tag to the error context.
func (e *LaunchError) WithPlatform(platform string) *LaunchError {
	e.Platform = platform
	return e
}

// Error returns the formatted error message.
func (e *LaunchError) Error() string {
	var parts []string
	if e.AgentID != "" {
		parts = append(parts, fmt.Sprintf("agent=%s", e.AgentID))
	}
	if e.Platform != "" {
		parts = append(parts, fmt.Sprintf("platform=%s", e.Platform))
	}

	prefix := "launch error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("launch error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *LaunchError) Is(target error) bool {
	if _, ok := target.(*LaunchError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found.
//
// Example:
//
//	err := errors.NewNotFoundError("task", "08-21-fix-login")
//	fmt.Println(err) // "task '08-21-fix-login' not found"
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message: fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s '%s' not found: %v", e.ResourceType, e.ResourceID, e.cause)
	}
	return fmt.Sprintf("%s '%s' not found", e.ResourceType, e.ResourceID)
}

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError represents invalid input or state.
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{message: message},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}

	prefix := "validation error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("validation error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Classification Helpers
// -----------------------------------------------------------------------------

// IsNotFound returns true if the error represents a missing resource.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var notFound *NotFoundError
	if As(err, &notFound) {
		return true
	}
	return Is(err, ErrTaskNotFound) || Is(err, ErrAgentNotFound) ||
		Is(err, ErrWorktreeNotFound) || Is(err, ErrBranchNotFound)
}

// IsIneligible returns true if the error indicates a task that must not
// receive further agent launches (rejected or completed status).
func IsIneligible(err error) bool {
	if err == nil {
		return false
	}
	return Is(err, ErrTaskRejected) || Is(err, ErrTaskCompleted)
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
//
// Example:
//
//	err := errors.Wrap(baseErr, "failed to provision worktree")
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
