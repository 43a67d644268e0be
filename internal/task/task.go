// Package task manages task directories under .trellis/tasks: the
// task.json descriptor, context files, lookup and path safety, archival,
// and queue-level listings.
package task

import (
	"time"
)

// Task statuses.
const (
	StatusPlanning   = "planning"
	StatusInProgress = "in_progress"
	StatusReview     = "review"
	StatusCompleted  = "completed"
	StatusRejected   = "rejected"
)

// Priorities, highest first.
const (
	PriorityP0 = "P0"
	PriorityP1 = "P1"
	PriorityP2 = "P2"
	PriorityP3 = "P3"
)

// DefaultPriority is assigned when none is given.
const DefaultPriority = PriorityP2

// PhaseStep pairs a phase number with the action that advances into it.
type PhaseStep struct {
	Phase  int    `json:"phase"`
	Action string `json:"action"`
}

// Subtask is a named checklist item inside a task.
type Subtask struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// Task is the task.json descriptor. Optional fields marshal away when
// empty so descriptors written by older tooling round-trip cleanly.
type Task struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Title        string      `json:"title,omitempty"`
	Description  string      `json:"description"`
	Status       string      `json:"status"`
	DevType      string      `json:"dev_type,omitempty"`
	Scope        string      `json:"scope,omitempty"`
	Priority     string      `json:"priority"`
	Creator      string      `json:"creator"`
	Assignee     string      `json:"assignee"`
	CreatedAt    string      `json:"createdAt"`
	CompletedAt  string      `json:"completedAt,omitempty"`
	Branch       string      `json:"branch,omitempty"`
	BaseBranch   string      `json:"base_branch,omitempty"`
	WorktreePath string      `json:"worktree_path,omitempty"`
	CurrentPhase int         `json:"current_phase"`
	NextAction   []PhaseStep `json:"next_action"`
	Commit       string      `json:"commit,omitempty"`
	PRURL        string      `json:"pr_url,omitempty"`
	Subtasks     []Subtask   `json:"subtasks"`
	RelatedFiles []string    `json:"relatedFiles"`
	Notes        string      `json:"notes"`
}

// DefaultPhases returns the standard pipeline for a new task.
func DefaultPhases() []PhaseStep {
	return []PhaseStep{
		{Phase: 1, Action: "implement"},
		{Phase: 2, Action: "check"},
		{Phase: 3, Action: "finish"},
		{Phase: 4, Action: "create-pr"},
	}
}

// New builds a task descriptor with creation defaults. baseBranch records
// the branch the eventual PR will target.
func New(slug, title, creator, assignee, priority, description, baseBranch string, now time.Time) *Task {
	if priority == "" {
		priority = DefaultPriority
	}
	return &Task{
		ID:           slug,
		Name:         slug,
		Title:        title,
		Description:  description,
		Status:       StatusPlanning,
		Priority:     priority,
		Creator:      creator,
		Assignee:     assignee,
		CreatedAt:    now.Format("2006-01-02"),
		BaseBranch:   baseBranch,
		CurrentPhase: 0,
		NextAction:   DefaultPhases(),
		Subtasks:     []Subtask{},
		RelatedFiles: []string{},
	}
}

// IsEligible reports whether the task may receive further agent launches.
// Rejected and completed tasks are terminal.
func (t *Task) IsEligible() bool {
	return t.Status != StatusRejected && t.Status != StatusCompleted
}

// DisplayTitle returns the title, falling back to the name.
func (t *Task) DisplayTitle() string {
	if t.Title != "" {
		return t.Title
	}
	return t.Name
}
