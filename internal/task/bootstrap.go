package task

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/trellis-dev/trellis/internal/errors"
	"github.com/trellis-dev/trellis/internal/workspace"
)

// BootstrapTaskName is the guided first-time setup task created by init.
const BootstrapTaskName = "00-bootstrap-guidelines"

// Project types accepted by the bootstrap task.
func ValidProjectTypes() []string {
	return []string{"frontend", "backend", "fullstack"}
}

// CreateBootstrap creates the guided bootstrap task for a freshly
// initialized workspace and sets it as the current task. Unknown project
// types fall back to fullstack. Idempotent: an existing bootstrap task is
// left untouched (created=false). Returns the repo-relative task path.
func CreateBootstrap(root, projectType string, now time.Time) (relPath string, created bool, err error) {
	valid := false
	for _, t := range ValidProjectTypes() {
		if projectType == t {
			valid = true
			break
		}
	}
	if !valid {
		projectType = "fullstack"
	}

	developer := workspace.Developer(root)
	if developer == "" {
		return "", false, errors.ErrDeveloperNotInitialized
	}

	taskDir := filepath.Join(workspace.TasksDir(root), BootstrapTaskName)
	relPath = filepath.Join(workspace.WorkflowDirName, workspace.TasksDirName, BootstrapTaskName)

	if _, statErr := os.Stat(taskDir); statErr == nil {
		return relPath, false, nil
	}

	if err := os.MkdirAll(taskDir, 0o755); err != nil {
		return "", false, fmt.Errorf("failed to create bootstrap task directory: %w", err)
	}

	t := bootstrapTask(developer, projectType, now)
	if err := Save(taskDir, t); err != nil {
		return "", false, err
	}

	prd := bootstrapPRD(projectType)
	if err := os.WriteFile(filepath.Join(taskDir, "prd.md"), []byte(prd), 0o644); err != nil {
		return "", false, fmt.Errorf("failed to write prd.md: %w", err)
	}

	if err := workspace.SetCurrentTask(root, taskDir); err != nil {
		return "", false, err
	}
	return relPath, true, nil
}

func bootstrapTask(developer, projectType string, now time.Time) *Task {
	var subtasks []Subtask
	var relatedFiles []string

	switch projectType {
	case "frontend":
		subtasks = []Subtask{
			{Name: "Fill frontend guidelines", Status: "pending"},
			{Name: "Add code examples", Status: "pending"},
		}
		relatedFiles = []string{".trellis/spec/frontend/"}
	case "backend":
		subtasks = []Subtask{
			{Name: "Fill backend guidelines", Status: "pending"},
			{Name: "Add code examples", Status: "pending"},
		}
		relatedFiles = []string{".trellis/spec/backend/"}
	default:
		subtasks = []Subtask{
			{Name: "Fill backend guidelines", Status: "pending"},
			{Name: "Fill frontend guidelines", Status: "pending"},
			{Name: "Add code examples", Status: "pending"},
		}
		relatedFiles = []string{".trellis/spec/backend/", ".trellis/spec/frontend/"}
	}

	return &Task{
		ID:           BootstrapTaskName,
		Name:         "Bootstrap Guidelines",
		Description:  "Fill in project development guidelines for AI agents",
		Status:       StatusInProgress,
		DevType:      "docs",
		Priority:     PriorityP1,
		Creator:      developer,
		Assignee:     developer,
		CreatedAt:    now.Format("2006-01-02"),
		NextAction:   []PhaseStep{},
		Subtasks:     subtasks,
		RelatedFiles: relatedFiles,
		Notes:        fmt.Sprintf("First-time setup task created by trellis init (%s project)", projectType),
	}
}

const bootstrapPRDHeader = `# Bootstrap: Fill Project Development Guidelines

## Purpose

Welcome to Trellis! This is your first task.

AI agents use ` + "`.trellis/spec/`" + ` to understand YOUR project's coding conventions.
**Empty templates = AI writes generic code that doesn't match your project style.**

Filling these guidelines is a one-time setup that pays off for every future AI session.

---

## Your Task

Fill in the guideline files based on your **existing codebase**.
`

const bootstrapPRDBackend = `

### Backend Guidelines

| File | What to Document |
|------|------------------|
| ` + "`.trellis/spec/backend/directory-structure.md`" + ` | Where different file types go (routes, services, utils) |
| ` + "`.trellis/spec/backend/database-guidelines.md`" + ` | ORM, migrations, query patterns, naming conventions |
| ` + "`.trellis/spec/backend/error-handling.md`" + ` | How errors are caught, logged, and returned |
| ` + "`.trellis/spec/backend/logging-guidelines.md`" + ` | Log levels, format, what to log |
| ` + "`.trellis/spec/backend/quality-guidelines.md`" + ` | Code review standards, testing requirements |
`

const bootstrapPRDFrontend = `

### Frontend Guidelines

| File | What to Document |
|------|------------------|
| ` + "`.trellis/spec/frontend/directory-structure.md`" + ` | Component/page/hook organization |
| ` + "`.trellis/spec/frontend/component-guidelines.md`" + ` | Component patterns, props conventions |
| ` + "`.trellis/spec/frontend/hook-guidelines.md`" + ` | Custom hook naming, patterns |
| ` + "`.trellis/spec/frontend/state-management.md`" + ` | State library, patterns, what goes where |
| ` + "`.trellis/spec/frontend/type-safety.md`" + ` | TypeScript conventions, type organization |
| ` + "`.trellis/spec/frontend/quality-guidelines.md`" + ` | Linting, testing, accessibility |
`

const bootstrapPRDFooter = `

### Thinking Guides (Optional)

The ` + "`.trellis/spec/guides/`" + ` directory contains thinking guides that are already
filled with general best practices. You can customize them for your project if needed.

---

## How to Fill Guidelines

### Principle: Document Reality, Not Ideals

Write what your codebase **actually does**, not what you wish it did.
AI needs to match existing patterns, not introduce new ones.

### Steps

1. **Look at existing code** - Find 2-3 examples of each pattern
2. **Document the pattern** - Describe what you see
3. **Include file paths** - Reference real files as examples
4. **List anti-patterns** - What does your team avoid?

---

## Tips for Using AI

Ask AI to help analyze your codebase:

- "Look at my codebase and document the patterns you see"
- "Analyze my code structure and summarize the conventions"
- "Find error handling patterns and document them"

The AI will read your code and help you document it.

---

## Completion Checklist

- [ ] Guidelines filled for your project type
- [ ] At least 2-3 real code examples in each guideline
- [ ] Anti-patterns documented

When done:

` + "```bash" + `
trellis task finish
trellis task archive 00-bootstrap-guidelines
` + "```" + `

---

## Why This Matters

After completing this task:

1. AI will write code that matches your project style
2. Relevant ` + "`/trellis:before-*-dev`" + ` commands will inject real context
3. ` + "`/trellis:check-*`" + ` commands will validate against your actual standards
4. Future developers (human or AI) will onboard faster
`

func bootstrapPRD(projectType string) string {
	content := bootstrapPRDHeader
	switch projectType {
	case "frontend":
		content += bootstrapPRDFrontend
	case "backend":
		content += bootstrapPRDBackend
	default:
		content += bootstrapPRDBackend
		content += bootstrapPRDFrontend
	}
	return content + bootstrapPRDFooter
}
