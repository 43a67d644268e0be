package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Markers delimiting auto-maintained blocks in index.md. Everything
// between a begin and end marker is rewritten when sessions are recorded.
const (
	MarkerCurrentStatus   = "current-status"
	MarkerActiveDocuments = "active-documents"
	MarkerSessionHistory  = "session-history"
)

// MarkerBegin returns the opening marker line for a named block.
func MarkerBegin(name string) string {
	return "<!-- @@@auto:" + name + " -->"
}

// MarkerEnd returns the closing marker line for a named block.
func MarkerEnd(name string) string {
	return "<!-- @@@/auto:" + name + " -->"
}

// InitDeveloper records the developer identity and creates the workspace
// skeleton: the .developer file, the workspace directory, the first
// journal file, and index.md. Existing journal and index files are left
// untouched so re-running init is safe.
func InitDeveloper(root, name string, now time.Time) error {
	if name == "" {
		return fmt.Errorf("developer name is required")
	}

	devFile := filepath.Join(WorkflowDir(root), DeveloperFileName)
	workspaceDir := filepath.Join(root, WorkflowDirName, WorkspaceDirName, name)

	if err := os.MkdirAll(filepath.Dir(devFile), 0o755); err != nil {
		return fmt.Errorf("failed to create workflow directory: %w", err)
	}

	content := fmt.Sprintf("name=%s\ninitialized_at=%s\n", name, now.Format(time.RFC3339))
	if err := os.WriteFile(devFile, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to create .developer file: %w", err)
	}

	if err := os.MkdirAll(workspaceDir, 0o755); err != nil {
		return fmt.Errorf("failed to create workspace directory: %w", err)
	}

	today := now.Format("2006-01-02")

	journalFile := filepath.Join(workspaceDir, JournalFilePrefix+"1.md")
	if _, err := os.Stat(journalFile); os.IsNotExist(err) {
		journal := fmt.Sprintf(`# Journal - %s (Part 1)

> AI development session journal
> Started: %s

---

`, name, today)
		if err := os.WriteFile(journalFile, []byte(journal), 0o644); err != nil {
			return fmt.Errorf("failed to create journal file: %w", err)
		}
	}

	indexFile := filepath.Join(workspaceDir, "index.md")
	if _, err := os.Stat(indexFile); os.IsNotExist(err) {
		index := fmt.Sprintf(`# Workspace Index - %s

> Journal tracking for AI development sessions.

---

## Current Status

%s
- **Active File**: `+"`journal-1.md`"+`
- **Total Sessions**: 0
- **Last Active**: -
%s

---

## Active Documents

%s
| File | Lines | Status |
|------|-------|--------|
| `+"`journal-1.md`"+` | ~0 | Active |
%s

---

## Session History

%s
| # | Date | Title | Commits |
|---|------|-------|---------|
%s

---

## Notes

- Sessions are appended to journal files
- New journal file created when current exceeds 2000 lines
- Use trellis journal add to record sessions
`,
			name,
			MarkerBegin(MarkerCurrentStatus), MarkerEnd(MarkerCurrentStatus),
			MarkerBegin(MarkerActiveDocuments), MarkerEnd(MarkerActiveDocuments),
			MarkerBegin(MarkerSessionHistory), MarkerEnd(MarkerSessionHistory))
		if err := os.WriteFile(indexFile, []byte(index), 0o644); err != nil {
			return fmt.Errorf("failed to create index.md: %w", err)
		}
	}

	return nil
}
