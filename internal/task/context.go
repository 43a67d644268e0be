package task

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/trellis-dev/trellis/internal/platform"
)

// Context files seeded into each task directory. Agents read these to
// know which repo files to load before working a phase.
const (
	ImplementContextFile = "implement.jsonl"
	CheckContextFile     = "check.jsonl"
	DebugContextFile     = "debug.jsonl"
)

// ContextFileNames returns the context files in their canonical order.
func ContextFileNames() []string {
	return []string{ImplementContextFile, CheckContextFile, DebugContextFile}
}

// Entry is one JSONL context line pointing at a repo file or directory.
type Entry struct {
	File   string `json:"file"`
	Type   string `json:"type,omitempty"`
	Reason string `json:"reason"`
}

func implementBase() []Entry {
	return []Entry{
		{File: ".trellis/workflow.md", Reason: "Project workflow and conventions"},
		{File: ".trellis/spec/shared/index.md", Reason: "Shared coding standards"},
	}
}

func implementBackend() []Entry {
	return []Entry{
		{File: ".trellis/spec/backend/index.md", Reason: "Backend development guide"},
		{File: ".trellis/spec/backend/api-module.md", Reason: "API module conventions"},
		{File: ".trellis/spec/backend/quality.md", Reason: "Code quality requirements"},
	}
}

func implementFrontend() []Entry {
	return []Entry{
		{File: ".trellis/spec/frontend/index.md", Reason: "Frontend development guide"},
		{File: ".trellis/spec/frontend/components.md", Reason: "Component conventions"},
	}
}

// ImplementSeed returns the implement-phase context entries for a dev
// type. Test tasks get the backend set; fullstack gets both.
func ImplementSeed(devType string) []Entry {
	entries := implementBase()
	switch devType {
	case "backend", "test":
		entries = append(entries, implementBackend()...)
	case "frontend":
		entries = append(entries, implementFrontend()...)
	case "fullstack":
		entries = append(entries, implementBackend()...)
		entries = append(entries, implementFrontend()...)
	}
	return entries
}

// CheckSeed returns the check-phase context entries, pointing at the
// platform's command files.
func CheckSeed(devType string, adapter platform.Adapter) []Entry {
	entries := []Entry{
		{File: adapter.TrellisCommandPath("finish-work"), Reason: "Finish work checklist"},
		{File: ".trellis/spec/shared/index.md", Reason: "Shared coding standards"},
	}
	return append(entries, checkSpecs(devType, adapter)...)
}

// DebugSeed returns the debug-phase context entries.
func DebugSeed(devType string, adapter platform.Adapter) []Entry {
	entries := []Entry{
		{File: ".trellis/spec/shared/index.md", Reason: "Shared coding standards"},
	}
	return append(entries, checkSpecs(devType, adapter)...)
}

func checkSpecs(devType string, adapter platform.Adapter) []Entry {
	var entries []Entry
	if devType == "backend" || devType == "fullstack" {
		entries = append(entries, Entry{File: adapter.TrellisCommandPath("check-backend"), Reason: "Backend check spec"})
	}
	if devType == "frontend" || devType == "fullstack" {
		entries = append(entries, Entry{File: adapter.TrellisCommandPath("check-frontend"), Reason: "Frontend check spec"})
	}
	return entries
}

// ContextFileSummary reports one written context file.
type ContextFileSummary struct {
	Name    string
	Entries int
}

// InitContext seeds the three context files for a task directory.
func InitContext(taskDir, devType string, adapter platform.Adapter) ([]ContextFileSummary, error) {
	seeds := []struct {
		name    string
		entries []Entry
	}{
		{ImplementContextFile, ImplementSeed(devType)},
		{CheckContextFile, CheckSeed(devType, adapter)},
		{DebugContextFile, DebugSeed(devType, adapter)},
	}

	var summaries []ContextFileSummary
	for _, seed := range seeds {
		if err := writeJSONL(filepath.Join(taskDir, seed.name), seed.entries); err != nil {
			return summaries, fmt.Errorf("failed to write %s: %w", seed.name, err)
		}
		summaries = append(summaries, ContextFileSummary{Name: seed.name, Entries: len(seed.entries)})
	}
	return summaries, nil
}

func writeJSONL(path string, entries []Entry) error {
	var b strings.Builder
	for _, entry := range entries {
		line, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		b.Write(line)
		b.WriteByte('\n')
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

// AddContext appends one entry to a context file. jsonlName may omit the
// .jsonl suffix. Directory paths are stored with a trailing slash and a
// directory type marker. Existing entries for the same path are left
// alone (added=false). The referenced path must exist under root.
func AddContext(root, taskDir, jsonlName, path, reason string) (entryType string, added bool, err error) {
	if reason == "" {
		reason = "Added manually"
	}
	if !strings.HasSuffix(jsonlName, ".jsonl") {
		jsonlName += ".jsonl"
	}

	jsonlFile := filepath.Join(taskDir, jsonlName)
	full := filepath.Join(root, path)

	entryType = "file"
	if info, statErr := os.Stat(full); statErr == nil && info.IsDir() {
		entryType = "directory"
		if !strings.HasSuffix(path, "/") {
			path += "/"
		}
	} else if statErr != nil || !info.Mode().IsRegular() {
		return "", false, fmt.Errorf("path not found: %s", path)
	}

	if content, readErr := os.ReadFile(jsonlFile); readErr == nil {
		if strings.Contains(string(content), `"`+path+`"`) {
			return entryType, false, nil
		}
	}

	entry := Entry{File: path, Reason: reason}
	if entryType == "directory" {
		entry.Type = "directory"
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return "", false, err
	}

	f, err := os.OpenFile(jsonlFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", false, err
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return "", false, err
	}
	return entryType, true, nil
}

// ValidationIssue is one problem found in a context file.
type ValidationIssue struct {
	Line    int
	Message string
}

// FileValidation is the validation result for one context file.
type FileValidation struct {
	Name    string
	Present bool
	Entries int
	Issues  []ValidationIssue
}

// ValidateContext checks every context file: lines must be valid JSON
// with a file field, and the referenced paths must exist under root.
// Missing context files are reported present=false, not as errors.
func ValidateContext(root, taskDir string) []FileValidation {
	var results []FileValidation
	for _, name := range ContextFileNames() {
		results = append(results, validateJSONL(root, filepath.Join(taskDir, name)))
	}
	return results
}

func validateJSONL(root, path string) FileValidation {
	result := FileValidation{Name: filepath.Base(path)}

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}
	result.Present = true

	lineNum := 0
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		lineNum++

		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			result.Issues = append(result.Issues, ValidationIssue{Line: lineNum, Message: "Invalid JSON"})
			continue
		}
		if entry.File == "" {
			result.Issues = append(result.Issues, ValidationIssue{Line: lineNum, Message: "Missing file field"})
			continue
		}

		full := filepath.Join(root, entry.File)
		info, statErr := os.Stat(full)
		if entry.Type == "directory" {
			if statErr != nil || !info.IsDir() {
				result.Issues = append(result.Issues, ValidationIssue{
					Line: lineNum, Message: fmt.Sprintf("Directory not found: %s", entry.File),
				})
			}
		} else {
			if statErr != nil || !info.Mode().IsRegular() {
				result.Issues = append(result.Issues, ValidationIssue{
					Line: lineNum, Message: fmt.Sprintf("File not found: %s", entry.File),
				})
			}
		}
	}
	result.Entries = lineNum
	return result
}

// FileEntries pairs a context file with its parseable entries.
type FileEntries struct {
	Name    string
	Entries []Entry
}

// ListContext returns the entries of each context file present in the
// task directory, skipping unparseable lines.
func ListContext(taskDir string) []FileEntries {
	var results []FileEntries
	for _, name := range ContextFileNames() {
		data, err := os.ReadFile(filepath.Join(taskDir, name))
		if err != nil {
			continue
		}

		file := FileEntries{Name: name}
		for _, line := range strings.Split(string(data), "\n") {
			if strings.TrimSpace(line) == "" {
				continue
			}
			var entry Entry
			if err := json.Unmarshal([]byte(line), &entry); err != nil {
				continue
			}
			file.Entries = append(file.Entries, entry)
		}
		results = append(results, file)
	}
	return results
}

// ContextTaskDir resolves the task directory for context operations,
// requiring it to exist.
func ContextTaskDir(root, target string) (string, error) {
	dir := Resolve(root, target)
	if dir == "" {
		return "", fmt.Errorf("task directory required")
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return "", fmt.Errorf("directory not found: %s", dir)
	}
	return dir, nil
}
