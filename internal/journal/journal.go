// Package journal records development sessions in the per-developer
// journal files and keeps index.md in sync. Journals rotate into numbered
// parts when the configured line limit would be exceeded.
package journal

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/trellis-dev/trellis/internal/config"
	"github.com/trellis-dev/trellis/internal/errors"
	"github.com/trellis-dev/trellis/internal/logging"
	"github.com/trellis-dev/trellis/internal/workspace"
)

// indexFileName is the per-developer index kept next to the journal files.
const indexFileName = "index.md"

// Placeholder text filled in when a session is recorded without the
// corresponding detail, so the entry can be fleshed out by hand later.
const (
	defaultCommit  = "-"
	defaultSummary = "(Add summary)"
	defaultDetails = "(Add details)"
)

const progressRule = "========================================"

var (
	// totalSessionsRe pulls the session counter out of index.md.
	totalSessionsRe = regexp.MustCompile(`:\s*(\d+)`)
	// commitHashRe wraps hash-looking runs in backticks for display.
	commitHashRe = regexp.MustCompile(`[a-f0-9]{7,}`)
	// tableRuleRe matches a markdown table separator row.
	tableRuleRe = regexp.MustCompile(`^\|\s*-`)
)

// Recorder appends sessions to the active journal and updates index.md.
type Recorder struct {
	root string
	cfg  *config.Config
	log  *logging.Logger
	out  io.Writer
}

// NewRecorder returns a Recorder rooted at the repository root. Progress
// messages stream to out; pass nil to silence them.
func NewRecorder(root string, cfg *config.Config, log *logging.Logger, out io.Writer) *Recorder {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logging.NopLogger()
	}
	if out == nil {
		out = io.Discard
	}
	return &Recorder{root: root, cfg: cfg, log: log, out: out}
}

func (r *Recorder) printf(format string, args ...any) {
	fmt.Fprintf(r.out, format+"\n", args...)
}

// Options describes the session to record. Title is required; empty
// fields fall back to placeholder text.
type Options struct {
	// Title names the session in the journal and the index history.
	Title string
	// Commit holds comma-separated commit hashes, or "-" for none.
	Commit string
	// Summary is the short session summary.
	Summary string
	// Details fills the Main Changes section.
	Details string
}

// Result reports where a session landed.
type Result struct {
	// Session is the session number written to the journal.
	Session int
	// File is the journal file name the session was appended to.
	File string
	// Lines is the journal's line count after the append.
	Lines int
	// Rotated reports that the session opened a new journal part.
	Rotated bool
}

// Add appends a session to the active journal file, rotating to a new
// part when the configured line limit would be exceeded, and rewrites the
// auto-maintained blocks of index.md. A missing journal file is created
// on the spot so the session is never dropped.
func (r *Recorder) Add(opts Options, now time.Time) (*Result, error) {
	developer := workspace.Developer(r.root)
	if developer == "" {
		return nil, errors.ErrDeveloperNotInitialized
	}
	if opts.Title == "" {
		return nil, errors.NewValidationError("session title is required").WithField("title")
	}

	commit := opts.Commit
	if commit == "" {
		commit = defaultCommit
	}
	summary := opts.Summary
	if summary == "" {
		summary = defaultSummary
	}
	details := opts.Details
	if details == "" {
		details = defaultDetails
	}

	dir := workspace.Dir(r.root)
	today := now.Format("2006-01-02")

	activePath := workspace.ActiveJournalFile(r.root)
	currentNum := 0
	currentLines := 0
	if activePath != "" {
		currentNum = journalNum(filepath.Base(activePath))
		currentLines = workspace.CountLines(activePath)
	}

	session := sessionCount(filepath.Join(dir, indexFileName)) + 1
	content := sessionContent(session, opts.Title, commit, summary, details, today)
	contentLines := lineCount(content)

	r.printf(progressRule)
	r.printf("ADD SESSION")
	r.printf(progressRule)
	r.printf("")
	r.printf("Session: %d", session)
	r.printf("Title: %s", opts.Title)
	r.printf("Commit: %s", commit)
	r.printf("")
	r.printf("Current journal file: %s", journalName(currentNum))
	r.printf("Current lines: %d", currentLines)
	r.printf("New content lines: %d", contentLines)
	r.printf("Total after append: %d", currentLines+contentLines)
	r.printf("")

	targetPath := activePath
	targetNum := currentNum
	rotated := false

	switch {
	case activePath == "":
		// The workspace has no journal yet, start part 1.
		targetNum = 1
		targetPath = filepath.Join(dir, journalName(targetNum))
		r.printf("[!] No journal file found, creating %s", journalName(targetNum))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "failed to create workspace directory")
		}
		if err := os.WriteFile(targetPath, []byte(freshHeader(developer, today)), 0o644); err != nil {
			return nil, errors.Wrap(err, "failed to create journal file")
		}
		r.printf("Created: %s", targetPath)
	case currentLines+contentLines > r.cfg.Journal.MaxLines:
		targetNum = currentNum + 1
		rotated = true
		r.printf("[!] Exceeds %d lines, creating %s", r.cfg.Journal.MaxLines, journalName(targetNum))
		targetPath = filepath.Join(dir, journalName(targetNum))
		header := continuationHeader(developer, targetNum, r.cfg.Journal.MaxLines, today)
		if err := os.WriteFile(targetPath, []byte(header), 0o644); err != nil {
			return nil, errors.Wrap(err, "failed to create journal file")
		}
		r.printf("Created: %s", targetPath)
	}

	if err := appendFile(targetPath, content); err != nil {
		return nil, errors.Wrap(err, "failed to append session")
	}
	r.printf("[OK] Appended session to %s", filepath.Base(targetPath))
	r.printf("")

	activeFile := journalName(targetNum)
	if err := r.updateIndex(dir, session, opts.Title, commit, activeFile, today); err != nil {
		return nil, err
	}

	r.printf("")
	r.printf(progressRule)
	r.printf("[OK] Session %d added successfully!", session)
	r.printf(progressRule)
	r.printf("")
	r.printf("Files updated:")
	r.printf("  - %s", activeFile)
	r.printf("  - index.md")

	r.log.Info("session recorded", "developer", developer, "session", session,
		"file", activeFile, "rotated", rotated)

	return &Result{
		Session: session,
		File:    activeFile,
		Lines:   workspace.CountLines(targetPath),
		Rotated: rotated,
	}, nil
}

// updateIndex rewrites the auto-maintained blocks of index.md: the
// current-status body, the active-documents table, and a new row at the
// top of the session-history table. Everything outside the markers is
// left untouched.
func (r *Recorder) updateIndex(dir string, session int, title, commit, activeFile, date string) error {
	display := defaultCommit
	if commit != "" && commit != defaultCommit {
		display = commitHashRe.ReplaceAllString(strings.ReplaceAll(commit, ",", ", "), "`${0}`")
	}

	r.printf("Updating index.md for session %d...", session)
	r.printf("  Title: %s", title)
	r.printf("  Commit: %s", display)
	r.printf("  Active File: %s", activeFile)
	r.printf("")

	indexPath := filepath.Join(dir, indexFileName)
	raw, err := os.ReadFile(indexPath)
	if err != nil {
		return errors.Wrap(err, "failed to read index.md")
	}
	content := string(raw)
	if !strings.Contains(content, beginToken(workspace.MarkerCurrentStatus)) {
		return errors.New("markers not found in index.md")
	}

	var (
		out        []string
		inStatus   bool
		inDocs     bool
		inHistory  bool
		rowWritten bool
	)
	for _, line := range strings.Split(strings.TrimSuffix(content, "\n"), "\n") {
		switch {
		case strings.Contains(line, beginToken(workspace.MarkerCurrentStatus)):
			out = append(out, line,
				fmt.Sprintf("- **Active File**: `%s`", activeFile),
				fmt.Sprintf("- **Total Sessions**: %d", session),
				fmt.Sprintf("- **Last Active**: %s", date))
			inStatus = true
		case strings.Contains(line, endToken(workspace.MarkerCurrentStatus)):
			inStatus = false
			out = append(out, line)
		case strings.Contains(line, beginToken(workspace.MarkerActiveDocuments)):
			out = append(out, line, "| File | Lines | Status |", "|------|-------|--------|")
			out = append(out, journalTable(dir, activeFile)...)
			inDocs = true
		case strings.Contains(line, endToken(workspace.MarkerActiveDocuments)):
			inDocs = false
			out = append(out, line)
		case strings.Contains(line, beginToken(workspace.MarkerSessionHistory)):
			out = append(out, line)
			inHistory = true
			rowWritten = false
		case strings.Contains(line, endToken(workspace.MarkerSessionHistory)):
			inHistory = false
			out = append(out, line)
		case inStatus, inDocs:
			// Stale block body, regenerated above.
		case inHistory:
			out = append(out, line)
			if !rowWritten && tableRuleRe.MatchString(line) {
				out = append(out, fmt.Sprintf("| %d | %s | %s | %s |", session, date, title, display))
				rowWritten = true
			}
		default:
			out = append(out, line)
		}
	}

	if err := os.WriteFile(indexPath, []byte(strings.Join(out, "\n")), 0o644); err != nil {
		return errors.Wrap(err, "failed to write index.md")
	}
	r.printf("[OK] Updated index.md successfully!")
	return nil
}

// journalTable renders the active-documents rows, newest part first.
func journalTable(dir, activeFile string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, workspace.JournalFilePrefix) || !strings.HasSuffix(name, ".md") {
			continue
		}
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return journalNum(names[i]) > journalNum(names[j])
	})

	rows := make([]string, 0, len(names))
	for _, name := range names {
		status := "Archived"
		if name == activeFile {
			status = "Active"
		}
		lines := workspace.CountLines(filepath.Join(dir, name))
		rows = append(rows, fmt.Sprintf("| `%s` | ~%d | %s |", name, lines, status))
	}
	return rows
}

// sessionContent renders the markdown block appended to the journal.
func sessionContent(session int, title, commit, summary, details, date string) string {
	table := "(No commits - planning session)"
	if commit != "" && commit != defaultCommit {
		var b strings.Builder
		b.WriteString("| Hash | Message |\n|------|---------|")
		for _, hash := range strings.Split(commit, ",") {
			fmt.Fprintf(&b, "\n| `%s` | (see git log) |", strings.TrimSpace(hash))
		}
		table = b.String()
	}

	return fmt.Sprintf(`

## Session %d: %s

**Date**: %s
**Task**: %s

### Summary

%s

### Main Changes

%s

### Git Commits

%s

### Testing

- [OK] (Add test results)

### Status

[OK] **Completed**

### Next Steps

- None - task complete
`, session, title, date, title, summary, details, table)
}

// freshHeader starts part 1 of a developer's journal.
func freshHeader(developer, date string) string {
	return fmt.Sprintf(`# Journal - %s (Part 1)

> AI development session journal
> Started: %s

---

`, developer, date)
}

// continuationHeader starts a rotated journal part.
func continuationHeader(developer string, num, maxLines int, date string) string {
	return fmt.Sprintf(`# Journal - %s (Part %d)

> Continuation from `+"`%s`"+` (archived at ~%d lines)
> Started: %s

---

`, developer, num, journalName(num-1), maxLines, date)
}

// journalName returns the file name of a journal part.
func journalName(num int) string {
	return fmt.Sprintf("%s%d.md", workspace.JournalFilePrefix, num)
}

// journalNum parses the part number out of a journal file name.
func journalNum(name string) int {
	stem := strings.TrimSuffix(name, ".md")
	i := len(stem)
	for i > 0 && stem[i-1] >= '0' && stem[i-1] <= '9' {
		i--
	}
	num, err := strconv.Atoi(stem[i:])
	if err != nil {
		return 0
	}
	return num
}

// sessionCount reads the session counter out of index.md, or 0 when the
// index is missing or carries no counter.
func sessionCount(indexPath string) int {
	data, err := os.ReadFile(indexPath)
	if err != nil {
		return 0
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.Contains(line, "Total Sessions") {
			continue
		}
		if m := totalSessionsRe.FindStringSubmatch(line); m != nil {
			num, _ := strconv.Atoi(m[1])
			return num
		}
	}
	return 0
}

// lineCount counts lines in a string the way workspace.CountLines counts
// them in a file.
func lineCount(s string) int {
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return 0
	}
	return strings.Count(s, "\n") + 1
}

func appendFile(path, content string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(content)
	return err
}

// beginToken and endToken are the marker fragments matched when rewriting
// index.md. Matching on the fragment rather than the full comment line
// tolerates hand-edited marker lines.
func beginToken(name string) string {
	return "@@@auto:" + name
}

func endToken(name string) string {
	return "@@@/auto:" + name
}
