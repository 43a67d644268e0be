package task

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/trellis-dev/trellis/internal/errors"
	"github.com/trellis-dev/trellis/internal/workspace"
)

var testNow = time.Date(2026, 8, 23, 10, 30, 0, 0, time.UTC)

func initRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(workspace.TasksDir(root), 0o755); err != nil {
		t.Fatalf("failed to create tasks dir: %v", err)
	}
	return root
}

func makeTask(t *testing.T, root, dirName string, task *Task) string {
	t.Helper()
	dir := filepath.Join(workspace.TasksDir(root), dirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("failed to create task dir: %v", err)
	}
	if err := Save(dir, task); err != nil {
		t.Fatalf("failed to save task: %v", err)
	}
	return dir
}

func TestNew_Defaults(t *testing.T) {
	task := New("fix-login", "Fix login", "alice", "bob", "", "desc", "main", testNow)

	if task.ID != "fix-login" || task.Name != "fix-login" {
		t.Errorf("id/name = %q/%q, want fix-login", task.ID, task.Name)
	}
	if task.Status != StatusPlanning {
		t.Errorf("status = %q, want planning", task.Status)
	}
	if task.Priority != PriorityP2 {
		t.Errorf("priority = %q, want P2 default", task.Priority)
	}
	if task.CreatedAt != "2026-08-23" {
		t.Errorf("createdAt = %q", task.CreatedAt)
	}
	if task.BaseBranch != "main" {
		t.Errorf("base branch = %q", task.BaseBranch)
	}
	if task.CurrentPhase != 0 {
		t.Errorf("current phase = %d, want 0", task.CurrentPhase)
	}

	want := []string{"implement", "check", "finish", "create-pr"}
	if len(task.NextAction) != len(want) {
		t.Fatalf("next action length = %d, want %d", len(task.NextAction), len(want))
	}
	for i, step := range task.NextAction {
		if step.Phase != i+1 || step.Action != want[i] {
			t.Errorf("phase %d = {%d %q}, want {%d %q}", i, step.Phase, step.Action, i+1, want[i])
		}
	}
}

func TestIsEligible(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{StatusPlanning, true},
		{StatusInProgress, true},
		{StatusReview, true},
		{StatusCompleted, false},
		{StatusRejected, false},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			task := &Task{Status: tt.status}
			if got := task.IsEligible(); got != tt.want {
				t.Errorf("IsEligible() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	root := initRepo(t)
	original := New("round-trip", "Round trip", "alice", "alice", PriorityP1, "", "develop", testNow)
	original.DevType = "backend"
	dir := makeTask(t, root, "08-23-round-trip", original)

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if loaded.ID != "round-trip" || loaded.Priority != PriorityP1 || loaded.DevType != "backend" {
		t.Errorf("loaded task mismatch: %+v", loaded)
	}
	if loaded.BaseBranch != "develop" {
		t.Errorf("base branch = %q", loaded.BaseBranch)
	}
}

func TestLoad_Missing(t *testing.T) {
	root := initRepo(t)
	_, err := Load(filepath.Join(workspace.TasksDir(root), "nope"))
	if err == nil {
		t.Fatal("Load() of missing task succeeded")
	}
	if !errors.Is(err, errors.ErrTaskNotFound) {
		t.Errorf("Load() error = %v, want ErrTaskNotFound", err)
	}
}

func TestRead_SilentOnCorrupt(t *testing.T) {
	root := initRepo(t)
	dir := filepath.Join(workspace.TasksDir(root), "08-23-corrupt")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("failed to create dir: %v", err)
	}
	if err := os.WriteFile(File(dir), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	if got := Read(dir); got != nil {
		t.Errorf("Read() of corrupt task = %+v, want nil", got)
	}
	if got := Read(filepath.Join(root, "missing")); got != nil {
		t.Errorf("Read() of missing task = %+v, want nil", got)
	}
}

func TestUpdate(t *testing.T) {
	root := initRepo(t)
	dir := makeTask(t, root, "08-23-update", New("update", "Update", "a", "a", "", "", "main", testNow))

	err := Update(dir, func(task *Task) {
		task.Branch = "task/update"
		task.Status = StatusInProgress
	})
	if err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	loaded := Read(dir)
	if loaded.Branch != "task/update" || loaded.Status != StatusInProgress {
		t.Errorf("update not persisted: %+v", loaded)
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"Add login feature", "add-login-feature"},
		{"Fix BUG #42!", "fix-bug-42"},
		{"   spaces   everywhere   ", "spaces-everywhere"},
		{"already-a-slug", "already-a-slug"},
		{"___", ""},
	}

	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			if got := Slugify(tt.title); got != tt.want {
				t.Errorf("Slugify(%q) = %q, want %q", tt.title, got, tt.want)
			}
		})
	}
}

func TestCheckSafePath(t *testing.T) {
	root := initRepo(t)

	tests := []struct {
		name string
		path string
		safe bool
	}{
		{"normal task path", ".trellis/tasks/08-23-thing", true},
		{"empty", "", false},
		{"null literal", "null", false},
		{"absolute", "/etc/passwd", false},
		{"dot", ".", false},
		{"dotdot", "..", false},
		{"leading dot slash", "./tasks", false},
		{"traversal", ".trellis/../../../etc", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckSafePath(root, tt.path)
			if tt.safe && err != nil {
				t.Errorf("CheckSafePath(%q) = %v, want nil", tt.path, err)
			}
			if !tt.safe {
				if err == nil {
					t.Errorf("CheckSafePath(%q) = nil, want error", tt.path)
				} else if !errors.Is(err, errors.ErrUnsafeTaskPath) {
					t.Errorf("CheckSafePath(%q) error = %v, want ErrUnsafeTaskPath", tt.path, err)
				}
			}
		})
	}
}

func TestFindByName(t *testing.T) {
	root := initRepo(t)
	tasksDir := workspace.TasksDir(root)
	makeTask(t, root, "08-23-my-task", New("my-task", "t", "a", "a", "", "", "main", testNow))

	if got := FindByName(tasksDir, "08-23-my-task"); filepath.Base(got) != "08-23-my-task" {
		t.Errorf("exact FindByName = %q", got)
	}
	if got := FindByName(tasksDir, "my-task"); filepath.Base(got) != "08-23-my-task" {
		t.Errorf("suffix FindByName = %q", got)
	}
	if got := FindByName(tasksDir, "other-task"); got != "" {
		t.Errorf("FindByName(other-task) = %q, want empty", got)
	}
	if got := FindByName(tasksDir, ""); got != "" {
		t.Errorf("FindByName(empty) = %q, want empty", got)
	}
}

func TestResolve(t *testing.T) {
	root := initRepo(t)
	dir := makeTask(t, root, "08-23-resolve-me", New("resolve-me", "t", "a", "a", "", "", "main", testNow))

	if got := Resolve(root, dir); got != dir {
		t.Errorf("absolute Resolve = %q, want %q", got, dir)
	}
	if got := Resolve(root, ".trellis/tasks/08-23-resolve-me"); got != dir {
		t.Errorf("relative Resolve = %q, want %q", got, dir)
	}
	if got := Resolve(root, "resolve-me"); got != dir {
		t.Errorf("name Resolve = %q, want %q", got, dir)
	}
	if got := Resolve(root, "unknown-name"); got != filepath.Join(root, "unknown-name") {
		t.Errorf("fallback Resolve = %q", got)
	}
}

func TestResolveOrCurrent(t *testing.T) {
	root := initRepo(t)
	dir := makeTask(t, root, "08-23-current", New("current", "t", "a", "a", "", "", "main", testNow))

	if _, err := ResolveOrCurrent(root, ""); !errors.Is(err, errors.ErrNoCurrentTask) {
		t.Errorf("ResolveOrCurrent with no current = %v, want ErrNoCurrentTask", err)
	}

	if err := workspace.SetCurrentTask(root, dir); err != nil {
		t.Fatalf("SetCurrentTask() error: %v", err)
	}

	got, err := ResolveOrCurrent(root, "")
	if err != nil {
		t.Fatalf("ResolveOrCurrent() error: %v", err)
	}
	if got != dir {
		t.Errorf("ResolveOrCurrent() = %q, want %q", got, dir)
	}

	if _, err := ResolveOrCurrent(root, "missing-task"); err == nil {
		t.Error("ResolveOrCurrent(missing) succeeded")
	}
}

func TestArchive(t *testing.T) {
	root := initRepo(t)
	dir := makeTask(t, root, "08-23-done", New("done", "Done", "a", "a", "", "", "main", testNow))
	if err := workspace.SetCurrentTask(root, dir); err != nil {
		t.Fatalf("SetCurrentTask() error: %v", err)
	}

	dest, err := Archive(root, "done", testNow)
	if err != nil {
		t.Fatalf("Archive() error: %v", err)
	}

	wantDest := filepath.Join(workspace.ArchiveDir(root), "2026-08", "08-23-done")
	if dest != wantDest {
		t.Errorf("Archive() dest = %q, want %q", dest, wantDest)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("original task dir still exists after archive")
	}

	archived := Read(dest)
	if archived == nil {
		t.Fatal("archived task.json unreadable")
	}
	if archived.Status != StatusCompleted || archived.CompletedAt != "2026-08-23" {
		t.Errorf("archived descriptor = %q/%q, want completed/2026-08-23", archived.Status, archived.CompletedAt)
	}

	if workspace.HasCurrentTask(root) {
		t.Error("current task pointer survived archive")
	}
}

func TestArchive_NotFound(t *testing.T) {
	root := initRepo(t)
	if _, err := Archive(root, "ghost", testNow); err == nil {
		t.Error("Archive(ghost) succeeded")
	}
}

func TestArchivedListing(t *testing.T) {
	root := initRepo(t)
	makeTask(t, root, "08-23-a", New("a", "A", "x", "x", "", "", "main", testNow))
	if _, err := Archive(root, "a", testNow); err != nil {
		t.Fatalf("Archive() error: %v", err)
	}

	months := ArchivedMonths(root)
	if len(months) != 1 || months[0] != "2026-08" {
		t.Errorf("ArchivedMonths() = %v", months)
	}

	names := ArchivedTasks(root, "2026-08")
	if len(names) != 1 || names[0] != "08-23-a" {
		t.Errorf("ArchivedTasks() = %v", names)
	}
}

func TestList_Filters(t *testing.T) {
	root := initRepo(t)

	planning := New("one", "One", "alice", "alice", PriorityP0, "", "main", testNow)
	makeTask(t, root, "08-01-one", planning)

	inProgress := New("two", "Two", "alice", "bob", PriorityP1, "", "main", testNow)
	inProgress.Status = StatusInProgress
	makeTask(t, root, "08-02-two", inProgress)

	// Directory without task.json is skipped by queue listings.
	if err := os.MkdirAll(filepath.Join(workspace.TasksDir(root), "08-03-bare"), 0o755); err != nil {
		t.Fatalf("failed to create bare dir: %v", err)
	}

	all := List(root, Filter{})
	if len(all) != 2 {
		t.Fatalf("List() = %d entries, want 2", len(all))
	}

	byStatus := List(root, Filter{Status: StatusInProgress})
	if len(byStatus) != 1 || byStatus[0].ID != "two" {
		t.Errorf("status filter = %+v", byStatus)
	}

	byAssignee := List(root, Filter{Assignee: "bob"})
	if len(byAssignee) != 1 || byAssignee[0].ID != "two" {
		t.Errorf("assignee filter = %+v", byAssignee)
	}

	pending := Pending(root)
	if len(pending) != 1 || pending[0].ID != "one" {
		t.Errorf("Pending() = %+v", pending)
	}
}

func TestList_ArchiveExcluded(t *testing.T) {
	root := initRepo(t)
	makeTask(t, root, "08-23-keep", New("keep", "Keep", "a", "a", "", "", "main", testNow))
	makeTask(t, root, "08-23-gone", New("gone", "Gone", "a", "a", "", "", "main", testNow))
	if _, err := Archive(root, "gone", testNow); err != nil {
		t.Fatalf("Archive() error: %v", err)
	}

	all := List(root, Filter{})
	if len(all) != 1 || all[0].ID != "keep" {
		t.Errorf("List() after archive = %+v", all)
	}
}

func TestCollectStats(t *testing.T) {
	root := initRepo(t)
	makeTask(t, root, "08-01-a", New("a", "A", "x", "x", PriorityP0, "", "main", testNow))
	makeTask(t, root, "08-02-b", New("b", "B", "x", "x", PriorityP1, "", "main", testNow))
	makeTask(t, root, "08-03-c", New("c", "C", "x", "x", PriorityP1, "", "main", testNow))

	stats := CollectStats(root)
	if stats.P0 != 1 || stats.P1 != 2 || stats.Total != 3 {
		t.Errorf("CollectStats() = %+v", stats)
	}

	want := "P0:1 P1:2 P2:0 P3:0 Total:3"
	if got := stats.String(); got != want {
		t.Errorf("Stats.String() = %q, want %q", got, want)
	}
}

func TestCollectStats_EmptyQueue(t *testing.T) {
	root := initRepo(t)
	stats := CollectStats(root)
	if stats.String() != "P0:0 P1:0 P2:0 P3:0 Total:0" {
		t.Errorf("Stats.String() = %q", stats.String())
	}
}

func TestSave_TrailingNewline(t *testing.T) {
	root := initRepo(t)
	dir := makeTask(t, root, "08-23-nl", New("nl", "NL", "a", "a", "", "", "main", testNow))

	data, err := os.ReadFile(File(dir))
	if err != nil {
		t.Fatalf("failed to read task.json: %v", err)
	}
	if !strings.HasSuffix(string(data), "}\n") {
		t.Error("task.json does not end with newline")
	}
	if !strings.Contains(string(data), "  \"id\"") {
		t.Error("task.json is not two-space indented")
	}
}
