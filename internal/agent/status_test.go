package agent

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/trellis-dev/trellis/internal/errors"
	"github.com/trellis-dev/trellis/internal/registry"
	"github.com/trellis-dev/trellis/internal/task"
	"github.com/trellis-dev/trellis/internal/worktree"
)

// newTestRoot builds a workspace root with a developer identity and an
// empty agent registry.
func newTestRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, ".trellis", "tasks"), 0o755); err != nil {
		t.Fatalf("failed to create workflow dir: %v", err)
	}
	developer := "name=alice\ninitialized_at=2026-08-20T10:00:00\n"
	if err := os.WriteFile(filepath.Join(root, ".trellis", ".developer"), []byte(developer), 0o644); err != nil {
		t.Fatalf("failed to write developer file: %v", err)
	}
	if err := registry.Ensure(root); err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}
	return root
}

// writeTaskDir saves a task descriptor under base/.trellis/tasks/dirName.
// base is the repository root for the main checkout, or a worktree path
// for the agent's copy.
func writeTaskDir(t *testing.T, base, dirName string, tk *task.Task) string {
	t.Helper()
	taskDir := filepath.Join(base, ".trellis", "tasks", dirName)
	if err := os.MkdirAll(taskDir, 0o755); err != nil {
		t.Fatalf("failed to create task dir: %v", err)
	}
	if err := task.Save(taskDir, tk); err != nil {
		t.Fatalf("failed to save task descriptor: %v", err)
	}
	return taskDir
}

// scriptedExecutor fakes git invocations, recording each call as a
// single "name arg arg..." string.
type scriptedExecutor struct {
	run   func(dir, name string, args ...string) ([]byte, error)
	calls []string
}

func (s *scriptedExecutor) Run(dir, name string, args ...string) ([]byte, error) {
	s.calls = append(s.calls, name+" "+strings.Join(args, " "))
	if s.run != nil {
		return s.run(dir, name, args...)
	}
	return nil, nil
}

func (s *scriptedExecutor) RunQuiet(dir, name string, args ...string) error {
	_, err := s.Run(dir, name, args...)
	return err
}

func (s *scriptedExecutor) called(substr string) bool {
	for _, call := range s.calls {
		if strings.Contains(call, substr) {
			return true
		}
	}
	return false
}

func TestFormatElapsed(t *testing.T) {
	now := time.Date(2026, 8, 23, 12, 0, 0, 0, time.Local)

	tests := []struct {
		name    string
		started string
		want    string
	}{
		{"empty", "", "N/A"},
		{"garbage", "yesterday", "N/A"},
		{"no time separator", "2026-08-23 11:59:00", "N/A"},
		{"seconds", now.Add(-45 * time.Second).UTC().Format(time.RFC3339), "45s"},
		{"minute boundary", now.Add(-60 * time.Second).UTC().Format(time.RFC3339), "1m 0s"},
		{"minutes", now.Add(-125 * time.Second).UTC().Format(time.RFC3339), "2m 5s"},
		{"hour boundary", now.Add(-time.Hour).UTC().Format(time.RFC3339), "1h 0m"},
		{"hours", now.Add(-(2*time.Hour + 5*time.Minute)).UTC().Format(time.RFC3339), "2h 5m"},
		{"naive local", now.Add(-90 * time.Second).Format("2006-01-02T15:04:05"), "1m 30s"},
		{"naive with microseconds", now.Add(-30 * time.Second).Format("2006-01-02T15:04:05.000000"), "30s"},
		{"compact offset stripped", now.Add(-50*time.Second).Format("2006-01-02T15:04:05") + "+0000", "50s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatElapsed(tt.started, now); got != tt.want {
				t.Errorf("FormatElapsed(%q) = %q, want %q", tt.started, got, tt.want)
			}
		})
	}
}

func TestMonitorStatus_Buckets(t *testing.T) {
	root := newTestRoot(t)
	created := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)

	// alpha has a live agent working in a worktree.
	alpha := task.New("alpha", "Alpha feature", "alice", "alice", task.PriorityP1, "", "main", created)
	alpha.Branch = "task/alpha"
	alpha.Status = task.StatusInProgress
	writeTaskDir(t, root, "08-20-alpha", alpha)

	alphaWT := filepath.Join(t.TempDir(), "wt-alpha")
	wtAlpha := *alpha
	wtAlpha.CurrentPhase = 2
	writeTaskDir(t, alphaWT, "08-20-alpha", &wtAlpha)
	logLine := `{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Bash"}]}}` + "\n"
	if err := os.WriteFile(LogFile(alphaWT), []byte(logLine), 0o644); err != nil {
		t.Fatalf("failed to write agent log: %v", err)
	}
	if err := registry.Add(root, "alpha", alphaWT, 111, ".trellis/tasks/08-20-alpha", "claude", time.Now()); err != nil {
		t.Fatalf("failed to register alpha: %v", err)
	}

	// beta's agent has exited but left a resumable session behind.
	beta := task.New("beta", "Beta fix", "alice", "alice", task.PriorityP2, "", "main", created)
	beta.Status = task.StatusInProgress
	writeTaskDir(t, root, "08-21-beta", beta)

	betaWT := filepath.Join(t.TempDir(), "wt-beta")
	wtBeta := *beta
	wtBeta.Status = task.StatusCompleted
	writeTaskDir(t, betaWT, "08-21-beta", &wtBeta)
	if err := os.WriteFile(SessionFile(betaWT), []byte("f47ac10b-58cc-4372-a567-0e02b2c3d479\n"), 0o644); err != nil {
		t.Fatalf("failed to write session file: %v", err)
	}
	msgLine := `{"type":"assistant","message":{"content":[{"type":"text","text":"All done here"}]}}` + "\n"
	if err := os.WriteFile(LogFile(betaWT), []byte(msgLine), 0o644); err != nil {
		t.Fatalf("failed to write agent log: %v", err)
	}
	if err := registry.Add(root, "beta", betaWT, 222, ".trellis/tasks/08-21-beta", "claude", time.Now()); err != nil {
		t.Fatalf("failed to register beta: %v", err)
	}

	// gamma has no agent at all.
	gamma := task.New("gamma", "Gamma chore", "alice", "bob", task.PriorityP0, "", "main", created)
	writeTaskDir(t, root, "08-22-gamma", gamma)

	exec := &scriptedExecutor{run: func(dir, name string, args ...string) ([]byte, error) {
		return []byte(" M main.go\n?? notes.txt\n"), nil
	}}
	m := NewMonitor(root, worktree.NewWithExecutor(root, exec))
	m.alive = func(pid int) bool { return pid == 111 }

	st, err := m.Status("")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}

	if st.TotalAgents != 2 || st.RunningCount != 1 {
		t.Errorf("agents = %d running / %d total, want 1/2", st.RunningCount, st.TotalAgents)
	}
	if st.TaskStats.Total != 3 || st.TaskStats.P0 != 1 || st.TaskStats.P1 != 1 || st.TaskStats.P2 != 1 {
		t.Errorf("TaskStats = %+v, want one task each for P0, P1, P2", st.TaskStats)
	}

	if len(st.Running) != 1 {
		t.Fatalf("Running = %d entries, want 1", len(st.Running))
	}
	running := st.Running[0]
	if running.Name != "08-20-alpha" || running.PID != 111 {
		t.Errorf("running agent = %s pid %d, want 08-20-alpha pid 111", running.Name, running.PID)
	}
	if running.PhaseInfo != "2/4 (check)" {
		t.Errorf("PhaseInfo = %q, want 2/4 (check) from the worktree descriptor", running.PhaseInfo)
	}
	if running.Branch != "task/alpha" {
		t.Errorf("Branch = %q, want task/alpha", running.Branch)
	}
	if running.Modified != 2 {
		t.Errorf("Modified = %d, want 2", running.Modified)
	}
	if running.LastTool != "Bash" {
		t.Errorf("LastTool = %q, want Bash", running.LastTool)
	}
	if running.Elapsed == "N/A" {
		t.Errorf("Elapsed = %q, want a parsed duration", running.Elapsed)
	}

	if len(st.Stopped) != 1 {
		t.Fatalf("Stopped = %d entries, want 1", len(st.Stopped))
	}
	stopped := st.Stopped[0]
	if stopped.Name != "08-21-beta" || stopped.Status != task.StatusCompleted {
		t.Errorf("stopped agent = %s status %s, want 08-21-beta completed", stopped.Name, stopped.Status)
	}
	if stopped.SessionID != "f47ac10b-58cc-4372-a567-0e02b2c3d479" {
		t.Errorf("SessionID = %q", stopped.SessionID)
	}
	if stopped.LastMessage != "All done here" {
		t.Errorf("LastMessage = %q, want All done here", stopped.LastMessage)
	}
	if !strings.HasPrefix(stopped.ResumeCommand, "cd ") || !strings.Contains(stopped.ResumeCommand, "--resume f47ac10b-58cc-4372-a567-0e02b2c3d479") {
		t.Errorf("ResumeCommand = %q, want cd into the worktree and resume the session", stopped.ResumeCommand)
	}

	if len(st.Queued) != 1 {
		t.Fatalf("Queued = %d entries, want 1", len(st.Queued))
	}
	queued := st.Queued[0]
	if queued.Name != "08-22-gamma" || queued.Status != task.StatusPlanning || queued.Priority != task.PriorityP0 || queued.Assignee != "bob" {
		t.Errorf("queued task = %+v", queued)
	}
}

func TestMonitorStatus_AssigneeFilter(t *testing.T) {
	root := newTestRoot(t)
	created := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)

	writeTaskDir(t, root, "08-20-ours", task.New("ours", "Ours", "alice", "alice", "", "", "main", created))
	writeTaskDir(t, root, "08-21-theirs", task.New("theirs", "Theirs", "alice", "bob", "", "", "main", created))

	m := NewMonitor(root, worktree.NewWithExecutor(root, &scriptedExecutor{}))
	st, err := m.Status("bob")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if len(st.Queued) != 1 || st.Queued[0].Name != "08-21-theirs" {
		t.Errorf("Queued = %+v, want only bob's task", st.Queued)
	}
	if len(st.Running) != 0 || len(st.Stopped) != 0 {
		t.Errorf("expected no agents, got %d running / %d stopped", len(st.Running), len(st.Stopped))
	}
}

func TestMonitorStatus_NoDeveloper(t *testing.T) {
	root := t.TempDir()
	m := NewMonitor(root, worktree.New(root))

	if _, err := m.Status(""); !errors.Is(err, errors.ErrDeveloperNotInitialized) {
		t.Errorf("Status() error = %v, want ErrDeveloperNotInitialized", err)
	}
}

func TestSortQueued(t *testing.T) {
	queued := []QueuedTask{
		{Name: "c", Assignee: "bob", Priority: "P0", Status: "planning"},
		{Name: "a", Assignee: "alice", Priority: "P2", Status: "planning"},
		{Name: "b", Assignee: "alice", Priority: "P2", Status: "in_progress"},
		{Name: "d", Assignee: "alice", Priority: "P1", Status: "completed"},
	}
	sortQueued(queued)

	var got []string
	for _, q := range queued {
		got = append(got, q.Name)
	}
	want := "d b a c"
	if strings.Join(got, " ") != want {
		t.Errorf("sortQueued() order = %v, want %s", got, want)
	}
}

func TestMonitorDetail(t *testing.T) {
	root := newTestRoot(t)
	created := time.Date(2026, 8, 21, 9, 0, 0, 0, time.UTC)

	tk := task.New("delta", "Delta work", "alice", "alice", task.PriorityP1, "", "main", created)
	writeTaskDir(t, root, "08-21-delta", tk)

	wt := filepath.Join(t.TempDir(), "wt-delta")
	if err := os.MkdirAll(wt, 0o755); err != nil {
		t.Fatalf("failed to create worktree dir: %v", err)
	}
	if err := os.WriteFile(SessionFile(wt), []byte("1c0de5e5-1234-4abc-9def-000000000000"), 0o644); err != nil {
		t.Fatalf("failed to write session file: %v", err)
	}
	if err := registry.Add(root, "delta", wt, 333, ".trellis/tasks/08-21-delta", "claude", time.Now()); err != nil {
		t.Fatalf("failed to register delta: %v", err)
	}

	exec := &scriptedExecutor{run: func(dir, name string, args ...string) ([]byte, error) {
		return []byte(" M internal/delta.go\n"), nil
	}}
	m := NewMonitor(root, worktree.NewWithExecutor(root, exec))
	m.alive = func(pid int) bool { return false }

	d, err := m.Detail("delta")
	if err != nil {
		t.Fatalf("Detail() error = %v", err)
	}
	if d.Running {
		t.Error("Running = true, want false")
	}
	if d.SessionID != "1c0de5e5-1234-4abc-9def-000000000000" {
		t.Errorf("SessionID = %q", d.SessionID)
	}
	if !strings.Contains(d.ResumeCommand, "--resume "+d.SessionID) {
		t.Errorf("ResumeCommand = %q, want resume with session id", d.ResumeCommand)
	}
	if d.Task == nil || d.Task.ID != "delta" {
		t.Errorf("Task = %+v, want the main checkout descriptor", d.Task)
	}
	if len(d.Changes) != 1 || d.Changes[0] != " M internal/delta.go" {
		t.Errorf("Changes = %v", d.Changes)
	}

	// A live process suppresses the resume hint.
	m.alive = func(pid int) bool { return true }
	d, err = m.Detail("08-21-delta")
	if err != nil {
		t.Fatalf("Detail() by task dir error = %v", err)
	}
	if !d.Running || d.ResumeCommand != "" {
		t.Errorf("running detail = %+v, want Running with no resume command", d)
	}
}

func TestMonitorDetail_NotFound(t *testing.T) {
	root := newTestRoot(t)
	m := NewMonitor(root, worktree.New(root))

	if _, err := m.Detail("nothing-here"); !errors.Is(err, errors.ErrAgentNotFound) {
		t.Errorf("Detail() error = %v, want ErrAgentNotFound", err)
	}
}

func TestMonitorAgents(t *testing.T) {
	root := newTestRoot(t)
	if err := registry.Add(root, "one", "/wt/one", 10, ".trellis/tasks/08-20-one", "claude", time.Now()); err != nil {
		t.Fatalf("failed to register one: %v", err)
	}
	if err := registry.Add(root, "two", "/wt/two", 20, ".trellis/tasks/08-20-two", "opencode", time.Now()); err != nil {
		t.Fatalf("failed to register two: %v", err)
	}

	m := NewMonitor(root, worktree.New(root))
	m.alive = func(pid int) bool { return pid == 20 }

	infos := m.Agents()
	if len(infos) != 2 {
		t.Fatalf("Agents() = %d entries, want 2", len(infos))
	}
	for _, info := range infos {
		wantRunning := info.PID == 20
		if info.Running != wantRunning {
			t.Errorf("agent %s Running = %v, want %v", info.ID, info.Running, wantRunning)
		}
	}
}
