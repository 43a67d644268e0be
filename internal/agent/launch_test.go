package agent

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/trellis-dev/trellis/internal/config"
	"github.com/trellis-dev/trellis/internal/errors"
	"github.com/trellis-dev/trellis/internal/platform"
	"github.com/trellis-dev/trellis/internal/registry"
	"github.com/trellis-dev/trellis/internal/task"
	"github.com/trellis-dev/trellis/internal/worktree"
)

type spawnCall struct {
	argv    []string
	dir     string
	env     []string
	logPath string
}

// setupLaunchRoot extends newTestRoot with everything a launch checks
// for: a worktree config, a copyable env file, and the claude dispatch
// agent definition.
func setupLaunchRoot(t *testing.T) string {
	t.Helper()
	root := newTestRoot(t)
	wtYAML := "worktree_dir: ./wt\ncopy:\n  - .env\n"
	if err := os.WriteFile(worktree.ConfigPath(root), []byte(wtYAML), 0o644); err != nil {
		t.Fatalf("failed to write worktree config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, ".env"), []byte("SECRET=1\n"), 0o644); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}
	writeAgentFile(t, root, ".claude", "dispatch")
	return root
}

func writeAgentFile(t *testing.T, root, configDir, name string) {
	t.Helper()
	dir := filepath.Join(root, configDir, "agents")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("failed to create agents dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name+".md"), []byte("# "+name+"\n"), 0o644); err != nil {
		t.Fatalf("failed to write agent definition: %v", err)
	}
}

// launchableTask saves a planned task with a branch and a prd.md, ready
// to launch.
func launchableTask(t *testing.T, root string) string {
	t.Helper()
	created := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
	tk := task.New("alpha", "Alpha feature", "alice", "alice", task.PriorityP1, "", "main", created)
	tk.Branch = "task/alpha"
	taskDir := writeTaskDir(t, root, "08-20-alpha", tk)
	if err := os.WriteFile(filepath.Join(taskDir, "prd.md"), []byte("# PRD\n"), 0o644); err != nil {
		t.Fatalf("failed to write prd: %v", err)
	}
	return taskDir
}

// launchGitExecutor scripts the git calls a fresh launch makes: the base
// branch read, the branch-existence probe, and worktree creation (which
// materializes the directory).
func launchGitExecutor() *scriptedExecutor {
	exec := &scriptedExecutor{}
	exec.run = func(dir, name string, args ...string) ([]byte, error) {
		switch args[0] {
		case "branch":
			return []byte("main\n"), nil
		case "show-ref":
			return nil, fmt.Errorf("exit status 1")
		case "worktree":
			if len(args) > 2 && args[1] == "add" {
				path := args[2]
				if path == "-b" {
					path = args[4]
				}
				if err := os.MkdirAll(path, 0o755); err != nil {
					return nil, err
				}
			}
		}
		return nil, nil
	}
	return exec
}

func launchConfig(platformName string) *config.Config {
	cfg := config.Default()
	cfg.Platform.Default = platformName
	return cfg
}

func argvHas(argv []string, want string) bool {
	for _, arg := range argv {
		if arg == want {
			return true
		}
	}
	return false
}

func TestLaunch_ProvisionAndStart(t *testing.T) {
	root := setupLaunchRoot(t)
	taskDir := launchableTask(t, root)

	exec := launchGitExecutor()
	var out bytes.Buffer
	l := NewLauncher(root, launchConfig("claude"), worktree.NewWithExecutor(root, exec), nil, &out)

	var spawned []spawnCall
	l.spawn = func(argv []string, dir string, env []string, logPath string) (int, error) {
		spawned = append(spawned, spawnCall{argv: argv, dir: dir, env: env, logPath: logPath})
		return 4242, nil
	}

	result, err := l.Launch(LaunchOptions{TaskDir: ".trellis/tasks/08-20-alpha"})
	if err != nil {
		t.Fatalf("Launch() error = %v\noutput:\n%s", err, out.String())
	}

	if !result.Created {
		t.Error("Created = false, want a fresh worktree")
	}
	if result.AgentID != "alpha" || result.PID != 4242 || result.Branch != "task/alpha" {
		t.Errorf("result = %+v", result)
	}
	if result.Platform != platform.Claude {
		t.Errorf("Platform = %s, want claude", result.Platform)
	}

	wt := result.WorktreePath
	if !strings.HasSuffix(wt, filepath.Join("wt", "task", "alpha")) {
		t.Errorf("WorktreePath = %q, want path under wt/task/alpha", wt)
	}
	if !isFile(filepath.Join(wt, ".env")) {
		t.Error("configured env file was not copied into the worktree")
	}
	if !task.Exists(filepath.Join(wt, ".trellis", "tasks", "08-20-alpha")) {
		t.Error("task directory was not copied into the worktree")
	}

	pointer, err := os.ReadFile(filepath.Join(wt, ".trellis", ".current-task"))
	if err != nil || string(pointer) != result.TaskDirRel {
		t.Errorf("current-task pointer = %q (err %v), want %q", pointer, err, result.TaskDirRel)
	}

	// Main checkout flips to in_progress and records the worktree; the
	// copy in the worktree keeps its planning status.
	main := task.Read(taskDir)
	if main == nil || main.Status != task.StatusInProgress || main.WorktreePath != wt || main.BaseBranch != "main" {
		t.Errorf("main descriptor = %+v", main)
	}
	if copied := task.Read(filepath.Join(wt, ".trellis", "tasks", "08-20-alpha")); copied == nil || copied.Status != task.StatusPlanning {
		t.Errorf("worktree descriptor = %+v, want planning status", copied)
	}

	if len(result.SessionID) != 36 {
		t.Errorf("SessionID = %q, want a uuid", result.SessionID)
	}
	if got := SessionID(wt); got != result.SessionID {
		t.Errorf("session file = %q, want %q", got, result.SessionID)
	}

	if len(spawned) != 1 {
		t.Fatalf("spawn called %d times, want 1", len(spawned))
	}
	call := spawned[0]
	if call.argv[0] != "claude" || !argvHas(call.argv, "--agent") || !argvHas(call.argv, "dispatch") {
		t.Errorf("argv = %v", call.argv)
	}
	if !argvHas(call.argv, "--session-id") || !argvHas(call.argv, result.SessionID) {
		t.Errorf("argv missing session id: %v", call.argv)
	}
	if call.argv[len(call.argv)-1] != dispatchPrompt {
		t.Errorf("prompt = %q", call.argv[len(call.argv)-1])
	}
	if call.dir != wt {
		t.Errorf("spawn dir = %q, want the worktree", call.dir)
	}
	if call.logPath != LogFile(wt) {
		t.Errorf("spawn log = %q", call.logPath)
	}
	if !argvHas(call.env, "CLAUDE_NON_INTERACTIVE=1") {
		t.Error("env missing CLAUDE_NON_INTERACTIVE=1")
	}
	if !isFile(result.LogFile) {
		t.Error("agent log was not created")
	}

	entry := registry.GetByID(root, "alpha")
	if entry == nil {
		t.Fatal("agent was not registered")
	}
	if entry.PID != 4242 || entry.WorktreePath != wt || entry.TaskDir != result.TaskDirRel || entry.Platform != "claude" {
		t.Errorf("registry entry = %+v", entry)
	}

	if !strings.HasPrefix(result.ResumeCmd, "cd "+wt) || !strings.Contains(result.ResumeCmd, "claude --resume "+result.SessionID) {
		t.Errorf("ResumeCmd = %q", result.ResumeCmd)
	}
	if !strings.Contains(out.String(), "Agent started with PID: 4242") {
		t.Errorf("output missing start message:\n%s", out.String())
	}
}

func TestLaunch_ReuseWorktree(t *testing.T) {
	root := setupLaunchRoot(t)
	taskDir := launchableTask(t, root)

	wt := filepath.Join(t.TempDir(), "existing")
	if err := os.MkdirAll(wt, 0o755); err != nil {
		t.Fatalf("failed to create worktree dir: %v", err)
	}
	if err := task.Update(taskDir, func(u *task.Task) { u.WorktreePath = wt }); err != nil {
		t.Fatalf("failed to record worktree path: %v", err)
	}

	exec := launchGitExecutor()
	var out bytes.Buffer
	l := NewLauncher(root, launchConfig("claude"), worktree.NewWithExecutor(root, exec), nil, &out)
	l.spawn = func(argv []string, dir string, env []string, logPath string) (int, error) {
		return 4243, nil
	}

	result, err := l.Launch(LaunchOptions{TaskDir: ".trellis/tasks/08-20-alpha"})
	if err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	if result.Created {
		t.Error("Created = true, want reuse")
	}
	if result.WorktreePath != wt {
		t.Errorf("WorktreePath = %q, want %q", result.WorktreePath, wt)
	}
	if exec.called("worktree add") {
		t.Errorf("provisioned a new worktree, calls: %v", exec.calls)
	}
	if !strings.Contains(out.String(), "Using existing worktree:") {
		t.Errorf("output missing reuse message:\n%s", out.String())
	}
	if pointer, err := os.ReadFile(filepath.Join(wt, ".trellis", ".current-task")); err != nil || string(pointer) != result.TaskDirRel {
		t.Errorf("current-task pointer = %q (err %v)", pointer, err)
	}
}

func TestLaunch_RejectedTask(t *testing.T) {
	root := setupLaunchRoot(t)
	taskDir := launchableTask(t, root)
	if err := task.Update(taskDir, func(u *task.Task) { u.Status = task.StatusRejected }); err != nil {
		t.Fatalf("failed to reject task: %v", err)
	}
	if err := os.WriteFile(filepath.Join(taskDir, RejectedFileName), []byte("needs tighter scope\n"), 0o644); err != nil {
		t.Fatalf("failed to write rejection note: %v", err)
	}

	var out bytes.Buffer
	l := NewLauncher(root, launchConfig("claude"), worktree.NewWithExecutor(root, launchGitExecutor()), nil, &out)

	_, err := l.Launch(LaunchOptions{TaskDir: ".trellis/tasks/08-20-alpha"})
	if !errors.Is(err, errors.ErrTaskRejected) {
		t.Fatalf("Launch() error = %v, want ErrTaskRejected", err)
	}
	if !strings.Contains(out.String(), "Rejection reason:") || !strings.Contains(out.String(), "needs tighter scope") {
		t.Errorf("output missing rejection note:\n%s", out.String())
	}
}

func TestLaunch_CompletedTask(t *testing.T) {
	root := setupLaunchRoot(t)
	taskDir := launchableTask(t, root)
	if err := task.Update(taskDir, func(u *task.Task) { u.Status = task.StatusCompleted }); err != nil {
		t.Fatalf("failed to complete task: %v", err)
	}

	l := NewLauncher(root, launchConfig("claude"), worktree.NewWithExecutor(root, launchGitExecutor()), nil, nil)
	if _, err := l.Launch(LaunchOptions{TaskDir: ".trellis/tasks/08-20-alpha"}); !errors.Is(err, errors.ErrTaskCompleted) {
		t.Fatalf("Launch() error = %v, want ErrTaskCompleted", err)
	}
}

func TestLaunch_MissingPRD(t *testing.T) {
	root := setupLaunchRoot(t)
	taskDir := launchableTask(t, root)
	if err := os.Remove(filepath.Join(taskDir, "prd.md")); err != nil {
		t.Fatalf("failed to remove prd: %v", err)
	}

	l := NewLauncher(root, launchConfig("claude"), worktree.NewWithExecutor(root, launchGitExecutor()), nil, nil)
	_, err := l.Launch(LaunchOptions{TaskDir: ".trellis/tasks/08-20-alpha"})
	if err == nil || !strings.Contains(err.Error(), PlanLogFileName) {
		t.Fatalf("Launch() error = %v, want a hint at the plan log", err)
	}
}

func TestLaunch_BranchUnset(t *testing.T) {
	root := setupLaunchRoot(t)
	taskDir := launchableTask(t, root)
	if err := task.Update(taskDir, func(u *task.Task) { u.Branch = "" }); err != nil {
		t.Fatalf("failed to clear branch: %v", err)
	}

	l := NewLauncher(root, launchConfig("claude"), worktree.NewWithExecutor(root, launchGitExecutor()), nil, nil)
	_, err := l.Launch(LaunchOptions{TaskDir: ".trellis/tasks/08-20-alpha"})
	if err == nil || !strings.Contains(err.Error(), "branch not set") {
		t.Fatalf("Launch() error = %v, want branch validation", err)
	}
}

func TestLaunch_BadTaskDir(t *testing.T) {
	root := setupLaunchRoot(t)
	l := NewLauncher(root, launchConfig("claude"), worktree.NewWithExecutor(root, launchGitExecutor()), nil, nil)

	t.Run("missing descriptor", func(t *testing.T) {
		if _, err := l.Launch(LaunchOptions{TaskDir: ".trellis/tasks/08-99-ghost"}); !errors.Is(err, errors.ErrTaskNotFound) {
			t.Errorf("Launch() error = %v, want ErrTaskNotFound", err)
		}
	})

	t.Run("outside repository", func(t *testing.T) {
		_, err := l.Launch(LaunchOptions{TaskDir: filepath.Join(root, "..", "outside")})
		if err == nil || !strings.Contains(err.Error(), "inside the repository") {
			t.Errorf("Launch() error = %v, want containment validation", err)
		}
	})
}

func TestLaunch_MissingAgentDefinition(t *testing.T) {
	root := newTestRoot(t)
	launchableTask(t, root)

	l := NewLauncher(root, launchConfig("claude"), worktree.NewWithExecutor(root, launchGitExecutor()), nil, nil)
	if _, err := l.Launch(LaunchOptions{TaskDir: ".trellis/tasks/08-20-alpha"}); !errors.Is(err, errors.ErrAgentNotFound) {
		t.Fatalf("Launch() error = %v, want ErrAgentNotFound", err)
	}
}

func TestLaunch_OpenCodeSessionPoll(t *testing.T) {
	root := setupLaunchRoot(t)
	launchableTask(t, root)
	writeAgentFile(t, root, ".opencode", "dispatch")

	cfg := launchConfig("opencode")
	cfg.Agent.SessionPollAttempts = 3
	cfg.Agent.SessionPollIntervalMS = 1

	exec := launchGitExecutor()
	var out bytes.Buffer
	l := NewLauncher(root, cfg, worktree.NewWithExecutor(root, exec), nil, &out)

	var spawned []spawnCall
	l.spawn = func(argv []string, dir string, env []string, logPath string) (int, error) {
		spawned = append(spawned, spawnCall{argv: argv, dir: dir, env: env, logPath: logPath})
		// The CLI writes its server-assigned session id into the log.
		if err := os.WriteFile(logPath, []byte("INFO session created ses_abc123\n"), 0o644); err != nil {
			return 0, err
		}
		return 5150, nil
	}

	result, err := l.Launch(LaunchOptions{TaskDir: ".trellis/tasks/08-20-alpha"})
	if err != nil {
		t.Fatalf("Launch() error = %v\noutput:\n%s", err, out.String())
	}

	if result.SessionID != "ses_abc123" {
		t.Errorf("SessionID = %q, want ses_abc123 from the log", result.SessionID)
	}
	if got := SessionID(result.WorktreePath); got != "ses_abc123" {
		t.Errorf("session file = %q", got)
	}
	if !strings.Contains(result.ResumeCmd, "opencode run --session ses_abc123") {
		t.Errorf("ResumeCmd = %q", result.ResumeCmd)
	}

	if len(spawned) != 1 {
		t.Fatalf("spawn called %d times, want 1", len(spawned))
	}
	call := spawned[0]
	if call.argv[0] != "opencode" || argvHas(call.argv, "--session-id") {
		t.Errorf("argv = %v, opencode must not get a caller session id", call.argv)
	}
	if call.argv[len(call.argv)-1] != dispatchPrompt {
		t.Errorf("prompt = %q", call.argv[len(call.argv)-1])
	}
	if !argvHas(call.env, "OPENCODE_NON_INTERACTIVE=1") {
		t.Error("env missing OPENCODE_NON_INTERACTIVE=1")
	}
}

func TestPlan(t *testing.T) {
	root := newTestRoot(t)
	writeAgentFile(t, root, ".claude", "plan")

	exec := &scriptedExecutor{run: func(dir, name string, args ...string) ([]byte, error) {
		return []byte("feature/base\n"), nil
	}}
	var out bytes.Buffer
	l := NewLauncher(root, launchConfig("claude"), worktree.NewWithExecutor(root, exec), nil, &out)

	var spawned []spawnCall
	l.spawn = func(argv []string, dir string, env []string, logPath string) (int, error) {
		spawned = append(spawned, spawnCall{argv: argv, dir: dir, env: env, logPath: logPath})
		return 7777, nil
	}

	result, err := l.Plan(PlanOptions{
		Requirement: "Add rate limiting to the API",
		DevType:     "backend",
		Priority:    task.PriorityP2,
	})
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}

	dirs := task.Dirs(root)
	if len(dirs) != 1 || !strings.HasSuffix(dirs[0], "-add-rate-limiting-to-the-api") {
		t.Fatalf("task dirs = %v, want one slugged directory", dirs)
	}
	if result.TaskDir != filepath.Join(".trellis", "tasks", dirs[0]) {
		t.Errorf("TaskDir = %q", result.TaskDir)
	}

	tk := task.Read(result.TaskDirAbs)
	if tk == nil {
		t.Fatal("task descriptor not written")
	}
	if tk.ID != "add-rate-limiting-to-the-api" || tk.Creator != "alice" || tk.Assignee != "alice" {
		t.Errorf("descriptor = %+v", tk)
	}
	if tk.Priority != task.PriorityP2 || tk.BaseBranch != "feature/base" || tk.Status != task.StatusPlanning {
		t.Errorf("descriptor = %+v", tk)
	}

	if !isFile(result.LogFile) {
		t.Error("plan log was not created")
	}
	if result.PID != 7777 {
		t.Errorf("PID = %d", result.PID)
	}

	if len(spawned) != 1 {
		t.Fatalf("spawn called %d times, want 1", len(spawned))
	}
	call := spawned[0]
	if call.dir != root {
		t.Errorf("spawn dir = %q, the plan agent runs in the main checkout", call.dir)
	}
	if call.argv[len(call.argv)-1] != "Start planning for task: add-rate-limiting-to-the-api" {
		t.Errorf("prompt = %q", call.argv[len(call.argv)-1])
	}
	for _, want := range []string{
		"PLAN_TASK_NAME=add-rate-limiting-to-the-api",
		"PLAN_DEV_TYPE=backend",
		"PLAN_TASK_DIR=" + result.TaskDir,
		"PLAN_REQUIREMENT=Add rate limiting to the API",
	} {
		if !argvHas(call.env, want) {
			t.Errorf("env missing %s", want)
		}
	}

	// Planning agents have no worktree and are never registered.
	if entries := registry.List(root); len(entries) != 0 {
		t.Errorf("registry = %+v, want empty", entries)
	}
}

func TestPlan_InvalidDevType(t *testing.T) {
	root := newTestRoot(t)
	l := NewLauncher(root, launchConfig("claude"), worktree.NewWithExecutor(root, &scriptedExecutor{}), nil, nil)

	_, err := l.Plan(PlanOptions{Requirement: "anything", DevType: "devops"})
	if err == nil || !strings.Contains(err.Error(), "invalid dev type") {
		t.Fatalf("Plan() error = %v, want dev type validation", err)
	}
}

func TestPlan_RequiresNameOrRequirement(t *testing.T) {
	root := newTestRoot(t)
	writeAgentFile(t, root, ".claude", "plan")
	l := NewLauncher(root, launchConfig("claude"), worktree.NewWithExecutor(root, &scriptedExecutor{}), nil, nil)

	_, err := l.Plan(PlanOptions{DevType: "backend"})
	if err == nil || !strings.Contains(err.Error(), "required") {
		t.Fatalf("Plan() error = %v, want name validation", err)
	}
}
