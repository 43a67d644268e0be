package agent

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trellis-dev/trellis/internal/config"
	"github.com/trellis-dev/trellis/internal/errors"
	"github.com/trellis-dev/trellis/internal/logging"
	"github.com/trellis-dev/trellis/internal/platform"
	"github.com/trellis-dev/trellis/internal/registry"
	"github.com/trellis-dev/trellis/internal/task"
	"github.com/trellis-dev/trellis/internal/workspace"
	"github.com/trellis-dev/trellis/internal/worktree"
)

// dispatchPrompt reminds the model to follow its agent definition, which
// keeps weaker models on the workflow rails.
const dispatchPrompt = "Follow your agent instructions to execute the task workflow. " +
	"Start by reading .trellis/.current-task to get the task directory, " +
	"then execute each action in task.json next_action array in order."

// Launcher provisions task worktrees and spawns detached platform agents
// in them.
type Launcher struct {
	root    string
	cfg     *config.Config
	manager *worktree.Manager
	log     *logging.Logger
	out     io.Writer

	// spawn is swapped for a stub in tests.
	spawn func(argv []string, dir string, env []string, logPath string) (int, error)
}

// NewLauncher returns a Launcher rooted at the repository root. Progress
// messages stream to out; pass nil to silence them.
func NewLauncher(root string, cfg *config.Config, manager *worktree.Manager, log *logging.Logger, out io.Writer) *Launcher {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logging.NopLogger()
	}
	if out == nil {
		out = io.Discard
	}
	return &Launcher{
		root:    root,
		cfg:     cfg,
		manager: manager,
		log:     log,
		out:     out,
		spawn:   spawnDetached,
	}
}

func (l *Launcher) printf(format string, args ...any) {
	fmt.Fprintf(l.out, format+"\n", args...)
}

// adapterFor resolves the platform adapter: explicit name first, then the
// configured default, then repository layout detection.
func (l *Launcher) adapterFor(explicit string) (platform.Adapter, error) {
	name := explicit
	if name == "" {
		name = l.cfg.Platform.Default
	}
	if name == "" {
		return platform.DetectAdapter(l.root), nil
	}
	return platform.New(name)
}

// LaunchOptions selects the task to launch and optional overrides.
type LaunchOptions struct {
	// TaskDir is the task directory, absolute or repo-relative.
	TaskDir string
	// Platform overrides platform detection when set.
	Platform string
	// Agent overrides the dispatch agent name when set.
	Agent string
}

// LaunchResult describes a started agent.
type LaunchResult struct {
	AgentID      string
	PID          int
	SessionID    string
	Platform     platform.Platform
	Branch       string
	WorktreePath string
	TaskDirRel   string
	LogFile      string
	RegistryFile string
	// Created reports whether this launch provisioned a fresh worktree.
	Created bool
	// ResumeCmd is empty when no session id could be determined.
	ResumeCmd string
}

// Launch provisions the task's worktree if it does not exist yet, then
// starts the dispatch agent in it as a detached background process and
// registers it. Relaunching a task with a live worktree reuses it.
func (l *Launcher) Launch(opts LaunchOptions) (*LaunchResult, error) {
	adapter, err := l.adapterFor(opts.Platform)
	if err != nil {
		return nil, err
	}
	agentName := opts.Agent
	if agentName == "" {
		agentName = DispatchAgent
	}

	taskDirAbs := opts.TaskDir
	if !filepath.IsAbs(taskDirAbs) {
		taskDirAbs = filepath.Join(l.root, opts.TaskDir)
	}
	taskDirRel, err := filepath.Rel(l.root, taskDirAbs)
	if err != nil || strings.HasPrefix(taskDirRel, "..") {
		return nil, errors.NewValidationError("task directory must be inside the repository").
			WithField("task").
			WithValue(opts.TaskDir)
	}

	if !task.Exists(taskDirAbs) {
		return nil, errors.Wrapf(errors.ErrTaskNotFound, "task.json not found at %s", task.File(taskDirAbs))
	}
	agentFile := adapter.AgentPath(agentName, l.root)
	if !isFile(agentFile) {
		return nil, errors.NewLaunchError(
			fmt.Sprintf("agent definition not found at %s", agentFile),
			errors.ErrAgentNotFound,
		).WithPlatform(string(adapter.Platform))
	}
	if !isFile(worktree.ConfigPath(l.root)) {
		return nil, errors.NewNotFoundError("worktree config", worktree.ConfigPath(l.root))
	}

	t, err := task.Load(taskDirAbs)
	if err != nil {
		return nil, err
	}

	switch t.Status {
	case task.StatusRejected:
		if note, readErr := os.ReadFile(filepath.Join(taskDirAbs, RejectedFileName)); readErr == nil {
			l.printf("Rejection reason:")
			l.printf("%s", strings.TrimRight(string(note), "\n"))
		}
		return nil, errors.NewTaskError("task was rejected by the plan agent", errors.ErrTaskRejected).
			WithTaskID(t.ID)
	case task.StatusCompleted:
		return nil, errors.NewTaskError("task is already completed", errors.ErrTaskCompleted).
			WithTaskID(t.ID)
	}

	if !isFile(filepath.Join(taskDirAbs, workspace.PRDFileName)) {
		return nil, errors.NewTaskError(
			fmt.Sprintf("prd.md not found, the plan agent may not have finished (check %s)",
				filepath.Join(taskDirRel, PlanLogFileName)),
			nil,
		).WithTaskID(t.ID)
	}
	if t.Branch == "" {
		return nil, errors.NewValidationError("branch not set in task.json").
			WithField("branch")
	}

	l.printf("Task: %s", taskDirAbs)
	l.printf("Branch: %s", t.Branch)

	wtPath := t.WorktreePath
	created := false
	if wtPath == "" || !isDir(wtPath) {
		wtPath, err = l.provisionWorktree(t, taskDirAbs, taskDirRel)
		if err != nil {
			return nil, err
		}
		created = true
	} else {
		l.printf("Using existing worktree: %s", wtPath)
	}

	// The worktree gets its own current-task pointer so the agent can
	// find its task without consulting the main checkout.
	if err := os.MkdirAll(workspace.WorkflowDir(wtPath), 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to prepare worktree workflow directory")
	}
	currentTask := filepath.Join(workspace.WorkflowDir(wtPath), workspace.CurrentTaskFileName)
	if err := os.WriteFile(currentTask, []byte(taskDirRel), 0o644); err != nil {
		return nil, errors.Wrap(err, "failed to set current task in worktree")
	}

	// Status flips in the main checkout only; the worktree's copy keeps
	// its planning status as a record of what the agent started from.
	if err := task.Update(taskDirAbs, func(u *task.Task) {
		u.Status = task.StatusInProgress
	}); err != nil {
		return nil, err
	}

	logPath := LogFile(wtPath)
	if err := touchFile(logPath); err != nil {
		return nil, errors.Wrap(err, "failed to create agent log")
	}

	sessionID := ""
	if adapter.SupportsSessionIDOnCreate() {
		sessionID = strings.ToLower(uuid.NewString())
		if err := os.WriteFile(SessionFile(wtPath), []byte(sessionID), 0o644); err != nil {
			return nil, errors.Wrap(err, "failed to write session id")
		}
		l.printf("Session ID: %s", sessionID)
	}

	argv := adapter.RunArgs(agentName, dispatchPrompt, sessionID)
	pid, err := l.spawn(argv, wtPath, launchEnv(adapter), logPath)
	if err != nil {
		return nil, errors.NewLaunchError("failed to start agent", err).
			WithPlatform(string(adapter.Platform))
	}
	l.printf("Agent started with PID: %d", pid)

	if !adapter.SupportsSessionIDOnCreate() {
		sessionID = l.waitForSessionID(adapter, wtPath, logPath)
	}

	agentID := t.ID
	if agentID == "" {
		agentID = strings.ReplaceAll(t.Branch, "/", "-")
	}
	if err := registry.Add(l.root, agentID, wtPath, pid, taskDirRel, string(adapter.Platform), time.Now()); err != nil {
		return nil, err
	}

	l.log.WithTask(t.ID).WithAgent(agentID).WithPlatform(string(adapter.Platform)).
		Info("agent started", "pid", pid, "worktree", wtPath, "session_id", sessionID, "created", created)

	result := &LaunchResult{
		AgentID:      agentID,
		PID:          pid,
		SessionID:    sessionID,
		Platform:     adapter.Platform,
		Branch:       t.Branch,
		WorktreePath: wtPath,
		TaskDirRel:   taskDirRel,
		LogFile:      logPath,
		RegistryFile: registry.File(l.root),
		Created:      created,
	}
	if sessionID != "" && sessionID != "unknown" {
		result.ResumeCmd = adapter.ResumeCommand(sessionID, wtPath)
	}
	return result, nil
}

// provisionWorktree creates the worktree for a task's branch, records the
// path and base branch in task.json, copies the configured environment
// files plus the task directory in, and runs the post-create hooks.
func (l *Launcher) provisionWorktree(t *task.Task, taskDirAbs, taskDirRel string) (string, error) {
	l.printf("Creating worktree...")

	// The branch checked out now becomes the PR target later.
	baseBranch, _ := l.manager.CurrentBranch()
	l.printf("Base branch (PR target): %s", baseBranch)

	wtCfg := worktree.LoadConfig(l.root)
	base := wtCfg.BaseDir(l.root, l.cfg.Worktree.Dir)
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", errors.Wrap(err, "failed to create worktree base directory")
	}
	if abs, err := filepath.Abs(base); err == nil {
		base = abs
	}
	if resolved, err := filepath.EvalSymlinks(base); err == nil {
		base = resolved
	}

	wtPath := filepath.Join(base, t.Branch)
	if err := os.MkdirAll(filepath.Dir(wtPath), 0o755); err != nil {
		return "", errors.Wrap(err, "failed to create worktree parent directory")
	}
	if err := l.manager.Add(wtPath, t.Branch); err != nil {
		return "", err
	}
	l.printf("Worktree created: %s", wtPath)

	if err := task.Update(taskDirAbs, func(u *task.Task) {
		u.WorktreePath = wtPath
		u.BaseBranch = baseBranch
	}); err != nil {
		return "", err
	}
	t.WorktreePath = wtPath
	t.BaseBranch = baseBranch

	copied, err := worktree.CopyFiles(l.root, wtPath, wtCfg.Copy)
	if err != nil {
		return "", errors.Wrap(err, "failed to copy environment files")
	}
	if copied > 0 {
		l.printf("Copied %d file(s)", copied)
	}

	if err := worktree.CopyTaskDir(l.root, wtPath, taskDirRel); err != nil {
		return "", errors.Wrap(err, "failed to copy task directory")
	}

	ran, err := worktree.RunHooks(wtPath, wtCfg.PostCreate, l.out, l.out)
	if err != nil {
		return "", err
	}
	if ran > 0 {
		l.printf("Ran %d hook(s)", ran)
	}

	return wtPath, nil
}

// waitForSessionID polls the agent log for a platform-assigned session id,
// writing it to the session file when found. Returns "unknown" when the
// poll budget runs out.
func (l *Launcher) waitForSessionID(adapter platform.Adapter, wtPath, logPath string) string {
	l.printf("Waiting for session ID from logs...")
	for i := 0; i < l.cfg.Agent.SessionPollAttempts; i++ {
		time.Sleep(l.cfg.Agent.SessionPollInterval())
		content, err := os.ReadFile(logPath)
		if err != nil {
			continue
		}
		if sessionID := adapter.ExtractSessionID(string(content)); sessionID != "" {
			if err := os.WriteFile(SessionFile(wtPath), []byte(sessionID), 0o644); err == nil {
				l.printf("Session ID extracted: %s", sessionID)
				return sessionID
			}
		}
	}
	l.printf("Warning: could not extract session ID from logs")
	return "unknown"
}

// launchEnv builds the agent environment: the caller's environment with
// proxy variables pinned (possibly to empty) and the platform's
// non-interactive marker set.
func launchEnv(adapter platform.Adapter) []string {
	env := os.Environ()
	for _, key := range []string{"https_proxy", "http_proxy", "all_proxy"} {
		env = append(env, key+"="+os.Getenv(key))
	}
	return append(env, adapter.NonInteractiveEnv())
}
