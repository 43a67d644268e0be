package agent

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/trellis-dev/trellis/internal/errors"
	"github.com/trellis-dev/trellis/internal/platform"
	"github.com/trellis-dev/trellis/internal/task"
	"github.com/trellis-dev/trellis/internal/workspace"
)

// PlanOptions configures a planning launch.
type PlanOptions struct {
	// Requirement is the free-form description the plan agent works from.
	Requirement string
	// Name is the task slug; derived from Requirement when empty.
	Name     string
	DevType  string
	Priority string
	Platform string
}

// PlanResult describes a started planning agent.
type PlanResult struct {
	TaskDir    string
	TaskDirAbs string
	PID        int
	LogFile    string
	Platform   platform.Platform
}

// PlanDevTypes returns the dev types the plan agent accepts.
func PlanDevTypes() []string {
	return []string{"backend", "frontend", "fullstack"}
}

// Plan creates a planning task and starts the plan agent on it as a
// detached background process. The agent runs in the main checkout, logs
// to .plan-log inside the task directory, and is not registered: it has
// no worktree to monitor.
func (l *Launcher) Plan(opts PlanOptions) (*PlanResult, error) {
	adapter, err := l.adapterFor(opts.Platform)
	if err != nil {
		return nil, err
	}

	validType := false
	for _, devType := range PlanDevTypes() {
		if opts.DevType == devType {
			validType = true
			break
		}
	}
	if !validType {
		return nil, errors.NewValidationError("invalid dev type").
			WithField("type").
			WithValue(opts.DevType)
	}

	agentFile := adapter.AgentPath(PlanAgent, l.root)
	if !isFile(agentFile) {
		return nil, errors.NewLaunchError(
			fmt.Sprintf("plan agent definition not found at %s", agentFile),
			errors.ErrAgentNotFound,
		).WithPlatform(string(adapter.Platform))
	}

	if err := workspace.EnsureDeveloper(l.root); err != nil {
		return nil, err
	}
	developer := workspace.Developer(l.root)

	slug := opts.Name
	if slug == "" {
		slug = task.Slugify(opts.Requirement)
	}
	if slug == "" {
		return nil, errors.NewValidationError("a task name or requirement is required").
			WithField("name")
	}

	priority := opts.Priority
	if priority == "" {
		priority = task.DefaultPriority
	}

	baseBranch, err := l.manager.CurrentBranch()
	if err != nil || baseBranch == "" {
		baseBranch = "main"
	}

	now := time.Now()
	t := task.New(slug, opts.Requirement, developer, developer, priority, "", baseBranch, now)
	taskDir, existed, err := task.CreateDir(l.root, t, now)
	if err != nil {
		return nil, err
	}
	if existed {
		l.printf("Task directory already exists, reusing: %s", taskDir)
	}
	taskDirRel, err := filepath.Rel(l.root, taskDir)
	if err != nil {
		taskDirRel = taskDir
	}
	l.printf("Task created: %s", taskDirRel)

	logPath := filepath.Join(taskDir, PlanLogFileName)
	if err := touchFile(logPath); err != nil {
		return nil, errors.Wrap(err, "failed to create plan log")
	}

	env := append(launchEnv(adapter),
		"PLAN_TASK_NAME="+slug,
		"PLAN_DEV_TYPE="+opts.DevType,
		"PLAN_TASK_DIR="+taskDirRel,
		"PLAN_REQUIREMENT="+opts.Requirement,
	)

	argv := adapter.RunArgs(PlanAgent, "Start planning for task: "+slug, "")
	pid, err := l.spawn(argv, l.root, env, logPath)
	if err != nil {
		return nil, errors.NewLaunchError("failed to start plan agent", err).
			WithPlatform(string(adapter.Platform))
	}
	l.printf("Plan agent started with PID: %d", pid)

	l.log.WithTask(t.ID).WithPlatform(string(adapter.Platform)).
		Info("plan agent started", "pid", pid, "task_dir", taskDirRel, "dev_type", opts.DevType)

	return &PlanResult{
		TaskDir:    taskDirRel,
		TaskDirAbs: taskDir,
		PID:        pid,
		LogFile:    logPath,
		Platform:   adapter.Platform,
	}, nil
}
