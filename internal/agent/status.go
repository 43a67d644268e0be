package agent

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/trellis-dev/trellis/internal/errors"
	"github.com/trellis-dev/trellis/internal/phase"
	"github.com/trellis-dev/trellis/internal/platform"
	"github.com/trellis-dev/trellis/internal/registry"
	"github.com/trellis-dev/trellis/internal/task"
	"github.com/trellis-dev/trellis/internal/workspace"
	"github.com/trellis-dev/trellis/internal/worktree"
)

// Monitor inspects registered agents and the task queue.
type Monitor struct {
	root    string
	manager *worktree.Manager

	// alive is swapped for a stub in tests.
	alive func(pid int) bool
}

// NewMonitor returns a Monitor rooted at the repository root.
func NewMonitor(root string, manager *worktree.Manager) *Monitor {
	return &Monitor{root: root, manager: manager, alive: IsRunning}
}

// RunningAgent is one live agent in the status summary.
type RunningAgent struct {
	Name      string
	Priority  string
	Assignee  string
	PhaseInfo string
	Elapsed   string
	Branch    string
	Modified  int
	LastTool  string
	PID       int
}

// StoppedAgent is a registered agent whose process has exited.
type StoppedAgent struct {
	Name          string
	Status        string
	WorktreePath  string
	SessionID     string
	LastMessage   string
	ResumeCommand string
	Platform      string
}

// QueuedTask is a task with no registered agent.
type QueuedTask struct {
	Name     string
	Status   string
	Priority string
	Assignee string
}

// Status aggregates the multi-agent view: liveness counts, queue stats,
// and every task bucketed as running, stopped, or queued.
type Status struct {
	RunningCount int
	TotalAgents  int
	TaskStats    task.Stats
	Running      []RunningAgent
	Stopped      []StoppedAgent
	Queued       []QueuedTask
}

// Status builds the summary, optionally narrowed to one assignee. Tasks
// are matched to registry entries by directory-name substring.
func (m *Monitor) Status(filterAssignee string) (*Status, error) {
	if err := workspace.EnsureDeveloper(m.root); err != nil {
		return nil, err
	}

	entries := registry.List(m.root)
	st := &Status{
		TotalAgents: len(entries),
		TaskStats:   task.CollectStats(m.root),
	}
	for _, entry := range entries {
		if m.alive(entry.PID) {
			st.RunningCount++
		}
	}

	for _, name := range task.Dirs(m.root) {
		taskDir := filepath.Join(workspace.TasksDir(m.root), name)

		status, assignee, priority := "unknown", "unassigned", task.DefaultPriority
		if t := task.Read(taskDir); t != nil {
			if t.Status != "" {
				status = t.Status
			}
			if t.Assignee != "" {
				assignee = t.Assignee
			}
			if t.Priority != "" {
				priority = t.Priority
			}
		}

		if filterAssignee != "" && assignee != filterAssignee {
			continue
		}

		entry := matchEntry(entries, name)
		if entry == nil {
			st.Queued = append(st.Queued, QueuedTask{
				Name:     name,
				Status:   status,
				Priority: priority,
				Assignee: assignee,
			})
			continue
		}

		if m.alive(entry.PID) {
			st.Running = append(st.Running, m.runningAgent(name, priority, assignee, taskDir, entry))
		} else {
			st.Stopped = append(st.Stopped, m.stoppedAgent(name, entry))
		}
	}

	sortQueued(st.Queued)
	return st, nil
}

// matchEntry finds the first registry entry whose task_dir contains the
// task directory name.
func matchEntry(entries []registry.Entry, taskName string) *registry.Entry {
	for i := range entries {
		if strings.Contains(entries[i].TaskDir, taskName) {
			return &entries[i]
		}
	}
	return nil
}

func (m *Monitor) runningAgent(name, priority, assignee, taskDir string, entry *registry.Entry) RunningAgent {
	// A running agent advances phases in its worktree copy of the
	// descriptor, not the main checkout.
	phaseSource := taskDir
	wtTaskDir := filepath.Join(entry.WorktreePath, entry.TaskDir)
	if task.Exists(wtTaskDir) {
		phaseSource = wtTaskDir
	}

	branch := "N/A"
	if t := task.Read(phaseSource); t != nil && t.Branch != "" {
		branch = t.Branch
	}

	return RunningAgent{
		Name:      name,
		Priority:  priority,
		Assignee:  assignee,
		PhaseInfo: phase.Info(phaseSource),
		Elapsed:   FormatElapsed(entry.StartedAt, time.Now()),
		Branch:    branch,
		Modified:  m.modifiedCount(entry.WorktreePath),
		LastTool:  LastTool(LogFile(entry.WorktreePath), platform.Platform(entry.Platform)),
		PID:       entry.PID,
	}
}

func (m *Monitor) stoppedAgent(name string, entry *registry.Entry) StoppedAgent {
	status := "unknown"
	if t := task.Read(filepath.Join(entry.WorktreePath, entry.TaskDir)); t != nil && t.Status != "" {
		status = t.Status
	}

	stopped := StoppedAgent{
		Name:         name,
		Status:       status,
		WorktreePath: entry.WorktreePath,
		Platform:     entry.Platform,
	}
	if sessionID := SessionID(entry.WorktreePath); sessionID != "" {
		stopped.SessionID = sessionID
		stopped.LastMessage = LastMessage(LogFile(entry.WorktreePath), 150, platform.Platform(entry.Platform))
		stopped.ResumeCommand = adapterForEntry(entry.Platform).ResumeCommand(sessionID, entry.WorktreePath)
	}
	return stopped
}

var priorityRank = map[string]int{
	task.PriorityP0: 0,
	task.PriorityP1: 1,
	task.PriorityP2: 2,
	task.PriorityP3: 3,
}

var statusRank = map[string]int{
	task.StatusInProgress: 0,
	task.StatusPlanning:   1,
	task.StatusCompleted:  2,
}

// sortQueued orders the backlog by assignee, then priority, then status.
func sortQueued(queued []QueuedTask) {
	sort.SliceStable(queued, func(i, j int) bool {
		a, b := queued[i], queued[j]
		if a.Assignee != b.Assignee {
			return a.Assignee < b.Assignee
		}
		pa, pb := rankOf(priorityRank, a.Priority, 2), rankOf(priorityRank, b.Priority, 2)
		if pa != pb {
			return pa < pb
		}
		return rankOf(statusRank, a.Status, 1) < rankOf(statusRank, b.Status, 1)
	})
}

func rankOf(ranks map[string]int, key string, fallback int) int {
	if rank, ok := ranks[key]; ok {
		return rank
	}
	return fallback
}

// Detail is the full view of one registered agent.
type Detail struct {
	Entry         registry.Entry
	Running       bool
	SessionID     string
	ResumeCommand string
	// Task is the main-checkout descriptor, nil when unreadable.
	Task *task.Task
	// Changes holds the worktree's `git status --short` lines.
	Changes []string
}

// Detail looks up one agent by exact id or task-dir substring.
func (m *Monitor) Detail(search string) (*Detail, error) {
	entry := registry.Find(m.root, search)
	if entry == nil {
		return nil, errors.Wrapf(errors.ErrAgentNotFound, "%s", search)
	}

	d := &Detail{
		Entry:     *entry,
		Running:   m.alive(entry.PID),
		SessionID: SessionID(entry.WorktreePath),
	}
	if !d.Running && d.SessionID != "" {
		d.ResumeCommand = adapterForEntry(entry.Platform).ResumeCommand(d.SessionID, entry.WorktreePath)
	}
	d.Task = task.Read(filepath.Join(m.root, entry.TaskDir))
	if isDir(entry.WorktreePath) {
		d.Changes = m.changedFiles(entry.WorktreePath)
	}
	return d, nil
}

// AgentInfo pairs a registry entry with its liveness.
type AgentInfo struct {
	registry.Entry
	Running bool
}

// Agents returns every registry entry with its liveness.
func (m *Monitor) Agents() []AgentInfo {
	var infos []AgentInfo
	for _, entry := range registry.List(m.root) {
		infos = append(infos, AgentInfo{Entry: entry, Running: m.alive(entry.PID)})
	}
	return infos
}

func (m *Monitor) modifiedCount(worktreePath string) int {
	if !isDir(worktreePath) {
		return 0
	}
	return len(m.changedFiles(worktreePath))
}

func (m *Monitor) changedFiles(worktreePath string) []string {
	out, err := m.manager.StatusShort(worktreePath)
	if err != nil {
		return nil
	}
	var lines []string
	for _, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// adapterForEntry maps a registry platform tag to an adapter, defaulting
// to claude for legacy entries.
func adapterForEntry(name string) platform.Adapter {
	adapter, err := platform.New(name)
	if err != nil {
		return platform.Adapter{Platform: platform.Claude}
	}
	return adapter
}

// FormatElapsed renders the time since a registry timestamp as a compact
// duration ("45s", "3m 12s", "2h 5m"), or "N/A" when unparseable.
func FormatElapsed(started string, now time.Time) string {
	start, ok := parseStarted(started)
	if !ok {
		return "N/A"
	}
	elapsed := int(now.Sub(start).Seconds())
	switch {
	case elapsed < 60:
		return fmt.Sprintf("%ds", elapsed)
	case elapsed < 3600:
		return fmt.Sprintf("%dm %ds", elapsed/60, elapsed%60)
	default:
		return fmt.Sprintf("%dh %dm", elapsed/3600, (elapsed%3600)/60)
	}
}

// parseStarted accepts RFC 3339 or a naive local timestamp, with any
// trailing UTC offset stripped.
func parseStarted(started string) (time.Time, bool) {
	if started == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, started); err == nil {
		return t, true
	}
	if before, _, found := strings.Cut(started, "+"); found {
		started = before
	}
	if !strings.Contains(started, "T") {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation("2006-01-02T15:04:05.999999", started, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
