package cmd

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/trellis-dev/trellis/internal/agent"
	"github.com/trellis-dev/trellis/internal/config"
	"github.com/trellis-dev/trellis/internal/errors"
	"github.com/trellis-dev/trellis/internal/platform"
	"github.com/trellis-dev/trellis/internal/registry"
	"github.com/trellis-dev/trellis/internal/task"
	"github.com/trellis-dev/trellis/internal/tui"
	"github.com/trellis-dev/trellis/internal/worktree"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Launch and monitor background agents",
	Long: `Launch platform agents in per-task git worktrees as detached
background processes, and monitor them through the shared registry.`,
}

var (
	agentStartPlatform string
	agentStartAgent    string
)

var agentStartCmd = &cobra.Command{
	Use:   "start <task>",
	Short: "Launch the dispatch agent for a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runAgentStart,
}

var agentStatusAssignee string

var agentStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize running, stopped, and queued work",
	Args:  cobra.NoArgs,
	RunE:  runAgentStatus,
}

var agentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List worktrees and registered agents",
	Args:  cobra.NoArgs,
	RunE:  runAgentList,
}

var agentDetailCmd = &cobra.Command{
	Use:   "detail <id>",
	Short: "Show one agent in full",
	Args:  cobra.ExactArgs(1),
	RunE:  runAgentDetail,
}

var agentLogLines int

var agentLogCmd = &cobra.Command{
	Use:   "log <id>",
	Short: "Pretty-print the tail of an agent's log",
	Args:  cobra.ExactArgs(1),
	RunE:  runAgentLog,
}

var agentWatchCmd = &cobra.Command{
	Use:   "watch <id>",
	Short: "Follow an agent's log live",
	Args:  cobra.ExactArgs(1),
	RunE:  runAgentWatch,
}

var agentResumeCwd bool

var agentResumeCmd = &cobra.Command{
	Use:   "resume <id>",
	Short: "Print the platform command that resumes an agent's session",
	Args:  cobra.ExactArgs(1),
	RunE:  runAgentResume,
}

var agentStopCmd = &cobra.Command{
	Use:   "stop <id>",
	Short: "Stop a running agent",
	Args:  cobra.ExactArgs(1),
	RunE:  runAgentStop,
}

var (
	agentCleanupList       bool
	agentCleanupMerged     bool
	agentCleanupAll        bool
	agentCleanupKeepBranch bool
	agentCleanupYes        bool
)

var agentCleanupCmd = &cobra.Command{
	Use:   "cleanup [branch]",
	Short: "Remove worktrees, registry entries, and branches",
	Long: `Remove a task's worktree together with its registry entry and
branch. The task directory is archived first. --merged removes every
worktree whose branch is already merged; --all removes everything.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAgentCleanup,
}

var (
	agentPlanName     string
	agentPlanType     string
	agentPlanPriority string
	agentPlanPlatform string
)

var agentPlanCmd = &cobra.Command{
	Use:   `plan "<description>"`,
	Short: "Create a task and launch the planning agent on it",
	Args:  cobra.ExactArgs(1),
	RunE:  runAgentPlan,
}

func init() {
	rootCmd.AddCommand(agentCmd)
	agentCmd.AddCommand(agentStartCmd)
	agentCmd.AddCommand(agentStatusCmd)
	agentCmd.AddCommand(agentListCmd)
	agentCmd.AddCommand(agentDetailCmd)
	agentCmd.AddCommand(agentLogCmd)
	agentCmd.AddCommand(agentWatchCmd)
	agentCmd.AddCommand(agentResumeCmd)
	agentCmd.AddCommand(agentStopCmd)
	agentCmd.AddCommand(agentCleanupCmd)
	agentCmd.AddCommand(agentPlanCmd)

	agentStartCmd.Flags().StringVar(&agentStartPlatform, "platform", "", "platform: "+platformNames())
	agentStartCmd.Flags().StringVar(&agentStartAgent, "agent", "", "agent definition to dispatch (default dispatch)")

	agentStatusCmd.Flags().StringVarP(&agentStatusAssignee, "assignee", "a", "", "filter by assignee")

	agentLogCmd.Flags().IntVar(&agentLogLines, "lines", 0, "number of log lines to show")

	agentResumeCmd.Flags().BoolVar(&agentResumeCwd, "cwd", false, "prefix the command with a cd into the worktree")

	agentCleanupCmd.Flags().BoolVar(&agentCleanupList, "list", false, "list all worktrees")
	agentCleanupCmd.Flags().BoolVar(&agentCleanupMerged, "merged", false, "remove worktrees whose branch is merged")
	agentCleanupCmd.Flags().BoolVar(&agentCleanupAll, "all", false, "remove all worktrees")
	agentCleanupCmd.Flags().BoolVar(&agentCleanupKeepBranch, "keep-branch", false, "don't delete the git branch")
	agentCleanupCmd.Flags().BoolVarP(&agentCleanupYes, "yes", "y", false, "skip confirmation")

	agentPlanCmd.Flags().StringVar(&agentPlanName, "name", "", "task slug (derived from the description when empty)")
	agentPlanCmd.Flags().StringVarP(&agentPlanType, "type", "t", "fullstack", "dev type: "+strings.Join(agent.PlanDevTypes(), " | "))
	agentPlanCmd.Flags().StringVarP(&agentPlanPriority, "priority", "p", "", "priority: P0 | P1 | P2 | P3 (default P2)")
	agentPlanCmd.Flags().StringVar(&agentPlanPlatform, "platform", "", "platform: "+platformNames())
}

func platformNames() string {
	var names []string
	for _, p := range platform.All() {
		names = append(names, string(p))
	}
	return strings.Join(names, " | ")
}

func runAgentStart(cmd *cobra.Command, args []string) error {
	root := repoRoot()
	cfg := config.Get()
	log := newLogger(cfg)
	defer log.Close()
	out := cmd.OutOrStdout()

	taskDir, err := task.ResolveOrCurrent(root, args[0])
	if err != nil {
		return err
	}

	launcher := agent.NewLauncher(root, cfg, worktree.New(root), log, out)
	res, err := launcher.Launch(agent.LaunchOptions{
		TaskDir:  taskDir,
		Platform: agentStartPlatform,
		Agent:    agentStartAgent,
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "=== Agent Started ===")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  ID:        %s\n", res.AgentID)
	fmt.Fprintf(out, "  PID:       %d\n", res.PID)
	fmt.Fprintf(out, "  Session:   %s\n", res.SessionID)
	fmt.Fprintf(out, "  Worktree:  %s\n", res.WorktreePath)
	fmt.Fprintf(out, "  Task:      %s\n", res.TaskDirRel)
	fmt.Fprintf(out, "  Log:       %s\n", res.LogFile)
	fmt.Fprintf(out, "  Registry:  %s\n", res.RegistryFile)
	fmt.Fprintln(out)
	fmt.Fprintf(out, "To monitor: trellis agent watch %s\n", res.AgentID)
	fmt.Fprintf(out, "To stop:    trellis agent stop %s\n", res.AgentID)
	if res.ResumeCmd != "" {
		fmt.Fprintf(out, "To resume:  %s\n", res.ResumeCmd)
	} else {
		fmt.Fprintln(out, "To resume:  (session ID not available)")
	}
	return nil
}

func runAgentStatus(cmd *cobra.Command, args []string) error {
	root := repoRoot()
	st, err := agent.NewMonitor(root, worktree.New(root)).Status(agentStatusAssignee)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "=== Multi-Agent Status ===")
	fmt.Fprintf(out, "  Agents:  %d running / %d registered\n", st.RunningCount, st.TotalAgents)
	fmt.Fprintf(out, "  Tasks:   %s\n", st.TaskStats)
	fmt.Fprintln(out)

	if len(st.Running) > 0 {
		fmt.Fprintln(out, "Running Agents:")
		for _, a := range st.Running {
			fmt.Fprintf(out, "▶ %s [running] [%s] @%s\n", a.Name, a.Priority, a.Assignee)
			fmt.Fprintf(out, "  Phase:    %s\n", a.PhaseInfo)
			fmt.Fprintf(out, "  Elapsed:  %s\n", a.Elapsed)
			fmt.Fprintf(out, "  Branch:   %s\n", a.Branch)
			fmt.Fprintf(out, "  Modified: %d file(s)\n", a.Modified)
			if a.LastTool != "" {
				fmt.Fprintf(out, "  Activity: %s\n", a.LastTool)
			}
			fmt.Fprintf(out, "  PID:      %d\n", a.PID)
			fmt.Fprintln(out)
		}
	}

	if len(st.Stopped) > 0 {
		fmt.Fprintln(out, "Stopped Agents:")
		for _, a := range st.Stopped {
			switch {
			case a.Status == task.StatusCompleted:
				fmt.Fprintf(out, "✓ %s [completed]\n", a.Name)
			case a.SessionID != "":
				fmt.Fprintf(out, "○ %s [stopped]\n", a.Name)
				if a.LastMessage != "" {
					fmt.Fprintf(out, "\"%s\"\n", a.LastMessage)
				}
				fmt.Fprintln(out, a.ResumeCommand)
			default:
				fmt.Fprintf(out, "○ %s [stopped] (no session-id)\n", a.Name)
			}
			fmt.Fprintln(out)
		}
	}

	if (len(st.Running) > 0 || len(st.Stopped) > 0) && len(st.Queued) > 0 {
		fmt.Fprintln(out, strings.Repeat("─", 39))
		fmt.Fprintln(out)
	}

	lastAssignee := ""
	for i, q := range st.Queued {
		if i == 0 || q.Assignee != lastAssignee {
			if i > 0 {
				fmt.Fprintln(out)
			}
			fmt.Fprintf(out, "@%s:\n", q.Assignee)
			lastAssignee = q.Assignee
		}
		fmt.Fprintf(out, "  ● %s (%s) [%s]\n", q.Name, q.Status, q.Priority)
	}

	if len(st.Running) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, strings.Repeat("─", 39))
		fmt.Fprintln(out, "Use 'trellis agent detail <name>' for more info")
		fmt.Fprintln(out, "Use 'trellis agent watch <name>' for a live view")
	}
	fmt.Fprintln(out)
	return nil
}

func runAgentList(cmd *cobra.Command, args []string) error {
	root := repoRoot()
	out := cmd.OutOrStdout()
	manager := worktree.New(root)

	fmt.Fprintln(out, "=== Git Worktrees ===")
	fmt.Fprintln(out)
	if text, err := manager.ListText(); err == nil {
		fmt.Fprint(out, text)
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "=== Registered Agents ===")
	fmt.Fprintln(out)

	infos := agent.NewMonitor(root, manager).Agents()
	if len(infos) == 0 {
		fmt.Fprintln(out, "  (no agents registered)")
		return nil
	}
	for _, info := range infos {
		icon := "○"
		if info.Running {
			icon = "●"
		}
		fmt.Fprintf(out, "  %s %s (PID: %d)\n", icon, info.ID, info.PID)
		fmt.Fprintf(out, "    Worktree: %s\n", info.WorktreePath)
		fmt.Fprintf(out, "    Started:  %s\n", info.StartedAt)
		fmt.Fprintln(out)
	}
	return nil
}

func runAgentDetail(cmd *cobra.Command, args []string) error {
	root := repoRoot()
	d, err := agent.NewMonitor(root, worktree.New(root)).Detail(args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	session := d.SessionID
	if session == "" {
		session = "N/A"
	}

	fmt.Fprintf(out, "=== Agent Detail: %s ===\n", d.Entry.ID)
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  ID:        %s\n", d.Entry.ID)
	fmt.Fprintf(out, "  PID:       %d\n", d.Entry.PID)
	fmt.Fprintf(out, "  Session:   %s\n", session)
	fmt.Fprintf(out, "  Worktree:  %s\n", d.Entry.WorktreePath)
	fmt.Fprintf(out, "  Task Dir:  %s\n", d.Entry.TaskDir)
	fmt.Fprintf(out, "  Started:   %s\n", d.Entry.StartedAt)
	fmt.Fprintln(out)

	if d.Running {
		fmt.Fprintln(out, "  Status:    Running")
	} else {
		fmt.Fprintln(out, "  Status:    Stopped")
		if d.ResumeCommand != "" {
			fmt.Fprintln(out)
			fmt.Fprintf(out, "  Resume: %s\n", d.ResumeCommand)
		}
	}

	if d.Task != nil {
		orNA := func(s string) string {
			if s == "" {
				return "N/A"
			}
			return s
		}
		status := d.Task.Status
		if status == "" {
			status = "unknown"
		}
		fmt.Fprintln(out)
		fmt.Fprintln(out, "=== Task Info ===")
		fmt.Fprintln(out)
		fmt.Fprintf(out, "  Status:      %s\n", status)
		fmt.Fprintf(out, "  Branch:      %s\n", orNA(d.Task.Branch))
		fmt.Fprintf(out, "  Base Branch: %s\n", orNA(d.Task.BaseBranch))
	}

	if info, statErr := os.Stat(d.Entry.WorktreePath); statErr == nil && info.IsDir() {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "=== Git Changes ===")
		fmt.Fprintln(out)
		if len(d.Changes) == 0 {
			fmt.Fprintln(out, "  (no changes)")
		} else {
			for i, line := range d.Changes {
				if i == 10 {
					fmt.Fprintf(out, "  ... and %d more\n", len(d.Changes)-10)
					break
				}
				fmt.Fprintf(out, "  %s\n", line)
			}
		}
	}

	fmt.Fprintln(out)
	return nil
}

func runAgentLog(cmd *cobra.Command, args []string) error {
	root := repoRoot()
	d, err := agent.NewMonitor(root, worktree.New(root)).Detail(args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	logPath := agent.LogFile(d.Entry.WorktreePath)
	if _, err := os.Stat(logPath); err != nil {
		return errors.Wrapf(errors.ErrLogNotFound, "%s", logPath)
	}

	n := agentLogLines
	if n <= 0 {
		n = config.Get().Agent.LogTailLines
	}

	fmt.Fprintf(out, "=== Recent Log: %s ===\n", args[0])
	fmt.Fprintf(out, "Platform: %s\n", d.Entry.Platform)
	fmt.Fprintln(out)

	for _, raw := range agent.TailLines(logPath, n) {
		if entry, ok := agent.ParseLogLine(raw, platform.Platform(d.Entry.Platform)); ok {
			fmt.Fprintf(out, "[%s] %s\n", entry.Kind, entry.Text)
		}
	}
	return nil
}

func runAgentWatch(cmd *cobra.Command, args []string) error {
	root := repoRoot()
	d, err := agent.NewMonitor(root, worktree.New(root)).Detail(args[0])
	if err != nil {
		return err
	}
	m, err := tui.NewWatch(d, time.Now())
	if err != nil {
		return err
	}
	return tui.Run(m)
}

func runAgentResume(cmd *cobra.Command, args []string) error {
	root := repoRoot()
	entry := registry.Find(root, args[0])
	if entry == nil {
		return errors.Wrapf(errors.ErrAgentNotFound, "%s", args[0])
	}

	sessionID := agent.SessionID(entry.WorktreePath)
	if sessionID == "" {
		return errors.NewNotFoundError("session id", entry.ID)
	}
	// Legacy registry entries predate the platform tag.
	adapter, err := platform.New(entry.Platform)
	if err != nil {
		adapter = platform.Adapter{Platform: platform.Claude}
	}

	cwd := ""
	if agentResumeCwd {
		cwd = entry.WorktreePath
	}
	fmt.Fprintln(cmd.OutOrStdout(), adapter.ResumeCommand(sessionID, cwd))
	return nil
}

func runAgentStop(cmd *cobra.Command, args []string) error {
	root := repoRoot()
	entry := registry.Find(root, args[0])
	if entry == nil {
		return errors.Wrapf(errors.ErrAgentNotFound, "%s", args[0])
	}
	if err := agent.Stop(entry.PID); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Stopped agent %s (PID: %d)\n", entry.ID, entry.PID)
	return nil
}

func runAgentCleanup(cmd *cobra.Command, args []string) error {
	root := repoRoot()
	cleaner := agent.NewCleaner(root, worktree.New(root), cmd.OutOrStdout(), cleanupConfirm(cmd))

	switch {
	case agentCleanupList:
		return cleaner.ListWorktrees()
	case agentCleanupMerged:
		return cleaner.CleanupMerged(agentCleanupKeepBranch)
	case agentCleanupAll:
		return cleaner.CleanupAll(agentCleanupKeepBranch)
	case len(args) > 0:
		return cleaner.CleanupBranch(args[0], agentCleanupKeepBranch)
	}
	return errors.NewValidationError("a branch name or one of --list, --merged, --all is required")
}

// cleanupConfirm builds the prompt callback: --yes approves everything,
// and non-interactive runs without --yes refuse instead of hanging.
func cleanupConfirm(cmd *cobra.Command) agent.ConfirmFunc {
	if agentCleanupYes {
		return agent.ConfirmAll
	}
	return func(prompt string) bool {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			fmt.Fprintln(cmd.ErrOrStderr(), "Non-interactive mode detected. Use -y to skip confirmation.")
			return false
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s [y/N] ", prompt)
		line, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes"
	}
}

func runAgentPlan(cmd *cobra.Command, args []string) error {
	root := repoRoot()
	cfg := config.Get()
	log := newLogger(cfg)
	defer log.Close()
	out := cmd.OutOrStdout()

	launcher := agent.NewLauncher(root, cfg, worktree.New(root), log, out)
	res, err := launcher.Plan(agent.PlanOptions{
		Requirement: args[0],
		Name:        agentPlanName,
		DevType:     agentPlanType,
		Priority:    agentPlanPriority,
		Platform:    agentPlanPlatform,
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "=== Plan Agent Running ===")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Task:  %s\n", filepath.Base(res.TaskDir))
	fmt.Fprintf(out, "  Type:  %s\n", agentPlanType)
	fmt.Fprintf(out, "  Dir:   %s\n", res.TaskDir)
	fmt.Fprintf(out, "  Log:   %s\n", res.LogFile)
	fmt.Fprintf(out, "  PID:   %d\n", res.PID)
	fmt.Fprintln(out)
	fmt.Fprintf(out, "To monitor: tail -f %s\n", res.LogFile)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "After completion, run:")
	fmt.Fprintf(out, "  trellis agent start %s\n", res.TaskDir)
	return nil
}
