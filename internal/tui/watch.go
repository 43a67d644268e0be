// Package tui implements the live agent watch view. It follows the
// worktree's log file with a filesystem watcher, renders parsed entries
// into a scrollable viewport, and keeps a status header with the agent's
// liveness and elapsed time.
package tui

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/fsnotify/fsnotify"

	"github.com/trellis-dev/trellis/internal/agent"
	"github.com/trellis-dev/trellis/internal/errors"
	"github.com/trellis-dev/trellis/internal/platform"
)

const (
	// maxLogLines caps the scrollback kept in memory.
	maxLogLines = 1000

	// eventDebounce coalesces the burst of write events a streaming
	// agent produces into one reload.
	eventDebounce = 200 * time.Millisecond
)

// WatchModel is the bubbletea model behind `trellis agent watch`.
type WatchModel struct {
	id       string
	taskDir  string
	platform platform.Platform
	pid      int
	started  string
	logPath  string

	// alive probes the agent process, swappable in tests.
	alive func(pid int) bool

	watcher *fsnotify.Watcher
	events  chan struct{}

	viewport viewport.Model
	spinner  spinner.Model

	// lines holds rendered log lines before wrapping, capped at
	// maxLogLines.
	lines []string
	// offset is how many bytes of the log file have been consumed.
	offset int64

	running  bool
	elapsed  string
	follow   bool
	ready    bool
	quitting bool
}

// NewWatch builds a watch model for a registered agent. The log file must
// already exist; a watcher failure is not fatal since the tick loop polls
// the file as a fallback.
func NewWatch(d *agent.Detail, now time.Time) (WatchModel, error) {
	logPath := agent.LogFile(d.Entry.WorktreePath)
	if _, err := os.Stat(logPath); err != nil {
		return WatchModel{}, errors.Wrapf(errors.ErrLogNotFound, "%s", logPath)
	}

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = spinnerStyle

	m := WatchModel{
		id:       d.Entry.ID,
		taskDir:  d.Entry.TaskDir,
		platform: platform.Platform(d.Entry.Platform),
		pid:      d.Entry.PID,
		started:  d.Entry.StartedAt,
		logPath:  logPath,
		alive:    agent.IsRunning,
		spinner:  s,
		running:  d.Running,
		elapsed:  agent.FormatElapsed(d.Entry.StartedAt, now),
		follow:   true,
	}

	if w, err := fsnotify.NewWatcher(); err == nil {
		if err := w.Add(d.Entry.WorktreePath); err == nil {
			m.watcher = w
			m.events = make(chan struct{}, 1)
			go m.forwardEvents()
		} else {
			w.Close()
		}
	}
	return m, nil
}

// forwardEvents debounces watcher events for the log file into the
// events channel. It exits when the watcher is closed.
func (m WatchModel) forwardEvents() {
	defer close(m.events)
	timer := time.NewTimer(eventDebounce)
	if !timer.Stop() {
		<-timer.C
	}
	for {
		select {
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != filepath.Base(m.logPath) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			timer.Reset(eventDebounce)
		case <-timer.C:
			select {
			case m.events <- struct{}{}:
			default:
			}
		case _, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// waitForEvent blocks on the next debounced watcher signal.
func (m WatchModel) waitForEvent() tea.Cmd {
	if m.events == nil {
		return nil
	}
	events := m.events
	return func() tea.Msg {
		if _, ok := <-events; !ok {
			return nil
		}
		return logEventMsg{}
	}
}

func (m *WatchModel) closeWatcher() {
	if m.watcher != nil {
		m.watcher.Close()
		m.watcher = nil
	}
}

func (m WatchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick(), m.waitForEvent())
}

func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		chrome := lipgloss.Height(m.headerView()) + lipgloss.Height(m.footerView())
		height := msg.Height - chrome
		if height < 1 {
			height = 1
		}
		if !m.ready {
			m.viewport = viewport.New(msg.Width, height)
			m.ready = true
			m.readLog()
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = height
		}
		m.refreshContent()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.quitting = true
			m.closeWatcher()
			return m, tea.Quit
		case "g", "home":
			m.viewport.GotoTop()
			m.follow = false
			return m, nil
		case "G", "end":
			m.viewport.GotoBottom()
			m.follow = true
			return m, nil
		}
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		m.follow = m.viewport.AtBottom()
		return m, cmd

	case tickMsg:
		m.running = m.alive(m.pid)
		if m.running {
			m.elapsed = agent.FormatElapsed(m.started, time.Time(msg))
		}
		m.readLog()
		m.refreshContent()
		return m, tick()

	case logEventMsg:
		m.readLog()
		m.refreshContent()
		return m, m.waitForEvent()

	case spinner.TickMsg:
		if !m.running {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// readLog consumes complete lines appended to the log since the last
// read. A partial trailing line stays in the file until its newline
// arrives.
func (m *WatchModel) readLog() {
	f, err := os.Open(m.logPath)
	if err != nil {
		return
	}
	defer f.Close()

	if fi, err := f.Stat(); err == nil && fi.Size() < m.offset {
		// Log was rewritten from scratch, start over.
		m.offset = 0
		m.lines = nil
	}
	if _, err := f.Seek(m.offset, io.SeekStart); err != nil {
		return
	}
	data, err := io.ReadAll(f)
	if err != nil || len(data) == 0 {
		return
	}
	cut := bytes.LastIndexByte(data, '\n')
	if cut < 0 {
		return
	}
	m.offset += int64(cut + 1)

	for _, raw := range strings.Split(string(data[:cut]), "\n") {
		if line, ok := renderLine(raw, m.platform); ok {
			m.lines = append(m.lines, line)
		}
	}
	if len(m.lines) > maxLogLines {
		m.lines = m.lines[len(m.lines)-maxLogLines:]
	}
}

// renderLine formats one raw log line. Structured lines get a colored
// kind badge; anything else (launcher stderr, startup noise) passes
// through bare.
func renderLine(raw string, p platform.Platform) (string, bool) {
	if strings.TrimSpace(raw) == "" {
		return "", false
	}
	entry, ok := agent.ParseLogLine(raw, p)
	if !ok {
		return raw, true
	}
	return kindBadge(entry.Kind) + " " + entry.Text, true
}

// refreshContent rewraps the line buffer into the viewport and keeps the
// tail pinned while following.
func (m *WatchModel) refreshContent() {
	if !m.ready {
		return
	}
	width := m.viewport.Width
	if width <= 0 {
		width = 80
	}
	wrapped := make([]string, 0, len(m.lines))
	for _, line := range m.lines {
		wrapped = append(wrapped, ansi.Wrap(line, width, ""))
	}
	m.viewport.SetContent(strings.Join(wrapped, "\n"))
	if m.follow {
		m.viewport.GotoBottom()
	}
}

func (m WatchModel) View() string {
	if m.quitting || !m.ready {
		return ""
	}
	return m.headerView() + "\n" + m.viewport.View() + "\n" + m.footerView()
}

// headerView renders the same number of lines whether the agent is
// running or stopped, so the viewport height stays stable.
func (m WatchModel) headerView() string {
	title := titleStyle.Render("Watching: "+m.id) +
		subtleStyle.Render("  ("+string(m.platform)+")")
	info := subtleStyle.Render("Task: " + m.taskDir)

	var status string
	if m.running {
		status = m.spinner.View() + runningStyle.Render("running") +
			subtleStyle.Render(fmt.Sprintf("  %s  pid %d", m.elapsed, m.pid))
	} else {
		status = stoppedStyle.Render("■ stopped") +
			subtleStyle.Render("  "+m.elapsed)
	}
	return strings.Join([]string{title, info, status, ""}, "\n")
}

func (m WatchModel) footerView() string {
	help := "↑/↓ scroll • g/G top/bottom • q quit"
	if !m.follow {
		help = "paused • " + help
	}
	return helpStyle.Render(help)
}
