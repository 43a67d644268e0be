package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// tickMsg drives the elapsed clock, the liveness probe, and the fallback
// log poll.
type tickMsg time.Time

// logEventMsg reports that the filesystem watcher saw the log grow.
type logEventMsg struct{}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}
