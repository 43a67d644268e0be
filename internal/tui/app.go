package tui

import (
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
)

// Run drives the watch view in the alternate screen until the user quits
// or the process receives a termination signal.
func Run(m WatchModel) error {
	p := tea.NewProgram(m, tea.WithAltScreen())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		p.Send(tea.Quit())
	}()

	defer m.closeWatcher()
	_, err := p.Run()
	return err
}
