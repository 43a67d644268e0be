package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/trellis-dev/trellis/internal/agent"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#A78BFA"))
	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#A78BFA"))
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	stoppedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	badgeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// kindStyles colors the log badges the same way `agent log` colors its
// terminal output.
var kindStyles = map[agent.LogKind]lipgloss.Style{
	agent.LogText:      lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
	agent.LogTool:      lipgloss.NewStyle().Foreground(lipgloss.Color("220")),
	agent.LogStep:      lipgloss.NewStyle().Foreground(lipgloss.Color("51")),
	agent.LogError:     lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	agent.LogSystem:    lipgloss.NewStyle().Foreground(lipgloss.Color("51")),
	agent.LogUser:      lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
	agent.LogAssistant: lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
	agent.LogResult:    lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
}

func kindBadge(kind agent.LogKind) string {
	style, ok := kindStyles[kind]
	if !ok {
		style = badgeStyle
	}
	return style.Render("[" + string(kind) + "]")
}
