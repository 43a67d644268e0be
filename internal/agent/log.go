package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/trellis-dev/trellis/internal/platform"
)

// scanWindow bounds how far back the last-tool and last-message scans
// look.
const scanWindow = 100

// streamLine is the superset of one agent log line across the claude
// stream-json and opencode formats. Message stays raw because its shape
// depends on the line type: an object with string content (claude user),
// an object with a content list (claude assistant), or a bare string
// (opencode error).
type streamLine struct {
	Type    string          `json:"type"`
	Subtype string          `json:"subtype"`
	Tool    string          `json:"tool"`
	Text    string          `json:"text"`
	Reason  string          `json:"reason"`
	Message json.RawMessage `json:"message"`
	State   struct {
		Status string `json:"status"`
	} `json:"state"`
}

type contentItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
	Name string `json:"name"`
}

func (l *streamLine) contentItems() []contentItem {
	var msg struct {
		Content []contentItem `json:"content"`
	}
	if err := json.Unmarshal(l.Message, &msg); err != nil {
		return nil
	}
	return msg.Content
}

func (l *streamLine) contentText() string {
	var msg struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(l.Message, &msg); err != nil {
		return ""
	}
	return msg.Content
}

func (l *streamLine) messageText() string {
	var text string
	if err := json.Unmarshal(l.Message, &text); err != nil {
		return ""
	}
	return text
}

// TailLines returns the last n lines of a file, or nil when it cannot be
// read or is empty.
func TailLines(path string, n int) []string {
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return nil
	}
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}

// LastTool returns the most recent tool invocation in an agent log, or
// the empty string when none is found in the scan window.
func LastTool(logPath string, p platform.Platform) string {
	lines := TailLines(logPath, scanWindow)
	for i := len(lines) - 1; i >= 0; i-- {
		var line streamLine
		if err := json.Unmarshal([]byte(lines[i]), &line); err != nil {
			continue
		}

		if p == platform.OpenCode {
			if line.Type == "tool_use" {
				return line.Tool
			}
			continue
		}
		if line.Type == "assistant" {
			for _, item := range line.contentItems() {
				if item.Type == "tool_use" {
					return item.Name
				}
			}
		}
	}
	return ""
}

// LastMessage returns the most recent assistant text in an agent log,
// clipped to maxLen, or the empty string when none is found.
func LastMessage(logPath string, maxLen int, p platform.Platform) string {
	lines := TailLines(logPath, scanWindow)
	for i := len(lines) - 1; i >= 0; i-- {
		var line streamLine
		if err := json.Unmarshal([]byte(lines[i]), &line); err != nil {
			continue
		}

		if p == platform.OpenCode {
			if line.Type == "text" && line.Text != "" {
				return clip(line.Text, maxLen)
			}
			continue
		}
		if line.Type == "assistant" {
			for _, item := range line.contentItems() {
				if item.Type == "text" && item.Text != "" {
					return clip(item.Text, maxLen)
				}
			}
		}
	}
	return ""
}

// LogKind labels a rendered log entry.
type LogKind string

const (
	LogText      LogKind = "TEXT"
	LogTool      LogKind = "TOOL"
	LogStep      LogKind = "STEP"
	LogError     LogKind = "ERROR"
	LogSystem    LogKind = "SYSTEM"
	LogUser      LogKind = "USER"
	LogAssistant LogKind = "ASSISTANT"
	LogResult    LogKind = "RESULT"
)

// LogEntry is one human-readable agent log line.
type LogEntry struct {
	Kind LogKind
	Text string
}

// ParseLogLine renders one raw agent log line for display. Lines that
// are not JSON, or carry nothing displayable, report ok=false.
func ParseLogLine(raw string, p platform.Platform) (LogEntry, bool) {
	var line streamLine
	if err := json.Unmarshal([]byte(raw), &line); err != nil {
		return LogEntry{}, false
	}

	if p == platform.OpenCode {
		switch line.Type {
		case "text":
			if line.Text == "" {
				return LogEntry{}, false
			}
			return LogEntry{LogText, clipDots(line.Text, 300)}, true
		case "tool_use":
			name := line.Tool
			if name == "" {
				name = "unknown"
			}
			return LogEntry{LogTool, fmt.Sprintf("%s (%s)", name, line.State.Status)}, true
		case "step_start":
			return LogEntry{LogStep, "Start"}, true
		case "step_finish":
			return LogEntry{LogStep, fmt.Sprintf("Finish (%s)", line.Reason)}, true
		case "error":
			return LogEntry{LogError, line.messageText()}, true
		}
		return LogEntry{}, false
	}

	switch line.Type {
	case "system":
		return LogEntry{LogSystem, line.Subtype}, true
	case "user":
		content := line.contentText()
		if content == "" {
			return LogEntry{}, false
		}
		return LogEntry{LogUser, clip(content, 200)}, true
	case "assistant":
		items := line.contentItems()
		if len(items) == 0 {
			return LogEntry{}, false
		}
		if items[0].Text != "" {
			return LogEntry{LogAssistant, clipDots(items[0].Text, 300)}, true
		}
		if items[0].Name != "" {
			return LogEntry{LogTool, items[0].Name}, true
		}
		return LogEntry{}, false
	case "result":
		name := line.Tool
		if name == "" {
			name = "unknown"
		}
		return LogEntry{LogResult, name + " completed"}, true
	}
	return LogEntry{}, false
}

func clip(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen])
}

func clipDots(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
