// Package phase tracks pipeline progress through the current_phase field
// of a task descriptor. All reads fail silently to defaults so phase
// bookkeeping never blocks the surrounding workflow.
package phase

import (
	"fmt"

	"github.com/trellis-dev/trellis/internal/task"
)

// Current returns the task's current phase, or 0 when the descriptor is
// missing or unreadable.
func Current(taskDir string) int {
	t := task.Read(taskDir)
	if t == nil {
		return 0
	}
	return t.CurrentPhase
}

// Total returns the number of defined phases, or 0.
func Total(taskDir string) int {
	t := task.Read(taskDir)
	if t == nil {
		return 0
	}
	return len(t.NextAction)
}

// Action returns the action name for a phase number, or "unknown".
func Action(taskDir string, phase int) string {
	t := task.Read(taskDir)
	if t == nil {
		return "unknown"
	}
	for _, step := range t.NextAction {
		if step.Phase == phase {
			if step.Action == "" {
				return "unknown"
			}
			return step.Action
		}
	}
	return "unknown"
}

// Info formats progress as "N/M (action)", "0/M (pending)" before the
// first phase, or "N/A" when the descriptor is unreadable.
func Info(taskDir string) string {
	t := task.Read(taskDir)
	if t == nil {
		return "N/A"
	}
	total := len(t.NextAction)
	if t.CurrentPhase == 0 {
		return fmt.Sprintf("0/%d (pending)", total)
	}
	return fmt.Sprintf("%d/%d (%s)", t.CurrentPhase, total, Action(taskDir, t.CurrentPhase))
}

// Set writes current_phase unconditionally. This is the manual override
// path; action-driven advancement goes through AdvanceForAction. Returns
// false when the descriptor cannot be read or written.
func Set(taskDir string, phase int) bool {
	t := task.Read(taskDir)
	if t == nil {
		return false
	}
	t.CurrentPhase = phase
	return task.Save(taskDir, t) == nil
}

// Advance moves to the next phase. Returns false on read/write failure or
// when already at the final phase.
func Advance(taskDir string) bool {
	t := task.Read(taskDir)
	if t == nil {
		return false
	}
	next := t.CurrentPhase + 1
	if next > len(t.NextAction) {
		return false
	}
	t.CurrentPhase = next
	return task.Save(taskDir, t) == nil
}

// PhaseForAction returns the phase number carrying an action, or 0.
func PhaseForAction(taskDir, action string) int {
	t := task.Read(taskDir)
	if t == nil {
		return 0
	}
	for _, step := range t.NextAction {
		if step.Action == action {
			return step.Phase
		}
	}
	return 0
}

// Subagent types and the action names they report as. The table exists
// so a subagent can be renamed without touching its action.
var subagentActions = map[string]string{
	"implement": "implement",
	"check":     "check",
	"debug":     "debug",
	"research":  "research",
}

// MapSubagent maps a subagent type to its action name. Unknown types map
// to themselves.
func MapSubagent(subagentType string) string {
	if action, ok := subagentActions[subagentType]; ok {
		return action
	}
	return subagentType
}

// IsCompleted reports whether a phase has been passed.
func IsCompleted(taskDir string, phase int) bool {
	return Current(taskDir) > phase
}

// IsCurrentAction reports whether the current phase carries the action.
func IsCurrentAction(taskDir, action string) bool {
	return Current(taskDir) == PhaseForAction(taskDir, action)
}

// The finish phase is driven by the check agent, so a check invocation
// can satisfy either.
var actionAgents = map[string]string{
	"implement": "implement",
	"check":     "check",
	"finish":    "check",
}

// AdvanceForAction advances current_phase to the smallest phase greater
// than the current one whose action is driven by the invoked agent.
// No-ops (returning the unchanged phase and false) when the agent is in
// the skip set, when no later phase matches, or when the descriptor is
// unreadable. The phase never moves backward.
func AdvanceForAction(taskDir, agent string, skipAgents []string) (int, bool) {
	for _, skip := range skipAgents {
		if agent == skip {
			return Current(taskDir), false
		}
	}

	t := task.Read(taskDir)
	if t == nil {
		return 0, false
	}

	newPhase := 0
	for _, step := range t.NextAction {
		if step.Phase <= t.CurrentPhase {
			continue
		}
		if actionAgents[step.Action] != agent {
			continue
		}
		if newPhase == 0 || step.Phase < newPhase {
			newPhase = step.Phase
		}
	}
	if newPhase == 0 {
		return t.CurrentPhase, false
	}

	t.CurrentPhase = newPhase
	if err := task.Save(taskDir, t); err != nil {
		return Current(taskDir), false
	}
	return newPhase, true
}
