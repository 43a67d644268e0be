// Package platform abstracts the differences between the supported AI
// coding CLIs: Claude Code, OpenCode, Cursor, iFlow, and Codex. An Adapter
// is a pure mapping table from a platform tag to concrete argv vectors,
// config directory layout, and environment, with no state of its own.
package platform

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/trellis-dev/trellis/internal/errors"
)

// Platform identifies one of the supported CLI tools.
type Platform string

const (
	Claude   Platform = "claude"
	OpenCode Platform = "opencode"
	Cursor   Platform = "cursor"
	IFlow    Platform = "iflow"
	Codex    Platform = "codex"
)

// EnvPlatform overrides platform auto-detection when set.
const EnvPlatform = "TRELLIS_PLATFORM"

// All returns the supported platforms in detection-preference order.
func All() []Platform {
	return []Platform{Claude, OpenCode, Cursor, IFlow, Codex}
}

// Valid reports whether name is a supported platform tag.
func Valid(name string) bool {
	switch Platform(strings.ToLower(name)) {
	case Claude, OpenCode, Cursor, IFlow, Codex:
		return true
	}
	return false
}

// Adapter maps logical agent operations onto one platform's CLI.
type Adapter struct {
	Platform Platform
}

// New returns an adapter for the named platform.
func New(name string) (Adapter, error) {
	if !Valid(name) {
		return Adapter{}, errors.Wrapf(errors.ErrUnknownPlatform, "%q", name)
	}
	return Adapter{Platform: Platform(strings.ToLower(name))}, nil
}

// OpenCode ships a built-in "plan" agent that cannot be overridden, so the
// workflow's plan agent is installed under a prefixed name there.
var openCodeAgentNames = map[string]string{
	"plan": "trellis-plan",
}

// AgentName returns the platform-specific name for a logical agent.
func (a Adapter) AgentName(agent string) string {
	if a.Platform == OpenCode {
		if mapped, ok := openCodeAgentNames[agent]; ok {
			return mapped
		}
	}
	return agent
}

// ConfigDirName returns the platform's config directory name at the
// project root.
func (a Adapter) ConfigDirName() string {
	switch a.Platform {
	case OpenCode:
		return ".opencode"
	case Cursor:
		return ".cursor"
	case IFlow:
		return ".iflow"
	case Codex:
		return ".agents"
	default:
		return ".claude"
	}
}

// ConfigDir returns the platform config directory under projectRoot.
func (a Adapter) ConfigDir(projectRoot string) string {
	return filepath.Join(projectRoot, a.ConfigDirName())
}

// AgentPath returns the path of an agent definition file under the
// platform config directory.
func (a Adapter) AgentPath(agent, projectRoot string) string {
	if a.Platform == Codex {
		return filepath.Join(a.ConfigDir(projectRoot), "skills", a.AgentName(agent), "SKILL.md")
	}
	return filepath.Join(a.ConfigDir(projectRoot), "agents", a.AgentName(agent)+".md")
}

// TrellisCommandPath returns the repo-relative path of a workflow command
// file. Cursor uses prefix naming instead of a subdirectory; Codex uses
// skills.
func (a Adapter) TrellisCommandPath(name string) string {
	switch a.Platform {
	case Cursor:
		return ".cursor/commands/trellis-" + name + ".md"
	case Codex:
		return ".agents/skills/" + name + "/SKILL.md"
	default:
		return a.ConfigDirName() + "/commands/trellis/" + name + ".md"
	}
}

// NonInteractiveEnv returns the environment variable that puts the
// platform CLI into non-interactive mode, as a KEY=VALUE string.
func (a Adapter) NonInteractiveEnv() string {
	switch a.Platform {
	case OpenCode:
		return "OPENCODE_NON_INTERACTIVE=1"
	case Codex:
		return "CODEX_NON_INTERACTIVE=1"
	default:
		return "CLAUDE_NON_INTERACTIVE=1"
	}
}

// RunArgs builds the argv for running an agent with a prompt. sessionID is
// honored only on platforms that accept one at creation; pass the empty
// string otherwise. Cursor and iFlow are claude-compatible CLIs and share
// the claude invocation.
func (a Adapter) RunArgs(agent, prompt, sessionID string) []string {
	switch a.Platform {
	case OpenCode:
		// OpenCode run mode is non-interactive by default and has no
		// permission-skip flag; session ids are assigned server-side
		// and extracted from the log afterwards.
		return []string{
			"opencode", "run",
			"--agent", a.AgentName(agent),
			"--format", "json",
			"--log-level", "DEBUG", "--print-logs",
			prompt,
		}
	case Codex:
		return []string{"codex", "exec", prompt}
	default:
		args := []string{"claude", "-p", "--agent", a.AgentName(agent)}
		if sessionID != "" {
			args = append(args, "--session-id", sessionID)
		}
		args = append(args,
			"--dangerously-skip-permissions",
			"--output-format", "stream-json",
			"--verbose",
			prompt,
		)
		return args
	}
}

// ResumeArgs builds the argv for resuming a session.
func (a Adapter) ResumeArgs(sessionID string) []string {
	switch a.Platform {
	case OpenCode:
		return []string{"opencode", "run", "--session", sessionID}
	case Codex:
		return []string{"codex", "resume", sessionID}
	default:
		return []string{"claude", "--resume", sessionID}
	}
}

// ResumeCommand returns a human-readable resume command, prefixed with a
// cd when cwd is given.
func (a Adapter) ResumeCommand(sessionID, cwd string) string {
	cmd := strings.Join(a.ResumeArgs(sessionID), " ")
	if cwd != "" {
		return "cd " + cwd + " && " + cmd
	}
	return cmd
}

// SupportsSessionIDOnCreate reports whether the platform accepts a
// caller-generated session id at launch. Only claude does; opencode
// assigns its own.
func (a Adapter) SupportsSessionIDOnCreate() bool {
	return a.Platform == Claude
}

var openCodeSessionRe = regexp.MustCompile(`ses_[a-zA-Z0-9]+`)

// ExtractSessionID pulls an OpenCode session id (ses_xxx) out of log
// content. Returns the empty string when none is present or the platform
// does not log session ids.
func (a Adapter) ExtractSessionID(logContent string) string {
	if a.Platform != OpenCode {
		return ""
	}
	return openCodeSessionRe.FindString(logContent)
}

// Detect picks a platform from the project layout. The TRELLIS_PLATFORM
// environment variable wins; otherwise platform-specific config
// directories are probed. A .cursor directory only counts when .claude is
// absent, and Codex skills only when no other platform directory exists,
// since repos in migration often carry both.
func Detect(projectRoot string) Platform {
	if env := strings.ToLower(os.Getenv(EnvPlatform)); Valid(env) {
		return Platform(env)
	}

	if isDir(filepath.Join(projectRoot, ".opencode")) {
		return OpenCode
	}
	if isDir(filepath.Join(projectRoot, ".iflow")) {
		return IFlow
	}
	if isDir(filepath.Join(projectRoot, ".cursor")) && !isDir(filepath.Join(projectRoot, ".claude")) {
		return Cursor
	}

	hasOther := false
	for _, dir := range []string{".claude", ".cursor", ".iflow", ".opencode"} {
		if isDir(filepath.Join(projectRoot, dir)) {
			hasOther = true
			break
		}
	}
	if isDir(filepath.Join(projectRoot, ".agents", "skills")) && !hasOther {
		return Codex
	}

	return Claude
}

// DetectAdapter returns an adapter for the detected platform.
func DetectAdapter(projectRoot string) Adapter {
	return Adapter{Platform: Detect(projectRoot)}
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
