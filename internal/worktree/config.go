package worktree

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/trellis-dev/trellis/internal/workspace"
)

// ConfigFileName is the worktree configuration file under the workflow dir.
const ConfigFileName = "worktree.yaml"

// DefaultBaseDir is where worktrees live when worktree.yaml does not say
// otherwise, relative to the repository root.
const DefaultBaseDir = "../worktrees"

// Config holds the worktree.yaml settings.
type Config struct {
	// WorktreeDir is the base directory for new worktrees.
	WorktreeDir string
	// Copy lists files to copy from the repository root into a fresh
	// worktree. Entries may be glob patterns.
	Copy []string
	// PostCreate lists shell commands to run in a fresh worktree.
	PostCreate []string
}

// ConfigPath returns the worktree.yaml path for a repository.
func ConfigPath(root string) string {
	return filepath.Join(root, workspace.WorkflowDirName, ConfigFileName)
}

// LoadConfig reads worktree.yaml. A missing or unreadable file yields the
// zero Config; callers that require the file stat ConfigPath themselves.
func LoadConfig(root string) Config {
	data, err := os.ReadFile(ConfigPath(root))
	if err != nil {
		return Config{}
	}

	scalars, lists := parseSimpleYAML(string(data))
	return Config{
		WorktreeDir: scalars["worktree_dir"],
		Copy:        lists["copy"],
		PostCreate:  lists["post_create"],
	}
}

// BaseDir resolves the directory worktrees are created under. Values
// prefixed "./" or "../" resolve against the repository root, anything else
// is taken as-is. fallback applies when worktree.yaml carries no
// worktree_dir; an empty fallback means DefaultBaseDir.
func (c Config) BaseDir(root, fallback string) string {
	dir := c.WorktreeDir
	if dir == "" {
		dir = fallback
	}
	if dir == "" {
		dir = DefaultBaseDir
	}

	if strings.HasPrefix(dir, "../") || strings.HasPrefix(dir, "./") {
		return filepath.Join(root, dir)
	}
	return dir
}

// parseSimpleYAML reads the restricted subset worktree.yaml is written in:
// top-level key: value pairs and "- " list items under the most recent
// valueless key. Full-line # comments are skipped, single and double quotes
// are stripped from values and items, and a scalar key closes any open list.
func parseSimpleYAML(content string) (map[string]string, map[string][]string) {
	scalars := make(map[string]string)
	lists := make(map[string][]string)
	listKey := ""

	for _, line := range strings.Split(content, "\n") {
		stripped := strings.TrimSpace(line)
		if stripped == "" || strings.HasPrefix(stripped, "#") {
			continue
		}

		if item, ok := strings.CutPrefix(stripped, "- "); ok {
			if listKey != "" {
				lists[listKey] = append(lists[listKey], stripQuotes(strings.TrimSpace(item)))
			}
			continue
		}

		key, value, ok := strings.Cut(stripped, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = stripQuotes(strings.TrimSpace(value))
		if value != "" {
			scalars[key] = value
			listKey = ""
		} else {
			listKey = key
			lists[key] = []string{}
		}
	}

	return scalars, lists
}

func stripQuotes(s string) string {
	s = strings.Trim(s, `"`)
	return strings.Trim(s, "'")
}
