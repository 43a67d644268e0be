package task

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/trellis-dev/trellis/internal/workspace"
)

// Info is the queue-level view of one task directory.
type Info struct {
	Priority string
	ID       string
	Title    string
	Status   string
	Assignee string
	Dir      string
}

// Filter narrows queue listings. Empty fields match everything.
type Filter struct {
	Status   string
	Assignee string
}

// Dirs returns the active task directory names in sorted order, skipping
// the archive bucket.
func Dirs(root string) []string {
	entries, err := os.ReadDir(workspace.TasksDir(root))
	if err != nil {
		return nil
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() && entry.Name() != workspace.ArchiveDirName {
			names = append(names, entry.Name())
		}
	}
	return names
}

// List returns queue info for every active task with a readable
// descriptor, applying the filter. Directories without a parseable
// task.json are skipped.
func List(root string, filter Filter) []Info {
	var results []Info
	for _, name := range Dirs(root) {
		t := Read(filepath.Join(workspace.TasksDir(root), name))
		if t == nil {
			continue
		}

		info := Info{
			Priority: t.Priority,
			ID:       t.ID,
			Title:    t.DisplayTitle(),
			Status:   t.Status,
			Assignee: t.Assignee,
			Dir:      name,
		}
		if info.Priority == "" {
			info.Priority = DefaultPriority
		}
		if info.Status == "" {
			info.Status = StatusPlanning
		}
		if info.Assignee == "" {
			info.Assignee = "-"
		}

		if filter.Status != "" && info.Status != filter.Status {
			continue
		}
		if filter.Assignee != "" && info.Assignee != filter.Assignee {
			continue
		}
		results = append(results, info)
	}
	return results
}

// Pending lists tasks still in planning.
func Pending(root string) []Info {
	return List(root, Filter{Status: StatusPlanning})
}

// Stats counts active tasks by priority.
type Stats struct {
	P0    int
	P1    int
	P2    int
	P3    int
	Total int
}

// CollectStats tallies priorities across the active queue. Unreadable
// descriptors are skipped; unknown priorities count only toward the
// total.
func CollectStats(root string) Stats {
	var stats Stats
	for _, info := range List(root, Filter{}) {
		switch info.Priority {
		case PriorityP0:
			stats.P0++
		case PriorityP1:
			stats.P1++
		case PriorityP2:
			stats.P2++
		case PriorityP3:
			stats.P3++
		}
		stats.Total++
	}
	return stats
}

// String formats the stats line, e.g. "P0:0 P1:1 P2:2 P3:0 Total:3".
func (s Stats) String() string {
	return fmt.Sprintf("P0:%d P1:%d P2:%d P3:%d Total:%d", s.P0, s.P1, s.P2, s.P3, s.Total)
}
