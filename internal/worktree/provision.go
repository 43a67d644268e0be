package worktree

import (
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"

	"github.com/trellis-dev/trellis/internal/errors"
)

// CopyFiles copies the configured allow-list entries from the repository root
// into a worktree. Plain entries are copied when they name a regular file;
// entries containing glob metacharacters are matched against the repository
// tree (slash-relative paths, .git excluded). Returns the number of files
// copied. Entries that match nothing are skipped, as are patterns that fail
// to compile.
func CopyFiles(root, worktreePath string, entries []string) (int, error) {
	copied := 0
	for _, entry := range entries {
		if entry == "" {
			continue
		}

		if !strings.ContainsAny(entry, "*?[{") {
			src := filepath.Join(root, entry)
			info, err := os.Stat(src)
			if err != nil || !info.Mode().IsRegular() {
				continue
			}
			if err := copyInto(src, worktreePath, entry); err != nil {
				return copied, err
			}
			copied++
			continue
		}

		g, err := glob.Compile(entry)
		if err != nil {
			continue
		}
		matches, err := matchTree(root, g)
		if err != nil {
			return copied, err
		}
		for _, rel := range matches {
			if err := copyInto(filepath.Join(root, rel), worktreePath, rel); err != nil {
				return copied, err
			}
			copied++
		}
	}
	return copied, nil
}

// CopyTaskDir copies the task directory into the worktree at the same
// relative path. The task directory may not be committed yet, so it has to
// travel by copy rather than by checkout. An existing target is replaced.
func CopyTaskDir(root, worktreePath, taskDirRel string) error {
	src := filepath.Join(root, taskDirRel)
	dst := filepath.Join(worktreePath, taskDirRel)

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := os.RemoveAll(dst); err != nil {
		return err
	}
	return copyTree(src, dst)
}

// RunHooks executes the post-create shell hooks in the worktree, aborting on
// the first non-zero exit. Hook output streams to the given writers. Returns
// the number of hooks that ran.
func RunHooks(worktreePath string, hooks []string, stdout, stderr io.Writer) (int, error) {
	ran := 0
	for _, hook := range hooks {
		if hook == "" {
			continue
		}

		cmd := exec.Command("sh", "-c", hook)
		cmd.Dir = worktreePath
		cmd.Stdout = stdout
		cmd.Stderr = stderr
		if err := cmd.Run(); err != nil {
			return ran, errors.Wrapf(errors.ErrHookFailed, "%s", hook)
		}
		ran++
	}
	return ran, nil
}

func matchTree(root string, g glob.Glob) ([]string, error) {
	var matches []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if g.Match(rel) {
			matches = append(matches, rel)
		}
		return nil
	})
	return matches, err
}

func copyInto(src, worktreePath, rel string) error {
	dst := filepath.Join(worktreePath, rel)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return copyFile(src, dst)
}

// copyFile copies src to dst, preserving the source file mode. The
// destination directory must exist; an existing destination is overwritten.
func copyFile(src, dst string) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, srcInfo.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	return os.Chmod(dst, srcInfo.Mode())
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			return os.MkdirAll(target, info.Mode().Perm())
		}
		return copyFile(path, target)
	})
}
