package worktree

import (
	"reflect"
	"testing"

	"github.com/trellis-dev/trellis/internal/errors"
)

// mockCall records a single command invocation.
type mockCall struct {
	dir  string
	name string
	args []string
}

// mockExecutor is a test double for CommandExecutor.
type mockExecutor struct {
	calls      []mockCall
	runOutputs [][]byte
	runErrors  []error
	callIndex  int
}

func newMockExecutor() *mockExecutor {
	return &mockExecutor{}
}

func (m *mockExecutor) addResponse(output []byte, err error) {
	m.runOutputs = append(m.runOutputs, output)
	m.runErrors = append(m.runErrors, err)
}

func (m *mockExecutor) Run(dir string, name string, args ...string) ([]byte, error) {
	m.calls = append(m.calls, mockCall{dir: dir, name: name, args: args})
	idx := m.callIndex
	m.callIndex++
	if idx < len(m.runOutputs) {
		return m.runOutputs[idx], m.runErrors[idx]
	}
	return nil, nil
}

func (m *mockExecutor) RunQuiet(dir string, name string, args ...string) error {
	m.calls = append(m.calls, mockCall{dir: dir, name: name, args: args})
	idx := m.callIndex
	m.callIndex++
	if idx < len(m.runErrors) {
		return m.runErrors[idx]
	}
	return nil
}

func TestManagerAdd_NewBranch(t *testing.T) {
	mock := newMockExecutor()
	mock.addResponse(nil, errors.New("ref missing")) // show-ref: branch absent
	mock.addResponse([]byte("Preparing worktree"), nil)

	m := NewWithExecutor("/repo", mock)
	if err := m.Add("/worktrees/task-x", "task/x"); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	if len(mock.calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(mock.calls))
	}
	want := []string{"worktree", "add", "-b", "task/x", "/worktrees/task-x"}
	if !reflect.DeepEqual(mock.calls[1].args, want) {
		t.Errorf("add args = %v, want %v", mock.calls[1].args, want)
	}
	if mock.calls[1].dir != "/repo" {
		t.Errorf("add ran in %q, want /repo", mock.calls[1].dir)
	}
}

func TestManagerAdd_ExistingBranch(t *testing.T) {
	mock := newMockExecutor()
	mock.addResponse(nil, nil) // show-ref: branch exists
	mock.addResponse(nil, nil)

	m := NewWithExecutor("/repo", mock)
	if err := m.Add("/worktrees/task-x", "task/x"); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	want := []string{"worktree", "add", "/worktrees/task-x", "task/x"}
	if !reflect.DeepEqual(mock.calls[1].args, want) {
		t.Errorf("add args = %v, want %v", mock.calls[1].args, want)
	}
}

func TestManagerAdd_Failure(t *testing.T) {
	mock := newMockExecutor()
	mock.addResponse(nil, errors.New("ref missing"))
	mock.addResponse([]byte("fatal: already checked out"), errors.New("exit status 128"))

	m := NewWithExecutor("/repo", mock)
	err := m.Add("/worktrees/task-x", "task/x")
	if err == nil {
		t.Fatal("Add() expected error")
	}

	var gitErr *errors.GitError
	if !errors.As(err, &gitErr) {
		t.Fatalf("error is %T, want *GitError", err)
	}
	if gitErr.Branch != "task/x" || gitErr.Worktree != "/worktrees/task-x" {
		t.Errorf("error context = branch %q worktree %q", gitErr.Branch, gitErr.Worktree)
	}
	if gitErr.GitOutput != "fatal: already checked out" {
		t.Errorf("GitOutput = %q", gitErr.GitOutput)
	}
}

func TestManagerList(t *testing.T) {
	porcelain := "worktree /repo\nHEAD abc123\nbranch refs/heads/main\n\n" +
		"worktree /worktrees/task-x\nHEAD def456\nbranch refs/heads/task/x\n\n" +
		"worktree /worktrees/detached\nHEAD 789abc\ndetached\n"

	mock := newMockExecutor()
	mock.addResponse([]byte(porcelain), nil)

	m := NewWithExecutor("/repo", mock)
	worktrees, err := m.List()
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}

	want := []Worktree{
		{Path: "/repo", Branch: "main"},
		{Path: "/worktrees/task-x", Branch: "task/x"},
		{Path: "/worktrees/detached", Branch: ""},
	}
	if !reflect.DeepEqual(worktrees, want) {
		t.Errorf("List() = %v, want %v", worktrees, want)
	}
}

func TestManagerFindForBranch(t *testing.T) {
	porcelain := "worktree /repo\nbranch refs/heads/main\n\nworktree /worktrees/task-x\nbranch refs/heads/task/x\n"

	mock := newMockExecutor()
	mock.addResponse([]byte(porcelain), nil)

	m := NewWithExecutor("/repo", mock)
	wt, err := m.FindForBranch("task/x")
	if err != nil {
		t.Fatalf("FindForBranch() error: %v", err)
	}
	if wt.Path != "/worktrees/task-x" {
		t.Errorf("Path = %q", wt.Path)
	}
}

func TestManagerFindForBranch_NotFound(t *testing.T) {
	mock := newMockExecutor()
	mock.addResponse([]byte("worktree /repo\nbranch refs/heads/main\n"), nil)

	m := NewWithExecutor("/repo", mock)
	_, err := m.FindForBranch("task/gone")
	if !errors.Is(err, errors.ErrWorktreeNotFound) {
		t.Errorf("error = %v, want ErrWorktreeNotFound", err)
	}
}

func TestManagerMainBranch(t *testing.T) {
	t.Run("from origin HEAD", func(t *testing.T) {
		mock := newMockExecutor()
		mock.addResponse([]byte("refs/remotes/origin/develop\n"), nil)

		m := NewWithExecutor("/repo", mock)
		if got := m.MainBranch(); got != "develop" {
			t.Errorf("MainBranch() = %q, want develop", got)
		}
	})

	t.Run("symbolic ref unset", func(t *testing.T) {
		mock := newMockExecutor()
		mock.addResponse([]byte("fatal: ref refs/remotes/origin/HEAD is not a symbolic ref"), errors.New("exit status 128"))

		m := NewWithExecutor("/repo", mock)
		if got := m.MainBranch(); got != "main" {
			t.Errorf("MainBranch() = %q, want main", got)
		}
	})
}

func TestManagerMergedBranches(t *testing.T) {
	mock := newMockExecutor()
	mock.addResponse([]byte("  task/done\n* main\n  task/also-done\n"), nil)

	m := NewWithExecutor("/repo", mock)
	branches, err := m.MergedBranches("main")
	if err != nil {
		t.Fatalf("MergedBranches() error: %v", err)
	}

	want := []string{"task/done", "task/also-done"}
	if !reflect.DeepEqual(branches, want) {
		t.Errorf("MergedBranches() = %v, want %v", branches, want)
	}
}

func TestManagerDeleteBranch_NotFound(t *testing.T) {
	mock := newMockExecutor()
	mock.addResponse([]byte("error: branch 'gone' not found"), errors.New("exit status 1"))

	m := NewWithExecutor("/repo", mock)
	err := m.DeleteBranch("gone")
	if !errors.Is(err, errors.ErrBranchNotFound) {
		t.Errorf("error = %v, want ErrBranchNotFound", err)
	}
}

func TestManagerHasStagedChanges(t *testing.T) {
	t.Run("staged", func(t *testing.T) {
		mock := newMockExecutor()
		mock.addResponse(nil, errors.New("exit status 1"))

		m := NewWithExecutor("/repo", mock)
		if !m.HasStagedChanges("/wt") {
			t.Error("HasStagedChanges() = false, want true")
		}
	})

	t.Run("clean index", func(t *testing.T) {
		mock := newMockExecutor()
		mock.addResponse(nil, nil)

		m := NewWithExecutor("/repo", mock)
		if m.HasStagedChanges("/wt") {
			t.Error("HasStagedChanges() = true, want false")
		}
	})
}

func TestManagerUnpushedCount(t *testing.T) {
	t.Run("two commits", func(t *testing.T) {
		mock := newMockExecutor()
		mock.addResponse([]byte("abc123 first\ndef456 second\n"), nil)

		m := NewWithExecutor("/repo", mock)
		if got := m.UnpushedCount("/wt", "task/x"); got != 2 {
			t.Errorf("UnpushedCount() = %d, want 2", got)
		}
	})

	t.Run("no upstream", func(t *testing.T) {
		mock := newMockExecutor()
		mock.addResponse([]byte("unknown revision"), errors.New("exit status 128"))

		m := NewWithExecutor("/repo", mock)
		if got := m.UnpushedCount("/wt", "task/x"); got != 0 {
			t.Errorf("UnpushedCount() = %d, want 0", got)
		}
	})
}

func TestManagerUnstage(t *testing.T) {
	mock := newMockExecutor()
	mock.addResponse(nil, nil)

	m := NewWithExecutor("/repo", mock)
	if err := m.Unstage("/wt", ".trellis/workspace/", ".agent-log"); err != nil {
		t.Fatalf("Unstage() error: %v", err)
	}

	want := []string{"reset", ".trellis/workspace/", ".agent-log"}
	if !reflect.DeepEqual(mock.calls[0].args, want) {
		t.Errorf("args = %v, want %v", mock.calls[0].args, want)
	}
	if mock.calls[0].dir != "/wt" {
		t.Errorf("ran in %q, want /wt", mock.calls[0].dir)
	}
}

func TestManagerStagedFiles_Empty(t *testing.T) {
	mock := newMockExecutor()
	mock.addResponse([]byte("\n"), nil)

	m := NewWithExecutor("/repo", mock)
	files, err := m.StagedFiles("/wt")
	if err != nil {
		t.Fatalf("StagedFiles() error: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("StagedFiles() = %v, want empty", files)
	}
}
