package sync

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alfredjeanlab/onix/internal/model"
)

// newGitClone creates a bare remote with one commit on main and returns
// the path of a working clone of it.
func newGitClone(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not found in PATH")
	}
	remote := t.TempDir()
	gitOut(t, remote, "init", "--bare")
	gitOut(t, remote, "symbolic-ref", "HEAD", "refs/heads/main")

	work := t.TempDir()
	gitOut(t, work, "clone", remote, "repo")
	repo := filepath.Join(work, "repo")
	gitOut(t, repo, "config", "user.email", "sync@onix.test")
	gitOut(t, repo, "config", "user.name", "onix sync")
	gitOut(t, repo, "symbolic-ref", "HEAD", "refs/heads/main")
	if err := os.WriteFile(filepath.Join(repo, "README"), []byte("snapshots\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	gitOut(t, repo, "add", ".")
	gitOut(t, repo, "commit", "-m", "init")
	gitOut(t, repo, "push", "origin", "main")
	return repo
}

func gitOut(t *testing.T, dir string, args ...string) string {
	t.Helper()
	out, err := exec.Command("git", append([]string{"-C", dir}, args...)...).CombinedOutput()
	if err != nil {
		t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return strings.TrimSpace(string(out))
}

func TestGitDestination_WriteCommitsOnlyChanges(t *testing.T) {
	repo := newGitClone(t)
	dest := NewGitDestination(repo, "onix.jsonl", "main")
	ctx := context.Background()

	first := []byte("{\"type\":\"header\"}\n{\"type\":\"item\"}\n")
	second := []byte("{\"type\":\"header\"}\n{\"type\":\"item\"}\n{\"type\":\"link\"}\n")

	for i, step := range []struct {
		data    []byte
		commits string
	}{
		{first, "2"},
		{first, "2"}, // unchanged: no commit
		{second, "3"},
	} {
		if err := dest.Write(ctx, step.data); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
		if got := gitOut(t, repo, "rev-list", "--count", "origin/main"); got != step.commits {
			t.Errorf("after write %d: %s commits pushed, want %s", i, got, step.commits)
		}
	}
	if msg := gitOut(t, repo, "log", "-1", "--format=%s"); msg != "onix: graph snapshot (3 records)" {
		t.Errorf("commit message = %q", msg)
	}
}

func TestGitDestination_ReadAndSubdirectory(t *testing.T) {
	repo := newGitClone(t)
	dest := NewGitDestination(repo, "snapshots/prod/onix.jsonl", "main")
	ctx := context.Background()

	if _, err := dest.Read(ctx); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound before the first write, got %v", err)
	}

	data := []byte("{\"type\":\"header\"}\n")
	if err := dest.Write(ctx, data); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := dest.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("read %q, want %q", got, data)
	}
	if !strings.HasSuffix(dest.Name(), "snapshots/prod/onix.jsonl@main") {
		t.Errorf("Name() = %q", dest.Name())
	}
}

func TestGitDestination_ErrorIncludesOutput(t *testing.T) {
	repo := newGitClone(t)
	dest := NewGitDestination(repo, "onix.jsonl", "no-such-branch")

	err := dest.Write(context.Background(), []byte("x\n"))
	if err == nil {
		t.Fatal("expected checkout of a missing branch to fail")
	}
	if !strings.Contains(err.Error(), "no-such-branch") {
		t.Errorf("error should carry git's output, got %v", err)
	}
}

func TestGitDestination_RebasesRejectedPush(t *testing.T) {
	repo := newGitClone(t)
	remote := gitOut(t, repo, "remote", "get-url", "origin")

	// Another writer pushes first while this clone holds an unpushed
	// commit, so the histories diverge and the fast-forward pull fails.
	other := filepath.Join(t.TempDir(), "other")
	gitOut(t, filepath.Dir(other), "clone", remote, "other")
	gitOut(t, other, "config", "user.email", "other@onix.test")
	gitOut(t, other, "config", "user.name", "other")
	commitFile(t, other, "NOTES", "from elsewhere\n")
	gitOut(t, other, "push", "origin", "main")

	commitFile(t, repo, "LOCAL", "local only\n")

	dest := NewGitDestination(repo, "onix.jsonl", "main")
	if err := dest.Write(context.Background(), []byte("{\"type\":\"header\"}\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	// init + NOTES + LOCAL + snapshot
	if got := gitOut(t, repo, "rev-list", "--count", "origin/main"); got != "4" {
		t.Errorf("remote has %s commits, want 4", got)
	}
}

func commitFile(t *testing.T, repo, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(repo, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	gitOut(t, repo, "add", name)
	gitOut(t, repo, "commit", "-m", "add "+name)
}
