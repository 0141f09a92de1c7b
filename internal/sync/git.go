package sync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/alfredjeanlab/onix/internal/model"
)

// GitDestination keeps the snapshot as one file in an existing local clone
// and pushes a commit whenever it changes.
type GitDestination struct {
	dir    string
	path   string // relative to dir
	branch string
}

func NewGitDestination(repo, file, branch string) *GitDestination {
	return &GitDestination{dir: repo, path: file, branch: branch}
}

func (d *GitDestination) Name() string {
	return fmt.Sprintf("git:%s@%s", filepath.Join(d.dir, d.path), d.branch)
}

// Read returns the snapshot at the tip of the branch.
func (d *GitDestination) Read(ctx context.Context) ([]byte, error) {
	if err := d.refresh(ctx); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(d.abs())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("snapshot %s: %w", d.Name(), model.ErrNotFound)
	}
	return data, err
}

// Write replaces the file and pushes a commit if the content changed. A
// rejected push is retried once after rebasing onto the remote branch.
func (d *GitDestination) Write(ctx context.Context, data []byte) error {
	if err := d.refresh(ctx); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(d.abs()), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	if err := os.WriteFile(d.abs(), data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}

	if _, err := d.run(ctx, "add", "--", d.path); err != nil {
		return err
	}
	if _, err := d.run(ctx, "diff", "--cached", "--quiet"); err == nil {
		return nil // nothing staged
	}
	msg := fmt.Sprintf("onix: graph snapshot (%d records)", bytes.Count(data, []byte{'\n'}))
	if _, err := d.run(ctx, "commit", "--quiet", "-m", msg); err != nil {
		return err
	}

	_, err := d.run(ctx, "push", "origin", d.branch)
	if err == nil {
		return nil
	}
	if _, rerr := d.run(ctx, "pull", "--rebase", "origin", d.branch); rerr != nil {
		return errors.Join(err, rerr)
	}
	_, err = d.run(ctx, "push", "origin", d.branch)
	return err
}

func (d *GitDestination) abs() string { return filepath.Join(d.dir, d.path) }

// refresh checks out the branch and fast-forwards it. The pull may fail
// when the remote has no such branch yet, which is fine.
func (d *GitDestination) refresh(ctx context.Context) error {
	if _, err := d.run(ctx, "checkout", "--quiet", d.branch); err != nil {
		return err
	}
	_, _ = d.run(ctx, "pull", "--ff-only", "--quiet", "origin", d.branch)
	return nil
}

// run executes git in the clone and returns its trimmed output. Failures
// name the subcommand and carry git's own message.
func (d *GitDestination) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", d.dir}, args...)...)
	out, err := cmd.CombinedOutput()
	text := strings.TrimSpace(string(out))
	if err != nil {
		if text != "" {
			return "", fmt.Errorf("git %s: %w: %s", args[0], err, text)
		}
		return "", fmt.Errorf("git %s: %w", args[0], err)
	}
	return text, nil
}
