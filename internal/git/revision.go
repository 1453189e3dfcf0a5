// Package git reads the revision a harvested tree is checked out at.
package git

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/mvp-joe/harvest/internal/snapshot"
)

// ErrNotRepository is returned when the directory is not inside a git
// worktree, or git is not installed.
var ErrNotRepository = errors.New("not a git repository")

// Describer reports the revision of the worktree containing a directory.
// This allows mocking git commands in tests.
type Describer interface {
	Describe(ctx context.Context, dir string) (*snapshot.Revision, error)
}

// gitOps is the real implementation using exec.Command.
type gitOps struct{}

// NewDescriber returns the default git implementation.
func NewDescriber() Describer {
	return &gitOps{}
}

func (g *gitOps) Describe(ctx context.Context, dir string) (*snapshot.Revision, error) {
	top, err := run(ctx, dir, "rev-parse", "--show-toplevel")
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotRepository, dir)
	}

	rev := &snapshot.Revision{Worktree: top}
	// HEAD does not resolve before the first commit.
	rev.Commit, _ = run(ctx, dir, "rev-parse", "HEAD")
	rev.Branch, _ = run(ctx, dir, "branch", "--show-current")
	rev.Remote = remoteURL(ctx, dir)

	status, err := run(ctx, dir, "status", "--porcelain", "--untracked-files=no")
	if err == nil {
		rev.Dirty = status != ""
	}
	return rev, nil
}

// remoteURL returns the URL of origin, falling back to the first remote.
func remoteURL(ctx context.Context, dir string) string {
	if url, err := run(ctx, dir, "remote", "get-url", "origin"); err == nil {
		return url
	}

	remotes, err := run(ctx, dir, "remote")
	if err != nil || remotes == "" {
		return ""
	}
	first, _, _ := strings.Cut(remotes, "\n")
	url, _ := run(ctx, dir, "remote", "get-url", first)
	return url
}

func run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	output, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}
