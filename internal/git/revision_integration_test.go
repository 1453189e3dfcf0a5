package git

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Integration tests for the real Describer.
// These tests use actual git commands and run sequentially (NO t.Parallel()).

func TestDescribeIntegration(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	d := NewDescriber()
	ctx := context.Background()

	t.Run("clean checkout on main", func(t *testing.T) {
		dir := createTestGitRepo(t)
		rev, err := d.Describe(ctx, dir)
		require.NoError(t, err)

		assert.Equal(t, "main", rev.Branch)
		assert.Len(t, rev.Commit, 40)
		assert.False(t, rev.Dirty)
		assert.Empty(t, rev.Remote)

		want, err := filepath.EvalSymlinks(dir)
		require.NoError(t, err)
		got, err := filepath.EvalSymlinks(rev.Worktree)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("subdirectory reports the worktree", func(t *testing.T) {
		dir := createTestGitRepo(t)
		sub := filepath.Join(dir, "pkg")
		require.NoError(t, os.MkdirAll(sub, 0755))

		rev, err := d.Describe(ctx, sub)
		require.NoError(t, err)
		assert.Equal(t, "main", rev.Branch)
	})

	t.Run("modified tracked file is dirty", func(t *testing.T) {
		dir := createTestGitRepo(t)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# Changed\n"), 0644))

		rev, err := d.Describe(ctx, dir)
		require.NoError(t, err)
		assert.True(t, rev.Dirty)
	})

	t.Run("untracked files are not dirty", func(t *testing.T) {
		dir := createTestGitRepo(t)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "new.py"), []byte("x = 1\n"), 0644))

		rev, err := d.Describe(ctx, dir)
		require.NoError(t, err)
		assert.False(t, rev.Dirty)
	})

	t.Run("detached HEAD has no branch", func(t *testing.T) {
		dir := createTestGitRepo(t)
		runGitCmd(t, dir, "checkout", "--detach", "HEAD")

		rev, err := d.Describe(ctx, dir)
		require.NoError(t, err)
		assert.Empty(t, rev.Branch)
		assert.NotEmpty(t, rev.Commit)
	})

	t.Run("remote falls back to the first remote", func(t *testing.T) {
		dir := createTestGitRepo(t)
		runGitCmd(t, dir, "remote", "add", "upstream", "https://example.com/upstream.git")

		rev, err := d.Describe(ctx, dir)
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/upstream.git", rev.Remote)

		runGitCmd(t, dir, "remote", "add", "origin", "https://example.com/origin.git")
		rev, err = d.Describe(ctx, dir)
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/origin.git", rev.Remote)
	})

	t.Run("not a repository", func(t *testing.T) {
		rev, err := d.Describe(ctx, t.TempDir())
		assert.ErrorIs(t, err, ErrNotRepository)
		assert.Nil(t, rev)
	})
}

// Test helpers

func createTestGitRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	// Initialize repo
	cmd := exec.Command("git", "init", "-b", "main")
	cmd.Dir = dir
	require.NoError(t, cmd.Run(), "git init failed")

	// Configure git identity
	runGitCmd(t, dir, "config", "user.email", "test@example.com")
	runGitCmd(t, dir, "config", "user.name", "Test User")

	// Create initial commit
	testFile := filepath.Join(dir, "README.md")
	require.NoError(t, os.WriteFile(testFile, []byte("# Test\n"), 0644))
	runGitCmd(t, dir, "add", "README.md")
	runGitCmd(t, dir, "commit", "-m", "Initial commit")

	return dir
}

func runGitCmd(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v failed: %s", args, string(output))
}
