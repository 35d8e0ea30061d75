// Package testutil provides helpers shared by package tests.
package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// InitGitRepo creates a temporary repository on branch "main" with one
// commit containing README.md, and returns its path. The test is skipped if
// git is not installed.
func InitGitRepo(t *testing.T) string {
	t.Helper()

	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	dir := t.TempDir()
	// Resolve symlinks so paths compare equal to what git reports (macOS /private/var).
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		dir = resolved
	}

	Git(t, dir, "init", "-q")
	Git(t, dir, "symbolic-ref", "HEAD", "refs/heads/main")
	Git(t, dir, "config", "user.name", "Test")
	Git(t, dir, "config", "user.email", "test@test.com")
	Git(t, dir, "config", "commit.gpgsign", "false")

	WriteFile(t, dir, "README.md", "# Test\n")
	Git(t, dir, "add", ".")
	Git(t, dir, "commit", "-q", "-m", "Initial commit")

	return dir
}

// Git runs a git command in dir and fails the test on error.
// It returns trimmed combined output.
func Git(t *testing.T, dir string, args ...string) string {
	t.Helper()

	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return strings.TrimSpace(string(out))
}

// WriteFile writes content to rel under dir, creating parent directories.
func WriteFile(t *testing.T, dir, rel, content string) string {
	t.Helper()

	path := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir for %s: %v", rel, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
	return path
}

// CommitCount returns the number of commits reachable from ref.
func CommitCount(t *testing.T, dir, ref string) string {
	t.Helper()
	return Git(t, dir, "rev-list", "--count", ref)
}
