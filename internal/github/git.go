package github

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// GitRunner provides git command execution. Interface for testing.
type GitRunner interface {
	RunGit(ctx context.Context, dir string, args ...string) (string, error)
}

// Git prepares and pushes the branch a pull request is opened from.
type Git struct {
	run GitRunner
	dir string
}

// NewGit returns a helper working in dir. A nil runner execs git.
func NewGit(run GitRunner, dir string) *Git {
	if run == nil {
		run = &ExecRunner{}
	}
	return &Git{run: run, dir: dir}
}

func validBranch(branch string) error {
	if branch == "" {
		return fmt.Errorf("branch name is empty")
	}
	if strings.HasPrefix(branch, "-") {
		return fmt.Errorf("invalid branch name %q: must not start with -", branch)
	}
	return nil
}

// CommitPatch creates branch from HEAD, applies patch and commits it.
// An empty patch still produces the branch with an empty commit.
func (g *Git) CommitPatch(ctx context.Context, branch, patch, message string) error {
	if err := validBranch(branch); err != nil {
		return err
	}
	if _, err := g.run.RunGit(ctx, g.dir, "checkout", "-B", branch); err != nil {
		return fmt.Errorf("create branch: %w", err)
	}
	if strings.TrimSpace(patch) != "" {
		f, err := os.CreateTemp("", "devlution-*.patch")
		if err != nil {
			return fmt.Errorf("write patch: %w", err)
		}
		defer os.Remove(f.Name())
		if _, err := f.WriteString(patch); err != nil {
			f.Close()
			return fmt.Errorf("write patch: %w", err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("write patch: %w", err)
		}
		if _, err := g.run.RunGit(ctx, g.dir, "apply", "--index", f.Name()); err != nil {
			return fmt.Errorf("apply patch: %w", err)
		}
	}
	if _, err := g.run.RunGit(ctx, g.dir, "commit", "--allow-empty", "-m", message); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// PushBranch pushes a branch to the remote.
func (g *Git) PushBranch(ctx context.Context, branch string) error {
	if err := validBranch(branch); err != nil {
		return err
	}
	if _, err := g.run.RunGit(ctx, g.dir, "push", "-u", "origin", branch); err != nil {
		return fmt.Errorf("push branch: %w", err)
	}
	return nil
}
