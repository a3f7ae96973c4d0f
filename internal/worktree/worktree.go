// Package worktree gives a run scratch git worktrees where its patch is
// applied before checks run and the pull request branch is cut.
package worktree

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
)

// GitRunner provides git commands. Interface for testing.
type GitRunner interface {
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

// ExecGit implements GitRunner using exec.Command.
type ExecGit struct{}

func (g *ExecGit) Run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return strings.TrimSpace(string(out)), fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Manager handles git worktree operations.
type Manager struct {
	git     GitRunner
	repoDir string // git repo root
	baseDir string // where worktrees are created
	base    string // branch new worktrees start from
}

// NewManager creates a worktree manager. base defaults to main.
func NewManager(git GitRunner, repoDir, baseDir, base string) *Manager {
	if git == nil {
		git = &ExecGit{}
	}
	if base == "" {
		base = "main"
	}
	return &Manager{git: git, repoDir: repoDir, baseDir: baseDir, base: base}
}

// CreateOpts holds options for creating a worktree.
type CreateOpts struct {
	Name   string // directory name under the base dir
	Branch string // check out a named branch instead of a detached HEAD
}

// CreateResult holds the result of creating a worktree.
type CreateResult struct {
	Path   string
	Branch string
}

// Create adds a worktree at origin/<base>, falling back to the local base
// branch when the remote ref is unavailable. A leftover worktree of the same
// name is removed first.
func (m *Manager) Create(ctx context.Context, opts CreateOpts) (*CreateResult, error) {
	name := sanitizeBranch(opts.Name)
	if name == "" || strings.Contains(name, "/") {
		return nil, fmt.Errorf("invalid worktree name %q", opts.Name)
	}
	branch := ""
	if opts.Branch != "" {
		branch = sanitizeBranch(opts.Branch)
	}
	path := filepath.Join(m.baseDir, name)

	if _, err := os.Stat(path); err == nil {
		_, _ = m.git.Run(ctx, m.repoDir, "worktree", "remove", "--force", path)
	}

	// Best-effort fetch so the worktree starts from an up-to-date base.
	_, _ = m.git.Run(ctx, m.repoDir, "fetch", "origin", m.base)

	add := func(ref string) error {
		args := []string{"worktree", "add"}
		if branch != "" {
			args = append(args, "-B", branch, path, ref)
		} else {
			args = append(args, "--detach", path, ref)
		}
		_, err := m.git.Run(ctx, m.repoDir, args...)
		return err
	}
	if err := add("origin/" + m.base); err != nil {
		if ferr := add(m.base); ferr != nil {
			return nil, fmt.Errorf("create worktree: %w", ferr)
		}
	}

	return &CreateResult{Path: path, Branch: branch}, nil
}

// Apply applies a unified diff to the worktree at dir.
func (m *Manager) Apply(ctx context.Context, dir, patch string) error {
	if strings.TrimSpace(patch) == "" {
		return nil
	}
	if !strings.HasSuffix(patch, "\n") {
		patch += "\n"
	}
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
	if _, err := m.git.Run(ctx, dir, "apply", "--whitespace=nowarn", f.Name()); err != nil {
		return fmt.Errorf("apply patch: %w", err)
	}
	return nil
}

// Diff stages everything in dir and returns the diff against HEAD.
func (m *Manager) Diff(ctx context.Context, dir string) (string, error) {
	if _, err := m.git.Run(ctx, dir, "add", "-A"); err != nil {
		return "", fmt.Errorf("stage changes: %w", err)
	}
	out, err := m.git.Run(ctx, dir, "diff", "--cached", "HEAD")
	if err != nil {
		return "", fmt.Errorf("diff: %w", err)
	}
	if out != "" && !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	return out, nil
}

// Prepare creates a detached worktree called name with patch applied. The
// returned cleanup removes it.
func (m *Manager) Prepare(ctx context.Context, name, patch string) (string, func(), error) {
	res, err := m.Create(ctx, CreateOpts{Name: name})
	if err != nil {
		return "", nil, err
	}
	cleanup := func() {
		_ = m.Remove(context.WithoutCancel(ctx), name)
	}
	if err := m.Apply(ctx, res.Path, patch); err != nil {
		cleanup()
		return "", nil, err
	}
	return res.Path, cleanup, nil
}

// Remove force-removes the named worktree.
func (m *Manager) Remove(ctx context.Context, name string) error {
	name = sanitizeBranch(name)
	if name == "" {
		return fmt.Errorf("invalid worktree name %q", name)
	}
	if _, err := m.git.Run(ctx, m.repoDir, "worktree", "remove", "--force", m.Path(name)); err != nil {
		return fmt.Errorf("remove worktree: %w", err)
	}
	return nil
}

// Path returns the worktree path for name.
func (m *Manager) Path(name string) string {
	return filepath.Join(m.baseDir, sanitizeBranch(name))
}

var nonAlphaNum = regexp.MustCompile(`[^a-zA-Z0-9/_-]+`)

// sanitizeBranch cleans up a branch or worktree name.
func sanitizeBranch(name string) string {
	s := nonAlphaNum.ReplaceAllString(name, "-")
	s = strings.Trim(s, "-")
	if len(s) > 100 {
		s = s[:100]
	}
	return s
}
