// Package workspace prepares the local repository checkout the agent works
// in: a fresh clone per active-work scope, a ticket feature branch, and a
// best-effort commit-and-push at the end.
package workspace

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"agentd/pkg/config"
	"agentd/pkg/logx"
)

// BranchPrefix is prepended to the ticket id to name the feature branch.
const BranchPrefix = "feature/ticket-"

// Workspace manages one checkout directory.
type Workspace struct {
	root   string
	git    config.GitConfig
	logger *logx.Logger
}

// New creates a workspace manager rooted at dir.
func New(dir string, git config.GitConfig, logger *logx.Logger) *Workspace {
	return &Workspace{root: dir, git: git, logger: logger}
}

// Root returns the checkout directory.
func (w *Workspace) Root() string { return w.root }

// BranchName returns the feature branch for a ticket.
func BranchName(ticketID string) string {
	return BranchPrefix + ticketID
}

// Prepare force-deletes any stale checkout, clones the repository and checks
// out the ticket's feature branch, creating or resetting it.
func (w *Workspace) Prepare(ctx context.Context, ticketID string) error {
	if err := ForceRemoveAll(w.root); err != nil {
		return fmt.Errorf("failed to remove stale checkout: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(w.root), 0o755); err != nil {
		return fmt.Errorf("failed to create workspace parent: %w", err)
	}

	if err := w.run(ctx, "", "clone", w.git.RepositoryURL, w.root); err != nil {
		return fmt.Errorf("clone failed: %w", err)
	}
	if err := w.configureIdentity(ctx); err != nil {
		return err
	}
	// -B creates the branch or resets it if a previous run left one behind.
	if err := w.run(ctx, w.root, "checkout", "-B", BranchName(ticketID)); err != nil {
		return fmt.Errorf("branch checkout failed: %w", err)
	}
	return nil
}

func (w *Workspace) configureIdentity(ctx context.Context) error {
	if w.git.Username != "" {
		if err := w.run(ctx, w.root, "config", "user.name", w.git.Username); err != nil {
			return fmt.Errorf("failed to set git user.name: %w", err)
		}
	}
	if w.git.Email != "" {
		if err := w.run(ctx, w.root, "config", "user.email", w.git.Email); err != nil {
			return fmt.Errorf("failed to set git user.email: %w", err)
		}
	}
	return nil
}

// CommitAndPush stages everything, commits with the given message and pushes
// the feature branch. A clean tree is not an error; push failures are logged
// and swallowed since the work also lives on the control plane.
func (w *Workspace) CommitAndPush(ctx context.Context, ticketID, message string) error {
	if err := w.run(ctx, w.root, "add", "-A"); err != nil {
		return fmt.Errorf("git add failed: %w", err)
	}

	if err := w.run(ctx, w.root, "commit", "-m", message); err != nil {
		if strings.Contains(err.Error(), "nothing to commit") {
			w.logger.Info("nothing to commit for %s", ticketID)
			return nil
		}
		return fmt.Errorf("git commit failed: %w", err)
	}

	if err := w.run(ctx, w.root, "push", "-u", "origin", BranchName(ticketID)); err != nil {
		w.logger.Warn("push failed for %s: %v", ticketID, err)
	}
	return nil
}

// run executes git with the given args, capturing combined output into the
// returned error.
func (w *Workspace) run(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}

// ForceRemoveAll deletes a directory tree, first walking it to restore write
// permission. Git object files are read-only and make a plain RemoveAll fail
// on some platforms.
func ForceRemoveAll(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // best effort, RemoveAll reports the real failure
		}
		mode := fs.FileMode(0o644)
		if d.IsDir() {
			mode = 0o755
		}
		_ = os.Chmod(path, mode)
		return nil
	})
	return os.RemoveAll(dir)
}
