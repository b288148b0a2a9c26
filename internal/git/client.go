// Package git wraps the git executable for the sync engine.
// Pattern inspired by github.com/cli/cli
package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Options configures TLS-related environment passed to every git
// invocation, mirroring the INSECURE and GIT_CA_BUNDLE settings.
type Options struct {
	Insecure bool   // export GIT_SSL_NO_VERIFY=1
	CABundle string // export GIT_SSL_CAINFO and CURL_CA_BUNDLE
}

// Client runs git commands with the configured TLS environment. The engine
// treats every failure uniformly as "this repository failed"; GitError
// carries the captured stderr for the end-of-run summary.
type Client struct {
	GitPath string
	opts    Options
}

// NewClient creates a git client. The git executable is resolved from PATH.
func NewClient(opts Options) *Client {
	gitPath, _ := exec.LookPath("git")
	return &Client{GitPath: gitPath, opts: opts}
}

// GitError represents a failed git command.
type GitError struct {
	Stderr string
	err    error
}

func (e *GitError) Error() string {
	if e.Stderr == "" {
		return fmt.Errorf("git command failed: %w", e.err).Error()
	}
	return fmt.Sprintf("git command failed: %s", strings.TrimSpace(e.Stderr))
}

func (e *GitError) Unwrap() error {
	return e.err
}

func (c *Client) command(ctx context.Context, dir string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, c.GitPath, args...)
	if dir != "" {
		cmd.Dir = dir
	}

	env := os.Environ()
	if c.opts.CABundle != "" {
		env = append(env, "GIT_SSL_CAINFO="+c.opts.CABundle, "CURL_CA_BUNDLE="+c.opts.CABundle)
	}
	if c.opts.Insecure {
		env = append(env, "GIT_SSL_NO_VERIFY=1")
	}
	cmd.Env = env

	return cmd
}

func (c *Client) run(ctx context.Context, dir string, args ...string) error {
	output, err := c.command(ctx, dir, args...).CombinedOutput()
	if err != nil {
		return &GitError{Stderr: string(output), err: err}
	}
	return nil
}

func (c *Client) capture(ctx context.Context, dir string, args ...string) (string, error) {
	output, err := c.command(ctx, dir, args...).Output()
	if err != nil {
		stderr := ""
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			stderr = string(exitErr.Stderr)
		}
		return "", &GitError{Stderr: stderr, err: err}
	}
	return strings.TrimSpace(string(output)), nil
}

// Clone clones url into dest.
func (c *Client) Clone(ctx context.Context, url, dest string) error {
	return c.run(ctx, "", "clone", url, dest)
}

// FetchAndUpdate brings the working copy at dest up to date with the
// upstream default branch: fetch, then fast-forward merge, falling back to
// a hard reset when the local branch has diverged.
func (c *Client) FetchAndUpdate(ctx context.Context, dest, defaultBranch string) error {
	if err := c.run(ctx, dest, "fetch", "origin"); err != nil {
		return err
	}
	if defaultBranch == "" {
		branch, err := c.DefaultBranch(ctx, dest)
		if err != nil {
			return err
		}
		defaultBranch = branch
	}

	upstream := "origin/" + defaultBranch
	if err := c.run(ctx, dest, "merge", "--ff-only", upstream); err == nil {
		return nil
	}
	return c.run(ctx, dest, "reset", "--hard", upstream)
}

// ResolveHead returns the short commit id of HEAD at dest.
func (c *Client) ResolveHead(ctx context.Context, dest string) (string, error) {
	return c.capture(ctx, dest, "rev-parse", "--short", "HEAD")
}

// CurrentBranch returns the checked-out branch name at dest, or the short
// commit id when HEAD is detached.
func (c *Client) CurrentBranch(ctx context.Context, dest string) (string, error) {
	branch, err := c.capture(ctx, dest, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	if branch == "HEAD" {
		return c.ResolveHead(ctx, dest)
	}
	return branch, nil
}

// DefaultBranch returns the upstream default branch for dest, read from the
// origin HEAD symref.
func (c *Client) DefaultBranch(ctx context.Context, dest string) (string, error) {
	out, err := c.capture(ctx, dest, "symbolic-ref", "refs/remotes/origin/HEAD")
	if err != nil {
		// The symref is missing on clones made by some git versions;
		// asking the remote repairs and resolves it.
		if _, repairErr := c.capture(ctx, dest, "remote", "set-head", "origin", "--auto"); repairErr != nil {
			return "", err
		}
		out, err = c.capture(ctx, dest, "symbolic-ref", "refs/remotes/origin/HEAD")
		if err != nil {
			return "", err
		}
	}

	parts := strings.Split(out, "/")
	if len(parts) == 0 || parts[len(parts)-1] == "" {
		return "", fmt.Errorf("could not parse default branch from %q", out)
	}
	return parts[len(parts)-1], nil
}

// IsWorkingCopy reports whether dir contains a git working copy.
func IsWorkingCopy(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil && info.IsDir()
}

// AutoCommit stages and commits file inside dir. Used by the best-effort
// helper that keeps the backing file under version control; callers log
// failures and never treat them as fatal.
func (c *Client) AutoCommit(ctx context.Context, dir, file, message string) error {
	if err := c.run(ctx, dir, "add", file); err != nil {
		return err
	}
	return c.run(ctx, dir, "commit", "-m", message)
}
