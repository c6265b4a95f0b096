// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package git runs the git command-line tool against a working tree.
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"

	"go.astrophena.name/xlgit/logger"
)

// ErrNotRepository is returned by [Open] when the directory is not inside a
// Git working tree.
var ErrNotRepository = errors.New("not a git repository")

// Repo is a Git working tree.
type Repo struct {
	// Dir is the absolute path of the top-level directory.
	Dir string
}

// Open finds the working tree containing dir.
func Open(ctx context.Context, dir string) (*Repo, error) {
	out, err := run(ctx, dir, "rev-parse", "--show-toplevel")
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			return nil, fmt.Errorf("%s: %w", dir, ErrNotRepository)
		}
		return nil, err
	}
	return &Repo{Dir: filepath.FromSlash(out)}, nil
}

// HooksDir returns the directory Git looks for hooks in. It honors
// core.hooksPath and linked worktrees.
func (r *Repo) HooksDir(ctx context.Context) (string, error) {
	out, err := r.git(ctx, "rev-parse", "--git-path", "hooks")
	if err != nil {
		return "", err
	}
	path := filepath.FromSlash(out)
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.Dir, path)
	}
	return path, nil
}

// Add stages path, including deletions of tracked files under it.
func (r *Repo) Add(ctx context.Context, path string) error {
	_, err := r.git(ctx, "add", "--all", "--", path)
	return err
}

// Tracked reports whether the index contains path or any file under it.
func (r *Repo) Tracked(ctx context.Context, path string) (bool, error) {
	out, err := r.git(ctx, "ls-files", "--cached", "--", path)
	if err != nil {
		return false, err
	}
	return out != "", nil
}

// Staged returns the paths that differ between HEAD (or the empty tree) and
// the index.
func (r *Repo) Staged(ctx context.Context) ([]string, error) {
	out, err := r.git(ctx, "diff", "--cached", "--name-only", "--no-renames")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

func (r *Repo) git(ctx context.Context, args ...string) (string, error) {
	return run(ctx, r.Dir, args...)
}

// Error is returned when a git command fails.
type Error struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("git %s: %v", strings.Join(e.Args, " "), e.Err)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func run(ctx context.Context, dir string, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	logger.Debug(ctx, "running git", slog.Any("args", args), slog.String("dir", dir))
	if err := cmd.Run(); err != nil {
		return "", &Error{
			Args:   args,
			Stderr: strings.TrimSpace(stderr.String()),
			Err:    err,
		}
	}
	return strings.TrimSpace(stdout.String()), nil
}
