// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.astrophena.name/xlgit/cli"
	"go.astrophena.name/xlgit/internal/git"
	"go.astrophena.name/xlgit/logger"
	"go.astrophena.name/xlgit/txtar"
)

const (
	configFile      = ".devtools.txtar"
	hookShellScript = `#!/bin/sh
echo "==> Running pre-commit check..."
exec pre-commit
`
)

var (
	defaultChecks = []check{{Run: []string{"xlreport"}}}
	defaultStage  = []string{"excel_reports", "src.vba"}
)

type check struct {
	Run      []string `json:"run"`
	SkipInCI bool     `json:"skip_in_ci"`
	OnlyInCI bool     `json:"only_in_ci"`
}

type config struct {
	checks []check
	stage  []string
}

// loadConfig reads the pre-commit.json and stage.json members of the archive
// at path. Missing members, or a missing archive, leave the defaults in place.
func loadConfig(path string) (*config, error) {
	c := &config{checks: defaultChecks, stage: defaultStage}
	ar, err := txtar.ParseFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, err
	}
	for _, f := range ar.Files {
		var v any
		switch f.Name {
		case "pre-commit.json":
			v = &c.checks
		case "stage.json":
			v = &c.stage
		default:
			continue
		}
		if err := json.Unmarshal(f.Data, v); err != nil {
			return nil, fmt.Errorf("%s: %s: %w", path, f.Name, err)
		}
	}
	for i, ch := range c.checks {
		if len(ch.Run) == 0 {
			return nil, fmt.Errorf("%s: pre-commit.json: check %d has nothing to run", path, i)
		}
	}
	return c, nil
}

func main() { cli.Main(new(app)) }

type app struct {
	dry bool
}

func (a *app) Flags(fs *flag.FlagSet) {
	fs.BoolVar(&a.dry, "dry", false, "Run checks, but only print what would be staged.")
}

func (a *app) Run(ctx context.Context) error {
	env := cli.GetEnv(ctx)
	if len(env.Args) > 0 {
		return fmt.Errorf("%w: pre-commit takes no arguments", cli.ErrInvalidArgs)
	}

	wd, err := os.Getwd()
	if err != nil {
		return err
	}
	repo, err := git.Open(ctx, wd)
	if err != nil {
		return err
	}
	if err := os.Chdir(repo.Dir); err != nil {
		return err
	}

	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}

	isCI := env.Getenv("CI") == "true"
	if !isCI {
		if err := installHook(ctx, repo); err != nil {
			return err
		}
	}

	var checks []check
	for _, c := range cfg.checks {
		if isCI && c.SkipInCI {
			logger.Debug(ctx, "skipping check", slog.Any("run", c.Run), slog.String("reason", "skip_in_ci"))
			continue
		}
		if !isCI && c.OnlyInCI {
			logger.Debug(ctx, "skipping check", slog.Any("run", c.Run), slog.String("reason", "only_in_ci"))
			continue
		}
		checks = append(checks, c)
	}

	width := cli.TerminalWidth(env.Stdout)
	for i, c := range checks {
		fmt.Fprintln(env.Stdout, progressMessage(i+1, len(checks), c.Run, width))
		if err := c.run(ctx); err != nil {
			return fmt.Errorf("commit aborted: %w", err)
		}
	}

	for _, path := range cfg.stage {
		ok, err := stageable(ctx, repo, path)
		if err != nil {
			return err
		}
		if !ok {
			logger.Debug(ctx, "nothing to stage", slog.String("path", path))
			continue
		}
		if a.dry {
			fmt.Fprintf(env.Stdout, "Would stage %s\n", path)
			continue
		}
		if err := repo.Add(ctx, path); err != nil {
			return fmt.Errorf("commit aborted: staging %s: %w", path, err)
		}
	}

	fmt.Fprintln(env.Stdout, "All checks passed.")
	return nil
}

func installHook(ctx context.Context, repo *git.Repo) error {
	dir, err := repo.HooksDir(ctx)
	if err != nil {
		return err
	}
	hookPath := filepath.Join(dir, "pre-commit")
	if _, err := os.Stat(hookPath); !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(hookPath, []byte(hookShellScript), 0o755); err != nil {
		return err
	}
	cli.GetEnv(ctx).Logf("Installed the pre-commit hook in %s.", hookPath)
	return nil
}

// stageable reports whether path exists on disk or is known to the index.
// The latter covers generated directories removed by a check.
func stageable(ctx context.Context, repo *git.Repo, path string) (bool, error) {
	if _, err := os.Lstat(path); err == nil {
		return true, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}
	return repo.Tracked(ctx, path)
}

type checkError struct {
	run    []string
	err    error
	output string
}

func (e *checkError) Error() string {
	return fmt.Sprintf("check %q failed: %v:\n%s", e.run, e.err, e.output)
}

func (e *checkError) Unwrap() error { return e.err }

func (c check) run(ctx context.Context) error {
	var buf bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Run[0], c.Run[1:]...)
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	if err := cmd.Run(); err != nil {
		return &checkError{run: c.Run, err: err, output: buf.String()}
	}
	return nil
}

// progressMessage formats the line printed before running a check. With a
// known terminal width the command is cut to fit, counting runes as columns.
func progressMessage(current, total int, command []string, width int) string {
	prefix := fmt.Sprintf("[%d/%d] Running check ", current, total)
	msg := []rune(strings.Join(command, " "))
	if width <= 0 || len(prefix)+len(msg) <= width {
		return prefix + string(msg)
	}
	available := width - len(prefix)
	switch {
	case available <= 0:
		return prefix
	case available > 3:
		return prefix + string(msg[:available-3]) + "..."
	default:
		return prefix + string(msg[:available])
	}
}
