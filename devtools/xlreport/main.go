// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/go4org/hashtriemap"
	"golang.org/x/sync/errgroup"

	"go.astrophena.name/xlgit/cli"
	"go.astrophena.name/xlgit/logger"
	"go.astrophena.name/xlgit/report"
	"go.astrophena.name/xlgit/syncx"
	"go.astrophena.name/xlgit/vba"
)

var workbookExts = []string{".xlsb", ".xls", ".xlsm", ".xla", ".xlt", ".xlam", ".xlsx"}

// Replaced in tests.
var (
	extractModules = vba.ExtractFile
	writeReports   = report.WriteFile
)

func main() { cli.Main(new(app)) }

type app struct {
	reportsDir string
	vbaDir     string
	keepName   bool
	jobs       int
}

func (a *app) Flags(fs *flag.FlagSet) {
	fs.StringVar(&a.reportsDir, "reports", "excel_reports", "Write reports to `dir`.")
	fs.StringVar(&a.vbaDir, "vba", "src.vba", "Write VBA sources to `dir`.")
	fs.BoolVar(&a.keepName, "keep-name", false, "Keep the \"Attribute VB_Name\" line in VBA sources.")
	fs.IntVar(&a.jobs, "j", runtime.GOMAXPROCS(0), "Process up to `n` workbooks at once.")
}

func (a *app) Run(ctx context.Context) error {
	env := cli.GetEnv(ctx)
	if len(env.Args) > 0 {
		return fmt.Errorf("%w: xlreport takes no arguments", cli.ErrInvalidArgs)
	}
	if a.jobs < 1 {
		return fmt.Errorf("%w: -j must be positive", cli.ErrInvalidArgs)
	}

	for _, dir := range []string{a.vbaDir, a.reportsDir} {
		if err := os.RemoveAll(dir); err != nil {
			return err
		}
	}

	books, err := findWorkbooks(".")
	if err != nil {
		return err
	}
	logger.Debug(ctx, "found workbooks", slog.Int("count", len(books)))

	out := syncx.NewWriter(env.Stdout)
	var prefixes hashtriemap.HashTrieMap[string, string]

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.jobs)
	for _, path := range books {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			prefix := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			if other, loaded := prefixes.LoadOrStore(prefix, path); loaded {
				return fmt.Errorf("%s and %s would both write files named %q", other, path, prefix+"_*")
			}
			return a.process(ctx, out, path, prefix)
		})
	}
	return g.Wait()
}

func (a *app) process(ctx context.Context, out io.Writer, path, prefix string) error {
	fmt.Fprintf(out, "Processing: %s\n", path)

	if err := a.exportModules(ctx, path, prefix); err != nil {
		return err
	}

	if !report.Supported(path) {
		logger.Warn(ctx, "reports are not supported for this format", slog.String("path", path))
		return nil
	}
	if err := writeReports(path, a.reportsDir, prefix); err != nil {
		return fmt.Errorf("%s: generating reports: %w", path, err)
	}
	fmt.Fprintf(out, "Reports for %s saved in '%s' folder.\n", prefix, a.reportsDir)
	return nil
}

func (a *app) exportModules(ctx context.Context, path, prefix string) error {
	mods, err := extractModules(path)
	if errors.Is(err, vba.ErrNoProject) {
		logger.Debug(ctx, "no VBA project", slog.String("path", path))
		return nil
	}
	if err != nil {
		return err
	}
	for _, m := range mods {
		code := vba.Clean(m.Code, a.keepName)
		if code == "" {
			logger.Debug(ctx, "skipping module without code", slog.String("path", path), slog.String("module", m.Name))
			continue
		}
		if err := os.MkdirAll(a.vbaDir, 0o755); err != nil {
			return err
		}
		name := filepath.Join(a.vbaDir, prefix+"_"+m.Filename())
		if err := os.WriteFile(name, []byte(code), 0o644); err != nil {
			return err
		}
	}
	return nil
}

// findWorkbooks returns paths of workbooks under root in lexical order.
// Excel lock files (~$Book.xlsx) and the .git directory are skipped.
func findWorkbooks(root string) ([]string, error) {
	var books []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || strings.HasPrefix(d.Name(), "~$") {
			return nil
		}
		if slices.Contains(workbookExts, strings.ToLower(filepath.Ext(path))) {
			books = append(books, path)
		}
		return nil
	})
	return books, err
}
