// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package git

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"go.astrophena.name/xlgit/testutil"
)

// initRepo creates an empty repository in a temporary directory.
func initRepo(t *testing.T) *Repo {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git is not installed")
	}
	dir := t.TempDir()
	cmd := exec.Command("git", "init", "--quiet", dir)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git init: %v\n%s", err, out)
	}
	repo, err := Open(context.Background(), dir)
	if err != nil {
		t.Fatalf("Open(%q): %v", dir, err)
	}
	return repo
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestOpen(t *testing.T) {
	repo := initRepo(t)
	ctx := context.Background()

	sub := filepath.Join(repo.Dir, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	got, err := Open(ctx, sub)
	if err != nil {
		t.Fatalf("Open(%q): %v", sub, err)
	}
	testutil.AssertEqual(t, got.Dir, repo.Dir)

	if _, err := Open(ctx, t.TempDir()); !errors.Is(err, ErrNotRepository) {
		t.Fatalf("Open(non-repo) error = %v, want ErrNotRepository", err)
	}
}

func TestHooksDir(t *testing.T) {
	repo := initRepo(t)
	got, err := repo.HooksDir(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, got, filepath.Join(repo.Dir, ".git", "hooks"))
}

func TestAddAndTracked(t *testing.T) {
	repo := initRepo(t)
	ctx := context.Background()

	writeFile(t, filepath.Join(repo.Dir, "excel_reports", "Book_named_ranges.txt"), "Workbook Named Ranges\n")
	writeFile(t, filepath.Join(repo.Dir, "untracked.txt"), "x\n")

	tracked, err := repo.Tracked(ctx, "excel_reports")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, tracked, false)

	if err := repo.Add(ctx, "excel_reports"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	// Staging the same content again changes nothing.
	if err := repo.Add(ctx, "excel_reports"); err != nil {
		t.Fatalf("second Add: %v", err)
	}

	tracked, err = repo.Tracked(ctx, "excel_reports")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, tracked, true)

	staged, err := repo.Staged(ctx)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, staged, []string{"excel_reports/Book_named_ranges.txt"})
}

func TestAddStagesDeletions(t *testing.T) {
	repo := initRepo(t)
	ctx := context.Background()

	dir := filepath.Join(repo.Dir, "src.vba")
	writeFile(t, filepath.Join(dir, "Book_Module1.bas"), "Sub Main()\nEnd Sub")
	if err := repo.Add(ctx, "src.vba"); err != nil {
		t.Fatal(err)
	}
	if err := os.RemoveAll(dir); err != nil {
		t.Fatal(err)
	}
	if err := repo.Add(ctx, "src.vba"); err != nil {
		t.Fatalf("Add after removal: %v", err)
	}
	staged, err := repo.Staged(ctx)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, staged, []string(nil))
}

func TestAddMissingPath(t *testing.T) {
	repo := initRepo(t)
	err := repo.Add(context.Background(), "does-not-exist")
	var gerr *Error
	if !errors.As(err, &gerr) {
		t.Fatalf("Add(missing) error = %v, want *Error", err)
	}
	if gerr.Stderr == "" {
		t.Fatal("Error.Stderr is empty")
	}
}
