// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package testutil provides helpers for common testing scenarios.
package testutil

import (
	"encoding/json"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"go.astrophena.name/xlgit/txtar"
)

// AssertEqual fails the test if got is not deeply equal to want.
// It prints a diff of both values upon failure. Unexported fields are
// compared too, and errors are compared with [errors.Is].
func AssertEqual(t *testing.T, got, want any) {
	t.Helper()
	if diff := cmp.Diff(want, got, diffOpts...); diff != "" {
		t.Fatalf("values are not equal (-want +got):\n%s", diff)
	}
}

var diffOpts = []cmp.Option{
	cmp.Exporter(func(reflect.Type) bool { return true }),
	cmpopts.EquateErrors(),
}

// Run runs a subtest for each file that matches the provided glob pattern.
// The subtest name is the file's base name without extension.
func Run(t *testing.T, glob string, f func(t *testing.T, match string)) {
	t.Helper()
	matches, err := filepath.Glob(glob)
	if err != nil {
		t.Fatalf("filepath.Glob(%q): %v", glob, err)
	}
	if len(matches) == 0 {
		t.Fatalf("no files match %q", glob)
	}

	for _, match := range matches {
		name := strings.TrimSuffix(filepath.Base(match), filepath.Ext(match))
		t.Run(name, func(t *testing.T) {
			f(t, match)
		})
	}
}

// UnmarshalJSON parses a JSON byte slice into a value of type V, failing
// the test if an error occurs.
func UnmarshalJSON[V any](t *testing.T, b []byte) V {
	t.Helper()
	var v V
	if err := json.Unmarshal(b, &v); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
	return v
}

// BuildTxtar creates a txtar-formatted snapshot of the files under dir.
func BuildTxtar(t *testing.T, dir string) string {
	t.Helper()
	ar, err := txtar.FromDir(dir)
	if err != nil {
		t.Fatalf("failed to build txtar from dir %q: %v", dir, err)
	}
	return string(txtar.Format(ar))
}

// ExtractTxtar extracts a txtar archive to a specified directory.
func ExtractTxtar(t *testing.T, ar *txtar.Archive, dir string) {
	t.Helper()
	if err := txtar.Extract(ar, dir); err != nil {
		t.Fatalf("failed to extract txtar to dir %q: %v", dir, err)
	}
}
