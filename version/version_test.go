// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package version

import (
	"strings"
	"testing"

	"go.astrophena.name/xlgit/testutil"
)

func TestInfoString(t *testing.T) {
	cases := map[string]struct {
		in   Info
		want string
	}{
		"devel": {
			in:   Info{Name: "xlreport", Version: "(devel)", GoVersion: "go1.26.0"},
			want: "xlreport (devel) built with go1.26.0\n",
		},
		"long commit is shortened": {
			in:   Info{Name: "pre-commit", Version: "v0.1.0", Commit: "0123456789abcdef", GoVersion: "go1.26.0"},
			want: "pre-commit v0.1.0 (0123456789ab) built with go1.26.0\n",
		},
		"dirty": {
			in:   Info{Name: "pre-commit", Version: "v0.1.0", Commit: "abc", Dirty: true, GoVersion: "go1.26.0"},
			want: "pre-commit v0.1.0 (abc, dirty) built with go1.26.0\n",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			testutil.AssertEqual(t, tc.in.String(), tc.want)
		})
	}
}

func TestVersion(t *testing.T) {
	v := Version()
	if v.Name == "" {
		t.Fatal("Version().Name is empty")
	}
	if !strings.HasSuffix(v.String(), "\n") {
		t.Fatalf("Version().String() = %q, want newline-terminated", v.String())
	}
}
