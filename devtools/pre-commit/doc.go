// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

/*
Pre-commit gates a Git commit on a set of checks and stages the files they
generate.

It changes into the root of the repository and runs each configured check in
order. Output of a check is shown only when it fails; the first failure
aborts the commit with exit status 1 and nothing is staged. When every check
passes, the configured paths are staged with 'git add --all', so that
regenerated files, and files a check deleted, end up in the commit being
made. Pre-commit never creates the commit itself.

On its first run outside CI, it installs itself as the pre-commit hook of the
repository. An existing hook is left alone.

Configuration is read from a .devtools.txtar file in the repository root.
This file is a txtar archive and can contain two files:

  - pre-commit.json: a JSON array of checks.
  - stage.json: a JSON array of paths, relative to the repository root, to
    stage after the checks pass. Paths that exist neither on disk nor in the
    index are ignored.

Each check object has the following fields:

  - run: a string array where the first element is the command to run and
    the rest are its arguments (e.g., ["xlreport", "-j", "4"]).
  - skip_in_ci: if true, the check is skipped when the CI environment
    variable is set to "true".
  - only_in_ci: if true, the check runs only when the CI environment
    variable is set to "true".

Without a configuration file, pre-commit runs xlreport and stages the
excel_reports and src.vba directories it produces.
*/
package main

import (
	_ "embed"

	"go.astrophena.name/xlgit/cli"
)

//go:embed doc.go
var doc []byte

func init() { cli.SetDocComment(doc) }
