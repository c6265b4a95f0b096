// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package clitest runs [cli.App] implementations against fake environments
// in table-driven tests.
package clitest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"

	"go.astrophena.name/xlgit/cli"
)

// Case describes a single invocation of an application of type T.
type Case[T cli.App] struct {
	// Args are the command-line arguments, without the program name.
	Args []string
	// Stdin is the standard input. Empty if nil.
	Stdin io.Reader
	// Env holds the environment variables visible to the application.
	Env map[string]string

	// WantErr, if set, must match the returned error with errors.Is.
	WantErr error
	// WantErrType, if set, must match the returned error with errors.As.
	WantErrType error
	// WantErrContains, if set, must be a substring of the returned error.
	WantErrContains string
	// WantInStdout and WantInStderr must be substrings of the output.
	WantInStdout string
	WantInStderr string
	// WantNothingPrinted requires both stdout and stderr to be empty.
	WantNothingPrinted bool
	// CheckFunc runs after the application for additional checks.
	CheckFunc func(*testing.T, T)
}

// Run runs each case as a subtest on a fresh application created by setup.
func Run[T cli.App](t *testing.T, setup func(*testing.T) T, cases map[string]Case[T]) {
	t.Helper()
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			app := setup(t)

			var stdout, stderr bytes.Buffer
			stdin := tc.Stdin
			if stdin == nil {
				stdin = strings.NewReader("")
			}
			ctx := cli.WithEnv(context.Background(), &cli.Env{
				Args:   tc.Args,
				Getenv: func(key string) string { return tc.Env[key] },
				Stdin:  stdin,
				Stdout: &stdout,
				Stderr: &stderr,
			})

			err := cli.Run(ctx, app)

			switch {
			case tc.WantErr != nil:
				if !errors.Is(err, tc.WantErr) {
					t.Fatalf("want error %v, got %v", tc.WantErr, err)
				}
			case tc.WantErrType != nil:
				target := reflect.New(reflect.TypeOf(tc.WantErrType))
				if !errors.As(err, target.Interface()) {
					t.Fatalf("want error of type %T, got %v", tc.WantErrType, err)
				}
			case tc.WantErrContains != "":
				if err == nil || !strings.Contains(err.Error(), tc.WantErrContains) {
					t.Fatalf("want error containing %q, got %v", tc.WantErrContains, err)
				}
			case err != nil:
				t.Fatalf("unexpected error: %v\nstderr:\n%s", err, stderr.String())
			}

			if tc.WantInStdout != "" && !strings.Contains(stdout.String(), tc.WantInStdout) {
				t.Errorf("stdout must contain %q, got: %q", tc.WantInStdout, stdout.String())
			}
			if tc.WantInStderr != "" && !strings.Contains(stderr.String(), tc.WantInStderr) {
				t.Errorf("stderr must contain %q, got: %q", tc.WantInStderr, stderr.String())
			}
			if tc.WantNothingPrinted && (stdout.Len() > 0 || stderr.Len() > 0) {
				t.Errorf("want nothing printed, got stdout %q and stderr %q", stdout.String(), stderr.String())
			}
			if tc.CheckFunc != nil {
				tc.CheckFunc(t, app)
			}
		})
	}
}
