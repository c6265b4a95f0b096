// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package version reports build information embedded into binaries.
package version

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"

	"go.astrophena.name/xlgit/syncx"
)

// Info describes a build of the running program.
type Info struct {
	Name      string // command name
	Version   string // module version, "(devel)" for local builds
	Commit    string // VCS revision, if known
	Dirty     bool   // whether the working tree was modified
	GoVersion string
}

// String returns a human-readable, newline-terminated description of the
// build.
func (i Info) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s", i.Name, i.Version)
	if i.Commit != "" {
		commit := i.Commit
		if len(commit) > 12 {
			commit = commit[:12]
		}
		fmt.Fprintf(&sb, " (%s", commit)
		if i.Dirty {
			sb.WriteString(", dirty")
		}
		sb.WriteString(")")
	}
	fmt.Fprintf(&sb, " built with %s\n", i.GoVersion)
	return sb.String()
}

var info syncx.Lazy[Info]

// Version returns build information of the running program.
func Version() Info {
	return info.Get(func() Info {
		i := Info{
			Name:    CmdName(),
			Version: "(devel)",
		}
		bi, ok := debug.ReadBuildInfo()
		if !ok {
			return i
		}
		i.GoVersion = bi.GoVersion
		if v := bi.Main.Version; v != "" {
			i.Version = v
		}
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				i.Commit = s.Value
			case "vcs.modified":
				i.Dirty = s.Value == "true"
			}
		}
		return i
	})
}

// CmdName returns the base name of the running executable, without the
// ".exe" suffix on Windows.
func CmdName() string {
	exe, err := os.Executable()
	if err != nil {
		exe = os.Args[0]
	}
	return strings.TrimSuffix(filepath.Base(exe), ".exe")
}
