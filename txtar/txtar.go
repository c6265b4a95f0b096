// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package txtar implements a trivial text-based file archive format, used for
// configuration and test cases.
//
// It extends [golang.org/x/tools/txtar] with helpers to move archives to and
// from directories on disk.
package txtar

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"golang.org/x/tools/txtar"
)

// Archive is a collection of files.
type Archive = txtar.Archive

// File is a single file in an archive.
type File = txtar.File

// Parse parses the serialized form of an Archive.
func Parse(data []byte) *Archive { return txtar.Parse(data) }

// ParseFile parses the named file as an archive.
func ParseFile(file string) (*Archive, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	return Parse(data), nil
}

// Format returns the serialized form of an Archive.
func Format(a *Archive) []byte { return txtar.Format(a) }

// Extract writes the files of a into dir, creating parent directories as
// needed. File names must be local paths.
func Extract(a *Archive, dir string) error {
	for _, f := range a.Files {
		if !filepath.IsLocal(f.Name) {
			return fmt.Errorf("txtar: file name %q escapes the archive root", f.Name)
		}
		path := filepath.Join(dir, filepath.FromSlash(f.Name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, f.Data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

// FromDir creates an archive from the regular files found under dir. Names
// are slash-separated and relative to dir, in lexical order.
func FromDir(dir string) (*Archive, error) {
	a := new(Archive)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		a.Files = append(a.Files, File{Name: filepath.ToSlash(rel), Data: data})
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(a.Files, func(x, y File) int {
		switch {
		case x.Name < y.Name:
			return -1
		case x.Name > y.Name:
			return 1
		}
		return 0
	})
	return a, nil
}
