// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package vba extracts VBA macro sources from Excel workbooks.
//
// Both Office Open XML workbooks (xlsm, xlam, xlsb and friends), where the
// project lives in xl/vbaProject.bin, and legacy binary workbooks (xls, xla,
// xlt), which are compound files themselves, are supported.
package vba

import (
	"archive/zip"
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/richardlehane/mscfb"
	"golang.org/x/text/encoding"
)

// ErrNoProject is returned when a workbook has no VBA project.
var ErrNoProject = errors.New("vba: workbook has no VBA project")

// ModuleType is the kind of a VBA module.
type ModuleType int

// Module types.
const (
	Procedural ModuleType = iota // standard module
	Class                        // class or document module
	Form                         // user form
)

// Ext returns the file extension used for sources of the module type.
func (t ModuleType) Ext() string {
	switch t {
	case Procedural:
		return "bas"
	case Form:
		return "frm"
	}
	return "cls"
}

// Module is a single VBA module.
type Module struct {
	Name string
	Type ModuleType
	// Code is the decoded source, including Attribute lines.
	Code string
}

// Filename returns the name of the file the module is exported to.
func (m Module) Filename() string { return m.Name + "." + m.Type.Ext() }

var (
	zipMagic = []byte("PK\x03\x04")
	cfbMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
)

// ExtractFile returns the modules of the VBA project of the workbook at path.
func ExtractFile(path string) ([]Module, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	mods, err := Extract(f, fi.Size())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return mods, nil
}

// Extract returns the modules of the VBA project of the workbook read from r.
func Extract(r io.ReaderAt, size int64) ([]Module, error) {
	magic := make([]byte, len(cfbMagic))
	if _, err := r.ReadAt(magic, 0); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	switch {
	case bytes.HasPrefix(magic, zipMagic):
		bin, err := vbaProjectPart(r, size)
		if err != nil {
			return nil, err
		}
		return extractCompoundFile(bytes.NewReader(bin))
	case bytes.Equal(magic, cfbMagic):
		return extractCompoundFile(r)
	}
	return nil, errors.New("vba: unrecognized workbook format")
}

// vbaProjectPart returns the vbaProject.bin part of an OOXML package.
func vbaProjectPart(r io.ReaderAt, size int64) ([]byte, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, err
	}
	for _, f := range zr.File {
		if !strings.EqualFold(f.Name, "xl/vbaProject.bin") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, ErrNoProject
}

// storage maps lowercase, slash-separated stream paths to stream contents.
type storage map[string][]byte

func readStorage(r io.ReaderAt) (storage, error) {
	doc, err := mscfb.New(r)
	if err != nil {
		return nil, err
	}
	st := make(storage)
	for {
		entry, err := doc.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if entry.FileInfo().IsDir() {
			continue
		}
		data, err := io.ReadAll(entry)
		if err != nil {
			return nil, fmt.Errorf("reading stream %q: %w", entry.Name, err)
		}
		st[streamKey(append(slices.Clone(entry.Path), entry.Name)...)] = data
	}
	return st, nil
}

func streamKey(elem ...string) string {
	return strings.ToLower(strings.Join(elem, "/"))
}

func extractCompoundFile(r io.ReaderAt) ([]Module, error) {
	st, err := readStorage(r)
	if err != nil {
		return nil, err
	}
	return extractStorage(st)
}

// extractStorage extracts modules of every VBA project found in st. Office
// files usually hold one, under VBA/ in vbaProject.bin or under
// _VBA_PROJECT_CUR/VBA/ in binary workbooks.
func extractStorage(st storage) ([]Module, error) {
	var roots []string
	for key := range st {
		if key == "vba/dir" || strings.HasSuffix(key, "/vba/dir") {
			roots = append(roots, strings.TrimSuffix(key, "vba/dir"))
		}
	}
	if len(roots) == 0 {
		return nil, ErrNoProject
	}
	slices.Sort(roots)

	var mods []Module
	for _, root := range roots {
		m, err := extractProject(st, root)
		if err != nil {
			return nil, err
		}
		mods = append(mods, m...)
	}
	return mods, nil
}

func extractProject(st storage, root string) ([]Module, error) {
	dir, err := decompress(st[root+"vba/dir"])
	if err != nil {
		return nil, fmt.Errorf("vba: stream %sVBA/dir: %w", root, err)
	}
	info, err := parseDir(dir)
	if err != nil {
		return nil, fmt.Errorf("vba: stream %sVBA/dir: %w", root, err)
	}
	enc := codePage(info.codePage)

	forms, err := formNames(st[root+"project"], enc)
	if err != nil {
		return nil, fmt.Errorf("vba: stream %sPROJECT: %w", root, err)
	}

	mods := make([]Module, 0, len(info.modules))
	for _, rec := range info.modules {
		name, err := recordString(rec.nameW, rec.name, enc)
		if err != nil {
			return nil, fmt.Errorf("vba: module name: %w", err)
		}
		streamName, err := recordString(rec.streamNameW, rec.streamName, enc)
		if err != nil {
			return nil, fmt.Errorf("vba: module %q: stream name: %w", name, err)
		}

		data, ok := st[streamKey(root+"vba", streamName)]
		if !ok {
			return nil, fmt.Errorf("vba: module %q: stream %q not found", name, streamName)
		}
		if int64(rec.offset) > int64(len(data)) {
			return nil, fmt.Errorf("vba: module %q: source offset %d past end of stream (%d bytes)", name, rec.offset, len(data))
		}
		src, err := decompress(data[rec.offset:])
		if err != nil {
			return nil, fmt.Errorf("vba: module %q: %w", name, err)
		}
		code, err := decodeString(enc, src)
		if err != nil {
			return nil, fmt.Errorf("vba: module %q: decoding source: %w", name, err)
		}

		m := Module{Name: name, Code: code, Type: Class}
		switch {
		case rec.procedural:
			m.Type = Procedural
		case forms[strings.ToLower(name)]:
			m.Type = Form
		}
		mods = append(mods, m)
	}
	return mods, nil
}

// recordString decodes the Unicode variant of a record if present and the
// code page variant otherwise.
func recordString(wide, mbcs []byte, enc encoding.Encoding) (string, error) {
	if len(wide) > 0 {
		return decodeString(utf16le, wide)
	}
	return decodeString(enc, mbcs)
}

// formNames returns the lowercase names of modules declared with BaseClass=
// in the PROJECT stream, which designer modules (user forms) use.
func formNames(project []byte, enc encoding.Encoding) (map[string]bool, error) {
	forms := make(map[string]bool)
	if len(project) == 0 {
		return forms, nil
	}
	text, err := decodeString(enc, project)
	if err != nil {
		return nil, err
	}
	s := bufio.NewScanner(strings.NewReader(text))
	for s.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(s.Text()), "=")
		if ok && strings.EqualFold(key, "BaseClass") {
			forms[strings.ToLower(value)] = true
		}
	}
	return forms, s.Err()
}
