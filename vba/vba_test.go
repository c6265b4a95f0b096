// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package vba

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf16"

	"go.astrophena.name/xlgit/testutil"
)

// maxLiteralChunk is the longest input whose all-literal encoding (one flag
// byte per 8 literals) still fits the 12-bit chunk size field.
const maxLiteralChunk = 3640

// compress builds a valid compressed container that holds data as literal
// tokens, storing full chunks uncompressed.
func compress(data []byte) []byte {
	out := []byte{containerSignature}
	for len(data) > 0 {
		if len(data) >= chunkSize {
			out = binary.LittleEndian.AppendUint16(out, 0x3FFF)
			out = append(out, data[:chunkSize]...)
			data = data[chunkSize:]
			continue
		}
		n := min(len(data), maxLiteralChunk)
		chunk := data[:n]
		data = data[n:]

		var body []byte
		for i := 0; i < len(chunk); i += 8 {
			body = append(body, 0x00)
			body = append(body, chunk[i:min(i+8, len(chunk))]...)
		}
		out = binary.LittleEndian.AppendUint16(out, 0xB000|uint16(len(body)-1))
		out = append(out, body...)
	}
	return out
}

type testModule struct {
	name, stream string
	procedural   bool
	unicodeName  string
	cache        int // bytes of performance cache before the source
	code         string
}

func record(id uint16, data []byte) []byte {
	b := binary.LittleEndian.AppendUint16(nil, id)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(data)))
	return append(b, data...)
}

func utf16Bytes(s string) []byte {
	var b []byte
	for _, r := range utf16.Encode([]rune(s)) {
		b = binary.LittleEndian.AppendUint16(b, r)
	}
	return b
}

// buildStorage lays out a VBA project the way Office does under root.
func buildStorage(root string, codePage uint16, mods []testModule, project string) storage {
	var dir []byte
	dir = append(dir, record(0x0001, []byte{1, 0, 0, 0})...) // PROJECTSYSKIND
	dir = append(dir, record(recCodePage, binary.LittleEndian.AppendUint16(nil, codePage))...)
	dir = append(dir, record(0x0004, []byte("VBAProject"))...) // PROJECTNAME
	dir = append(dir, record(0x0005, nil)...)                  // PROJECTDOCSTRING
	dir = append(dir, record(0x0040, nil)...)
	// PROJECTVERSION claims 4 bytes but carries 6.
	dir = append(dir, record(recProjectVersion, []byte{0xAA, 0xBB, 0xCC, 0xDD})...)
	dir = append(dir, 0x01, 0x00)
	// PROJECTMODULES and PROJECTCOOKIE.
	dir = append(dir, record(0x000F, binary.LittleEndian.AppendUint16(nil, uint16(len(mods))))...)
	dir = append(dir, record(0x0013, []byte{0xFF, 0xFF})...)

	st := make(storage)
	for _, m := range mods {
		dir = append(dir, record(recModuleName, []byte(m.name))...)
		if m.unicodeName != "" {
			dir = append(dir, record(recModuleNameW, utf16Bytes(m.unicodeName))...)
		}
		dir = append(dir, record(recModuleStreamName, []byte(m.stream))...)
		dir = append(dir, record(recModuleStreamNameW, utf16Bytes(m.stream))...)
		dir = append(dir, record(0x001C, nil)...) // MODULEDOCSTRING
		dir = append(dir, record(0x0048, nil)...)
		dir = append(dir, record(recModuleOffset, binary.LittleEndian.AppendUint32(nil, uint32(m.cache)))...)
		if m.procedural {
			dir = append(dir, record(recModuleProcedural, nil)...)
		} else {
			dir = append(dir, record(0x0022, nil)...)
		}
		dir = append(dir, record(recModuleTerminator, nil)...)

		stream := bytes.Repeat([]byte{0x5A}, m.cache)
		st[streamKey(root+"VBA", m.stream)] = append(stream, compress([]byte(m.code))...)
	}
	dir = append(dir, record(recTerminator, nil)...)

	st[streamKey(root+"VBA", "dir")] = compress(dir)
	st[streamKey(root+"VBA", "_VBA_PROJECT")] = []byte{0xCC, 0x61}
	if project != "" {
		st[streamKey(root+"PROJECT")] = []byte(project)
	}
	return st
}

func TestDecompress(t *testing.T) {
	cases := map[string]struct {
		in   []byte
		want string
	}{
		"literals only": {
			in: []byte{
				0x01, 0x19, 0xB0,
				0x00, 0x61, 0x62, 0x63, 0x64, 0x65, 0x66, 0x67, 0x68,
				0x00, 0x69, 0x6A, 0x6B, 0x6C, 0x6D, 0x6E, 0x6F, 0x70,
				0x00, 0x71, 0x72, 0x73, 0x74, 0x75, 0x76, 0x2E,
			},
			want: "abcdefghijklmnopqrstuv.",
		},
		"overlapping copy token": {
			in:   []byte{0x01, 0x05, 0xB0, 0x08, 0x61, 0x62, 0x63, 0x03, 0x20},
			want: "abcabcabc",
		},
		"run of a single byte": {
			// "a" followed by a copy of offset 1 and length 8.
			in:   []byte{0x01, 0x03, 0xB0, 0x02, 0x61, 0x05, 0x00},
			want: "aaaaaaaaa",
		},
		"uncompressed chunk": {
			in:   compress(bytes.Repeat([]byte("x"), chunkSize)),
			want: strings.Repeat("x", chunkSize),
		},
		"several chunks": {
			in:   compress([]byte(strings.Repeat("Sub Main()\r\n", 500))),
			want: strings.Repeat("Sub Main()\r\n", 500),
		},
		"empty container": {
			in:   []byte{0x01},
			want: "",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := decompress(tc.in)
			if err != nil {
				t.Fatalf("decompress: %v", err)
			}
			testutil.AssertEqual(t, string(got), tc.want)
		})
	}
}

func TestDecompressCorrupt(t *testing.T) {
	cases := map[string][]byte{
		"empty":               nil,
		"bad signature":       {0x02, 0x05, 0xB0},
		"bad chunk signature": {0x01, 0x05, 0x80, 0x00},
		"truncated header":    {0x01, 0x05},
		"offset before start": {0x01, 0x03, 0xB0, 0x01, 0x00, 0x10},
		"truncated token":     {0x01, 0x02, 0xB0, 0x01, 0x00},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := decompress(in); !errors.Is(err, errCorrupt) {
				t.Fatalf("decompress(%x) error = %v, want errCorrupt", in, err)
			}
		})
	}
}

func TestOffsetBits(t *testing.T) {
	cases := map[int]uint{1: 4, 16: 4, 17: 5, 32: 5, 33: 6, 2048: 11, 2049: 12, 4096: 12}
	for n, want := range cases {
		if got := offsetBits(n); got != want {
			t.Errorf("offsetBits(%d) = %d, want %d", n, got, want)
		}
	}
}

func TestExtractStorage(t *testing.T) {
	const project = "ID=\"{00000000-0000-0000-0000-000000000000}\"\r\n" +
		"Document=ThisWorkbook/&H00000000\r\n" +
		"Module=Module1\r\n" +
		"Class=Counter\r\n" +
		"BaseClass=UserForm1\r\n" +
		"Name=\"VBAProject\"\r\n"

	mods := []testModule{
		{
			name: "ThisWorkbook", stream: "ThisWorkbook", cache: 333,
			code: "Attribute VB_Name = \"ThisWorkbook\"\r\nAttribute VB_Base = \"0{00020819-0000-0000-C000-000000000046}\"\r\n",
		},
		{
			name: "Module1", stream: "Module1", procedural: true, cache: 1024,
			code: "Attribute VB_Name = \"Module1\"\r\nSub Hello()\r\n    MsgBox \"Hello\"\r\nEnd Sub\r\n",
		},
		{
			name: "Counter", stream: "Counter", cache: 0,
			code: "Attribute VB_Name = \"Counter\"\r\nPrivate n As Long\r\n",
		},
		{
			name: "UserForm1", stream: "UserForm1", cache: 12,
			code: "Attribute VB_Name = \"UserForm1\"\r\nPrivate Sub UserForm_Click()\r\nEnd Sub\r\n",
		},
	}

	for name, root := range map[string]string{
		"vbaProject.bin":  "",
		"binary workbook": "_VBA_PROJECT_CUR/",
	} {
		t.Run(name, func(t *testing.T) {
			got, err := extractStorage(buildStorage(root, 1252, mods, project))
			if err != nil {
				t.Fatalf("extractStorage: %v", err)
			}
			testutil.AssertEqual(t, got, []Module{
				{Name: "ThisWorkbook", Type: Class, Code: mods[0].code},
				{Name: "Module1", Type: Procedural, Code: mods[1].code},
				{Name: "Counter", Type: Class, Code: mods[2].code},
				{Name: "UserForm1", Type: Form, Code: mods[3].code},
			})
		})
	}
}

func TestExtractStorageCodePage(t *testing.T) {
	// "Модуль" and a comment in Windows-1251.
	name := []byte{0xCC, 0xEE, 0xE4, 0xF3, 0xEB, 0xFC}
	code := append([]byte("' "), 0xCF, 0xF0, 0xE8, 0xE2, 0xE5, 0xF2)
	st := buildStorage("", 1251, []testModule{
		{name: string(name), stream: "Module1", procedural: true, code: string(code)},
	}, "")

	got, err := extractStorage(st)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, got, []Module{{Name: "Модуль", Type: Procedural, Code: "' Привет"}})
}

func TestExtractStoragePrefersUnicodeName(t *testing.T) {
	st := buildStorage("", 1252, []testModule{
		{name: "?????", unicodeName: "Données", stream: "Module1", procedural: true, code: "Sub A()\r\n"},
	}, "")
	got, err := extractStorage(st)
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, got[0].Filename(), "Données.bas")
}

func TestExtractStorageErrors(t *testing.T) {
	t.Run("no project", func(t *testing.T) {
		_, err := extractStorage(storage{"workbook": {0x09, 0x08}})
		if !errors.Is(err, ErrNoProject) {
			t.Fatalf("error = %v, want ErrNoProject", err)
		}
	})

	t.Run("missing module stream", func(t *testing.T) {
		st := buildStorage("", 1252, []testModule{{name: "Module1", stream: "Module1", code: "x"}}, "")
		delete(st, "vba/module1")
		if _, err := extractStorage(st); err == nil || !strings.Contains(err.Error(), `stream "Module1" not found`) {
			t.Fatalf("error = %v", err)
		}
	})

	t.Run("offset past end", func(t *testing.T) {
		st := buildStorage("", 1252, []testModule{{name: "Module1", stream: "Module1", code: "x"}}, "")
		st["vba/module1"] = []byte{0x01}
		st2 := buildStorage("", 1252, []testModule{{name: "Module1", stream: "Module1", cache: 10, code: "x"}}, "")
		st["vba/dir"] = st2["vba/dir"]
		if _, err := extractStorage(st); err == nil || !strings.Contains(err.Error(), "past end of stream") {
			t.Fatalf("error = %v", err)
		}
	})

	t.Run("corrupt dir", func(t *testing.T) {
		st := buildStorage("", 1252, nil, "")
		st["vba/dir"] = []byte{0x07}
		if _, err := extractStorage(st); !errors.Is(err, errCorrupt) {
			t.Fatalf("error = %v, want errCorrupt", err)
		}
	})
}

func TestParseDirTruncated(t *testing.T) {
	b := record(recModuleName, []byte("Module1"))
	if _, err := parseDir(b[:len(b)-2]); err == nil {
		t.Fatal("parseDir accepted a truncated record")
	}
}

func TestExtractFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("workbook without macros", func(t *testing.T) {
		path := filepath.Join(dir, "Plain.xlsx")
		writeZip(t, path, map[string]string{"[Content_Types].xml": "<Types/>", "xl/workbook.xml": "<workbook/>"})
		if _, err := ExtractFile(path); !errors.Is(err, ErrNoProject) {
			t.Fatalf("ExtractFile error = %v, want ErrNoProject", err)
		}
	})

	t.Run("not a workbook", func(t *testing.T) {
		path := filepath.Join(dir, "Fake.xls")
		if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := ExtractFile(path); err == nil || !strings.Contains(err.Error(), "unrecognized workbook format") {
			t.Fatalf("ExtractFile error = %v", err)
		}
	})

	t.Run("corrupt project part", func(t *testing.T) {
		path := filepath.Join(dir, "Broken.xlsm")
		writeZip(t, path, map[string]string{"xl/vbaProject.bin": "not a compound file"})
		if _, err := ExtractFile(path); err == nil {
			t.Fatal("ExtractFile succeeded on a corrupt vbaProject.bin")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := ExtractFile(filepath.Join(dir, "missing.xlsm")); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("ExtractFile error = %v, want not exist", err)
		}
	})
}

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestModuleFilename(t *testing.T) {
	testutil.AssertEqual(t, Module{Name: "Module1", Type: Procedural}.Filename(), "Module1.bas")
	testutil.AssertEqual(t, Module{Name: "Sheet1", Type: Class}.Filename(), "Sheet1.cls")
	testutil.AssertEqual(t, Module{Name: "UserForm1", Type: Form}.Filename(), "UserForm1.frm")
}

func TestClean(t *testing.T) {
	cases := map[string]struct {
		code     string
		keepName bool
		want     string
	}{
		"attributes dropped": {
			code: "Attribute VB_Name = \"Module1\"\r\nSub Hello()\r\nEnd Sub\r\n",
			want: "Sub Hello()\nEnd Sub",
		},
		"name kept": {
			code:     "Attribute VB_Name = \"Module1\"\r\nAttribute VB_Exposed = False\r\nSub Hello()\r\n",
			keepName: true,
			want:     "Attribute VB_Name = \"Module1\"\nSub Hello()",
		},
		"only attributes": {
			code: "Attribute VB_Name = \"Sheet1\"\r\nAttribute VB_Base = \"0{00020820-0000-0000-C000-000000000046}\"\r\n",
			want: "",
		},
		"empty": {
			code: "",
			want: "",
		},
		"indented attribute is code": {
			code: "  Attribute = 1\n",
			want: "  Attribute = 1",
		},
		"bare carriage returns": {
			code: "Sub A()\rEnd Sub\r",
			want: "Sub A()\nEnd Sub",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			testutil.AssertEqual(t, Clean(tc.code, tc.keepName), tc.want)
		})
	}
}

// testdata/vbaProject.bin is a project saved by Excel with code page 936,
// two document modules without code, a worksheet module and a standard
// module.
func TestExtractSavedProject(t *testing.T) {
	bin, err := os.ReadFile(filepath.Join("testdata", "vbaProject.bin"))
	if err != nil {
		t.Fatal(err)
	}
	macros := filepath.Join(t.TempDir(), "Macros.xlsm")
	writeZip(t, macros, map[string]string{
		"[Content_Types].xml": "<Types/>",
		"xl/workbook.xml":     "<workbook/>",
		"xl/vbaProject.bin":   string(bin),
	})

	type cleaned struct {
		Name     string
		Filename string
		Code     string
	}
	want := []cleaned{
		{Name: "ThisWorkbook", Filename: "ThisWorkbook.cls"},
		{
			Name:     "Sheet1",
			Filename: "Sheet1.cls",
			Code: strings.Join([]string{
				"Private Sub Worksheet_BeforeDoubleClick( _",
				"    ByVal Target As Range, Cancel As Boolean)",
				"    Sheet1.Cells(1, 3) = Sheet1.Cells(1, 1) + Sheet1.Cells(1, 2)",
				"End Sub",
				"",
				"Private Sub Worksheet_SelectionChange( _",
				"    ByVal Target As Range)",
				"End Sub",
			}, "\n"),
		},
		{Name: "ThisWorkbook1", Filename: "ThisWorkbook1.cls"},
		{
			Name:     "Module1",
			Filename: "Module1.bas",
			Code:     "Sub Button1_Click()\nSheet1.Cells(1, 3) = Sheet1.Cells(1, 1) + Sheet1.Cells(1, 2)\nEnd Sub",
		},
	}

	for name, path := range map[string]string{
		"compound file": filepath.Join("testdata", "vbaProject.bin"),
		"xlsm":          macros,
	} {
		t.Run(name, func(t *testing.T) {
			mods, err := ExtractFile(path)
			if err != nil {
				t.Fatalf("ExtractFile: %v", err)
			}
			var got []cleaned
			for _, m := range mods {
				got = append(got, cleaned{Name: m.Name, Filename: m.Filename(), Code: Clean(m.Code, false)})
			}
			testutil.AssertEqual(t, got, want)

			testutil.AssertEqual(t, Clean(mods[3].Code, true), "Attribute VB_Name = \"Module1\"\n"+want[3].Code)
		})
	}
}
