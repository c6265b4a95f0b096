// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package report renders plain-text descriptions of Excel workbooks, meant
// to be committed next to the binary files so that changes show up in diffs.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"go.astrophena.name/xlgit/syncx"
)

// Report kinds, in the order they are generated.
const (
	FormulasAndValues     = "formulas_and_values"
	Formatting            = "formatting"
	ConditionalFormatting = "conditional_formatting"
	MergedCells           = "merged_cells"
	DataValidations       = "data_validations"
	Hyperlinks            = "hyperlinks"
	NamedRanges           = "named_ranges"
)

// Kinds lists every report kind.
var Kinds = []string{
	FormulasAndValues,
	Formatting,
	ConditionalFormatting,
	MergedCells,
	DataValidations,
	Hyperlinks,
	NamedRanges,
}

var supported = []string{".xlsx", ".xlsm", ".xlam", ".xltx", ".xltm"}

// Supported reports whether reports can be generated for the workbook at
// path. Binary formats (xls, xlsb and their templates) are not supported.
func Supported(path string) bool {
	return slices.Contains(supported, strings.ToLower(filepath.Ext(path)))
}

// Report is a single text report of a workbook.
type Report struct {
	Kind  string
	Lines []string
}

// Filename returns the name of the file the report is written to.
func (r Report) Filename(prefix string) string {
	return prefix + "_" + r.Kind + ".txt"
}

// Bytes returns the file contents of the report.
func (r Report) Bytes() []byte {
	return []byte(strings.Join(r.Lines, "\n") + "\n")
}

// WriteFile generates reports for the workbook at path and writes them into
// dir, naming each file after prefix. dir is created if needed.
func WriteFile(path, dir, prefix string) error {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return err
	}
	defer f.Close()

	reports, err := Generate(f)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, r := range reports {
		if err := os.WriteFile(filepath.Join(dir, r.Filename(prefix)), r.Bytes(), 0o644); err != nil {
			return err
		}
	}
	return nil
}

const rule = "----------------------------------------"

// Generate returns all reports of f, in the order of [Kinds].
func Generate(f *excelize.File) ([]Report, error) {
	g := &generator{f: f, styles: make(map[int]*excelize.Style)}
	lines := make(map[string][]string, len(Kinds))

	lines[NamedRanges] = g.namedRanges()
	for _, sheet := range f.GetSheetList() {
		if err := g.sheet(sheet, lines); err != nil {
			return nil, fmt.Errorf("sheet %q: %w", sheet, err)
		}
	}

	reports := make([]Report, 0, len(Kinds))
	for _, kind := range Kinds {
		reports = append(reports, Report{Kind: kind, Lines: lines[kind]})
	}
	return reports, nil
}

type generator struct {
	f        *excelize.File
	styles   map[int]*excelize.Style
	date1904 syncx.Lazy[bool]
}

type sheetData struct {
	name  string
	cols  int
	rows  int
	cells []cell
}

type cell struct {
	ref     string
	value   string // raw cached value
	formula string // without the leading "="
}

func (g *generator) namedRanges() []string {
	lines := []string{"Workbook Named Ranges", rule}
	for _, dn := range g.f.GetDefinedName() {
		line := fmt.Sprintf("Name: %s, Refers To: %s", dn.Name, dn.RefersTo)
		if dn.Scope != "" && dn.Scope != "Workbook" {
			line += fmt.Sprintf(", Scope: %s", dn.Scope)
		}
		lines = append(lines, line)
	}
	return lines
}

func (g *generator) sheet(name string, lines map[string][]string) error {
	s, err := g.load(name)
	if err != nil {
		return err
	}

	sections := []struct {
		kind string
		f    func(*sheetData) ([]string, error)
	}{
		{FormulasAndValues, g.formulasAndValues},
		{Formatting, g.formatting},
		{ConditionalFormatting, g.conditionalFormatting},
		{MergedCells, g.mergedCells},
		{DataValidations, g.dataValidations},
		{Hyperlinks, g.hyperlinks},
	}
	for _, sec := range sections {
		body, err := sec.f(s)
		if err != nil {
			return fmt.Errorf("%s: %w", sec.kind, err)
		}
		lines[sec.kind] = append(lines[sec.kind], "Sheet: "+name, rule)
		lines[sec.kind] = append(lines[sec.kind], body...)
	}
	return nil
}

// load reads the cells of a sheet that hold a value or a formula, in
// row-major order, with raw (unformatted) values. The scanned area is the
// union of the rows returned by excelize and the sheet dimension, which is
// where formulas without a cached value are found.
func (g *generator) load(sheet string) (*sheetData, error) {
	rows, err := g.f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, err
	}
	s := &sheetData{name: sheet, rows: len(rows)}
	for _, row := range rows {
		s.cols = max(s.cols, len(row))
	}
	dim, err := g.f.GetSheetDimension(sheet)
	if err != nil {
		return nil, err
	}
	// A missing or malformed dimension only narrows the scan.
	if last := dim[strings.LastIndex(dim, ":")+1:]; last != "" {
		if c, r, err := excelize.CellNameToCoordinates(last); err == nil {
			s.cols, s.rows = max(s.cols, c), max(s.rows, r)
		}
	}

	err = s.each(func(ref string, c, r int) error {
		formula, err := g.f.GetCellFormula(sheet, ref)
		if err != nil {
			return err
		}
		var value string
		if r <= len(rows) && c <= len(rows[r-1]) {
			value = rows[r-1][c-1]
		}
		if value != "" || formula != "" {
			s.cells = append(s.cells, cell{ref: ref, value: value, formula: formula})
		}
		return nil
	})
	return s, err
}

// each calls f for every cell of the scanned area in row-major order.
func (s *sheetData) each(f func(ref string, col, row int) error) error {
	for r := 1; r <= s.rows; r++ {
		for c := 1; c <= s.cols; c++ {
			ref, err := excelize.CoordinatesToCellName(c, r)
			if err != nil {
				return err
			}
			if err := f(ref, c, r); err != nil {
				return err
			}
		}
	}
	return nil
}

func (g *generator) formulasAndValues(s *sheetData) ([]string, error) {
	var lines []string
	for _, c := range s.cells {
		value, typ := "="+c.formula, "Text"
		if c.formula == "" {
			var err error
			if value, typ, err = g.describeValue(s.name, c); err != nil {
				return nil, err
			}
		}
		lines = append(lines, fmt.Sprintf("Cell %s: Value='%s', Type='%s'", c.ref, value, typ))
	}
	return lines, nil
}

// describeValue returns the value of a cell and its type. Numbers shown with
// a date or time format are converted to the date they stand for, which is
// of type Other.
func (g *generator) describeValue(sheet string, c cell) (value, typ string, err error) {
	ct, err := g.f.GetCellType(sheet, c.ref)
	if err != nil {
		return "", "", err
	}
	switch ct {
	case excelize.CellTypeBool:
		return strconv.FormatBool(isTrue(c.value)), "Boolean", nil
	case excelize.CellTypeNumber, excelize.CellTypeUnset:
		n, perr := strconv.ParseFloat(c.value, 64)
		if perr != nil {
			return c.value, "Text", nil
		}
		st, err := g.style(sheet, c.ref)
		if err != nil {
			return "", "", err
		}
		kind := dateKindOf(st)
		if kind == notDate || n < 0 {
			return c.value, "Number", nil
		}
		date1904, err := g.date1904.GetErr(func() (bool, error) {
			props, err := g.f.GetWorkbookProps()
			if err != nil {
				return false, err
			}
			return props.Date1904 != nil && *props.Date1904, nil
		})
		if err != nil {
			return "", "", err
		}
		v, err := formatSerial(n, kind, date1904)
		if err != nil {
			return "", "", err
		}
		return v, "Other", nil
	case excelize.CellTypeDate:
		if t, ok := parseISODate(c.value); ok {
			return t.Format(dateTimeLayout), "Other", nil
		}
		return c.value, "Other", nil
	case excelize.CellTypeSharedString, excelize.CellTypeInlineString, excelize.CellTypeFormula, excelize.CellTypeError:
		return c.value, "Text", nil
	}
	return c.value, "Other", nil
}

func isTrue(raw string) bool { return raw == "1" || strings.EqualFold(raw, "true") }

// isFalsy reports whether a cell value counts as empty for the formatting
// report: zero numbers and false booleans are skipped like blank cells.
func (g *generator) isFalsy(sheet string, c cell) (bool, error) {
	if c.formula != "" {
		return false, nil
	}
	ct, err := g.f.GetCellType(sheet, c.ref)
	if err != nil {
		return false, err
	}
	switch ct {
	case excelize.CellTypeBool:
		return !isTrue(c.value), nil
	case excelize.CellTypeNumber, excelize.CellTypeUnset:
		n, err := strconv.ParseFloat(c.value, 64)
		return err == nil && n == 0, nil
	}
	return false, nil
}

func (g *generator) style(sheet, ref string) (*excelize.Style, error) {
	id, err := g.f.GetCellStyle(sheet, ref)
	if err != nil {
		return nil, err
	}
	if s, ok := g.styles[id]; ok {
		return s, nil
	}
	s, err := g.f.GetStyle(id)
	if err != nil {
		return nil, err
	}
	g.styles[id] = s
	return s, nil
}

func (g *generator) formatting(s *sheetData) ([]string, error) {
	var lines []string
	for _, c := range s.cells {
		falsy, err := g.isFalsy(s.name, c)
		if err != nil {
			return nil, err
		}
		if falsy {
			continue
		}
		st, err := g.style(s.name, c.ref)
		if err != nil {
			return nil, err
		}
		lines = append(lines, fmt.Sprintf("Cell %s: %s", c.ref, describeStyle(st)))
	}
	return lines, nil
}

func describeStyle(s *excelize.Style) string {
	font := excelize.Font{}
	if s.Font != nil {
		font = *s.Font
	}
	fill := "None"
	if len(s.Fill.Color) > 0 && s.Fill.Color[0] != "" {
		fill = s.Fill.Color[0]
	}
	align := "None"
	if s.Alignment != nil && s.Alignment.Horizontal != "" {
		align = s.Alignment.Horizontal
	}
	return fmt.Sprintf("Font='%s', Size=%s, Bold=%t, Italic=%t, Font Color=%s, Fill Color=%s, Alignment=%s, Number Format='%s'",
		orNone(font.Family),
		strconv.FormatFloat(font.Size, 'f', -1, 64),
		font.Bold,
		font.Italic,
		orNone(font.Color),
		fill,
		align,
		numberFormat(s),
	)
}

func orNone(s string) string {
	if s == "" {
		return "None"
	}
	return s
}

func (g *generator) conditionalFormatting(s *sheetData) ([]string, error) {
	formats, err := g.f.GetConditionalFormats(s.name)
	if err != nil {
		return nil, err
	}
	var lines []string
	for _, ref := range sortedKeys(formats) {
		for _, opt := range formats[ref] {
			lines = append(lines, fmt.Sprintf("Rule: %s, Applied to: %s", describeRule(opt), ref))
		}
	}
	return lines, nil
}

func describeRule(opt excelize.ConditionalFormatOptions) string {
	fields := []struct{ key, value string }{
		{"type", opt.Type},
		{"criteria", opt.Criteria},
		{"value", opt.Value},
		{"min", opt.MinValue},
		{"max", opt.MaxValue},
	}
	var parts []string
	for _, f := range fields {
		if f.value != "" {
			parts = append(parts, f.key+"="+f.value)
		}
	}
	return strings.Join(parts, " ")
}

func (g *generator) mergedCells(s *sheetData) ([]string, error) {
	merged, err := g.f.GetMergeCells(s.name)
	if err != nil {
		return nil, err
	}
	var lines []string
	for _, m := range merged {
		lines = append(lines, fmt.Sprintf("Merged Range: %s:%s", m.GetStartAxis(), m.GetEndAxis()))
	}
	return lines, nil
}

func (g *generator) dataValidations(s *sheetData) ([]string, error) {
	dvs, err := g.f.GetDataValidations(s.name)
	if err != nil {
		return nil, err
	}
	var lines []string
	for _, dv := range dvs {
		lines = append(lines, fmt.Sprintf("Range: %s, Formula: %s, Allow Type: %s, Criteria: %s",
			dv.Sqref, orNone(dv.Formula1), orNone(dv.Type), orNone(dv.Operator)))
	}
	return lines, nil
}

// hyperlinks scans the whole area, since a link may sit on an empty cell.
func (g *generator) hyperlinks(s *sheetData) ([]string, error) {
	var lines []string
	err := s.each(func(ref string, _, _ int) error {
		ok, target, err := g.f.GetCellHyperLink(s.name, ref)
		if err != nil {
			return err
		}
		if ok {
			lines = append(lines, fmt.Sprintf("Cell %s: Hyperlink='%s'", ref, target))
		}
		return nil
	})
	return lines, err
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
