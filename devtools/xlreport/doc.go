// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

/*
Xlreport dumps Excel workbooks into text files that can be reviewed in Git.

It removes the src.vba and excel_reports directories, then walks the current
directory for workbooks (xlsb, xls, xlsm, xla, xlt, xlam and xlsx files) and,
for each of them:

  - extracts the source of every VBA module into src.vba/<book>_<module>.bas
    (.cls for class and document modules, .frm for user forms), leaving out
    the Attribute lines the VBA editor maintains;
  - writes seven reports into excel_reports/<book>_<kind>.txt: formulas and
    values, formatting, conditional formatting, merged cells, data
    validations, hyperlinks and named ranges.

Reports are not available for binary workbooks (xls, xlsb, xla and xlt), but
their macros are still extracted.

<book> is the workbook file name without extension, so two workbooks with
the same name in different directories are rejected.

Xlreport is the default check of the pre-commit tool, which stages both
directories once it succeeds.
*/
package main

import (
	_ "embed"

	"go.astrophena.name/xlgit/cli"
)

//go:embed doc.go
var doc []byte

func init() { cli.SetDocComment(doc) }
