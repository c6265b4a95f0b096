// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package report

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// Built-in number formats of ECMA-376 Part 1, 18.8.30 that do not depend on
// the locale.
var builtinNumFmts = map[int]string{
	0:  "General",
	1:  "0",
	2:  "0.00",
	3:  "#,##0",
	4:  "#,##0.00",
	9:  "0%",
	10: "0.00%",
	11: "0.00E+00",
	12: "# ?/?",
	13: "# ??/??",
	14: "mm-dd-yy",
	15: "d-mmm-yy",
	16: "d-mmm",
	17: "mmm-yy",
	18: "h:mm AM/PM",
	19: "h:mm:ss AM/PM",
	20: "h:mm",
	21: "h:mm:ss",
	22: "m/d/yy h:mm",
	37: "#,##0 ;(#,##0)",
	38: "#,##0 ;[Red](#,##0)",
	39: "#,##0.00;(#,##0.00)",
	40: "#,##0.00;[Red](#,##0.00)",
	45: "mm:ss",
	46: "[h]:mm:ss",
	47: "mmss.0",
	48: "##0.0E+0",
	49: "@",
}

func numberFormat(s *excelize.Style) string {
	if s.CustomNumFmt != nil && *s.CustomNumFmt != "" {
		return *s.CustomNumFmt
	}
	if code, ok := builtinNumFmts[s.NumFmt]; ok {
		return code
	}
	return "builtin:" + strconv.Itoa(s.NumFmt)
}

type dateKind int

const (
	notDate dateKind = iota
	dateTime
	elapsed // [h]:mm:ss and friends count durations, not points in time
)

var elapsedRe = regexp.MustCompile(`(?i)^\[hh?\](:mm(:ss(\.0*)?)?)?;?$`)

// dateKindOf reports whether numbers shown with the number format of s are
// dates, times or durations. Only the built-in date formats 14-22 and 45-47
// are recognized; locale-specific built-ins are treated as numbers.
func dateKindOf(s *excelize.Style) dateKind {
	var code string
	switch {
	case s.CustomNumFmt != nil && *s.CustomNumFmt != "":
		code = *s.CustomNumFmt
		if !isDateCode(code) {
			return notDate
		}
	case (s.NumFmt >= 14 && s.NumFmt <= 22) || (s.NumFmt >= 45 && s.NumFmt <= 47):
		code = builtinNumFmts[s.NumFmt]
	default:
		return notDate
	}
	if elapsedRe.MatchString(code) {
		return elapsed
	}
	return dateTime
}

// isDateCode reports whether the first section of a format code contains a
// date or time token outside of literals, escapes and bracketed modifiers
// such as colors and locales.
func isDateCode(code string) bool {
	code, _, _ = strings.Cut(code, ";")
	for i := 0; i < len(code); i++ {
		switch ch := code[i]; ch {
		case '"':
			end := strings.IndexByte(code[i+1:], '"')
			if end < 0 {
				return false
			}
			i += end + 1
		case '\\', '_':
			i++
		case '[':
			end := strings.IndexByte(code[i:], ']')
			if end < 0 {
				return false
			}
			switch strings.ToLower(code[i+1 : i+end]) {
			case "h", "hh", "m", "mm", "s", "ss":
				return true
			}
			i += end
		case 'd', 'm', 'h', 'y', 's', 'D', 'M', 'H', 'Y', 'S':
			return true
		}
	}
	return false
}

const dateTimeLayout = "2006-01-02 15:04:05"

// formatSerial renders an Excel serial number. Values below one day are
// times of day, durations read as "1 day, 2:00:00".
func formatSerial(n float64, kind dateKind, date1904 bool) (string, error) {
	if kind == elapsed {
		return formatDuration(n), nil
	}
	if n < 1 {
		secs := int(math.Round(n * 86400))
		return fmt.Sprintf("%02d:%02d:%02d", secs/3600, secs/60%60, secs%60), nil
	}
	t, err := excelize.ExcelDateToTime(n, date1904)
	if err != nil {
		return "", err
	}
	return t.Format(dateTimeLayout), nil
}

func formatDuration(days float64) string {
	secs := int64(math.Round(days * 86400))
	d, rem := secs/86400, secs%86400
	clock := fmt.Sprintf("%d:%02d:%02d", rem/3600, rem/60%60, rem%60)
	switch d {
	case 0:
		return clock
	case 1:
		return "1 day, " + clock
	}
	return fmt.Sprintf("%d days, %s", d, clock)
}

// parseISODate parses the value of a cell stored with the "d" type.
func parseISODate(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
