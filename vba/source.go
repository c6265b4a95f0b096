// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package vba

import "strings"

// Clean strips the Attribute lines the VBA editor keeps at the top of every
// module, so that exported sources only change when code does. The
// Attribute VB_Name line is kept if keepName is true.
//
// Lines are split on any of \r\n, \r and \n and joined with \n. An empty
// result means the module has no code worth exporting.
func Clean(code string, keepName bool) string {
	code = strings.ReplaceAll(code, "\r\n", "\n")
	code = strings.ReplaceAll(code, "\r", "\n")
	code = strings.TrimSuffix(code, "\n")
	if code == "" {
		return ""
	}

	var kept []string
	for line := range strings.SplitSeq(code, "\n") {
		if strings.HasPrefix(line, "Attribute") && !(keepName && strings.Contains(line, "VB_Name")) {
			continue
		}
		kept = append(kept, line)
	}
	if len(kept) == 0 {
		return ""
	}
	return strings.Join(kept, "\n")
}
