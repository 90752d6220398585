// SPDX-License-Identifier: MIT
// Package strutil holds small string helpers shared by flag parsing.
package strutil

import "strings"

// SplitCSV splits a comma-separated value, trimming blanks and dropping
// empty items.
func SplitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
