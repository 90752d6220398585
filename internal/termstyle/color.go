// SPDX-License-Identifier: MIT

// Package termstyle colours terminal output by severity. Table cells go
// through Colorize and free-standing lines through Paint.
package termstyle

import "github.com/liggitt/tabwriter"

// Severity picks the colour of a value.
type Severity int

const (
	OK Severity = iota
	Notice
	Warning
	Failure
)

const reset = "\x1b[0m"

func (s Severity) code() string {
	switch s {
	case OK:
		return "\x1b[32m"
	case Notice:
		return "\x1b[34m"
	case Warning:
		return "\x1b[33m"
	case Failure:
		return "\x1b[31m"
	default:
		return ""
	}
}

// Colorize wraps a table cell in ANSI escapes when enabled. The escapes are
// fenced with tabwriter.Escape so the tabwriter passes them through intact.
func Colorize(enabled bool, value string, sev Severity) string {
	code := sev.code()
	if !enabled || value == "" || code == "" {
		return value
	}
	esc := string([]byte{tabwriter.Escape})
	return esc + code + esc + value + esc + reset + esc
}

// Paint wraps value in ANSI escapes for output that bypasses a tabwriter.
func Paint(enabled bool, value string, sev Severity) string {
	code := sev.code()
	if !enabled || value == "" || code == "" {
		return value
	}
	return code + value + reset
}
