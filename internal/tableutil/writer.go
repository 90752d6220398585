// Package tableutil renders the aligned tables printed by status, sync and
// scan.
package tableutil

import (
	"fmt"
	"io"
	"strings"

	"github.com/liggitt/tabwriter"
)

// New creates a tabwriter with forkkeeper's spacing. The Escape fences
// added by termstyle.Colorize are stripped from the output.
func New(out io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(out, 0, 4, 2, ' ', tabwriter.StripEscape)
}

// Table is a header row plus data rows.
type Table struct {
	Headers []string
	Rows    [][]string
}

// AddRow appends a row, padding missing cells with "-".
func (t *Table) AddRow(cells ...string) {
	row := make([]string, max(len(cells), len(t.Headers)))
	for i := range row {
		switch {
		case i < len(cells) && cells[i] != "":
			row[i] = cells[i]
		default:
			row[i] = "-"
		}
	}
	t.Rows = append(t.Rows, row)
}

// Write renders the table to out. Headers are skipped when noHeaders is set.
func (t *Table) Write(out io.Writer, noHeaders bool) error {
	w := New(out)
	if !noHeaders && len(t.Headers) > 0 {
		if _, err := fmt.Fprintln(w, strings.Join(t.Headers, "\t")); err != nil {
			return err
		}
	}
	for _, row := range t.Rows {
		if _, err := fmt.Fprintln(w, strings.Join(row, "\t")); err != nil {
			return err
		}
	}
	return w.Flush()
}
