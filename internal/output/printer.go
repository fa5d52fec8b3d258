// Package output renders CLI command results as text or JSON. The serve
// command never uses it: stdout belongs to the protocol there, and these
// printers exist for the human-facing maintenance commands.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

type Printer struct {
	JSON   bool
	Writer io.Writer
}

func New(w io.Writer, jsonOutput bool) *Printer {
	return &Printer{JSON: jsonOutput, Writer: w}
}

// Result prints a command result: pretty JSON in JSON mode, nothing
// otherwise (text-mode commands print their own tables).
func (p *Printer) Result(v any) error {
	if !p.JSON {
		return nil
	}
	enc := json.NewEncoder(p.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Successf prints a confirmation line in text mode and a success object
// in JSON mode.
func (p *Printer) Successf(format string, args ...any) error {
	if p.JSON {
		enc := json.NewEncoder(p.Writer)
		return enc.Encode(map[string]any{
			"success": true,
			"message": fmt.Sprintf(format, args...),
		})
	}
	_, err := fmt.Fprintf(p.Writer, format+"\n", args...)
	return err
}

// Table is a tab-aligned text table.
type Table struct {
	w *tabwriter.Writer
}

func (p *Printer) NewTable(headers ...string) *Table {
	t := &Table{w: tabwriter.NewWriter(p.Writer, 0, 0, 2, ' ', 0)}
	if len(headers) > 0 {
		fmt.Fprintln(t.w, strings.Join(headers, "\t"))
	}
	return t
}

func (t *Table) AddRow(values ...string) {
	fmt.Fprintln(t.w, strings.Join(values, "\t"))
}

func (t *Table) Flush() error {
	return t.w.Flush()
}
