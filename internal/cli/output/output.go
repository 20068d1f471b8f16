// Package output renders command results either as aligned text tables or as
// JSON, depending on the global --json flag. Commands never call fmt on the
// terminal directly so both formats stay available everywhere.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// Printer writes command output to a single writer in one of two modes.
type Printer struct {
	w        io.Writer
	jsonMode bool
}

// New returns a Printer over w. With jsonMode set, Table and Describe render
// JSON objects instead of text.
func New(w io.Writer, jsonMode bool) *Printer {
	return &Printer{w: w, jsonMode: jsonMode}
}

// JSONMode reports whether the printer renders JSON.
func (p *Printer) JSONMode() bool { return p.jsonMode }

// Printf writes a formatted line. Suppressed in JSON mode so standalone
// status messages never corrupt a JSON stream.
func (p *Printer) Printf(format string, args ...interface{}) {
	if p.jsonMode {
		return
	}
	fmt.Fprintf(p.w, format, args...)
}

// Println writes its arguments as one line. Suppressed in JSON mode.
func (p *Printer) Println(args ...interface{}) {
	if p.jsonMode {
		return
	}
	fmt.Fprintln(p.w, args...)
}

// Table renders rows under headers with tab-aligned columns. In JSON mode it
// emits an array of objects keyed by lowercased header names.
func (p *Printer) Table(headers []string, rows [][]string) {
	if p.jsonMode {
		records := make([]map[string]string, 0, len(rows))
		for _, row := range rows {
			rec := make(map[string]string, len(headers))
			for i, h := range headers {
				if i < len(row) {
					rec[strings.ToLower(h)] = row[i]
				}
			}
			records = append(records, rec)
		}
		p.writeJSON(records)
		return
	}
	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(headers, "\t"))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	tw.Flush()
}

// Describe renders a single entity. In text mode it prints the given
// field/value pairs as a two-column block; in JSON mode it marshals v, which
// should be the full entity the pairs were derived from.
func (p *Printer) Describe(v interface{}, pairs [][2]string) {
	if p.jsonMode {
		p.writeJSON(v)
		return
	}
	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	for _, kv := range pairs {
		fmt.Fprintf(tw, "%s:\t%s\n", kv[0], kv[1])
	}
	tw.Flush()
}

// JSON marshals v as indented JSON regardless of mode.
func (p *Printer) JSON(v interface{}) {
	p.writeJSON(v)
}

func (p *Printer) writeJSON(v interface{}) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(p.w, "{\"error\":%q}\n", err.Error())
		return
	}
	fmt.Fprintln(p.w, string(b))
}
