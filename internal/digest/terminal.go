package digest

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ppiankov/feeder/internal/store"
)

// TerminalFormatter writes records grouped by source kind.
type TerminalFormatter struct {
	color bool
}

// NewTerminal creates a terminal formatter. Set color=true for ANSI colors.
func NewTerminal(color bool) *TerminalFormatter {
	return &TerminalFormatter{color: color}
}

func (f *TerminalFormatter) Format(w io.Writer, input Input) error {
	header := fmt.Sprintf("feeder: %d sources, %d records, since %s",
		input.Sources, len(input.Records), formatDuration(input.Since))
	fmt.Fprintln(w, f.bold(header))
	fmt.Fprintln(w)

	if len(input.Records) == 0 {
		fmt.Fprintln(w, "No records found.")
		return nil
	}

	now := input.now()
	for _, g := range groupByKind(input.Records) {
		fmt.Fprintln(w, f.green(f.bold(fmt.Sprintf("--- %s (%d) ---", kindTitle(g.kind), len(g.records)))))
		fmt.Fprintln(w)
		for _, r := range g.records {
			f.writeRecord(w, r, now)
		}
	}
	return nil
}

func (f *TerminalFormatter) writeRecord(w io.Writer, r store.RecordWithSource, now time.Time) {
	when := humanize.RelTime(r.Record.Date, now, "ago", "from now")
	fmt.Fprintf(w, "  %s %s: %s\n", f.dim("["+when+"]"), f.yellow(r.Source.Name), headline(r.Record))
	if r.Record.ExternalLink != "" {
		fmt.Fprintf(w, "      %s\n", f.dim(r.Record.ExternalLink))
	}
}

// ANSI helpers, no-op when color=false.

func (f *TerminalFormatter) bold(s string) string {
	return f.paint("1", s)
}

func (f *TerminalFormatter) green(s string) string {
	return f.paint("32", s)
}

func (f *TerminalFormatter) yellow(s string) string {
	return f.paint("33", s)
}

func (f *TerminalFormatter) dim(s string) string {
	return f.paint("2", s)
}

func (f *TerminalFormatter) paint(code, s string) string {
	if !f.color {
		return s
	}
	return "\033[" + code + "m" + s + "\033[0m"
}
