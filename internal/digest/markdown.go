package digest

import (
	"fmt"
	"io"
	"strings"
)

// MarkdownFormatter formats records as Markdown.
type MarkdownFormatter struct{}

func NewMarkdown() *MarkdownFormatter {
	return &MarkdownFormatter{}
}

func (f *MarkdownFormatter) Format(w io.Writer, input Input) error {
	fmt.Fprintf(w, "# feeder records\n\n")
	fmt.Fprintf(w, "%d sources, %d records, since %s\n\n", input.Sources, len(input.Records), formatDuration(input.Since))

	if len(input.Records) == 0 {
		fmt.Fprintln(w, "No records found.")
		return nil
	}

	for _, g := range groupByKind(input.Records) {
		fmt.Fprintf(w, "## %s (%d)\n\n", kindTitle(g.kind), len(g.records))
		for _, r := range g.records {
			title := escapeBrackets(headline(r.Record))
			if r.Record.ExternalLink != "" {
				title = fmt.Sprintf("[%s](%s)", title, r.Record.ExternalLink)
			}
			fmt.Fprintf(w, "- **%s** %s _(%s)_\n", r.Source.Name, title, r.Record.Date.UTC().Format("2006-01-02 15:04"))
		}
		fmt.Fprintln(w)
	}
	return nil
}

var bracketEscaper = strings.NewReplacer("[", `\[`, "]", `\]`)

func escapeBrackets(s string) string {
	return bracketEscaper.Replace(s)
}
