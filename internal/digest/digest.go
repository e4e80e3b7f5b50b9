// Package digest renders stored records for people and scripts.
package digest

import (
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ppiankov/feeder/internal/source"
	"github.com/ppiankov/feeder/internal/store"
)

const headlineRunes = 120

// Input is the full input for a formatter.
type Input struct {
	Records []store.RecordWithSource
	Sources int           // distinct sources known to the store
	Since   time.Duration // zero means no window
	Now     time.Time     // reference for relative times; zero means time.Now
}

// Formatter writes rendered records to w.
type Formatter interface {
	Format(w io.Writer, input Input) error
}

// ForName picks a formatter by its CLI name.
func ForName(name string, color bool) (Formatter, error) {
	switch name {
	case "", "terminal":
		return NewTerminal(color), nil
	case "json":
		return NewJSON(), nil
	case "markdown", "md":
		return NewMarkdown(), nil
	default:
		return nil, fmt.Errorf("unknown format %q (want terminal, json or markdown)", name)
	}
}

type group struct {
	kind    string
	records []store.RecordWithSource
}

// groupByKind keeps the provider order of source.Kinds and the record order
// inside a group. Records of unknown kinds go last.
func groupByKind(records []store.RecordWithSource) []group {
	index := make(map[string]int)
	var groups []group
	for _, k := range source.Kinds {
		index[k.String()] = len(groups)
		groups = append(groups, group{kind: k.String()})
	}
	for _, r := range records {
		i, ok := index[r.Source.Kind]
		if !ok {
			i = len(groups)
			index[r.Source.Kind] = i
			groups = append(groups, group{kind: r.Source.Kind})
		}
		groups[i].records = append(groups[i].records, r)
	}

	out := groups[:0]
	for _, g := range groups {
		if len(g.records) > 0 {
			out = append(out, g)
		}
	}
	return out
}

// headline is the title, or the first content line when there is none.
func headline(r store.Record) string {
	text := strings.TrimSpace(r.Title)
	if text == "" {
		text, _, _ = strings.Cut(strings.TrimSpace(r.Content), "\n")
		text = strings.TrimSpace(text)
	}
	if text == "" {
		return "(no text)"
	}
	if utf8.RuneCountInString(text) > headlineRunes {
		runes := []rune(text)
		text = strings.TrimSpace(string(runes[:headlineRunes])) + "..."
	}
	return text
}

func kindTitle(kind string) string {
	switch kind {
	case source.KindWeb.String():
		return "Web"
	case source.KindTelegram.String():
		return "Telegram"
	case source.KindVK.String():
		return "VK"
	default:
		return kind
	}
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "all time"
	}
	hours := int(d.Hours())
	if hours >= 24 && hours%24 == 0 {
		return fmt.Sprintf("%dd", hours/24)
	}
	if hours == 0 {
		return d.String()
	}
	return fmt.Sprintf("%dh", hours)
}

func (in Input) now() time.Time {
	if in.Now.IsZero() {
		return time.Now()
	}
	return in.Now
}
