package digest

import (
	"io"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type jsonDigest struct {
	Meta    jsonMeta     `json:"meta"`
	Records []jsonRecord `json:"records"`
}

type jsonMeta struct {
	Sources int    `json:"sources"`
	Records int    `json:"records"`
	Since   string `json:"since"`
}

type jsonRecord struct {
	Kind     string `json:"kind"`
	Source   string `json:"source"`
	Origin   string `json:"origin"`
	ID       string `json:"id"`
	Title    string `json:"title,omitempty"`
	Content  string `json:"content"`
	URL      string `json:"url,omitempty"`
	PostedAt string `json:"posted_at"`
}

// JSONFormatter formats records as one JSON document.
type JSONFormatter struct{}

func NewJSON() *JSONFormatter {
	return &JSONFormatter{}
}

func (f *JSONFormatter) Format(w io.Writer, input Input) error {
	out := jsonDigest{
		Meta: jsonMeta{
			Sources: input.Sources,
			Records: len(input.Records),
			Since:   formatDuration(input.Since),
		},
		Records: make([]jsonRecord, 0, len(input.Records)),
	}
	for _, r := range input.Records {
		out.Records = append(out.Records, jsonRecord{
			Kind:     r.Source.Kind,
			Source:   r.Source.Name,
			Origin:   r.Source.Origin,
			ID:       r.Record.SourceRecordID,
			Title:    r.Record.Title,
			Content:  r.Record.Content,
			URL:      r.Record.ExternalLink,
			PostedAt: r.Record.Date.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
