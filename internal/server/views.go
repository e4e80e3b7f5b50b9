package server

import (
	"time"

	"github.com/ppiankov/feeder/internal/store"
)

type sourceView struct {
	ID             int64      `json:"id"`
	Name           string     `json:"name"`
	Origin         string     `json:"origin"`
	Kind           string     `json:"kind"`
	Image          string     `json:"image,omitempty"`
	ExternalLink   string     `json:"external_link,omitempty"`
	LastScrapeTime *time.Time `json:"last_scrape_time,omitempty"`
}

func newSourceView(s store.Source) sourceView {
	v := sourceView{
		ID:           s.ID,
		Name:         s.Name,
		Origin:       s.Origin,
		Kind:         s.Kind,
		Image:        s.Image,
		ExternalLink: s.ExternalLink,
	}
	if !s.LastScrapeTime.IsZero() {
		t := s.LastScrapeTime.UTC()
		v.LastScrapeTime = &t
	}
	return v
}

func sourceViews(sources []store.Source) []sourceView {
	out := make([]sourceView, 0, len(sources))
	for _, s := range sources {
		out = append(out, newSourceView(s))
	}
	return out
}

type recordView struct {
	ID             int64      `json:"id"`
	Title          string     `json:"title,omitempty"`
	SourceRecordID string     `json:"source_record_id"`
	Content        string     `json:"content"`
	Date           time.Time  `json:"date"`
	Image          string     `json:"image,omitempty"`
	ExternalLink   string     `json:"external_link,omitempty"`
	Source         sourceView `json:"source"`
}

func newRecordView(r store.RecordWithSource) recordView {
	return recordView{
		ID:             r.Record.ID,
		Title:          r.Record.Title,
		SourceRecordID: r.Record.SourceRecordID,
		Content:        r.Record.Content,
		Date:           r.Record.Date.UTC(),
		Image:          r.Record.Image,
		ExternalLink:   r.Record.ExternalLink,
		Source:         newSourceView(r.Source),
	}
}
