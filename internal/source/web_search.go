package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/ppiankov/feeder/internal/store"
)

const maxPageBytes = 4 << 20

// errRequest marks discovery failures caused by an unreachable page. Search
// treats them as an empty result.
var errRequest = errors.New("request failed")

var feedMIMETypes = []string{
	"application/rss+xml",
	"application/atom+xml",
	"application/feed+json",
	"application/json",
	"application/xml",
	"text/xml",
}

// Search resolves query to a URL, discovers the feeds it points at, stores
// them as sources and ingests their current items.
func (p *WebProvider) Search(ctx context.Context, query string) ([]store.Source, error) {
	target := normalizeQuery(query)
	if target == "" {
		return nil, nil
	}

	feeds, err := p.discover(ctx, target)
	if errors.Is(err, errRequest) {
		p.log.Debug("feed discovery request failed", "url", target, "error", err)
		return nil, nil
	}
	if err != nil {
		return nil, transportErr("discover "+target, err)
	}
	if len(feeds) == 0 {
		return nil, nil
	}

	newSources := make([]store.NewSource, 0, len(feeds))
	for _, f := range feeds {
		newSources = append(newSources, newWebSource(f))
	}
	saved, err := p.storage.SaveSources(ctx, newSources)
	if err != nil {
		return nil, storageErr("save sources", err)
	}

	for _, f := range feeds {
		if _, err := p.Process(ctx, Envelope{Web: f}); err != nil {
			p.log.Warn("ingest discovered feed", "url", f.Link, "error", err)
		}
	}
	return saved, nil
}

func normalizeQuery(q string) string {
	q = strings.TrimSpace(q)
	if q == "" {
		return ""
	}
	if !strings.HasPrefix(q, "http://") && !strings.HasPrefix(q, "https://") {
		q = "https://" + q
	}
	return q
}

// discover returns the feed at pageURL itself, or the feeds an HTML page
// advertises through <link rel="alternate">.
func (p *WebProvider) discover(ctx context.Context, pageURL string) ([]*FeedUpdate, error) {
	body, err := p.getPage(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	if feed, err := gofeed.NewParser().Parse(bytes.NewReader(body)); err == nil {
		return []*FeedUpdate{updateFromFeed(feed, pageURL)}, nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var feeds []*FeedUpdate
	for _, link := range alternateFeeds(doc, pageURL) {
		upd, err := p.fetchFeed(ctx, link)
		if err != nil {
			p.log.Debug("skip advertised feed", "url", link, "error", err)
			continue
		}
		feeds = append(feeds, upd)
	}
	return feeds, nil
}

func (p *WebProvider) getPage(ctx context.Context, pageURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, webFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errRequest, err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errRequest, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d", errRequest, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", errRequest, err)
	}
	return body, nil
}

// alternateFeeds lists absolute feed URLs advertised by the page, in
// document order and without duplicates.
func alternateFeeds(doc *goquery.Document, pageURL string) []string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var links []string
	doc.Find(`link[rel~="alternate"]`).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		if !isFeedMIME(s.AttrOr("type", "")) {
			return
		}
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref).String()
		if seen[abs] {
			return
		}
		seen[abs] = true
		links = append(links, abs)
	})
	return links
}

func isFeedMIME(t string) bool {
	t = strings.ToLower(strings.TrimSpace(t))
	for _, m := range feedMIMETypes {
		if t == m {
			return true
		}
	}
	return false
}
