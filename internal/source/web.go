package source

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/ppiankov/feeder/internal/store"
)

const (
	webFetchTimeout = 30 * time.Second
	webUserAgent    = "Mozilla/5.0 (compatible; feeder/1.0; +https://github.com/ppiankov/feeder)"
	webMaxWorkers   = 10
	webMaxRetries   = 3
	webDomainDelay  = 3 * time.Second
)

var (
	htmlTagRe    = regexp.MustCompile(`<[^>]*>`)
	whitespaceRe = regexp.MustCompile(`\s{3,}`)
)

// FeedItem is one entry of a feed.
type FeedItem struct {
	GUID      string
	Title     string
	Content   string
	Link      string
	Image     string
	Published time.Time
}

// FeedUpdate is a fetched feed. Link is the feed URL the items were read from.
type FeedUpdate struct {
	Link    string
	Name    string
	Image   string
	SiteURL string
	Items   []FeedItem
}

type WebOptions struct {
	PollInterval   time.Duration
	ScrapeInterval time.Duration
	HTTPClient     *http.Client
	Logger         *slog.Logger
	Redactor       Redactor
}

// WebProvider polls RSS and Atom feeds stored as WEB sources.
type WebProvider struct {
	storage        Storage
	client         *http.Client
	pollInterval   time.Duration
	scrapeInterval time.Duration
	log            *slog.Logger
	redact         Redactor
}

func NewWeb(storage Storage, opts WebOptions) *WebProvider {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Minute
	}
	if opts.ScrapeInterval <= 0 {
		opts.ScrapeInterval = time.Minute
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{
			Timeout:   webFetchTimeout,
			Transport: &webTransport{base: http.DefaultTransport},
		}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Redactor == nil {
		opts.Redactor = noRedact{}
	}
	return &WebProvider{
		storage:        storage,
		client:         opts.HTTPClient,
		pollInterval:   opts.PollInterval,
		scrapeInterval: opts.ScrapeInterval,
		log:            opts.Logger.With("provider", KindWeb.String()),
		redact:         opts.Redactor,
	}
}

func (p *WebProvider) Kind() Kind {
	return KindWeb
}

func (p *WebProvider) Run(ctx context.Context, sink chan<- Envelope) {
	go pollEvery(ctx, p.pollInterval, func(ctx context.Context) {
		p.scrape(ctx, sink)
	})
}

// Synchronize is a no-op: feeds only expose their current items.
func (p *WebProvider) Synchronize(context.Context, time.Duration) error {
	return nil
}

func (p *WebProvider) scrape(ctx context.Context, sink chan<- Envelope) {
	sources, err := p.storage.GetSourcesByKindForScrape(ctx, KindWeb.String(), p.scrapeInterval)
	if err != nil {
		p.log.Error("load sources for scrape", "error", err)
		return
	}
	if len(sources) == 0 {
		return
	}
	p.log.Debug("scraping feeds", "count", len(sources))

	feeds := make([]string, 0, len(sources))
	for _, s := range sources {
		feeds = append(feeds, s.Origin)
	}

	for res := range p.fetchAll(ctx, feeds) {
		env := Envelope{Web: res.update}
		if res.err != nil {
			env = Envelope{Source: KindWeb, Err: transportErr("fetch "+res.url, res.err)}
		}
		if !send(ctx, sink, env) {
			return
		}
	}
}

type fetchResult struct {
	url    string
	update *FeedUpdate
	err    error
}

// fetchAll fetches feeds with a bounded worker pool. Feeds of the same host
// are fetched one after another with a pause in between.
func (p *WebProvider) fetchAll(ctx context.Context, feeds []string) <-chan fetchResult {
	byDomain := make(map[string][]string)
	for _, feedURL := range feeds {
		d := feedDomain(feedURL)
		byDomain[d] = append(byDomain[d], feedURL)
	}

	results := make(chan fetchResult, len(feeds))
	jobs := make(chan []string, len(byDomain))

	workers := min(webMaxWorkers, len(byDomain))

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for group := range jobs {
				for i, feedURL := range group {
					if ctx.Err() != nil {
						return
					}
					if i > 0 && webSleepFunc(ctx, webDomainDelay) != nil {
						return
					}
					upd, err := p.fetchWithRetry(ctx, feedURL)
					results <- fetchResult{url: feedURL, update: upd, err: err}
				}
			}
		}()
	}

	for _, group := range byDomain {
		jobs <- group
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()
	return results
}

// feedDomain extracts the host used to group requests.
func feedDomain(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil || u.Host == "" {
		return feedURL
	}
	return u.Host
}

// webTransport sets the User-Agent on every request.
type webTransport struct {
	base http.RoundTripper
}

func (t *webTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", webUserAgent)
	return t.base.RoundTrip(req)
}

// webSleepFunc is swapped out in tests.
var webSleepFunc = sleepContext

// sleepContext waits for d or until ctx is done, whichever comes first.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *WebProvider) fetchWithRetry(ctx context.Context, feedURL string) (*FeedUpdate, error) {
	var lastErr error
	for attempt := range webMaxRetries {
		upd, err := p.fetchFeed(ctx, feedURL)
		if err == nil {
			return upd, nil
		}
		if !isRetryableError(err) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
		if attempt < webMaxRetries-1 {
			if err := webSleepFunc(ctx, time.Duration(1<<uint(attempt))*time.Second); err != nil { // 1s, 2s
				return nil, err
			}
		}
	}
	return nil, lastErr
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var httpErr gofeed.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

func (p *WebProvider) fetchFeed(ctx context.Context, feedURL string) (*FeedUpdate, error) {
	ctx, cancel := context.WithTimeout(ctx, webFetchTimeout)
	defer cancel()

	fp := gofeed.NewParser()
	fp.Client = p.client
	feed, err := fp.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", feedURL, err)
	}
	return updateFromFeed(feed, feedURL), nil
}

func updateFromFeed(feed *gofeed.Feed, feedURL string) *FeedUpdate {
	upd := &FeedUpdate{
		Link:    feedURL,
		Name:    feedLabel(feed, feedURL),
		SiteURL: feed.Link,
	}
	if feed.Image != nil {
		upd.Image = feed.Image.URL
	}
	for _, item := range feed.Items {
		id := itemID(item)
		if id == "" {
			continue
		}
		fi := FeedItem{
			GUID:      id,
			Title:     strings.TrimSpace(item.Title),
			Content:   itemText(item),
			Link:      item.Link,
			Published: itemPublishedTime(item),
		}
		if item.Image != nil {
			fi.Image = item.Image.URL
		}
		upd.Items = append(upd.Items, fi)
	}
	return upd
}

func itemPublishedTime(item *gofeed.Item) time.Time {
	if item.PublishedParsed != nil {
		return *item.PublishedParsed
	}
	if item.UpdatedParsed != nil {
		return *item.UpdatedParsed
	}
	return time.Time{}
}

func feedLabel(feed *gofeed.Feed, feedURL string) string {
	if feed.Title != "" {
		return feed.Title
	}
	return feedURL
}

func itemID(item *gofeed.Item) string {
	if item.GUID != "" {
		return item.GUID
	}
	return item.Link
}

func itemText(item *gofeed.Item) string {
	raw := item.Content
	if raw == "" {
		raw = item.Description
	}
	return stripHTML(raw)
}

func stripHTML(s string) string {
	s = htmlTagRe.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	s = whitespaceRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// Process stores the items of a fetched feed. Only records that were not
// stored before get their external link.
func (p *WebProvider) Process(ctx context.Context, env Envelope) (int, error) {
	upd := env.Web
	if upd == nil {
		return 0, fmt.Errorf("web provider got %s update: %w", env.Kind(), ErrUpdateNotSupported)
	}

	src, err := p.resolveSource(ctx, upd)
	if err != nil {
		return 0, err
	}

	links := make(map[string]string, len(upd.Items))
	records := make([]store.NewRecord, 0, len(upd.Items))
	for _, item := range upd.Items {
		records = append(records, store.NewRecord{
			Title:          item.Title,
			SourceRecordID: item.GUID,
			SourceID:       src.ID,
			Content:        p.redact.Redact(item.Content),
			Date:           item.Published,
			Image:          item.Image,
		})
		link := item.Link
		if link == "" {
			link = item.GUID
		}
		links[item.GUID] = link
	}

	created, err := p.storage.SaveRecords(ctx, records)
	if err != nil {
		return 0, storageErr("save records", err)
	}

	for _, rec := range created {
		if _, err := p.storage.SetRecordExternalLink(ctx, src.ID, rec.SourceRecordID, links[rec.SourceRecordID]); err != nil {
			p.log.Warn("set external link", "record", rec.SourceRecordID, "error", err)
		}
	}

	if err := p.storage.SetSourceScrapedNow(ctx, src.ID); err != nil {
		return len(created), storageErr("mark source scraped", err)
	}
	return len(created), nil
}

func (p *WebProvider) resolveSource(ctx context.Context, upd *FeedUpdate) (store.Source, error) {
	src, ok, err := p.storage.GetExactSource(ctx, KindWeb.String(), upd.Link)
	if err != nil {
		return store.Source{}, storageErr("get source", err)
	}
	if ok {
		return src, nil
	}
	return p.createSource(ctx, upd)
}

func (p *WebProvider) createSource(ctx context.Context, upd *FeedUpdate) (store.Source, error) {
	saved, err := p.storage.SaveSources(ctx, []store.NewSource{newWebSource(upd)})
	if err != nil {
		return store.Source{}, storageErr("create source", err)
	}
	if len(saved) == 0 {
		return store.Source{}, fmt.Errorf("create source %s: %w", upd.Link, ErrSourceCreation)
	}
	return saved[0], nil
}

func newWebSource(upd *FeedUpdate) store.NewSource {
	link := upd.SiteURL
	if link == "" {
		link = upd.Link
	}
	return store.NewSource{
		Name:         upd.Name,
		Origin:       upd.Link,
		Kind:         KindWeb.String(),
		Image:        upd.Image,
		ExternalLink: link,
	}
}
