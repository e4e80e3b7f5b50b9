package source

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/ppiankov/feeder/internal/store"
	"github.com/ppiankov/feeder/internal/vk"
)

const (
	vkWallCount    = 25
	vkSyncPageSize = 100
)

// VKUpdate is one wall post.
type VKUpdate struct {
	ID      int64
	OwnerID int64
	FromID  int64
	Date    int64
	Text    string
}

func vkUpdateFromWall(w vk.WallItem) *VKUpdate {
	return &VKUpdate{ID: w.ID, OwnerID: w.OwnerID, FromID: w.FromID, Date: w.Date, Text: w.Text}
}

// VKClient is the part of the VK API the provider calls.
type VKClient interface {
	GetWall(ctx context.Context, ownerID int64, offset, count int) ([]vk.WallItem, error)
	SearchGroups(ctx context.Context, query string, offset, count int) ([]vk.Group, error)
	GetGroupsByIDs(ctx context.Context, ids []string) ([]vk.Group, error)
}

type VKOptions struct {
	PollInterval   time.Duration
	ScrapeInterval time.Duration
	Logger         *slog.Logger
	Redactor       Redactor
}

// VKProvider polls community walls.
type VKProvider struct {
	client         VKClient
	storage        Storage
	pollInterval   time.Duration
	scrapeInterval time.Duration
	log            *slog.Logger
	redact         Redactor
}

func NewVK(client VKClient, storage Storage, opts VKOptions) *VKProvider {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Minute
	}
	if opts.ScrapeInterval <= 0 {
		opts.ScrapeInterval = time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Redactor == nil {
		opts.Redactor = noRedact{}
	}
	return &VKProvider{
		client:         client,
		storage:        storage,
		pollInterval:   opts.PollInterval,
		scrapeInterval: opts.ScrapeInterval,
		log:            opts.Logger.With("provider", KindVK.String()),
		redact:         opts.Redactor,
	}
}

func (p *VKProvider) Kind() Kind {
	return KindVK
}

func (p *VKProvider) Run(ctx context.Context, sink chan<- Envelope) {
	go pollEvery(ctx, p.pollInterval, func(ctx context.Context) {
		p.scrape(ctx, sink)
	})
}

func (p *VKProvider) scrape(ctx context.Context, sink chan<- Envelope) {
	sources, err := p.storage.GetSourcesByKindForScrape(ctx, KindVK.String(), p.scrapeInterval)
	if err != nil {
		p.log.Error("load sources for scrape", "error", err)
		return
	}

	for _, src := range sources {
		groupID, err := strconv.ParseInt(src.Origin, 10, 64)
		if err != nil {
			p.log.Warn("bad group id", "source", src.ID, "origin", src.Origin)
			continue
		}
		items, err := p.client.GetWall(ctx, -groupID, 0, vkWallCount)
		if err != nil {
			env := Envelope{Source: KindVK, Err: transportErr(fmt.Sprintf("wall of %d", groupID), err)}
			if !send(ctx, sink, env) {
				return
			}
			continue
		}
		if len(items) == 0 {
			if err := p.storage.SetSourceScrapedNow(ctx, src.ID); err != nil {
				p.log.Warn("mark source scraped", "source", src.ID, "error", err)
			}
			continue
		}
		for _, item := range items {
			if !send(ctx, sink, Envelope{VK: vkUpdateFromWall(item)}) {
				return
			}
		}
	}
}

// Process stores a wall post. The post link is set only when the record is new.
func (p *VKProvider) Process(ctx context.Context, env Envelope) (int, error) {
	upd := env.VK
	if upd == nil {
		return 0, fmt.Errorf("vk provider got %s update: %w", env.Kind(), ErrUpdateNotSupported)
	}

	groupID := upd.OwnerID
	if groupID < 0 {
		groupID = -groupID
	}
	src, err := p.resolveSource(ctx, groupID)
	if err != nil {
		return 0, err
	}

	created, err := p.storage.SaveRecords(ctx, []store.NewRecord{{
		SourceRecordID: strconv.FormatInt(upd.ID, 10),
		SourceID:       src.ID,
		Content:        p.redact.Redact(upd.Text),
		Date:           time.Unix(upd.Date, 0).UTC(),
	}})
	if err != nil {
		return 0, storageErr("save record", err)
	}

	if len(created) == 1 {
		link := fmt.Sprintf("https://vk.com/wall%d_%d", upd.OwnerID, upd.ID)
		if _, err := p.storage.SetRecordExternalLink(ctx, src.ID, created[0].SourceRecordID, link); err != nil {
			return 0, storageErr("set external link", err)
		}
	}

	if err := p.storage.SetSourceScrapedNow(ctx, src.ID); err != nil {
		return len(created), storageErr("mark source scraped", err)
	}
	return len(created), nil
}

func (p *VKProvider) resolveSource(ctx context.Context, groupID int64) (store.Source, error) {
	src, ok, err := p.storage.GetExactSource(ctx, KindVK.String(), strconv.FormatInt(groupID, 10))
	if err != nil {
		return store.Source{}, storageErr("get source", err)
	}
	if ok {
		return src, nil
	}

	groups, err := p.client.GetGroupsByIDs(ctx, []string{strconv.FormatInt(groupID, 10)})
	if err != nil {
		return store.Source{}, transportErr("get group", err)
	}
	if len(groups) == 0 {
		return store.Source{}, fmt.Errorf("group %d: %w", groupID, ErrSourceNotFound)
	}

	saved, err := p.storage.SaveSources(ctx, []store.NewSource{newVKSource(groups[0])})
	if err != nil {
		return store.Source{}, storageErr("create source", err)
	}
	if len(saved) == 0 {
		return store.Source{}, fmt.Errorf("group %d: %w", groupID, ErrSourceCreation)
	}
	return saved[0], nil
}

func newVKSource(g vk.Group) store.NewSource {
	link := "https://vk.com/club" + strconv.FormatInt(g.ID, 10)
	if g.ScreenName != "" {
		link = "https://vk.com/" + g.ScreenName
	}
	return store.NewSource{
		Name:         g.Name,
		Origin:       strconv.FormatInt(g.ID, 10),
		Kind:         KindVK.String(),
		Image:        g.Photo,
		ExternalLink: link,
	}
}

func (p *VKProvider) Search(ctx context.Context, query string) ([]store.Source, error) {
	groups, err := p.client.SearchGroups(ctx, query, 0, searchLimit)
	if err != nil {
		return nil, transportErr("search groups", err)
	}

	var sources []store.Source
	for _, g := range groups {
		saved, err := p.storage.SaveSources(ctx, []store.NewSource{newVKSource(g)})
		if err != nil {
			p.log.Error("save found group", "group", g.ID, "error", err)
			continue
		}
		sources = append(sources, saved...)
	}
	return sources, nil
}

// Synchronize pages back through every stored wall until posts get older
// than depth. Pinned posts do not end the walk.
func (p *VKProvider) Synchronize(ctx context.Context, depth time.Duration) error {
	sources, err := p.storage.GetSourcesByKind(ctx, KindVK.String())
	if err != nil {
		return storageErr("load sources", err)
	}

	until := time.Now().Add(-depth)
	for _, src := range sources {
		groupID, err := strconv.ParseInt(src.Origin, 10, 64)
		if err != nil {
			p.log.Warn("bad group id", "source", src.ID, "origin", src.Origin)
			continue
		}
		n, err := p.syncWall(ctx, -groupID, until)
		if err != nil {
			return err
		}
		p.log.Info("wall synchronized", "group", src.Name, "new", n)
	}
	return nil
}

func (p *VKProvider) syncWall(ctx context.Context, ownerID int64, until time.Time) (int, error) {
	saved := 0
	for offset := 0; ; {
		items, err := p.client.GetWall(ctx, ownerID, offset, vkSyncPageSize)
		if err != nil {
			return saved, transportErr(fmt.Sprintf("wall of %d", ownerID), err)
		}
		for _, item := range items {
			if time.Unix(item.Date, 0).Before(until) {
				if item.Pinned() {
					continue
				}
				return saved, nil
			}
			n, err := p.Process(ctx, Envelope{VK: vkUpdateFromWall(item)})
			if err != nil {
				return saved, err
			}
			saved += n
		}
		if len(items) < vkSyncPageSize {
			return saved, nil
		}
		offset += len(items)
	}
}
