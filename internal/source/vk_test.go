package source

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ppiankov/feeder/internal/store"
	"github.com/ppiankov/feeder/internal/vk"
)

type fakeVK struct {
	mu      sync.Mutex
	groups  map[int64]vk.Group
	walls   map[int64][]vk.WallItem
	found   []vk.Group
	lookups int
	wallErr error
}

func newFakeVK(groups ...vk.Group) *fakeVK {
	f := &fakeVK{groups: make(map[int64]vk.Group), walls: make(map[int64][]vk.WallItem)}
	for _, g := range groups {
		f.groups[g.ID] = g
	}
	return f
}

func (f *fakeVK) GetWall(_ context.Context, ownerID int64, offset, count int) ([]vk.WallItem, error) {
	if f.wallErr != nil {
		return nil, f.wallErr
	}
	wall := f.walls[ownerID]
	if offset >= len(wall) {
		return nil, nil
	}
	end := min(offset+count, len(wall))
	return wall[offset:end], nil
}

func (f *fakeVK) SearchGroups(context.Context, string, int, int) ([]vk.Group, error) {
	return f.found, nil
}

func (f *fakeVK) GetGroupsByIDs(_ context.Context, ids []string) ([]vk.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	var out []vk.Group
	for _, g := range f.groups {
		for _, id := range ids {
			if id == strconv.FormatInt(g.ID, 10) {
				out = append(out, g)
			}
		}
	}
	return out, nil
}

func newTestVK(t *testing.T, client *fakeVK) (*VKProvider, *store.Store) {
	t.Helper()
	st := openStore(t)
	return NewVK(client, st, VKOptions{Logger: quietLogger()}), st
}

func TestVK_ProcessCreatesSourceAndLinksNewPost(t *testing.T) {
	client := newFakeVK(vk.Group{ID: 1001, Name: "Go Community", ScreenName: "golang", Photo: "https://vk.com/p.jpg"})
	p, st := newTestVK(t, client)
	ctx := context.Background()

	upd := &VKUpdate{ID: 55, OwnerID: -1001, Date: time.Now().Unix(), Text: "Go 1.25 released"}
	n, err := p.Process(ctx, Envelope{VK: upd})
	if err != nil || n != 1 {
		t.Fatalf("process: n=%d err=%v", n, err)
	}
	n, err = p.Process(ctx, Envelope{VK: upd})
	if err != nil || n != 0 {
		t.Fatalf("duplicate: n=%d err=%v", n, err)
	}
	if client.lookups != 1 {
		t.Errorf("group lookups = %d, want 1", client.lookups)
	}

	recs := recordsOf(t, st, KindVK)
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	if recs[0].Record.ExternalLink != "https://vk.com/wall-1001_55" {
		t.Errorf("link = %q", recs[0].Record.ExternalLink)
	}
	src := recs[0].Source
	if src.Origin != "1001" || src.ExternalLink != "https://vk.com/golang" || src.Image != "https://vk.com/p.jpg" {
		t.Errorf("source = %+v", src)
	}
	if src.LastScrapeTime.IsZero() {
		t.Error("source was not marked scraped")
	}
}

func TestVK_ProcessUnknownGroup(t *testing.T) {
	p, _ := newTestVK(t, newFakeVK())

	_, err := p.Process(context.Background(), Envelope{VK: &VKUpdate{ID: 1, OwnerID: -7}})
	if !errors.Is(err, ErrSourceNotFound) {
		t.Fatalf("err = %v, want ErrSourceNotFound", err)
	}
}

func TestVK_ProcessRejectsForeignUpdate(t *testing.T) {
	p, _ := newTestVK(t, newFakeVK())

	_, err := p.Process(context.Background(), Envelope{Web: &FeedUpdate{}})
	if !errors.Is(err, ErrUpdateNotSupported) {
		t.Fatalf("err = %v, want ErrUpdateNotSupported", err)
	}
}

func TestVK_SynchronizeSkipsOldPinnedPost(t *testing.T) {
	client := newFakeVK(vk.Group{ID: 5, Name: "Ops"})
	now := time.Now()
	client.walls[-5] = []vk.WallItem{
		{ID: 1, OwnerID: -5, Date: now.Add(-72 * time.Hour).Unix(), Text: "rules", IsPinned: 1},
		{ID: 4, OwnerID: -5, Date: now.Add(-time.Hour).Unix(), Text: "fresh"},
		{ID: 3, OwnerID: -5, Date: now.Add(-2 * time.Hour).Unix(), Text: "recent"},
		{ID: 2, OwnerID: -5, Date: now.Add(-48 * time.Hour).Unix(), Text: "old"},
	}
	p, st := newTestVK(t, client)
	ctx := context.Background()

	if _, err := st.SaveSources(ctx, []store.NewSource{newVKSource(client.groups[5])}); err != nil {
		t.Fatalf("save source: %v", err)
	}
	if err := p.Synchronize(ctx, 24*time.Hour); err != nil {
		t.Fatalf("synchronize: %v", err)
	}

	recs := recordsOf(t, st, KindVK)
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	for _, r := range recs {
		if r.Record.Content != "fresh" && r.Record.Content != "recent" {
			t.Errorf("unexpected record %q", r.Record.Content)
		}
	}
}

func TestVK_SynchronizeTransportError(t *testing.T) {
	client := newFakeVK(vk.Group{ID: 5, Name: "Ops"})
	client.wallErr = errors.New("connection reset")
	p, st := newTestVK(t, client)
	ctx := context.Background()

	if _, err := st.SaveSources(ctx, []store.NewSource{newVKSource(client.groups[5])}); err != nil {
		t.Fatalf("save source: %v", err)
	}
	if err := p.Synchronize(ctx, time.Hour); !errors.Is(err, ErrTransport) {
		t.Fatalf("err = %v, want ErrTransport", err)
	}
}

func TestVK_ScrapeSendsWallPosts(t *testing.T) {
	client := newFakeVK(vk.Group{ID: 5, Name: "Ops"})
	client.walls[-5] = []vk.WallItem{
		{ID: 2, OwnerID: -5, Date: time.Now().Unix(), Text: "b"},
		{ID: 1, OwnerID: -5, Date: time.Now().Unix(), Text: "a"},
	}
	p, st := newTestVK(t, client)
	ctx := context.Background()
	if _, err := st.SaveSources(ctx, []store.NewSource{newVKSource(client.groups[5])}); err != nil {
		t.Fatalf("save source: %v", err)
	}

	sink := make(chan Envelope, 10)
	p.scrape(ctx, sink)
	close(sink)

	var ids []int64
	for env := range sink {
		if env.VK == nil {
			t.Fatalf("unexpected envelope %+v", env)
		}
		ids = append(ids, env.VK.ID)
	}
	if len(ids) != 2 || ids[0] != 2 || ids[1] != 1 {
		t.Errorf("ids = %v, want [2 1]", ids)
	}
}

func TestVK_ScrapeReportsErrors(t *testing.T) {
	client := newFakeVK(vk.Group{ID: 5, Name: "Ops"})
	client.wallErr = errors.New("boom")
	p, st := newTestVK(t, client)
	ctx := context.Background()
	if _, err := st.SaveSources(ctx, []store.NewSource{newVKSource(client.groups[5])}); err != nil {
		t.Fatalf("save source: %v", err)
	}

	sink := make(chan Envelope, 1)
	p.scrape(ctx, sink)

	env := receive(t, sink)
	if env.Kind() != KindVK || !errors.Is(env.Err, ErrTransport) {
		t.Errorf("envelope = %+v", env)
	}
}

func TestVK_Search(t *testing.T) {
	client := newFakeVK()
	client.found = []vk.Group{{ID: 10, Name: "Gophers", ScreenName: "gophers"}, {ID: 11, Name: "No Screen"}}
	p, _ := newTestVK(t, client)

	got, err := p.Search(context.Background(), "go")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d sources, want 2", len(got))
	}
	if got[0].ExternalLink != "https://vk.com/gophers" || got[1].ExternalLink != "https://vk.com/club11" {
		t.Errorf("links = %q, %q", got[0].ExternalLink, got[1].ExternalLink)
	}
}
