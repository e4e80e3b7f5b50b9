package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ppiankov/feeder/internal/logging"
	"github.com/ppiankov/feeder/internal/metrics"
	"github.com/ppiankov/feeder/internal/source"
	"github.com/ppiankov/feeder/internal/store"
)

type fakeAggregator struct {
	found     []store.Source
	searchErr error
	syncErr   error

	query     string
	syncDepth time.Duration
	syncKind  *source.Kind
}

func (f *fakeAggregator) SearchSource(_ context.Context, query string) ([]store.Source, error) {
	f.query = query
	return f.found, f.searchErr
}

func (f *fakeAggregator) Synchronize(_ context.Context, depth time.Duration, kind *source.Kind) error {
	f.syncDepth = depth
	f.syncKind = kind
	return f.syncErr
}

type fakeReader struct {
	sources []store.Source
	records []store.RecordWithSource
	err     error

	kind   string
	filter store.RecordFilter
}

func (f *fakeReader) ListSources(_ context.Context, kind string) ([]store.Source, error) {
	f.kind = kind
	return f.sources, f.err
}

func (f *fakeReader) ListRecords(_ context.Context, filter store.RecordFilter) ([]store.RecordWithSource, error) {
	f.filter = filter
	return f.records, f.err
}

func newTestServer(agg *fakeAggregator, reader *fakeReader) *Server {
	return New(agg, reader, Options{
		SyncDepth: 72 * time.Hour,
		Gatherer:  prometheus.NewRegistry(),
		Logger:    logging.Discard(),
	})
}

func do(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestServer(&fakeAggregator{}, &fakeReader{}), http.MethodGet, "/health")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decode[map[string]string](t, rec); got["status"] != "ok" {
		t.Errorf("body = %v", got)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.RecordSaved("WEB", 2)

	s := New(&fakeAggregator{}, &fakeReader{}, Options{Gatherer: reg, Logger: logging.Discard()})
	rec := do(t, s, http.MethodGet, "/metrics")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `feeder_records_saved_total{kind="WEB"} 2`) {
		t.Errorf("metrics output missing counter:\n%s", rec.Body.String())
	}
}

func TestSources_Search(t *testing.T) {
	agg := &fakeAggregator{found: []store.Source{{ID: 7, Name: "Go Blog", Origin: "https://go.dev/blog/feed.atom", Kind: "WEB"}}}
	rec := do(t, newTestServer(agg, &fakeReader{}), http.MethodGet, "/api/v1/sources?q=go.dev")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if agg.query != "go.dev" {
		t.Errorf("query = %q", agg.query)
	}
	got := decode[[]sourceView](t, rec)
	if len(got) != 1 || got[0].ID != 7 || got[0].Kind != "WEB" {
		t.Errorf("sources = %+v", got)
	}
	if got[0].LastScrapeTime != nil {
		t.Errorf("zero scrape time should be omitted: %v", got[0].LastScrapeTime)
	}
}

func TestSources_ListByKind(t *testing.T) {
	reader := &fakeReader{sources: []store.Source{{ID: 1, Kind: "VK"}}}
	rec := do(t, newTestServer(&fakeAggregator{}, reader), http.MethodGet, "/api/v1/sources?kind=vk")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if reader.kind != "VK" {
		t.Errorf("kind = %q, want VK", reader.kind)
	}
}

func TestSources_EmptyListIsArray(t *testing.T) {
	rec := do(t, newTestServer(&fakeAggregator{}, &fakeReader{}), http.MethodGet, "/api/v1/sources")

	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Errorf("body = %q, want []", body)
	}
}

func TestSync_DefaultsAndParams(t *testing.T) {
	agg := &fakeAggregator{}
	s := newTestServer(agg, &fakeReader{})

	rec := do(t, s, http.MethodPost, "/api/v1/sync")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if agg.syncDepth != 72*time.Hour || agg.syncKind != nil {
		t.Errorf("depth=%v kind=%v", agg.syncDepth, agg.syncKind)
	}

	rec = do(t, s, http.MethodPost, "/api/v1/sync?depth=2h&kind=tg")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if agg.syncDepth != 2*time.Hour || agg.syncKind == nil || *agg.syncKind != source.KindTelegram {
		t.Errorf("depth=%v kind=%v", agg.syncDepth, agg.syncKind)
	}
}

func TestSync_MethodNotAllowed(t *testing.T) {
	rec := do(t, newTestServer(&fakeAggregator{}, &fakeReader{}), http.MethodGet, "/api/v1/sync")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestBadParams(t *testing.T) {
	tests := []struct {
		method string
		target string
	}{
		{http.MethodPost, "/api/v1/sync?depth=soon"},
		{http.MethodPost, "/api/v1/sync?depth=-1h"},
		{http.MethodPost, "/api/v1/sync?kind=myspace"},
		{http.MethodGet, "/api/v1/records?since=yesterday"},
		{http.MethodGet, "/api/v1/records?limit=0"},
		{http.MethodGet, "/api/v1/sources?kind=fax"},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rec := do(t, newTestServer(&fakeAggregator{}, &fakeReader{}), tt.method, tt.target)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			if got := decode[errorBody](t, rec); got.Error == "" {
				t.Error("missing error message")
			}
		})
	}
}

func TestErrorStatusMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("synchronize TELEGRAM: %w", source.ErrSourceKindConflict), http.StatusConflict},
		{fmt.Errorf("group 5: %w", source.ErrSourceNotFound), http.StatusNotFound},
		{source.ErrUpdateNotSupported, http.StatusUnprocessableEntity},
		{fmt.Errorf("search VK: %w: timeout", source.ErrTransport), http.StatusBadGateway},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			agg := &fakeAggregator{syncErr: tt.err}
			rec := do(t, newTestServer(agg, &fakeReader{}), http.MethodPost, "/api/v1/sync")

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if got := decode[errorBody](t, rec); got.Error != tt.err.Error() {
				t.Errorf("error = %q", got.Error)
			}
		})
	}
}

func TestRecords_Filters(t *testing.T) {
	date := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reader := &fakeReader{records: []store.RecordWithSource{{
		Record: store.Record{ID: 3, Title: "hello", SourceRecordID: "42", Content: "body", Date: date, ExternalLink: "https://vk.com/wall-1_42"},
		Source: store.Source{ID: 1, Name: "group", Kind: "VK"},
	}}}
	s := newTestServer(&fakeAggregator{}, reader)

	before := time.Now()
	rec := do(t, s, http.MethodGet, "/api/v1/records?since=24h&kind=vk&limit=5000")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	if reader.filter.Kind != "VK" || reader.filter.Limit != maxRecordLimit {
		t.Errorf("filter = %+v", reader.filter)
	}
	wantSince := before.Add(-24 * time.Hour)
	if d := reader.filter.Since.Sub(wantSince); d < -time.Second || d > time.Second {
		t.Errorf("since = %v, want about %v", reader.filter.Since, wantSince)
	}

	got := decode[[]recordView](t, rec)
	if len(got) != 1 || got[0].ExternalLink != "https://vk.com/wall-1_42" || got[0].Source.Name != "group" {
		t.Fatalf("records = %+v", got)
	}
	if !got[0].Date.Equal(date) {
		t.Errorf("date = %v", got[0].Date)
	}
}

func TestRecords_DefaultLimit(t *testing.T) {
	reader := &fakeReader{}
	do(t, newTestServer(&fakeAggregator{}, reader), http.MethodGet, "/api/v1/records")

	if reader.filter.Limit != defaultRecordLimit || !reader.filter.Since.IsZero() || reader.filter.Kind != "" {
		t.Errorf("filter = %+v", reader.filter)
	}
}

func TestListenAndServe_StopsOnCancel(t *testing.T) {
	s := newTestServer(&fakeAggregator{}, &fakeReader{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, "127.0.0.1:0") }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("ListenAndServe: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}
