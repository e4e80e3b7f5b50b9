package source

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ppiankov/feeder/internal/store"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "feeder.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func recordsOf(t *testing.T, st *store.Store, kind Kind) []store.RecordWithSource {
	t.Helper()
	recs, err := st.ListRecords(context.Background(), store.RecordFilter{Kind: kind.String()})
	if err != nil {
		t.Fatalf("list records: %v", err)
	}
	return recs
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{"web", KindWeb, false},
		{"RSS", KindWeb, false},
		{" telegram ", KindTelegram, false},
		{"tg", KindTelegram, false},
		{"VK", KindVK, false},
		{"mastodon", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseKind(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEnvelopeKind(t *testing.T) {
	tests := []struct {
		name string
		env  Envelope
		want Kind
	}{
		{"web", Envelope{Web: &FeedUpdate{}}, KindWeb},
		{"telegram", Envelope{Telegram: &TelegramUpdate{}}, KindTelegram},
		{"vk", Envelope{VK: &VKUpdate{}}, KindVK},
		{"error", Envelope{Source: KindVK, Err: ErrTransport}, KindVK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.env.Kind(); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStore_SatisfiesStorage(t *testing.T) {
	var _ Storage = openStore(t)
}
