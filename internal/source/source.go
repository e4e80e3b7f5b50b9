// Package source defines the providers that turn web feeds, Telegram channels
// and VK communities into stored records.
package source

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/feeder/internal/store"
)

// Kind identifies a provider family. Its string form is stored in sources.kind.
type Kind int

const (
	KindWeb Kind = iota + 1
	KindTelegram
	KindVK
)

// Kinds lists every known kind in routing order.
var Kinds = []Kind{KindWeb, KindTelegram, KindVK}

func (k Kind) String() string {
	switch k {
	case KindWeb:
		return "WEB"
	case KindTelegram:
		return "TELEGRAM"
	case KindVK:
		return "VK"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind accepts kind names case-insensitively.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "web", "rss":
		return KindWeb, nil
	case "telegram", "tg":
		return KindTelegram, nil
	case "vk":
		return KindVK, nil
	default:
		return 0, fmt.Errorf("unknown source kind %q", s)
	}
}

// Envelope carries exactly one provider update, or the error a provider hit
// while producing one.
type Envelope struct {
	Web      *FeedUpdate
	Telegram *TelegramUpdate
	VK       *VKUpdate
	// Source is the kind of the provider that failed when Err is set.
	Source Kind
	Err    error
}

// Kind reports which provider the envelope belongs to.
func (e Envelope) Kind() Kind {
	switch {
	case e.Web != nil:
		return KindWeb
	case e.Telegram != nil:
		return KindTelegram
	case e.VK != nil:
		return KindVK
	default:
		return e.Source
	}
}

// Provider is one source family plugged into the aggregator.
type Provider interface {
	Kind() Kind
	// Run starts background collection and returns immediately. Updates are
	// sent to sink until ctx is done.
	Run(ctx context.Context, sink chan<- Envelope)
	// Search discovers sources matching query and persists them.
	Search(ctx context.Context, query string) ([]store.Source, error)
	// Synchronize backfills records published within depth.
	Synchronize(ctx context.Context, depth time.Duration) error
	// Process stores one update and returns the number of new records.
	Process(ctx context.Context, env Envelope) (int, error)
}

// Storage is the persistence port used by providers.
type Storage interface {
	SaveSources(ctx context.Context, sources []store.NewSource) ([]store.Source, error)
	SearchSources(ctx context.Context, query string) ([]store.Source, error)
	GetExactSource(ctx context.Context, kind, origin string) (store.Source, bool, error)
	GetSourcesByKind(ctx context.Context, kind string) ([]store.Source, error)
	GetSourcesByKindForScrape(ctx context.Context, kind string, interval time.Duration) ([]store.Source, error)
	SetSourceScrapedNow(ctx context.Context, id int64) error

	SaveRecords(ctx context.Context, records []store.NewRecord) ([]store.Record, error)
	SetRecordExternalLink(ctx context.Context, sourceID int64, sourceRecordID, link string) (int64, error)

	SaveFiles(ctx context.Context, files []store.NewFile) error
	GetFileByRemoteID(ctx context.Context, remoteID string) (store.File, bool, error)
	SaveFile(ctx context.Context, f store.File) error
}

// State is the lifecycle of a provider listener.
type State int32

const (
	StateIdle State = iota
	StateListening
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Redactor masks content before it is stored.
type Redactor interface {
	Redact(text string) string
}

type noRedact struct{}

func (noRedact) Redact(text string) string { return text }

// send delivers env unless ctx ends first.
func send(ctx context.Context, sink chan<- Envelope, env Envelope) bool {
	select {
	case sink <- env:
		return true
	case <-ctx.Done():
		return false
	}
}

// pollEvery runs fn immediately and then every interval until ctx is done.
func pollEvery(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		fn(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
