// Package history walks a chat's message history backward in small pages.
package history

import (
	"context"
	"errors"
	"iter"
	"math"
	"time"
)

// PageSize is the number of messages requested per round trip.
const PageSize = 10

// ErrDone is returned by Next once the cursor is exhausted.
var ErrDone = errors.New("history: no more pages")

// Fetcher loads up to limit messages strictly older than anchor, newest first.
// An empty result means the beginning of the history was reached.
type Fetcher[M any] interface {
	FetchPage(ctx context.Context, anchor int64, limit int) ([]M, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc[M any] func(ctx context.Context, anchor int64, limit int) ([]M, error)

func (f FetcherFunc[M]) FetchPage(ctx context.Context, anchor int64, limit int) ([]M, error) {
	return f(ctx, anchor, limit)
}

// Page is one step of the walk.
type Page[M any] struct {
	// Messages holds the page messages at or after the cutoff.
	Messages []M
	// Raw is the number of messages the fetcher returned before filtering.
	Raw int
	// Anchor is the smallest message id seen so far.
	Anchor int64
}

// Stale reports a page that had messages, all of them older than the cutoff.
func (p Page[M]) Stale() bool {
	return p.Raw > 0 && len(p.Messages) == 0
}

// Cursor is a lazy, single-use walk over history bounded by a cutoff.
// It is not safe for concurrent use.
type Cursor[M any] struct {
	fetcher Fetcher[M]
	cutoff  time.Time
	idOf    func(M) int64
	timeOf  func(M) time.Time

	anchor int64
	done   bool
}

// NewCursor creates a cursor positioned after the newest message.
func NewCursor[M any](fetcher Fetcher[M], cutoff time.Time, idOf func(M) int64, timeOf func(M) time.Time) *Cursor[M] {
	return &Cursor[M]{
		fetcher: fetcher,
		cutoff:  cutoff,
		idOf:    idOf,
		timeOf:  timeOf,
		anchor:  math.MaxInt64,
	}
}

// Anchor returns the current pagination anchor.
func (c *Cursor[M]) Anchor() int64 {
	return c.anchor
}

// Next fetches one page. It returns ErrDone once the history is exhausted.
// A fetch error is returned once and terminates the cursor.
func (c *Cursor[M]) Next(ctx context.Context) (Page[M], error) {
	if c.done {
		return Page[M]{}, ErrDone
	}

	raw, err := c.fetcher.FetchPage(ctx, c.anchor, PageSize)
	if err != nil {
		c.done = true
		return Page[M]{}, err
	}
	if len(raw) == 0 {
		c.done = true
		return Page[M]{}, ErrDone
	}

	kept := make([]M, 0, len(raw))
	for _, m := range raw {
		// The anchor follows the raw page so the walk advances even when
		// every message on it is filtered out.
		if id := c.idOf(m); id < c.anchor {
			c.anchor = id
		}
		if c.timeOf(m).Before(c.cutoff) {
			continue
		}
		kept = append(kept, m)
	}

	return Page[M]{Messages: kept, Raw: len(raw), Anchor: c.anchor}, nil
}

// Pages returns the remaining pages as a sequence. An error is yielded as
// the final element. Breaking out of the loop leaves the cursor where it
// stopped; iterating again continues from there.
func (c *Cursor[M]) Pages(ctx context.Context) iter.Seq2[Page[M], error] {
	return func(yield func(Page[M], error) bool) {
		for {
			page, err := c.Next(ctx)
			if errors.Is(err, ErrDone) {
				return
			}
			if err != nil {
				yield(Page[M]{}, err)
				return
			}
			if !yield(page, nil) {
				return
			}
		}
	}
}

// Messages flattens Pages until the first stale page.
func (c *Cursor[M]) Messages(ctx context.Context) iter.Seq2[M, error] {
	return func(yield func(M, error) bool) {
		for page, err := range c.Pages(ctx) {
			if err != nil {
				var zero M
				yield(zero, err)
				return
			}
			if page.Stale() {
				return
			}
			for _, m := range page.Messages {
				if !yield(m, nil) {
					return
				}
			}
		}
	}
}
