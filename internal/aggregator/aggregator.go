// Package aggregator fans updates of all enabled providers into one stream
// and routes each update back to the provider that owns its kind.
package aggregator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/feeder/internal/metrics"
	"github.com/ppiankov/feeder/internal/source"
	"github.com/ppiankov/feeder/internal/store"
)

// Capacity is the size of the fan-in channel.
const Capacity = 2000

// Searcher finds stored sources. It is the part of the storage the
// aggregator reads itself.
type Searcher interface {
	SearchSources(ctx context.Context, query string) ([]store.Source, error)
}

// Aggregator routes provider updates to storage and fans search and
// synchronize requests out to every enabled provider.
type Aggregator struct {
	storage   Searcher
	providers []source.Provider
	log       *slog.Logger
	metrics   *metrics.Metrics
}

// Builder collects providers. Provider order is the order errors are
// reported in.
type Builder struct {
	storage   Searcher
	providers []source.Provider
	log       *slog.Logger
	metrics   *metrics.Metrics
}

// NewBuilder creates a builder reading stored sources from storage.
func NewBuilder(storage Searcher) *Builder {
	return &Builder{storage: storage}
}

// With appends a provider.
func (b *Builder) With(p source.Provider) *Builder {
	b.providers = append(b.providers, p)
	return b
}

func (b *Builder) WithLogger(log *slog.Logger) *Builder {
	b.log = log
	return b
}

func (b *Builder) WithMetrics(m *metrics.Metrics) *Builder {
	b.metrics = m
	return b
}

// Build creates the aggregator. The builder can be reused afterwards.
func (b *Builder) Build() *Aggregator {
	log := b.log
	if log == nil {
		log = slog.Default()
	}
	return &Aggregator{
		storage:   b.storage,
		providers: append([]source.Provider(nil), b.providers...),
		log:       log.With("component", "aggregator"),
		metrics:   b.metrics,
	}
}

// Kinds lists the enabled kinds in provider order.
func (a *Aggregator) Kinds() []source.Kind {
	kinds := make([]source.Kind, 0, len(a.providers))
	for _, p := range a.providers {
		kinds = append(kinds, p.Kind())
	}
	return kinds
}

func (a *Aggregator) provider(kind source.Kind) (source.Provider, bool) {
	for _, p := range a.providers {
		if p.Kind() == kind {
			return p, true
		}
	}
	return nil, false
}

// Run starts every provider and processes their updates until ctx is done.
// A failing update is logged and never stops the loop.
func (a *Aggregator) Run(ctx context.Context) {
	sink := make(chan source.Envelope, Capacity)
	for _, p := range a.providers {
		p.Run(ctx, sink)
	}
	a.log.Info("aggregator started", "providers", len(a.providers))

	for {
		select {
		case <-ctx.Done():
			a.log.Info("aggregator stopped")
			return
		case env := <-sink:
			a.metrics.SetFanIn(len(sink))
			a.handle(ctx, env)
		}
	}
}

func (a *Aggregator) handle(ctx context.Context, env source.Envelope) {
	kind := env.Kind()
	if env.Err != nil {
		a.log.Warn("provider reported error", "kind", kind, "error", env.Err)
		a.metrics.RecordUpdate(kind.String(), metrics.OutcomeFailed)
		return
	}

	p, ok := a.provider(kind)
	if !ok {
		a.log.Debug("update for disabled kind", "kind", kind)
		a.metrics.RecordUpdate(kind.String(), metrics.OutcomeDropped)
		return
	}

	n, err := p.Process(ctx, env)
	if err != nil {
		a.log.Error("process update", "kind", kind, "error", err)
		a.metrics.RecordUpdate(kind.String(), metrics.OutcomeFailed)
		return
	}
	a.log.Debug("update processed", "kind", kind, "saved", n)
	a.metrics.RecordUpdate(kind.String(), metrics.OutcomeProcessed)
	a.metrics.RecordSaved(kind.String(), n)
}

// SearchSource asks every provider in parallel, then adds stored matches.
// Every provider search runs to completion; any error then fails the whole
// search and the first one in provider order is returned. Results are unique
// by id; the first occurrence wins.
func (a *Aggregator) SearchSource(ctx context.Context, query string) ([]store.Source, error) {
	results := make([][]store.Source, len(a.providers))
	errs := make([]error, len(a.providers))

	var g errgroup.Group
	for i, p := range a.providers {
		g.Go(func() error {
			found, err := p.Search(ctx, query)
			if err != nil {
				a.metrics.RecordProviderError(p.Kind().String(), "search")
				errs[i] = fmt.Errorf("search %s: %w", p.Kind(), err)
				return nil
			}
			results[i] = found
			return nil
		})
	}
	_ = g.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	stored, err := a.storage.SearchSources(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search stored sources: %w: %w", source.ErrStorage, err)
	}
	results = append(results, stored)

	seen := make(map[int64]bool)
	var out []store.Source
	for _, batch := range results {
		for _, s := range batch {
			if seen[s.ID] {
				continue
			}
			seen[s.ID] = true
			out = append(out, s)
		}
	}
	return out, nil
}

// Synchronize backfills every provider, or only the one serving kind. All
// started providers run to completion; the first error in provider order
// is returned.
func (a *Aggregator) Synchronize(ctx context.Context, depth time.Duration, kind *source.Kind) error {
	targets := a.providers
	if kind != nil {
		p, ok := a.provider(*kind)
		if !ok {
			return fmt.Errorf("synchronize %s: %w", *kind, source.ErrSourceKindConflict)
		}
		targets = []source.Provider{p}
	}

	errs := make([]error, len(targets))
	var g errgroup.Group
	for i, p := range targets {
		g.Go(func() error {
			start := time.Now()
			err := p.Synchronize(ctx, depth)
			a.metrics.ObserveSync(p.Kind().String(), time.Since(start))
			if err != nil {
				a.metrics.RecordProviderError(p.Kind().String(), "synchronize")
				errs[i] = fmt.Errorf("synchronize %s: %w", p.Kind(), err)
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
