package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/ppiankov/feeder/internal/aggregator"
	"github.com/ppiankov/feeder/internal/config"
	"github.com/ppiankov/feeder/internal/logging"
	"github.com/ppiankov/feeder/internal/metrics"
	"github.com/ppiankov/feeder/internal/privacy"
	"github.com/ppiankov/feeder/internal/source"
	"github.com/ppiankov/feeder/internal/store"
	"github.com/ppiankov/feeder/internal/telegram"
	"github.com/ppiankov/feeder/internal/vk"
)

// app holds what every command that touches providers needs.
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	store    *store.Store
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	redactor *privacy.Redactor
}

func openApp(dir string) (*app, error) {
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	var redactor *privacy.Redactor
	if cfg.Privacy.Redact.Enabled {
		if redactor, err = privacy.New(cfg.Privacy.Redact.Patterns); err != nil {
			return nil, err
		}
	}

	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &app{
		cfg:      cfg,
		log:      logging.New(os.Stderr, cfg.Logging.Level),
		store:    db,
		registry: reg,
		metrics:  metrics.New(reg),
		redactor: redactor,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// withAggregator builds the enabled providers and calls fn while their
// clients are connected. The Telegram client only serves requests inside its
// own run loop, so fn runs within it when Telegram is enabled.
func (a *app) withAggregator(ctx context.Context, fn func(context.Context, *aggregator.Aggregator) error) error {
	var web *source.WebProvider
	if a.cfg.Web.Enabled {
		web = source.NewWeb(a.store, source.WebOptions{
			PollInterval:   a.cfg.Web.PollInterval.Duration,
			ScrapeInterval: a.cfg.Web.ScrapeInterval.Duration,
			Logger:         a.log,
			Redactor:       a.redactor,
		})
	}

	var vkp *source.VKProvider
	if a.cfg.VK.Enabled {
		client, err := vk.New(vk.Options{
			Token:           a.cfg.VK.Token,
			Tick:            a.cfg.VK.Tick.Duration,
			RequestsPerTick: a.cfg.VK.MaxRequestsPerTick,
			Logger:          a.log,
			Metrics:         a.metrics,
		})
		if err != nil {
			return err
		}
		client.Run(ctx)
		vkp = source.NewVK(client, a.store, source.VKOptions{
			PollInterval:   a.cfg.VK.PollInterval.Duration,
			ScrapeInterval: a.cfg.VK.ScrapeInterval.Duration,
			Logger:         a.log,
			Redactor:       a.redactor,
		})
	}

	build := func(tg *source.TelegramProvider) *aggregator.Aggregator {
		b := aggregator.NewBuilder(a.store).WithLogger(a.log).WithMetrics(a.metrics)
		if web != nil {
			b.With(web)
		}
		if tg != nil {
			b.With(tg)
		}
		if vkp != nil {
			b.With(vkp)
		}
		return b.Build()
	}

	if !a.cfg.Telegram.Enabled {
		return fn(ctx, build(nil))
	}

	client, err := telegram.New(telegram.Config{
		APIID:      a.cfg.Telegram.APIID,
		APIHash:    a.cfg.Telegram.APIHash,
		Phone:      a.cfg.Telegram.Phone,
		SessionDir: a.cfg.Telegram.SessionDir,
	}, a.log)
	if err != nil {
		return err
	}
	return client.Run(ctx, func(ctx context.Context) error {
		tg, err := source.NewTelegram(client, a.store, source.TelegramOptions{
			FilesDirectory:           a.cfg.Telegram.FilesDirectory,
			MaxDownloadQueueSize:     a.cfg.Telegram.MaxDownloadQueueSize,
			LogDownloadStateInterval: a.cfg.Telegram.LogDownloadStateInterval.Duration,
			Logger:                   a.log,
			Metrics:                  a.metrics,
			Redactor:                 a.redactor,
		})
		if err != nil {
			return err
		}
		return fn(ctx, build(tg))
	})
}

func commandContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
