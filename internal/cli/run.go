package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/feeder/internal/aggregator"
	"github.com/ppiankov/feeder/internal/server"
)

var (
	runSync bool
	runAddr string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Listen to every enabled provider and store their updates",
	RunE:  runAction,
}

func init() {
	runCmd.Flags().BoolVar(&runSync, "sync", false, "synchronize history before listening (overrides sync.on_start)")
	runCmd.Flags().StringVar(&runAddr, "http", "", "HTTP API listen address (overrides http.addr)")
}

func runAction(cmd *cobra.Command, _ []string) error {
	a, err := openApp(configDir)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	ctx, stop := signal.NotifyContext(commandContext(cmd.Context()), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pruned, err := a.store.PruneOld(ctx, a.cfg.Storage.RetainDays)
	if err != nil {
		return fmt.Errorf("prune old: %w", err)
	}
	if pruned > 0 {
		a.log.Info("pruned old records", "count", pruned, "retain_days", a.cfg.Storage.RetainDays)
	}

	addr := a.cfg.HTTP.Addr
	if runAddr != "" {
		addr = runAddr
	}
	syncOnStart := a.cfg.Sync.OnStart || runSync

	err = a.withAggregator(ctx, func(ctx context.Context, agg *aggregator.Aggregator) error {
		return serve(ctx, a, agg, addr, syncOnStart)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// serve runs the aggregator loop and the optional HTTP API until ctx is done.
// A failed initial synchronization is logged; listening goes on.
func serve(ctx context.Context, a *app, agg *aggregator.Aggregator, addr string, syncOnStart bool) error {
	g, ctx := errgroup.WithContext(ctx)

	if addr != "" {
		srv := server.New(agg, a.store, server.Options{
			SyncDepth: a.cfg.Sync.Depth.Duration,
			Gatherer:  a.registry,
			Logger:    a.log,
		})
		g.Go(func() error {
			return srv.ListenAndServe(ctx, addr)
		})
	}

	if syncOnStart {
		g.Go(func() error {
			if err := agg.Synchronize(ctx, a.cfg.Sync.Depth.Duration, nil); err != nil {
				a.log.Error("initial synchronize", "error", err)
			} else {
				a.log.Info("initial synchronize done", "depth", a.cfg.Sync.Depth.Duration)
			}
			return nil
		})
	}

	g.Go(func() error {
		agg.Run(ctx)
		return nil
	})
	return g.Wait()
}
