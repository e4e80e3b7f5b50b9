package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/feeder/internal/aggregator"
	"github.com/ppiankov/feeder/internal/source"
)

var (
	syncDepth string
	syncKind  string
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Backfill history of known sources",
	RunE:  syncAction,
}

func init() {
	syncCmd.Flags().StringVar(&syncDepth, "depth", "", "how far back to go (e.g. 72h, 7d); defaults to sync.depth")
	syncCmd.Flags().StringVar(&syncKind, "kind", "", "only this provider: web, telegram, vk")
}

func syncAction(cmd *cobra.Command, _ []string) error {
	kind, err := parseKindFlag(syncKind)
	if err != nil {
		return err
	}

	a, err := openApp(configDir)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	depth := a.cfg.Sync.Depth.Duration
	if syncDepth != "" {
		if depth, err = parseDuration(syncDepth); err != nil || depth <= 0 {
			return fmt.Errorf("invalid --depth %q", syncDepth)
		}
	}

	start := time.Now()
	err = a.withAggregator(commandContext(cmd.Context()), func(ctx context.Context, agg *aggregator.Aggregator) error {
		return agg.Synchronize(ctx, depth, kind)
	})
	if err != nil {
		if errors.Is(err, source.ErrSourceKindConflict) {
			return fmt.Errorf("%w (enable it in %s)", err, configDir)
		}
		return err
	}

	counts, err := a.store.Counts(commandContext(cmd.Context()))
	if err != nil {
		return err
	}
	fmt.Printf("Synchronized %s of history in %s (%d sources, %d records stored)\n",
		formatDays(depth), time.Since(start).Round(time.Millisecond), counts.Sources, counts.Records)
	return nil
}

// parseKindFlag returns nil for an empty flag.
func parseKindFlag(value string) (*source.Kind, error) {
	if value == "" {
		return nil, nil
	}
	k, err := source.ParseKind(value)
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// parseDuration handles both Go durations and "Nd" day notation.
func parseDuration(s string) (time.Duration, error) {
	if len(s) > 1 && s[len(s)-1] == 'd' {
		var days int
		if _, err := fmt.Sscanf(s, "%dd", &days); err == nil && days > 0 {
			return time.Duration(days) * 24 * time.Hour, nil
		}
	}
	return time.ParseDuration(s)
}

func formatDays(d time.Duration) string {
	hours := int(d.Hours())
	if hours >= 24 && hours%24 == 0 {
		return fmt.Sprintf("%d days", hours/24)
	}
	return d.String()
}
