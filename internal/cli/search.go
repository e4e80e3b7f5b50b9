package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/feeder/internal/aggregator"
	"github.com/ppiankov/feeder/internal/store"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Find sources in every enabled provider and remember them",
	Long: "search asks every enabled provider for sources matching the query " +
		"(a feed or site URL, a channel name, a community name), stores what " +
		"it finds and prints it together with already stored matches.",
	Args: cobra.MinimumNArgs(1),
	RunE: searchAction,
}

func searchAction(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")

	a, err := openApp(configDir)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	var found []store.Source
	err = a.withAggregator(commandContext(cmd.Context()), func(ctx context.Context, agg *aggregator.Aggregator) error {
		found, err = agg.SearchSource(ctx, query)
		return err
	})
	if err != nil {
		return fmt.Errorf("search %q: %w", query, err)
	}

	if len(found) == 0 {
		fmt.Printf("No sources found for %q.\n", query)
		return nil
	}
	fmt.Printf("Found %d sources for %q:\n\n", len(found), query)
	printSources(found)
	return nil
}
