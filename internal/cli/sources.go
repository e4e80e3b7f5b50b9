package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ppiankov/feeder/internal/config"
	"github.com/ppiankov/feeder/internal/store"
)

var sourcesKind string

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List stored sources",
	RunE:  sourcesAction,
}

func init() {
	sourcesCmd.Flags().StringVar(&sourcesKind, "kind", "", "only this provider: web, telegram, vk")
}

func sourcesAction(cmd *cobra.Command, _ []string) error {
	kind, err := parseKindFlag(sourcesKind)
	if err != nil {
		return err
	}

	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = db.Close() }()

	var kindName string
	if kind != nil {
		kindName = kind.String()
	}
	sources, err := db.ListSources(commandContext(cmd.Context()), kindName)
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		fmt.Println("No sources stored yet. Use `feeder search` to add some.")
		return nil
	}
	printSources(sources)
	return nil
}

func printSources(sources []store.Source) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tNAME\tORIGIN\tLAST SCRAPE")
	for _, s := range sources {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", s.ID, s.Kind, s.Name, s.Origin, lastScrape(s.LastScrapeTime))
	}
	_ = tw.Flush()
}

func lastScrape(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}
