package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ppiankov/feeder/internal/config"
	"github.com/ppiankov/feeder/internal/digest"
	"github.com/ppiankov/feeder/internal/store"
)

const defaultRecordsSince = 24 * time.Hour

var (
	recordsSince  string
	recordsKind   string
	recordsLimit  uint64
	recordsFormat string
	noColor       bool
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Show recently stored records",
	RunE:  recordsAction,
}

func init() {
	recordsCmd.Flags().StringVar(&recordsSince, "since", "", "time window (e.g. 48h, 7d); 0 shows everything")
	recordsCmd.Flags().StringVar(&recordsKind, "kind", "", "only this provider: web, telegram, vk")
	recordsCmd.Flags().Uint64Var(&recordsLimit, "limit", 50, "maximum number of records")
	recordsCmd.Flags().StringVar(&recordsFormat, "format", "terminal", "output format: terminal, json, markdown")
	recordsCmd.Flags().BoolVar(&noColor, "no-color", false, "disable ANSI colors")
}

func recordsAction(cmd *cobra.Command, _ []string) error {
	kind, err := parseKindFlag(recordsKind)
	if err != nil {
		return err
	}

	since := defaultRecordsSince
	if recordsSince != "" {
		if since, err = parseDuration(recordsSince); err != nil || since < 0 {
			return fmt.Errorf("invalid --since %q", recordsSince)
		}
	}

	color := !noColor && recordsFormat == "terminal" && term.IsTerminal(int(os.Stdout.Fd()))
	formatter, err := digest.ForName(recordsFormat, color)
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

	ctx := commandContext(cmd.Context())
	filter := store.RecordFilter{Limit: recordsLimit}
	if kind != nil {
		filter.Kind = kind.String()
	}
	if since > 0 {
		filter.Since = time.Now().Add(-since)
	}

	records, err := db.ListRecords(ctx, filter)
	if err != nil {
		return err
	}
	counts, err := db.Counts(ctx)
	if err != nil {
		return err
	}

	return formatter.Format(os.Stdout, digest.Input{
		Records: records,
		Sources: counts.Sources,
		Since:   since,
	})
}
