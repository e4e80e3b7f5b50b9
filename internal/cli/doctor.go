package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/feeder/internal/config"
	"github.com/ppiankov/feeder/internal/source"
	"github.com/ppiankov/feeder/internal/store"
)

// staleAfter marks a source as stale in the doctor report.
const staleAfter = 7 * 24 * time.Hour

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration, storage and provider credentials",
	RunE:  doctorAction,
}

func doctorAction(cmd *cobra.Command, _ []string) error {
	ok := true

	// Config dir
	if info, err := os.Stat(configDir); err != nil || !info.IsDir() {
		printCheck(false, "config directory %s", configDir)
		ok = false
	} else {
		printCheck(true, "config directory %s", configDir)
	}

	// Config file
	cfg, err := config.Load(configDir)
	if err != nil {
		printCheck(false, "config.yaml: %v", err)
		return fmt.Errorf("some checks failed")
	}
	printCheck(true, "config.yaml (providers: %s)", enabledProviders(cfg))

	// Database
	ctx := commandContext(cmd.Context())
	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		printCheck(false, "database: %v", err)
		ok = false
	} else {
		defer func() { _ = db.Close() }()
		counts, err := db.Counts(ctx)
		if err != nil {
			printCheck(false, "database %s: %v", cfg.Storage.Path, err)
			ok = false
		} else {
			printCheck(true, "database %s (%d sources, %d records, %d files)",
				cfg.Storage.Path, counts.Sources, counts.Records, counts.Files)
		}
	}

	if cfg.Telegram.Enabled {
		sessionFile := filepath.Join(cfg.Telegram.SessionDir, "session.json")
		if _, err := os.Stat(sessionFile); err != nil {
			printCheck(false, "telegram session (run `feeder sync --kind telegram` in a terminal to log in)")
			ok = false
		} else {
			printCheck(true, "telegram session %s", sessionFile)
		}
		if err := checkWritable(cfg.Telegram.FilesDirectory); err != nil {
			printCheck(false, "telegram files directory: %v", err)
			ok = false
		} else {
			printCheck(true, "telegram files directory %s", cfg.Telegram.FilesDirectory)
		}
	}
	if cfg.VK.Enabled {
		printCheck(true, "vk token from %s", cfg.VK.TokenEnv)
	}

	if db != nil {
		checkSourceHealth(ctx, db)
	}

	if !ok {
		return fmt.Errorf("some checks failed")
	}
	fmt.Println("\nAll checks passed.")
	return nil
}

func enabledProviders(cfg *config.Config) string {
	var out string
	add := func(on bool, k source.Kind) {
		if !on {
			return
		}
		if out != "" {
			out += ", "
		}
		out += k.String()
	}
	add(cfg.Web.Enabled, source.KindWeb)
	add(cfg.Telegram.Enabled, source.KindTelegram)
	add(cfg.VK.Enabled, source.KindVK)
	return out
}

func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

// checkSourceHealth reports polled sources that have not been scraped for a
// while. Informational only.
func checkSourceHealth(ctx context.Context, db *store.Store) {
	sources, err := db.ListSources(ctx, "")
	if err != nil || len(sources) == 0 {
		return
	}

	threshold := time.Now().Add(-staleAfter)
	printed := false
	for _, s := range sources {
		if s.Kind == source.KindTelegram.String() || s.LastScrapeTime.IsZero() || s.LastScrapeTime.After(threshold) {
			continue
		}
		if !printed {
			fmt.Println()
			printed = true
		}
		daysAgo := int(time.Since(s.LastScrapeTime).Hours() / 24)
		printInfo("stale: %s %s, last scraped %d days ago", s.Kind, s.Name, daysAgo)
	}
}

func printCheck(pass bool, format string, args ...any) {
	mark := "FAIL"
	if pass {
		mark = " OK "
	}
	fmt.Printf("[%s] %s\n", mark, fmt.Sprintf(format, args...))
}

func printInfo(format string, args ...any) {
	fmt.Printf("[INFO] %s\n", fmt.Sprintf(format, args...))
}
