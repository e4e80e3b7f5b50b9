// Package cli provides the command-line interface for feeder.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version and Commit are set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

// DefaultConfigDir is used when --config is not given.
const DefaultConfigDir = ".feeder"

var configDir string

var rootCmd = &cobra.Command{
	Use:   "feeder",
	Short: "Collect web feeds, Telegram channels and VK communities into one store",
	Long: "feeder listens to RSS/Atom feeds, Telegram channels and VK walls, " +
		"funnels their updates into one stream and stores them in sqlite.",
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("feeder %s (%s)\n", Version, Commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config", DefaultConfigDir, "config directory containing config.yaml")
	rootCmd.AddCommand(
		versionCmd,
		initCmd,
		doctorCmd,
		runCmd,
		searchCmd,
		syncCmd,
		recordsCmd,
		sourcesCmd,
	)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
