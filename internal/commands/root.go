package commands

import (
	"github.com/spf13/cobra"
)

var (
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "stock-sync",
	Short: "Incremental A-share market data synchronization engine",
	Long: `An incremental synchronization and resumable batch engine for daily
market data over the Chinese A-share universe.

Features:
• Incremental daily bar sync with per-symbol window calculation
• Extended sync of valuations, fundamentals and corporate actions
• Resumable runs with per-entity progress tracking
• Calendar-driven gap detection and capped self-repair
• Quarterly bulk fundamentals import with fingerprint change detection
• Scheduled daemon mode with a REST control surface`,
	Version: "1.0.0",
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
