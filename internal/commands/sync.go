package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/stock-sync/internal/app"
	enginesync "github.com/stock-sync/internal/sync"
	"github.com/stock-sync/pkg/config"
	"github.com/stock-sync/pkg/lock"
	"github.com/stock-sync/pkg/logger"
	"github.com/stock-sync/pkg/models"
)

var (
	syncDate      string
	syncSymbols   string
	syncFrequency string
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one full synchronization pass",
	Long: `Run one full synchronization pass: universe refresh, primary bar
sync, extended sync, gap repair and validation.

A run interrupted mid-way resumes from its persisted progress on the
next invocation for the same target date.

Examples:
  # Sync everything up to today
  stock-sync sync

  # Sync up to a specific date
  stock-sync sync --date 2026-08-21

  # Sync a subset of the universe
  stock-sync sync --symbols 000001.SZ,600519.SH`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().StringVar(&syncDate, "date", "", "Target date (YYYY-MM-DD, default today)")
	syncCmd.Flags().StringVar(&syncSymbols, "symbols", "", "Comma-separated symbols (default the whole universe)")
	syncCmd.Flags().StringVar(&syncFrequency, "frequency", "", "Bar frequency (default from config)")

	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	opts := enginesync.Options{}
	if syncDate != "" {
		target, err := time.Parse(models.DateFormat, syncDate)
		if err != nil {
			return fmt.Errorf("invalid --date %q, expected YYYY-MM-DD", syncDate)
		}
		opts.TargetDate = target
	}
	if syncSymbols != "" {
		for _, sym := range strings.Split(syncSymbols, ",") {
			if sym = strings.TrimSpace(sym); sym != "" {
				opts.Symbols = append(opts.Symbols, sym)
			}
		}
	}
	if syncFrequency != "" {
		opts.Frequencies = []string{syncFrequency}
	}

	fileLock := lock.New(cfg.Sync.LockFile)
	if err := fileLock.Acquire(); err != nil {
		return fmt.Errorf("another sync is already running: %w", err)
	}
	defer fileLock.Release()

	application := app.New(cfg, log)
	if err := application.Initialize(); err != nil {
		return err
	}
	defer application.Stop()

	report, err := application.Orchestrator().Run(cmd.Context(), opts)
	if err != nil {
		return fmt.Errorf("sync run failed: %w", err)
	}

	fmt.Print(report.Text())

	if !report.Succeeded() {
		return fmt.Errorf("%d phase(s) failed", report.Summary.FailedPhases)
	}
	return nil
}
