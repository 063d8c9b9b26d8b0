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
	qualityDate    string
	qualitySymbols string
)

var qualityCmd = &cobra.Command{
	Use:   "quality",
	Short: "Backfill derived fields across persisted history",
	Long: `Sample persisted series for bars whose derived fields (previous
close, change, amplitude, limit prices) were never computed, and
recompute them across the universe when the sample shows drift.

Pure local recomputation; nothing is fetched upstream.

Examples:
  stock-sync quality
  stock-sync quality --symbols 000001.SZ,600519.SH`,
	RunE: runQuality,
}

func init() {
	qualityCmd.Flags().StringVar(&qualityDate, "date", "", "Target date (YYYY-MM-DD, default today)")
	qualityCmd.Flags().StringVar(&qualitySymbols, "symbols", "", "Comma-separated symbols (default the whole universe)")

	rootCmd.AddCommand(qualityCmd)
}

func runQuality(cmd *cobra.Command, args []string) error {
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
	if qualityDate != "" {
		target, err := time.Parse(models.DateFormat, qualityDate)
		if err != nil {
			return fmt.Errorf("invalid --date %q, expected YYYY-MM-DD", qualityDate)
		}
		opts.TargetDate = target
	}
	if qualitySymbols != "" {
		for _, sym := range strings.Split(qualitySymbols, ",") {
			if sym = strings.TrimSpace(sym); sym != "" {
				opts.Symbols = append(opts.Symbols, sym)
			}
		}
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

	report, err := application.Orchestrator().BackfillQuality(cmd.Context(), opts)
	if err != nil {
		return fmt.Errorf("quality backfill failed: %w", err)
	}

	fmt.Printf("sampled %d, needing repair %d, processed %d, rows updated %d\n",
		report.Sampled, report.SampledNeeding, report.Processed, report.RowsUpdated)
	return nil
}
