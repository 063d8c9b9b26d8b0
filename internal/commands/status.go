package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/stock-sync/internal/database"
	"github.com/stock-sync/pkg/config"
	"github.com/stock-sync/pkg/logger"
	"github.com/stock-sync/pkg/models"
)

var statusDate string

// statusCmd prints persisted sync progress
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show synchronization status",
	Long: `Show per-entity progress counts for a target date and the most
recent run summaries.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusDate, "date", "", "Target date (YYYY-MM-DD, default today)")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	target := models.Day(time.Now())
	if statusDate != "" {
		parsed, err := time.Parse(models.DateFormat, statusDate)
		if err != nil {
			return fmt.Errorf("invalid --date %q, expected YYYY-MM-DD", statusDate)
		}
		target = models.Day(parsed)
	}

	mysqlClient, err := database.NewMySQLClient(&cfg.MySQL, log)
	if err != nil {
		return fmt.Errorf("failed to connect to MySQL: %w", err)
	}
	defer mysqlClient.Close()

	ctx := cmd.Context()

	counts, err := mysqlClient.CountExtendedByStatus(ctx, models.SyncTypeExtended, target)
	if err != nil {
		return fmt.Errorf("failed to count sync statuses: %w", err)
	}

	fmt.Printf("Entity progress for %s:\n", target.Format(models.DateFormat))
	if len(counts) == 0 {
		fmt.Println("  no progress recorded")
	}
	for _, status := range []string{
		models.StatusPending,
		models.StatusProcessing,
		models.StatusPartial,
		models.StatusCompleted,
		models.StatusFailed,
	} {
		if n, ok := counts[status]; ok {
			fmt.Printf("  %-12s %d\n", status, n)
		}
	}

	summaries, err := mysqlClient.GetSummaries(ctx, 10)
	if err != nil {
		return fmt.Errorf("failed to get sync summaries: %w", err)
	}

	if len(summaries) > 0 {
		fmt.Println("\nRecent runs:")
		fmt.Printf("%-14s %-6s %-12s %-12s %-10s %s\n",
			"Symbol", "Freq", "Synced", "Data To", "Status", "Records")
		fmt.Println(strings.Repeat("-", 68))
		for _, s := range summaries {
			fmt.Printf("%-14s %-6s %-12s %-12s %-10s %d\n",
				s.Symbol,
				s.Frequency,
				s.LastSyncDate.Format(models.DateFormat),
				s.LastDataDate.Format(models.DateFormat),
				s.Status,
				s.TotalRecords)
		}
	}

	return nil
}
