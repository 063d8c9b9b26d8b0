package sync

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stock-sync/pkg/models"
)

// QuarterReport aggregates one quarterly-import pass.
type QuarterReport struct {
	Checked    int `json:"checked"`
	Imported   int `json:"imported"`
	Reimported int `json:"reimported"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

// QuarterImporter imports bulk quarterly fundamentals drops. Each
// quarter is fingerprinted upstream; an unchanged fingerprint skips the
// quarter, a changed one forces delete-and-reimport.
type QuarterImporter struct {
	store    Store
	provider Provider
	logger   *logrus.Entry
	lookback int
}

// NewQuarterImporter creates a QuarterImporter covering the last
// `lookback` reporting periods ending before the target date.
func NewQuarterImporter(store Store, provider Provider, logger *logrus.Logger, lookback int) *QuarterImporter {
	if lookback <= 0 {
		lookback = 4
	}
	return &QuarterImporter{
		store:    store,
		provider: provider,
		logger:   logger.WithField("component", "quarter-import"),
		lookback: lookback,
	}
}

// RecentPeriods lists the last n reporting periods whose end date falls
// before the target, newest first.
func RecentPeriods(target time.Time, n int) []models.ReportPeriod {
	year := target.Year()
	quarter := (int(target.Month())-1)/3 + 1

	// Step back to the latest period already ended.
	quarter--
	if quarter == 0 {
		year--
		quarter = 4
	}

	out := make([]models.ReportPeriod, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, models.ReportPeriod{Year: year, Quarter: quarter})
		quarter--
		if quarter == 0 {
			year--
			quarter = 4
		}
	}
	return out
}

// Run checks each recent quarter and imports what is new or changed.
func (qi *QuarterImporter) Run(ctx context.Context, target time.Time) (*QuarterReport, error) {
	report := &QuarterReport{}

	for _, period := range RecentPeriods(target, qi.lookback) {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++

		if err := qi.importOne(ctx, period, report); err != nil {
			report.Failed++
			qi.logger.WithError(err).WithFields(logrus.Fields{
				"year":    period.Year,
				"quarter": period.Quarter,
			}).Warn("Quarter import failed")
		}
	}

	return report, nil
}

func (qi *QuarterImporter) importOne(ctx context.Context, period models.ReportPeriod, report *QuarterReport) error {
	fingerprint, err := qi.provider.QuarterFingerprint(ctx, period)
	if err != nil {
		return err
	}

	progress, err := qi.store.GetQuarterProgress(ctx, period)
	if err != nil {
		return err
	}

	if progress != nil && !progress.CompletedAt.IsZero() && progress.SourceFingerprint == fingerprint {
		report.Skipped++
		return nil
	}

	reimport := progress != nil && !progress.CompletedAt.IsZero()
	if reimport {
		deleted, err := qi.store.DeleteQuarterFundamentals(ctx, period)
		if err != nil {
			return err
		}
		qi.logger.WithFields(logrus.Fields{
			"year":    period.Year,
			"quarter": period.Quarter,
			"deleted": deleted,
		}).Info("Quarter fingerprint changed, reimporting")
	}

	recs, err := qi.provider.FetchQuarterFundamentals(ctx, period)
	if err != nil {
		return err
	}

	valid := recs[:0]
	for _, r := range recs {
		if r.HasCoreIndicator() {
			valid = append(valid, r)
		}
	}

	if err := qi.store.UpsertFundamentals(ctx, valid); err != nil {
		return err
	}

	if err := qi.store.UpsertQuarterProgress(ctx, &models.QuarterProgress{
		Year:              period.Year,
		Quarter:           period.Quarter,
		CompletedAt:       time.Now(),
		RecordCount:       len(valid),
		SourceFingerprint: fingerprint,
	}); err != nil {
		return err
	}

	if reimport {
		report.Reimported++
	} else {
		report.Imported++
	}
	return nil
}
