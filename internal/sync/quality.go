package sync

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stock-sync/pkg/models"
)

// QualityReport aggregates one derived-field backfill pass.
type QualityReport struct {
	Sampled        int `json:"sampled"`
	SampledNeeding int `json:"sampled_needing"`
	Processed      int `json:"processed"`
	RowsUpdated    int `json:"rows_updated"`
}

// QualityBackfiller samples series for bars whose derived fields were
// never filled in and, when the sample shows drift, recomputes derived
// fields across the whole universe. Pure local recomputation, no network.
type QualityBackfiller struct {
	store  Store
	logger *logrus.Entry

	sampleSize   int
	batchSize    int
	historyStart time.Time
}

// NewQualityBackfiller creates a QualityBackfiller.
func NewQualityBackfiller(store Store, logger *logrus.Logger, sampleSize, batchSize int, historyStart time.Time) *QualityBackfiller {
	if sampleSize <= 0 {
		sampleSize = 10
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &QualityBackfiller{
		store:        store,
		logger:       logger.WithField("component", "quality-backfill"),
		sampleSize:   sampleSize,
		batchSize:    batchSize,
		historyStart: models.Day(historyStart),
	}
}

// Run samples, then backfills the full universe if the sample shows any
// series needing repair.
func (qb *QualityBackfiller) Run(ctx context.Context, stocks []*models.Stock, target time.Time) (*QualityReport, error) {
	report := &QualityReport{}
	if len(stocks) == 0 {
		return report, nil
	}

	sample := qb.sample(stocks)
	report.Sampled = len(sample)

	for _, stock := range sample {
		needs, err := qb.needsRepair(ctx, stock.Symbol, target)
		if err != nil {
			return report, err
		}
		if needs {
			report.SampledNeeding++
		}
	}

	if report.SampledNeeding == 0 {
		qb.logger.Debug("Sample clean, skipping quality backfill")
		return report, nil
	}

	estimated := len(stocks) * report.SampledNeeding / len(sample)
	qb.logger.WithFields(logrus.Fields{
		"sampled_needing": report.SampledNeeding,
		"estimated":       estimated,
	}).Info("Sample shows derived-field drift, backfilling universe")

	for _, stock := range stocks {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		updated, err := qb.backfillOne(ctx, stock.Symbol, target)
		if err != nil {
			qb.logger.WithError(err).WithField("symbol", stock.Symbol).Warn("Quality backfill failed for series")
			continue
		}
		report.Processed++
		report.RowsUpdated += updated
	}

	qb.logger.WithFields(logrus.Fields{
		"processed":    report.Processed,
		"rows_updated": report.RowsUpdated,
	}).Info("Quality backfill finished")

	return report, nil
}

// sample picks entities evenly across the universe.
func (qb *QualityBackfiller) sample(stocks []*models.Stock) []*models.Stock {
	if len(stocks) <= qb.sampleSize {
		return stocks
	}

	step := len(stocks) / qb.sampleSize
	out := make([]*models.Stock, 0, qb.sampleSize)
	for i := 0; i < qb.sampleSize; i++ {
		out = append(out, stocks[i*step])
	}
	return out
}

// needsRepair reports whether any bar past the first of the series lacks
// a previous close despite raw OHLC being present.
func (qb *QualityBackfiller) needsRepair(ctx context.Context, symbol string, target time.Time) (bool, error) {
	bars, err := qb.store.GetBars(ctx, symbol, "1d", qb.historyStart, target)
	if err != nil {
		return false, err
	}

	for i, b := range bars {
		if i == 0 {
			continue
		}
		if !b.HasDerived() && b.Close != 0 {
			return true, nil
		}
	}
	return false, nil
}

func (qb *QualityBackfiller) backfillOne(ctx context.Context, symbol string, target time.Time) (int, error) {
	bars, err := qb.store.GetBars(ctx, symbol, "1d", qb.historyStart, target)
	if err != nil {
		return 0, err
	}
	if len(bars) == 0 {
		return 0, nil
	}

	fields := RecomputeDerived(bars)
	if len(fields) == 0 {
		return 0, nil
	}

	// Batched updates bound write amplification on long histories.
	for offset := 0; offset < len(fields); offset += qb.batchSize {
		end := offset + qb.batchSize
		if end > len(fields) {
			end = len(fields)
		}
		if err := qb.store.UpdateDerivedFields(ctx, symbol, "1d", fields[offset:end]); err != nil {
			return 0, err
		}
	}

	return len(fields), nil
}
