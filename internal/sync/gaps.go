package sync

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stock-sync/pkg/models"
)

// GapReport aggregates one detection-and-repair pass.
type GapReport struct {
	Scanned  int `json:"scanned"`
	Detected int `json:"detected"`
	Repaired int `json:"repaired"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`
}

// GapScanner detects missing trading dates against the calendar and
// re-fetches a capped number of gaps per run.
type GapScanner struct {
	store    Store
	provider Provider
	cache    Cache
	events   Events
	logger   *logrus.Entry

	lookbackDays int
	maxFixes     int
	defaultStart time.Time
}

// NewGapScanner creates a GapScanner.
func NewGapScanner(store Store, provider Provider, cache Cache, events Events, logger *logrus.Logger, lookbackDays, maxFixes int, defaultStart time.Time) *GapScanner {
	return &GapScanner{
		store:        store,
		provider:     provider,
		cache:        cache,
		events:       events,
		logger:       logger.WithField("component", "gap-scanner"),
		lookbackDays: lookbackDays,
		maxFixes:     maxFixes,
		defaultStart: models.Day(defaultStart),
	}
}

// CoalesceGaps computes expected − persisted and merges adjacent missing
// dates into maximal contiguous runs. Adjacency means consecutive in the
// expected sequence, not consecutive calendar days.
func CoalesceGaps(symbol, frequency string, expected, persisted []time.Time) []models.Gap {
	have := make(map[time.Time]bool, len(persisted))
	for _, d := range persisted {
		have[models.Day(d)] = true
	}

	var gaps []models.Gap
	var open *models.Gap

	for _, d := range expected {
		d = models.Day(d)
		if have[d] {
			if open != nil {
				gaps = append(gaps, *open)
				open = nil
			}
			continue
		}
		if open == nil {
			open = &models.Gap{Symbol: symbol, Frequency: frequency, Start: d, End: d}
		} else {
			open.End = d
		}
	}
	if open != nil {
		gaps = append(gaps, *open)
	}

	return gaps
}

// Detect returns the gaps for one series over [start, end], bounded by
// the stock's listing window. The delisting date itself is excluded,
// commonly not a tradable day.
func (gs *GapScanner) Detect(ctx context.Context, stock *models.Stock, frequency string, start, end time.Time) ([]models.Gap, error) {
	if !stock.ListDate.IsZero() && stock.ListDate.After(start) {
		start = models.Day(stock.ListDate)
	}
	if !stock.DelistDate.IsZero() {
		lastTradable := models.Day(stock.DelistDate).AddDate(0, 0, -1)
		if lastTradable.Before(end) {
			end = lastTradable
		}
	}
	if start.After(end) {
		return nil, nil
	}

	expected, err := gs.tradingDays(ctx, stock.Market, start, end)
	if err != nil {
		return nil, err
	}
	if len(expected) == 0 {
		return nil, nil
	}

	persisted, err := gs.store.BarDates(ctx, stock.Symbol, frequency, start, end)
	if err != nil {
		return nil, err
	}

	return CoalesceGaps(stock.Symbol, frequency, expected, persisted), nil
}

// DetectHead finds the head-of-history hole: the series starts later than
// the configured default start even though trading days exist in between.
// The window is clipped at `before` so it never overlaps the lookback scan.
func (gs *GapScanner) DetectHead(ctx context.Context, stock *models.Stock, frequency string, before time.Time) ([]models.Gap, error) {
	earliest, err := gs.store.MinBarDate(ctx, stock.Symbol, frequency)
	if err != nil {
		return nil, err
	}
	if earliest.IsZero() || !earliest.After(gs.defaultStart) {
		return nil, nil
	}

	end := earliest.AddDate(0, 0, -1)
	if cut := models.Day(before).AddDate(0, 0, -1); cut.Before(end) {
		end = cut
	}
	return gs.Detect(ctx, stock, frequency, gs.defaultStart, end)
}

// Run scans every stock over the lookback window and repairs up to
// maxFixes gaps. A low repair rate is informational, not an error:
// halts and fresh listings produce legitimate holes.
func (gs *GapScanner) Run(ctx context.Context, sessionID string, stocks []*models.Stock, frequency string, target time.Time) (*GapReport, error) {
	report := &GapReport{}
	start := models.Day(target).AddDate(0, 0, -gs.lookbackDays)

	var all []models.Gap
	for _, stock := range stocks {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Scanned++

		gaps, err := gs.Detect(ctx, stock, frequency, start, target)
		if err != nil {
			return report, err
		}
		all = append(all, gaps...)

		head, err := gs.DetectHead(ctx, stock, frequency, start)
		if err != nil {
			return report, err
		}
		all = append(all, head...)
	}
	report.Detected = len(all)

	fixes := all
	if len(fixes) > gs.maxFixes {
		fixes = fixes[:gs.maxFixes]
	}

	stockBySymbol := make(map[string]*models.Stock, len(stocks))
	for _, s := range stocks {
		stockBySymbol[s.Symbol] = s
	}

	for i := range fixes {
		gap := &fixes[i]

		stock := stockBySymbol[gap.Symbol]
		if stock != nil && !stock.ListDate.IsZero() && gap.Start.Before(stock.ListDate) {
			report.Skipped++
			continue
		}

		if err := gs.repair(ctx, sessionID, gap, frequency); err != nil {
			report.Failed++
			gs.logger.WithError(err).WithFields(logrus.Fields{
				"symbol": gap.Symbol,
				"start":  gap.Start.Format(models.DateFormat),
				"end":    gap.End.Format(models.DateFormat),
			}).Warn("Gap repair failed")
			continue
		}
		report.Repaired++
	}

	if report.Detected > 0 && report.Repaired < report.Detected/2 {
		gs.logger.WithFields(logrus.Fields{
			"detected": report.Detected,
			"repaired": report.Repaired,
			"skipped":  report.Skipped,
		}).Info("Low gap repair rate, most remaining gaps are likely halts or new listings")
	}

	return report, nil
}

func (gs *GapScanner) repair(ctx context.Context, sessionID string, gap *models.Gap, frequency string) error {
	bars, err := gs.provider.FetchDaily(ctx, gap.Symbol, gap.Start, gap.End)
	if err != nil {
		return err
	}
	if len(bars) == 0 {
		return nil
	}

	seed, err := gs.seedClose(ctx, gap.Symbol, frequency, gap.Start)
	if err != nil {
		return err
	}
	ApplyDerived(bars, seed)

	if err := gs.store.UpsertBars(ctx, bars); err != nil {
		return err
	}

	gs.cache.InvalidateLastDataDate(ctx, gap.Symbol, frequency)
	gs.events.PublishGapRepaired(sessionID, gap)
	return nil
}

func (gs *GapScanner) seedClose(ctx context.Context, symbol, frequency string, before time.Time) (*float64, error) {
	bars, err := gs.store.GetBars(ctx, symbol, frequency, before.AddDate(0, 0, -30), before.AddDate(0, 0, -1))
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, nil
	}
	c := bars[len(bars)-1].Close
	return &c, nil
}

func (gs *GapScanner) tradingDays(ctx context.Context, market string, start, end time.Time) ([]time.Time, error) {
	if days, ok := gs.cache.GetTradingDays(ctx, market, start, end); ok {
		return days, nil
	}

	days, err := gs.store.GetTradingDays(ctx, market, start, end)
	if err != nil {
		return nil, err
	}
	if len(days) > 0 {
		gs.cache.SetTradingDays(ctx, market, start, end, days)
	}
	return days, nil
}
