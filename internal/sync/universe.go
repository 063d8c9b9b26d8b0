package sync

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stock-sync/pkg/models"
)

const calendarMarket = "CN"

// calendarHorizon is how far past the target the calendar is kept
// populated, so gap detection near the target never runs off the end.
const calendarHorizon = 90 * 24 * time.Hour

// UniverseRefresher keeps the stock list and the trading calendar
// current. The stock list is skipped when it was refreshed within the
// configured max age.
type UniverseRefresher struct {
	store    Store
	provider Provider
	cache    Cache
	logger   *logrus.Entry

	maxAge       time.Duration
	defaultStart time.Time
	now          func() time.Time
}

// NewUniverseRefresher creates a UniverseRefresher.
func NewUniverseRefresher(store Store, provider Provider, cache Cache, logger *logrus.Logger, maxAge time.Duration, defaultStart time.Time) *UniverseRefresher {
	return &UniverseRefresher{
		store:        store,
		provider:     provider,
		cache:        cache,
		logger:       logger.WithField("component", "universe"),
		maxAge:       maxAge,
		defaultStart: models.Day(defaultStart),
		now:          time.Now,
	}
}

// Run refreshes the calendar first (the cheapest dependency of every
// later phase), then the stock universe.
func (ur *UniverseRefresher) Run(ctx context.Context, target time.Time) error {
	if err := ur.refreshCalendar(ctx, target); err != nil {
		return err
	}
	return ur.refreshStocks(ctx)
}

func (ur *UniverseRefresher) refreshCalendar(ctx context.Context, target time.Time) error {
	horizon := models.Day(target.Add(calendarHorizon))

	latest, err := ur.store.LatestCalendarDate(ctx, calendarMarket)
	if err != nil {
		return err
	}
	if !latest.IsZero() && !latest.Before(horizon) {
		ur.logger.Debug("Trading calendar already current")
		return nil
	}

	start := ur.defaultStart
	if !latest.IsZero() {
		start = latest.AddDate(0, 0, 1)
	}

	days, err := ur.provider.FetchCalendar(ctx, calendarMarket, start, horizon)
	if err != nil {
		return err
	}
	if err := ur.store.UpsertCalendar(ctx, days); err != nil {
		return err
	}

	ur.logger.WithFields(logrus.Fields{
		"from": start.Format(models.DateFormat),
		"to":   horizon.Format(models.DateFormat),
		"days": len(days),
	}).Info("Trading calendar refreshed")

	return nil
}

func (ur *UniverseRefresher) refreshStocks(ctx context.Context) error {
	if at, ok := ur.cache.GetUniverseRefreshedAt(ctx); ok {
		if ur.now().Sub(at) < ur.maxAge {
			ur.logger.WithField("refreshed_at", at).Debug("Stock list fresh, skipping refresh")
			return nil
		}
	}

	stocks, err := ur.provider.FetchStockList(ctx)
	if err != nil {
		return err
	}
	if len(stocks) == 0 {
		ur.logger.Warn("Stock list fetch returned nothing, keeping existing universe")
		return nil
	}

	if err := ur.store.UpsertStocks(ctx, stocks); err != nil {
		return err
	}
	ur.cache.SetUniverseRefreshedAt(ctx, ur.now())

	ur.logger.WithField("count", len(stocks)).Info("Stock universe refreshed")
	return nil
}
