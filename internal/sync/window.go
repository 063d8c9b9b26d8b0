package sync

import (
	"context"
	"time"

	"github.com/stock-sync/pkg/models"
)

// RangeCalculator computes the date window an entity still needs
// fetched. The dominant steady-state outcome is "already current", which
// costs one cache hit or one indexed MAX(date) lookup.
type RangeCalculator struct {
	store        Store
	cache        Cache
	defaultStart time.Time
	maxSyncDays  int
	now          func() time.Time
}

// NewRangeCalculator creates a RangeCalculator.
func NewRangeCalculator(store Store, cache Cache, defaultStart time.Time, maxSyncDays int) *RangeCalculator {
	return &RangeCalculator{
		store:        store,
		cache:        cache,
		defaultStart: models.Day(defaultStart),
		maxSyncDays:  maxSyncDays,
		now:          time.Now,
	}
}

// ComputeWindow returns the window still missing for one series, nil if
// the series is already current through the target date.
//
// Cold-start entities begin at the later of the default epoch and the
// listing date, capped at maxSyncDays per run so one entity cannot
// monopolize a batch; the remainder is picked up by subsequent runs.
func (rc *RangeCalculator) ComputeWindow(ctx context.Context, stock *models.Stock, frequency string, target time.Time) (*models.SyncWindow, error) {
	target = models.Day(target)
	today := models.Day(rc.now())
	if target.After(today) {
		target = today
	}

	last, err := rc.lastDate(ctx, stock.Symbol, frequency)
	if err != nil {
		return nil, err
	}

	var start time.Time
	if last.IsZero() {
		start = rc.defaultStart
		if !stock.ListDate.IsZero() && stock.ListDate.After(start) {
			start = models.Day(stock.ListDate)
		}
	} else {
		start = last.AddDate(0, 0, 1)
	}

	if start.After(target) {
		return nil, nil
	}

	end := target
	if rc.maxSyncDays > 0 {
		capEnd := start.AddDate(0, 0, rc.maxSyncDays-1)
		if capEnd.Before(end) {
			end = capEnd
		}
	}

	return &models.SyncWindow{Start: start, End: end}, nil
}

func (rc *RangeCalculator) lastDate(ctx context.Context, symbol, frequency string) (time.Time, error) {
	if d, ok := rc.cache.GetLastDataDate(ctx, symbol, frequency); ok {
		return d, nil
	}

	d, err := rc.store.MaxBarDate(ctx, symbol, frequency)
	if err != nil {
		return time.Time{}, err
	}
	if !d.IsZero() {
		rc.cache.SetLastDataDate(ctx, symbol, frequency, d)
	}
	return d, nil
}
