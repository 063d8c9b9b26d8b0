package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stock-sync/pkg/models"
)

// PrimarySyncer performs the incremental daily-bar sync. Network fetches
// run on a small worker pool while all writes funnel through a single
// writer, keeping exactly one write transaction open at a time.
type PrimarySyncer struct {
	store    Store
	provider Provider
	cache    Cache
	ranges   *RangeCalculator
	logger   *logrus.Entry

	workers   int
	chunkSize int
}

// NewPrimarySyncer creates a PrimarySyncer.
func NewPrimarySyncer(store Store, provider Provider, cache Cache, ranges *RangeCalculator, logger *logrus.Logger, workers, chunkSize int) *PrimarySyncer {
	if workers <= 0 {
		workers = 3
	}
	if chunkSize <= 0 {
		chunkSize = 50
	}
	return &PrimarySyncer{
		store:     store,
		provider:  provider,
		cache:     cache,
		ranges:    ranges,
		logger:    logger.WithField("component", "primary-sync"),
		workers:   workers,
		chunkSize: chunkSize,
	}
}

type fetchResult struct {
	stock  *models.Stock
	window *models.SyncWindow
	bars   []*models.DailyBar
	err    error
}

// Run syncs one frequency for all stocks up to the target date.
func (ps *PrimarySyncer) Run(ctx context.Context, stocks []*models.Stock, frequency string, target time.Time) (*BatchResult, error) {
	jobs := make(chan *models.Stock)
	// Buffered so workers never block if the writer bails out early.
	results := make(chan fetchResult, len(stocks))

	var wg sync.WaitGroup
	for i := 0; i < ps.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for stock := range jobs {
				results <- ps.fetchOne(ctx, stock, frequency, target)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, stock := range stocks {
			select {
			case jobs <- stock:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	result := &BatchResult{}
	buffer := make([]fetchResult, 0, ps.chunkSize)

	for r := range results {
		switch {
		case r.err != nil:
			result.Errors++
			ps.logger.WithError(r.err).WithField("symbol", r.stock.Symbol).Warn("Fetch failed")
		case r.window == nil:
			result.Skipped++
		default:
			buffer = append(buffer, r)
			if len(buffer) >= ps.chunkSize {
				if err := ps.flush(ctx, frequency, buffer, result); err != nil {
					return result, err
				}
				buffer = buffer[:0]
			}
		}
	}

	if len(buffer) > 0 {
		if err := ps.flush(ctx, frequency, buffer, result); err != nil {
			return result, err
		}
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}

	ps.logger.WithFields(logrus.Fields{
		"frequency": frequency,
		"success":   result.Success,
		"skipped":   result.Skipped,
		"errors":    result.Errors,
	}).Info("Primary sync finished")

	return result, nil
}

func (ps *PrimarySyncer) fetchOne(ctx context.Context, stock *models.Stock, frequency string, target time.Time) fetchResult {
	window, err := ps.ranges.ComputeWindow(ctx, stock, frequency, target)
	if err != nil {
		return fetchResult{stock: stock, err: err}
	}
	if window == nil {
		return fetchResult{stock: stock}
	}

	bars, err := ps.provider.FetchDaily(ctx, stock.Symbol, window.Start, window.End)
	if err != nil {
		return fetchResult{stock: stock, window: window, err: err}
	}

	return fetchResult{stock: stock, window: window, bars: bars}
}

// flush writes one chunk of fetched payloads in a single transaction,
// with a savepoint per symbol so one bad payload rolls back alone.
func (ps *PrimarySyncer) flush(ctx context.Context, frequency string, chunk []fetchResult, result *BatchResult) error {
	seeds := make(map[string]*float64, len(chunk))
	for _, r := range chunk {
		seed, err := ps.seedClose(ctx, r.stock.Symbol, frequency, r.window.Start)
		if err != nil {
			return err
		}
		seeds[r.stock.Symbol] = seed
	}

	err := ps.store.RunInTx(ctx, func(tx StoreTx) error {
		for _, r := range chunk {
			name, err := tx.Savepoint(ctx)
			if err != nil {
				return err
			}

			ApplyDerived(r.bars, seeds[r.stock.Symbol])

			if err := tx.UpsertBars(ctx, r.bars); err != nil {
				if rbErr := tx.RollbackTo(ctx, name); rbErr != nil {
					return fmt.Errorf("rollback to savepoint failed: %v (write error: %v)", rbErr, err)
				}
				result.Errors++
				ps.logger.WithError(err).WithField("symbol", r.stock.Symbol).Warn("Write failed, isolated")
				continue
			}

			if err := tx.Release(ctx, name); err != nil {
				return err
			}
			result.Success++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to flush chunk: %w", err)
	}

	// Cache updates only after the chunk is durable.
	for _, r := range chunk {
		if len(r.bars) > 0 {
			ps.cache.SetLastDataDate(ctx, r.stock.Symbol, frequency, r.bars[len(r.bars)-1].Date)
		}
	}

	return nil
}

// seedClose returns the close of the last bar persisted before the
// window, nil when the window starts the series.
func (ps *PrimarySyncer) seedClose(ctx context.Context, symbol, frequency string, windowStart time.Time) (*float64, error) {
	lookback := windowStart.AddDate(0, 0, -30)
	bars, err := ps.store.GetBars(ctx, symbol, frequency, lookback, windowStart.AddDate(0, 0, -1))
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, nil
	}
	c := bars[len(bars)-1].Close
	return &c, nil
}
