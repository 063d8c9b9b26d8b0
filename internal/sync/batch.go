package sync

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/stock-sync/pkg/models"
)

// Outcome is the per-entity result reported by an EntityFn.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeSkipped
)

// EntityFn does one entity's unit of work inside an open transaction.
// Returning an error rolls back only this entity's writes.
type EntityFn func(ctx context.Context, tx StoreTx, stock *models.Stock) (Outcome, error)

// BatchResult aggregates per-entity outcomes across a run.
type BatchResult struct {
	Success int `json:"success"`
	Errors  int `json:"errors"`
	Skipped int `json:"skipped"`
}

// Total returns the number of entities processed.
func (r *BatchResult) Total() int {
	return r.Success + r.Errors + r.Skipped
}

// BatchRunner executes entity work in fixed-size chunks, one transaction
// per chunk, with per-entity savepoints so one bad entity never aborts
// its chunk. A chunk-level error (storage loss) is fatal and propagates.
type BatchRunner struct {
	store     Store
	logger    *logrus.Entry
	chunkSize int
}

// NewBatchRunner creates a BatchRunner.
func NewBatchRunner(store Store, logger *logrus.Logger, chunkSize int) *BatchRunner {
	if chunkSize <= 0 {
		chunkSize = 50
	}
	return &BatchRunner{
		store:     store,
		logger:    logger.WithField("component", "batch-runner"),
		chunkSize: chunkSize,
	}
}

// Run processes all entities. Cancellation is honored between entity
// units, never inside one, so in-flight entities always reach a terminal
// state.
func (br *BatchRunner) Run(ctx context.Context, stocks []*models.Stock, fn EntityFn) (*BatchResult, error) {
	result := &BatchResult{}

	for offset := 0; offset < len(stocks); offset += br.chunkSize {
		end := offset + br.chunkSize
		if end > len(stocks) {
			end = len(stocks)
		}
		chunk := stocks[offset:end]

		if err := ctx.Err(); err != nil {
			return result, err
		}

		if err := br.runChunk(ctx, chunk, fn, result); err != nil {
			return result, fmt.Errorf("chunk starting at %d failed: %w", offset, err)
		}

		br.logger.WithFields(logrus.Fields{
			"processed": result.Total(),
			"total":     len(stocks),
			"errors":    result.Errors,
		}).Debug("Chunk committed")
	}

	return result, nil
}

func (br *BatchRunner) runChunk(ctx context.Context, chunk []*models.Stock, fn EntityFn, result *BatchResult) error {
	return br.store.RunInTx(ctx, func(tx StoreTx) error {
		for _, stock := range chunk {
			name, err := tx.Savepoint(ctx)
			if err != nil {
				return err
			}

			outcome, workErr := fn(ctx, tx, stock)
			if workErr != nil {
				if rbErr := tx.RollbackTo(ctx, name); rbErr != nil {
					return fmt.Errorf("rollback to savepoint failed: %v (entity error: %v)", rbErr, workErr)
				}
				result.Errors++
				br.logger.WithError(workErr).WithField("symbol", stock.Symbol).Warn("Entity failed, isolated")
				continue
			}

			if err := tx.Release(ctx, name); err != nil {
				return err
			}

			switch outcome {
			case OutcomeSkipped:
				result.Skipped++
			default:
				result.Success++
			}
		}
		return nil
	})
}
