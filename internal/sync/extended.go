package sync

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/stock-sync/pkg/models"
)

// ExtendedSyncer syncs valuations, fundamentals and corporate actions
// for a target date, with durable per-entity progress so an interrupted
// run resumes where it stopped.
type ExtendedSyncer struct {
	store    Store
	provider Provider
	runner   *BatchRunner
	logger   *logrus.Entry

	bulkThreshold int
	staleAfter    time.Duration
}

// NewExtendedSyncer creates an ExtendedSyncer.
func NewExtendedSyncer(store Store, provider Provider, runner *BatchRunner, logger *logrus.Logger, bulkThreshold int, staleAfter time.Duration) *ExtendedSyncer {
	return &ExtendedSyncer{
		store:         store,
		provider:      provider,
		runner:        runner,
		logger:        logger.WithField("component", "extended-sync"),
		bulkThreshold: bulkThreshold,
		staleAfter:    staleAfter,
	}
}

// Pending returns the stocks whose extended sync for the target date has
// not completed, after self-healing the progress table: completed
// markers without backing data are downgraded, and processing rows
// abandoned by a dead run are requeued.
func (es *ExtendedSyncer) Pending(ctx context.Context, stocks []*models.Stock, target time.Time) ([]*models.Stock, error) {
	healed, err := es.store.DowngradeUncorroborated(ctx, models.SyncTypeExtended, target)
	if err != nil {
		return nil, err
	}
	if healed > 0 {
		es.logger.WithField("count", healed).Debug("Downgraded uncorroborated completed markers")
	}

	requeued, err := es.store.RequeueStaleProcessing(ctx, models.SyncTypeExtended, target, es.staleAfter)
	if err != nil {
		return nil, err
	}
	if requeued > 0 {
		es.logger.WithField("count", requeued).Info("Requeued stale processing entities")
	}

	statuses, err := es.store.GetExtendedStatuses(ctx, models.SyncTypeExtended, target)
	if err != nil {
		return nil, err
	}

	var pending []*models.Stock
	for _, stock := range stocks {
		s, ok := statuses[stock.Symbol]
		if ok && s.Status == models.StatusCompleted {
			continue
		}
		pending = append(pending, stock)
	}
	return pending, nil
}

// Run syncs extended data for the pending stocks. Above the bulk
// threshold one round-trip fetches every symbol's valuation for the
// date; below it (or when the bulk response is unusable) each entity is
// fetched on its own.
func (es *ExtendedSyncer) Run(ctx context.Context, sessionID string, stocks []*models.Stock, target time.Time) (*BatchResult, error) {
	pending, err := es.Pending(ctx, stocks, target)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return &BatchResult{Skipped: len(stocks)}, nil
	}

	var bulk map[string]*models.ValuationRecord
	if len(pending) >= es.bulkThreshold {
		bulk = es.fetchBulk(ctx, target)
	}

	result, err := es.runner.Run(ctx, pending, func(ctx context.Context, tx StoreTx, stock *models.Stock) (Outcome, error) {
		return es.syncOne(ctx, tx, stock, target, sessionID, bulk)
	})
	if err != nil {
		return result, err
	}

	result.Skipped += len(stocks) - len(pending)

	es.logger.WithFields(logrus.Fields{
		"target":  target.Format(models.DateFormat),
		"success": result.Success,
		"skipped": result.Skipped,
		"errors":  result.Errors,
		"bulk":    bulk != nil,
	}).Info("Extended sync finished")

	return result, nil
}

// fetchBulk attempts the single-round-trip valuation fetch. Any failure
// or empty payload falls back to per-entity fetching.
func (es *ExtendedSyncer) fetchBulk(ctx context.Context, target time.Time) map[string]*models.ValuationRecord {
	vals, err := es.provider.FetchValuationsBulk(ctx, target)
	if err != nil {
		es.logger.WithError(err).Warn("Bulk valuation fetch failed, falling back to per-entity")
		return nil
	}
	if len(vals) == 0 {
		es.logger.Warn("Bulk valuation fetch returned nothing, falling back to per-entity")
		return nil
	}

	out := make(map[string]*models.ValuationRecord, len(vals))
	for _, v := range vals {
		if v.Symbol != "" {
			out[v.Symbol] = v
		}
	}
	return out
}

// syncOne is the per-entity unit of 4 sub-steps: mark processing,
// attempt each sub-fetch independently, write what validated, and record
// the terminal status in the same savepoint scope as the data writes.
func (es *ExtendedSyncer) syncOne(ctx context.Context, tx StoreTx, stock *models.Stock, target time.Time, sessionID string, bulk map[string]*models.ValuationRecord) (Outcome, error) {
	if err := tx.UpsertStatus(ctx, &models.SyncStatus{
		Symbol:     stock.Symbol,
		SyncType:   models.SyncTypeExtended,
		TargetDate: target,
		Status:     models.StatusProcessing,
		SessionID:  sessionID,
	}); err != nil {
		return OutcomeSuccess, err
	}

	var missing []string
	records := 0

	valuation := es.valuationFor(ctx, stock.Symbol, target, bulk)
	if valuation.HasCoreIndicator() {
		if err := tx.UpsertValuation(ctx, valuation); err != nil {
			return OutcomeSuccess, err
		}
		records++
	} else {
		missing = append(missing, "valuation")
	}

	gotFundamentals := false
	reports, err := es.provider.FetchFundamentals(ctx, stock.Symbol)
	if err != nil {
		es.logger.WithError(err).WithField("symbol", stock.Symbol).Debug("Fundamentals fetch failed")
	}
	for _, r := range reports {
		if !r.HasCoreIndicator() {
			continue
		}
		if err := tx.UpsertFundamentals(ctx, r); err != nil {
			return OutcomeSuccess, err
		}
		gotFundamentals = true
		records++
	}
	if !gotFundamentals {
		missing = append(missing, "fundamentals")
	}

	actions, err := es.provider.FetchCorporateActions(ctx, stock.Symbol)
	if err != nil {
		es.logger.WithError(err).WithField("symbol", stock.Symbol).Debug("Corporate actions fetch failed")
	}
	if len(actions) > 0 {
		if err := tx.UpsertCorporateActions(ctx, actions); err != nil {
			return OutcomeSuccess, err
		}
		records += len(actions)
	}

	status := es.finalStatus(valuation.HasCoreIndicator(), gotFundamentals)

	// A symbol listed after the target date has no data by definition.
	reason := strings.Join(missing, ",")
	if status == models.StatusFailed && stock.ListDate.After(target) {
		reason = "not yet listed"
	} else if status == models.StatusFailed {
		es.logger.WithFields(logrus.Fields{
			"symbol":  stock.Symbol,
			"missing": reason,
		}).Warn("Extended sync produced no data")
	}

	if err := tx.UpsertStatus(ctx, &models.SyncStatus{
		Symbol:     stock.Symbol,
		SyncType:   models.SyncTypeExtended,
		TargetDate: target,
		Status:     status,
		Reason:     reason,
		SessionID:  sessionID,
		Records:    records,
	}); err != nil {
		return OutcomeSuccess, err
	}

	return OutcomeSuccess, nil
}

func (es *ExtendedSyncer) valuationFor(ctx context.Context, symbol string, target time.Time, bulk map[string]*models.ValuationRecord) *models.ValuationRecord {
	if bulk != nil {
		if v, ok := bulk[symbol]; ok {
			return v
		}
		return nil
	}

	v, err := es.provider.FetchValuation(ctx, symbol, target)
	if err != nil {
		es.logger.WithError(err).WithField("symbol", symbol).Debug("Valuation fetch failed")
		return nil
	}
	return v
}

// finalStatus: the valuation is the primary sub-fetch; fundamentals
// alone only earn a partial.
func (es *ExtendedSyncer) finalStatus(gotValuation, gotFundamentals bool) string {
	switch {
	case gotValuation:
		return models.StatusCompleted
	case gotFundamentals:
		return models.StatusPartial
	default:
		return models.StatusFailed
	}
}
