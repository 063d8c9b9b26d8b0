package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stock-sync/pkg/models"
)

func newExtendedSyncer(store *fakeStore, provider *fakeProvider, bulkThreshold int) *ExtendedSyncer {
	runner := NewBatchRunner(store, testLogger(), 50)
	return NewExtendedSyncer(store, provider, runner, testLogger(), bulkThreshold, time.Hour)
}

func valuation(symbol string, date time.Time) *models.ValuationRecord {
	return &models.ValuationRecord{Symbol: symbol, Date: date, PERatio: 12.5, MarketCap: 1e10}
}

func seedValuation(store *fakeStore, symbol string, date time.Time) {
	if store.valuations[symbol] == nil {
		store.valuations[symbol] = make(map[time.Time]*models.ValuationRecord)
	}
	store.valuations[symbol][models.Day(date)] = valuation(symbol, date)
}

func TestExtendedRunHappyPath(t *testing.T) {
	target := day("2024-01-15")
	store := newFakeStore()
	provider := newFakeProvider()
	for _, sym := range []string{"S1", "S2"} {
		provider.valuations[sym] = valuation(sym, target)
		provider.fundamentals[sym] = []*models.FundamentalsRecord{
			{Symbol: sym, ReportDate: day("2023-12-31"), ReportType: "Q4", Revenue: 1e9},
		}
		provider.actions[sym] = []*models.CorporateAction{
			{Symbol: sym, ExDate: day("2023-06-15"), CashDividend: 0.5},
		}
	}

	es := newExtendedSyncer(store, provider, 100)
	result, err := es.Run(context.Background(), "session-1", testStocks("S1", "S2"), target)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Success)
	assert.Zero(t, result.Errors)

	statuses, err := store.GetExtendedStatuses(context.Background(), models.SyncTypeExtended, target)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	for _, s := range statuses {
		assert.Equal(t, models.StatusCompleted, s.Status)
		assert.Equal(t, "session-1", s.SessionID)
		assert.True(t, s.Terminal())
		assert.Equal(t, 3, s.Records) // valuation + fundamentals + action
	}

	// Valuation persisted for the target date.
	assert.NotNil(t, store.valuations["S1"][target])
	assert.NotNil(t, store.valuations["S2"][target])
}

func TestExtendedRunResumesSkippingCompleted(t *testing.T) {
	target := day("2024-01-15")
	store := newFakeStore()

	// S1 completed by a previous run, corroborated by a valuation row.
	store.putStatus(&models.SyncStatus{
		Symbol: "S1", SyncType: models.SyncTypeExtended, TargetDate: target,
		Status: models.StatusCompleted,
	})
	seedValuation(store, "S1", target)

	provider := newFakeProvider()
	provider.valuations["S2"] = valuation("S2", target)

	es := newExtendedSyncer(store, provider, 100)
	result, err := es.Run(context.Background(), "session-2", testStocks("S1", "S2"), target)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Success)
	assert.Equal(t, 1, result.Skipped)

	// The completed entity kept its original session.
	statuses, _ := store.GetExtendedStatuses(context.Background(), models.SyncTypeExtended, target)
	assert.NotEqual(t, "session-2", statuses["S1"].SessionID)
	assert.Equal(t, "session-2", statuses["S2"].SessionID)
}

func TestExtendedRunAllCompletedShortCircuits(t *testing.T) {
	target := day("2024-01-15")
	store := newFakeStore()
	for _, sym := range []string{"S1", "S2"} {
		store.putStatus(&models.SyncStatus{
			Symbol: sym, SyncType: models.SyncTypeExtended, TargetDate: target,
			Status: models.StatusCompleted,
		})
		seedValuation(store, sym, target)
	}

	provider := newFakeProvider()
	es := newExtendedSyncer(store, provider, 100)

	result, err := es.Run(context.Background(), "session-3", testStocks("S1", "S2"), target)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Skipped)
	assert.Zero(t, result.Success)
	assert.Zero(t, provider.callCount("valuation"))
}

func TestExtendedDowngradesUncorroboratedCompleted(t *testing.T) {
	target := day("2024-01-15")
	store := newFakeStore()

	// Completed marker with no backing valuation row: must be redone.
	store.putStatus(&models.SyncStatus{
		Symbol: "S1", SyncType: models.SyncTypeExtended, TargetDate: target,
		Status: models.StatusCompleted,
	})

	provider := newFakeProvider()
	provider.valuations["S1"] = valuation("S1", target)

	es := newExtendedSyncer(store, provider, 100)
	result, err := es.Run(context.Background(), "session-4", testStocks("S1"), target)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Success)
	assert.NotNil(t, store.valuations["S1"][target])
}

func TestExtendedRequeuesStaleProcessing(t *testing.T) {
	target := day("2024-01-15")
	store := newFakeStore()

	// Processing row last touched two hours ago: the holding run is dead.
	stale := &models.SyncStatus{
		Symbol: "S1", SyncType: models.SyncTypeExtended, TargetDate: target,
		Status: models.StatusProcessing,
	}
	stale.UpdatedAt = time.Now().Add(-2 * time.Hour)
	store.statuses[statusKey("S1", models.SyncTypeExtended, target)] = stale

	provider := newFakeProvider()
	provider.valuations["S1"] = valuation("S1", target)

	es := newExtendedSyncer(store, provider, 100)
	result, err := es.Run(context.Background(), "session-5", testStocks("S1"), target)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Success)
	statuses, _ := store.GetExtendedStatuses(context.Background(), models.SyncTypeExtended, target)
	assert.Equal(t, models.StatusCompleted, statuses["S1"].Status)
}

func TestExtendedBulkPathAboveThreshold(t *testing.T) {
	target := day("2024-01-15")
	store := newFakeStore()
	provider := newFakeProvider()
	provider.bulk = []*models.ValuationRecord{
		valuation("S1", target),
		valuation("S2", target),
		valuation("S3", target),
	}

	es := newExtendedSyncer(store, provider, 2)
	result, err := es.Run(context.Background(), "session-6", testStocks("S1", "S2", "S3"), target)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Success)
	assert.Equal(t, 1, provider.callCount("valuations_bulk"))
	assert.Zero(t, provider.callCount("valuation"))
}

func TestExtendedBulkFallsBackOnError(t *testing.T) {
	target := day("2024-01-15")
	store := newFakeStore()
	provider := newFakeProvider()
	provider.bulkErr = assert.AnError
	provider.valuations["S1"] = valuation("S1", target)
	provider.valuations["S2"] = valuation("S2", target)

	es := newExtendedSyncer(store, provider, 2)
	result, err := es.Run(context.Background(), "session-7", testStocks("S1", "S2"), target)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Success)
	assert.Equal(t, 1, provider.callCount("valuations_bulk"))
	assert.Equal(t, 2, provider.callCount("valuation"))
}

func TestExtendedPartialAndFailedStatuses(t *testing.T) {
	target := day("2024-01-15")
	store := newFakeStore()
	provider := newFakeProvider()

	// S1: fundamentals only. S2: nothing at all.
	provider.fundamentals["S1"] = []*models.FundamentalsRecord{
		{Symbol: "S1", ReportDate: day("2023-12-31"), ReportType: "Q4", NetProfit: 5e8},
	}

	es := newExtendedSyncer(store, provider, 100)
	_, err := es.Run(context.Background(), "session-8", testStocks("S1", "S2"), target)
	require.NoError(t, err)

	statuses, _ := store.GetExtendedStatuses(context.Background(), models.SyncTypeExtended, target)
	assert.Equal(t, models.StatusPartial, statuses["S1"].Status)
	assert.Equal(t, "valuation", statuses["S1"].Reason)
	assert.Equal(t, models.StatusFailed, statuses["S2"].Status)
	assert.Equal(t, "valuation,fundamentals", statuses["S2"].Reason)
}

func TestExtendedNotYetListedReason(t *testing.T) {
	target := day("2024-01-15")
	store := newFakeStore()
	provider := newFakeProvider()

	stock := activeStock("301999.SZ", "2024-06-01")
	es := newExtendedSyncer(store, provider, 100)
	_, err := es.Run(context.Background(), "session-9", []*models.Stock{stock}, target)
	require.NoError(t, err)

	statuses, _ := store.GetExtendedStatuses(context.Background(), models.SyncTypeExtended, target)
	require.NotNil(t, statuses["301999.SZ"])
	assert.Equal(t, models.StatusFailed, statuses["301999.SZ"].Status)
	assert.Equal(t, "not yet listed", statuses["301999.SZ"].Reason)
}

func TestExtendedInvalidRecordsNotPersisted(t *testing.T) {
	target := day("2024-01-15")
	store := newFakeStore()
	provider := newFakeProvider()

	// All-zero records fail core-indicator validation and are dropped.
	provider.valuations["S1"] = &models.ValuationRecord{Symbol: "S1", Date: target}
	provider.fundamentals["S1"] = []*models.FundamentalsRecord{
		{Symbol: "S1", ReportDate: day("2023-12-31"), ReportType: "Q4"},
	}

	es := newExtendedSyncer(store, provider, 100)
	_, err := es.Run(context.Background(), "session-10", testStocks("S1"), target)
	require.NoError(t, err)

	assert.Empty(t, store.valuations["S1"])
	assert.Empty(t, store.fundamentals)

	statuses, _ := store.GetExtendedStatuses(context.Background(), models.SyncTypeExtended, target)
	assert.Equal(t, models.StatusFailed, statuses["S1"].Status)
}
