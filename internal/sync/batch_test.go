package sync

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stock-sync/pkg/models"
)

func testStocks(symbols ...string) []*models.Stock {
	out := make([]*models.Stock, len(symbols))
	for i, s := range symbols {
		out[i] = activeStock(s, "2019-01-01")
	}
	return out
}

func TestBatchRunnerIsolatesEntityFailure(t *testing.T) {
	store := newFakeStore()
	runner := NewBatchRunner(store, testLogger(), 50)
	stocks := testStocks("S1", "S2", "S3", "S4", "S5")

	result, err := runner.Run(context.Background(), stocks, func(ctx context.Context, tx StoreTx, stock *models.Stock) (Outcome, error) {
		if err := tx.UpsertBars(ctx, []*models.DailyBar{
			{Symbol: stock.Symbol, Frequency: "1d", Date: day("2024-01-10"), Close: 10},
		}); err != nil {
			return OutcomeSuccess, err
		}
		if stock.Symbol == "S3" {
			return OutcomeSuccess, errors.New("boom")
		}
		return OutcomeSuccess, nil
	})
	require.NoError(t, err)

	assert.Equal(t, 4, result.Success)
	assert.Equal(t, 1, result.Errors)
	assert.Equal(t, 5, result.Total())

	// The failed entity's writes rolled back; the rest committed.
	for _, sym := range []string{"S1", "S2", "S4", "S5"} {
		bars, err := store.GetBars(context.Background(), sym, "1d", day("2024-01-01"), day("2024-01-31"))
		require.NoError(t, err)
		assert.Len(t, bars, 1, sym)
	}
	bars, err := store.GetBars(context.Background(), "S3", "1d", day("2024-01-01"), day("2024-01-31"))
	require.NoError(t, err)
	assert.Empty(t, bars)
}

func TestBatchRunnerCountsSkipped(t *testing.T) {
	runner := NewBatchRunner(newFakeStore(), testLogger(), 2)
	stocks := testStocks("S1", "S2", "S3")

	result, err := runner.Run(context.Background(), stocks, func(ctx context.Context, tx StoreTx, stock *models.Stock) (Outcome, error) {
		if stock.Symbol == "S2" {
			return OutcomeSkipped, nil
		}
		return OutcomeSuccess, nil
	})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Success)
	assert.Equal(t, 1, result.Skipped)
	assert.Zero(t, result.Errors)
}

func TestBatchRunnerChunks(t *testing.T) {
	store := newFakeStore()
	runner := NewBatchRunner(store, testLogger(), 2)
	stocks := testStocks("S1", "S2", "S3", "S4", "S5")

	seen := 0
	result, err := runner.Run(context.Background(), stocks, func(ctx context.Context, tx StoreTx, stock *models.Stock) (Outcome, error) {
		seen++
		return OutcomeSuccess, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 5, seen)
	assert.Equal(t, 5, result.Success)
}

func TestBatchRunnerHonorsCancellation(t *testing.T) {
	runner := NewBatchRunner(newFakeStore(), testLogger(), 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := runner.Run(ctx, testStocks("S1", "S2"), func(ctx context.Context, tx StoreTx, stock *models.Stock) (Outcome, error) {
		t.Fatal("entity fn must not run after cancellation")
		return OutcomeSuccess, nil
	})
	require.Error(t, err)
	assert.Zero(t, result.Total())
}
