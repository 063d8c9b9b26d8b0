package sync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stock-sync/pkg/models"
)

func seedSeries(store *fakeStore, symbol string, derived bool) {
	bars := []*models.DailyBar{
		{Symbol: symbol, Frequency: "1d", Date: day("2024-01-08"), High: 10.1, Low: 9.9, Close: 10},
		{Symbol: symbol, Frequency: "1d", Date: day("2024-01-09"), High: 10.6, Low: 10.0, Close: 10.5},
		{Symbol: symbol, Frequency: "1d", Date: day("2024-01-10"), High: 10.5, Low: 10.1, Close: 10.2},
	}
	if derived {
		ApplyDerived(bars, nil)
	}
	store.putBars(bars)
}

func TestQualityCleanSampleSkipsBackfill(t *testing.T) {
	store := newFakeStore()
	stocks := testStocks("S1", "S2")
	for _, s := range stocks {
		seedSeries(store, s.Symbol, true)
	}

	qb := NewQualityBackfiller(store, testLogger(), 10, 50, day("2020-01-01"))
	report, err := qb.Run(context.Background(), stocks, day("2024-01-10"))
	require.NoError(t, err)

	assert.Equal(t, 2, report.Sampled)
	assert.Zero(t, report.SampledNeeding)
	assert.Zero(t, report.Processed)
	assert.Zero(t, report.RowsUpdated)
}

func TestQualityBackfillsDriftedUniverse(t *testing.T) {
	store := newFakeStore()
	stocks := testStocks("S1", "S2")
	seedSeries(store, "S1", false) // raw bars, derived never computed
	seedSeries(store, "S2", true)

	qb := NewQualityBackfiller(store, testLogger(), 10, 50, day("2020-01-01"))
	report, err := qb.Run(context.Background(), stocks, day("2024-01-10"))
	require.NoError(t, err)

	assert.Equal(t, 1, report.SampledNeeding)
	assert.Equal(t, 2, report.Processed)
	// Rows past the first of S1's series needed their previous close.
	assert.Equal(t, 2, report.RowsUpdated)

	bars, err := store.GetBars(context.Background(), "S1", "1d", day("2024-01-01"), day("2024-01-31"))
	require.NoError(t, err)
	require.Len(t, bars, 3)
	assert.Nil(t, bars[0].PrevClose)
	require.NotNil(t, bars[1].PrevClose)
	assert.Equal(t, 10.0, *bars[1].PrevClose)
	require.NotNil(t, bars[2].PrevClose)
	assert.Equal(t, 10.5, *bars[2].PrevClose)
}

func TestQualityBackfillIdempotent(t *testing.T) {
	store := newFakeStore()
	stocks := testStocks("S1")
	seedSeries(store, "S1", false)

	qb := NewQualityBackfiller(store, testLogger(), 10, 50, day("2020-01-01"))

	first, err := qb.Run(context.Background(), stocks, day("2024-01-10"))
	require.NoError(t, err)
	assert.Equal(t, 2, first.RowsUpdated)

	second, err := qb.Run(context.Background(), stocks, day("2024-01-10"))
	require.NoError(t, err)
	assert.Zero(t, second.SampledNeeding)
	assert.Zero(t, second.RowsUpdated)
}

func TestQualityBatchedUpdates(t *testing.T) {
	store := newFakeStore()
	var bars []*models.DailyBar
	d := day("2024-01-01")
	for i := 0; i < 7; i++ {
		bars = append(bars, &models.DailyBar{
			Symbol: "S1", Frequency: "1d", Date: d.AddDate(0, 0, i),
			High: 10.5, Low: 9.5, Close: 10,
		})
	}
	store.putBars(bars)

	// batchSize 2 forces multiple update batches over 6 drifted rows.
	qb := NewQualityBackfiller(store, testLogger(), 10, 2, day("2020-01-01"))
	report, err := qb.Run(context.Background(), testStocks("S1"), day("2024-01-10"))
	require.NoError(t, err)

	assert.Equal(t, 6, report.RowsUpdated)

	got, _ := store.GetBars(context.Background(), "S1", "1d", day("2024-01-01"), day("2024-01-31"))
	for i, b := range got {
		if i == 0 {
			assert.False(t, b.HasDerived())
			continue
		}
		assert.True(t, b.HasDerived(), "row %d", i)
	}
}
