package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stock-sync/pkg/models"
)

func TestDeriveBarFirstRowNeutral(t *testing.T) {
	b := &models.DailyBar{Open: 10, High: 11, Low: 9, Close: 10.5}

	deriveBar(b, nil)

	assert.Nil(t, b.PrevClose)
	assert.Zero(t, b.ChangeAmount)
	assert.Zero(t, b.ChangePercent)
	assert.Zero(t, b.Amplitude)
	assert.Nil(t, b.HighLimit)
	assert.Nil(t, b.LowLimit)
	assert.False(t, b.IsLimitUp)
	assert.False(t, b.IsLimitDown)
	assert.False(t, b.HasDerived())
}

func TestDeriveBarMath(t *testing.T) {
	prev := 10.0
	b := &models.DailyBar{Open: 10.2, High: 11, Low: 10.1, Close: 11}

	deriveBar(b, &prev)

	require.NotNil(t, b.PrevClose)
	assert.Equal(t, 10.0, *b.PrevClose)
	assert.Equal(t, 1.0, b.ChangeAmount)
	assert.Equal(t, 10.0, b.ChangePercent)
	assert.Equal(t, 9.0, b.Amplitude) // (11 - 10.1) / 10 * 100
	require.NotNil(t, b.HighLimit)
	require.NotNil(t, b.LowLimit)
	assert.Equal(t, 11.0, *b.HighLimit)
	assert.Equal(t, 9.0, *b.LowLimit)
	assert.True(t, b.IsLimitUp) // close reached the band edge
	assert.False(t, b.IsLimitDown)
}

func TestDeriveBarLimitDown(t *testing.T) {
	prev := 20.0
	b := &models.DailyBar{Open: 19, High: 19, Low: 18, Close: 18}

	deriveBar(b, &prev)

	require.NotNil(t, b.LowLimit)
	assert.Equal(t, 18.0, *b.LowLimit)
	assert.True(t, b.IsLimitDown)
	assert.False(t, b.IsLimitUp)
}

func TestDeriveBarRounding(t *testing.T) {
	prev := 3.33
	b := &models.DailyBar{High: 3.5, Low: 3.3, Close: 3.41}

	deriveBar(b, &prev)

	require.NotNil(t, b.HighLimit)
	require.NotNil(t, b.LowLimit)
	assert.Equal(t, 3.66, *b.HighLimit) // round2(3.663)
	assert.Equal(t, 3.0, *b.LowLimit)   // round2(2.997)
	assert.Equal(t, 0.08, b.ChangeAmount)
	assert.Equal(t, 2.4024, b.ChangePercent) // round4(0.08/3.33*100)
}

func TestApplyDerivedChains(t *testing.T) {
	bars := []*models.DailyBar{
		{Date: day("2024-01-02"), Close: 10},
		{Date: day("2024-01-03"), Close: 10.5},
		{Date: day("2024-01-04"), Close: 10.2},
	}

	ApplyDerived(bars, nil)

	assert.Nil(t, bars[0].PrevClose)
	require.NotNil(t, bars[1].PrevClose)
	assert.Equal(t, 10.0, *bars[1].PrevClose)
	require.NotNil(t, bars[2].PrevClose)
	assert.Equal(t, 10.5, *bars[2].PrevClose)
	assert.Equal(t, -0.3, bars[2].ChangeAmount)
}

func TestApplyDerivedSeeded(t *testing.T) {
	seed := 9.8
	bars := []*models.DailyBar{
		{Date: day("2024-01-02"), Close: 10},
	}

	ApplyDerived(bars, &seed)

	require.NotNil(t, bars[0].PrevClose)
	assert.Equal(t, 9.8, *bars[0].PrevClose)
	assert.Equal(t, 0.2, bars[0].ChangeAmount)
}

func TestRecomputeDerivedIdempotent(t *testing.T) {
	bars := []*models.DailyBar{
		{Date: day("2024-01-02"), High: 10.1, Low: 9.9, Close: 10},
		{Date: day("2024-01-03"), High: 10.6, Low: 10.0, Close: 10.5},
		{Date: day("2024-01-04"), High: 10.5, Low: 10.1, Close: 10.2},
	}
	ApplyDerived(bars, nil)

	// Nothing drifted, so nothing to update.
	assert.Empty(t, RecomputeDerived(bars))

	// Wipe one row's derived columns and recompute exactly one update.
	bars[1].PrevClose = nil
	bars[1].ChangeAmount = 0
	bars[1].HighLimit = nil
	bars[1].LowLimit = nil

	updates := RecomputeDerived(bars)
	require.Len(t, updates, 1)
	assert.Equal(t, day("2024-01-03"), updates[0].Date)
	require.NotNil(t, updates[0].PrevClose)
	assert.Equal(t, 10.0, *updates[0].PrevClose)
}
