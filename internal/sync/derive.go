package sync

import (
	"math"

	"github.com/stock-sync/pkg/models"
)

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// deriveBar fills one bar's derived columns from the previous close.
// A nil prevClose marks the first row of a series: zero changes, no
// limit prices.
func deriveBar(b *models.DailyBar, prevClose *float64) {
	if prevClose == nil || *prevClose == 0 {
		b.PrevClose = nil
		b.ChangeAmount = 0
		b.ChangePercent = 0
		b.Amplitude = 0
		b.HighLimit = nil
		b.LowLimit = nil
		b.IsLimitUp = false
		b.IsLimitDown = false
		return
	}

	prev := *prevClose
	b.PrevClose = &prev
	b.ChangeAmount = round2(b.Close - prev)
	b.ChangePercent = round4((b.Close - prev) / prev * 100)
	b.Amplitude = round4((b.High - b.Low) / prev * 100)

	high := round2(prev * 1.1)
	low := round2(prev * 0.9)
	b.HighLimit = &high
	b.LowLimit = &low
	b.IsLimitUp = b.Close >= high
	b.IsLimitDown = b.Close <= low
}

// ApplyDerived computes derived fields across an ordered run of bars,
// seeded by the close of the last bar persisted before the run (nil when
// the run starts the series).
func ApplyDerived(bars []*models.DailyBar, seedClose *float64) {
	prev := seedClose
	for _, b := range bars {
		deriveBar(b, prev)
		c := b.Close
		prev = &c
	}
}

// RecomputeDerived rebuilds the derived columns for a full ordered
// history, returning one update per bar whose stored values drifted from
// the recomputation.
func RecomputeDerived(bars []*models.DailyBar) []*models.DerivedFields {
	var out []*models.DerivedFields
	var prev *float64

	for _, b := range bars {
		want := &models.DailyBar{High: b.High, Low: b.Low, Close: b.Close}
		deriveBar(want, prev)

		if derivedDiffers(b, want) {
			out = append(out, &models.DerivedFields{
				Date:          b.Date,
				PrevClose:     want.PrevClose,
				ChangeAmount:  want.ChangeAmount,
				ChangePercent: want.ChangePercent,
				Amplitude:     want.Amplitude,
				HighLimit:     want.HighLimit,
				LowLimit:      want.LowLimit,
				IsLimitUp:     want.IsLimitUp,
				IsLimitDown:   want.IsLimitDown,
			})
		}

		c := b.Close
		prev = &c
	}

	return out
}

func derivedDiffers(have, want *models.DailyBar) bool {
	if !floatPtrEq(have.PrevClose, want.PrevClose) {
		return true
	}
	if !floatPtrEq(have.HighLimit, want.HighLimit) || !floatPtrEq(have.LowLimit, want.LowLimit) {
		return true
	}
	return have.ChangeAmount != want.ChangeAmount ||
		have.ChangePercent != want.ChangePercent ||
		have.Amplitude != want.Amplitude ||
		have.IsLimitUp != want.IsLimitUp ||
		have.IsLimitDown != want.IsLimitDown
}

func floatPtrEq(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
