package models

import "time"

// DailyBar is one OHLCV row for a (symbol, date, frequency) key. The
// derived columns are computed from the previous row of the same series;
// the first row of a series has no previous close and keeps the neutral
// defaults (zero change, nil limits).
type DailyBar struct {
	Symbol    string    `json:"symbol"`
	Date      time.Time `json:"date"`
	Frequency string    `json:"frequency"` // 1d only for now

	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
	Amount float64 `json:"amount"`

	// Derived from the previous bar.
	PrevClose     *float64 `json:"prev_close,omitempty"`
	ChangeAmount  float64  `json:"change_amount"`
	ChangePercent float64  `json:"change_percent"`
	Amplitude     float64  `json:"amplitude"`
	HighLimit     *float64 `json:"high_limit,omitempty"`
	LowLimit      *float64 `json:"low_limit,omitempty"`
	IsLimitUp     bool     `json:"is_limit_up"`
	IsLimitDown   bool     `json:"is_limit_down"`

	TurnoverRate float64 `json:"turnover_rate,omitempty"`

	Source       string `json:"source"`
	QualityScore int    `json:"quality_score"`
}

// HasDerived reports whether the derived columns have been filled in.
// Rows past the first of a series must carry a previous close.
func (b *DailyBar) HasDerived() bool {
	return b.PrevClose != nil
}

// DerivedFields carries a recomputed set of derived columns for one
// existing bar, keyed by date. Used by the quality backfill pass to
// bulk-update history without rewriting raw OHLCV.
type DerivedFields struct {
	Date          time.Time
	PrevClose     *float64
	ChangeAmount  float64
	ChangePercent float64
	Amplitude     float64
	HighLimit     *float64
	LowLimit      *float64
	IsLimitUp     bool
	IsLimitDown   bool
}

// SyncWindow is the date range an entity still needs fetched. Both ends
// are inclusive. A nil *SyncWindow means the entity is already current.
type SyncWindow struct {
	Start time.Time `json:"start_date"`
	End   time.Time `json:"end_date"`
}

// Days returns the calendar-day span of the window, inclusive.
func (w *SyncWindow) Days() int {
	return int(Day(w.End).Sub(Day(w.Start))/(24*time.Hour)) + 1
}

// Gap is a maximal contiguous run of expected-but-absent trading dates
// for one (symbol, frequency). Gaps are derived on each detection pass,
// never persisted.
type Gap struct {
	Symbol    string    `json:"symbol"`
	Frequency string    `json:"frequency"`
	Start     time.Time `json:"start_date"`
	End       time.Time `json:"end_date"`
}
